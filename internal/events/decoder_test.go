package events

import (
	"bytes"
	"testing"

	"zeitgeist/internal/ledger"
)

func testUser() ledger.PublicKey {
	var pk ledger.PublicKey
	copy(pk[:], bytes.Repeat([]byte{6}, 32))
	return pk
}

func TestDecodeLogs_RoundTrip(t *testing.T) {
	user := testUser()
	logs := []string{
		"Program 11111111111111111111111111111111 invoke [1]",
		EncodeEventData(TypePredictionPlaced, func(w *ledger.BorshWriter) {
			w.U64(42)
			w.PublicKey(user)
			w.U8(1)
			w.U64(5_000_000)
			w.I64(1700000000)
		}),
		"Program log: Instruction: PlacePrediction",
		EncodeEventData(TypeRoundCancelled, func(w *ledger.BorshWriter) {
			w.U64(42)
			_ = w.String("oracle outage")
			w.I64(1700000100)
		}),
	}

	decoded := NewDecoder(nil).DecodeLogs("sig1", 900, 1700000050, logs)
	if len(decoded) != 2 {
		t.Fatalf("decoded=%d want 2", len(decoded))
	}

	first := decoded[0]
	if first.Type != TypePredictionPlaced || first.LogIndex != 0 {
		t.Fatalf("first event %s idx=%d", first.Type, first.LogIndex)
	}
	placed, ok := first.Payload.(*PredictionPlaced)
	if !ok {
		t.Fatalf("payload type %T", first.Payload)
	}
	if placed.RoundID != 42 || placed.User != user || placed.Outcome != 1 || placed.Amount != 5_000_000 {
		t.Fatalf("payload mismatch: %+v", placed)
	}
	if first.Signature != "sig1" || first.Slot != 900 || first.BlockTime != 1700000050 {
		t.Fatalf("position mismatch: %+v", first)
	}

	second := decoded[1]
	if second.Type != TypeRoundCancelled || second.LogIndex != 1 {
		t.Fatalf("second event %s idx=%d", second.Type, second.LogIndex)
	}
	cancelled := second.Payload.(*RoundCancelled)
	if cancelled.Reason != "oracle outage" {
		t.Fatalf("reason=%q", cancelled.Reason)
	}
}

func TestDecodeLogs_SkipsUnknownAndMalformed(t *testing.T) {
	logs := []string{
		"Program data: !!!not-base64!!!",
		"Program data: AAAA",
		EncodeEventData("SomethingElse", func(w *ledger.BorshWriter) {
			w.U64(1)
		}),
		// Known discriminator with a truncated payload.
		EncodeEventData(TypeBettingClosed, func(w *ledger.BorshWriter) {
			w.U64(42)
		}),
	}
	decoded := NewDecoder(nil).DecodeLogs("sig2", 1, 0, logs)
	if len(decoded) != 0 {
		t.Fatalf("decoded=%d want 0", len(decoded))
	}
}

func TestDecodeLogs_LogIndexCountsDataLinesOnly(t *testing.T) {
	logs := []string{
		"Program log: noise",
		EncodeEventData("Unknown", func(w *ledger.BorshWriter) { w.U64(1) }),
		EncodeEventData(TypeBettingClosed, func(w *ledger.BorshWriter) {
			w.U64(7)
			w.U64(1000)
			w.U32(3)
			w.I64(1700000000)
		}),
	}
	decoded := NewDecoder(nil).DecodeLogs("sig3", 5, 0, logs)
	if len(decoded) != 1 {
		t.Fatalf("decoded=%d want 1", len(decoded))
	}
	// The unknown data line at position 0 still consumes a log index, so
	// a replay with a decoder that learns the event keeps indexes stable.
	if decoded[0].LogIndex != 1 {
		t.Fatalf("log index=%d want 1", decoded[0].LogIndex)
	}
}

func TestEventAccessors(t *testing.T) {
	user := testUser()
	ev := &Event{Type: TypeWinningsClaimed, Payload: &WinningsClaimed{RoundID: 9, User: user, Amount: 5}}
	if id, ok := ev.RoundID(); !ok || id != 9 {
		t.Fatalf("round id=%d ok=%v", id, ok)
	}
	if got, ok := ev.User(); !ok || got != user {
		t.Fatalf("user=%s ok=%v", got, ok)
	}

	ev = &Event{Type: TypeBettingClosed, Payload: &BettingClosed{RoundID: 3}}
	if _, ok := ev.User(); ok {
		t.Fatalf("betting closed should have no user")
	}
}

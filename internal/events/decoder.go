package events

import (
	"encoding/base64"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"zeitgeist/internal/ledger"
)

const programDataPrefix = "Program data: "

// Decoder turns raw transaction log lines into typed events. Decoding is
// pure; the decoder never touches the network or the database.
type Decoder struct {
	logger *zap.Logger
	byDisc map[[8]byte]func([]byte) (string, any, error)
}

func NewDecoder(logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Decoder{
		logger: logger,
		byDisc: map[[8]byte]func([]byte) (string, any, error){},
	}
	d.register(TypeRoundCreated, decodeRoundCreated)
	d.register(TypePredictionPlaced, decodePredictionPlaced)
	d.register(TypeBettingClosed, decodeBettingClosed)
	d.register(TypeRoundSettled, decodeRoundSettled)
	d.register(TypeWinningsClaimed, decodeWinningsClaimed)
	d.register(TypeRoundCancelled, decodeRoundCancelled)
	return d
}

func (d *Decoder) register(name string, decode func([]byte) (any, error)) {
	d.byDisc[ledger.EventDiscriminator(name)] = func(data []byte) (string, any, error) {
		payload, err := decode(data)
		return name, payload, err
	}
}

// DecodeLogs scans a transaction's log lines in emission order and
// returns the recognized events. Lines that are not program data, carry
// an unknown discriminator, or fail base64 decoding are skipped; a
// payload that matches a known discriminator but fails Borsh decoding is
// skipped with a warning so one malformed emission cannot stall the
// stream.
func (d *Decoder) DecodeLogs(signature string, slot uint64, blockTime int64, logs []string) []*Event {
	var out []*Event
	logIndex := 0
	for _, line := range logs {
		rest, ok := strings.CutPrefix(line, programDataPrefix)
		if !ok {
			continue
		}
		idx := logIndex
		logIndex++
		raw, err := base64.StdEncoding.DecodeString(rest)
		if err != nil || len(raw) < 8 {
			continue
		}
		var disc [8]byte
		copy(disc[:], raw[:8])
		decode, ok := d.byDisc[disc]
		if !ok {
			continue
		}
		name, payload, err := decode(raw[8:])
		if err != nil {
			d.logger.Warn("event payload decode failed",
				zap.String("event", name),
				zap.String("signature", signature),
				zap.Int("log_index", idx),
				zap.Error(err))
			continue
		}
		out = append(out, &Event{
			Type:      name,
			Signature: signature,
			LogIndex:  idx,
			Slot:      slot,
			BlockTime: blockTime,
			Payload:   payload,
		})
	}
	return out
}

func decodeRoundCreated(data []byte) (any, error) {
	r := ledger.NewBorshReader(data)
	var (
		ev  RoundCreated
		err error
	)
	if ev.RoundID, err = r.U64(); err != nil {
		return nil, err
	}
	if ev.Creator, err = r.PublicKey(); err != nil {
		return nil, err
	}
	if ev.StartTime, err = r.I64(); err != nil {
		return nil, err
	}
	if ev.EndTime, err = r.I64(); err != nil {
		return nil, err
	}
	if ev.NumOutcomes, err = r.U8(); err != nil {
		return nil, err
	}
	if ev.Description, err = r.String(); err != nil {
		return nil, err
	}
	return &ev, nil
}

func decodePredictionPlaced(data []byte) (any, error) {
	r := ledger.NewBorshReader(data)
	var (
		ev  PredictionPlaced
		err error
	)
	if ev.RoundID, err = r.U64(); err != nil {
		return nil, err
	}
	if ev.User, err = r.PublicKey(); err != nil {
		return nil, err
	}
	if ev.Outcome, err = r.U8(); err != nil {
		return nil, err
	}
	if ev.Amount, err = r.U64(); err != nil {
		return nil, err
	}
	if ev.Timestamp, err = r.I64(); err != nil {
		return nil, err
	}
	return &ev, nil
}

func decodeBettingClosed(data []byte) (any, error) {
	r := ledger.NewBorshReader(data)
	var (
		ev  BettingClosed
		err error
	)
	if ev.RoundID, err = r.U64(); err != nil {
		return nil, err
	}
	if ev.TotalPool, err = r.U64(); err != nil {
		return nil, err
	}
	if ev.TotalPredictions, err = r.U32(); err != nil {
		return nil, err
	}
	if ev.Timestamp, err = r.I64(); err != nil {
		return nil, err
	}
	return &ev, nil
}

func decodeRoundSettled(data []byte) (any, error) {
	r := ledger.NewBorshReader(data)
	var (
		ev  RoundSettled
		err error
	)
	if ev.RoundID, err = r.U64(); err != nil {
		return nil, err
	}
	if ev.WinningOutcome, err = r.U8(); err != nil {
		return nil, err
	}
	if ev.TotalPool, err = r.U64(); err != nil {
		return nil, err
	}
	if ev.WinningPool, err = r.U64(); err != nil {
		return nil, err
	}
	if ev.PlatformFee, err = r.U64(); err != nil {
		return nil, err
	}
	if ev.Timestamp, err = r.I64(); err != nil {
		return nil, err
	}
	return &ev, nil
}

func decodeWinningsClaimed(data []byte) (any, error) {
	r := ledger.NewBorshReader(data)
	var (
		ev  WinningsClaimed
		err error
	)
	if ev.RoundID, err = r.U64(); err != nil {
		return nil, err
	}
	if ev.User, err = r.PublicKey(); err != nil {
		return nil, err
	}
	if ev.Amount, err = r.U64(); err != nil {
		return nil, err
	}
	if ev.Timestamp, err = r.I64(); err != nil {
		return nil, err
	}
	return &ev, nil
}

func decodeRoundCancelled(data []byte) (any, error) {
	r := ledger.NewBorshReader(data)
	var (
		ev  RoundCancelled
		err error
	)
	if ev.RoundID, err = r.U64(); err != nil {
		return nil, err
	}
	if ev.Reason, err = r.String(); err != nil {
		return nil, err
	}
	if ev.Timestamp, err = r.I64(); err != nil {
		return nil, err
	}
	return &ev, nil
}

// EncodeEventData builds a "Program data:" payload for an event, used by
// tests to exercise the decode path end to end.
func EncodeEventData(name string, write func(w *ledger.BorshWriter)) string {
	var w ledger.BorshWriter
	disc := ledger.EventDiscriminator(name)
	w.Raw(disc[:])
	write(&w)
	return fmt.Sprintf("%s%s", programDataPrefix, base64.StdEncoding.EncodeToString(w.Bytes()))
}

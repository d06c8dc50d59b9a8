package notify

import (
	"testing"
)

func drain(c chan Message) []Message {
	var out []Message
	for {
		select {
		case msg := <-c:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestHub_ChannelRouting(t *testing.T) {
	hub := NewHub(nil)
	global := hub.Subscribe([]string{ChannelGlobal}, 8)
	rounds := hub.Subscribe([]string{ChannelRounds}, 8)
	prices := hub.Subscribe([]string{ChannelPrices}, 8)
	defer hub.Unsubscribe(global)
	defer hub.Unsubscribe(rounds)
	defer hub.Unsubscribe(prices)

	hub.Publish("round:created", map[string]any{"round_id": 1})
	hub.Publish(TopicPriceUpdate, map[string]any{"symbol": "SOL/USD"})

	if got := drain(global.C); len(got) != 2 {
		t.Fatalf("global got %d messages, want 2", len(got))
	}
	roundMsgs := drain(rounds.C)
	if len(roundMsgs) != 1 || roundMsgs[0].Topic != "round:created" {
		t.Fatalf("rounds got %v", roundMsgs)
	}
	priceMsgs := drain(prices.C)
	if len(priceMsgs) != 1 || priceMsgs[0].Topic != TopicPriceUpdate {
		t.Fatalf("prices got %v", priceMsgs)
	}
}

func TestHub_SetChannel(t *testing.T) {
	hub := NewHub(nil)
	sub := hub.Subscribe([]string{ChannelRounds}, 8)
	defer hub.Unsubscribe(sub)

	hub.Publish(TopicPriceUpdate, nil)
	if got := drain(sub.C); len(got) != 0 {
		t.Fatalf("got price update without the prices channel")
	}

	sub.SetChannel(ChannelPrices, true)
	hub.Publish(TopicPriceUpdate, nil)
	if got := drain(sub.C); len(got) != 1 {
		t.Fatalf("got %d messages after enabling prices", len(got))
	}

	sub.SetChannel(ChannelPrices, false)
	hub.Publish(TopicPriceUpdate, nil)
	if got := drain(sub.C); len(got) != 0 {
		t.Fatalf("still receiving after disabling prices")
	}
}

func TestHub_SlowSubscriberDropsNotBlocks(t *testing.T) {
	hub := NewHub(nil)
	sub := hub.Subscribe([]string{ChannelRounds}, 2)
	defer hub.Unsubscribe(sub)

	for i := 0; i < 5; i++ {
		hub.Publish("round:updated", i)
	}

	if got := drain(sub.C); len(got) != 2 {
		t.Fatalf("buffered %d messages, want 2", len(got))
	}
	published, dropped := hub.Stats()
	if published != 5 || dropped != 3 {
		t.Fatalf("published=%d dropped=%d", published, dropped)
	}
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub(nil)
	sub := hub.Subscribe([]string{ChannelGlobal}, 8)
	hub.Unsubscribe(sub)

	hub.Publish("round:created", nil)
	if got := drain(sub.C); len(got) != 0 {
		t.Fatalf("received after unsubscribe")
	}
}

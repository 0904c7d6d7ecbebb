package editclient

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/wayfarerhq/plansync/internal/wire"
)

func TestTransportPublishRequiresLiveConnection(t *testing.T) {
	tr := NewTransport(TransportOptions{URL: "ws://127.0.0.1:1/ws"})
	t.Cleanup(tr.Close)
	if tr.Publish("app/anywhere", map[string]string{"k": "v"}) {
		t.Fatalf("Publish succeeded without a connection")
	}
}

func TestTransportDispatchesMessagesByDestination(t *testing.T) {
	b := newFakeBroker(t)
	tr := testTransport(t, b)

	first := make(chan []byte, 1)
	second := make(chan []byte, 1)
	tr.Subscribe("topic/first", func(body []byte) { first <- body })
	tr.Subscribe("topic/second", func(body []byte) { second <- body })
	tr.Start()
	waitFor(t, "subscriptions", func() bool { return len(b.subscribeFrames()) == 2 })

	data, err := wire.EncodeFrame(wire.Frame{
		Command:     wire.CommandMessage,
		Destination: "topic/second",
		Body:        json.RawMessage(`{"ping":1}`),
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b.deliverRaw(data)

	select {
	case body := <-second:
		if string(body) != `{"ping":1}` {
			t.Fatalf("second handler got %s", body)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("message not dispatched")
	}
	select {
	case body := <-first:
		t.Fatalf("first handler got unexpected %s", body)
	default:
	}
}

func TestTransportResubscribesWithFreshIDs(t *testing.T) {
	b := newFakeBroker(t)
	tr := testTransport(t, b)
	tr.Subscribe("topic/only", func([]byte) {})
	tr.Start()
	waitFor(t, "first subscribe", func() bool { return len(b.subscribeFrames()) == 1 })

	b.dropConnection()
	waitFor(t, "resubscribe", func() bool { return len(b.subscribeFrames()) == 2 })

	frames := b.subscribeFrames()
	if frames[0].Destination != "topic/only" || frames[1].Destination != "topic/only" {
		t.Fatalf("subscribe destinations = %q, %q", frames[0].Destination, frames[1].Destination)
	}
	if frames[0].ID == frames[1].ID {
		t.Fatalf("subscription id %q reused across reconnect", frames[0].ID)
	}
}

func TestTransportDropsMalformedFramesAndKeepsReading(t *testing.T) {
	b := newFakeBroker(t)
	tr := testTransport(t, b)
	got := make(chan []byte, 1)
	tr.Subscribe("topic/x", func(body []byte) { got <- body })
	tr.Start()
	waitFor(t, "subscription", func() bool { return len(b.subscribeFrames()) == 1 })

	b.deliverRaw([]byte(`{"command":"BOGUS"}`))
	b.deliverRaw([]byte(`not json at all`))

	data, err := wire.EncodeFrame(wire.Frame{
		Command:     wire.CommandMessage,
		Destination: "topic/x",
		Body:        json.RawMessage(`{"ok":true}`),
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b.deliverRaw(data)

	select {
	case body := <-got:
		if string(body) != `{"ok":true}` {
			t.Fatalf("handler got %s", body)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("valid frame after malformed ones was not delivered")
	}
}

func TestTransportUnsubscribeStopsDelivery(t *testing.T) {
	b := newFakeBroker(t)
	tr := testTransport(t, b)
	got := make(chan []byte, 1)
	tr.Subscribe("topic/x", func(body []byte) { got <- body })
	tr.Start()
	waitFor(t, "subscription", func() bool { return len(b.subscribeFrames()) == 1 })

	tr.Unsubscribe("topic/x")
	data, err := wire.EncodeFrame(wire.Frame{
		Command:     wire.CommandMessage,
		Destination: "topic/x",
		Body:        json.RawMessage(`{"late":true}`),
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b.deliverRaw(data)

	time.Sleep(100 * time.Millisecond)
	select {
	case body := <-got:
		t.Fatalf("handler got %s after unsubscribe", body)
	default:
	}
}

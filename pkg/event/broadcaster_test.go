package event

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSubscribeReceivesBroadcast(t *testing.T) {
	pe := NewPositionEvents(zap.NewNop())
	ch := pe.Subscribe("client-1")

	pe.PositionOpened("Mmint1", "Hwallet1", 0.04)

	select {
	case ev := <-ch:
		if ev.Type != EventTypePositionOpened {
			t.Fatalf("expected %s, got %s", EventTypePositionOpened, ev.Type)
		}
		if ev.Data["mint"] != "Mmint1" {
			t.Fatalf("expected mint Mmint1, got %v", ev.Data["mint"])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	pe := NewPositionEvents(zap.NewNop())
	ch := pe.Subscribe("client-1")
	pe.Unsubscribe("client-1")

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed")
	}
	if pe.GetSubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", pe.GetSubscriberCount())
	}
}

func TestBroadcastDropsOnFullChannel(t *testing.T) {
	pe := NewPositionEvents(zap.NewNop())
	ch := pe.Subscribe("client-1")

	for i := 0; i < 150; i++ {
		pe.PositionAdded("Mmint1", "Hwallet1", 0.01)
	}

	count := 0
	drained := true
	for drained {
		select {
		case <-ch:
			count++
		default:
			drained = false
		}
	}
	if count > 100 {
		t.Fatalf("expected channel buffer capped at 100, got %d", count)
	}
}

func TestCreditExhaustedBroadcast(t *testing.T) {
	pe := NewPositionEvents(zap.NewNop())
	ch := pe.Subscribe("client-1")

	pe.CreditExhausted()

	select {
	case ev := <-ch:
		if ev.Type != EventTypeCreditExhausted {
			t.Fatalf("expected %s, got %s", EventTypeCreditExhausted, ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

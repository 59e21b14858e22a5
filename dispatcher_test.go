package closechat

import (
	"encoding/json"
	"testing"
)

func TestDispatcherOrdering(t *testing.T) {
	d := NewDispatcher()
	var calls []string

	d.Subscribe("message", func(Envelope) { calls = append(calls, "h1") })
	d.Subscribe("message", func(Envelope) { calls = append(calls, "h2") })
	d.Subscribe(Wildcard, func(Envelope) { calls = append(calls, "wild") })

	d.Dispatch(Envelope{Kind: "message"})

	want := []string{"h1", "h2", "wild"}
	if len(calls) != len(want) {
		t.Fatalf("expected %d calls, got %d: %v", len(want), len(calls), calls)
	}
	for i, name := range want {
		if calls[i] != name {
			t.Fatalf("call %d: expected %s, got %s", i, name, calls[i])
		}
	}
}

func TestDispatcherKindFiltering(t *testing.T) {
	d := NewDispatcher()
	var messageCalls, statusCalls, wildCalls int

	d.Subscribe("message", func(Envelope) { messageCalls++ })
	d.Subscribe("status-changed", func(Envelope) { statusCalls++ })
	d.Subscribe(Wildcard, func(Envelope) { wildCalls++ })

	d.Dispatch(Envelope{Kind: "message"})
	d.Dispatch(Envelope{Kind: "status-changed"})
	d.Dispatch(Envelope{Kind: "unhandled-kind"})

	if messageCalls != 1 {
		t.Errorf("expected 1 message call, got %d", messageCalls)
	}
	if statusCalls != 1 {
		t.Errorf("expected 1 status call, got %d", statusCalls)
	}
	if wildCalls != 3 {
		t.Errorf("expected wildcard to see all 3 dispatches, got %d", wildCalls)
	}
}

func TestDispatcherUnsubscribe(t *testing.T) {
	t.Run("removes future dispatches", func(t *testing.T) {
		d := NewDispatcher()
		var calls int
		unsub := d.Subscribe("message", func(Envelope) { calls++ })

		d.Dispatch(Envelope{Kind: "message"})
		unsub()
		d.Dispatch(Envelope{Kind: "message"})

		if calls != 1 {
			t.Fatalf("expected 1 call, got %d", calls)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		d := NewDispatcher()
		var a, b int
		unsub := d.Subscribe("message", func(Envelope) { a++ })
		d.Subscribe("message", func(Envelope) { b++ })

		unsub()
		unsub()
		d.Dispatch(Envelope{Kind: "message"})

		if a != 0 || b != 1 {
			t.Fatalf("expected a=0 b=1, got a=%d b=%d", a, b)
		}
	})

	t.Run("mid-dispatch unsubscribe does not affect current fan-out", func(t *testing.T) {
		d := NewDispatcher()
		var calls []string
		var unsubSecond func()

		d.Subscribe("message", func(Envelope) {
			calls = append(calls, "first")
			unsubSecond()
		})
		unsubSecond = d.Subscribe("message", func(Envelope) {
			calls = append(calls, "second")
		})

		d.Dispatch(Envelope{Kind: "message"})
		if len(calls) != 2 || calls[1] != "second" {
			t.Fatalf("expected second handler to still run in current dispatch, got %v", calls)
		}

		d.Dispatch(Envelope{Kind: "message"})
		if len(calls) != 3 {
			t.Fatalf("expected second handler gone from future dispatches, got %v", calls)
		}
	})
}

func TestDispatcherPanicIsolation(t *testing.T) {
	d := NewDispatcher()
	var survived bool

	d.Subscribe("message", func(Envelope) { panic("handler failure") })
	d.Subscribe("message", func(Envelope) { survived = true })

	d.Dispatch(Envelope{Kind: "message"})

	if !survived {
		t.Fatal("expected sibling handler to run after a panicking handler")
	}
}

func TestDispatchRaw(t *testing.T) {
	t.Run("valid frame", func(t *testing.T) {
		d := NewDispatcher()
		var got Envelope
		d.Subscribe("message", func(env Envelope) { got = env })

		d.DispatchRaw([]byte(`{"type":"message","content":"hi","channelId":"c1"}`))

		if got.Kind != "message" {
			t.Fatalf("expected kind message, got %q", got.Kind)
		}
		var payload struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(got.Payload, &payload); err != nil || payload.Content != "hi" {
			t.Fatalf("expected payload to carry the full frame, got %s", got.Payload)
		}
	})

	t.Run("malformed frames dropped silently", func(t *testing.T) {
		d := NewDispatcher()
		var calls int
		d.Subscribe(Wildcard, func(Envelope) { calls++ })

		d.DispatchRaw([]byte(`not json`))
		d.DispatchRaw([]byte(``))
		d.DispatchRaw([]byte(`{"content":"no discriminant"}`))
		d.DispatchRaw([]byte(`{"type":""}`))

		if calls != 0 {
			t.Fatalf("expected malformed frames to be discarded, got %d dispatches", calls)
		}
	})
}

package eventbus

import "testing"

func TestSubscribeProjectReceivesPublishedEvent(t *testing.T) {
	b := New()
	ch, cancel := b.SubscribeProject("proj-1")
	defer cancel()

	ev := NewProjectStatusEvent("proj-1", "tc-1", "run-1", "RUNNING")
	b.PublishProjectEvent("proj-1", ev)

	select {
	case got := <-ch:
		if got != ev {
			t.Fatalf("got %+v, want %+v", got, ev)
		}
	default:
		t.Fatal("expected event to be delivered synchronously to a buffered channel")
	}
}

func TestPublishProjectEventOtherProjectNotDelivered(t *testing.T) {
	b := New()
	ch, cancel := b.SubscribeProject("proj-1")
	defer cancel()

	b.PublishProjectEvent("proj-2", NewProjectStatusEvent("proj-2", "tc", "run", "QUEUED"))

	select {
	case got := <-ch:
		t.Fatalf("unexpected delivery to unrelated subscriber: %+v", got)
	default:
	}
}

func TestCancelDetachesSubscriber(t *testing.T) {
	b := New()
	ch, cancel := b.SubscribeProject("proj-1")
	cancel()

	if _, open := <-ch; open {
		t.Fatal("expected channel to be closed after cancel")
	}

	b.PublishProjectEvent("proj-1", NewProjectStatusEvent("proj-1", "tc", "run", "RUNNING"))
}

func TestSubscribeRunReceivesEventsInOrder(t *testing.T) {
	b := New()
	ch, cancel := b.SubscribeRun("run-1")
	defer cancel()

	b.PublishRun("run-1", NewLogEvent("info", "first", ""))
	b.PublishRun("run-1", NewLogEvent("info", "second", ""))

	first := <-ch
	second := <-ch
	if first.Log.Message != "first" || second.Log.Message != "second" {
		t.Fatalf("events delivered out of order: %q then %q", first.Log.Message, second.Log.Message)
	}
}

func TestPublishRunDropsOnFullBuffer(t *testing.T) {
	b := New()
	ch, cancel := b.SubscribeRun("run-1")
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		b.PublishRun("run-1", NewLogEvent("info", "x", ""))
	}

	drained := 0
	for {
		select {
		case <-ch:
			drained++
		default:
			if drained != subscriberBuffer {
				t.Fatalf("expected exactly %d buffered events, drained %d", subscriberBuffer, drained)
			}
			return
		}
	}
}

func TestCloseRunClosesAllSubscribers(t *testing.T) {
	b := New()
	ch1, _ := b.SubscribeRun("run-1")
	ch2, _ := b.SubscribeRun("run-1")

	b.CloseRun("run-1")

	if _, open := <-ch1; open {
		t.Fatal("expected ch1 closed")
	}
	if _, open := <-ch2; open {
		t.Fatal("expected ch2 closed")
	}
}

func TestEventJSONRoundTrip(t *testing.T) {
	orig := NewScreenshotEvent("data:image/png;base64,abc", "after-step-1", "browser-1")
	b, err := orig.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Event
	if err := got.UnmarshalJSON(b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != EventScreenshot || got.Screenshot == nil || got.Screenshot.Src != orig.Screenshot.Src {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, orig)
	}
}

package eventbus

import "testing"

func TestPublishFansOutAndDropsWhenFull(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: JobQueued, Data: JobEvent{JobID: "j1"}})
	b.Publish(Event{Type: JobStarted})

	if e := <-a; e.Type != JobQueued || e.Time.IsZero() {
		t.Fatalf("unexpected first event %+v", e)
	}
	if got := len(c); got != 2 {
		t.Fatalf("buffered subscriber got %d events", got)
	}
	if b.Dropped() != 1 {
		t.Fatalf("dropped=%d want 1", b.Dropped())
	}

	unsubA()
	unsubA()
	b.Publish(Event{Type: JobFailed})
	if _, ok := <-a; ok {
		t.Fatalf("unsubscribed channel should be closed")
	}
}

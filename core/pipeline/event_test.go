package pipeline

import "testing"

func TestEventInterruptOnlyOnce(t *testing.T) {
	event := NewEvent("payload")

	if !event.Interrupt() {
		t.Fatalf("expected first interrupt to succeed")
	}
	if event.Interrupt() {
		t.Fatalf("expected second interrupt to be a no-op")
	}
	if !event.Interrupted() {
		t.Fatalf("expected event to be interrupted")
	}
}

func TestEventPointOfNoReturnBlocksInterrupt(t *testing.T) {
	event := NewEvent("payload")
	event.PassPointOfNoReturn()

	if event.Interrupt() {
		t.Fatalf("expected interrupt after point of no return to fail")
	}
	if event.Interrupted() {
		t.Fatalf("expected event to stay uninterrupted after point of no return")
	}
	if event.Interruptible() {
		t.Fatalf("expected event to no longer be interruptible")
	}
}

func TestEventPointOfNoReturnIsOneWay(t *testing.T) {
	event := NewEvent(42)
	event.PassPointOfNoReturn()
	event.PassPointOfNoReturn()

	for range 3 {
		if event.Interrupt() {
			t.Fatalf("expected every interrupt after commit to fail")
		}
	}
	if event.Interrupted() {
		t.Fatalf("expected interrupted flag to stay false")
	}
}

func TestUninterruptibleEventNeverInterrupts(t *testing.T) {
	event := NewUninterruptibleEvent("payload")

	if event.Interruptible() {
		t.Fatalf("expected event to be uninterruptible from creation")
	}
	if event.Interrupt() {
		t.Fatalf("expected interrupt to fail")
	}
}

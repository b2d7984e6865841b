package beatfinder

import (
	"testing"

	"github.com/beatlink/djlink/internal/protocol"
)

func TestOnBeatDispatchesSynchronously(t *testing.T) {
	f := New()
	var got protocol.Beat
	var called bool
	f.OnBeat(func(b protocol.Beat) {
		got = b
		called = true
	})

	wire := protocol.EncodeBeat("CDJ-3000", 2, 4, 128000, 0, true)
	h, err := protocol.ParseHeader(wire)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	b, err := protocol.DecodeBeat(h, 42)
	if err != nil {
		t.Fatalf("DecodeBeat: %v", err)
	}
	f.beats.Publish(b)

	if !called {
		t.Fatal("listener was not invoked")
	}
	if got.DeviceNumber() != 2 || got.BeatWithinBar != 4 {
		t.Fatalf("got %+v", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	f := New()
	var calls int
	unsub := f.OnBeat(func(protocol.Beat) { calls++ })

	f.beats.Publish(protocol.Beat{})
	unsub()
	f.beats.Publish(protocol.Beat{})

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

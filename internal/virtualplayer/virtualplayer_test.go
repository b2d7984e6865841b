package virtualplayer

import (
	"errors"
	"testing"
	"time"

	"github.com/beatlink/djlink/internal/devicefinder"
	"github.com/beatlink/djlink/internal/djerr"
	"github.com/beatlink/djlink/internal/protocol"
)

func newTestPlayer() *Player {
	finder := devicefinder.New()
	p := New(finder, Config{DeviceName: "test-player"})
	p.deviceNumber.Store(3)
	return p
}

func TestTrackMasterNoMasterToMaster(t *testing.T) {
	p := newTestPlayer()
	var events []MasterEvent
	p.OnMaster(func(e MasterEvent) { events = append(events, e) })

	p.trackMaster(2, true, 0, 128000)

	if len(events) != 1 || events[0].Kind != MasterChanged || events[0].MasterDevice != 2 {
		t.Fatalf("events = %+v", events)
	}
}

func TestTrackMasterTempoChangeFiresOnce(t *testing.T) {
	p := newTestPlayer()
	var events []MasterEvent
	p.OnMaster(func(e MasterEvent) { events = append(events, e) })

	p.trackMaster(2, true, 0, 128000)
	p.trackMaster(2, true, 0, 128000) // no change
	p.trackMaster(2, true, 0, 130000) // tempo changed

	if len(events) != 2 {
		t.Fatalf("events = %+v, want 2", events)
	}
	if events[1].Kind != MasterTempoChanged || events[1].MilliBPM != 130000 {
		t.Fatalf("second event = %+v", events[1])
	}
}

func TestTrackMasterTieBreakLowestDeviceWins(t *testing.T) {
	p := newTestPlayer()
	var events []MasterEvent
	p.OnMaster(func(e MasterEvent) { events = append(events, e) })

	p.trackMaster(5, true, 0, 128000) // device 5 claims master first
	p.trackMaster(2, true, 0, 128000) // device 2 claims within the tie window, lower wins

	if len(events) != 2 {
		t.Fatalf("events = %+v, want 2 (one per legitimate transition)", events)
	}
	if events[1].MasterDevice != 2 {
		t.Fatalf("expected device 2 to win the tie, got %d", events[1].MasterDevice)
	}
}

func TestTrackMasterTieBreakRejectsHigherDeviceWithinWindow(t *testing.T) {
	p := newTestPlayer()
	var events []MasterEvent
	p.OnMaster(func(e MasterEvent) { events = append(events, e) })

	p.trackMaster(2, true, 0, 128000) // lower device claims master first
	p.trackMaster(5, true, 0, 128000) // higher device claims within the tie window -> ignored

	if len(events) != 1 {
		t.Fatalf("events = %+v, want exactly 1 (the higher claim should be ignored)", events)
	}
	if events[0].MasterDevice != 2 {
		t.Fatalf("master should remain device 2, got %d", events[0].MasterDevice)
	}
}

func TestTrackMasterDirectSuccessionOutsideTieWindow(t *testing.T) {
	p := newTestPlayer()
	var events []MasterEvent
	p.OnMaster(func(e MasterEvent) { events = append(events, e) })

	p.trackMaster(2, true, 0, 128000)
	p.masterMu.Lock()
	p.masterSeenAt = time.Now().Add(-time.Second) // simulate time passing well past the tie window
	p.masterMu.Unlock()
	p.trackMaster(9, true, 0, 128000) // higher number, but not concurrent -> legitimate succession

	if len(events) != 2 || events[1].MasterDevice != 9 {
		t.Fatalf("events = %+v", events)
	}
}

func TestObserveBeatOnlyFiresForMaster(t *testing.T) {
	p := newTestPlayer()
	var events []MasterEvent
	p.OnMaster(func(e MasterEvent) { events = append(events, e) })

	p.trackMaster(2, true, 0, 128000)

	other := beatFrom(t, 7)
	p.ObserveBeat(other)
	if len(events) != 1 {
		t.Fatalf("non-master beat should not fire: %+v", events)
	}

	fromMaster := beatFrom(t, 2)
	p.ObserveBeat(fromMaster)
	if len(events) != 2 || events[1].Kind != MasterBeat {
		t.Fatalf("master beat should fire MasterBeat: %+v", events)
	}
}

func TestCandidateOrderPrefersHighRangeWhenNotStandard(t *testing.T) {
	order := candidateOrder(false)
	if order[0] != 5 || order[len(order)-1] != 4 {
		t.Fatalf("order = %v, want to start at 5 and end at 4", order)
	}
	if len(order) != 15 {
		t.Fatalf("len(order) = %d, want 15", len(order))
	}
}

func TestCandidateOrderRestrictedToStandard(t *testing.T) {
	order := candidateOrder(true)
	if len(order) != 4 {
		t.Fatalf("order = %v, want exactly 1-4", order)
	}
}

func TestCommandsFailWithNoPeer(t *testing.T) {
	p := newTestPlayer()
	err := p.SendLoadTrackCommand(9, 1, 1, 1, 42)
	if !errors.Is(err, djerr.ErrNoPeer) {
		t.Fatalf("err = %v, want ErrNoPeer", err)
	}
}

func TestJumpToBeatResetsCounters(t *testing.T) {
	p := newTestPlayer()
	p.st.beatNumber = 40
	p.st.beatWithinBar = 3

	p.JumpToBeat(5)

	p.stateMu.Lock()
	p.st.playing = true
	p.st.milliBPM = 128000
	p.st.nextBeatAt = time.Now().Add(-time.Millisecond)
	p.stateMu.Unlock()
	p.maybeEmitBeat()
	// maybeEmitBeat pre-increments beatNumber before emitting, so the next
	// beat after jumpToBeat(5) must itself carry beat-number=5.
	if p.st.beatNumber != 5 {
		t.Fatalf("beatNumber = %d, want 5 on the beat following the jump", p.st.beatNumber)
	}
	if p.st.beatWithinBar != 1 {
		t.Fatalf("beatWithinBar = %d, want 1 after jump", p.st.beatWithinBar)
	}
}

func TestMaybeEmitBeatCyclesWithinBar(t *testing.T) {
	p := newTestPlayer()
	p.stateMu.Lock()
	p.st.playing = true
	p.st.milliBPM = 128000
	p.st.beatWithinBar = 4
	p.st.nextBeatAt = time.Now().Add(-time.Millisecond)
	p.stateMu.Unlock()

	p.maybeEmitBeat()

	if p.st.beatWithinBar != 1 {
		t.Fatalf("beatWithinBar = %d, want wrap to 1", p.st.beatWithinBar)
	}
}

func TestBecomeTempoMasterClaimsImmediatelyWhenNoMaster(t *testing.T) {
	p := newTestPlayer()
	p.run.Start(func() error { return nil })

	var events []MasterEvent
	p.OnMaster(func(e MasterEvent) { events = append(events, e) })

	if err := p.BecomeTempoMaster(); err != nil {
		t.Fatalf("BecomeTempoMaster: %v", err)
	}
	if len(events) != 1 || events[0].MasterDevice != p.DeviceNumber() {
		t.Fatalf("events = %+v", events)
	}
	if !p.sendingMaster.Load() {
		t.Fatal("sendingMaster should be set once we claim master")
	}
}

func beatFrom(t *testing.T, deviceNumber byte) protocol.Beat {
	t.Helper()
	wire := protocol.EncodeBeat("CDJ-3000", deviceNumber, 1, 128000, 0, false)
	h, err := protocol.ParseHeader(wire)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	b, err := protocol.DecodeBeat(h, 0)
	if err != nil {
		t.Fatalf("DecodeBeat: %v", err)
	}
	return b
}

package virtualplayer

import (
	"fmt"
	"net"
	"time"

	"github.com/beatlink/djlink/internal/beatfinder"
	"github.com/beatlink/djlink/internal/djerr"
	"github.com/beatlink/djlink/internal/protocol"
)

// SetTempo sets the effective BPM (in milliBPM, BPM x1000) used for our
// own status and beat-scheduling (spec.md §4.D mutators).
func (p *Player) SetTempo(milliBPM int) {
	p.stateMu.Lock()
	p.st.milliBPM = milliBPM
	p.stateMu.Unlock()
}

// SetPitch sets the raw signed pitch field our own status reports.
func (p *Player) SetPitch(raw int32) {
	p.stateMu.Lock()
	p.st.pitchRaw = raw
	p.stateMu.Unlock()
}

// SetSynced sets whether our own status reports sync mode on.
func (p *Player) SetSynced(on bool) {
	p.stateMu.Lock()
	p.st.synced = on
	p.stateMu.Unlock()
}

// SetOnAir sets whether our own status reports on-air.
func (p *Player) SetOnAir(on bool) {
	p.stateMu.Lock()
	p.st.onAir = on
	p.stateMu.Unlock()
}

// SetPlaying sets whether our own status reports playing, and therefore
// whether the sender thread schedules beat packets.
func (p *Player) SetPlaying(on bool) {
	p.stateMu.Lock()
	p.st.playing = on
	if on && p.st.nextBeatAt.IsZero() {
		p.st.nextBeatAt = time.Now()
	}
	p.stateMu.Unlock()
}

// JumpToBeat resets the beat counter so the next emitted beat carries the
// given beat number and beat-within-bar=1 (spec.md scenario 6).
// maybeEmitBeat pre-increments beatNumber before emitting, so the stored
// counter is set one short of the target.
func (p *Player) JumpToBeat(beatNumber int32) {
	p.stateMu.Lock()
	p.st.beatNumber = beatNumber - 1
	p.st.beatWithinBar = 0 // the next tick advances this to 1
	p.stateMu.Unlock()
}

// AdjustPlaybackPosition shifts the schedule of the next beat by delta,
// used to nudge phase without a full jump (spec.md §4.D mutators).
func (p *Player) AdjustPlaybackPosition(delta time.Duration) {
	p.stateMu.Lock()
	if !p.st.nextBeatAt.IsZero() {
		p.st.nextBeatAt = p.st.nextBeatAt.Add(delta)
	}
	p.stateMu.Unlock()
}

// StartSending begins the optional status/beat sender thread (spec.md
// §4.D "Sending status (optional)"). Only valid once a device number in
// 1-4 has been claimed; returns djerr.ErrState otherwise.
func (p *Player) StartSending() error {
	if !p.IsRunning() {
		return fmt.Errorf("virtualplayer: %w: not running", djerr.ErrState)
	}
	if !p.CanSend() {
		return fmt.Errorf("virtualplayer: %w: device number %d is not in 1-4", djerr.ErrState, p.DeviceNumber())
	}
	if p.sendStop != nil {
		return nil // already sending
	}
	p.sendStop = make(chan struct{})
	p.sendWG.Add(1)
	go p.senderLoop(p.sendStop)
	return nil
}

// StopSending stops the sender thread if running.
func (p *Player) StopSending() { p.stopSending() }

func (p *Player) stopSending() {
	if p.sendStop == nil {
		return
	}
	close(p.sendStop)
	p.sendWG.Wait()
	p.sendStop = nil
}

func (p *Player) senderLoop(stop <-chan struct{}) {
	defer p.sendWG.Done()
	t := time.NewTicker(StatusInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			p.emitStatus()
			p.maybeEmitBeat()
		}
	}
}

func (p *Player) emitStatus() {
	if p.conn == nil || p.broadcast == nil || !p.sendLimiter.Allow() {
		return
	}
	p.stateMu.Lock()
	st := p.st
	p.stateMu.Unlock()

	p.masterMu.Lock()
	master := p.sendingMaster.Load()
	yieldingTo := p.yieldingTo
	p.masterMu.Unlock()

	s := protocol.NewCdjStatus(p.DeviceNumber(), p.cfg.DeviceName, st.milliBPM, st.pitchRaw, st.onAir, st.synced, master, st.playing)
	s.BeatNumber = st.beatNumber
	s.BeatWithinBar = st.beatWithinBar
	s.YieldingToDevice = yieldingTo
	wire := protocol.EncodeCdjStatus(p.cfg.DeviceName, s)
	p.conn.WriteToUDP(wire, &net.UDPAddr{IP: p.broadcast, Port: Port})
}

// maybeEmitBeat emits a beat packet on port 50001 once the tempo-derived
// interval has elapsed, cycling beat-within-bar 1,2,3,4 (spec.md §4.D,
// scenario 6). The beat packet is sent through the status socket; no
// separate beat socket is bound.
func (p *Player) maybeEmitBeat() {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if !p.st.playing || p.st.milliBPM <= 0 {
		return
	}
	now := time.Now()
	if p.st.nextBeatAt.IsZero() {
		p.st.nextBeatAt = now
	}
	if now.Before(p.st.nextBeatAt) {
		return
	}
	p.st.beatWithinBar = p.st.beatWithinBar%4 + 1
	p.st.beatNumber++

	effectiveBPM := float64(p.st.milliBPM) / 1000
	interval := time.Duration(60000.0 / effectiveBPM * float64(time.Millisecond))
	p.st.nextBeatAt = p.st.nextBeatAt.Add(interval)

	if p.conn == nil || p.broadcast == nil {
		return
	}
	master := p.sendingMaster.Load()
	wire := protocol.EncodeBeat(p.cfg.DeviceName, p.DeviceNumber(), p.st.beatWithinBar, p.st.milliBPM, p.st.pitchRaw, master)
	p.conn.WriteToUDP(wire, &net.UDPAddr{IP: p.broadcast, Port: beatfinder.Port})
}

package virtualplayer

import (
	"fmt"
	"net"
	"time"

	"github.com/beatlink/djlink/internal/djerr"
	"github.com/beatlink/djlink/internal/protocol"
)

// tieWindow bounds how close two master claims must be, in wall-clock
// arrival time, before they count as "concurrent" for spec.md §4.D's
// tie-break rule ("Ties during concurrent transitions are broken by
// lowest device number").
const tieWindow = 250 * time.Millisecond

// trackMaster folds one peer's reported master/yielding-to/tempo fields
// into the Virtual Player's tracked master-election state, firing the
// master listener at most once per transition (spec.md §4.D "Tempo-master
// election").
func (p *Player) trackMaster(device byte, isMaster bool, yieldingTo byte, milliBPM int) {
	p.masterMu.Lock()
	now := time.Now()

	var fireChanged bool
	var fireTempo bool

	switch {
	case isMaster && !p.haveMaster:
		// no master -> master
		p.haveMaster = true
		p.masterDevice = device
		p.masterBPM = milliBPM
		p.masterSeenAt = now
		fireChanged = true

	case isMaster && p.masterDevice == device:
		// same master, possibly a tempo change
		p.masterSeenAt = now
		if p.masterBPM != milliBPM {
			p.masterBPM = milliBPM
			fireTempo = true
		}

	case isMaster && p.masterDevice != device:
		// master A -> master B; if both claims fall inside the tie
		// window, the lower device number wins and this claim is ignored.
		if now.Sub(p.masterSeenAt) < tieWindow && device > p.masterDevice {
			break
		}
		p.masterDevice = device
		p.masterBPM = milliBPM
		p.masterSeenAt = now
		fireChanged = true

	case !isMaster && p.haveMaster && p.masterDevice == device:
		// The tracked master just dropped its own flag — the yield
		// handshake's final step. The listener already fired once, for
		// the successor's transition; this step is silent per spec.md.
		p.haveMaster = false
	}

	if yieldingTo != 0 && p.haveMaster && p.masterDevice == device {
		p.notifyHandoffAck(device, yieldingTo)
	}

	snapshot := MasterEvent{HasMaster: p.haveMaster, MasterDevice: p.masterDevice, MilliBPM: p.masterBPM}
	p.masterMu.Unlock()

	if fireChanged {
		snapshot.Kind = MasterChanged
		p.masters.Publish(snapshot)
	} else if fireTempo {
		snapshot.Kind = MasterTempoChanged
		p.masters.Publish(snapshot)
	}
}

// ObserveBeat feeds a beat packet from the Beat Finder into master
// tracking; if it came from the current tempo master, the master
// listener is invoked once more with Kind=MasterBeat (spec.md §4.D
// "the arrival of a beat from the master (delivered as newBeat)").
func (p *Player) ObserveBeat(b protocol.Beat) {
	p.masterMu.Lock()
	isFromMaster := p.haveMaster && p.masterDevice == b.DeviceNumber()
	snapshot := MasterEvent{HasMaster: p.haveMaster, MasterDevice: p.masterDevice, MilliBPM: p.masterBPM, Beat: b}
	p.masterMu.Unlock()

	if isFromMaster {
		snapshot.Kind = MasterBeat
		p.masters.Publish(snapshot)
	}
}

// setYieldingTo records that this player has agreed to yield tempo
// mastery to successor, used so our own emitted status carries the
// yielding-to byte until the handoff completes.
func (p *Player) setYieldingTo(successor byte) {
	p.masterMu.Lock()
	p.yieldingTo = successor
	p.masterMu.Unlock()
}

// notifyHandoffAck delivers a pending becomeTempoMaster wait an
// acknowledgment once the addressed device reports yielding to us.
func (p *Player) notifyHandoffAck(from, to byte) {
	if to != p.DeviceNumber() {
		return
	}
	if ch := p.handoffAck; ch != nil {
		select {
		case ch <- from:
		default:
		}
	}
}

// BecomeTempoMaster implements spec.md §4.D "becomeTempoMaster": asks the
// current master to yield, waits for its acknowledgment (observed as a
// yielding-to report naming us), then claims master for ourselves.
// If there is no current master, master is claimed immediately (the
// "no master -> master" transition) and nil is returned. Returns
// djerr.ErrNoPeer if the current master is not in the device table, or
// djerr.ErrTimeout if no acknowledgment arrives within 5s.
func (p *Player) BecomeTempoMaster() error {
	if !p.IsRunning() {
		return fmt.Errorf("virtualplayer: %w: not running", djerr.ErrState)
	}

	p.masterMu.Lock()
	hadMaster := p.haveMaster
	target := p.masterDevice
	p.masterMu.Unlock()

	if !hadMaster {
		p.claimSelfAsMaster()
		return nil
	}

	addr, err := p.unicastAddr(target)
	if err != nil {
		return err
	}

	ack := make(chan byte, 1)
	p.handoffAck = ack
	defer func() { p.handoffAck = nil }()

	self := p.DeviceNumber()
	wire := protocol.EncodeMasterHandoffRequest(p.cfg.DeviceName, self)
	p.conn.WriteToUDP(wire, addr)

	select {
	case <-ack:
		p.claimSelfAsMaster()
		return nil
	case <-time.After(masterHandoffTimeout):
		return fmt.Errorf("virtualplayer: %w: master hand-off to device %d", djerr.ErrTimeout, self)
	}
}

// claimSelfAsMaster updates tracked state to reflect that we are now
// tempo master and fires the master listener exactly once.
func (p *Player) claimSelfAsMaster() {
	self := p.DeviceNumber()

	p.stateMu.Lock()
	bpm := p.st.milliBPM
	p.stateMu.Unlock()

	p.masterMu.Lock()
	p.haveMaster = true
	p.masterDevice = self
	p.masterBPM = bpm
	p.masterSeenAt = time.Now()
	p.yieldingTo = 0
	snapshot := MasterEvent{Kind: MasterChanged, HasMaster: true, MasterDevice: self, MilliBPM: bpm}
	p.masterMu.Unlock()

	p.sendingMaster.Store(true)
	p.masters.Publish(snapshot)
}

// AppointTempoMaster implements spec.md §4.D "appointTempoMaster(n)":
// sends a master-hand-off request naming n as successor, without waiting
// for any acknowledgment.
func (p *Player) AppointTempoMaster(n byte) error {
	if !p.IsRunning() {
		return fmt.Errorf("virtualplayer: %w: not running", djerr.ErrState)
	}
	addr, err := p.unicastAddr(n)
	if err != nil {
		return err
	}
	wire := protocol.EncodeMasterHandoffRequest(p.cfg.DeviceName, n)
	p.conn.WriteToUDP(wire, addr)
	return nil
}

// unicastAddr resolves a device number to its current unicast status
// address via the Device Finder's table, failing with djerr.ErrNoPeer if
// the device is not currently known (spec.md §4.D "Exit with NO_PEER if
// the target is not currently in the device table").
func (p *Player) unicastAddr(device byte) (*net.UDPAddr, error) {
	for _, e := range p.finder.GetCurrentDevices() {
		if e.Announcement.DeviceNumber == device {
			return &net.UDPAddr{IP: e.Announcement.IP, Port: Port}, nil
		}
	}
	return nil, fmt.Errorf("virtualplayer: %w: device %d", djerr.ErrNoPeer, device)
}

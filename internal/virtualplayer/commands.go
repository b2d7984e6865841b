package virtualplayer

import (
	"net"

	"github.com/beatlink/djlink/internal/beatfinder"
	"github.com/beatlink/djlink/internal/devicefinder"
	"github.com/beatlink/djlink/internal/protocol"
)

// SendLoadTrackCommand asks target to load a track sourced from
// (sourcePlayer, sourceSlot, trackType, rekordboxID) (spec.md §4.D
// "sendLoadTrackCommand"). Returns djerr.ErrNoPeer if target is not
// currently in the device table.
func (p *Player) SendLoadTrackCommand(target, sourcePlayer, sourceSlot, trackType byte, rekordboxID uint32) error {
	addr, err := p.unicastAddr(target)
	if err != nil {
		return err
	}
	c := protocol.LoadTrackCommand{
		TargetDevice: target,
		SourcePlayer: sourcePlayer,
		SourceSlot:   sourceSlot,
		TrackType:    trackType,
		RekordboxID:  rekordboxID,
	}
	return p.sendTo(addr, protocol.EncodeLoadTrackCommand(p.cfg.DeviceName, c))
}

// SendSyncModeCommand turns sync mode on or off for target.
func (p *Player) SendSyncModeCommand(target byte, on bool) error {
	addr, err := p.unicastAddr(target)
	if err != nil {
		return err
	}
	return p.sendTo(addr, protocol.EncodeSyncModeCommand(p.cfg.DeviceName, target, on))
}

// SendOnAirCommand broadcasts which device numbers are currently on-air,
// on the status port (spec.md §6 port table).
func (p *Player) SendOnAirCommand(players []byte) error {
	wire := protocol.EncodeOnAirCommand(p.cfg.DeviceName, players)
	return p.sendViaStatusConn(&net.UDPAddr{IP: p.broadcast, Port: Port}, wire)
}

// SendFaderStartCommand broadcasts which devices should start and which
// should stop playing, on the beat-announcement port (spec.md §6 port
// table groups fader-start with beat packets).
func (p *Player) SendFaderStartCommand(start, stop []byte) error {
	wire := protocol.EncodeFaderStartCommand(p.cfg.DeviceName, start, stop)
	return p.sendViaStatusConn(&net.UDPAddr{IP: p.broadcast, Port: beatfinder.Port}, wire)
}

// SendMediaQuery asks target to describe what media is mounted in slot,
// broadcast on the announcement port (spec.md §6 port table).
func (p *Player) SendMediaQuery(target, slot byte) error {
	if _, err := p.unicastAddr(target); err != nil {
		return err
	}
	wire := protocol.EncodeMediaQuery(p.cfg.DeviceName, target, slot)
	return p.sendViaStatusConn(&net.UDPAddr{IP: p.broadcast, Port: devicefinder.Port}, wire)
}

func (p *Player) sendTo(addr *net.UDPAddr, wire []byte) error {
	return p.sendViaStatusConn(addr, wire)
}

// sendViaStatusConn writes wire to addr using the status socket; UDP
// sockets may send to any destination port regardless of the port they
// are bound to, so one socket serves every outbound command.
func (p *Player) sendViaStatusConn(addr *net.UDPAddr, wire []byte) error {
	_, err := p.conn.WriteToUDP(wire, addr)
	return err
}

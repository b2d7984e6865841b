package protocol

import (
	"encoding/binary"
	"fmt"
)

// LoadTrackCommand asks a target CDJ to load a track from a source player's
// slot (spec.md §4.D "sendLoadTrackCommand").
//
//	off 0  target device        (1 byte)
//	off 1  source player        (1 byte)
//	off 2  source slot          (1 byte)
//	off 3  track type           (1 byte)
//	off 4  rekordbox id         (4 bytes)
type LoadTrackCommand struct {
	TargetDevice byte
	SourcePlayer byte
	SourceSlot   byte
	TrackType    byte
	RekordboxID  uint32
}

const loadTrackPayloadLen = 8

func EncodeLoadTrackCommand(deviceName string, c LoadTrackCommand) []byte {
	p := make([]byte, loadTrackPayloadLen)
	p[0] = c.TargetDevice
	p[1] = c.SourcePlayer
	p[2] = c.SourceSlot
	p[3] = c.TrackType
	binary.BigEndian.PutUint32(p[4:8], c.RekordboxID)
	h := Header{Type: TypeLoadTrackCommand, DeviceName: deviceName, Subtype: 0x01}
	return MarshalHeader(h, p)
}

func DecodeLoadTrackCommand(h Header) (LoadTrackCommand, error) {
	p := h.Payload
	if len(p) < loadTrackPayloadLen {
		return LoadTrackCommand{}, fmt.Errorf("%w: load-track payload %d < %d", ErrShortPacket, len(p), loadTrackPayloadLen)
	}
	return LoadTrackCommand{
		TargetDevice: p[0],
		SourcePlayer: p[1],
		SourceSlot:   p[2],
		TrackType:    p[3],
		RekordboxID:  binary.BigEndian.Uint32(p[4:8]),
	}, nil
}

// EncodeSyncModeCommand builds the command that turns a target device's
// sync mode on or off.
func EncodeSyncModeCommand(deviceName string, targetDevice byte, on bool) []byte {
	var v byte
	if on {
		v = 1
	}
	h := Header{Type: TypeSyncCommand, DeviceName: deviceName, Subtype: 0x01}
	return MarshalHeader(h, []byte{targetDevice, v})
}

func DecodeSyncModeCommand(h Header) (target byte, on bool, err error) {
	if len(h.Payload) < 2 {
		return 0, false, fmt.Errorf("%w: sync-mode payload too short", ErrShortPacket)
	}
	return h.Payload[0], h.Payload[1] != 0, nil
}

// EncodeOnAirCommand builds the fader-start companion: a bitmask of which
// device numbers (1-indexed bits 1..8) are currently on-air.
func EncodeOnAirCommand(deviceName string, onAirDevices []byte) []byte {
	var mask byte
	for _, d := range onAirDevices {
		if d >= 1 && d <= 8 {
			mask |= 1 << (d - 1)
		}
	}
	h := Header{Type: TypeOnAirCommand, DeviceName: deviceName, Subtype: 0x01}
	return MarshalHeader(h, []byte{mask})
}

func DecodeOnAirCommand(h Header) ([]byte, error) {
	if len(h.Payload) < 1 {
		return nil, fmt.Errorf("%w: on-air payload empty", ErrShortPacket)
	}
	mask := h.Payload[0]
	var devices []byte
	for i := byte(0); i < 8; i++ {
		if mask&(1<<i) != 0 {
			devices = append(devices, i+1)
		}
	}
	return devices, nil
}

// EncodeFaderStartCommand builds the command naming which devices should
// start playing and which should stop, each as a device-number bitmask.
func EncodeFaderStartCommand(deviceName string, start, stop []byte) []byte {
	var startMask, stopMask byte
	for _, d := range start {
		if d >= 1 && d <= 8 {
			startMask |= 1 << (d - 1)
		}
	}
	for _, d := range stop {
		if d >= 1 && d <= 8 {
			stopMask |= 1 << (d - 1)
		}
	}
	h := Header{Type: TypeFaderStart, DeviceName: deviceName, Subtype: 0x01}
	return MarshalHeader(h, []byte{startMask, stopMask})
}

func DecodeFaderStartCommand(h Header) (start, stop []byte, err error) {
	if len(h.Payload) < 2 {
		return nil, nil, fmt.Errorf("%w: fader-start payload too short", ErrShortPacket)
	}
	startMask, stopMask := h.Payload[0], h.Payload[1]
	for i := byte(0); i < 8; i++ {
		if startMask&(1<<i) != 0 {
			start = append(start, i+1)
		}
		if stopMask&(1<<i) != 0 {
			stop = append(stop, i+1)
		}
	}
	return start, stop, nil
}

// MasterHandoffRequest is sent by a device that wants to become tempo
// master, naming itself as the proposed successor; MasterHandoffResponse
// is the successor's acknowledgment (spec.md §3 "Tempo-Master Election",
// §4.D "becomeTempoMaster"/"appointTempoMaster").
type MasterHandoffRequest struct {
	ProposedSuccessor byte
}

func EncodeMasterHandoffRequest(deviceName string, proposedSuccessor byte) []byte {
	h := Header{Type: TypeMasterHandoffReq, DeviceName: deviceName, Subtype: 0x01}
	return MarshalHeader(h, []byte{proposedSuccessor})
}

func DecodeMasterHandoffRequest(h Header) (MasterHandoffRequest, error) {
	if len(h.Payload) < 1 {
		return MasterHandoffRequest{}, fmt.Errorf("%w: master handoff request payload empty", ErrShortPacket)
	}
	return MasterHandoffRequest{ProposedSuccessor: h.Payload[0]}, nil
}

func EncodeMasterHandoffResponse(deviceName string, accepted bool) []byte {
	var v byte
	if accepted {
		v = 1
	}
	h := Header{Type: TypeMasterHandoffRpy, DeviceName: deviceName, Subtype: 0x01}
	return MarshalHeader(h, []byte{v})
}

func DecodeMasterHandoffResponse(h Header) (accepted bool, err error) {
	if len(h.Payload) < 1 {
		return false, fmt.Errorf("%w: master handoff response payload empty", ErrShortPacket)
	}
	return h.Payload[0] != 0, nil
}

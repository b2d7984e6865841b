// Package protocol encodes and decodes the fixed-layout UDP packets
// exchanged by Pro DJ Link devices: announcements, keepalives, beats,
// CDJ/mixer status, and the small set of unicast commands a virtual
// player can issue (load-track, sync-mode, on-air, fader-start,
// master hand-off, media query).
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Magic is the 10-byte literal prefix every Pro DJ Link packet starts with
// ("Qspt1WmJOL").
var Magic = [10]byte{0x51, 0x73, 0x70, 0x74, 0x31, 0x57, 0x6D, 0x4A, 0x4F, 0x4C}

// Packet type discriminators (the byte immediately after Magic).
const (
	TypeKeepalive        = 0x06
	TypeDeviceAnnounce   = 0x0a // also disambiguates mixer/CDJ status by length
	TypeChannelAnnounce  = 0x0b
	TypeMasterHandoffReq = 0x0f
	TypeMasterHandoffRpy = 0x04
	TypeMediaQuery       = 0x26
	TypeMediaResponse    = 0x27
	TypeBeat             = 0x28
	TypeSyncCommand      = 0x29
	TypeOnAirCommand     = 0x2a
	TypeFaderStart       = 0x19
	TypeLoadTrackCommand = 0x23
)

// DeviceNameLen is the fixed width of the ASCII, NUL-padded device-name field.
const DeviceNameLen = 20

// Minimum total packet length (including the 10-byte magic) required to
// recognise each status variant, per spec.md §4.A. A packet shorter than
// the minimum for its decoded type is dropped; longer is accepted (newer
// firmware often appends fields).
const (
	MinCdjStatusLen       = 208
	MinCdjStatusNexusLen  = 212
	MinCdjStatusNexus2Len = 284
	MinMixerStatusLen     = 0 // mixer status packets are shorter than CdjStatus; see IsMixerStatusPayload
)

// ErrShortPacket indicates a packet smaller than the fixed prefix, or
// smaller than the minimum size known for its declared type.
var ErrShortPacket = errors.New("protocol: packet too short")

// ErrBadMagic indicates the 10-byte literal prefix did not match.
var ErrBadMagic = errors.New("protocol: bad magic prefix")

// Header is the common 10+1+20+1+2 byte prefix shared by every packet type.
type Header struct {
	Type       byte
	DeviceName string // ASCII, trimmed of trailing NULs
	Subtype    byte
	Payload    []byte // everything after the fixed header
}

// headerLen is the byte length of everything before Payload.
const headerLen = 10 + 1 + DeviceNameLen + 1 + 2

// ParseHeader splits data into the common header and payload. It does not
// validate payload length against the Type's expected minimum — callers
// decode the specific packet type and apply that check themselves, since
// the same Type byte (0x0a) is shared by announcement, mixer-status and
// CDJ-status packets, disambiguated only by overall length.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < headerLen {
		return Header{}, fmt.Errorf("%w: have %d, need at least %d", ErrShortPacket, len(data), headerLen)
	}
	if [10]byte(data[0:10]) != Magic {
		return Header{}, ErrBadMagic
	}
	h := Header{
		Type:       data[10],
		DeviceName: trimPadded(data[11 : 11+DeviceNameLen]),
		Subtype:    data[11+DeviceNameLen],
	}
	declared := binary.BigEndian.Uint16(data[11+DeviceNameLen+1 : headerLen])
	rest := data[headerLen:]
	if int(declared) > len(rest) {
		// Warn-and-continue on truncation is handled by the caller via the
		// returned slice length; surface what we actually have.
		h.Payload = rest
		return h, fmt.Errorf("%w: declared remainder %d, have %d", ErrShortPacket, declared, len(rest))
	}
	// A packet may be padded beyond the declared length by newer firmware;
	// spec.md says process it anyway after a warning, so we hand back the
	// full remainder, not just the declared slice, and let decoders read
	// only the fields they know about.
	h.Payload = rest
	return h, nil
}

// MarshalHeader writes the common prefix followed by payload into a new
// buffer. deviceName is truncated/padded to DeviceNameLen bytes.
func MarshalHeader(h Header, payload []byte) []byte {
	buf := make([]byte, headerLen+len(payload))
	copy(buf[0:10], Magic[:])
	buf[10] = h.Type
	copy(buf[11:11+DeviceNameLen], padName(h.DeviceName))
	buf[11+DeviceNameLen] = h.Subtype
	binary.BigEndian.PutUint16(buf[11+DeviceNameLen+1:headerLen], uint16(len(payload)))
	copy(buf[headerLen:], payload)
	return buf
}

func padName(name string) []byte {
	b := make([]byte, DeviceNameLen)
	n := copy(b, name)
	_ = n
	return b
}

func trimPadded(b []byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}

// IsCdjStatus reports whether a full packet (header included) of the given
// total length and declared Type is long enough to be a CdjStatus rather
// than an announcement or a MixerStatus.
func IsCdjStatus(totalLen int, typ byte) bool {
	return typ == TypeDeviceAnnounce && totalLen >= MinCdjStatusLen
}

// BPMToMilliBPM converts a raw 2-byte tempo field (beats-per-minute times
// 100) into an integer milliBPM value (beats-per-minute times 1000), the
// unit DeviceUpdate.BPM is expressed in throughout this module.
func BPMToMilliBPM(raw uint16) int {
	return int(raw) * 10
}

// MilliBPMToRaw converts milliBPM back into the raw wire tempo field.
func MilliBPMToRaw(milliBPM int) uint16 {
	return uint16(milliBPM / 10)
}

// PitchRatio converts the raw 4-byte signed pitch field into a fractional
// offset from nominal tempo, where 0.0 is nominal and 0.02 is +2%:
// (value - 0x100000) / 0x100000.
func PitchRatio(raw int32) float64 {
	return float64(int64(raw)-0x100000) / float64(0x100000)
}

// PitchFromRatio is the inverse of PitchRatio, used when the virtual
// player emits its own status/beat packets.
func PitchFromRatio(ratio float64) int32 {
	return int32(ratio*float64(0x100000) + 0x100000)
}

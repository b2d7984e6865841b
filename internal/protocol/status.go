package protocol

import (
	"encoding/binary"
	"fmt"
)

// Track source slot values (CdjStatus.SourceSlot).
const (
	SlotNoTrack = iota
	SlotCD
	SlotSD
	SlotUSB
	SlotCollection
)

// Track type values (CdjStatus.TrackType).
const (
	TrackTypeNone = iota
	TrackTypeRekordbox
	TrackTypeUnanalyzed
	TrackTypeCDDigitalAudio = 5
)

// Flag bit positions within the one-byte status-flags field shared by
// CdjStatus and MixerStatus.
const (
	flagOnAir = 1 << iota
	flagSync
	flagMaster
	flagPlaying
)

// DeviceUpdate is the common shape of every packet describing a peer's
// live state: CdjStatus, MixerStatus and Beat all satisfy it.
type DeviceUpdate interface {
	DeviceNumber() byte
	DeviceName() string
	ReceivedAtNanos() int64
	MilliBPM() int
	PitchRaw() int32
	IsMaster() bool
	IsSynced() bool
	IsOnAir() bool
	IsPlaying() bool
}

// base carries the fields common to all three update kinds. It is embedded,
// not exposed, so each concrete type gets its own accessor methods matching
// the DeviceUpdate interface (useful when adding kind-specific fields).
type base struct {
	deviceNumber byte
	deviceName   string
	receivedAt   int64
	milliBPM     int
	pitchRaw     int32
	onAir        bool
	synced       bool
	master       bool
	playing      bool
}

func (b base) DeviceNumber() byte    { return b.deviceNumber }
func (b base) DeviceName() string    { return b.deviceName }
func (b base) ReceivedAtNanos() int64 { return b.receivedAt }
func (b base) MilliBPM() int         { return b.milliBPM }
func (b base) PitchRaw() int32       { return b.pitchRaw }
func (b base) IsMaster() bool        { return b.master }
func (b base) IsSynced() bool        { return b.synced }
func (b base) IsOnAir() bool         { return b.onAir }
func (b base) IsPlaying() bool       { return b.playing }

func decodeFlags(f byte) (onAir, synced, master, playing bool) {
	return f&flagOnAir != 0, f&flagSync != 0, f&flagMaster != 0, f&flagPlaying != 0
}

func encodeFlags(onAir, synced, master, playing bool) byte {
	var f byte
	if onAir {
		f |= flagOnAir
	}
	if synced {
		f |= flagSync
	}
	if master {
		f |= flagMaster
	}
	if playing {
		f |= flagPlaying
	}
	return f
}

// CdjStatus is a decoded player-status packet (spec.md §3 "CdjStatus adds").
//
// Wire layout of the payload (bytes after the common 34-byte header),
// big-endian throughout. The first 31 bytes are present on every firmware
// tier; the packet is then padded (or extended with the fields below) out
// to the total length spec.md §4.A assigns to that tier, since §4.A
// disambiguates CdjStatus from MixerStatus, and Nexus from pre-Nexus, by
// total packet length rather than by a type tag:
//
//	off  0   device number               (1 byte)
//	off  1   firmware version            (4 bytes, ASCII, NUL padded, e.g. "3.31")
//	off  5   track source player         (1 byte)
//	off  6   track source slot           (1 byte)
//	off  7   track type                  (1 byte)
//	off  8   rekordbox id                (4 bytes)
//	off 12   beat number within track    (4 bytes, signed, -1 if not meaningful)
//	off 16   beat within bar             (1 byte, 1..4)
//	off 17   cue countdown               (2 bytes)
//	off 19   packet counter              (4 bytes)
//	off 23   status flags                (1 byte: on-air|sync|master|playing)
//	off 24   yielding-to device number   (1 byte, 0 = not yielding)
//	off 25   tempo (raw, x100 BPM)       (2 bytes)
//	off 27   pitch (signed fixed)        (4 bytes)
//	off 31   extended beat-within-bar    (1 byte, Nexus firmware and later only)
//	off 32   secondary pitch (signed)    (4 bytes, Nexus-2 firmware and later only)
type CdjStatus struct {
	base
	FirmwareVersion  string
	SourcePlayer     byte
	SourceSlot       byte
	TrackType        byte
	RekordboxID      uint32
	BeatNumber       int32 // -1 if not meaningful
	BeatWithinBar    byte  // 1..4, only meaningful for rekordbox tracks on nexus firmware
	CueCountdown     uint16
	PacketCounter    uint32
	YieldingToDevice byte

	// HasNexusFields and NexusBeatWithinBar are set only when the packet
	// this CdjStatus was decoded from (or will be encoded to) met the
	// Nexus-tier length in spec.md §4.A; zero otherwise.
	HasNexusFields     bool
	NexusBeatWithinBar byte

	// HasNexus2Fields and Nexus2Pitch are set only at the Nexus-2-tier
	// length in spec.md §4.A; zero otherwise. Nexus-2 firmware reports a
	// second, independent pitch value alongside the one at offset 27.
	HasNexus2Fields bool
	Nexus2Pitch     int32
}

const (
	// cdjCoreFieldsLen is the payload length holding the fields every
	// firmware tier reports (offsets 0..30); it is the minimum a payload
	// must carry to be decodable at all, and the boundary IsMixerStatusPayload
	// uses to tell a short MixerStatus payload from a CdjStatus one.
	cdjCoreFieldsLen = 31

	// cdjPayloadMinLen/cdjPayloadNexusLen/cdjPayloadNexus2Len are
	// MinCdjStatusLen/MinCdjStatusNexusLen/MinCdjStatusNexus2Len (packet.go)
	// expressed as payload lengths, so EncodeCdjStatus can pad (or extend)
	// its output to whichever spec.md §4.A demands for the emitted tier.
	cdjPayloadMinLen    = MinCdjStatusLen - headerLen
	cdjPayloadNexusLen  = MinCdjStatusNexusLen - headerLen
	cdjPayloadNexus2Len = MinCdjStatusNexus2Len - headerLen

	cdjNexusBeatWithinBarOffset = cdjCoreFieldsLen
	cdjNexus2PitchOffset        = cdjNexusBeatWithinBarOffset + 1
)

// DecodeCdjStatus decodes the payload of a CDJ status packet. Fields beyond
// the first 31 bytes are read only when the payload is long enough to carry
// them (spec.md §4.A: "interpret field presence conditionally on packet
// length"); callers have already established (via IsCdjStatus) that this
// packet should be treated as a CdjStatus.
func DecodeCdjStatus(h Header, receivedAtNanos int64) (CdjStatus, error) {
	p := h.Payload
	if len(p) < cdjCoreFieldsLen {
		return CdjStatus{}, fmt.Errorf("%w: cdj status payload %d < %d", ErrShortPacket, len(p), cdjCoreFieldsLen)
	}
	onAir, synced, master, playing := decodeFlags(p[23])
	s := CdjStatus{
		base: base{
			deviceNumber: p[0],
			deviceName:   h.DeviceName,
			receivedAt:   receivedAtNanos,
			onAir:        onAir,
			synced:       synced,
			master:       master,
			playing:      playing,
			milliBPM:     BPMToMilliBPM(binary.BigEndian.Uint16(p[25:27])),
			pitchRaw:     int32(binary.BigEndian.Uint32(p[27:31])),
		},
		FirmwareVersion:  trimPadded(p[1:5]),
		SourcePlayer:     p[5],
		SourceSlot:       p[6],
		TrackType:        p[7],
		RekordboxID:      binary.BigEndian.Uint32(p[8:12]),
		BeatNumber:       int32(binary.BigEndian.Uint32(p[12:16])),
		BeatWithinBar:    p[16],
		CueCountdown:     binary.BigEndian.Uint16(p[17:19]),
		PacketCounter:    binary.BigEndian.Uint32(p[19:23]),
		YieldingToDevice: p[24],
	}
	if len(p) >= cdjPayloadNexusLen {
		s.HasNexusFields = true
		s.NexusBeatWithinBar = p[cdjNexusBeatWithinBarOffset]
	}
	if len(p) >= cdjPayloadNexus2Len {
		s.HasNexus2Fields = true
		s.Nexus2Pitch = int32(binary.BigEndian.Uint32(p[cdjNexus2PitchOffset : cdjNexus2PitchOffset+4]))
	}
	return s, nil
}

// EncodeCdjStatus renders s back onto the wire, used by the virtual player
// when it is configured to emit its own status packets. The payload is
// padded to at least MinCdjStatusLen's worth of bytes so the result is
// accepted by IsCdjStatus (spec.md §4.A); it grows further, and carries the
// matching extra fields, when s reports Nexus or Nexus-2 tier fields.
func EncodeCdjStatus(deviceName string, s CdjStatus) []byte {
	payloadLen := cdjPayloadMinLen
	switch {
	case s.HasNexus2Fields:
		payloadLen = cdjPayloadNexus2Len
	case s.HasNexusFields:
		payloadLen = cdjPayloadNexusLen
	}
	p := make([]byte, payloadLen)
	p[0] = s.deviceNumber
	copy(p[1:5], padASCII(s.FirmwareVersion, 4))
	p[5] = s.SourcePlayer
	p[6] = s.SourceSlot
	p[7] = s.TrackType
	binary.BigEndian.PutUint32(p[8:12], s.RekordboxID)
	binary.BigEndian.PutUint32(p[12:16], uint32(s.BeatNumber))
	p[16] = s.BeatWithinBar
	binary.BigEndian.PutUint16(p[17:19], s.CueCountdown)
	binary.BigEndian.PutUint32(p[19:23], s.PacketCounter)
	p[23] = encodeFlags(s.onAir, s.synced, s.master, s.playing)
	p[24] = s.YieldingToDevice
	binary.BigEndian.PutUint16(p[25:27], MilliBPMToRaw(s.milliBPM))
	binary.BigEndian.PutUint32(p[27:31], uint32(s.pitchRaw))
	if payloadLen >= cdjPayloadNexusLen {
		p[cdjNexusBeatWithinBarOffset] = s.NexusBeatWithinBar
	}
	if payloadLen >= cdjPayloadNexus2Len {
		binary.BigEndian.PutUint32(p[cdjNexus2PitchOffset:cdjNexus2PitchOffset+4], uint32(s.Nexus2Pitch))
	}
	h := Header{Type: TypeDeviceAnnounce, DeviceName: deviceName, Subtype: 0x01}
	return MarshalHeader(h, p)
}

// NewCdjStatus constructs a CdjStatus for local emission (no RekordboxID
// beyond what the caller supplies); device number, name, tempo, pitch and
// flags come from the parameters, and the caller may set further exported
// fields before EncodeCdjStatus is called. Kept as a plain struct literal helper so the
// virtual player's sender thread can build one without exporting base.
func NewCdjStatus(deviceNumber byte, deviceName string, milliBPM int, pitchRaw int32, onAir, synced, master, playing bool) CdjStatus {
	return CdjStatus{
		base: base{
			deviceNumber: deviceNumber,
			deviceName:   deviceName,
			milliBPM:     milliBPM,
			pitchRaw:     pitchRaw,
			onAir:        onAir,
			synced:       synced,
			master:       master,
			playing:      playing,
		},
		BeatNumber: -1,
	}
}

func padASCII(s string, n int) []byte {
	b := make([]byte, n)
	copy(b, s)
	return b
}

// MixerStatus is a decoded mixer (DJM) status packet. It shares the same
// flags/tempo/pitch layout as CdjStatus but carries none of the track or
// slot fields, and the payload is consequently shorter — that length
// difference is exactly what disambiguates a MixerStatus from a CdjStatus
// on the wire (both share packet Type 0x0a).
//
//	off  0  device number      (1 byte)
//	off  1  status flags       (1 byte)
//	off  2  tempo               (2 bytes)
//	off  4  pitch               (4 bytes)
type MixerStatus struct {
	base
}

const mixerPayloadLen = 8

// IsMixerStatusPayload reports whether a payload of this length (for a
// 0x0a-type packet) falls in the MixerStatus range (8 to 30 bytes) rather
// than the CdjStatus range. The check is by length only: an announcement
// payload whose length falls in that range also matches.
func IsMixerStatusPayload(payloadLen int) bool {
	return payloadLen >= mixerPayloadLen && payloadLen < cdjCoreFieldsLen
}

func DecodeMixerStatus(h Header, receivedAtNanos int64) (MixerStatus, error) {
	p := h.Payload
	if len(p) < mixerPayloadLen {
		return MixerStatus{}, fmt.Errorf("%w: mixer status payload %d < %d", ErrShortPacket, len(p), mixerPayloadLen)
	}
	onAir, synced, master, playing := decodeFlags(p[1])
	return MixerStatus{base: base{
		deviceNumber: p[0],
		deviceName:   h.DeviceName,
		receivedAt:   receivedAtNanos,
		onAir:        onAir,
		synced:       synced,
		master:       master,
		playing:      playing,
		milliBPM:     BPMToMilliBPM(binary.BigEndian.Uint16(p[2:4])),
		pitchRaw:     int32(binary.BigEndian.Uint32(p[4:8])),
	}}, nil
}

// Beat is a decoded beat-announcement packet (spec.md §3, §4.C).
//
//	off 0  device number    (1 byte)
//	off 1  beat within bar  (1 byte, 1..4)
//	off 2  status flags     (1 byte)
//	off 3  tempo            (2 bytes)
//	off 5  pitch            (4 bytes)
type Beat struct {
	base
	BeatWithinBar byte
}

const beatPayloadLen = 9

func DecodeBeat(h Header, receivedAtNanos int64) (Beat, error) {
	p := h.Payload
	if len(p) < beatPayloadLen {
		return Beat{}, fmt.Errorf("%w: beat payload %d < %d", ErrShortPacket, len(p), beatPayloadLen)
	}
	onAir, synced, master, playing := decodeFlags(p[2])
	return Beat{
		base: base{
			deviceNumber: p[0],
			deviceName:   h.DeviceName,
			receivedAt:   receivedAtNanos,
			onAir:        onAir,
			synced:       synced,
			master:       master,
			playing:      playing,
			milliBPM:     BPMToMilliBPM(binary.BigEndian.Uint16(p[3:5])),
			pitchRaw:     int32(binary.BigEndian.Uint32(p[5:9])),
		},
		BeatWithinBar: p[1],
	}, nil
}

func EncodeBeat(deviceName string, deviceNumber byte, beatWithinBar byte, milliBPM int, pitchRaw int32, master bool) []byte {
	p := make([]byte, beatPayloadLen)
	p[0] = deviceNumber
	p[1] = beatWithinBar
	p[2] = encodeFlags(false, false, master, true)
	binary.BigEndian.PutUint16(p[3:5], MilliBPMToRaw(milliBPM))
	binary.BigEndian.PutUint32(p[5:9], uint32(pitchRaw))
	h := Header{Type: TypeBeat, DeviceName: deviceName, Subtype: 0x01}
	return MarshalHeader(h, p)
}

package protocol

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Announcement is the identity record a peer broadcasts roughly every
// 1.5s on port 50000 (spec.md §3 "Device Announcement").
//
// Wire layout of the payload:
//
//	off 0  device number   (1 byte; 0xff while still negotiating)
//	off 1  MAC address     (6 bytes)
//	off 7  IPv4 address    (4 bytes)
type Announcement struct {
	DeviceName   string
	DeviceNumber byte
	MAC          net.HardwareAddr
	IP           net.IP
}

const announcePayloadLen = 11

// UnassignedDeviceNumber is the sentinel device-number byte a peer sends
// while it has not yet claimed one (seen on channel-announcement packets
// during the negotiation window).
const UnassignedDeviceNumber = 0xff

func DecodeAnnouncement(h Header) (Announcement, error) {
	p := h.Payload
	if len(p) < announcePayloadLen {
		return Announcement{}, fmt.Errorf("%w: announcement payload %d < %d", ErrShortPacket, len(p), announcePayloadLen)
	}
	mac := make(net.HardwareAddr, 6)
	copy(mac, p[1:7])
	ip := make(net.IP, 4)
	copy(ip, p[7:11])
	return Announcement{
		DeviceName:   h.DeviceName,
		DeviceNumber: p[0],
		MAC:          mac,
		IP:           ip,
	}, nil
}

func EncodeAnnouncement(a Announcement) []byte {
	p := make([]byte, announcePayloadLen)
	p[0] = a.DeviceNumber
	copy(p[1:7], a.MAC)
	copy(p[7:11], a.IP.To4())
	h := Header{Type: TypeDeviceAnnounce, DeviceName: a.DeviceName, Subtype: 0x02}
	return MarshalHeader(h, p)
}

// EncodeChannelAnnounce builds the 0x0b packet sent while probing a
// candidate device number during startup negotiation (spec.md §4.D step 4).
func EncodeChannelAnnounce(deviceName string, candidateNumber byte) []byte {
	p := []byte{candidateNumber}
	h := Header{Type: TypeChannelAnnounce, DeviceName: deviceName, Subtype: 0x01}
	return MarshalHeader(h, p)
}

// DecodeChannelAnnounce extracts the candidate device number another peer
// is proposing for itself.
func DecodeChannelAnnounce(h Header) (byte, error) {
	if len(h.Payload) < 1 {
		return 0, fmt.Errorf("%w: channel announce payload empty", ErrShortPacket)
	}
	return h.Payload[0], nil
}

// EncodeKeepalive builds the 0x06 device keep-alive packet.
func EncodeKeepalive(deviceName string, deviceNumber byte) []byte {
	h := Header{Type: TypeKeepalive, DeviceName: deviceName, Subtype: 0x01}
	return MarshalHeader(h, []byte{deviceNumber})
}

// MediaDetail describes a mounted media slot (spec.md §3 "Media Detail").
//
//	off  0  device number           (1 byte)
//	off  1  slot                    (1 byte)
//	off  2  name                    (40 bytes, ASCII, NUL padded)
//	off 42  creation date           (24 bytes, ASCII, NUL padded, e.g. "2024-01-02")
//	off 66  track count             (2 bytes)
//	off 68  playlist count          (2 bytes)
//	off 70  has rekordbox database  (1 byte, 0/1)
//	off 71  total size (bytes)      (8 bytes)
//	off 79  free size (bytes)       (8 bytes)
type MediaDetail struct {
	DeviceNumber      byte
	Slot              byte
	Name              string
	CreationDate      string
	TrackCount        uint16
	PlaylistCount     uint16
	HasRekordboxDB    bool
	TotalSizeBytes    uint64
	FreeSizeBytes     uint64
}

const mediaDetailPayloadLen = 87

func DecodeMediaDetail(h Header) (MediaDetail, error) {
	p := h.Payload
	if len(p) < mediaDetailPayloadLen {
		return MediaDetail{}, fmt.Errorf("%w: media detail payload %d < %d", ErrShortPacket, len(p), mediaDetailPayloadLen)
	}
	return MediaDetail{
		DeviceNumber:   p[0],
		Slot:           p[1],
		Name:           trimPadded(p[2:42]),
		CreationDate:   trimPadded(p[42:66]),
		TrackCount:     binary.BigEndian.Uint16(p[66:68]),
		PlaylistCount:  binary.BigEndian.Uint16(p[68:70]),
		HasRekordboxDB: p[70] != 0,
		TotalSizeBytes: binary.BigEndian.Uint64(p[71:79]),
		FreeSizeBytes:  binary.BigEndian.Uint64(p[79:87]),
	}, nil
}

func EncodeMediaDetail(deviceName string, d MediaDetail) []byte {
	p := make([]byte, mediaDetailPayloadLen)
	p[0] = d.DeviceNumber
	p[1] = d.Slot
	copy(p[2:42], padASCII(d.Name, 40))
	copy(p[42:66], padASCII(d.CreationDate, 24))
	binary.BigEndian.PutUint16(p[66:68], d.TrackCount)
	binary.BigEndian.PutUint16(p[68:70], d.PlaylistCount)
	if d.HasRekordboxDB {
		p[70] = 1
	}
	binary.BigEndian.PutUint64(p[71:79], d.TotalSizeBytes)
	binary.BigEndian.PutUint64(p[79:87], d.FreeSizeBytes)
	h := Header{Type: TypeMediaResponse, DeviceName: deviceName, Subtype: 0x01}
	return MarshalHeader(h, p)
}

// EncodeMediaQuery builds the request a virtual player sends to ask a
// target device to describe what is mounted in slot.
func EncodeMediaQuery(deviceName string, targetDevice, slot byte) []byte {
	h := Header{Type: TypeMediaQuery, DeviceName: deviceName, Subtype: 0x01}
	return MarshalHeader(h, []byte{targetDevice, slot})
}

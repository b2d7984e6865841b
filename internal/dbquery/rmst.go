// Package dbquery implements the dbserver Query Engine (spec.md §4.G):
// transaction IDs, simple request/response, the R:M:S:T composite
// argument, menu pagination, and binary payload extraction, all built on
// top of the connections internal/dbconn allocates and pools.
package dbquery

// Menu identifiers, the M component of R:M:S:T (spec.md §4.G).
const (
	MenuMain  byte = 1
	MenuSub   byte = 2
	MenuTrack byte = 3
	MenuSort  byte = 5
	MenuData  byte = 8
)

// Slot identifiers, the S component of R:M:S:T (spec.md §4.G).
const (
	SlotNone       byte = 0
	SlotCD         byte = 1
	SlotSD         byte = 2
	SlotUSB        byte = 3
	SlotCollection byte = 4
)

// Track type identifiers, the T component of R:M:S:T (spec.md §4.G).
const (
	TrackTypeNone           byte = 0
	TrackTypeRekordbox      byte = 1
	TrackTypeUnanalyzed     byte = 2
	TrackTypeCDDigitalAudio byte = 5
)

// ComposeRMST assembles the 4-byte big-endian R:M:S:T argument that opens
// most dbserver requests: (requester<<24) | (menu<<16) | (slot<<8) | trackType.
func ComposeRMST(requester byte, menu, slot, trackType byte) uint32 {
	return uint32(requester)<<24 | uint32(menu)<<16 | uint32(slot)<<8 | uint32(trackType)
}

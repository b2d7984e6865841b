package dbproto

// Message type codes used on the dbserver TCP protocol (spec.md §4.F/§4.G).
// SETUP_REQ and MENU_AVAILABLE are the two values spec.md's scenario 3
// pins literally; the rest follow the same numbering family the setup
// handshake establishes.
const (
	TypeSetupReq      uint16 = 0x0000
	TypeMenuAvailable uint16 = 0x4000
	TypeMenuHeader    uint16 = 0x4001
	TypeMenuItem      uint16 = 0x4002
	TypeMenuFooter    uint16 = 0x4003

	TypeRenderMenuReq uint16 = 0x3000

	TypeAlbumArtReq    uint16 = 0x2003
	TypeWavePreviewReq uint16 = 0x2104
	TypeWaveDetailReq  uint16 = 0x2204
	TypeBeatGridReq    uint16 = 0x2304
	TypeCueListReq     uint16 = 0x2b00
	TypeAnlzTagReq     uint16 = 0x2c00

	// Root and sub menu request types; dbquery composes these with the
	// R:M:S:T argument to ask for a specific listing.
	TypeRootMenuReq uint16 = 0x1000
	TypeSubMenuReq  uint16 = 0x1001
)

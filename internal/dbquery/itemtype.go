package dbquery

// ItemType identifies the shape of a MENU_ITEM response, carried in its
// 7th argument position (spec.md §4.G, §GLOSSARY "Menu item type").
type ItemType uint32

// Known item-type codes. The glossary lists roughly 60; this enumerates
// the common ones a browsing client needs to render track and folder
// listings. Anything else decodes to ItemTypeUnknown rather than failing
// the query.
const (
	ItemTypeUnknown ItemType = iota
	ItemTypeFolder
	ItemTypeAlbumTitle
	ItemTypeDiscTitle
	ItemTypeTrackTitle
	ItemTypeGenre
	ItemTypeArtist
	ItemTypePlaylist
	ItemTypeRating
	ItemTypeDuration
	ItemTypeTempo
	ItemTypeKey
	ItemTypeBitRate
	ItemTypeYear
	ItemTypeLabel
	ItemTypeOriginalArtist
	ItemTypeRemixer
	ItemTypeComment
	ItemTypeDateAdded
	ItemTypeHistoryPlaylist
	ItemTypeFilename
	ItemTypeColorNone
	ItemTypeColorPink
	ItemTypeColorRed
	ItemTypeColorOrange
	ItemTypeColorYellow
	ItemTypeColorGreen
	ItemTypeColorAqua
	ItemTypeColorBlue
	ItemTypeColorPurple
)

var itemTypeCodes = map[ItemType]uint32{
	ItemTypeFolder:          0x0001,
	ItemTypeAlbumTitle:      0x0002,
	ItemTypeDiscTitle:       0x0003,
	ItemTypeTrackTitle:      0x0004,
	ItemTypeGenre:           0x0006,
	ItemTypeArtist:          0x0007,
	ItemTypePlaylist:        0x0008,
	ItemTypeRating:          0x000a,
	ItemTypeDuration:        0x000b,
	ItemTypeTempo:           0x000d,
	ItemTypeKey:             0x000f,
	ItemTypeBitRate:         0x0010,
	ItemTypeYear:            0x0011,
	ItemTypeLabel:           0x0012,
	ItemTypeOriginalArtist:  0x0013,
	ItemTypeRemixer:         0x0014,
	ItemTypeComment:         0x0017,
	ItemTypeDateAdded:       0x0019,
	ItemTypeHistoryPlaylist: 0x0107,
	ItemTypeFilename:        0x001a,
	ItemTypeColorNone:       0x0030,
	ItemTypeColorPink:       0x0031,
	ItemTypeColorRed:        0x0032,
	ItemTypeColorOrange:     0x0033,
	ItemTypeColorYellow:     0x0034,
	ItemTypeColorGreen:      0x0035,
	ItemTypeColorAqua:       0x0036,
	ItemTypeColorBlue:       0x0037,
	ItemTypeColorPurple:     0x0038,
}

var codeToItemType map[uint32]ItemType

func init() {
	codeToItemType = make(map[uint32]ItemType, len(itemTypeCodes))
	for t, code := range itemTypeCodes {
		codeToItemType[code] = t
	}
}

// DecodeItemType maps a MENU_ITEM's raw 7th-argument code to an ItemType,
// returning ItemTypeUnknown for any code not in the known set rather than
// failing the query.
func DecodeItemType(code uint32) ItemType {
	if t, ok := codeToItemType[code]; ok {
		return t
	}
	return ItemTypeUnknown
}

package dbconn

import (
	"fmt"

	"github.com/beatlink/djlink/internal/djerr"
)

// choosePosingNumber implements spec.md §4.F "Allocating a client": the
// Virtual Player's own number is used directly when it is itself a
// standard player (1-4), or when target is outside the range where real
// players enforce that restriction (>15, e.g. rekordbox/compound
// targets). Otherwise the first live player in candidates that is not
// currently sourcing target's loaded track is borrowed.
//
// candidates lists the device numbers (1-4) of other live players,
// already excluding self. sourceOf maps a device number to the device
// number it is currently sourcing its loaded track from, per the most
// recent status seen for it; a device absent from sourceOf is treated as
// not sourcing from anyone.
func choosePosingNumber(self, target byte, candidates []byte, sourceOf map[byte]byte) (byte, error) {
	selfEligible := self >= 1 && self <= 4
	if self != 0 && (selfEligible || target > 15) {
		return self, nil
	}

	for _, n := range candidates {
		if sourceOf[n] == target {
			continue
		}
		return n, nil
	}
	return 0, fmt.Errorf("dbconn: %w: no live player 1-4 free to pose for target %d", djerr.ErrNoPosingNumber, target)
}

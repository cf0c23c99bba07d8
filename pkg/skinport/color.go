package skinport

import (
	"fmt"
	"strconv"
	"strings"
)

// Color is a 24-bit RGB value as used for rarity and background colours.
type Color uint32

// ParseColor accepts "#rrggbb" or "rrggbb".
func ParseColor(s string) (Color, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimSpace(s), "#"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return Color(v), nil
}

func (c Color) R() uint8 { return uint8(c >> 16) }
func (c Color) G() uint8 { return uint8(c >> 8) }
func (c Color) B() uint8 { return uint8(c) }

func (c Color) RGB() (r, g, b uint8) {
	return c.R(), c.G(), c.B()
}

func (c Color) String() string {
	return fmt.Sprintf("#%06x", uint32(c))
}

// UnmarshalText lets Color decode from JSON strings.
func (c *Color) UnmarshalText(b []byte) error {
	v, err := ParseColor(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// MarketHashName builds the market name of an item with a wear tier, for
// example "AK-47 | Redline (Field-Tested)".
func MarketHashName(name string, exterior Exterior) string {
	return fmt.Sprintf("%s (%s)", name, exterior)
}

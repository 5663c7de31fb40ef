package content

import (
	"fmt"
	"strings"
)

// Mode selects what a group receives on a regular day.
type Mode string

const (
	ModeText    Mode = "text"
	ModeImage   Mode = "image"
	ModeSticker Mode = "sticker"
	ModeMixed   Mode = "mixed"
)

// DefaultMode applies to groups that never set a mode.
const DefaultMode = ModeMixed

// Modes lists the accepted modes in display order.
var Modes = []Mode{ModeText, ModeImage, ModeSticker, ModeMixed}

// ParseMode accepts exactly one of the four modes (case-insensitive).
func ParseMode(raw string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(raw)))
	switch m {
	case ModeText, ModeImage, ModeSticker, ModeMixed:
		return m, nil
	}
	return "", fmt.Errorf("unknown mode %q", raw)
}

// Kind is the shape of a payload on the wire.
type Kind string

const (
	KindText    Kind = "text"
	KindPhoto   Kind = "photo"
	KindSticker Kind = "sticker"
)

// Payload is what a single firing sends.
type Payload struct {
	Kind      Kind
	Text      string
	ImageURL  string
	Caption   string
	StickerID string

	// Fallback is true when the rotator's pair replaced a failed fetch.
	Fallback bool
	// Source names where the content came from ("quote", "image",
	// "fallback", "stickers", "mixed_stickers", "festival").
	Source string
}

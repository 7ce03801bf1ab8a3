package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
)

// Theme holds the colors of the room view.
type Theme struct {
	BgColor        tcell.Color
	FgColor        tcell.Color
	BorderColor    tcell.Color
	TitleColor     tcell.Color
	KeyColor       tcell.Color
	SelfColor      tcell.Color
	PendingColor   tcell.Color
	PresenceColor  tcell.Color
	RecordingColor tcell.Color
	FlashInfoColor tcell.Color
	FlashWarnColor tcell.Color
	FlashErrColor  tcell.Color
}

// DefaultTheme returns the dark theme.
func DefaultTheme() *Theme {
	return &Theme{
		BgColor:        tcell.ColorBlack,
		FgColor:        tcell.ColorCadetBlue,
		BorderColor:    tcell.ColorDodgerBlue,
		TitleColor:     tcell.ColorFuchsia,
		KeyColor:       tcell.ColorDodgerBlue,
		SelfColor:      tcell.ColorAqua,
		PendingColor:   tcell.ColorGray,
		PresenceColor:  tcell.ColorNavajoWhite,
		RecordingColor: tcell.ColorOrangeRed,
		FlashInfoColor: tcell.ColorNavajoWhite,
		FlashWarnColor: tcell.ColorOrange,
		FlashErrColor:  tcell.ColorOrangeRed,
	}
}

// Tag returns c as a tview color tag value.
func Tag(c tcell.Color) string {
	return fmt.Sprintf("#%06x", c.Hex())
}

package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/roomsync/internal/status"
	"github.com/rivo/tview"
)

// StatusBar shows the profile, room, sync mode and key hints.
type StatusBar struct {
	*tview.TextView
	profile string
	roomID  int64
	status  status.State
	hints   []string
}

// NewStatusBar creates a status bar for one room.
func NewStatusBar(profile string, roomID int64) *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	sb := &StatusBar{TextView: tv, profile: profile, roomID: roomID}
	sb.render()
	return sb
}

// SetSync updates the sync mode display.
func (sb *StatusBar) SetSync(s status.State) {
	sb.status = s
	sb.render()
}

// SetHints updates the key hints.
func (sb *StatusBar) SetHints(hints []string) {
	sb.hints = hints
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()
	_, _ = fmt.Fprint(sb, sb.Line(time.Now()))
}

// Line renders the bar contents at now.
func (sb *StatusBar) Line(now time.Time) string {
	var mode string
	switch sb.status {
	case status.PushActive:
		mode = "[green]live[-]"
	case status.Polling:
		mode = "[yellow]polling[-]"
	case status.Stopped:
		mode = "[red]stopped[-]"
	default:
		mode = "[yellow]connecting[-]"
	}

	line := fmt.Sprintf(" [::b]%s[-:-:-] | room %d | %s | %s",
		tview.Escape(sb.profile), sb.roomID, mode, now.Format("15:04"))
	if len(sb.hints) > 0 {
		line += " | " + strings.Join(sb.hints, "  ")
	}
	return line
}

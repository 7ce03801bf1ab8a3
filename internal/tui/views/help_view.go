package views

import (
	"fmt"
	"strings"

	"github.com/matheus3301/roomsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// HelpView lists keys and composer commands.
type HelpView struct {
	*tview.TextView
}

// NewHelpView creates the help page.
func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.TitleColor)

	hv := &HelpView{TextView: tv}
	_, _ = fmt.Fprint(hv, helpText(ui.Tag(theme.KeyColor)))
	return hv
}

func helpText(kc string) string {
	row := func(key, desc string) string {
		return fmt.Sprintf("  [%s]%-22s[-:-:-] %s\n", kc, tview.Escape(key), desc)
	}
	var b strings.Builder
	b.WriteString("\n  [::b]Keys[-:-:-]\n\n")
	b.WriteString(row("Enter", "Send the composer line"))
	b.WriteString(row("Ctrl-R", "Start a locked voice recording"))
	b.WriteString(row("Ctrl-S", "Stop and send the recording"))
	b.WriteString(row("Ctrl-X", "Discard the recording"))
	b.WriteString(row("F1", "Toggle this help"))
	b.WriteString(row("Esc", "Close help"))
	b.WriteString(row("Ctrl-C", "Quit"))
	b.WriteString("\n  [::b]Commands[-:-:-]\n\n")
	b.WriteString(row("/sticker <id>", "Send a sticker"))
	b.WriteString(row("/image <path> [caption]", "Upload an image"))
	b.WriteString(row("/video <path> [caption]", "Upload a video"))
	b.WriteString(row("/delete <message id>", "Delete one of your messages"))
	b.WriteString(row("/help", "Show this help"))
	b.WriteString(row("/quit", "Quit"))
	return b.String()
}

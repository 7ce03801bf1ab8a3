package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/roomsync/internal/chat"
	"github.com/matheus3301/roomsync/internal/presence"
	"github.com/matheus3301/roomsync/internal/tui/ui"
	"github.com/matheus3301/roomsync/internal/voice"
	"github.com/rivo/tview"
)

// Thread shows the room timeline, who is typing or recording, the voice
// recorder and the composer.
type Thread struct {
	*tview.Flex
	theme    *ui.Theme
	selfID   int64
	messages *tview.TextView
	activity *tview.TextView
	composer *tview.InputField
	onSend   func(text string)
	onInput  func()
}

// NewThread creates the room view for the local user selfID.
func NewThread(theme *ui.Theme, roomTitle string, selfID int64) *Thread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitle(fmt.Sprintf(" %s ", roomTitle))
	messages.SetTitleColor(theme.TitleColor)

	activity := tview.NewTextView().
		SetDynamicColors(true)
	activity.SetBackgroundColor(theme.BgColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.KeyColor)
	composer.SetTitle(" Message (/help for commands) ")
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, false).
		AddItem(activity, 1, 0, false).
		AddItem(composer, 3, 0, true)

	t := &Thread{
		Flex:     flex,
		theme:    theme,
		selfID:   selfID,
		messages: messages,
		activity: activity,
		composer: composer,
	}

	composer.SetChangedFunc(func(text string) {
		if text != "" && t.onInput != nil {
			t.onInput()
		}
	})
	composer.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter || t.onSend == nil {
			return
		}
		if text := strings.TrimSpace(composer.GetText()); text != "" {
			t.onSend(text)
			composer.SetText("")
		}
	})

	return t
}

// SetOnSend sets the callback for a submitted composer line.
func (t *Thread) SetOnSend(fn func(text string)) {
	t.onSend = fn
}

// SetOnInput sets the callback run on every edit leaving text in the composer.
func (t *Thread) SetOnInput(fn func()) {
	t.onInput = fn
}

// Composer returns the input field for focus management.
func (t *Thread) Composer() *tview.InputField {
	return t.composer
}

// Update redraws the timeline, oldest first.
func (t *Thread) Update(msgs []chat.Message) {
	t.messages.Clear()
	now := time.Now()
	for _, m := range msgs {
		_, _ = fmt.Fprint(t.messages, FormatMessage(t.theme, m, t.selfID, now))
	}
	t.messages.ScrollToEnd()
}

// SetActivity shows the recorder line while recording, else the presence line.
func (t *Thread) SetActivity(snap presence.Snapshot, rec Recorder) {
	t.activity.Clear()
	line := RecorderLine(t.theme, rec)
	if line == "" {
		line = PresenceLine(t.theme, snap)
	}
	_, _ = fmt.Fprint(t.activity, line)
}

// FormatMessage renders one timeline entry.
func FormatMessage(theme *ui.Theme, m chat.Message, selfID int64, now time.Time) string {
	sender := m.SenderName
	if sender == "" {
		sender = fmt.Sprintf("user %d", m.SenderID)
	}
	color := ui.Tag(theme.FgColor)
	if m.SenderID == selfID {
		sender = "You"
		color = ui.Tag(theme.SelfColor)
	}

	meta := formatTimestamp(m.CreatedAt, now)
	if m.Optimistic() {
		meta = fmt.Sprintf("[%s]sending…[-]", ui.Tag(theme.PendingColor))
	} else if m.ID > 0 {
		meta = fmt.Sprintf("%s #%d", meta, m.ID)
	}

	return fmt.Sprintf("[%s::b]%s[-:-:-] [::d]%s[-:-:-]\n%s\n\n",
		color, tview.Escape(sanitizeForTerminal(sender)), meta,
		tview.Escape(sanitizeForTerminal(body(m))))
}

func body(m chat.Message) string {
	switch m.Type {
	case chat.Sticker:
		return "[sticker] " + m.Content
	case chat.Audio:
		return fmt.Sprintf("[voice %s]", clock(m.Duration))
	case chat.Image, chat.Video:
		ref := m.FileReference
		if ref == "" {
			ref = m.Preview
		}
		s := fmt.Sprintf("[%s] %s", m.Type, ref)
		if m.Type == chat.Video && m.Duration > 0 {
			s += " " + clock(m.Duration)
		}
		if m.Content != "" {
			s += "\n" + m.Content
		}
		return s
	}
	return m.Content
}

// PresenceLine describes who is typing and who is recording.
func PresenceLine(theme *ui.Theme, snap presence.Snapshot) string {
	var parts []string
	if s := describe(snap.Recording, "is recording a voice message", "are recording"); s != "" {
		parts = append(parts, fmt.Sprintf("[%s]%s[-]", ui.Tag(theme.RecordingColor), s))
	}
	if s := describe(snap.Typing, "is typing…", "are typing…"); s != "" {
		parts = append(parts, fmt.Sprintf("[%s]%s[-]", ui.Tag(theme.PresenceColor), s))
	}
	if len(parts) == 0 {
		return ""
	}
	return " " + strings.Join(parts, "  ")
}

func describe(entries []chat.PresenceEntry, one, many string) string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.DisplayName
		if name == "" {
			name = fmt.Sprintf("user %d", e.UserID)
		}
		names = append(names, tview.Escape(sanitizeForTerminal(name)))
	}
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " " + one
	case 2:
		return names[0] + " and " + names[1] + " " + many
	}
	return fmt.Sprintf("%s, %s and %d others %s", names[0], names[1], len(names)-2, many)
}

// Recorder is the voice controller state shown in the activity line.
type Recorder struct {
	Phase    voice.Phase
	Elapsed  int
	Waveform []float64
}

var bars = []rune("▁▂▃▄▅▆▇█")

// RecorderLine renders a live recording, or "" when the recorder is idle.
func RecorderLine(theme *ui.Theme, r Recorder) string {
	var hint string
	switch r.Phase {
	case voice.Holding:
		hint = "release to send"
	case voice.Locked:
		hint = "Ctrl-S send  Ctrl-X discard"
	case voice.Cancelling:
		hint = "release to discard"
	default:
		return ""
	}

	var wave strings.Builder
	for _, v := range r.Waveform {
		i := int(v * float64(len(bars)-1))
		wave.WriteRune(bars[min(max(i, 0), len(bars)-1)])
	}
	return fmt.Sprintf(" [%s::b]● REC[-:-:-] %s %s  [::d]%s[-:-:-]",
		ui.Tag(theme.RecordingColor), clock(r.Elapsed), wave.String(), hint)
}

func clock(seconds int) string {
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

func formatTimestamp(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.Local()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02 15:04")
}

package views

import (
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/roomsync/internal/chat"
	"github.com/matheus3301/roomsync/internal/presence"
	"github.com/matheus3301/roomsync/internal/status"
	"github.com/matheus3301/roomsync/internal/tui/ui"
	"github.com/matheus3301/roomsync/internal/voice"
)

func TestSanitizeForTerminal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"skin tone", "\U0001F44D\U0001F3FB", "\U0001F44D"},
		{"zwj sequence", "\U0001F468\u200d\U0001F469", "\U0001F468\U0001F469"},
		{"variation selector", "\u2764\ufe0f", "\u2764"},
		{"escape sequence", "hi\x1b[2Jthere", "hi[2Jthere"},
		{"newline kept", "a\nb\tc", "a\nb\tc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeForTerminal(tt.in); got != tt.want {
				t.Errorf("sanitizeForTerminal(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatMessage(t *testing.T) {
	theme := ui.DefaultTheme()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)

	tests := []struct {
		name string
		msg  chat.Message
		want []string
	}{
		{
			name: "other member text",
			msg:  chat.Message{ID: 12, SenderID: 2, SenderName: "ana", Type: chat.Text, Content: "hi", CreatedAt: now.Add(-time.Hour)},
			want: []string{"ana", "11:00 #12", "\nhi\n"},
		},
		{
			name: "own pending echo",
			msg:  chat.Message{ID: -1, SenderID: 1, Type: chat.Image, Preview: "/tmp/p.png"},
			want: []string{"You", "sending…", "/tmp/p.png"},
		},
		{
			name: "voice",
			msg:  chat.Message{ID: 5, SenderID: 3, Type: chat.Audio, Duration: 75},
			want: []string{"user 3", "voice 1:15"},
		},
		{
			name: "sticker escaped",
			msg:  chat.Message{ID: 6, SenderID: 3, Type: chat.Sticker, Content: "party"},
			want: []string{"[sticker[] party"},
		},
		{
			name: "older day",
			msg:  chat.Message{ID: 7, SenderID: 2, Content: "x", CreatedAt: now.AddDate(0, 0, -2)},
			want: []string{"04/29 12:00"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatMessage(theme, tt.msg, 1, now)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("FormatMessage() = %q, missing %q", got, w)
				}
			}
		})
	}
}

func TestPresenceLine(t *testing.T) {
	theme := ui.DefaultTheme()
	entry := func(id int64, name string) chat.PresenceEntry {
		return chat.PresenceEntry{UserID: id, DisplayName: name}
	}

	tests := []struct {
		name string
		snap presence.Snapshot
		want string
	}{
		{"nobody", presence.Snapshot{}, ""},
		{"one typing", presence.Snapshot{Typing: []chat.PresenceEntry{entry(2, "ana")}}, "ana is typing…"},
		{"two typing", presence.Snapshot{Typing: []chat.PresenceEntry{entry(2, "ana"), entry(3, "bo")}}, "ana and bo are typing…"},
		{"many typing", presence.Snapshot{Typing: []chat.PresenceEntry{entry(2, "a"), entry(3, "b"), entry(4, "c"), entry(5, "d")}}, "a, b and 2 others are typing…"},
		{"recording", presence.Snapshot{Recording: []chat.PresenceEntry{entry(9, "")}}, "user 9 is recording a voice message"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PresenceLine(theme, tt.snap)
			if tt.want == "" {
				if got != "" {
					t.Errorf("PresenceLine() = %q, want empty", got)
				}
				return
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("PresenceLine() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRecorderLine(t *testing.T) {
	theme := ui.DefaultTheme()
	if got := RecorderLine(theme, Recorder{Phase: voice.Idle}); got != "" {
		t.Errorf("idle RecorderLine() = %q, want empty", got)
	}
	got := RecorderLine(theme, Recorder{Phase: voice.Locked, Elapsed: 65, Waveform: []float64{0, 1, 2, -1}})
	for _, w := range []string{"REC", "1:05", "▁██▁", "Ctrl-S"} {
		if !strings.Contains(got, w) {
			t.Errorf("RecorderLine() = %q, missing %q", got, w)
		}
	}
}

func TestThreadActivityPrefersRecorder(t *testing.T) {
	th := NewThread(ui.DefaultTheme(), "Room 7", 1)
	snap := presence.Snapshot{Typing: []chat.PresenceEntry{{UserID: 2, DisplayName: "ana"}}}

	th.SetActivity(snap, Recorder{Phase: voice.Holding})
	if got := th.activity.GetText(false); !strings.Contains(got, "release to send") {
		t.Errorf("activity = %q, want the recorder", got)
	}
	th.SetActivity(snap, Recorder{})
	if got := th.activity.GetText(false); !strings.Contains(got, "ana is typing") {
		t.Errorf("activity = %q, want presence", got)
	}
}

func TestStatusBarLine(t *testing.T) {
	sb := NewStatusBar("main", 7)
	now := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		state status.State
		want  string
	}{
		{status.Booting, "connecting"},
		{status.Polling, "polling"},
		{status.PushActive, "live"},
		{status.Stopped, "stopped"},
	}
	for _, tt := range tests {
		sb.SetSync(tt.state)
		got := sb.Line(now)
		if !strings.Contains(got, tt.want) || !strings.Contains(got, "room 7") || !strings.Contains(got, "09:30") {
			t.Errorf("Line() for %s = %q, want %q", tt.state, got, tt.want)
		}
	}
	sb.SetHints([]string{"F1:help"})
	if !strings.Contains(sb.Line(now), "F1:help") {
		t.Error("hints not rendered")
	}
}

// Package tui is the terminal view of one room: the timeline, presence,
// a text composer with slash commands and a keyboard-driven voice recorder.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/roomsync/internal/bus"
	"github.com/matheus3301/roomsync/internal/presence"
	"github.com/matheus3301/roomsync/internal/room"
	"github.com/matheus3301/roomsync/internal/tui/keys"
	"github.com/matheus3301/roomsync/internal/tui/ui"
	"github.com/matheus3301/roomsync/internal/tui/views"
	"github.com/matheus3301/roomsync/internal/voice"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

const (
	pageRoom = "room"
	pageHelp = "help"
)

// lockGesture is a drag far enough up to latch any lock threshold, so
// keyboard recordings always start Locked.
var lockGesture = voice.Point{Y: -1 << 20}

// App is the main TUI application shell.
type App struct {
	app       *tview.Application
	pages     *ui.Pages
	room      *room.Room
	registry  *keys.Registry
	thread    *views.Thread
	statusBar *views.StatusBar
	flash     *ui.FlashModel
	flashBar  *ui.FlashBar
	logger    *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the view for an opened room.
func NewApp(r *room.Room, profileName string, selfID int64, logger *zap.Logger) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:       tview.NewApplication(),
		pages:     ui.NewPages(),
		room:      r,
		registry:  keys.NewRegistry(),
		thread:    views.NewThread(theme, fmt.Sprintf("Room %d", r.ID()), selfID),
		statusBar: views.NewStatusBar(profileName, r.ID()),
		flash:     ui.NewFlashModel(),
		flashBar:  ui.NewFlashBar(theme),
		logger:    logger.Named("tui"),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout(views.NewHelpView(theme))

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyF1, Description: "F1:help", Visible: true,
		Handler: a.toggleHelp,
	})
	a.registry.AddPage(pageRoom, &keys.Action{
		Key: tcell.KeyCtrlR, Description: "^R:record", Visible: true,
		Handler: a.startRecording,
	})
	a.registry.AddPage(pageRoom, &keys.Action{
		Key: tcell.KeyCtrlS, Description: "^S:send voice",
		Handler: func() { a.endRecording(true) },
	})
	a.registry.AddPage(pageRoom, &keys.Action{
		Key: tcell.KeyCtrlX, Description: "^X:discard voice",
		Handler: func() { a.endRecording(false) },
	})
	a.registry.AddPage(pageHelp, &keys.Action{
		Key: tcell.KeyEscape, Description: "Esc:back", Visible: true,
		Handler: a.toggleHelp,
	})
	a.statusBar.SetHints(a.registry.Hints(pageRoom))
}

func (a *App) setupCallbacks() {
	a.thread.SetOnInput(func() {
		go a.room.Typing(a.ctx)
	})

	a.thread.SetOnSend(func(line string) {
		go func() {
			outcome, err := Execute(a.ctx, a.room.Composer(), line)
			if err != nil {
				a.logger.Warn("composer line failed", zap.Error(err))
				a.flash.Err(err)
			} else if outcome == Deleted {
				a.flash.Info("Message deleted")
			}
			a.app.QueueUpdateDraw(func() {
				switch outcome {
				case ShowHelp:
					a.toggleHelp()
				case Quit:
					a.Stop()
				}
				a.flashBar.Update(a.flash.Current())
			})
		}()
	})
}

func (a *App) setupLayout(help *views.HelpView) {
	a.pages.AddPage(pageRoom, a.thread, true, false)
	a.pages.AddPage(pageHelp, help, true, false)
	a.pages.Push(pageRoom)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.flashBar, 1, 0, false).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)
	a.app.SetFocus(a.thread.Composer())

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if a.registry.HandleEvent(a.pages.Current(), event) {
			return nil
		}
		return event
	})
}

func (a *App) toggleHelp() {
	if a.pages.Current() == pageHelp {
		a.pages.Pop()
		a.app.SetFocus(a.thread.Composer())
	} else {
		a.pages.Push(pageHelp)
	}
	a.statusBar.SetHints(a.registry.Hints(a.pages.Current()))
}

func (a *App) startRecording() {
	v := a.room.Voice()
	if v == nil {
		a.flash.Warn("Voice recording needs voice.source_file in the profile")
		a.flashBar.Update(a.flash.Current())
		return
	}
	go func() {
		if err := v.PressStart(a.ctx, voice.Point{}); err != nil {
			a.flash.Err(err)
			a.queueRefresh(false)
			return
		}
		v.Move(lockGesture)
		v.Release()
	}()
}

func (a *App) endRecording(send bool) {
	v := a.room.Voice()
	if v == nil {
		return
	}
	go func() {
		var err error
		if send {
			err = v.Stop()
		} else {
			err = v.Cancel()
		}
		switch {
		case errors.Is(err, voice.ErrNotRecording):
			a.flash.Warn("Not recording")
		case err != nil:
			a.flash.Err(err)
		case send:
			a.flash.Info("Voice message sent")
		default:
			a.flash.Info("Recording discarded")
		}
		a.queueRefresh(false)
	}()
}

// Run draws the room and blocks until the user quits.
func (a *App) Run() error {
	defer a.cancel()

	events, unsubscribe := a.room.Bus().Subscribe("", 256)
	defer unsubscribe()

	a.refresh(true)
	go a.watch(events)
	return a.app.Run()
}

// watch coalesces bus events into redraws and ticks the clock and flash.
func (a *App) watch(events <-chan bus.Event) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		full := false
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
		case evt := <-events:
			full = a.note(evt)
		drain:
			for {
				select {
				case evt := <-events:
					full = a.note(evt) || full
				default:
					break drain
				}
			}
		}
		a.queueRefresh(full)
	}
}

// note records failures from evt and reports whether the timeline changed.
func (a *App) note(evt bus.Event) bool {
	if evt.Kind == bus.ComposerSendFailed {
		if err, ok := evt.Payload.(error); ok {
			a.flash.Err(err)
		}
	}
	return strings.HasPrefix(evt.Kind, "timeline.")
}

func (a *App) queueRefresh(full bool) {
	if a.ctx.Err() != nil {
		return
	}
	a.app.QueueUpdateDraw(func() { a.refresh(full) })
}

func (a *App) refresh(full bool) {
	if full {
		a.thread.Update(a.room.Timeline().Messages())
	}
	snap := presence.Snapshot{
		Typing:    a.room.Presence().Active(presence.Typing),
		Recording: a.room.Presence().Active(presence.Recording),
	}
	var rec views.Recorder
	if v := a.room.Voice(); v != nil {
		rec = views.Recorder{Phase: v.Phase(), Elapsed: v.Elapsed(), Waveform: v.Waveform()}
	}
	a.thread.SetActivity(snap, rec)
	a.statusBar.SetSync(a.room.Status())
	a.flashBar.Update(a.flash.Current())
}

// Stop shuts the TUI down.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}

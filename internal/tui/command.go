package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/matheus3301/roomsync/internal/chat"
)

// Command is a parsed composer command.
type Command struct {
	Name string
	Args string
}

// ParseCommand splits a composer line. Lines not starting with '/' are
// plain text; "//" escapes a leading slash.
func ParseCommand(line string) (Command, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") || strings.HasPrefix(line, "//") {
		return Command{}, false
	}
	name, args, _ := strings.Cut(line[1:], " ")
	return Command{Name: strings.ToLower(name), Args: strings.TrimSpace(args)}, true
}

// Sender is the composer surface driven by the command line.
type Sender interface {
	SendText(ctx context.Context, text string) (chat.Message, error)
	SendSticker(ctx context.Context, sticker string) (chat.Message, error)
	SendFile(ctx context.Context, path string, typ chat.Type, caption string) (chat.Message, error)
	Delete(ctx context.Context, id int64) error
}

// Outcome tells the view what a composer line did.
type Outcome int

const (
	Sent Outcome = iota
	Deleted
	ShowHelp
	Quit
)

// Execute sends a composer line as text or runs it as a command.
func Execute(ctx context.Context, s Sender, line string) (Outcome, error) {
	cmd, ok := ParseCommand(line)
	if !ok {
		text := strings.TrimSpace(line)
		if strings.HasPrefix(text, "//") {
			text = text[1:]
		}
		_, err := s.SendText(ctx, text)
		return Sent, err
	}

	switch cmd.Name {
	case "help", "h":
		return ShowHelp, nil
	case "quit", "q":
		return Quit, nil
	case "sticker":
		if cmd.Args == "" {
			return Sent, usage("/sticker <id>")
		}
		_, err := s.SendSticker(ctx, cmd.Args)
		return Sent, err
	case "image", "video":
		path, caption, _ := strings.Cut(cmd.Args, " ")
		if path == "" {
			return Sent, usage("/" + cmd.Name + " <path> [caption]")
		}
		_, err := s.SendFile(ctx, path, chat.Type(cmd.Name), strings.TrimSpace(caption))
		return Sent, err
	case "delete":
		id, err := strconv.ParseInt(cmd.Args, 10, 64)
		if err != nil || id <= 0 {
			return Deleted, usage("/delete <message id>")
		}
		return Deleted, s.Delete(ctx, id)
	}
	return Sent, fmt.Errorf("unknown command /%s (try /help)", cmd.Name)
}

func usage(u string) error {
	return fmt.Errorf("usage: %s", u)
}

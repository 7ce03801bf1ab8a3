package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/roomsync/internal/chat"
	"github.com/matheus3301/roomsync/internal/config"
	"github.com/matheus3301/roomsync/internal/daemon"
	"github.com/matheus3301/roomsync/internal/lock"
	"github.com/matheus3301/roomsync/internal/profile"
	"github.com/matheus3301/roomsync/internal/roomapi"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	limitFlag := flag.Int("n", 20, "number of messages for history and search")
	afterFlag := flag.Int64("after", 0, "history: only messages after this id")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fatal(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "profiles":
		cmdProfiles(profileName)
		return
	case "use":
		if len(args) != 2 {
			usageExit("roomctl use <profile>")
		}
		if err := profile.SetDefault(args[1]); err != nil {
			fatal(err)
		}
		fmt.Printf("Default profile: %s\n", args[1])
		return
	}

	cfg, err := profile.Load(profileName)
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	out := output{json: *jsonFlag}
	switch args[0] {
	case "status", "presence", "search":
		c := daemonClient(profileName, cfg)
		defer c.Close()
		switch args[0] {
		case "status":
			cmdStatus(ctx, c, out)
		case "presence":
			cmdPresence(ctx, c, out)
		default:
			if len(args) < 2 {
				usageExit("roomctl search <query>")
			}
			cmdSearch(ctx, c, strings.Join(args[1:], " "), *limitFlag, out)
		}
	case "history", "send", "sticker", "delete":
		if err := cfg.Validate(); err != nil {
			fatal(fmt.Errorf("profile %s: %w", profileName, err))
		}
		api := roomapi.NewClient(cfg.Server.BaseURL, cfg.Server.Token, nil)
		roomID := cfg.Room.ID
		switch args[0] {
		case "history":
			cmdHistory(ctx, api, roomID, *afterFlag, *limitFlag, out)
		case "send":
			if len(args) < 2 {
				usageExit("roomctl send <text>")
			}
			cmdCreate(ctx, api, roomID, chat.Text, strings.Join(args[1:], " "), out)
		case "sticker":
			if len(args) != 2 {
				usageExit("roomctl sticker <id>")
			}
			cmdCreate(ctx, api, roomID, chat.Sticker, args[1], out)
		default:
			if len(args) != 2 {
				usageExit("roomctl delete <message id>")
			}
			cmdDelete(ctx, api, roomID, args[1])
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: roomctl [-profile <name>] [-json] [-n <count>] [-after <id>] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status             Show the daemon's sync status")
	fmt.Fprintln(os.Stderr, "  presence           Show who is typing or recording")
	fmt.Fprintln(os.Stderr, "  search <query>     Search the daemon's message cache")
	fmt.Fprintln(os.Stderr, "  history            Fetch a page of messages from the server")
	fmt.Fprintln(os.Stderr, "  send <text>        Send a text message")
	fmt.Fprintln(os.Stderr, "  sticker <id>       Send a sticker")
	fmt.Fprintln(os.Stderr, "  delete <id>        Delete a message")
	fmt.Fprintln(os.Stderr, "  profiles           List known profiles")
	fmt.Fprintln(os.Stderr, "  use <profile>      Set the default profile")
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func usageExit(u string) {
	fmt.Fprintln(os.Stderr, "usage: "+u)
	os.Exit(1)
}

// daemonClient reaches the profile's daemon on metrics.addr when set,
// else on its socket.
func daemonClient(profileName string, cfg *config.Profile) *daemon.Client {
	if cfg.Metrics.Addr != "" {
		addr := cfg.Metrics.Addr
		if strings.HasPrefix(addr, ":") {
			addr = "127.0.0.1" + addr
		}
		return daemon.NewHTTPClient("http://" + addr)
	}
	return daemon.NewClient(profile.SocketPath(profileName))
}

type output struct {
	json bool
}

func (o output) emit(v any, text func()) {
	if !o.json {
		text()
		return
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

func cmdProfiles(current string) {
	names, err := profile.List()
	if err != nil {
		fatal(err)
	}
	if len(names) == 0 {
		fmt.Println("No profiles found.")
		return
	}
	for _, name := range names {
		marker := " "
		if name == current {
			marker = "*"
		}
		running := "idle"
		if pid := lock.Holder(profile.Dir(name)); pid != 0 {
			running = fmt.Sprintf("locked by pid %d", pid)
		}
		fmt.Printf("%s %-20s %s (%s)\n", marker, name, profile.Dir(name), running)
	}
}

func cmdStatus(ctx context.Context, c *daemon.Client, out output) {
	h, err := c.Health(ctx)
	if err != nil {
		fatal(fmt.Errorf("cannot reach daemon: %w", err))
	}
	out.emit(h, func() {
		fmt.Printf("Profile:  %s\n", h.Profile)
		fmt.Printf("Room:     %d\n", h.RoomID)
		fmt.Printf("Status:   %s\n", h.Status)
		fmt.Printf("Push:     %v\n", h.PushActive)
		fmt.Printf("Messages: %d\n", h.Messages)
	})
}

func cmdPresence(ctx context.Context, c *daemon.Client, out output) {
	p, err := c.Presence(ctx)
	if err != nil {
		fatal(fmt.Errorf("cannot reach daemon: %w", err))
	}
	out.emit(p, func() {
		if len(p.Typing) == 0 && len(p.Recording) == 0 {
			fmt.Println("Nobody is typing or recording.")
			return
		}
		for _, m := range p.Typing {
			fmt.Printf("typing     %-20s until %s\n", m.UserName, m.ExpiresAt.Local().Format("15:04:05"))
		}
		for _, m := range p.Recording {
			fmt.Printf("recording  %-20s until %s\n", m.UserName, m.ExpiresAt.Local().Format("15:04:05"))
		}
	})
}

func cmdSearch(ctx context.Context, c *daemon.Client, query string, limit int, out output) {
	msgs, err := c.Search(ctx, query, limit)
	if err != nil {
		fatal(err)
	}
	out.emit(msgs, func() { printMessages(msgs) })
}

func cmdHistory(ctx context.Context, api *roomapi.Client, roomID, after int64, limit int, out output) {
	var afterID *int64
	if after > 0 {
		afterID = &after
	}
	msgs, err := api.FetchMessages(ctx, roomID, afterID, limit)
	if err != nil {
		fatal(err)
	}
	out.emit(msgs, func() { printMessages(msgs) })
}

func cmdCreate(ctx context.Context, api *roomapi.Client, roomID int64, typ chat.Type, content string, out output) {
	m, err := api.CreateMessage(ctx, roomID, typ, content)
	if err != nil {
		fatal(err)
	}
	out.emit(m, func() { fmt.Printf("Sent message %d\n", m.ID) })
}

func cmdDelete(ctx context.Context, api *roomapi.Client, roomID int64, arg string) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		usageExit("roomctl delete <message id>")
	}
	if err := api.DeleteMessage(ctx, roomID, id); err != nil {
		fatal(err)
	}
	fmt.Printf("Deleted message %d\n", id)
}

func printMessages(msgs []chat.Message) {
	if len(msgs) == 0 {
		fmt.Println("No messages.")
		return
	}
	for _, m := range msgs {
		sender := m.SenderName
		if sender == "" {
			sender = strconv.FormatInt(m.SenderID, 10)
		}
		body := m.Content
		if m.Type != chat.Text {
			body = strings.TrimSpace(fmt.Sprintf("[%s] %s %s", m.Type, m.FileReference, m.Content))
		}
		fmt.Printf("%-8d %s  %-16s %s\n", m.ID, m.CreatedAt.Local().Format("01/02 15:04"), sender, body)
	}
}

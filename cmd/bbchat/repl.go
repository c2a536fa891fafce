package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/babelbye/bbchat/internal/app"
	"github.com/babelbye/bbchat/internal/bus"
	"github.com/babelbye/bbchat/internal/presence"
	"github.com/babelbye/bbchat/internal/status"
	"github.com/babelbye/bbchat/internal/store"
	intsync "github.com/babelbye/bbchat/internal/sync"
	"github.com/babelbye/bbchat/internal/timeline"
)

const replHelp = `commands:
  /list          list conversations
  /open <n|id>   open a conversation
  /clear         delete the open conversation's history
  /reconnect     reconnect to the server
  /status        show connection state
  /quit          exit
anything else is sent to the open conversation`

// repl drives a Client from line-oriented input and renders bus events.
type repl struct {
	client  *app.Client
	out     io.Writer
	printed map[string]bool // message ids shown for the open conversation
}

func runREPL(c *app.Client, in io.Reader, out io.Writer) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := &repl{client: c, out: out, printed: make(map[string]bool)}
	events, unsub := c.Subscribe("", 64)
	defer unsub()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	fmt.Fprintln(out, replHelp)
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok || r.handle(ctx, line) {
				return
			}
		case evt := <-events:
			r.render(evt)
		}
	}
}

// handle runs one input line and reports whether the user asked to quit.
func (r *repl) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		r.client.Keystroke()
		if _, err := r.client.Send(ctx, line); err != nil {
			r.errorf("%v", err)
		}
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/list":
		r.list()
	case "/open":
		r.open(strings.TrimSpace(arg))
	case "/clear":
		if err := r.client.ClearHistory(ctx); err != nil {
			r.errorf("%v", err)
		}
	case "/reconnect":
		if err := r.client.Reconnect(ctx); err != nil {
			r.errorf("%v", err)
		}
	case "/status":
		r.status()
	case "/help":
		fmt.Fprintln(r.out, replHelp)
	default:
		r.errorf("unknown command %s", cmd)
	}
	return false
}

func (r *repl) list() {
	convs := r.client.Conversations()
	if len(convs) == 0 {
		fmt.Fprintln(r.out, "No conversations.")
		return
	}
	selected := r.client.Selected()
	for i, c := range convs {
		mark := " "
		if c.ID == selected {
			mark = "*"
		}
		fmt.Fprintf(r.out, "%s %d) %s [%s]\n", mark, i+1, c.PeerID, c.ID)
	}
}

func (r *repl) open(arg string) {
	convID, err := pickConversation(r.client.Conversations(), arg)
	if err != nil {
		r.errorf("%v", err)
		return
	}
	if err := r.client.Open(convID); err != nil {
		r.errorf("%v", err)
		return
	}
	clear(r.printed)
	r.flush(convID)
}

func (r *repl) status() {
	fmt.Fprintf(r.out, "Transport: %s\n", r.client.State())
	if p := r.client.Profile(); p != nil {
		fmt.Fprintf(r.out, "Profile:   %s (%s)\n", p.Nickname, p.NativeLanguage)
	}
	if sel := r.client.Selected(); sel != "" {
		fmt.Fprintf(r.out, "Open:      %s\n", sel)
	}
}

func (r *repl) render(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case timeline.Updated:
		if p.ConversationID == r.client.Selected() {
			r.flush(p.ConversationID)
		}
	case presence.Changed:
		if p.ConversationID == r.client.Selected() && p.Typing {
			fmt.Fprintln(r.out, "  ... typing")
		}
	case status.StatusChange:
		fmt.Fprintf(r.out, "[transport] %s\n", p.To)
	case status.Notice:
		r.errorf("%s", p)
	case intsync.ConnectionsLoaded:
		if !p.Cached {
			fmt.Fprintf(r.out, "[identity] %d conversation(s)\n", p.Count)
		}
	}
}

// flush prints the messages of convID that have not been shown yet.
func (r *repl) flush(convID string) {
	msgs := r.client.Messages(convID)
	if len(msgs) == 0 && len(r.printed) > 0 {
		clear(r.printed)
		fmt.Fprintln(r.out, "[history cleared]")
		return
	}
	for _, m := range msgs {
		if r.printed[m.ID] {
			continue
		}
		r.printed[m.ID] = true
		fmt.Fprintln(r.out, formatMessage(m))
	}
}

func (r *repl) errorf(format string, args ...any) {
	fmt.Fprintf(r.out, "! "+format+"\n", args...)
}

// pickConversation accepts a 1-based index into convs or a conversation id.
func pickConversation(convs []app.Conversation, arg string) (string, error) {
	if arg == "" {
		return "", fmt.Errorf("usage: /open <n|id>")
	}
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(convs) {
			return "", fmt.Errorf("no conversation %d", n)
		}
		return convs[n-1].ID, nil
	}
	for _, c := range convs {
		if c.ID == arg || c.PeerID == arg {
			return c.ID, nil
		}
	}
	return "", fmt.Errorf("no conversation %q", arg)
}

func formatMessage(m store.Message) string {
	ts := time.UnixMilli(m.CreatedAt).Format("15:04")
	line := fmt.Sprintf("[%s] %s: %s", ts, m.From, m.Text)
	if m.Translated && m.Original != "" && m.Original != m.Text {
		line += fmt.Sprintf(" (%s)", m.Original)
	}
	if m.Status == store.StatusFailed {
		line += " [not sent]"
	}
	return line
}

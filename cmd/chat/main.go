package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/thriftx/realtime-messages/chat"
	"github.com/thriftx/realtime-messages/client"
	"github.com/thriftx/realtime-messages/config"
	"github.com/thriftx/realtime-messages/logging"
	"github.com/thriftx/realtime-messages/redis"
	"github.com/thriftx/realtime-messages/session"
)

const usage = `usage: chat [flags] <command> [args]

commands:
  login <username>                          sign in as username
  whoami                                    print the signed-in user
  conversations                             list conversations, newest first
  open <counterpartyID> <listingID>         follow a conversation, stdin lines are sent
  send <counterpartyID> <listingID> <text>  send one message
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "chat:", err)
		os.Exit(1)
	}
}

type app struct {
	api      *client.Client
	sessions session.Store
	logger   *slog.Logger
	interval time.Duration
	stdin    io.Reader
	stdout   io.Writer
	stderr   io.Writer
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage); fs.PrintDefaults() }
	baseURL := fs.String("url", cfg.MessagesURL, "Messages API base URL")
	sessionFile := fs.String("session-file", cfg.SessionFile, "Session file (default ~/.thriftx/session.json)")
	redisAddr := fs.String("redis-address", "", "Keep the session in Redis at this address instead of a file")
	device := fs.String("device", hostname(), "Session namespace when using Redis")
	interval := fs.Duration("interval", cfg.PollInterval, "Poll interval for open")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	logger := logging.New(cfg.IsDevelopment(), stderr)
	a := &app{
		api:      client.New(*baseURL, logger),
		logger:   logger,
		interval: *interval,
		stdin:    stdin,
		stdout:   stdout,
		stderr:   stderr,
	}

	if *redisAddr != "" {
		r, err := redis.Connect(ctx, *redisAddr)
		if err != nil {
			return err
		}
		defer r.Close()
		a.sessions = r.Sessions(*device)
	} else {
		path := *sessionFile
		if path == "" {
			path = session.DefaultPath()
		}
		a.sessions = &session.FileStore{Path: path}
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch {
	case cmd == "login" && len(rest) == 1:
		return a.login(ctx, rest[0])
	case cmd == "whoami" && len(rest) == 0:
		return a.whoami(ctx)
	case cmd == "conversations" && len(rest) == 0:
		return a.conversations(ctx)
	case cmd == "open" && len(rest) == 2:
		return a.open(ctx, chat.Thread{CounterpartyID: rest[0], ListingID: rest[1]})
	case cmd == "send" && len(rest) == 3:
		return a.send(ctx, chat.Thread{CounterpartyID: rest[0], ListingID: rest[1]}, rest[2])
	}
	fs.Usage()
	return fmt.Errorf("unknown command or wrong arguments: %s", cmd)
}

func (a *app) login(ctx context.Context, username string) error {
	u, err := a.api.User(ctx, username)
	if err != nil {
		return fmt.Errorf("look up user: %w", err)
	}
	if err := session.Save(ctx, a.sessions, session.Session{UserID: u.ID, Username: u.Username}); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Signed in as %s (%s)\n", u.Username, u.ID)
	return nil
}

func (a *app) whoami(ctx context.Context) error {
	s, err := session.Resolve(ctx, a.sessions)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "%s (%s)\n", s.Username, s.UserID)
	return nil
}

func (a *app) conversations(ctx context.Context) error {
	p := &chat.Poller{
		API:      a.api,
		Sessions: a.sessions,
		Logger:   a.logger,
	}
	p.Start(ctx)
	defer p.Stop()
	if p.State() != chat.StateListing {
		return session.ErrNoUser
	}

	convs := p.Conversations()
	if len(convs) == 0 {
		fmt.Fprintln(a.stdout, "No conversations")
		return nil
	}
	for _, c := range convs {
		name := c.Latest.Username
		if name == "" {
			name = "User " + c.CounterpartyID
		}
		fmt.Fprintf(a.stdout, "%s\t%s\tlisting %s\t%s\t%s\n",
			c.CounterpartyID, name, c.ListingID,
			c.Latest.Timestamp.Local().Format(time.DateTime), preview(c.Latest))
	}
	return nil
}

func (a *app) open(ctx context.Context, thread chat.Thread) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := &chat.Poller{
		API:      a.api,
		Sessions: a.sessions,
		Thread:   thread,
		Logger:   a.logger,
		Interval: a.interval,
		Notifier: chat.NotifierFunc(func(err error) {
			fmt.Fprintln(a.stderr, "Could not send message:", err)
		}),
	}
	p.Start(ctx)
	defer p.Stop()
	if p.State() != chat.StatePolling {
		return session.ErrNoUser
	}

	lines := readLines(ctx, a.stdin)
	printed := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.Updates():
			a.printNew(p, printed)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			p.SetInput(line)
			// Failures are reported through the Notifier and the text stays
			// composed, so the next line replaces it.
			_ = p.Send(ctx)
		}
	}
}

// readLines sends the lines of r until r is exhausted or ctx is done, then
// closes the channel.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

func (a *app) printNew(p *chat.Poller, printed map[string]bool) {
	userID := p.UserID()
	for _, m := range p.Messages() {
		if printed[m.ID] {
			continue
		}
		printed[m.ID] = true
		who := m.SenderID
		if who == userID {
			who = "you"
		}
		fmt.Fprintf(a.stdout, "[%s] %s: %s\n", m.Timestamp.Local().Format(time.TimeOnly), who, preview(m))
	}
}

func (a *app) send(ctx context.Context, thread chat.Thread, text string) error {
	s, err := session.Resolve(ctx, a.sessions)
	if err != nil {
		return err
	}
	msg, err := a.api.SendMessage(ctx, chat.Outgoing{
		SenderID:   s.UserID,
		ReceiverID: thread.CounterpartyID,
		ListingID:  thread.ListingID,
		Content:    text,
	})
	if err != nil {
		return &chat.SendError{Err: err}
	}
	fmt.Fprintf(a.stdout, "Sent %s\n", msg.ID)
	return nil
}

func preview(m chat.Message) string {
	if m.IsImage() {
		return "[image]"
	}
	return m.Content
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "default"
	}
	return h
}

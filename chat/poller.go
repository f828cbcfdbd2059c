package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thriftx/realtime-messages/session"
)

// DefaultPollInterval is used when Poller.Interval is not set.
const DefaultPollInterval = 2 * time.Second

// ErrMissingContext is returned by Send when the conversation has no
// counterparty, listing or current user to address the message with.
var ErrMissingContext = errors.New("cannot send message: missing counterparty or listing")

// A SendError reports a failed attempt to create a message. The input is kept
// so the user can retry.
type SendError struct {
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send message: %v", e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// API is the part of the message API the poller needs.
type API interface {
	// LatestMessages returns the user's feed newest first. A limit of 0
	// uses the server default.
	LatestMessages(ctx context.Context, userID string, limit int) ([]Message, error)
	Thread(ctx context.Context, userID, counterpartyID, listingID string) ([]Message, error)
	SendMessage(ctx context.Context, out Outgoing) (Message, error)
}

// A Notifier shows errors that need the user's attention.
type Notifier interface {
	Notify(err error)
}

// NotifierFunc adapts a function to a Notifier.
type NotifierFunc func(err error)

// Notify calls f(err).
func (f NotifierFunc) Notify(err error) { f(err) }

// Thread identifies an open conversation. A zero Thread means the general
// chat list.
type Thread struct {
	CounterpartyID string
	ListingID      string
}

// Known reports whether both the counterparty and the listing are set.
func (t Thread) Known() bool {
	return t.CounterpartyID != "" && t.ListingID != ""
}

// State is the lifecycle state of a Poller.
type State int

const (
	StateUninitialized State = iota
	StateResolvingUser
	StatePolling
	StateListing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateResolvingUser:
		return "resolving-user"
	case StatePolling:
		return "polling"
	case StateListing:
		return "listing"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Poller keeps the message history of one conversation current by fetching
// it on a fixed interval, and sends new messages into it. Without a known
// Thread it loads the user's conversations once instead.
//
// Each fetch is tagged with an increasing sequence number and a response is
// only applied if no later fetch has been applied before it.
type Poller struct {
	API      API
	Sessions session.Store
	Thread   Thread
	Logger   *slog.Logger
	Notifier Notifier
	Interval time.Duration

	once    sync.Once
	updates chan struct{}
	wg      sync.WaitGroup
	seq     atomic.Uint64

	mu            sync.Mutex
	state         State
	userID        string
	messages      []Message
	conversations []Conversation
	input         string
	applied       uint64
	cancel        context.CancelFunc
}

func (p *Poller) init() {
	p.updates = make(chan struct{}, 1)
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Interval <= 0 {
		p.Interval = DefaultPollInterval
	}
}

// Start resolves the current user and begins polling the thread, or loads the
// conversation list when no thread is set. If no user is signed in the poller
// stays uninitialized and shows nothing. Start returns once the user is
// resolved and, in list mode, once the list is loaded.
func (p *Poller) Start(ctx context.Context) {
	p.once.Do(p.init)

	p.mu.Lock()
	if p.state != StateUninitialized {
		p.mu.Unlock()
		return
	}
	p.state = StateResolvingUser
	p.mu.Unlock()

	sess, err := session.Resolve(ctx, p.Sessions)

	p.mu.Lock()
	if p.state == StateStopped {
		p.mu.Unlock()
		return
	}
	if err != nil {
		p.state = StateUninitialized
		p.mu.Unlock()
		p.Logger.Info("No current user, chat stays empty", "error", err)
		return
	}
	p.userID = sess.UserID

	if !p.Thread.Known() {
		p.state = StateListing
		p.mu.Unlock()
		p.loadConversations(ctx, sess.UserID)
		return
	}

	p.state = StatePolling
	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.wg.Add(1)
	p.mu.Unlock()

	p.Logger.Info("Polling conversation",
		"user_id", sess.UserID,
		"counterparty_id", p.Thread.CounterpartyID,
		"listing_id", p.Thread.ListingID,
		"interval", p.Interval,
	)
	go p.run(pollCtx, sess.UserID)
}

func (p *Poller) run(ctx context.Context, userID string) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	p.spawnPoll(ctx, userID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.spawnPoll(ctx, userID)
		}
	}
}

// spawnPoll does not wait for earlier fetches; stale responses are dropped
// in apply.
func (p *Poller) spawnPoll(ctx context.Context, userID string) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.poll(ctx, userID)
	}()
}

func (p *Poller) poll(ctx context.Context, userID string) {
	seq := p.seq.Add(1)
	msgs, err := p.API.Thread(ctx, userID, p.Thread.CounterpartyID, p.Thread.ListingID)
	if err != nil {
		if ctx.Err() == nil {
			p.Logger.Warn("Could not refresh conversation", "seq", seq, "error", err)
		}
		return
	}
	p.apply(seq, msgs)
}

// apply replaces the displayed messages with the response of fetch seq. It
// reports whether the displayed list changed.
func (p *Poller) apply(seq uint64, msgs []Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateStopped || seq <= p.applied {
		return false
	}
	p.applied = seq
	if equalMessages(p.messages, msgs) {
		return false
	}
	p.messages = slices.Clone(msgs)
	p.signal()
	return true
}

func (p *Poller) loadConversations(ctx context.Context, userID string) {
	msgs, err := p.API.LatestMessages(ctx, userID, 0)
	if err != nil {
		p.Logger.Warn("Could not load conversations", "user_id", userID, "error", err)
		return
	}
	convs, dropped := Aggregate(userID, msgs)
	for _, msg := range dropped {
		p.Logger.Warn("Dropping message without participants or listing", "message_id", msg.ID)
	}
	SortByRecent(convs)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateStopped {
		return
	}
	p.conversations = convs
	p.signal()
}

// signal must be called with mu held.
func (p *Poller) signal() {
	select {
	case p.updates <- struct{}{}:
	default:
	}
}

// SetInput replaces the text being composed.
func (p *Poller) SetInput(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.input = text
}

// Input returns the text being composed.
func (p *Poller) Input() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.input
}

// Send posts the composed text to the conversation. Blank input is ignored.
// On success the created message is appended and the input cleared; on
// failure the error is passed to the Notifier and the input is kept.
func (p *Poller) Send(ctx context.Context) error {
	p.once.Do(p.init)

	p.mu.Lock()
	text := p.input
	userID := p.userID
	p.mu.Unlock()

	if strings.TrimSpace(text) == "" {
		return nil
	}
	if !p.Thread.Known() || userID == "" {
		p.notify(ErrMissingContext)
		return ErrMissingContext
	}

	msg, err := p.API.SendMessage(ctx, Outgoing{
		SenderID:   userID,
		ReceiverID: p.Thread.CounterpartyID,
		ListingID:  p.Thread.ListingID,
		Content:    text,
	})
	if err != nil {
		serr := &SendError{Err: err}
		p.notify(serr)
		return serr
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateStopped {
		return nil
	}
	p.messages = append(slices.Clone(p.messages), msg)
	// Fetches issued before the send may not include msg.
	p.applied = p.seq.Load()
	if p.input == text {
		p.input = ""
	}
	p.signal()
	return nil
}

func (p *Poller) notify(err error) {
	if p.Notifier == nil {
		p.Logger.Error("Chat error", "error", err)
		return
	}
	p.Notifier.Notify(err)
}

// Messages returns a copy of the displayed messages.
func (p *Poller) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.messages)
}

// Conversations returns a copy of the loaded conversation list.
func (p *Poller) Conversations() []Conversation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.conversations)
}

// UserID returns the resolved current user id.
func (p *Poller) UserID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userID
}

// State returns the current lifecycle state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Updates receives a value whenever the displayed messages or conversations
// change, so the view can scroll to the latest message.
func (p *Poller) Updates() <-chan struct{} {
	p.once.Do(p.init)
	return p.updates
}

// Stop ends polling, cancels in-flight fetches and waits for them to return.
// Responses arriving afterwards are discarded.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.state == StateStopped {
		p.mu.Unlock()
		return
	}
	p.state = StateStopped
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

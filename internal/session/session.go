package session

import (
	"context"
	"sync"
	"time"

	"github.com/jobport-labs/chatsync/internal/conn"
	"github.com/jobport-labs/chatsync/internal/dispatcher"
	"github.com/jobport-labs/chatsync/internal/entity"
	"github.com/jobport-labs/chatsync/internal/event"
	"github.com/jobport-labs/chatsync/internal/presence"
	"github.com/jobport-labs/chatsync/internal/restapi"
	"github.com/jobport-labs/chatsync/internal/timeline"
	"github.com/jobport-labs/chatsync/internal/viewport"
	"github.com/jobport-labs/chatsync/pkg/errorx"
	"github.com/jobport-labs/chatsync/pkg/xcontext"

	"github.com/google/uuid"
)

type State string

const (
	StateConnecting   = State("connecting")
	StateJoined       = State("joined")
	StateDisconnected = State("disconnected")
)

// Dependencies are the shared collaborators a session borrows: the
// connection handle and dispatcher may serve many sessions at once, the
// history client is stateless.
type Dependencies struct {
	Manager    *conn.Manager
	Dispatcher *dispatcher.Dispatcher
	History    *restapi.MessageHistory
}

// Session is the client-local state of one open chat view. It owns its
// timeline store and typing tracker exclusively, joins the conversation's
// channel on open, and removes every subscription again on Close.
type Session struct {
	key    entity.ConversationKey
	selfID string
	deps   Dependencies

	store   *timeline.Store
	tracker *presence.Tracker
	policy  *viewport.Policy

	mu     sync.Mutex
	state  State
	closed bool
	unsubs []func()
}

// Open binds a new session to the conversation identified by key. The
// connection must already be established.
func Open(ctx context.Context, selfID string, key entity.ConversationKey, deps Dependencies) (*Session, error) {
	cfg := xcontext.Configs(ctx)

	s := &Session{
		key:    key,
		selfID: selfID,
		deps:   deps,
		store:  timeline.NewStore(selfID),
		policy: viewport.NewPolicy(cfg.Scroll.BottomThresholdPx),
		state:  StateConnecting,
	}

	s.tracker = presence.NewTracker(selfID, cfg.Typing.TTL, func(ctx context.Context, ev event.Event) error {
		return deps.Manager.Send(ctx, ev, event.Metadata{To: key.Channel()})
	})

	if err := deps.Manager.JoinRoom(ctx, key.Channel()); err != nil {
		return nil, err
	}

	s.subscribe(ctx)
	s.setState(StateJoined)
	return s, nil
}

func (s *Session) subscribe(ctx context.Context) {
	d := s.deps.Dispatcher

	s.unsubs = append(s.unsubs,
		d.Subscribe(event.ReadyEvent{}.Op(), s.onReady),
		d.Subscribe(event.MessageCreatedEvent{}.Op(), s.onMessageCreated),
		d.Subscribe(event.ReactionAddedEvent{}.Op(), s.onReactionAdded),
		d.Subscribe(event.TypingStartedEvent{}.Op(), s.onTypingStarted),
		d.Subscribe(event.TypingStoppedEvent{}.Op(), s.onTypingStopped),
		s.deps.Manager.OnDisconnect(func(error) {
			// No stop-typing can arrive on a dead stream.
			s.tracker.Reset()
			s.setState(StateDisconnected)
		}),
	)
}

// LoadHistory fetches the snapshot page and seeds the timeline. Push
// events observed while the fetch was in flight are replayed by the
// store. A result arriving after Close is discarded.
func (s *Session) LoadHistory(ctx context.Context, limit int) error {
	page, err := s.deps.History.List(ctx, s.key, limit)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errorx.New(errorx.NotFound, "session is closed")
	}
	s.mu.Unlock()

	s.store.LoadSnapshot(ctx, page)
	return nil
}

// Send performs an optimistic append and emits the send directive. The
// returned message carries the client-assigned id the server echo will be
// reconciled against. On a send failure the optimistic entry stays in the
// timeline, visible through Unconfirmed.
func (s *Session) Send(ctx context.Context, body string) (entity.Message, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return entity.Message{}, errorx.New(errorx.NotFound, "session is closed")
	}
	s.mu.Unlock()

	msg := entity.Message{
		ID:            uuid.NewString(),
		SenderID:      s.selfID,
		RoomID:        s.key.RoomID,
		Body:          body,
		CreatedAt:     time.Now(),
		DeliveryState: entity.DeliveryPending,
	}
	if !s.key.IsRoom() {
		msg.RecipientID = s.peerID()
	}

	if err := s.store.AppendLocal(ctx, msg); err != nil {
		return entity.Message{}, err
	}

	directive := event.SendMessageDirective{
		ID:          msg.ID,
		RecipientID: msg.RecipientID,
		RoomID:      msg.RoomID,
		Body:        body,
	}
	if err := s.deps.Manager.Send(ctx, directive, event.Metadata{To: s.key.Channel()}); err != nil {
		return msg, err
	}

	return msg, nil
}

// SendReaction applies the reaction locally (idempotent) and broadcasts
// it.
func (s *Session) SendReaction(ctx context.Context, messageID, emoji string) error {
	if err := s.store.ApplyReaction(ctx, messageID, emoji, s.selfID); err != nil {
		return err
	}

	ev := event.ReactionAddedEvent{MessageID: messageID, Emoji: emoji, UserID: s.selfID}
	return s.deps.Manager.Send(ctx, ev, event.Metadata{To: s.key.Channel()})
}

// SetComposing reports the state of the compose box; the tracker turns
// the transitions into typing signals.
func (s *Session) SetComposing(ctx context.Context, hasText bool) {
	s.tracker.LocalIntentChanged(ctx, hasText)
}

// ShouldFollow is the scroll decision for one timeline change, given the
// viewport geometry before the change was rendered.
func (s *Session) ShouldFollow(m viewport.Metrics, c timeline.Change) bool {
	return s.policy.ShouldFollow(m, c.Local)
}

// Resume re-establishes the connection after a disconnect and re-joins
// this conversation's channel. The timeline keeps its contents; callers
// wanting a guaranteed-complete view re-open the conversation instead.
func (s *Session) Resume(ctx context.Context) error {
	if err := s.deps.Manager.Connect(ctx); err != nil {
		return err
	}

	if err := s.deps.Manager.Rejoin(ctx, s.key.Channel()); err != nil {
		return err
	}

	s.setState(StateJoined)
	return nil
}

func (s *Session) Timeline() *timeline.Store {
	return s.store
}

func (s *Session) Tracker() *presence.Tracker {
	return s.tracker
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Close tears the session down synchronously: all dispatcher and
// disconnect subscriptions are removed and the channel is left. Safe to
// call more than once.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	s.closed = true
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}

	s.tracker.Reset()

	if err := s.deps.Manager.LeaveRoom(ctx, s.key.Channel()); err != nil {
		xcontext.Logger(ctx).Warnf("Cannot leave channel %s: %v", s.key.Channel(), err)
	}
}

// onReady handles the server's acknowledgment listing the channels this
// connection is subscribed to.
func (s *Session) onReady(ctx context.Context, req *event.Request) {
	ev, err := event.Decode[event.ReadyEvent](req.Data)
	if err != nil {
		xcontext.Logger(ctx).Errorf("Cannot decode ready event: %v", err)
		return
	}

	for _, channel := range ev.Channels {
		if channel == s.key.Channel() {
			s.setState(StateJoined)
			return
		}
	}
}

func (s *Session) onMessageCreated(ctx context.Context, req *event.Request) {
	ev, err := event.Decode[event.MessageCreatedEvent](req.Data)
	if err != nil {
		xcontext.Logger(ctx).Errorf("Cannot decode message event: %v", err)
		return
	}

	msg := ev.Message()
	if !s.key.Matches(msg) {
		return
	}

	if err := s.store.ApplyIncoming(ctx, msg); err != nil {
		xcontext.Logger(ctx).Warnf("Dropped message event: %v", err)
	}
}

func (s *Session) onReactionAdded(ctx context.Context, req *event.Request) {
	if !s.matchesChannel(req) {
		return
	}

	ev, err := event.Decode[event.ReactionAddedEvent](req.Data)
	if err != nil {
		xcontext.Logger(ctx).Errorf("Cannot decode reaction event: %v", err)
		return
	}

	if err := s.store.ApplyReaction(ctx, ev.MessageID, ev.Emoji, ev.UserID); err != nil {
		xcontext.Logger(ctx).Warnf("Dropped reaction event: %v", err)
	}
}

func (s *Session) onTypingStarted(ctx context.Context, req *event.Request) {
	if !s.matchesChannel(req) {
		return
	}

	ev, err := event.Decode[event.TypingStartedEvent](req.Data)
	if err != nil {
		xcontext.Logger(ctx).Errorf("Cannot decode typing event: %v", err)
		return
	}

	s.tracker.ObserveTyping(ev.ParticipantID)
}

func (s *Session) onTypingStopped(ctx context.Context, req *event.Request) {
	if !s.matchesChannel(req) {
		return
	}

	ev, err := event.Decode[event.TypingStoppedEvent](req.Data)
	if err != nil {
		xcontext.Logger(ctx).Errorf("Cannot decode typing event: %v", err)
		return
	}

	s.tracker.ObserveStopTyping(ev.ParticipantID)
}

// matchesChannel filters events carrying an addressed envelope. Events
// without routing metadata pass through; the payload-level filters catch
// the rest.
func (s *Session) matchesChannel(req *event.Request) bool {
	return req.Metadata.To == "" || req.Metadata.To == s.key.Channel()
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.state = state
	}
}

func (s *Session) peerID() string {
	if s.key.PeerA == s.selfID {
		return s.key.PeerB
	}

	return s.key.PeerA
}

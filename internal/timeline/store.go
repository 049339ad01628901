package timeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jobport-labs/chatsync/internal/entity"
	"github.com/jobport-labs/chatsync/pkg/errorx"
	"github.com/jobport-labs/chatsync/pkg/xcontext"
)

type ChangeKind string

const (
	ChangeSnapshot = ChangeKind("snapshot")
	ChangeInsert   = ChangeKind("insert")
	ChangeUpdate   = ChangeKind("update")
	ChangeReaction = ChangeKind("reaction")
)

// Change describes one timeline mutation. Message is a copy and safe to
// retain. Local is true when the mutation came from the local
// participant's own append.
type Change struct {
	Kind    ChangeKind
	Message entity.Message
	Local   bool
}

const (
	// maxPendingReactions bounds the buffer of reactions that arrived
	// before their message.
	maxPendingReactions = 64

	// reconcileWindow is how far apart the optimistic timestamp and the
	// server timestamp may be for a secondary-key echo match.
	reconcileWindow = 30 * time.Second
)

type pendingReaction struct {
	messageID string
	emoji     string
	userID    string
}

type listener struct {
	fn      func(Change)
	removed bool
}

// Store is the merge engine for one conversation's timeline. It keeps the
// ordered view consistent across the REST snapshot, live push events and
// optimistic local sends. A store is owned by exactly one conversation
// session.
type Store struct {
	selfID string

	mu             sync.Mutex
	order          []*entity.Message
	byID           map[string]*entity.Message
	snapshotLoaded bool

	// Incoming messages observed before the snapshot resolved. They are
	// replayed in arrival order once the snapshot lands.
	queued []entity.Message

	// Reactions whose message is not visible yet, bounded FIFO.
	pending []pendingReaction

	// Ids of optimistic local appends awaiting their server echo.
	unconfirmed map[string]struct{}

	listeners []*listener
}

func NewStore(selfID string) *Store {
	return &Store{
		selfID:      selfID,
		byID:        make(map[string]*entity.Message),
		unconfirmed: make(map[string]struct{}),
	}
}

// OnChange registers a change listener invoked after every mutation. The
// returned function removes it and is safe to call more than once.
func (s *Store) OnChange(fn func(Change)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := &listener{fn: fn}
	s.listeners = append(s.listeners, l)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if l.removed {
			return
		}

		l.removed = true
		for i, cur := range s.listeners {
			if cur == l {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				break
			}
		}
	}
}

// LoadSnapshot replaces the timeline with the fetched history page, then
// replays everything observed in the race window: optimistic local
// appends, queued incoming messages and buffered reactions.
func (s *Store) LoadSnapshot(ctx context.Context, msgs []entity.Message) {
	s.mu.Lock()

	locals := make([]entity.Message, 0, len(s.unconfirmed))
	for _, m := range s.order {
		if _, ok := s.unconfirmed[m.ID]; ok {
			locals = append(locals, *m)
		}
	}

	s.order = nil
	s.byID = make(map[string]*entity.Message, len(msgs))

	for i := range msgs {
		msg := msgs[i]
		if msg.ID == "" {
			xcontext.Logger(ctx).Warnf("Dropped snapshot message without id")
			continue
		}

		s.mergeLocked(normalize(msg))
	}

	s.snapshotLoaded = true

	for _, msg := range locals {
		_, confirmed := s.byID[msg.ID]
		s.mergeLocked(msg)
		if confirmed {
			// The snapshot already carries the server's copy; the
			// optimistic entry is confirmed, not re-awaiting an echo.
			delete(s.unconfirmed, msg.ID)
		} else {
			s.unconfirmed[msg.ID] = struct{}{}
		}
	}

	queued := s.queued
	s.queued = nil
	for _, msg := range queued {
		s.applyIncomingLocked(ctx, msg)
	}

	s.drainPendingLocked()
	listeners := s.listenersLocked()
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(Change{Kind: ChangeSnapshot})
	}
}

// ApplyIncoming merges one message from the push stream. A known id only
// advances its delivery state and reactions; an unknown id is inserted in
// order. Before the snapshot lands the message is queued, not applied.
func (s *Store) ApplyIncoming(ctx context.Context, msg entity.Message) error {
	if msg.ID == "" {
		return errorx.New(errorx.MalformedEvent, "message event without id")
	}

	s.mu.Lock()

	if !s.snapshotLoaded {
		s.queued = append(s.queued, msg)
		s.mu.Unlock()
		return nil
	}

	changes := s.applyIncomingLocked(ctx, msg)
	listeners := s.listenersLocked()
	s.mu.Unlock()

	s.notify(listeners, changes)
	return nil
}

// ApplyReaction records that userID reacted to messageID with emoji. It is
// idempotent. A reaction for a message this client cannot see yet is
// buffered until the message arrives.
func (s *Store) ApplyReaction(ctx context.Context, messageID, emoji, userID string) error {
	if messageID == "" || emoji == "" || userID == "" {
		return errorx.New(errorx.MalformedEvent, "reaction event missing correlation fields")
	}

	s.mu.Lock()

	msg, ok := s.byID[messageID]
	if !ok {
		if len(s.pending) >= maxPendingReactions {
			xcontext.Logger(ctx).Warnf("Pending reaction buffer full, dropping oldest")
			s.pending = s.pending[1:]
		}

		s.pending = append(s.pending, pendingReaction{messageID, emoji, userID})
		s.mu.Unlock()
		return nil
	}

	var changes []Change
	if msg.Reactions == nil {
		msg.Reactions = entity.ReactionSet{}
	}
	if msg.Reactions.Add(emoji, userID) {
		changes = append(changes, Change{Kind: ChangeReaction, Message: snapshotOf(msg)})
	}

	listeners := s.listenersLocked()
	s.mu.Unlock()

	s.notify(listeners, changes)
	return nil
}

// AppendLocal inserts a message the local participant just sent, before
// any server confirmation. The entry stays unconfirmed until the echo
// with the same id (or a secondary-key match) arrives.
func (s *Store) AppendLocal(ctx context.Context, msg entity.Message) error {
	if msg.ID == "" {
		return errorx.New(errorx.MalformedEvent, "local message without id")
	}

	s.mu.Lock()

	if _, ok := s.byID[msg.ID]; ok {
		s.mu.Unlock()
		return errorx.New(errorx.AlreadyExists, "message %s already in timeline", msg.ID)
	}

	if msg.DeliveryState == "" {
		msg.DeliveryState = entity.DeliveryPending
	}

	inserted := s.mergeLocked(msg)
	s.unconfirmed[msg.ID] = struct{}{}

	changes := []Change{{Kind: ChangeInsert, Message: snapshotOf(inserted), Local: true}}
	listeners := s.listenersLocked()
	s.mu.Unlock()

	s.notify(listeners, changes)
	return nil
}

// Messages returns a copy of the ordered timeline.
func (s *Store) Messages() []entity.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]entity.Message, len(s.order))
	for i, m := range s.order {
		out[i] = snapshotOf(m)
	}

	return out
}

func (s *Store) Get(id string) (entity.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byID[id]
	if !ok {
		return entity.Message{}, false
	}

	return snapshotOf(msg), true
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.order)
}

func (s *Store) SnapshotLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshotLoaded
}

// Unconfirmed returns optimistic local entries that have not been echoed
// by the server yet, in timeline order.
func (s *Store) Unconfirmed() []entity.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []entity.Message
	for _, m := range s.order {
		if _, ok := s.unconfirmed[m.ID]; ok {
			out = append(out, snapshotOf(m))
		}
	}

	return out
}

func (s *Store) applyIncomingLocked(ctx context.Context, msg entity.Message) []Change {
	msg = normalize(msg)

	if existing, ok := s.byID[msg.ID]; ok {
		changed := false

		advanced := existing.DeliveryState.Advance(msg.DeliveryState)
		if advanced != existing.DeliveryState {
			existing.DeliveryState = advanced
			changed = true
		}

		if len(msg.Reactions) > 0 {
			before := countReactions(existing.Reactions)
			if existing.Reactions == nil {
				existing.Reactions = entity.ReactionSet{}
			}
			existing.Reactions.Union(msg.Reactions)
			changed = changed || countReactions(existing.Reactions) != before
		}

		if _, pending := s.unconfirmed[msg.ID]; pending {
			// Server echo of an optimistic append.
			delete(s.unconfirmed, msg.ID)
			changed = true
		}

		if !changed {
			return nil
		}

		return []Change{{Kind: ChangeUpdate, Message: snapshotOf(existing)}}
	}

	if reconciled := s.reconcileEchoLocked(ctx, msg); reconciled != nil {
		// The server id just became visible; reactions buffered under it
		// can apply now, exactly as on a plain insert.
		changes := []Change{{Kind: ChangeUpdate, Message: snapshotOf(reconciled), Local: true}}
		return append(changes, s.drainPendingLocked()...)
	}

	inserted := s.mergeLocked(msg)
	changes := []Change{{Kind: ChangeInsert, Message: snapshotOf(inserted)}}
	changes = append(changes, s.drainPendingLocked()...)
	return changes
}

// reconcileEchoLocked matches a self-sent message whose server-assigned id
// is unknown against an unconfirmed optimistic entry by sender, body and
// timestamp proximity. It re-keys the entry to the server id so the echo
// never renders twice.
func (s *Store) reconcileEchoLocked(ctx context.Context, msg entity.Message) *entity.Message {
	if msg.SenderID != s.selfID || len(s.unconfirmed) == 0 {
		return nil
	}

	for id := range s.unconfirmed {
		local, ok := s.byID[id]
		if !ok {
			delete(s.unconfirmed, id)
			continue
		}

		if local.SenderID != msg.SenderID || local.Body != msg.Body {
			continue
		}

		delta := msg.CreatedAt.Sub(local.CreatedAt)
		if delta < -reconcileWindow || delta > reconcileWindow {
			continue
		}

		xcontext.Logger(ctx).Debugf("Reconciled local message %s to server id %s", id, msg.ID)

		s.removeLocked(id)
		delete(s.unconfirmed, id)

		merged := msg
		merged.DeliveryState = local.DeliveryState.Advance(msg.DeliveryState)
		if local.Reactions != nil {
			if merged.Reactions == nil {
				merged.Reactions = entity.ReactionSet{}
			}
			merged.Reactions.Union(local.Reactions)
		}

		return s.mergeLocked(merged)
	}

	return nil
}

// mergeLocked inserts msg at its sorted position, or folds it into the
// entry already holding its id. It returns the stored entry.
func (s *Store) mergeLocked(msg entity.Message) *entity.Message {
	if existing, ok := s.byID[msg.ID]; ok {
		existing.DeliveryState = existing.DeliveryState.Advance(msg.DeliveryState)
		if len(msg.Reactions) > 0 {
			if existing.Reactions == nil {
				existing.Reactions = entity.ReactionSet{}
			}
			existing.Reactions.Union(msg.Reactions)
		}

		return existing
	}

	stored := msg
	if stored.Reactions != nil {
		stored.Reactions = stored.Reactions.Clone()
	}

	i := sort.Search(len(s.order), func(i int) bool {
		return msg.Less(*s.order[i])
	})

	s.order = append(s.order, nil)
	copy(s.order[i+1:], s.order[i:])
	s.order[i] = &stored
	s.byID[stored.ID] = &stored

	return &stored
}

func (s *Store) removeLocked(id string) {
	delete(s.byID, id)
	for i, m := range s.order {
		if m.ID == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// drainPendingLocked applies buffered reactions whose message has become
// visible.
func (s *Store) drainPendingLocked() []Change {
	if len(s.pending) == 0 {
		return nil
	}

	var changes []Change
	remaining := s.pending[:0]
	for _, p := range s.pending {
		msg, ok := s.byID[p.messageID]
		if !ok {
			remaining = append(remaining, p)
			continue
		}

		if msg.Reactions == nil {
			msg.Reactions = entity.ReactionSet{}
		}
		if msg.Reactions.Add(p.emoji, p.userID) {
			changes = append(changes, Change{Kind: ChangeReaction, Message: snapshotOf(msg)})
		}
	}

	s.pending = remaining
	return changes
}

func (s *Store) listenersLocked() []func(Change) {
	out := make([]func(Change), 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l.fn)
	}

	return out
}

func (s *Store) notify(listeners []func(Change), changes []Change) {
	for _, c := range changes {
		for _, fn := range listeners {
			fn(c)
		}
	}
}

func normalize(msg entity.Message) entity.Message {
	if !msg.DeliveryState.Valid() {
		msg.DeliveryState = entity.DeliverySent
	}

	return msg
}

func snapshotOf(m *entity.Message) entity.Message {
	out := *m
	if out.Reactions != nil {
		out.Reactions = out.Reactions.Clone()
	}

	return out
}

func countReactions(r entity.ReactionSet) int {
	n := 0
	for _, users := range r {
		n += len(users)
	}

	return n
}

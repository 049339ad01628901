package presence

import (
	"context"
	"sync"
	"time"

	"github.com/jobport-labs/chatsync/internal/event"
	"github.com/jobport-labs/chatsync/pkg/xcontext"

	"golang.org/x/exp/slices"
)

// Emitter sends a local typing intent over the push stream.
type Emitter func(ctx context.Context, ev event.Event) error

// Tracker maintains typing state for one conversation: edge-triggered
// broadcast of the local participant's intent, and timeout-based expiry of
// remote indicators. Remote expiry needs a local timer because a
// stop-typing event may never arrive.
type Tracker struct {
	selfID string
	ttl    time.Duration
	emit   Emitter

	mu        sync.Mutex
	composing bool
	deadlines map[string]time.Time
	timers    map[string]*time.Timer
	onChange  func()

	now func() time.Time
}

func NewTracker(selfID string, ttl time.Duration, emit Emitter) *Tracker {
	return &Tracker{
		selfID:    selfID,
		ttl:       ttl,
		emit:      emit,
		deadlines: make(map[string]time.Time),
		timers:    make(map[string]*time.Timer),
		now:       time.Now,
	}
}

// OnChange registers a callback fired whenever the remote typing state may
// have changed, including local timer expiry.
func (t *Tracker) OnChange(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.onChange = fn
}

// LocalIntentChanged reports the current state of the local compose box.
// Signals are emitted only on empty/non-empty transitions, not on every
// keystroke.
func (t *Tracker) LocalIntentChanged(ctx context.Context, hasText bool) {
	t.mu.Lock()
	if hasText == t.composing {
		t.mu.Unlock()
		return
	}

	t.composing = hasText
	t.mu.Unlock()

	var ev event.Event
	if hasText {
		ev = event.TypingStartedEvent{ParticipantID: t.selfID}
	} else {
		ev = event.TypingStoppedEvent{ParticipantID: t.selfID}
	}

	if err := t.emit(ctx, ev); err != nil {
		xcontext.Logger(ctx).Warnf("Cannot emit typing intent: %v", err)
	}
}

// ObserveTyping refreshes the remote indicator for participantID to
// now+TTL.
func (t *Tracker) ObserveTyping(participantID string) {
	if participantID == "" || participantID == t.selfID {
		return
	}

	t.mu.Lock()
	t.deadlines[participantID] = t.now().Add(t.ttl)

	if timer, ok := t.timers[participantID]; ok {
		timer.Stop()
	}
	t.timers[participantID] = time.AfterFunc(t.ttl, func() {
		t.expire(participantID)
	})

	fn := t.onChange
	t.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// ObserveStopTyping clears the indicator immediately.
func (t *Tracker) ObserveStopTyping(participantID string) {
	t.mu.Lock()
	_, ok := t.deadlines[participantID]
	t.clearLocked(participantID)
	fn := t.onChange
	t.mu.Unlock()

	if ok && fn != nil {
		fn()
	}
}

func (t *Tracker) IsRemoteTyping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for _, deadline := range t.deadlines {
		if deadline.After(now) {
			return true
		}
	}

	return false
}

// TypingParticipants returns the ids with a live indicator, sorted for
// deterministic rendering.
func (t *Tracker) TypingParticipants() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var out []string
	for id, deadline := range t.deadlines {
		if deadline.After(now) {
			out = append(out, id)
		}
	}

	slices.Sort(out)
	return out
}

// Reset drops all remote state. Called on disconnect: with the stream
// dead, no stop-typing can arrive and every indicator is stale.
func (t *Tracker) Reset() {
	t.mu.Lock()
	for id := range t.deadlines {
		t.clearLocked(id)
	}
	fn := t.onChange
	t.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (t *Tracker) expire(participantID string) {
	t.mu.Lock()
	deadline, ok := t.deadlines[participantID]
	if !ok || deadline.After(t.now()) {
		// Refreshed since this timer was armed.
		t.mu.Unlock()
		return
	}

	t.clearLocked(participantID)
	fn := t.onChange
	t.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (t *Tracker) clearLocked(participantID string) {
	delete(t.deadlines, participantID)
	if timer, ok := t.timers[participantID]; ok {
		timer.Stop()
		delete(t.timers, participantID)
	}
}

package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jobport-labs/chatsync/config"
	"github.com/jobport-labs/chatsync/internal/conn"
	"github.com/jobport-labs/chatsync/internal/dispatcher"
	"github.com/jobport-labs/chatsync/internal/entity"
	"github.com/jobport-labs/chatsync/internal/event"
	"github.com/jobport-labs/chatsync/internal/restapi"
	"github.com/jobport-labs/chatsync/pkg/api"
	"github.com/jobport-labs/chatsync/pkg/logger"
	"github.com/jobport-labs/chatsync/pkg/xcontext"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

type harness struct {
	ws   *httptest.Server
	rest *httptest.Server

	mu      sync.Mutex
	conns   []*websocket.Conn
	history []entity.Message

	frames chan *event.Request

	mgr  *conn.Manager
	disp *dispatcher.Dispatcher
	deps Dependencies
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{frames: make(chan *event.Request, 32)}

	upgrader := websocket.Upgrader{}
	h.ws = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		h.mu.Lock()
		h.conns = append(h.conns, wsConn)
		h.mu.Unlock()

		for {
			_, b, err := wsConn.ReadMessage()
			if err != nil {
				return
			}

			if req, err := event.Parse(b); err == nil {
				h.frames <- req
			}
		}
	}))
	t.Cleanup(h.ws.Close)

	h.rest = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		page := append([]entity.Message(nil), h.history...)
		h.mu.Unlock()

		// Newest first, as the real API responds.
		for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
			page[i], page[j] = page[j], page[i]
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(page)
	}))
	t.Cleanup(h.rest.Close)

	h.disp = dispatcher.New()

	mgr, err := conn.NewManager(testCtx(), config.SocketConfigs{
		Endpoint:    "ws" + strings.TrimPrefix(h.ws.URL, "http"),
		Token:       "secret",
		AutoConnect: true,
	}, h.disp.Dispatch, nil)
	require.NoError(t, err)
	t.Cleanup(mgr.Close)

	h.mgr = mgr
	h.deps = Dependencies{
		Manager:    mgr,
		Dispatcher: h.disp,
		History:    restapi.NewMessageHistory(api.NewGenerator(h.rest.URL, "secret")),
	}

	return h
}

func (h *harness) setHistory(msgs ...entity.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.history = msgs
}

func (h *harness) push(t *testing.T, req *event.Request) {
	t.Helper()

	h.mu.Lock()
	defer h.mu.Unlock()

	require.NotEmpty(t, h.conns)
	b, err := req.Marshal()
	require.NoError(t, err)
	require.NoError(t, h.conns[len(h.conns)-1].WriteMessage(websocket.TextMessage, b))
}

func (h *harness) dropConn(t *testing.T) {
	t.Helper()

	h.mu.Lock()
	defer h.mu.Unlock()

	require.NotEmpty(t, h.conns)
	h.conns[len(h.conns)-1].Close()
}

func (h *harness) expectFrame(t *testing.T, op string) *event.Request {
	t.Helper()

	for {
		select {
		case req := <-h.frames:
			if req.Op == op {
				return req
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no %s frame arrived", op)
			return nil
		}
	}
}

func testCtx() context.Context {
	ctx := xcontext.WithLogger(context.Background(), logger.NewLogger(logger.SILENCE))
	return xcontext.WithConfigs(ctx, config.Default())
}

func remoteMsg(id string, at time.Time) entity.Message {
	return entity.Message{
		ID: id, SenderID: "alice", RoomID: "general",
		Body: "msg " + id, CreatedAt: at, DeliveryState: entity.DeliverySent,
	}
}

func messageIDs(s *Session) []string {
	msgs := s.Timeline().Messages()
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}

	return out
}

func TestSessionLifecycle(t *testing.T) {
	h := newHarness(t)
	h.setHistory(remoteMsg("1", t0), remoteMsg("2", t0.Add(time.Second)))

	s, err := Open(testCtx(), "bob", entity.RoomKey("general"), h.deps)
	require.NoError(t, err)
	h.expectFrame(t, "join_room")
	require.Equal(t, StateJoined, s.State())

	require.NoError(t, s.LoadHistory(testCtx(), 50))
	require.Equal(t, []string{"1", "2"}, messageIDs(s))

	// A live message lands in order.
	h.push(t, event.New(event.MessageCreatedEvent(remoteMsg("3", t0.Add(2*time.Second))), event.Metadata{To: "general"}))
	require.Eventually(t, func() bool {
		return s.Timeline().Len() == 3
	}, 2*time.Second, 10*time.Millisecond)

	// A message for another room is filtered out.
	other := remoteMsg("x", t0.Add(3*time.Second))
	other.RoomID = "random"
	h.push(t, event.New(event.MessageCreatedEvent(other), event.Metadata{To: "random"}))

	// Late duplicate of "1" advances its delivery state without a
	// duplicate insert.
	dup := remoteMsg("1", t0)
	dup.DeliveryState = entity.DeliveryDelivered
	h.push(t, event.New(event.MessageCreatedEvent(dup), event.Metadata{To: "general"}))

	require.Eventually(t, func() bool {
		got, ok := s.Timeline().Get("1")
		return ok && got.DeliveryState == entity.DeliveryDelivered
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"1", "2", "3"}, messageIDs(s))

	s.Close(testCtx())
	h.expectFrame(t, "leave_room")

	// After teardown nothing mutates the timeline.
	h.push(t, event.New(event.MessageCreatedEvent(remoteMsg("9", t0.Add(time.Hour))), event.Metadata{To: "general"}))
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 3, s.Timeline().Len())
}

func TestSessionSendEcho(t *testing.T) {
	h := newHarness(t)

	s, err := Open(testCtx(), "bob", entity.RoomKey("general"), h.deps)
	require.NoError(t, err)
	defer s.Close(testCtx())
	require.NoError(t, s.LoadHistory(testCtx(), 50))

	sent, err := s.Send(testCtx(), "hello")
	require.NoError(t, err)
	require.Equal(t, entity.DeliveryPending, sent.DeliveryState)
	require.Len(t, s.Timeline().Unconfirmed(), 1)

	directive := h.expectFrame(t, "send_message")
	decoded, err := event.Decode[event.SendMessageDirective](directive.Data)
	require.NoError(t, err)
	require.Equal(t, sent.ID, decoded.ID)

	// The relay echoes the message back with the same id.
	echo := entity.Message{
		ID: sent.ID, SenderID: "bob", RoomID: "general",
		Body: "hello", CreatedAt: sent.CreatedAt, DeliveryState: entity.DeliverySent,
	}
	h.push(t, event.New(event.MessageCreatedEvent(echo), event.Metadata{To: "general"}))

	require.Eventually(t, func() bool {
		return len(s.Timeline().Unconfirmed()) == 0
	}, 2*time.Second, 10*time.Millisecond)

	// Still a single entry, now confirmed.
	require.Equal(t, 1, s.Timeline().Len())
	got, _ := s.Timeline().Get(sent.ID)
	require.Equal(t, entity.DeliverySent, got.DeliveryState)
}

func TestSessionRaceWindow(t *testing.T) {
	h := newHarness(t)
	h.setHistory(remoteMsg("1", t0))

	s, err := Open(testCtx(), "bob", entity.RoomKey("general"), h.deps)
	require.NoError(t, err)
	defer s.Close(testCtx())
	h.expectFrame(t, "join_room")

	// Handlers run in subscription order, so once this later subscriber
	// sees the event the session has already handled it.
	seen := make(chan struct{}, 1)
	h.disp.Subscribe("message_created", func(context.Context, *event.Request) {
		seen <- struct{}{}
	})

	// A message arrives after the join but before the snapshot fetch
	// resolves. It must not be lost.
	h.push(t, event.New(event.MessageCreatedEvent(remoteMsg("2", t0.Add(time.Second))), event.Metadata{To: "general"}))

	select {
	case <-seen:
	case <-time.After(2 * time.Second):
		t.Fatal("pushed message never arrived")
	}

	require.False(t, s.Timeline().SnapshotLoaded())
	require.Equal(t, 0, s.Timeline().Len())

	require.NoError(t, s.LoadHistory(testCtx(), 50))
	require.Equal(t, []string{"1", "2"}, messageIDs(s))
}

func TestSessionTyping(t *testing.T) {
	h := newHarness(t)

	s, err := Open(testCtx(), "bob", entity.RoomKey("general"), h.deps)
	require.NoError(t, err)
	defer s.Close(testCtx())

	h.push(t, event.New(event.TypingStartedEvent{ParticipantID: "alice"}, event.Metadata{To: "general"}))
	require.Eventually(t, s.Tracker().IsRemoteTyping, 2*time.Second, 10*time.Millisecond)

	// Typing in another room never reaches this session's tracker.
	h.push(t, event.New(event.TypingStartedEvent{ParticipantID: "carol"}, event.Metadata{To: "random"}))
	h.push(t, event.New(event.TypingStoppedEvent{ParticipantID: "alice"}, event.Metadata{To: "general"}))

	require.Eventually(t, func() bool {
		return !s.Tracker().IsRemoteTyping()
	}, 2*time.Second, 10*time.Millisecond)

	// Local intent is edge-triggered.
	s.SetComposing(testCtx(), true)
	h.expectFrame(t, "typing_started")
	s.SetComposing(testCtx(), false)
	h.expectFrame(t, "typing_stopped")
}

func TestSessionReaction(t *testing.T) {
	h := newHarness(t)
	h.setHistory(remoteMsg("1", t0))

	s, err := Open(testCtx(), "bob", entity.RoomKey("general"), h.deps)
	require.NoError(t, err)
	defer s.Close(testCtx())
	require.NoError(t, s.LoadHistory(testCtx(), 50))

	require.NoError(t, s.SendReaction(testCtx(), "1", "👍"))
	h.expectFrame(t, "reaction_added")

	got, _ := s.Timeline().Get("1")
	require.True(t, got.Reactions.Has("👍", "bob"))

	// The relayed copy of our own reaction is idempotent.
	h.push(t, event.New(event.ReactionAddedEvent{MessageID: "1", Emoji: "👍", UserID: "bob"}, event.Metadata{To: "general"}))
	h.push(t, event.New(event.ReactionAddedEvent{MessageID: "1", Emoji: "👍", UserID: "alice"}, event.Metadata{To: "general"}))

	require.Eventually(t, func() bool {
		got, _ := s.Timeline().Get("1")
		return got.Reactions.Count("👍") == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSessionReadyAck(t *testing.T) {
	h := newHarness(t)

	s, err := Open(testCtx(), "bob", entity.RoomKey("general"), h.deps)
	require.NoError(t, err)
	defer s.Close(testCtx())
	h.expectFrame(t, "join_room")

	h.dropConn(t)
	require.Eventually(t, func() bool {
		return s.State() == StateDisconnected
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, h.mgr.Connect(testCtx()))
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.conns) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// A ready listing only other channels does not confirm this session.
	h.push(t, event.New(event.ReadyEvent{Channels: []string{"random"}}, event.Metadata{}))
	h.push(t, event.New(event.ReadyEvent{Channels: []string{"random", "general"}}, event.Metadata{}))

	require.Eventually(t, func() bool {
		return s.State() == StateJoined
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSessionDisconnectAndResume(t *testing.T) {
	h := newHarness(t)

	s, err := Open(testCtx(), "bob", entity.RoomKey("general"), h.deps)
	require.NoError(t, err)
	defer s.Close(testCtx())
	h.expectFrame(t, "join_room")

	h.push(t, event.New(event.TypingStartedEvent{ParticipantID: "alice"}, event.Metadata{To: "general"}))
	require.Eventually(t, s.Tracker().IsRemoteTyping, 2*time.Second, 10*time.Millisecond)

	h.dropConn(t)

	require.Eventually(t, func() bool {
		return s.State() == StateDisconnected
	}, 2*time.Second, 10*time.Millisecond)

	// Stale typing indicators were cleared with the stream.
	require.False(t, s.Tracker().IsRemoteTyping())

	require.NoError(t, s.Resume(testCtx()))
	require.Equal(t, StateJoined, s.State())
	h.expectFrame(t, "join_room")
}

package conn

import (
	"context"
	"net/http"
	"sync"

	"github.com/jobport-labs/chatsync/config"
	"github.com/jobport-labs/chatsync/internal/event"
	"github.com/jobport-labs/chatsync/pkg/errorx"
	"github.com/jobport-labs/chatsync/pkg/xcontext"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync"
)

// Sink receives every inbound envelope, in arrival order.
type Sink func(ctx context.Context, req *event.Request)

type Options struct {
	Dialer *websocket.Dialer
}

type roomState struct {
	refs int

	// joinedGen is the connection generation the join directive was last
	// sent on. A stale generation means the room must be re-joined on the
	// current connection.
	joinedGen uint64
}

type disconnectSub struct {
	fn      func(error)
	removed bool
}

// Manager owns the one persistent duplex connection of an authenticated
// session. Room joins are reference-counted: any number of logical
// subscribers share a single wire join per room. The manager never
// re-joins rooms by itself after a reconnect; only the callers know which
// conversations are still open, so they re-join on the disconnect
// notification.
type Manager struct {
	endpoint string
	token    string
	dialer   *websocket.Dialer
	sink     Sink

	mu     sync.Mutex
	sock   *socket
	gen    uint64
	closed bool

	rooms *xsync.MapOf[string, *roomState]

	disconnectSubs []*disconnectSub
}

// NewManager creates the handle. With cfg.AutoConnect the dial happens
// immediately; otherwise the caller invokes Connect.
func NewManager(ctx context.Context, cfg config.SocketConfigs, sink Sink, opts *Options) (*Manager, error) {
	dialer := websocket.DefaultDialer
	if opts != nil && opts.Dialer != nil {
		dialer = opts.Dialer
	}

	m := &Manager{
		endpoint: cfg.Endpoint,
		token:    cfg.Token,
		dialer:   dialer,
		sink:     sink,
		rooms:    xsync.NewMapOf[*roomState](),
	}

	if cfg.AutoConnect {
		if err := m.Connect(ctx); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Connect establishes the connection if it is not already up. On failure
// the disconnect subscribers fire with a retryable error; retry policy
// belongs to the caller.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return errorx.New(errorx.ConnectionClosed, "manager is closed")
	}

	if m.sock != nil {
		m.mu.Unlock()
		return nil
	}

	header := http.Header{}
	if m.token != "" {
		header.Set("Authorization", "Bearer "+m.token)
	}

	wsConn, _, err := m.dialer.DialContext(ctx, m.endpoint, header)
	if err != nil {
		subs := m.disconnectSubsLocked()
		m.mu.Unlock()

		xcontext.Logger(ctx).Warnf("Cannot establish connection with push stream: %v", err)
		connErr := errorx.New(errorx.Unavailable, "cannot connect: %v", err)
		for _, fn := range subs {
			fn(connErr)
		}

		return connErr
	}

	m.sock = newSocket(wsConn)
	m.gen++

	sock := m.sock
	m.mu.Unlock()

	go m.runReceive(ctx, sock)
	return nil
}

func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.sock != nil
}

// Send wraps ev in the wire envelope and writes it to the connection.
func (m *Manager) Send(ctx context.Context, ev event.Event, metadata event.Metadata) error {
	m.mu.Lock()
	sock := m.sock
	m.mu.Unlock()

	if sock == nil {
		return errorx.New(errorx.NotConnected, "not connected")
	}

	b, err := event.New(ev, metadata).Marshal()
	if err != nil {
		return err
	}

	if err := sock.write(b); err != nil {
		return errorx.New(errorx.ConnectionClosed, "write failed: %v", err)
	}

	return nil
}

// JoinRoom adds one subscriber to channel. The join directive goes on the
// wire only for the first subscriber of a connection generation, so joining
// an already-joined room is a no-op from the caller's perspective.
func (m *Manager) JoinRoom(ctx context.Context, channel string) error {
	if channel == "" {
		return errorx.New(errorx.BadRequest, "empty channel")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sock == nil {
		return errorx.New(errorx.NotConnected, "not connected")
	}

	state, _ := m.rooms.LoadOrStore(channel, &roomState{})
	state.refs++

	if state.joinedGen == m.gen {
		return nil
	}

	if err := m.writeLocked(event.JoinRoomDirective{Channel: channel}); err != nil {
		state.refs--
		return err
	}

	state.joinedGen = m.gen
	xcontext.Logger(ctx).Debugf("Joined channel %s", channel)
	return nil
}

// Rejoin re-sends the join directive for a still-subscribed room after a
// reconnect. Reference counts are untouched.
func (m *Manager) Rejoin(ctx context.Context, channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sock == nil {
		return errorx.New(errorx.NotConnected, "not connected")
	}

	state, ok := m.rooms.Load(channel)
	if !ok || state.refs == 0 {
		return errorx.New(errorx.NotFound, "channel %s has no subscribers", channel)
	}

	if state.joinedGen == m.gen {
		return nil
	}

	if err := m.writeLocked(event.JoinRoomDirective{Channel: channel}); err != nil {
		return err
	}

	state.joinedGen = m.gen
	return nil
}

// LeaveRoom drops one subscriber; the leave directive goes on the wire
// when the last one is gone.
func (m *Manager) LeaveRoom(ctx context.Context, channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.rooms.Load(channel)
	if !ok || state.refs == 0 {
		return errorx.New(errorx.NotFound, "channel %s was not joined", channel)
	}

	state.refs--
	if state.refs > 0 {
		return nil
	}

	m.rooms.Delete(channel)

	if m.sock == nil {
		// Nothing to signal; the connection is gone anyway.
		return nil
	}

	if err := m.writeLocked(event.LeaveRoomDirective{Channel: channel}); err != nil {
		return err
	}

	xcontext.Logger(ctx).Debugf("Left channel %s", channel)
	return nil
}

// OnDisconnect registers a callback fired when the connection drops or a
// connection attempt fails. The returned function removes it.
func (m *Manager) OnDisconnect(fn func(error)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := &disconnectSub{fn: fn}
	m.disconnectSubs = append(m.disconnectSubs, sub)

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		if sub.removed {
			return
		}

		sub.removed = true
		for i, cur := range m.disconnectSubs {
			if cur == sub {
				m.disconnectSubs = append(m.disconnectSubs[:i], m.disconnectSubs[i+1:]...)
				break
			}
		}
	}
}

// Close tears the connection down for good; no disconnect notification
// fires for an explicit close.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	sock := m.sock
	m.sock = nil
	m.mu.Unlock()

	if sock != nil {
		sock.close()
	}
}

func (m *Manager) runReceive(ctx context.Context, sock *socket) {
	for b := range sock.R {
		req, err := event.Parse(b)
		if err != nil {
			xcontext.Logger(ctx).Errorf("Cannot parse envelope: %v", err)
			continue
		}

		if m.sink != nil {
			m.sink(ctx, req)
		}
	}

	m.mu.Lock()
	wasClosed := m.closed
	if m.sock == sock {
		m.sock = nil
	}
	subs := m.disconnectSubsLocked()
	m.mu.Unlock()

	if wasClosed {
		return
	}

	xcontext.Logger(ctx).Warnf("Push stream disconnected")
	err := errorx.New(errorx.ConnectionClosed, "connection lost")
	for _, fn := range subs {
		fn(err)
	}
}

func (m *Manager) writeLocked(ev event.Event) error {
	b, err := event.New(ev, event.Metadata{}).Marshal()
	if err != nil {
		return err
	}

	if err := m.sock.write(b); err != nil {
		return errorx.New(errorx.ConnectionClosed, "write failed: %v", err)
	}

	return nil
}

func (m *Manager) disconnectSubsLocked() []func(error) {
	out := make([]func(error), 0, len(m.disconnectSubs))
	for _, sub := range m.disconnectSubs {
		out = append(out, sub.fn)
	}

	return out
}

package conn

import (
	"errors"

	"github.com/gorilla/websocket"
)

// socket wraps one websocket connection with buffered reader and writer
// pumps. R is closed when the connection dies; writes after that return an
// error instead of panicking.
type socket struct {
	conn *websocket.Conn
	R    chan []byte
	W    chan []byte
}

func newSocket(conn *websocket.Conn) *socket {
	s := &socket{
		conn: conn,
		R:    make(chan []byte, 128),
		W:    make(chan []byte, 128),
	}

	go s.runReader()
	go s.runWriter()
	return s
}

func (s *socket) runReader() {
	defer close(s.R)

	for {
		t, msg, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		if t == websocket.CloseMessage {
			return
		}

		if t == websocket.TextMessage {
			s.R <- msg
		}
	}
}

func (s *socket) runWriter() {
	defer close(s.W)

	for msg := range s.W {
		if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (s *socket) write(msg []byte) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}

		if str, ok := r.(string); ok {
			err = errors.New(str)
		} else {
			err = errors.New("connection is closed")
		}
	}()

	s.W <- msg
	return nil
}

func (s *socket) close() {
	s.conn.Close()
}

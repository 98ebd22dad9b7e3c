// Package realtimetest runs an in-process Socket.IO server for tests.
package realtimetest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/REM-Infotech/crawjud-ui/internal/realtime"
)

// EventFunc handles an inbound event. Its return value becomes the ack
// arguments when the client asked for an acknowledgement.
type EventFunc func(sid string, args []json.RawMessage) []any

// Received is one event the server got from a client.
type Received struct {
	Namespace string
	SID       string
	Event     string
	Args      []json.RawMessage
	Buffers   [][]byte
}

type Server struct {
	*httptest.Server

	// PingInterval, when set, makes the server ping clients on that period.
	PingInterval time.Duration
	// SetCookie is sent on the handshake response when non-nil.
	SetCookie *http.Cookie

	mu        sync.Mutex
	handlers  map[string]EventFunc
	reject    map[string]string
	received  []Received
	conns     map[*websocket.Conn]*clientState
	cookies   []string
	pongs     int
	nextSID   int
	handshake int
}

type clientState struct {
	namespaces map[string]string // nsp → socket id
}

func NewServer() *Server {
	s := &Server{
		handlers: make(map[string]EventFunc),
		reject:   make(map[string]string),
		conns:    make(map[*websocket.Conn]*clientState),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// Handle registers fn for event on namespace nsp.
func (s *Server) Handle(nsp, event string, fn EventFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[nsp+"\x00"+event] = fn
}

// Reject makes connections to nsp fail with message.
func (s *Server) Reject(nsp, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject[nsp] = message
}

func (s *Server) Received() []Received {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Received(nil), s.received...)
}

// Events returns the received events named event.
func (s *Server) Events(event string) []Received {
	var out []Received
	for _, r := range s.Received() {
		if r.Event == event {
			out = append(out, r)
		}
	}
	return out
}

// Cookies returns the Cookie headers seen on handshakes.
func (s *Server) Cookies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cookies...)
}

func (s *Server) Pongs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pongs
}

// Handshakes counts websocket connections accepted so far.
func (s *Server) Handshakes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshake
}

// Connected counts clients currently joined to nsp.
func (s *Server) Connected(nsp string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, st := range s.conns {
		if _, ok := st.namespaces[nsp]; ok {
			n++
		}
	}
	return n
}

// Emit sends an event to every client joined to nsp.
func (s *Server) Emit(nsp, event string, args ...any) error {
	data, err := json.Marshal(append([]any{event}, args...))
	if err != nil {
		return err
	}
	msg := "4" + (&realtime.Packet{Type: realtime.PacketEvent, Namespace: nsp, Data: data}).Encode()
	for _, c := range s.clients(nsp) {
		if err := c.Write(context.Background(), websocket.MessageText, []byte(msg)); err != nil {
			return err
		}
	}
	return nil
}

// DisconnectAll drops every websocket connection.
func (s *Server) DisconnectAll() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.Close(websocket.StatusGoingAway, "server shutdown")
	}
}

func (s *Server) clients(nsp string) []*websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*websocket.Conn
	for c, st := range s.conns {
		if _, ok := st.namespaces[nsp]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/socket.io") || r.URL.Query().Get("EIO") != "4" || r.URL.Query().Get("transport") != "websocket" {
		http.Error(w, "bad transport", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.cookies = append(s.cookies, r.Header.Get("Cookie"))
	s.handshake++
	s.mu.Unlock()
	if s.SetCookie != nil {
		http.SetCookie(w, s.SetCookie)
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	conn.SetReadLimit(16 << 20)
	defer conn.CloseNow()

	st := &clientState{namespaces: make(map[string]string)}
	s.mu.Lock()
	s.conns[conn] = st
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	interval := s.PingInterval
	if interval == 0 {
		interval = 25 * time.Second
	}
	open := fmt.Sprintf(`0{"sid":"eio-%d","upgrades":[],"pingInterval":%d,"pingTimeout":%d,"maxPayload":1000000}`,
		s.Handshakes(), interval.Milliseconds(), interval.Milliseconds())
	if err := conn.Write(ctx, websocket.MessageText, []byte(open)); err != nil {
		return
	}
	if s.PingInterval > 0 {
		go func() {
			t := time.NewTicker(s.PingInterval)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					if conn.Write(ctx, websocket.MessageText, []byte("2")) != nil {
						return
					}
				}
			}
		}()
	}

	var pending *realtime.Packet
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ == websocket.MessageBinary {
			if pending == nil {
				continue
			}
			pending.Buffers = append(pending.Buffers, data)
			if len(pending.Buffers) == pending.Attachments {
				s.handlePacket(ctx, conn, st, pending)
				pending = nil
			}
			continue
		}
		if len(data) == 0 {
			continue
		}
		switch data[0] {
		case '3':
			s.mu.Lock()
			s.pongs++
			s.mu.Unlock()
		case '1':
			return
		case '4':
			p, err := realtime.DecodePacket(string(data[1:]))
			if err != nil {
				continue
			}
			if p.Attachments > 0 {
				pending = p
				continue
			}
			s.handlePacket(ctx, conn, st, p)
		}
	}
}

func (s *Server) handlePacket(ctx context.Context, conn *websocket.Conn, st *clientState, p *realtime.Packet) {
	reply := func(rp *realtime.Packet) {
		conn.Write(ctx, websocket.MessageText, []byte("4"+rp.Encode()))
	}

	switch p.Type {
	case realtime.PacketConnect:
		s.mu.Lock()
		msg, rejected := s.reject[p.Namespace]
		s.nextSID++
		sid := fmt.Sprintf("sock-%d", s.nextSID)
		if !rejected {
			st.namespaces[p.Namespace] = sid
		}
		s.mu.Unlock()
		if rejected {
			data, _ := json.Marshal(map[string]string{"message": msg})
			reply(&realtime.Packet{Type: realtime.PacketConnectError, Namespace: p.Namespace, Data: data})
			return
		}
		data, _ := json.Marshal(map[string]string{"sid": sid})
		reply(&realtime.Packet{Type: realtime.PacketConnect, Namespace: p.Namespace, Data: data})

	case realtime.PacketDisconnect:
		s.mu.Lock()
		delete(st.namespaces, p.Namespace)
		s.mu.Unlock()

	case realtime.PacketEvent, realtime.PacketBinaryEvent:
		var raw []json.RawMessage
		if err := json.Unmarshal(p.Data, &raw); err != nil || len(raw) == 0 {
			return
		}
		var event string
		json.Unmarshal(raw[0], &event)
		s.mu.Lock()
		sid := st.namespaces[p.Namespace]
		s.received = append(s.received, Received{
			Namespace: p.Namespace,
			SID:       sid,
			Event:     event,
			Args:      raw[1:],
			Buffers:   p.Buffers,
		})
		fn := s.handlers[p.Namespace+"\x00"+event]
		s.mu.Unlock()

		var ack []any
		if fn != nil {
			ack = fn(sid, raw[1:])
		}
		if p.HasID {
			if ack == nil {
				ack = []any{}
			}
			data, _ := json.Marshal(ack)
			reply(&realtime.Packet{Type: realtime.PacketAck, Namespace: p.Namespace, ID: p.ID, HasID: true, Data: data})
		}
	}
}

package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Handler receives the arguments of an inbound event. Handlers run on the
// read goroutine in arrival order and must not block on the same socket.
type Handler func(args []json.RawMessage)

// ConnectError is the server refusing a namespace connection.
type ConnectError struct {
	Namespace string
	Message   string
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("realtime: connect %s refused: %s", e.Namespace, e.Message)
}

// AckError is an acknowledgement whose first argument is not null.
type AckError struct {
	Payload json.RawMessage
}

func (e *AckError) Error() string {
	var s string
	if json.Unmarshal(e.Payload, &s) == nil {
		return "realtime: ack error: " + s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(e.Payload, &obj) == nil && obj.Message != "" {
		return "realtime: ack error: " + obj.Message
	}
	return "realtime: ack error: " + string(e.Payload)
}

// AckErr treats a non-null first acknowledgement argument as an error.
func AckErr(args []json.RawMessage) error {
	if len(args) == 0 {
		return nil
	}
	first := bytes.TrimSpace(args[0])
	if len(first) == 0 || bytes.Equal(first, []byte("null")) || bytes.Equal(first, []byte("false")) {
		return nil
	}
	return &AckError{Payload: args[0]}
}

type ackResult struct {
	args []json.RawMessage
	err  error
}

// Socket is one namespace on a Manager's connection.
type Socket struct {
	m   *Manager
	nsp string

	mu         sync.Mutex
	id         string
	connected  bool
	connecting chan error
	done       chan struct{}
	transport  chan struct{} // done channel of the connection the session lives on
	handlers   map[string][]Handler
	acks       map[uint64]chan ackResult
	nextID     uint64
}

func newSocket(m *Manager, nsp string) *Socket {
	return &Socket{
		m:        m,
		nsp:      nsp,
		handlers: make(map[string][]Handler),
		acks:     make(map[uint64]chan ackResult),
	}
}

func (s *Socket) Namespace() string { return s.nsp }

// ID is the namespace socket id assigned by the server, empty when disconnected.
func (s *Socket) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Done is closed when the current session of this socket ends.
func (s *Socket) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.done
}

// On registers a handler for an inbound event.
func (s *Socket) On(event string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = append(s.handlers[event], h)
}

// Off removes every handler for event.
func (s *Socket) Off(event string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, event)
}

// Connect opens the transport if needed and joins the namespace.
func (s *Socket) Connect(ctx context.Context) error {
	if s.Connected() {
		return nil
	}
	transportDone, err := s.m.open(ctx)
	if err != nil {
		return err
	}

	ch := make(chan error, 1)
	s.mu.Lock()
	s.connecting = ch
	s.transport = transportDone
	s.mu.Unlock()

	if err := s.m.send(&Packet{Type: PacketConnect, Namespace: s.nsp}); err != nil {
		s.clearConnecting(ch)
		return fmt.Errorf("connect %s: %w", s.nsp, err)
	}

	select {
	case err := <-ch:
		return err
	case <-transportDone:
		s.clearConnecting(ch)
		return fmt.Errorf("connect %s: %w", s.nsp, ErrDisconnected)
	case <-ctx.Done():
		s.clearConnecting(ch)
		return ctx.Err()
	}
}

func (s *Socket) clearConnecting(ch chan error) {
	s.mu.Lock()
	if s.connecting == ch {
		s.connecting = nil
	}
	s.mu.Unlock()
}

// Disconnect leaves the namespace. The transport is closed once no
// namespace remains connected. Pending acks fail with ErrDisconnected.
func (s *Socket) Disconnect() error {
	var err error
	if s.Connected() {
		err = s.m.send(&Packet{Type: PacketDisconnect, Namespace: s.nsp})
	}
	s.closed(ErrDisconnected)
	s.m.closeIfIdle()
	return err
}

// Emit sends an event without waiting for an acknowledgement.
func (s *Socket) Emit(ctx context.Context, event string, args ...any) error {
	if !s.Connected() {
		return ErrNotConnected
	}
	p, err := newEventPacket(s.nsp, event, args)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.m.send(p)
}

// EmitWithAck sends an event and waits for the server's acknowledgement,
// bounded by the manager's ack timeout and ctx.
func (s *Socket) EmitWithAck(ctx context.Context, event string, args ...any) ([]json.RawMessage, error) {
	p, err := newEventPacket(s.nsp, event, args)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil, ErrNotConnected
	}
	id := s.nextID
	s.nextID++
	ch := make(chan ackResult, 1)
	s.acks[id] = ch
	s.mu.Unlock()

	p.ID, p.HasID = id, true
	if err := s.m.send(p); err != nil {
		s.dropAck(id)
		return nil, fmt.Errorf("emit %s: %w", event, err)
	}

	timer := time.NewTimer(s.m.opts.AckTimeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r.args, r.err
	case <-timer.C:
		s.dropAck(id)
		return nil, fmt.Errorf("%w: %s after %v", ErrAckTimeout, event, s.m.opts.AckTimeout)
	case <-ctx.Done():
		s.dropAck(id)
		return nil, ctx.Err()
	}
}

func (s *Socket) dropAck(id uint64) {
	s.mu.Lock()
	delete(s.acks, id)
	s.mu.Unlock()
}

func (s *Socket) onPacket(p *Packet) {
	switch p.Type {
	case PacketConnect:
		var body struct {
			SID string `json:"sid"`
		}
		json.Unmarshal(p.Data, &body)
		s.mu.Lock()
		s.id = body.SID
		s.connected = true
		s.done = make(chan struct{})
		ch := s.connecting
		s.connecting = nil
		s.mu.Unlock()
		s.m.log.Debug("namespace connected", "nsp", s.nsp, "sid", body.SID)
		if ch != nil {
			ch <- nil
		}

	case PacketConnectError:
		var body struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(p.Data, &body) != nil || body.Message == "" {
			body.Message = string(p.Data)
		}
		s.mu.Lock()
		ch := s.connecting
		s.connecting = nil
		s.mu.Unlock()
		if ch != nil {
			ch <- &ConnectError{Namespace: s.nsp, Message: body.Message}
		}

	case PacketDisconnect:
		s.m.log.Debug("namespace disconnected by server", "nsp", s.nsp)
		s.closed(ErrDisconnected)

	case PacketEvent, PacketBinaryEvent:
		args, err := p.Args()
		if err != nil || len(args) == 0 {
			s.m.log.Debug("bad event payload", "nsp", s.nsp, "err", err)
			return
		}
		var event string
		if err := json.Unmarshal(args[0], &event); err != nil {
			return
		}
		s.mu.Lock()
		handlers := append([]Handler(nil), s.handlers[event]...)
		s.mu.Unlock()
		for _, h := range handlers {
			h(args[1:])
		}
		if p.HasID {
			s.m.send(&Packet{Type: PacketAck, Namespace: s.nsp, ID: p.ID, HasID: true, Data: json.RawMessage("[]")})
		}

	case PacketAck, PacketBinaryAck:
		if !p.HasID {
			return
		}
		args, err := p.Args()
		s.mu.Lock()
		ch := s.acks[p.ID]
		delete(s.acks, p.ID)
		s.mu.Unlock()
		if ch != nil {
			ch <- ackResult{args: args, err: err}
		}
	}
}

// transportClosed ends the session when it lives on the connection whose
// done channel is done.
func (s *Socket) transportClosed(done chan struct{}) {
	s.mu.Lock()
	mine := s.transport == done
	s.mu.Unlock()
	if mine {
		s.closed(ErrDisconnected)
	}
}

// closed ends the current session and fails every waiter with err.
func (s *Socket) closed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.id = ""
	for id, ch := range s.acks {
		ch <- ackResult{err: err}
		delete(s.acks, id)
	}
	if s.connecting != nil {
		s.connecting <- err
		s.connecting = nil
	}
	if s.done != nil {
		select {
		case <-s.done:
		default:
			close(s.done)
		}
	}
}

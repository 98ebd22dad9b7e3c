// Package realtime is a Socket.IO v5 client over the Engine.IO v4
// websocket transport. One Manager owns the connection; each namespace is
// a Socket multiplexed over it.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/REM-Infotech/crawjud-ui/internal/logger"
)

const (
	defaultPath       = "/socket.io/"
	defaultAckTimeout = 30 * time.Second
	writeTimeout      = 10 * time.Second
	readLimit         = 16 << 20
)

var (
	ErrNotConnected = errors.New("realtime: not connected")
	ErrDisconnected = errors.New("realtime: connection closed")
	ErrAckTimeout   = errors.New("realtime: ack timeout")
)

// Options configures a Manager.
type Options struct {
	// URL is the backend base URL (http, https, ws or wss).
	URL string
	// Path of the Socket.IO endpoint, "/socket.io/" by default.
	Path string
	// Jar supplies the session cookies on the handshake and receives any
	// cookies the handshake sets.
	Jar        http.CookieJar
	Header     http.Header
	AckTimeout time.Duration
	Logger     *slog.Logger
}

type handshake struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
	MaxPayload   int    `json:"maxPayload"`
}

// Manager owns the websocket connection shared by every namespace Socket.
// It dials on the first Connect and closes once no namespace is joined.
type Manager struct {
	opts Options
	log  *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	sid     string
	done    chan struct{}
	err     error
	sockets map[string]*Socket

	writeMu sync.Mutex
}

// NewManager validates opts and fills defaults. It does not dial.
func NewManager(opts Options) (*Manager, error) {
	if _, err := url.Parse(opts.URL); err != nil || opts.URL == "" {
		return nil, fmt.Errorf("invalid realtime url %q", opts.URL)
	}
	if opts.Path == "" {
		opts.Path = defaultPath
	}
	if opts.AckTimeout == 0 {
		opts.AckTimeout = defaultAckTimeout
	}
	return &Manager{
		opts:    opts,
		log:     logger.Or(opts.Logger),
		sockets: make(map[string]*Socket),
	}, nil
}

// Socket returns the socket for a namespace, creating it on first use.
func (m *Manager) Socket(nsp string) *Socket {
	if nsp == "" {
		nsp = "/"
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sockets[nsp]; ok {
		return s
	}
	s := newSocket(m, nsp)
	m.sockets[nsp] = s
	return s
}

func (m *Manager) endpoint() (string, error) {
	u, err := url.Parse(m.opts.URL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + m.opts.Path
	q := url.Values{}
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// open dials the websocket and reads the Engine.IO handshake unless a
// connection is already up. It returns the done channel of the connection
// in use.
func (m *Manager) open(ctx context.Context) (chan struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		return m.done, nil
	}

	endpoint, err := m.endpoint()
	if err != nil {
		return nil, err
	}
	opts := &websocket.DialOptions{
		HTTPHeader: m.opts.Header.Clone(),
		HTTPClient: &http.Client{Jar: m.opts.Jar},
	}
	conn, _, err := websocket.Dial(ctx, endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	typ, data, err := conn.Read(ctx)
	if err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("read handshake: %w", err)
	}
	if typ != websocket.MessageText || len(data) == 0 || data[0] != engineOpen {
		conn.CloseNow()
		return nil, fmt.Errorf("unexpected handshake %q", data)
	}
	var hs handshake
	if err := json.Unmarshal(data[1:], &hs); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("decode handshake: %w", err)
	}

	m.conn = conn
	m.sid = hs.SID
	m.done = make(chan struct{})
	m.err = nil
	m.log.Debug("realtime connected", "sid", hs.SID, "ping_interval", hs.PingInterval)

	go m.readLoop(conn, m.done, pingDeadline(hs))
	return m.done, nil
}

func pingDeadline(hs handshake) time.Duration {
	if hs.PingInterval <= 0 {
		return 0
	}
	return time.Duration(hs.PingInterval+hs.PingTimeout) * time.Millisecond
}

// readLoop dispatches packets until the connection drops. A missing server
// ping for pingInterval+pingTimeout closes the connection.
func (m *Manager) readLoop(conn *websocket.Conn, done chan struct{}, deadline time.Duration) {
	var watchdog *time.Timer
	if deadline > 0 {
		watchdog = time.AfterFunc(deadline, func() {
			m.log.Warn("realtime ping timeout")
			conn.Close(websocket.StatusGoingAway, "ping timeout")
		})
		defer watchdog.Stop()
	}

	var pending *Packet
	var err error
	for {
		var typ websocket.MessageType
		var data []byte
		typ, data, err = conn.Read(context.Background())
		if err != nil {
			break
		}

		if typ == websocket.MessageBinary {
			if pending == nil {
				m.log.Debug("unexpected binary frame")
				continue
			}
			pending.Buffers = append(pending.Buffers, data)
			if len(pending.Buffers) == pending.Attachments {
				m.dispatch(conn, pending)
				pending = nil
			}
			continue
		}
		if len(data) == 0 {
			continue
		}

		switch data[0] {
		case enginePing:
			if watchdog != nil {
				watchdog.Reset(deadline)
			}
			if werr := m.writeText(string(enginePong) + string(data[1:])); werr != nil {
				err = werr
			}
		case engineMessage:
			p, perr := DecodePacket(string(data[1:]))
			if perr != nil {
				m.log.Debug("bad packet", "err", perr)
				continue
			}
			if p.Attachments > 0 {
				pending = p
				continue
			}
			m.dispatch(conn, p)
		case engineClose:
			err = ErrDisconnected
		case engineNoop, enginePong, engineUpgrade:
		default:
			m.log.Debug("unknown engine packet", "type", string(data[0]))
		}
		if err != nil {
			break
		}
	}

	conn.CloseNow()
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
		m.err = err
	}
	sockets := make([]*Socket, 0, len(m.sockets))
	for _, s := range m.sockets {
		sockets = append(sockets, s)
	}
	m.mu.Unlock()
	close(done)

	// sockets already joined over a newer connection keep their session
	for _, s := range sockets {
		s.transportClosed(done)
	}
	m.log.Debug("realtime connection closed", "err", err)
}

func (m *Manager) dispatch(conn *websocket.Conn, p *Packet) {
	m.mu.Lock()
	current := m.conn == conn
	s := m.sockets[p.Namespace]
	m.mu.Unlock()
	if !current {
		return
	}
	if s == nil {
		m.log.Debug("packet for unknown namespace", "nsp", p.Namespace, "type", p.Type)
		return
	}
	s.onPacket(p)
}

func (m *Manager) writeText(msg string) error {
	return m.write(websocket.MessageText, []byte(msg))
}

func (m *Manager) write(typ websocket.MessageType, data []byte) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return conn.Write(ctx, typ, data)
}

// send writes a Socket.IO packet followed by its binary attachments.
func (m *Manager) send(p *Packet) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := m.writeText(string(engineMessage) + p.Encode()); err != nil {
		return err
	}
	for _, b := range p.Buffers {
		if err := m.write(websocket.MessageBinary, b); err != nil {
			return err
		}
	}
	return nil
}

// SID is the Engine.IO session id of the current connection.
func (m *Manager) SID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sid
}

// Done is closed when the current connection ends. It is nil before the first connect.
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// closeIfIdle drops the transport once no namespace is connected.
func (m *Manager) closeIfIdle() {
	m.mu.Lock()
	sockets := make([]*Socket, 0, len(m.sockets))
	for _, s := range m.sockets {
		sockets = append(sockets, s)
	}
	conn := m.conn
	m.mu.Unlock()

	for _, s := range sockets {
		if s.Connected() {
			return
		}
	}
	m.shutdown(conn)
}

// shutdown detaches conn so the next Connect dials afresh, then closes it.
// It is a no-op when conn is no longer the current connection.
func (m *Manager) shutdown(conn *websocket.Conn) error {
	if conn == nil {
		return nil
	}
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return nil
	}
	m.conn = nil
	m.sid = ""
	m.mu.Unlock()

	m.writeMu.Lock()
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	conn.Write(ctx, websocket.MessageText, []byte{engineClose})
	cancel()
	m.writeMu.Unlock()
	return conn.Close(websocket.StatusNormalClosure, "")
}

// Close disconnects every namespace and the transport.
func (m *Manager) Close() error {
	m.mu.Lock()
	sockets := make([]*Socket, 0, len(m.sockets))
	for _, s := range m.sockets {
		sockets = append(sockets, s)
	}
	conn := m.conn
	m.mu.Unlock()

	for _, s := range sockets {
		if s.Connected() {
			m.send(&Packet{Type: PacketDisconnect, Namespace: s.nsp})
		}
		s.closed(ErrDisconnected)
	}
	return m.shutdown(conn)
}

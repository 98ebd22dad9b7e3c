package realtime_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/REM-Infotech/crawjud-ui/internal/realtime"
	"github.com/REM-Infotech/crawjud-ui/internal/realtime/realtimetest"
)

func newTestManager(t *testing.T, srv *realtimetest.Server, jar http.CookieJar) *realtime.Manager {
	t.Helper()
	m, err := realtime.NewManager(realtime.Options{URL: srv.URL, Jar: jar, AckTimeout: 2 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestConnectSendsCookiesAndGetsID(t *testing.T) {
	srv := realtimetest.NewServer()
	defer srv.Close()
	srv.SetCookie = &http.Cookie{Name: "io", Value: "eio-cookie", Path: "/"}

	jar, _ := cookiejar.New(nil)
	base, _ := url.Parse(srv.URL)
	jar.SetCookies(base, []*http.Cookie{{Name: "access_token_cookie", Value: "jwt", Path: "/"}})

	m := newTestManager(t, srv, jar)
	s := m.Socket(realtime.NamespaceFiles)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if s.ID() == "" || !s.Connected() {
		t.Errorf("id=%q connected=%v", s.ID(), s.Connected())
	}
	if cookies := srv.Cookies(); len(cookies) != 1 || !strings.Contains(cookies[0], "access_token_cookie=jwt") {
		t.Errorf("handshake cookies = %v", cookies)
	}
	found := false
	for _, c := range jar.Cookies(base) {
		if c.Name == "io" && c.Value == "eio-cookie" {
			found = true
		}
	}
	if !found {
		t.Error("handshake Set-Cookie not stored in jar")
	}

	// A second namespace shares the transport.
	if err := m.Socket(realtime.NamespaceBot).Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if srv.Handshakes() != 1 {
		t.Errorf("handshakes = %d, want 1", srv.Handshakes())
	}
}

func TestEmitWithAck(t *testing.T) {
	srv := realtimetest.NewServer()
	defer srv.Close()
	srv.Handle(realtime.NamespaceBot, realtime.EventJoinRoom, func(sid string, args []json.RawMessage) []any {
		return []any{[]map[string]string{{"pid": "P1", "message": "cached"}}}
	})
	srv.Handle(realtime.NamespaceFiles, realtime.EventAddFile, func(sid string, args []json.RawMessage) []any {
		return []any{"no space left"}
	})

	m := newTestManager(t, srv, nil)
	bot := m.Socket(realtime.NamespaceBot)
	if err := bot.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	args, err := bot.EmitWithAck(context.Background(), realtime.EventJoinRoom, realtime.JoinRoom{Room: "P1"})
	if err != nil {
		t.Fatalf("ack: %v", err)
	}
	var history []realtime.LogMessage
	if err := json.Unmarshal(args[0], &history); err != nil || len(history) != 1 || history[0].Message != "cached" {
		t.Errorf("history = %+v, %v", history, err)
	}
	got := srv.Events(realtime.EventJoinRoom)
	if len(got) != 1 || string(got[0].Args[0]) != `{"room":"P1"}` {
		t.Errorf("server received %+v", got)
	}

	files := m.Socket(realtime.NamespaceFiles)
	files.Connect(context.Background())
	args, err = files.EmitWithAck(context.Background(), realtime.EventAddFile, realtime.AddFile{Name: "a", Chunk: []byte("xyz")})
	if err != nil {
		t.Fatal(err)
	}
	var ackErr *realtime.AckError
	if !errors.As(realtime.AckErr(args), &ackErr) {
		t.Errorf("expected AckError, got %v", realtime.AckErr(args))
	}
	rec := srv.Events(realtime.EventAddFile)
	if len(rec) != 1 || len(rec[0].Buffers) != 1 || string(rec[0].Buffers[0]) != "xyz" {
		t.Errorf("binary chunk = %+v", rec)
	}
}

func TestAckTimeout(t *testing.T) {
	srv := realtimetest.NewServer()
	defer srv.Close()
	srv.Handle("/files", "slow", func(string, []json.RawMessage) []any {
		time.Sleep(300 * time.Millisecond)
		return nil
	})
	m, _ := realtime.NewManager(realtime.Options{URL: srv.URL, AckTimeout: 50 * time.Millisecond})
	defer m.Close()
	s := m.Socket("/files")
	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	_, err := s.EmitWithAck(context.Background(), "slow")
	if !errors.Is(err, realtime.ErrAckTimeout) {
		t.Errorf("err = %v, want ErrAckTimeout", err)
	}
}

func TestDisconnectFailsPendingAck(t *testing.T) {
	srv := realtimetest.NewServer()
	defer srv.Close()
	srv.Handle("/files", "slow", func(string, []json.RawMessage) []any {
		time.Sleep(time.Second)
		return nil
	})
	m := newTestManager(t, srv, nil)
	s := m.Socket("/files")
	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := s.EmitWithAck(context.Background(), "slow")
		errc <- err
	}()
	waitFor(t, func() bool { return len(srv.Events("slow")) == 1 })
	s.Disconnect()

	select {
	case err := <-errc:
		if !errors.Is(err, realtime.ErrDisconnected) {
			t.Errorf("err = %v, want ErrDisconnected", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending ack not released")
	}
	if _, err := s.EmitWithAck(context.Background(), "slow"); !errors.Is(err, realtime.ErrNotConnected) {
		t.Errorf("emit after disconnect = %v", err)
	}
}

func TestInboundEvents(t *testing.T) {
	srv := realtimetest.NewServer()
	defer srv.Close()
	m := newTestManager(t, srv, nil)
	s := m.Socket(realtime.NamespaceLogs)

	var mu sync.Mutex
	var got []realtime.LogMessage
	s.On(realtime.EventLogBot, func(args []json.RawMessage) {
		var msg realtime.LogMessage
		if json.Unmarshal(args[0], &msg) == nil {
			mu.Lock()
			got = append(got, msg)
			mu.Unlock()
		}
	})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	srv.Emit(realtime.NamespaceLogs, realtime.EventLogBot, realtime.LogMessage{PID: "P1", Message: "first", MessageType: "info"})
	srv.Emit(realtime.NamespaceLogs, realtime.EventLogBot, realtime.LogMessage{PID: "P1", Message: "second", MessageType: "success"})

	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(got) == 2 })
	if got[0].Message != "first" || got[1].Message != "second" {
		t.Errorf("order = %+v", got)
	}
}

func TestConnectRejected(t *testing.T) {
	srv := realtimetest.NewServer()
	defer srv.Close()
	srv.Reject("/bot", "unauthorized")
	m := newTestManager(t, srv, nil)

	err := m.Socket("/bot").Connect(context.Background())
	var ce *realtime.ConnectError
	if !errors.As(err, &ce) || ce.Message != "unauthorized" {
		t.Errorf("err = %v, want ConnectError", err)
	}
}

func TestPingPongAndServerDrop(t *testing.T) {
	srv := realtimetest.NewServer()
	defer srv.Close()
	srv.PingInterval = 20 * time.Millisecond
	m := newTestManager(t, srv, nil)
	s := m.Socket("/bot")
	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return srv.Pongs() >= 2 })

	done := s.Done()
	srv.DisconnectAll()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("socket not closed after server drop")
	}
	if s.Connected() {
		t.Error("socket still connected")
	}

	// Reconnecting opens a fresh transport.
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if srv.Handshakes() != 2 {
		t.Errorf("handshakes = %d, want 2", srv.Handshakes())
	}
}

func TestDisconnectClosesIdleTransport(t *testing.T) {
	srv := realtimetest.NewServer()
	defer srv.Close()
	m := newTestManager(t, srv, nil)
	s := m.Socket("/files")
	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	done := m.Done()
	if err := s.Disconnect(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("transport still open")
	}
	waitFor(t, func() bool { return srv.Connected("/files") == 0 })
}

func TestConnectRightAfterIdleDisconnect(t *testing.T) {
	srv := realtimetest.NewServer()
	defer srv.Close()
	srv.Handle(realtime.NamespaceBot, "ping", func(sid string, args []json.RawMessage) []any {
		return []any{nil, "pong"}
	})
	m := newTestManager(t, srv, nil)
	files := m.Socket(realtime.NamespaceFiles)
	bot := m.Socket(realtime.NamespaceBot)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		if err := files.Connect(ctx); err != nil {
			t.Fatalf("round %d: connect files: %v", i, err)
		}
		old := m.Done()
		if err := files.Disconnect(); err != nil {
			t.Fatalf("round %d: disconnect files: %v", i, err)
		}
		if err := bot.Connect(ctx); err != nil {
			t.Fatalf("round %d: connect bot: %v", i, err)
		}

		// the old connection winding down must not end the new session
		select {
		case <-old:
		case <-time.After(2 * time.Second):
			t.Fatalf("round %d: old transport still open", i)
		}
		if !bot.Connected() {
			t.Fatalf("round %d: bot session ended with the old transport", i)
		}
		if _, err := bot.EmitWithAck(ctx, "ping"); err != nil {
			t.Fatalf("round %d: emit on new session: %v", i, err)
		}
		if err := bot.Disconnect(); err != nil {
			t.Fatalf("round %d: disconnect bot: %v", i, err)
		}
	}
	if srv.Handshakes() != 40 {
		t.Errorf("handshakes = %d, want 40", srv.Handshakes())
	}
}

package execlog

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/REM-Infotech/crawjud-ui/internal/realtime"
	"github.com/REM-Infotech/crawjud-ui/internal/realtime/realtimetest"
	"github.com/REM-Infotech/crawjud-ui/internal/store"
)

func newTestFollower(t *testing.T, srv *realtimetest.Server) (*Follower, *store.Store) {
	t.Helper()
	m, err := realtime.NewManager(realtime.Options{URL: srv.URL, AckTimeout: 2 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { m.Close() })
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return &Follower{
		Channel: m.Socket(realtime.NamespaceLogs),
		Store:   st,
		Backoff: realtime.NewBackoff(10*time.Millisecond, 50*time.Millisecond),
		Bot:     "Projudi Capa",
	}, st
}

func line(pid, tm string, row int, typ, text string) realtime.LogMessage {
	return realtime.LogMessage{PID: pid, TimeMessage: tm, Row: row, MessageType: typ, Message: text, Total: 3, Status: StatusRunning}
}

func emitLater(srv *realtimetest.Server, msgs ...realtime.LogMessage) {
	go func() {
		time.Sleep(30 * time.Millisecond)
		for _, m := range msgs {
			srv.Emit(realtime.NamespaceLogs, realtime.EventLogBot, m)
		}
	}()
}

func TestFollowReplaysHistoryThenLive(t *testing.T) {
	srv := realtimetest.NewServer()
	defer srv.Close()

	history := []realtime.LogMessage{
		line("AB12CD", "10:00:01", 0, realtime.MessageInfo, "Iniciando"),
		line("AB12CD", "10:00:02", 1, realtime.MessageSuccess, "Processo 1 ok"),
	}
	final := line("AB12CD", "10:00:04", 3, realtime.MessageSuccess, "Processo 3 ok")
	final.Status = StatusFinished
	srv.Handle(realtime.NamespaceLogs, realtime.EventJoinRoom, func(sid string, args []json.RawMessage) []any {
		emitLater(srv,
			line("OTHER", "10:00:03", 1, realtime.MessageError, "outra execução"),
			line("AB12CD", "10:00:03", 2, realtime.MessageError, "Processo 2 falhou"),
			final,
		)
		return []any{history}
	})

	f, st := newTestFollower(t, srv)
	var mu sync.Mutex
	var got []string
	f.Handler = func(m realtime.LogMessage) {
		mu.Lock()
		got = append(got, m.Message)
		mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	counts, err := f.Follow(ctx, "AB12CD")
	if err != nil {
		t.Fatalf("follow: %v", err)
	}
	want := Counts{Total: 3, Successes: 2, Errors: 1, Remaining: 0}
	if counts != want {
		t.Errorf("counts = %+v, want %+v", counts, want)
	}
	mu.Lock()
	if len(got) != 4 || got[0] != "Iniciando" || got[3] != "Processo 3 ok" {
		t.Errorf("handled = %v", got)
	}
	mu.Unlock()

	joins := srv.Events(realtime.EventJoinRoom)
	if len(joins) != 1 || string(joins[0].Args[0]) != `{"room":"AB12CD"}` {
		t.Errorf("join events = %+v", joins)
	}

	exec, err := st.GetExecution("AB12CD")
	if err != nil || exec == nil {
		t.Fatalf("execution = %v, %v", exec, err)
	}
	if exec.Status != StatusFinished || exec.FinishedAt == nil || exec.Bot != "Projudi Capa" {
		t.Errorf("execution = %+v", exec)
	}
	if exec.Successes != 2 || exec.Errors != 1 {
		t.Errorf("execution counts = %+v", exec)
	}
	msgs, _ := st.ListMessages("AB12CD")
	if len(msgs) != 4 {
		t.Errorf("stored messages = %d, want 4", len(msgs))
	}
	if other, _ := st.GetExecution("OTHER"); other != nil {
		t.Errorf("foreign pid recorded: %+v", other)
	}
}

func TestFollowReconnectsAndDeduplicates(t *testing.T) {
	srv := realtimetest.NewServer()
	defer srv.Close()

	first := line("P1", "10:00:01", 1, realtime.MessageSuccess, "um")
	final := line("P1", "10:00:02", 2, realtime.MessageSuccess, "dois")
	final.Status = StatusFinished

	var joins atomic.Int32
	srv.Handle(realtime.NamespaceLogs, realtime.EventJoinRoom, func(sid string, args []json.RawMessage) []any {
		if joins.Add(1) == 1 {
			go func() {
				time.Sleep(30 * time.Millisecond)
				srv.DisconnectAll()
			}()
			return []any{[]realtime.LogMessage{first}}
		}
		emitLater(srv, final)
		return []any{[]realtime.LogMessage{first}}
	})

	f, st := newTestFollower(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	counts, err := f.Follow(ctx, "P1")
	if err != nil {
		t.Fatalf("follow: %v", err)
	}
	if joins.Load() != 2 || srv.Handshakes() != 2 {
		t.Errorf("joins = %d handshakes = %d, want 2", joins.Load(), srv.Handshakes())
	}
	if counts.Successes != 2 || len(f.Lines()) != 2 {
		t.Errorf("counts = %+v lines = %d", counts, len(f.Lines()))
	}
	msgs, _ := st.ListMessages("P1")
	if len(msgs) != 2 {
		t.Errorf("stored = %d, want 2", len(msgs))
	}
}

func TestFollowEndsOnBotStop(t *testing.T) {
	srv := realtimetest.NewServer()
	defer srv.Close()
	srv.Handle(realtime.NamespaceLogs, realtime.EventJoinRoom, func(string, []json.RawMessage) []any {
		go func() {
			time.Sleep(30 * time.Millisecond)
			srv.Emit(realtime.NamespaceLogs, realtime.EventBotStop)
		}()
		return []any{[]realtime.LogMessage{}}
	})

	f, _ := newTestFollower(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := f.Follow(ctx, "P2"); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestFollowCancelled(t *testing.T) {
	srv := realtimetest.NewServer()
	defer srv.Close()
	srv.Handle(realtime.NamespaceLogs, realtime.EventJoinRoom, func(string, []json.RawMessage) []any {
		return []any{nil}
	})

	f, _ := newTestFollower(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := f.Follow(ctx, "P3"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestStopEmitsBotStop(t *testing.T) {
	srv := realtimetest.NewServer()
	defer srv.Close()
	f, _ := newTestFollower(t, srv)
	if err := f.Stop(context.Background(), "P4"); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for len(srv.Events(realtime.EventBotStop)) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	ev := srv.Events(realtime.EventBotStop)
	if len(ev) != 1 || string(ev[0].Args[0]) != `{"pid":"P4"}` {
		t.Fatalf("events = %+v", ev)
	}
}

func TestCounters(t *testing.T) {
	tests := []struct {
		name string
		msgs []realtime.LogMessage
		want Counts
	}{
		{"empty", nil, Counts{}},
		{"no total falls back to lines", []realtime.LogMessage{
			{MessageType: realtime.MessageSuccess}, {MessageType: realtime.MessageInfo},
		}, Counts{Total: 2, Successes: 1, Remaining: 1}},
		{"total from last message", []realtime.LogMessage{
			{MessageType: realtime.MessageError, Total: 5},
			{MessageType: realtime.MessageSuccess, Total: 10},
		}, Counts{Total: 10, Successes: 1, Errors: 1, Remaining: 8}},
		{"remaining never negative", []realtime.LogMessage{
			{MessageType: realtime.MessageSuccess, Total: 1},
			{MessageType: realtime.MessageSuccess, Total: 1},
		}, Counts{Total: 1, Successes: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Counters(tt.msgs); got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

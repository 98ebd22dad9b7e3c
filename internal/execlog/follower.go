// Package execlog follows the log stream of a running bot, replaying the
// history the backend keeps for it and recording every line locally.
package execlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/REM-Infotech/crawjud-ui/internal/logger"
	"github.com/REM-Infotech/crawjud-ui/internal/realtime"
	"github.com/REM-Infotech/crawjud-ui/internal/store"
)

// Execution statuses carried by log messages.
const (
	StatusInitializing = "Inicializando"
	StatusRunning      = "Em Execução"
	StatusFinished     = "Finalizado"
)

// ErrStopped is returned by Follow when the backend announced the bot was stopped.
var ErrStopped = errors.New("execution stopped")

// Channel is the log namespace of the realtime connection.
type Channel interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Done() <-chan struct{}
	On(event string, h realtime.Handler)
	Off(event string)
	Emit(ctx context.Context, event string, args ...any) error
	EmitWithAck(ctx context.Context, event string, args ...any) ([]json.RawMessage, error)
}

type Follower struct {
	Channel Channel
	// Store records lines and execution status when set.
	Store *store.Store
	// Handler receives each new line in order, history first.
	Handler func(realtime.LogMessage)
	Backoff *realtime.Backoff
	Bot     string
	Logger  *slog.Logger

	mu      sync.Mutex
	queue   []realtime.LogMessage
	wake    chan struct{}
	stopped chan struct{}
	seen    map[string]bool
	lines   []realtime.LogMessage
}

// Join enters the execution's room and returns the history the backend
// kept for it.
func (f *Follower) Join(ctx context.Context, pid string) ([]realtime.LogMessage, error) {
	if err := f.Channel.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect logs: %w", err)
	}
	args, err := f.Channel.EmitWithAck(ctx, realtime.EventJoinRoom, realtime.JoinRoom{Room: pid})
	if err != nil {
		return nil, fmt.Errorf("join %s: %w", pid, err)
	}
	if len(args) == 0 || string(args[0]) == "null" {
		return nil, nil
	}
	var history []realtime.LogMessage
	if err := json.Unmarshal(args[0], &history); err != nil {
		return nil, fmt.Errorf("join %s: decode history: %w", pid, err)
	}
	return history, nil
}

// Stop asks the backend to stop the execution.
func (f *Follower) Stop(ctx context.Context, pid string) error {
	if err := f.Channel.Connect(ctx); err != nil {
		return fmt.Errorf("connect logs: %w", err)
	}
	return f.Channel.Emit(ctx, realtime.EventBotStop, realtime.BotStop{PID: pid})
}

// Lines returns every distinct line seen so far.
func (f *Follower) Lines() []realtime.LogMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]realtime.LogMessage(nil), f.lines...)
}

// Follow streams the execution's log until a line reports it finished,
// the backend stops it, or ctx ends. A dropped connection is retried with
// backoff and the replayed history is deduplicated.
func (f *Follower) Follow(ctx context.Context, pid string) (Counts, error) {
	log := logger.Or(f.Logger).With("pid", pid)
	backoff := f.Backoff
	if backoff == nil {
		backoff = realtime.NewBackoff(time.Second, 30*time.Second)
	}

	f.mu.Lock()
	f.wake = make(chan struct{}, 1)
	f.stopped = make(chan struct{})
	f.seen = make(map[string]bool)
	f.lines = nil
	f.queue = nil
	f.mu.Unlock()

	var stopOnce sync.Once
	f.Channel.On(realtime.EventLogBot, func(args []json.RawMessage) {
		if len(args) == 0 {
			return
		}
		var m realtime.LogMessage
		if err := json.Unmarshal(args[0], &m); err != nil {
			log.Debug("bad log line", "err", err)
			return
		}
		f.enqueue(m)
	})
	f.Channel.On(realtime.EventBotStop, func([]json.RawMessage) {
		stopOnce.Do(func() { close(f.stopped) })
	})
	defer func() {
		f.Channel.Off(realtime.EventLogBot)
		f.Channel.Off(realtime.EventBotStop)
		f.Channel.Disconnect()
	}()

	f.record(log, realtime.LogMessage{PID: pid, Status: StatusInitializing}, false)

	for {
		history, err := f.Join(ctx, pid)
		if err != nil {
			if ctx.Err() != nil {
				return Counters(f.Lines()), ctx.Err()
			}
			wait := backoff.Next()
			log.Warn("log stream unavailable, retrying", "err", err, "in", wait)
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return Counters(f.Lines()), ctx.Err()
			}
		}
		backoff.Reset()

		for _, m := range history {
			if f.accept(log, pid, m) {
				return Counters(f.Lines()), nil
			}
		}

		done, err := f.drain(ctx, log, pid)
		if done || err != nil {
			return Counters(f.Lines()), err
		}
		log.Info("log stream dropped, reconnecting")
	}
}

// drain handles live lines until the execution ends or the connection drops.
func (f *Follower) drain(ctx context.Context, log *slog.Logger, pid string) (bool, error) {
	connDone := f.Channel.Done()
	for {
		for _, m := range f.dequeue() {
			if f.accept(log, pid, m) {
				return true, nil
			}
		}
		select {
		case <-f.wake:
		case <-f.stopped:
			for _, m := range f.dequeue() {
				f.accept(log, pid, m)
			}
			return true, ErrStopped
		case <-connDone:
			return false, nil
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}

func (f *Follower) enqueue(m realtime.LogMessage) {
	f.mu.Lock()
	f.queue = append(f.queue, m)
	f.mu.Unlock()
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *Follower) dequeue() []realtime.LogMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.queue
	f.queue = nil
	return q
}

// accept handles one line and reports whether it finished the execution.
func (f *Follower) accept(log *slog.Logger, pid string, m realtime.LogMessage) bool {
	if m.PID != "" && m.PID != pid {
		return false
	}
	m.PID = pid
	key := lineKey(m)
	f.mu.Lock()
	if f.seen[key] {
		f.mu.Unlock()
		return false
	}
	f.seen[key] = true
	f.lines = append(f.lines, m)
	f.mu.Unlock()

	f.record(log, m, true)
	if f.Handler != nil {
		f.Handler(m)
	}
	return m.Status == StatusFinished
}

func (f *Follower) record(log *slog.Logger, m realtime.LogMessage, isLine bool) {
	if f.Store == nil {
		return
	}
	if isLine {
		rec := &store.Message{
			PID:         m.PID,
			TimeMessage: m.TimeMessage,
			Type:        m.MessageType,
			Text:        m.Message,
			Status:      m.Status,
			Row:         m.Row,
		}
		if m.Link != "" {
			rec.Link = &m.Link
		}
		if _, err := f.Store.AppendMessage(rec); err != nil {
			log.Warn("record log line failed", "err", err)
		}
	}

	exec, err := f.Store.GetExecution(m.PID)
	if err != nil {
		log.Warn("load execution failed", "err", err)
		return
	}
	if exec == nil {
		exec = &store.Execution{PID: m.PID, Status: StatusInitializing}
	}
	if f.Bot != "" {
		exec.Bot = f.Bot
	}
	if isLine {
		c := Counters(f.Lines())
		exec.Total, exec.Successes, exec.Errors, exec.Remaining = c.Total, c.Successes, c.Errors, c.Remaining
		switch {
		case m.Status != "":
			exec.Status = m.Status
		case exec.Status == StatusInitializing:
			exec.Status = StatusRunning
		}
		if exec.Status == StatusFinished && exec.FinishedAt == nil {
			now := time.Now().UTC()
			exec.FinishedAt = &now
		}
	}
	if err := f.Store.UpsertExecution(exec); err != nil {
		log.Warn("record execution failed", "err", err)
	}
}

func lineKey(m realtime.LogMessage) string {
	return m.TimeMessage + "\x00" + strconv.Itoa(m.Row) + "\x00" + m.MessageType + "\x00" + m.Message
}

// Package upload sends files to the backend in acknowledged chunks over
// the /files realtime namespace, or straight to object storage.
package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/REM-Infotech/crawjud-ui/internal/logger"
	"github.com/REM-Infotech/crawjud-ui/internal/realtime"
)

const (
	DefaultChunkSize = 100 * 1024
	DefaultThrottle  = 20 * time.Millisecond
	DefaultGrace     = 2 * time.Second
	retryBase        = 250 * time.Millisecond
	retryMax         = 5 * time.Second
)

// ErrBusy is returned when a batch is started while another is in flight.
var ErrBusy = errors.New("upload: another upload is in progress")

// Channel is the acknowledged message channel the chunks travel on.
// *realtime.Socket satisfies it.
type Channel interface {
	Connect(ctx context.Context) error
	ID() string
	EmitWithAck(ctx context.Context, event string, args ...any) ([]json.RawMessage, error)
	Disconnect() error
}

// State is the phase of the batch an Uploader is working on.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateSending
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateSending:
		return "sending"
	case StateFinalizing:
		return "finalizing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ChunkError reports the chunk that aborted a batch.
type ChunkError struct {
	File   string
	Offset int64
	Err    error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("upload %s at offset %d: %v", e.File, e.Offset, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// Result describes a finished batch. SocketID is the /files socket id the
// backend filed the chunks under; the run form passes it back as
// sid_filesocket.
type Result struct {
	Seed     string
	SocketID string
	Files    []string
	Bytes    int64
}

// Uploader sends batches over Channel, one at a time. The zero value uses
// DefaultChunkSize and sends without throttling.
type Uploader struct {
	Channel  Channel
	Progress Progress
	Notifier Notifier

	ChunkSize  int
	Throttle   time.Duration
	MaxRetries int
	Grace      time.Duration
	StepDelay  time.Duration
	Logger     *slog.Logger

	state atomic.Int32
	mu    sync.Mutex
}

// NewSeed returns a fresh batch identifier.
func NewSeed() string { return uuid.NewString() }

func (u *Uploader) State() State { return State(u.state.Load()) }

func (u *Uploader) setState(s State) {
	u.state.Store(int32(s))
	u.log().Debug("upload state", "state", s)
}

func (u *Uploader) log() *slog.Logger { return logger.Or(u.Logger) }

func (u *Uploader) chunkSize() int64 {
	if u.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return int64(u.ChunkSize)
}

// UploadFile uploads a single file as its own batch.
func (u *Uploader) UploadFile(ctx context.Context, f FileSource, seed string) (*Result, error) {
	return u.UploadFiles(ctx, []FileSource{f}, seed)
}

// UploadFiles sends files one after the other, chunk by chunk, waiting for
// each chunk's ack before the next. Progress is animated toward the share
// of bytes acknowledged. On success the user is notified once, and after
// the grace period the progress resets and the channel disconnects. Any
// chunk failure aborts the whole batch.
func (u *Uploader) UploadFiles(ctx context.Context, files []FileSource, seed string) (*Result, error) {
	if u.Channel == nil {
		return nil, fmt.Errorf("upload: no channel")
	}
	if !u.mu.TryLock() {
		return nil, ErrBusy
	}
	defer u.mu.Unlock()

	if seed == "" {
		seed = NewSeed()
	}
	progress := u.Progress
	if progress == nil {
		progress = nopProgress{}
	}
	notifier := u.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}
	bar := &progressBar{out: progress, step: u.StepDelay}

	u.setState(StateConnecting)
	if err := u.Channel.Connect(ctx); err != nil {
		u.setState(StateIdle)
		return nil, fmt.Errorf("connect upload channel: %w", err)
	}

	res := &Result{Seed: seed, SocketID: u.Channel.ID()}
	var total int64
	for _, f := range files {
		total += f.Size
	}

	var limiter *rate.Limiter
	if u.Throttle > 0 {
		limiter = rate.NewLimiter(rate.Every(u.Throttle), 1)
		limiter.Allow() // drain the initial token so the first chunk waits too
	}

	u.setState(StateSending)
	fail := func(err error) (*Result, error) {
		u.log().Error("upload aborted", "seed", seed, "err", err)
		bar.reset()
		u.Channel.Disconnect()
		u.setState(StateIdle)
		return nil, err
	}

	chunk := u.chunkSize()
	for _, f := range files {
		name := SanitizeName(f.Name)
		if f.Size == 0 {
			u.log().Warn("skipping empty file", "file", name)
			continue
		}
		for offset := int64(0); offset < f.Size; {
			n := min(chunk, f.Size-offset)
			buf := make([]byte, n)
			read, err := f.Reader.ReadAt(buf, offset)
			if int64(read) < n {
				if err == nil {
					err = io.ErrUnexpectedEOF
				}
				return fail(&ChunkError{File: name, Offset: offset, Err: fmt.Errorf("read: %w", err)})
			}
			offset += n

			payload := realtime.AddFile{
				Name:        name,
				Chunk:       buf,
				CurrentSize: offset,
				FileSize:    f.Size,
				FileType:    f.Type,
				Seed:        seed,
			}
			if err := u.sendChunk(ctx, limiter, payload); err != nil {
				return fail(&ChunkError{File: name, Offset: offset - n, Err: err})
			}
			res.Bytes += n
			bar.animateTo(ctx, percent(res.Bytes, total))
		}
		res.Files = append(res.Files, name)
		u.log().Debug("file uploaded", "file", name, "seed", seed, "size", f.Size)
	}

	u.setState(StateFinalizing)
	bar.animateTo(ctx, 100)
	notifier.Notify("Sucesso", "Arquivos enviados com sucesso!")
	u.log().Info("upload complete", "seed", seed, "files", len(res.Files), "bytes", res.Bytes)

	if u.Grace > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(u.Grace):
		}
	}
	bar.reset()
	if err := u.Channel.Disconnect(); err != nil {
		u.log().Debug("disconnect after upload", "err", err)
	}
	u.setState(StateIdle)
	return res, nil
}

// sendChunk emits one add_file and waits for its ack, retrying up to
// MaxRetries times with exponential backoff.
func (u *Uploader) sendChunk(ctx context.Context, limiter *rate.Limiter, payload realtime.AddFile) error {
	bo := realtime.NewBackoff(retryBase, retryMax)
	var err error
	for attempt := 0; ; attempt++ {
		if limiter != nil {
			if werr := limiter.Wait(ctx); werr != nil {
				return werr
			}
		}
		var args []json.RawMessage
		args, err = u.Channel.EmitWithAck(ctx, realtime.EventAddFile, payload)
		if err == nil {
			err = realtime.AckErr(args)
		}
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || attempt >= u.MaxRetries {
			return err
		}
		delay := bo.Next()
		u.log().Warn("chunk failed, retrying", "file", payload.Name, "offset", payload.CurrentSize, "attempt", attempt+1, "delay", delay, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

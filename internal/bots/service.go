// Package bots lists the bots the backend offers, starts runs and fetches
// their results. Listings are cached in the encrypted store.
package bots

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/REM-Infotech/crawjud-ui/internal/api"
	"github.com/REM-Infotech/crawjud-ui/internal/logger"
	"github.com/REM-Infotech/crawjud-ui/internal/safestore"
)

const (
	BotListKey        = "botList"
	credentialsPrefix = "credentials:"
)

var ErrBotNotFound = errors.New("bot not found")

func credentialsKey(system System) string {
	return credentialsPrefix + strings.ToUpper(string(system))
}

// Service talks to the bot endpoints of the backend, caching listings in Cache.
type Service struct {
	API   *api.Client
	Cache *safestore.Store
	log   *slog.Logger
}

func NewService(c *api.Client, cache *safestore.Store, log *slog.Logger) *Service {
	return &Service{API: c, Cache: cache, log: logger.Or(log)}
}

// RunResult is the outcome of a run request. OK is set only when the
// backend accepted the run.
type RunResult struct {
	OK      bool
	PID     string
	Title   string
	Message string
	Status  string
	Err     error
}

// ListBots serves the cached listing when it is non-empty, otherwise
// fetches it and refreshes the cache.
func (s *Service) ListBots(ctx context.Context) ([]Bot, error) {
	var cached []Bot
	if s.loadCached(BotListKey, &cached) && len(cached) > 0 {
		return cached, nil
	}
	var resp botListResponse
	if err := s.API.Get(ctx, "/bot/listagem", &resp); err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	if resp.Listagem == nil {
		resp.Listagem = []Bot{}
	}
	s.storeCached(BotListKey, resp.Listagem)
	return resp.Listagem, nil
}

// ListCredentials returns the credentials registered for a system.
func (s *Service) ListCredentials(ctx context.Context, system System) ([]Credential, error) {
	key := credentialsKey(system)
	var cached []Credential
	if s.loadCached(key, &cached) && len(cached) > 0 {
		return cached, nil
	}
	var resp credentialsResponse
	if err := s.API.Get(ctx, "/bot/"+url.PathEscape(system.Path())+"/credenciais", &resp); err != nil {
		return nil, fmt.Errorf("list credentials for %s: %w", system, err)
	}
	if resp.Credenciais == nil {
		resp.Credenciais = []Credential{}
	}
	s.storeCached(key, resp.Credenciais)
	return resp.Credenciais, nil
}

// ClearCache drops every cached listing.
func (s *Service) ClearCache() error {
	if s.Cache == nil {
		return nil
	}
	keys, err := s.Cache.Keys()
	if err != nil {
		return err
	}
	var errs []error
	for _, k := range keys {
		if k == BotListKey || strings.HasPrefix(k, credentialsPrefix) {
			if err := s.Cache.Delete(k); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (s *Service) loadCached(key string, out any) bool {
	if s.Cache == nil {
		return false
	}
	raw, ok, err := s.Cache.Load(key)
	if err != nil {
		s.log.Warn("cache read failed", "key", key, "err", err)
		return false
	}
	if !ok || raw == "" {
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		s.log.Warn("cache entry unreadable", "key", key, "err", err)
		return false
	}
	return true
}

func (s *Service) storeCached(key string, v any) {
	if s.Cache == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.Cache.Save(key, string(data)); err != nil {
		s.log.Warn("cache write failed", "key", key, "err", err)
	}
}

// StartRun validates the form for the bot's kind and asks the backend to
// start it.
func (s *Service) StartRun(ctx context.Context, form RunForm, bot Bot) RunResult {
	form.FormKind = bot.FormKind
	if form.BotID == 0 {
		form.BotID = bot.ID
	}
	if err := form.Validate(); err != nil {
		return RunResult{Err: err, Message: err.Error(), Status: "error"}
	}
	var resp startResponse
	code, err := s.API.DoStatus(ctx, http.MethodPost, "/bot/"+url.PathEscape(bot.System.Path())+"/run", form, &resp)
	if err == nil && code != http.StatusOK {
		// only 200 means the backend queued the run
		err = &api.StatusError{Code: code, Message: resp.Message}
	}
	if err != nil {
		res := RunResult{Err: err, Title: "Erro", Status: "error", Message: err.Error()}
		var se *api.StatusError
		if errors.As(err, &se) && se.Message != "" {
			res.Message = se.Message
		}
		s.log.Warn("run rejected", "bot", bot.DisplayName, "err", err)
		return res
	}
	s.log.Info("run started", "bot", bot.DisplayName, "pid", resp.PID)
	return RunResult{
		OK:      true,
		PID:     resp.PID,
		Title:   resp.Title,
		Message: resp.Message,
		Status:  resp.Status,
	}
}

// ListExecutions fetches the executions the backend knows about.
func (s *Service) ListExecutions(ctx context.Context) ([]Execution, error) {
	var out []Execution
	if err := s.API.Get(ctx, "/bot/execucoes", &out); err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	if out == nil {
		out = []Execution{}
	}
	return out, nil
}

// Download fetches the result archive of an execution into dir and
// returns the written path.
func (s *Service) Download(ctx context.Context, pid, dir string) (string, error) {
	if pid == "" {
		return "", errors.New("download: empty pid")
	}
	var resp downloadResponse
	if err := s.API.Get(ctx, "/bot/execucoes/"+url.PathEscape(pid)+"/download", &resp); err != nil {
		return "", fmt.Errorf("download %s: %w", pid, err)
	}
	data, err := base64.StdEncoding.DecodeString(resp.Content)
	if err != nil {
		return "", fmt.Errorf("download %s: decode content: %w", pid, err)
	}
	name := filepath.Base(filepath.Clean("/" + resp.FileName))
	if name == "/" || name == "." {
		name = pid + ".zip"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// FindBot matches by numeric id or by case-insensitive display name.
func FindBot(bots []Bot, query string) (*Bot, error) {
	q := strings.TrimSpace(query)
	if id, err := strconv.Atoi(q); err == nil {
		for i := range bots {
			if bots[i].ID == id {
				return &bots[i], nil
			}
		}
	}
	for i := range bots {
		if strings.EqualFold(bots[i].DisplayName, q) {
			return &bots[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrBotNotFound, query)
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/REM-Infotech/crawjud-ui/internal/cookiejar"
	"github.com/REM-Infotech/crawjud-ui/internal/safestore"
)

type recordingNav struct {
	mu     sync.Mutex
	logins []string
	fatals []string
}

func (n *recordingNav) ToLogin(reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.logins = append(n.logins, reason)
}

func (n *recordingNav) Fatal(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fatals = append(n.fatals, msg)
}

func newTestJar(t *testing.T) (*cookiejar.Jar, *cookiejar.Store) {
	t.Helper()
	c, err := safestore.NewStaticCipher(bytes.Repeat([]byte{5}, 32))
	if err != nil {
		t.Fatal(err)
	}
	store := cookiejar.NewStore(safestore.Open(filepath.Join(t.TempDir(), "dataStore.ec"), c, nil))
	jar, err := cookiejar.NewJar(store, nil)
	if err != nil {
		t.Fatal(err)
	}
	return jar, store
}

func newTestClient(t *testing.T, h http.Handler) (*Client, *recordingNav, *cookiejar.Store, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	jar, store := newTestJar(t)
	nav := &recordingNav{}
	c, err := New(Options{BaseURL: srv.URL, Jar: jar, Navigator: nav})
	if err != nil {
		t.Fatal(err)
	}
	return c, nav, store, srv
}

func TestLoginStoresCookiesAndEchoesCSRF(t *testing.T) {
	var gotCSRF atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body loginRequest
		json.NewDecoder(r.Body).Decode(&body)
		if body.Login != "robot" || body.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"message": "Credenciais inválidas"})
			return
		}
		http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "jwt", Path: "/", HttpOnly: true})
		http.SetCookie(w, &http.Cookie{Name: CSRFCookie, Value: "csrf-123", Path: "/"})
		json.NewEncoder(w).Encode(map[string]string{"message": "Login efetuado com sucesso!"})
	})
	mux.HandleFunc("GET /bot/listagem", func(w http.ResponseWriter, r *http.Request) {
		gotCSRF.Store(r.Header.Get(CSRFHeader))
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		if _, err := r.Cookie(SessionCookie); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"listagem":[]}`))
	})
	c, nav, store, _ := newTestClient(t, mux)

	msg, err := c.Login(context.Background(), "robot", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if msg != "Login efetuado com sucesso!" {
		t.Errorf("message = %q", msg)
	}

	persisted, _ := store.All()
	if len(persisted) != 2 {
		t.Fatalf("persisted %d cookies, want 2", len(persisted))
	}

	if err := c.Get(context.Background(), "/bot/listagem", nil); err != nil {
		t.Fatalf("get: %v", err)
	}
	if gotCSRF.Load() != "csrf-123" {
		t.Errorf("csrf header = %v", gotCSRF.Load())
	}
	if len(nav.logins) != 0 {
		t.Errorf("unexpected navigation: %v", nav.logins)
	}
}

func TestLoginBadCredentialsDoesNotLogout(t *testing.T) {
	var logouts atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Credenciais inválidas"}`))
	})
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		logouts.Add(1)
	})
	c, nav, _, _ := newTestClient(t, mux)

	_, err := c.Login(context.Background(), "robot", "wrong")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusUnauthorized || se.Message != "Credenciais inválidas" {
		t.Fatalf("err = %v, want 401 StatusError", err)
	}
	if logouts.Load() != 0 || len(nav.logins) != 0 {
		t.Errorf("logouts=%d navigations=%d, want 0/0", logouts.Load(), len(nav.logins))
	}
}

func TestUnauthorizedLogsOutOnceAndNavigates(t *testing.T) {
	var hits, logouts atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /bot/listagem", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		logouts.Add(1)
		http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1})
	})
	c, nav, store, _ := newTestClient(t, mux)
	c.Jar().SetCookies(c.BaseURL(), []*http.Cookie{{Name: SessionCookie, Value: "stale", Path: "/"}})

	err := c.Get(context.Background(), "/bot/listagem", nil)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if hits.Load() != 1 {
		t.Errorf("endpoint hit %d times, want 1 (no retry)", hits.Load())
	}
	if logouts.Load() != 1 {
		t.Errorf("logout posted %d times, want 1", logouts.Load())
	}
	if len(nav.logins) != 1 {
		t.Errorf("navigated %d times, want 1", len(nav.logins))
	}
	if all, _ := store.All(); len(all) != 0 {
		t.Errorf("cookies not cleared: %+v", all)
	}
}

func TestNetworkFailureIsFatal(t *testing.T) {
	c, nav, _, srv := newTestClient(t, http.NotFoundHandler())
	srv.Close()

	err := c.Get(context.Background(), "/bot/listagem", nil)
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("err = %v, want ErrUnreachable", err)
	}
	if len(nav.fatals) != 1 || len(nav.logins) != 1 {
		t.Errorf("fatals=%v logins=%v", nav.fatals, nav.logins)
	}
}

func TestCanceledContextIsNotFatal(t *testing.T) {
	c, nav, _, _ := newTestClient(t, http.NotFoundHandler())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Get(ctx, "/health", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if len(nav.fatals) != 0 {
		t.Errorf("fatal notice on cancellation: %v", nav.fatals)
	}
}

func TestStatusErrorMessage(t *testing.T) {
	c, _, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"message":"Erro ao iniciar robô"}`))
	}))
	err := c.Post(context.Background(), "/bot/projudi/run", map[string]string{}, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v", err)
	}
	if se.Code != 500 || se.Message != "Erro ao iniciar robô" {
		t.Errorf("status error = %+v", se)
	}
}

func TestHealthAndValidateSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"healthy","database":"connected","timestamp":"2026-01-02T03:04:05"}`))
	})
	mux.HandleFunc("GET /sessao-valida", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"ok"}`))
	})
	c, _, _, _ := newTestClient(t, mux)

	h, err := c.Health(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if h.Status != "healthy" || h.Database != "connected" {
		t.Errorf("health = %+v", h)
	}
	ok, err := c.ValidateSession(context.Background())
	if err != nil || !ok {
		t.Errorf("validate = %v %v", ok, err)
	}
}

func TestNewValidation(t *testing.T) {
	jar, _ := newTestJar(t)
	if _, err := New(Options{BaseURL: "::bad", Jar: jar}); err == nil {
		t.Error("expected error for bad url")
	}
	if _, err := New(Options{BaseURL: "http://localhost"}); err == nil {
		t.Error("expected error without jar")
	}
}

func TestResponseCyclePersistsJar(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /bot/listagem", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"listagem":[]}`))
	})
	c, _, store, _ := newTestClient(t, mux)

	// written behind the jar's back; the next save replaces it with the jar's view
	if err := store.Put(cookiejar.Record{Key: "stray", Value: "x", Domain: "127.0.0.1", Path: "/"}); err != nil {
		t.Fatal(err)
	}
	if err := c.Get(context.Background(), "/bot/listagem", nil); err != nil {
		t.Fatalf("get: %v", err)
	}
	persisted, err := store.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(persisted) != 0 {
		t.Errorf("persisted = %+v, want the jar's empty set", persisted)
	}
}

func TestDoStatusReportsCode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /bot/projudi/run", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	c, _, _, _ := newTestClient(t, mux)

	code, err := c.DoStatus(context.Background(), http.MethodPost, "/bot/projudi/run", map[string]int{"bot_id": 1}, nil)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if code != http.StatusAccepted {
		t.Errorf("code = %d, want %d", code, http.StatusAccepted)
	}
}

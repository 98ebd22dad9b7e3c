package ntfy

import (
	"context"
	"mime"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type captured struct {
	mu       sync.Mutex
	title    string
	body     string
	priority string
	tags     string
	auth     string
	hits     int
}

func newCaptureServer(t *testing.T, c *captured, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var dec mime.WordDecoder
		title, _ := dec.DecodeHeader(r.Header.Get("Title"))
		buf := make([]byte, 512)
		n, _ := r.Body.Read(buf)
		c.mu.Lock()
		c.title, c.body = title, string(buf[:n])
		c.priority, c.tags = r.Header.Get("Priority"), r.Header.Get("Tags")
		c.auth = r.Header.Get("Authorization")
		c.hits++
		c.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewBareTopic(t *testing.T) {
	c := New("my-secret-topic", "", "finished", nil)
	if c.url != "https://ntfy.sh/my-secret-topic" {
		t.Fatalf("got %q", c.url)
	}
}

func TestNewFullURL(t *testing.T) {
	c := New("https://ntfy.example.com/mytopic", "tok123", "finished", nil)
	if c.url != "https://ntfy.example.com/mytopic" {
		t.Fatalf("got %q", c.url)
	}
	if c.token != "tok123" {
		t.Fatalf("got token %q", c.token)
	}
}

func TestEventFilteringWhitespace(t *testing.T) {
	c := New("t", "", " upload , stopped ", nil)
	if !c.Enabled(EventUpload) || !c.Enabled(EventStopped) {
		t.Fatal("both should be enabled")
	}
	if c.Enabled(EventFinished) {
		t.Fatal("finished should not be enabled")
	}
}

func TestSendFinished(t *testing.T) {
	var got captured
	srv := newCaptureServer(t, &got, 200)

	c := New(srv.URL, "mytoken", "finished", nil)
	c.SendFinished(context.Background(), "AB12CD", "Projudi Capa", 8, 0)

	if got.title != "Projudi Capa finalizado" {
		t.Fatalf("title = %q", got.title)
	}
	if got.body != "Execução AB12CD: 8 sucessos, 0 erros" {
		t.Fatalf("body = %q", got.body)
	}
	if got.priority != "default" || got.tags != "white_check_mark" {
		t.Fatalf("priority = %q tags = %q", got.priority, got.tags)
	}
	if got.auth != "Bearer mytoken" {
		t.Fatalf("auth = %q", got.auth)
	}
}

func TestSendFinishedWithErrorsIsHighPriority(t *testing.T) {
	var got captured
	srv := newCaptureServer(t, &got, 200)

	New(srv.URL, "", "finished", nil).SendFinished(context.Background(), "P", "", 1, 2)
	if got.title != "Robô finalizado" || got.priority != "high" || got.tags != "warning" {
		t.Fatalf("title=%q body=%q priority=%q tags=%q", got.title, got.body, got.priority, got.tags)
	}
}

func TestDisabledEventsSendNothing(t *testing.T) {
	var got captured
	srv := newCaptureServer(t, &got, 200)

	c := New(srv.URL, "", "finished", nil)
	c.SendStopped(context.Background(), "P", "bot")
	c.Notify("Sucesso", "Arquivos enviados com sucesso!")
	if got.hits != 0 {
		t.Fatalf("hits = %d", got.hits)
	}
}

func TestNotifyUpload(t *testing.T) {
	var got captured
	srv := newCaptureServer(t, &got, 200)

	New(srv.URL, "", "upload", nil).Notify("Sucesso", "Arquivos enviados com sucesso!")
	if got.title != "CrawJUD: Sucesso" || got.body != "Arquivos enviados com sucesso!" {
		t.Fatalf("title=%q body=%q priority=%q tags=%q", got.title, got.body, got.priority, got.tags)
	}
}

func TestSendTestHTTPError(t *testing.T) {
	var got captured
	srv := newCaptureServer(t, &got, 403)

	if err := New(srv.URL, "", "", nil).SendTest(context.Background()); err == nil {
		t.Fatal("expected error for 403")
	}
}

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/REM-Infotech/crawjud-ui/internal/api"
	"github.com/REM-Infotech/crawjud-ui/internal/auth"
	"github.com/REM-Infotech/crawjud-ui/internal/bots"
	"github.com/REM-Infotech/crawjud-ui/internal/config"
	"github.com/REM-Infotech/crawjud-ui/internal/cookiejar"
	"github.com/REM-Infotech/crawjud-ui/internal/logger"
	"github.com/REM-Infotech/crawjud-ui/internal/ntfy"
	"github.com/REM-Infotech/crawjud-ui/internal/realtime"
	"github.com/REM-Infotech/crawjud-ui/internal/safestore"
	"github.com/REM-Infotech/crawjud-ui/internal/store"
	"github.com/REM-Infotech/crawjud-ui/internal/ui"
	"github.com/REM-Infotech/crawjud-ui/internal/upload"
)

type globalOptions struct {
	configDir string
	apiURL    string
	logLevel  string
}

// app wires the client packages for one command invocation.
type app struct {
	cfg    *config.Config
	term   *ui.Terminal
	safe   *safestore.Store
	jar    *cookiejar.Jar
	client *api.Client
	creds  *auth.CredentialStore
	bots   *bots.Service
	rt     *realtime.Manager
	db     *store.Store
	push   *ntfy.Client
}

func loadConfig(opts *globalOptions) (*config.Config, error) {
	dir := opts.configDir
	if dir == "" {
		var err error
		if dir, err = config.GetUserConfigDir(); err != nil {
			return nil, fmt.Errorf("locate config dir: %w", err)
		}
	}
	if err := config.EnsureConfigDir(dir); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	if opts.apiURL != "" {
		cfg.APIURL = opts.apiURL
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newApp(opts *globalOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, term: ui.NewTerminal()}
	a.safe = safestore.Open(cfg.DataStorePath(), newCipher(cfg), logger.Log)
	a.jar, err = cookiejar.NewJar(cookiejar.NewStore(a.safe), logger.Log)
	if err != nil {
		return nil, fmt.Errorf("load cookies: %w", err)
	}
	a.client, err = api.New(api.Options{
		BaseURL:   cfg.APIURL,
		Jar:       a.jar,
		Navigator: a.term,
		Logger:    logger.Log,
	})
	if err != nil {
		return nil, err
	}
	a.creds = auth.NewCredentialStore(a.safe)
	a.bots = bots.NewService(a.client, a.safe, logger.Log)
	if n := cfg.Notify; n.NtfyTopic != "" {
		a.push = ntfy.New(n.NtfyTopic, n.NtfyToken, n.Events, logger.Log)
	}
	return a, nil
}

func newCipher(cfg *config.Config) safestore.Cipher {
	if strings.EqualFold(cfg.Store.Backend, "passphrase") {
		return safestore.NewPassphraseCipher(os.Getenv("CRAWJUD_PASSPHRASE"), filepath.Join(cfg.Dir, "dataStore.salt"))
	}
	return safestore.NewKeyringCipher(logger.Log)
}

// realtime returns the shared Socket.IO connection, created on first use.
func (a *app) realtime() (*realtime.Manager, error) {
	if a.rt != nil {
		return a.rt, nil
	}
	m, err := realtime.NewManager(realtime.Options{
		URL:        a.cfg.APIURL,
		Jar:        a.jar,
		AckTimeout: a.cfg.Upload.AckTimeout,
		Logger:     logger.Log,
	})
	if err != nil {
		return nil, err
	}
	a.rt = m
	return m, nil
}

// history opens the local execution database, created on first use.
func (a *app) history() (*store.Store, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := store.Open(a.cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	a.db = db
	return db, nil
}

type notifiers []upload.Notifier

func (ns notifiers) Notify(title, message string) {
	for _, n := range ns {
		n.Notify(title, message)
	}
}

// notifier prints notices and, when configured, pushes them.
func (a *app) notifier() upload.Notifier {
	if a.push != nil {
		return notifiers{a.term, a.push}
	}
	return a.term
}

func (a *app) Close() {
	if a.rt != nil {
		a.rt.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

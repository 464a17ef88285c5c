package cmd

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/virtualcafe/cafe/internal/api"
	"github.com/virtualcafe/cafe/internal/call"
	"github.com/virtualcafe/cafe/internal/config"
	"github.com/virtualcafe/cafe/internal/storage"
	"github.com/virtualcafe/cafe/internal/tutor"
)

type globalFlags struct {
	configFile string
	baseURL    string
	username   string
	sessionID  string
	csrfToken  string
	dataDir    string
	storeURL   string
}

var global globalFlags

func (g globalFlags) options() config.Options {
	return config.Options{
		ConfigFile: g.configFile,
		BaseURL:    g.baseURL,
		Username:   g.username,
		SessionID:  g.sessionID,
		CSRFToken:  g.csrfToken,
		DataDir:    g.dataDir,
		StoreURL:   g.storeURL,
	}
}

// LoadConfig merges the global flags with command specific overrides.
func LoadConfig(overrides func(*config.Options)) (*config.Config, error) {
	opts := global.options()
	if overrides != nil {
		overrides(&opts)
	}

	cfg, err := config.Load(opts)
	if err != nil {
		return nil, call.NewError("load config", err)
	}

	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	return cfg, nil
}

// Backend bundles the site client and the local store a command works with.
type Backend struct {
	Config *config.Config
	Client *api.Client
	Jar    http.CookieJar
	Store  storage.Store
}

func NewBackend(ctx context.Context, cfg *config.Config) (*Backend, error) {
	client, jar, err := api.FromConfig(cfg)
	if err != nil {
		return nil, call.NewError("create site client", err)
	}

	store, err := storage.Open(ctx, cfg.StoreURL, cfg.DataDir, cfg.Username)
	if err != nil {
		return nil, call.NewError("open local store", err)
	}

	return &Backend{Config: cfg, Client: client, Jar: jar, Store: store}, nil
}

// Tutor loads the AI tutor with its saved transcript.
func (b *Backend) Tutor(ctx context.Context) (*tutor.Tutor, error) {
	t, err := tutor.New(ctx, b.Client, b.Store, clock.New())
	if err != nil {
		return nil, call.NewError("load tutor", err)
	}
	return t, nil
}

func (b *Backend) Close() {
	if b.Store != nil {
		b.Store.Close()
	}
}

// requireLogin explains how to supply site credentials when they are missing.
func requireLogin(cfg *config.Config) error {
	var missing []string
	if cfg.Username == "" {
		missing = append(missing, "--username (CAFE_USERNAME)")
	}
	if cfg.SessionID == "" {
		missing = append(missing, "--session-id (CAFE_SESSION_ID)")
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("missing %s: %w", strings.Join(missing, ", "), api.ErrUnauthenticated)
}

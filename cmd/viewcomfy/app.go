package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog"

	"github.com/richinsley/viewcomfy/archive"
	"github.com/richinsley/viewcomfy/auth"
	"github.com/richinsley/viewcomfy/client"
	"github.com/richinsley/viewcomfy/config"
	"github.com/richinsley/viewcomfy/generation"
	"github.com/richinsley/viewcomfy/logging"
	"github.com/richinsley/viewcomfy/notify"
	"github.com/richinsley/viewcomfy/relay"
	"github.com/richinsley/viewcomfy/session"
)

// app is everything a command needs, wired from one config.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	client  *client.Client
	tracker *generation.Tracker
	gate    *notify.Gate
	archive archive.Archive
	session *session.Session
	relay   *relay.Relay
}

func newApp(ctx context.Context, configFile string) (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.New(cfg.Log)

	creds, err := newSupplier(cfg.Auth)
	if err != nil {
		return nil, err
	}
	if cfg.Auth.Secret == "" && cfg.Auth.Token != "" {
		logger.Debug().Str("token", logging.Redact(cfg.Auth.Token)).Msg("using static token")
	}
	tokenOptions := auth.TokenOptions{Template: cfg.Realtime.TokenTemplate}

	var platform notify.Platform = notify.NopPlatform{}
	if cfg.Notify.Enabled {
		platform = notify.NewTerminalPlatform(os.Stderr)
	}
	gate := notify.NewGate(platform, logger)

	arch, err := archive.Open(ctx, cfg.Archive)
	if err != nil {
		return nil, err
	}

	tracker := generation.NewTracker(generation.Options{Notifier: gate, Logger: &logger, Realtime: cfg.RealtimeEnabled()})
	if arch != nil {
		tracker.OnAccept(archive.Recorder(arch, logger))
	}

	sess := session.New(session.Options{
		URL:              cfg.Realtime.URL,
		Credentials:      creds,
		TokenOptions:     tokenOptions,
		BaseDelay:        cfg.Realtime.ReconnectDelay,
		MaxDelay:         cfg.Realtime.ReconnectMax,
		Jitter:           cfg.Realtime.Jitter,
		TokenTimeout:     cfg.Realtime.TokenTimeout,
		HandshakeTimeout: cfg.Realtime.HandshakeTimeout,
		Logger:           &logger,
	})

	c := client.New(client.Options{
		BaseURL:       cfg.API.BaseURL,
		ComfyUIURL:    cfg.ComfyUI.URL,
		ComfyUISecure: cfg.ComfyUI.Secure,
		HTTPClient:    &http.Client{Timeout: cfg.API.Timeout},
		Credentials:   creds,
		TokenOptions:  tokenOptions,
		Logger:        &logger,
	})
	logger.Debug().Str("client_id", c.ClientID()).Str("api", cfg.API.BaseURL).Msg("client ready")

	return &app{
		cfg:     cfg,
		log:     logger,
		client:  c,
		tracker: tracker,
		gate:    gate,
		archive: arch,
		session: sess,
		relay:   relay.New(sess, tracker, relay.Options{Logger: &logger}),
	}, nil
}

// newSupplier prefers minting tokens from a secret, then a fixed token.
func newSupplier(cfg config.AuthConfig) (auth.Supplier, error) {
	switch {
	case cfg.Secret != "":
		return auth.NewJWTSupplier(cfg.Secret, cfg.Subject, cfg.TTL)
	case cfg.Token != "":
		return auth.StaticSupplier(cfg.Token), nil
	default:
		return auth.SignedOut, nil
	}
}

func (a *app) Close() {
	a.relay.Teardown()
	a.tracker.Close()
	a.gate.Wait()
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			a.log.Error().Err(err).Msg("error closing archive")
		}
	}
}

// Command livepage serves the live page builder on a local address.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/livepage/builder"
	"github.com/hazyhaar/livepage/config"
	"github.com/hazyhaar/livepage/credstore"
	"github.com/hazyhaar/livepage/dbopen"
	"github.com/hazyhaar/livepage/horosafe"
	"github.com/hazyhaar/livepage/llm"
	"github.com/hazyhaar/livepage/preview"
	"github.com/hazyhaar/livepage/server"
	"github.com/hazyhaar/livepage/sink"
)

func main() {
	if err := run(); err != nil {
		slog.Error("livepage", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "YAML configuration file")
	addr := flag.String("addr", "", "listen address (default "+config.DefaultAddr+")")
	logLevel := flag.String("log-level", "", "debug | info | warn | error")
	offline := flag.Bool("offline", false, "answer without a model backend")
	tokenFile := flag.String("token-file", "", "write a session token for MCP clients to this file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.FromEnv(os.Getenv); err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *offline {
		cfg.Offline = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Logging.
	lvl, _ := config.ParseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Credential DB.
	db, err := dbopen.Open(cfg.DB.Path, dbopen.WithMkdirAll())
	if err != nil {
		return err
	}
	defer db.Close()
	fallback := cfg.APIKey
	if cfg.Offline && fallback == "" {
		// The offline backend ignores the key but the session still asks for one.
		fallback = "offline"
	}
	creds, err := credstore.New(db, credstore.WithFallback(fallback))
	if err != nil {
		return err
	}

	// Update sinks: the SSE hub always, plus configured outputs.
	hub := sink.NewHub(cfg.Hub)
	router := sink.NewRouter(logger, hub)
	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "stdout":
			router.Add(sink.NewStdout(os.Stdout, sc.Full))
		case "webhook":
			opts := []sink.WebhookOption{sink.WithWebhookLogger(logger)}
			if sc.Retries > 0 {
				opts = append(opts, sink.WithWebhookRetries(sc.Retries))
			}
			if sc.Backoff > 0 {
				opts = append(opts, sink.WithWebhookBackoff(sc.Backoff))
			}
			if sc.Queue > 0 {
				opts = append(opts, sink.WithWebhookQueue(sc.Queue))
			}
			router.Add(sink.NewWebhook(sc.URL, opts...))
		}
	}
	defer router.Close()

	// Model backend.
	cfg.LLM.Logger = logger
	var backends builder.Backends = llm.NewCache(cfg.LLM)
	if cfg.Offline {
		backends = builder.Offline{Sentinel: cfg.Builder.Sentinel, Delay: 15 * time.Millisecond}
		logger.Info("livepage: offline mode, no model backend")
	}

	cfg.Builder.Logger = logger
	session, err := builder.New(cfg.Builder, builder.Deps{
		Credentials: creds,
		Backends:    backends,
		Sink:        router,
	})
	if err != nil {
		return err
	}

	var renderer *preview.Renderer
	if cfg.Preview.Enabled {
		renderer = preview.New(preview.Config{
			RemoteURL: cfg.Preview.Remote,
			Width:     cfg.Preview.Width,
			Height:    cfg.Preview.Height,
			Timeout:   cfg.Preview.Timeout,
			Stealth:   cfg.Preview.Stealth,
			Logger:    logger,
		})
		defer renderer.Close()
	}

	var secret []byte
	if cfg.Server.SessionSecret != "" {
		if secret, err = horosafe.DeriveSecret(cfg.Server.SessionSecret, "session"); err != nil {
			return err
		}
	}

	srv, err := server.New(server.Config{
		Secret:       secret,
		MaxBody:      cfg.Server.MaxBody,
		SessionTTL:   cfg.Server.SessionTTL,
		SecureCookie: cfg.Server.SecureCookie,
		Offline:      cfg.Offline,
		Logger:       logger,
	}, server.Deps{
		Session:     session,
		Hub:         hub,
		Credentials: creds,
		Preview:     renderer,
	})
	if err != nil {
		return err
	}

	if *tokenFile != "" {
		token, err := srv.IssueToken()
		if err != nil {
			return err
		}
		if err := os.WriteFile(*tokenFile, []byte(token+"\n"), 0o600); err != nil {
			return fmt.Errorf("write token file: %w", err)
		}
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("livepage: listening", "addr", cfg.Server.Addr, "url", "http://"+cfg.Server.Addr+"/")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("livepage: shutting down")
	// Long-lived SSE streams end with the hub so Shutdown does not wait on them.
	hub.Close()
	shutCtx, shutCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutCancel()
	return httpSrv.Shutdown(shutCtx)
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Ahmadjon7/UZB-AI/internal/config"
	"github.com/Ahmadjon7/UZB-AI/internal/history"
	"github.com/Ahmadjon7/UZB-AI/internal/identity"
	"github.com/Ahmadjon7/UZB-AI/internal/kv"
	"github.com/Ahmadjon7/UZB-AI/internal/locale"
	"github.com/Ahmadjon7/UZB-AI/internal/logger"
	"github.com/Ahmadjon7/UZB-AI/internal/session"
	"github.com/Ahmadjon7/UZB-AI/internal/stream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.SetOutput(os.Stderr, "text")
	logger.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	store, err := kv.Open(ctx, cfg.Storage)
	if err != nil {
		logger.L.Warn("failed to open storage, history will not persist", "driver", cfg.Storage.Driver, "error", err)
		store = kv.NewMemory()
	}
	defer store.Close()

	loc, err := locale.Load(ctx, store, cfg.Client.Language)
	if err != nil {
		logger.L.Warn("failed to load language preference", "error", err)
		loc, _ = locale.Load(ctx, nil, cfg.Client.Language)
	}

	auth, err := newProvider(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	r := newREPL(auth, loc, os.Stdout)
	sess := session.New(stream.NewClient(cfg.Client.RelayURL, nil), history.NewStore(store), r.render)
	r.sess = sess

	unsubscribe := auth.Subscribe(sess.SetIdentity)
	defer unsubscribe()
	sess.SetIdentity(auth.Current())

	// Ctrl-C cancels the response in progress; on an idle prompt it exits.
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	go func() {
		for range interrupts {
			if sess.State() != session.StateIdle {
				sess.Cancel()
				continue
			}
			stop()
			_ = store.Close()
			os.Exit(130)
		}
	}()

	if err := r.run(ctx, os.Stdin); err != nil {
		logger.L.Error("input error", "error", err)
	}
}

func newProvider(cfg *config.Config) (identity.Provider, error) {
	switch cfg.Client.Identity {
	case "supabase":
		sb, err := identity.NewSupabase(cfg.Supabase)
		if err != nil {
			return nil, err
		}
		return sb, nil
	case "", "local":
		return identity.NewLocal(cfg.Client.Local), nil
	default:
		return nil, fmt.Errorf("unsupported identity provider %q (supported: local, supabase)", cfg.Client.Identity)
	}
}

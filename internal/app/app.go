// Package app bootstraps the honeysync client: configuration, logging, the
// local mirror store, the API client and the sync engine.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/honeyecosystem/sync/internal/auth"
	"github.com/honeyecosystem/sync/internal/chat"
	"github.com/honeyecosystem/sync/internal/config"
	"github.com/honeyecosystem/sync/internal/httpserver"
	"github.com/honeyecosystem/sync/internal/library"
	"github.com/honeyecosystem/sync/internal/live"
	"github.com/honeyecosystem/sync/internal/media"
	"github.com/honeyecosystem/sync/internal/metrics"
	"github.com/honeyecosystem/sync/internal/middleware"
	"github.com/honeyecosystem/sync/internal/poll"
	"github.com/honeyecosystem/sync/internal/profile"
	"github.com/honeyecosystem/sync/internal/restclient"
	"github.com/honeyecosystem/sync/internal/status"
	"github.com/honeyecosystem/sync/internal/store"
	"github.com/honeyecosystem/sync/internal/tokenstore"
)

// Run dispatches the honeysync subcommands.
func Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("expected command: run, login, logout, whoami, or status")
	}

	switch args[0] {
	case "run":
		return runDaemon(ctx)
	case "login":
		return runLogin(ctx, args[1:])
	case "logout":
		return runLogout(ctx)
	case "whoami":
		return runWhoami(ctx)
	case "status":
		return runStatus(ctx)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

type runtime struct {
	cfg     config.Config
	logger  *slog.Logger
	backend *store.SQLite
	tokens  *tokenstore.Store
	client  *restclient.Client
	metrics *metrics.Metrics

	auth    *auth.Service
	profile *profile.Service
	chats   *chat.Service
	library *library.Service
	media   *media.Service
	live    *live.Controller
}

func newRuntime() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	backend, err := store.Open(cfg.StorePath())
	if err != nil {
		return nil, err
	}

	machineKey, err := tokenstore.LoadMachineKey(cfg.MachineKeyPath())
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	tokens, err := tokenstore.New(backend, machineKey)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	m := metrics.New()
	client := restclient.New(cfg.APIBaseURL, tokens,
		restclient.WithTimeout(cfg.RequestTimeout),
		restclient.WithObserver(m.ObserveRequest),
		restclient.WithAuthExpiredHook(func() {
			logger.Warn("session expired; run `honeysync login` to sign in again")
		}),
	)

	rt := &runtime{
		cfg:     cfg,
		logger:  logger,
		backend: backend,
		tokens:  tokens,
		client:  client,
		metrics: m,
		auth:    auth.NewService(client, tokens),
		profile: profile.NewService(client, tokens),
		chats:   chat.NewService(client, backend),
		library: library.NewService(client, backend),
		live:    live.NewController(client, tokens, backend, nil, cfg.SessionDetail),
	}
	rt.media = media.NewService(client, backend, func(pending int) {
		m.PendingIntents.Set(float64(pending))
	})
	return rt, nil
}

func (rt *runtime) close() {
	rt.media.Flush()
	rt.live.Leave()
	if err := rt.backend.Close(); err != nil {
		rt.logger.Warn("close local store", "error", err)
	}
}

func runDaemon(ctx context.Context) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	engine := poll.NewEngine(rt.logger, rt.metrics)
	engine.Add(poll.Task{Name: "chats", Interval: rt.cfg.ChatPoll, Run: func(ctx context.Context) error {
		err := rt.chats.RefreshChats(ctx)
		if errors.Is(err, restclient.ErrNoSession) {
			return nil
		}
		return err
	}})
	engine.Add(poll.Task{Name: "live_sessions", Interval: rt.cfg.SessionPoll, Run: func(ctx context.Context) error {
		err := rt.live.RefreshSessions(ctx)
		if errors.Is(err, restclient.ErrNoSession) {
			return nil
		}
		return err
	}})

	mux := http.NewServeMux()
	status.RegisterRoutes(mux, status.Dependencies{
		Tokens:  rt.tokens,
		Chats:   rt.chats,
		Live:    rt.live,
		Metrics: rt.metrics,
	})
	handler := middleware.RequestLogger(rt.logger)(mux)
	srv := httpserver.New(rt.cfg.StatusPort, handler)

	rt.logger.Info("starting sync engine", "status_port", rt.cfg.StatusPort, "api", rt.cfg.APIBaseURL)

	engineCtx, cancelEngine := context.WithCancel(ctx)
	defer cancelEngine()

	if rt.cfg.ChatStreamOn {
		supervisor := chat.NewSupervisor(chat.NewStream(rt.cfg.APIBaseURL, rt.tokens), rt.chats)
		go supervisor.Run(engineCtx)
	}

	engineErr := make(chan error, 1)
	go func() {
		engineErr <- engine.Run(engineCtx)
	}()

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Start()
	}()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-ctx.Done():
		rt.logger.Info("context canceled, shutting down")
	case sig := <-signalCh:
		rt.logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case err := <-engineErr:
		if err != nil {
			return err
		}
	}

	cancelEngine()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpserver.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runLogin(ctx context.Context, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	username, password := os.Getenv("HONEY_USERNAME"), os.Getenv("HONEY_PASSWORD")
	if len(args) > 0 {
		username = args[0]
	}
	if len(args) > 1 {
		password = args[1]
	}
	if username == "" || password == "" {
		return errors.New("usage: honeysync login <username> <password> (or set HONEY_USERNAME/HONEY_PASSWORD)")
	}

	loginCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	user, err := rt.auth.Login(loginCtx, username, password)
	if err != nil {
		return err
	}
	fmt.Printf("signed in as %s\n", user.Username)
	return nil
}

func runLogout(ctx context.Context) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	logoutCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := rt.auth.Logout(logoutCtx); err != nil {
		return err
	}
	fmt.Println("signed out")
	return nil
}

func runWhoami(ctx context.Context) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	me, err := rt.profile.Me(callCtx)
	if err != nil {
		if errors.Is(err, restclient.ErrNoSession) {
			return errors.New("not signed in; run `honeysync login` first")
		}
		return err
	}
	fmt.Printf("%s <%s>\n", me.Username, me.Email)
	return nil
}

func runStatus(_ context.Context) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	if _, ok := rt.tokens.Tokens(); !ok {
		fmt.Println("not signed in")
		return nil
	}
	if me, ok := rt.tokens.Profile(); ok {
		fmt.Printf("signed in as %s\n", me.Username)
	} else {
		fmt.Println("signed in")
	}
	fmt.Printf("chats cached: %d (seq %d)\n", rt.chats.ChatsCache().Len(), rt.chats.ChatsCache().Seq())
	fmt.Printf("live sessions cached: %d\n", len(rt.live.Sessions()))
	fmt.Printf("books cached: %d\n", len(rt.library.CachedBooks()))
	fmt.Printf("videos cached: %d\n", len(rt.media.CachedVideos()))
	return nil
}

func logLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

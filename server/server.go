// Package server assembles the realtime sync core: the KV engine, the
// websocket surface, the AI dispatcher and the event-bus listeners,
// exposed over a single echo instance.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/glowingkitty/openmates-core/crypto"
	"github.com/glowingkitty/openmates-core/internal/profile"
	"github.com/glowingkitty/openmates-core/server/auth"
	"github.com/glowingkitty/openmates-core/server/dispatch"
	"github.com/glowingkitty/openmates-core/server/listener"
	"github.com/glowingkitty/openmates-core/server/ws"
	"github.com/glowingkitty/openmates-core/store"
	"github.com/glowingkitty/openmates-core/store/kv"
	"github.com/glowingkitty/openmates-core/worker"
)

// devVaultMasterKey backs the AI-inference cache in dev mode only;
// Profile.Validate refuses to start prod without a real key.
const devVaultMasterKey = "0000000000000000000000000000000000000000000000000000000000000000"

type Server struct {
	Profile *profile.Profile
	Store   *store.Store
	KV      *kv.Engine

	Manager    *ws.Manager
	Dispatcher *dispatch.Dispatcher

	echoServer *echo.Echo
	rdb        redis.UniversalClient
	listeners  []*listener.Listener

	listenerCancel context.CancelFunc
	listenerGroup  *errgroup.Group
}

func NewServer(ctx context.Context, instanceProfile *profile.Profile, storeInstance *store.Store) (*Server, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     instanceProfile.RedisAddr,
		Password: instanceProfile.RedisPassword,
		DB:       instanceProfile.RedisDB,
	})
	engine := kv.NewEngine(rdb, kv.DefaultConfig(), storeInstance)
	if err := engine.Ping(ctx); err != nil {
		return nil, errors.Wrap(err, "connect kv store")
	}

	masterKey := instanceProfile.VaultMasterKey
	if masterKey == "" && instanceProfile.IsDev() {
		masterKey = devVaultMasterKey
	}
	vault, err := crypto.NewVault(masterKey)
	if err != nil {
		return nil, errors.Wrap(err, "init vault")
	}

	runner := worker.NewRedisRunner(rdb)
	manager := ws.NewManager()
	dispatcher := dispatch.New(engine, runner, vault)
	authenticator := auth.New(instanceProfile.JWTSecret)
	router := ws.NewRouter(manager, engine, storeInstance, runner, dispatcher, authenticator)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.GET("/api/v1/ws", router.Serve)
	e.GET("/healthz", func(c echo.Context) error {
		if err := engine.Ping(c.Request().Context()); err != nil {
			return c.String(http.StatusServiceUnavailable, "kv unavailable")
		}
		return c.String(http.StatusOK, "Service ready.")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s := &Server{
		Profile:    instanceProfile,
		Store:      storeInstance,
		KV:         engine,
		Manager:    manager,
		Dispatcher: dispatcher,
		echoServer: e,
		rdb:        rdb,
		listeners: []*listener.Listener{
			listener.NewCacheEvents(manager),
			listener.NewStream(manager, dispatcher),
			listener.NewTyping(manager),
			listener.NewChatUpdates(manager),
			listener.NewPersisted(manager),
			listener.NewUserUpdates(manager),
		},
	}
	return s, nil
}

// Start launches the event-bus listeners and the HTTP listener. It
// returns once the HTTP listener is up; listeners run until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	listenerCtx, cancel := context.WithCancel(ctx)
	s.listenerCancel = cancel
	group, groupCtx := errgroup.WithContext(listenerCtx)
	s.listenerGroup = group
	for _, l := range s.listeners {
		l := l
		group.Go(func() error {
			err := listener.Run(groupCtx, s.KV, l)
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("event listener exited",
					slog.String("listener", l.Name), slog.Any("error", err))
				return err
			}
			return nil
		})
	}

	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	go func() {
		if err := s.echoServer.Start(address); err != nil && err != http.ErrServerClosed {
			slog.Error("http server failed", slog.Any("error", err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown http server", slog.Any("error", err))
	}
	if s.listenerCancel != nil {
		s.listenerCancel()
		_ = s.listenerGroup.Wait()
	}
	if err := s.rdb.Close(); err != nil {
		slog.Error("close kv client", slog.Any("error", err))
	}
	if err := s.Store.Close(); err != nil {
		slog.Error("close records store", slog.Any("error", err))
	}
	slog.Info("server shutdown complete")
}

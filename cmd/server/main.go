package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/chatgate/internal/auth"
	"github.com/Tyrowin/chatgate/internal/chat"
	"github.com/Tyrowin/chatgate/internal/config"
	"github.com/Tyrowin/chatgate/internal/database"
	"github.com/Tyrowin/chatgate/internal/hub"
	"github.com/Tyrowin/chatgate/internal/log"
	"github.com/Tyrowin/chatgate/internal/message"
	"github.com/Tyrowin/chatgate/internal/server"
	"github.com/Tyrowin/chatgate/internal/session"
	"github.com/Tyrowin/chatgate/internal/user"
)

func main() {
	configDir := pflag.StringP("config", "c", "config", "directory containing config.yaml")
	pflag.Parse()

	if err := run(*configDir); err != nil {
		l := log.L()
		l.Fatal().Err(err).Msg("server exited with error")
	}
}

func run(configDir string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return err
	}

	logger := log.Init(cfg.Log)
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(db); err != nil {
			logger.Warn().Err(err).Msg("error closing database")
		}
	}()
	if err := database.AutoMigrate(db, &message.Record{}, &user.User{}); err != nil {
		return err
	}

	users := user.NewRepository(db)
	for _, seed := range cfg.Users {
		if _, err := users.Ensure(ctx, seed.Username, seed.Password); err != nil {
			return err
		}
	}

	sessions, closeSessions, err := openSessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSessions()

	messages := message.NewGormLog(db)
	h := hub.New()
	gate := auth.NewGate(sessions)
	var pipelineOpts []chat.Option
	if cfg.Chat.RequireAuth {
		pipelineOpts = append(pipelineOpts, chat.WithGate(gate))
	}
	pipeline := chat.NewPipeline(messages, h, pipelineOpts...)

	srv := server.New(ctx, server.Deps{
		Config:   cfg,
		Auth:     auth.NewAuthenticator(users, sessions),
		Gate:     gate,
		Messages: messages,
		Hub:      h,
		Pipeline: pipeline,
	})
	httpServer := server.CreateServer(cfg.Server, srv.SetupRoutes())

	logger.Info().
		Str(log.FieldAddr, cfg.Server.Port).
		Str("session_store", cfg.Session.Store).
		Str("database", cfg.Database.Driver).
		Bool("chat_require_auth", cfg.Chat.RequireAuth).
		Msg("starting chatgate")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.StartServer(httpServer)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.ShutdownServer(shutdownCtx, httpServer, h)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("server exited")
	return nil
}

// openSessionStore builds the configured session backend and returns a
// function releasing its resources.
func openSessionStore(ctx context.Context, cfg *config.Config) (session.Store, func(), error) {
	switch cfg.Session.Store {
	case "redis":
		client, err := session.NewRedisClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if err := client.Close(); err != nil {
				l := log.L()
				l.Warn().Err(err).Msg("error closing redis client")
			}
		}
		return session.NewRedisStore(client, cfg.Redis.KeyPrefix, cfg.Session.TTL), closeFn, nil
	default:
		store := session.NewMemoryStore(cfg.Session.TTL)
		janitorCtx, cancel := context.WithCancel(ctx)
		go store.RunJanitor(janitorCtx, sweepInterval(cfg.Session.TTL))
		return store, cancel, nil
	}
}

func sweepInterval(ttl time.Duration) time.Duration {
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}

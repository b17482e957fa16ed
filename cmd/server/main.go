package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Tyrowin/gochat/internal/chat"
	"github.com/Tyrowin/gochat/internal/logger"
	"github.com/Tyrowin/gochat/internal/presence"
	"github.com/Tyrowin/gochat/internal/relay"
	"github.com/Tyrowin/gochat/internal/server"
	"github.com/Tyrowin/gochat/internal/store/mongostore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "gochat:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := server.NewConfigFromEnv()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if !log.Core().Enabled(zap.DebugLevel) {
		gin.SetMode(gin.ReleaseMode)
	}
	log.Info("starting GoChat server", cfg.LogFields()...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	options := []chat.HubOption{chat.WithLogger(log.Named("hub"))}
	var serverOptions []server.Option

	if cfg.Redis.Addr != "" {
		p, err := presence.Dial(ctx, presence.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer func() { _ = p.Close() }()
		if err := p.Reset(ctx); err != nil {
			log.Warn("could not clear stale presence", zap.Error(err))
		}
		options = append(options, chat.WithPresence(p))
		serverOptions = append(serverOptions, server.WithPresence(p))
		log.Info("presence mirror enabled", zap.String("addr", cfg.Redis.Addr))
	}

	if cfg.NATS.URL != "" {
		r, err := relay.Connect(relay.Config{URL: cfg.NATS.URL, SubjectPrefix: cfg.NATS.SubjectPrefix})
		if err != nil {
			return err
		}
		defer func() { _ = r.Close() }()
		options = append(options, chat.WithRelay(r))
		log.Info("event relay enabled", zap.String("url", cfg.NATS.URL))
	}

	hub := chat.NewHub(store, cfg.ChatOptions(), options...)
	go hub.Run()

	httpServer := server.CreateServer(cfg.Port, server.New(cfg, hub, store, log.Named("server"), serverOptions...).Handler())

	errCh := make(chan error, 1)
	go func() { errCh <- server.StartServer(httpServer, log) }()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = hub.Shutdown(cfg.ShutdownTimeout)
			return err
		}
	}

	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, log); err != nil {
		log.Warn("HTTP server did not shut down cleanly", zap.Error(err))
	}
	if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
		log.Warn("hub did not shut down cleanly", zap.Error(err))
	}
	log.Info("server stopped")
	return nil
}

// openStore connects to MongoDB when MONGO_URI is set and otherwise keeps
// messages in memory.
func openStore(ctx context.Context, cfg server.Config, log *zap.Logger) (chat.Store, func(), error) {
	if cfg.Mongo.URI == "" {
		log.Warn("MONGO_URI not set; messages are kept in memory")
		return chat.NewMemoryStore(), func() {}, nil
	}

	s, err := mongostore.Connect(ctx, mongostore.Config{
		URI:        cfg.Mongo.URI,
		Database:   cfg.Mongo.Database,
		Collection: cfg.Mongo.Collection,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := s.EnsureIndexes(ctx); err != nil {
		log.Warn("could not ensure message indexes", zap.Error(err))
	}
	log.Info("message store connected", zap.String("database", cfg.Mongo.Database))
	return s, func() { _ = s.Close(context.Background()) }, nil
}

package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/npezzotti/go-chatengine/internal/api"
	"github.com/npezzotti/go-chatengine/internal/chat"
	"github.com/npezzotti/go-chatengine/internal/config"
	"github.com/npezzotti/go-chatengine/internal/database"
	"github.com/npezzotti/go-chatengine/internal/fanout"
	"github.com/npezzotti/go-chatengine/internal/server"
	"github.com/npezzotti/go-chatengine/internal/stats"
	"github.com/sirupsen/logrus"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	settings, err := config.ParseEnv()
	if err != nil {
		logger.WithError(err).Fatal("config")
	}
	if settings.DatabaseDSN == "" {
		settings.DatabaseDSN = "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"
	}
	if settings.SigningKey == "" {
		settings.SigningKey = defaultSigningKey
	}

	// flags take precedence over the environment
	var allowedOrigins stringSliceFlag
	flag.StringVar(&settings.ServerAddr, "addr", settings.ServerAddr, "server address")
	flag.StringVar(&settings.DatabaseDSN, "dsn", settings.DatabaseDSN, "database connection string")
	flag.StringVar(&settings.SigningKey, "signing-key", settings.SigningKey, "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.StringVar(&settings.RedisURL, "redis-url", settings.RedisURL, "redis URL for cross-process fan-out")
	flag.StringVar(&settings.LogLevel, "log-level", settings.LogLevel, "log level")
	flag.Parse()
	if len(allowedOrigins) > 0 {
		settings.AllowedOrigins = allowedOrigins
	}

	cfg, err := config.NewConfig(settings)
	if err != nil {
		logger.WithError(err).Fatal("config")
	}
	logger.SetLevel(cfg.LogLevel)

	dbConn, err := database.NewPgChatRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.WithError(err).Fatal("db open")
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.WithError(err).Error("db close")
		}
	}()

	bus, closeBus := newBus(logger, cfg)
	defer closeBus()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux, "chatengine-stats")

	svc := chat.NewService(logger, dbConn, dbConn)

	chatServer, err := server.NewChatServer(logger, svc, bus, statsUpdater)
	if err != nil {
		logger.WithError(err).Fatal("new chat server")
	}

	srv := api.NewChatApp(mux, logger, chatServer, svc, dbConn, statsUpdater, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.WithField("signal", sig.String()).Info("received signal")
	case err := <-errCh:
		logger.WithError(err).Error("server")
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.WithError(err).Error("HTTP server shutdown")
	}

	logger.Info("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.WithError(err).Error("chat server shutdown")
	}

	logger.Info("shutdown complete")
}

// newBus returns the Redis bus when a Redis URL is configured and the
// in-process bus otherwise.
func newBus(logger *logrus.Logger, cfg *config.Config) (fanout.Bus, func()) {
	if cfg.RedisURL == "" {
		logger.Info("using in-process fan-out")
		return fanout.NewLocal(), func() {}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rdb, err := fanout.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.WithError(err).Fatal("redis")
	}
	logger.WithField("channel", fanout.DefaultChannel).Info("using redis fan-out")

	return fanout.NewRedis(logger, rdb, fanout.DefaultChannel), func() {
		if err := rdb.Close(); err != nil {
			logger.WithError(err).Error("redis close")
		}
	}
}

package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/npezzotti/go-trivia/internal/api"
	"github.com/npezzotti/go-trivia/internal/auth"
	"github.com/npezzotti/go-trivia/internal/config"
	"github.com/npezzotti/go-trivia/internal/database"
	"github.com/npezzotti/go-trivia/internal/questions"
	"github.com/npezzotti/go-trivia/internal/server"
	"github.com/npezzotti/go-trivia/internal/stats"
)

const (
	defaultSigningKey   = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="
	defaultQuestionsURL = "https://opentdb.com/api.php"
	shutdownTimeout     = 10 * time.Second
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr            string
	dsn             string
	signingKey      string
	allowedOrigins  stringSliceFlag
	questionsURL    string
	roomIdleTimeout time.Duration
)

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func main() {
	logger := log.New(os.Stderr, "[go-trivia] ", log.LstdFlags)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Fatal("load .env:", err)
	}

	if origins := os.Getenv("TRIVIA_ALLOWED_ORIGINS"); origins != "" {
		allowedOrigins.Set(origins)
	}

	flag.StringVar(&addr, "addr", envOr("TRIVIA_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&dsn, "dsn", envOr("TRIVIA_DSN", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"), "database connection string")
	flag.StringVar(&signingKey, "signing-key", envOr("TRIVIA_SIGNING_KEY", defaultSigningKey), "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.StringVar(&questionsURL, "questions-url", envOr("TRIVIA_QUESTIONS_URL", defaultQuestionsURL), "Open Trivia DB compatible questions endpoint")
	flag.DurationVar(&roomIdleTimeout, "room-idle-timeout", envDuration("TRIVIA_ROOM_IDLE_TIMEOUT", 5*time.Minute), "how long an empty room is kept before eviction")
	flag.Parse()

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins, questionsURL, roomIdleTimeout)
	if err != nil {
		logger.Fatal("config:", err)
	}

	dbConn, err := database.NewPgRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	if err := dbConn.Migrate(); err != nil {
		logger.Fatal("db migrate:", err)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	authenticator := auth.NewAuthenticator(dbConn, cfg.SigningKey)
	provider := questions.NewOpenTDBProvider(cfg.QuestionsURL, nil)

	hub, err := server.NewHub(logger, dbConn, authenticator, provider, statsUpdater, cfg.RoomIdleTimeout)
	if err != nil {
		logger.Fatal("new hub:", err)
	}

	app := api.NewApp(mux, logger, dbConn, authenticator, hub, cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.Shutdown(shutDownCtx); err != nil {
		logger.Println("HTTP server shutdown:", err)
	}

	if err := hub.Shutdown(shutDownCtx); err != nil {
		logger.Println("hub shutdown:", err)
	}

	logger.Println("shutdown complete")
}

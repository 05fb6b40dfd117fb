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

	"github.com/prometheus/client_golang/prometheus"

	"chatfeed/internal/api"
	"chatfeed/internal/auth"
	"chatfeed/internal/config"
	"chatfeed/internal/db"
	"chatfeed/internal/metrics"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	configPath := flag.String("config", "config.yaml", "path to config file")
	issueToken := flag.String("issue-token", "", "print an access token for this username (created if missing) and exit")
	seedChannel := flag.String("seed-channel", "", "fill this channel (created if missing) with synthetic history and exit")
	seedCount := flag.Int("seed-count", 1000, "number of messages written by -seed-channel")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.Info("database opened", "path", cfg.Database.Path)

	users := db.NewUserRepository(database)
	channels := db.NewChannelRepository(database)
	messages := db.NewMessageRepository(database)
	jwtService := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)

	switch {
	case *issueToken != "":
		if err := printToken(users, jwtService, *issueToken); err != nil {
			slog.Error("failed to issue token", "error", err)
			os.Exit(1)
		}
		return
	case *seedChannel != "":
		if err := seed(users, channels, messages, *seedChannel, *seedCount); err != nil {
			slog.Error("failed to seed channel", "channel", *seedChannel, "error", err)
			os.Exit(1)
		}
		return
	}

	slog.Info("starting server", "name", cfg.Server.Name)

	metrics.MustRegisterServer(prometheus.DefaultRegisterer)

	cleanupService := db.NewCleanupService(messages, cfg.Database.Retention, cfg.Database.CleanupInterval)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	go cleanupService.Start(cleanupCtx)

	server := api.NewServer(cfg, database, jwtService, users, channels, messages)

	addr := cfg.Addr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", addr, "base_url", cfg.Server.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down")

	cleanupCancel()

	server.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

func printToken(users *db.UserRepository, jwtService *auth.JWTService, username string) error {
	user, err := users.Ensure(username)
	if err != nil {
		return fmt.Errorf("ensuring user %s: %w", username, err)
	}
	token, err := jwtService.GenerateAccessToken(user)
	if err != nil {
		return fmt.Errorf("signing token: %w", err)
	}
	fmt.Println(token.AccessToken)
	return nil
}

// seed writes count messages ending now, a minute apart, from a few rotating
// authors.
func seed(users *db.UserRepository, channels *db.ChannelRepository, messages *db.MessageRepository, channelName string, count int) error {
	channel, err := channels.Ensure(channelName)
	if err != nil {
		return fmt.Errorf("ensuring channel: %w", err)
	}

	var authorIDs []string
	for _, name := range []string{"alice", "bob", "carol"} {
		u, err := users.Ensure(name)
		if err != nil {
			return fmt.Errorf("ensuring author %s: %w", name, err)
		}
		authorIDs = append(authorIDs, u.ID)
	}

	start := time.Now().Add(-time.Duration(count) * time.Minute)
	if err := messages.Seed(channel.ID, authorIDs, count, start, time.Minute); err != nil {
		return err
	}
	slog.Info("channel seeded", "channel", channel.Name, "channel_id", channel.ID, "count", count)
	return nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"

	"chatfeed/internal/config"
	"chatfeed/internal/feed"
	"chatfeed/internal/feedclient"
	"chatfeed/internal/tui"
)

func main() {
	configPath := flag.String("config", "feedview.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "feedview:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadClient(configPath)
	if err != nil {
		return err
	}

	// The terminal belongs to the UI, so logs go to a file.
	logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()
	logger := slog.New(slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	if cfg.MetricsAddr != "" {
		srv, _, err := startMetrics(cfg.MetricsAddr, prometheus.NewRegistry(), logger)
		if err != nil {
			return err
		}
		defer stopMetrics(srv)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := feedclient.New(cfg.ServerURL, cfg.Token, cfg.RequestTimeout)
	channels, err := client.Channels(ctx)
	if err != nil {
		return err
	}
	if len(channels) == 0 {
		return errors.New("the server has no channels")
	}

	manager := feed.NewManager(client, cfg.Feed, logger)
	model := tui.New(ctx, manager, channels, cfg.Channel, logger)
	program := tea.NewProgram(model, tea.WithAltScreen())

	live := feedclient.NewLive(cfg.ServerURL, cfg.Token, manager, cfg.ReconnectDelay, logger)
	ids := make([]string, len(channels))
	for i, ch := range channels {
		ids[i] = ch.ID
	}
	if err := live.Subscribe(ids...); err != nil {
		return err
	}
	live.OnStatus(func(connected bool) { program.Send(tui.ConnStatusMsg{Connected: connected}) })
	live.OnReconnect(func() { program.Send(tui.ReconnectedMsg{}) })
	live.OnSubscribed(func(ids []string) { program.Send(tui.SubscribedMsg{ChannelIDs: ids}) })

	liveErr := make(chan error, 1)
	go func() {
		err := live.Run(ctx)
		if errors.Is(err, feedclient.ErrSessionRejected) {
			logger.Error("live updates disabled", "error", err)
		}
		liveErr <- err
	}()

	_, err = program.Run()
	cancel()
	<-liveErr
	if err != nil {
		return fmt.Errorf("running viewer: %w", err)
	}
	return nil
}

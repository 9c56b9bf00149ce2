package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/example/nearby/internal/client"
	"github.com/example/nearby/internal/config"
	"github.com/example/nearby/internal/location"
	"github.com/example/nearby/internal/logging"
	"github.com/example/nearby/internal/models"
	"github.com/example/nearby/internal/poller"
)

func main() {
	cfg, err := config.LoadClientConfig()
	logger := logging.NewConsoleLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	loc, err := newProvider(cfg)
	if err != nil {
		logger.Error("location provider", "source", cfg.LocationSource, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := client.New(cfg.ServerURL, cfg.RequestTimeout)
	d := poller.New(api, loc, poller.Config{
		Interval:       cfg.PollInterval,
		LocateTimeout:  cfg.LocateTimeout,
		RequestTimeout: cfg.RequestTimeout,
		OnChange: func(s poller.Snapshot) {
			if s.State == poller.Ranking {
				printBoard(os.Stdout, s)
			}
		},
	}, logger)

	if err := loginWithRetry(ctx, d, cfg.Name, logger); err != nil {
		logger.Error("giving up", "error", err)
		os.Exit(1)
	}
	d.Run(ctx)
	d.Logout()
}

func newProvider(cfg config.ClientConfig) (location.Provider, error) {
	switch cfg.LocationSource {
	case config.SourceNMEA:
		return location.NewSerialNMEAProvider(cfg.NMEAPort, cfg.NMEABaud), nil
	case config.SourceGoogle:
		g, err := location.NewGoogleProviderFromKey(cfg.GoogleAPIKey)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return location.Static{Coord: models.Coord{Lat: cfg.StaticLat, Lng: cfg.StaticLng}}, nil
	}
}

func loginWithRetry(ctx context.Context, d *poller.Driver, name string, logger *slog.Logger) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		err := d.Login(ctx, name)
		if err == nil || !poller.Retryable(err) {
			return err
		}
		logger.Info("login will be retried", "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func printBoard(w io.Writer, s poller.Snapshot) {
	fmt.Fprintf(w, "\n%s (%s) - %d nearby\n", s.Session.Name, s.Session.EntityID, len(s.Results))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tDISTANCE")
	for i, r := range s.Results {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", i+1, r.Name, formatDistance(r.DistanceKm))
	}
	_ = tw.Flush()
}

func formatDistance(km float64) string {
	if km < 1 {
		return fmt.Sprintf("%.0f m", km*1000)
	}
	return fmt.Sprintf("%.2f km", km)
}

package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kolstream/kolbot/internal/classifier"
	"github.com/kolstream/kolbot/internal/coordinator"
	"github.com/kolstream/kolbot/internal/domain"
	"github.com/kolstream/kolbot/internal/feed"
	"github.com/kolstream/kolbot/internal/server"
)

// TradeMode runs the full live pipeline: WebSocket feed, classifier,
// coordinator against the real venues, and the status server.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	return a.runPipeline(ctx, deps)
}

// MonitorMode runs the same pipeline against simulated venues: signals are
// classified and "executed" in memory so the ledger and notifications show
// what live trading would have done.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	return a.runPipeline(ctx, deps)
}

func (a *App) runPipeline(ctx context.Context, deps *Dependencies) error {
	postFeed := feed.New(feed.Config{
		WsURL:   a.cfg.Feed.WsURL,
		Handles: a.cfg.Feed.Handles,
		Warmup:  a.cfg.Feed.Warmup.Duration,
		Reconnect: feed.Reconnect{
			Initial: a.cfg.Feed.Reconnect.Duration,
			Max:     time.Minute,
		},
		QueueSize: a.cfg.Feed.QueueSize,
	}, deps.SeenCache, a.logger)

	coord := a.newCoordinator(deps, postFeed.Posts())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return postFeed.Run(gctx) })
	g.Go(func() error { return coord.Run(gctx) })

	if a.cfg.Server.Enabled {
		srv := server.New(server.Config{Port: a.cfg.Server.Port}, postFeed, deps.Ledger, deps.Dedup, a.logger)
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ReplayMode feeds an archived JSONL post file through the classifier and
// coordinator against simulated venues, one post at a time, and reports each
// outcome. Paths with an s3:// prefix are read from the configured bucket.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) error {
	coord := a.newCoordinator(deps, nil)

	rc, err := a.openReplaySource(ctx, deps)
	if err != nil {
		return err
	}
	defer rc.Close()

	var total, traded int
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var post domain.Post
		if err := json.Unmarshal([]byte(line), &post); err != nil {
			a.logger.Warn("skipping unparseable replay line", slog.String("error", err.Error()))
			continue
		}
		total++

		out := coord.Handle(ctx, post)
		if out.Status == domain.ExecSkipped {
			continue
		}
		traded++
		a.logger.Info("replayed post",
			slog.String("post_id", out.PostID),
			slog.String("asset", out.Asset),
			slog.String("verdict", string(out.Verdict)),
			slog.String("status", string(out.Status)),
			slog.String("error", out.Err),
		)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("app: replay read: %w", err)
	}

	a.logger.Info("replay finished",
		slog.Int("posts", total),
		slog.Int("signals", traded),
		slog.Int("open_positions", len(deps.Ledger.Open())),
	)
	return nil
}

func (a *App) openReplaySource(ctx context.Context, deps *Dependencies) (io.ReadCloser, error) {
	path := a.cfg.Replay.File
	if key, ok := strings.CutPrefix(path, "s3://"); ok {
		if deps.BlobReader == nil {
			return nil, fmt.Errorf("app: replay file %s requires s3 to be enabled", path)
		}
		rc, err := deps.BlobReader.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("app: replay source: %w", err)
		}
		return rc, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("app: replay source: %w", err)
	}
	return f, nil
}

func (a *App) newCoordinator(deps *Dependencies, posts <-chan domain.Post) *coordinator.Coordinator {
	cls := classifier.NewKeyword(classifier.KeywordConfig{
		Tickers:         a.cfg.Classifier.Tickers,
		SpotAssets:      a.cfg.Classifier.SpotAssets,
		MinConfidence:   a.cfg.Classifier.MinConfidence,
		DefaultLeverage: a.cfg.Classifier.DefaultLeverage,
	})

	return coordinator.New(
		coordinator.Config{
			Workers:          a.cfg.Coordinator.Workers,
			SpotOrderSize:    a.cfg.Coordinator.SpotOrderSize,
			SpotExitFraction: a.cfg.Coordinator.SpotExitFraction,
			PerpNotionalUSD:  a.cfg.Coordinator.PerpNotionalUSD,
			MaxLeverage:      a.cfg.Coordinator.MaxLeverage,
			Backoff: coordinator.Backoff{
				Initial: a.cfg.Coordinator.PollInitial.Duration,
				Max:     a.cfg.Coordinator.PollMax.Duration,
				Jitter:  0.2,
			},
			Budget:           a.cfg.Coordinator.Budget.Duration,
			MaxAttempts:      a.cfg.Coordinator.MaxAttempts,
			VenueConcurrency: int64(a.cfg.Coordinator.VenueConcurrency),
			PruneInterval:    a.cfg.Coordinator.PruneInterval.Duration,
		},
		posts,
		cls,
		deps.Ledger,
		deps.Dedup,
		deps.Spot,
		deps.Perp,
		deps.AuditStore,
		deps.Notifier,
		deps.LockManager,
		a.logger,
	)
}

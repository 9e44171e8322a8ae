package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"copytrade_go/internal/domain"
	"copytrade_go/internal/engine"
	"copytrade_go/internal/execution"
	"copytrade_go/internal/infra"
	"copytrade_go/internal/signer"
	"copytrade_go/internal/storage"
)

const (
	paperStartingBalance = 10_000
	reportsKept          = 50
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config   *infra.Config
	Audit    *storage.AuditStore
	Reports  storage.ReportSink
	Recorder *infra.MetricsRecorder
	Gateway  *execution.ResilientGateway
	Stream   *infra.WSLeaderStream
	Signer   *signer.EIP712Signer
	Worker   *engine.Worker

	dataDir string
	closers []func()
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads config and builds every component. The live venue
// gateway is only used in LIVE mode.
func (b *Bootstrap) Initialize(live domain.ExchangeGateway) error {
	slog.Info("Bootstrapping copytrade-go...")

	// 1. Config
	cfg, err := infra.LoadConfig(infra.ResolveConfigPath())
	if err != nil {
		return err
	}
	b.Config = cfg

	// 2. Logger
	slog.SetDefault(infra.NewLogger(cfg))
	infra.PrintBanner(os.Stdout, cfg)

	// 3. Workspace: _workspace/data/{mode}, guarded by an instance lock
	workDir := infra.GetWorkspaceDir()
	b.dataDir = infra.ModeDataDir(workDir, cfg.Trading.Mode)
	if err := infra.EnsureDir(b.dataDir); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	unlock, err := infra.CreateLockFile(workDir)
	if err != nil {
		return err
	}
	b.closers = append(b.closers, unlock)

	// 4. Audit store (SQLite, WAL)
	dbPath := cfg.Storage.SQLitePath
	if dbPath == "" {
		dbPath = filepath.Join(b.dataDir, "audit.db")
	}
	audit, err := storage.NewAuditStore(dbPath)
	if err != nil {
		return err
	}
	b.Audit = audit
	b.closers = append(b.closers, func() { audit.Close() })
	slog.Info("Audit store initialized (WAL-mode)", "path", dbPath)

	// 5. Metrics sink: Redis when configured, local files otherwise
	b.Recorder = infra.NewMetricsRecorder()
	b.Reports, err = b.newReportSink()
	if err != nil {
		return err
	}

	// 6. Execution: mode gateway wrapped with resilience guards
	factory := execution.NewExecutionFactory(cfg)
	gw, err := factory.CreateGateway(live)
	if err != nil {
		return err
	}
	if paper, ok := gw.(*execution.PaperGateway); ok {
		paper.Fund(cfg.Copy.FollowerID, paperStartingBalance)
	}
	b.Gateway = factory.Wrap(gw, b.Recorder, audit)

	// 7. Signer
	key, err := cfg.ResolveSignerKey()
	if err != nil {
		return fmt.Errorf("failed to resolve signer key: %w", err)
	}
	if key == "" && cfg.Trading.Mode == infra.ModeLive {
		return errors.New("live mode requires a signer key")
	}
	b.Signer, err = signer.NewEIP712Signer(signer.Config{
		Provider:          cfg.Signer.Provider,
		SessionID:         cfg.Signer.SessionID,
		SubaccountID:      cfg.Copy.FollowerID,
		DomainName:        cfg.Signer.DomainName,
		DomainVersion:     cfg.Signer.DomainVersion,
		ChainID:           cfg.Signer.ChainID,
		VerifyingContract: cfg.Signer.VerifyingContract,
		Expiry:            time.Duration(cfg.Signer.ExpirySec) * time.Second,
	}, key)
	if err != nil {
		return err
	}
	slog.Info("Session signer ready",
		slog.String("provider", b.Signer.Provider()),
		slog.String("session", b.Signer.SessionID()),
		slog.String("address", b.Signer.Address().Hex()))

	// 8. Leader stream
	b.Stream = infra.NewWSLeaderStream(infra.WSLeaderStreamConfig{
		URL:          cfg.LeaderStream.WSURL,
		PingInterval: time.Duration(cfg.LeaderStream.PingIntervalSec) * time.Second,
		ReadTimeout:  time.Duration(cfg.LeaderStream.ReadTimeoutSec) * time.Second,
		Recorder:     b.Recorder,
	})

	// 9. Worker
	opts := []engine.Option{
		engine.WithMetrics(b.Recorder),
		engine.WithDumpPath(filepath.Join(b.dataDir, "panic_dump.json")),
	}
	if cfg.Order.Enabled {
		opts = append(opts, engine.WithSubmitter(execution.NewSubmitter(factory.SubmitRequest(), audit, b.Recorder)))
	}
	b.Worker, err = engine.NewWorker(cfg.CopyTrading(), b.Stream, b.Gateway, b.Signer, opts...)
	if err != nil {
		return err
	}

	return nil
}

func (b *Bootstrap) newReportSink() (storage.ReportSink, error) {
	s := b.Config.Storage
	if s.RedisAddr == "" {
		slog.Info("No Redis configured, writing metrics reports to disk")
		return storage.NewSnapshotManager(filepath.Join(b.dataDir, "reports")), nil
	}

	store := storage.NewMetricsStore(s.RedisAddr, s.RedisKey, time.Duration(s.MetricsTTLSec)*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, err
	}
	b.closers = append(b.closers, func() { store.Close() })
	slog.Info("Metrics store connected", "addr", s.RedisAddr, "key", s.RedisKey)
	return store, nil
}

// Run connects the stream, starts the worker and flushes metrics until ctx
// is done, then stops the worker.
func (b *Bootstrap) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b.Stream.Start(gctx)
		<-gctx.Done()
		return nil
	})

	g.Go(func() error {
		if err := b.Worker.Start(gctx); err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
		<-gctx.Done()

		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
		defer cancel()
		if err := b.Worker.Stop(stopCtx); err != nil {
			slog.Warn("Worker stop reported errors", slog.Any("error", err))
		}
		return nil
	})

	g.Go(func() error {
		return b.flushMetrics(gctx)
	})

	err := g.Wait()
	b.Stream.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// flushMetrics saves a report every flush interval and once more on exit.
// Each report covers the outcomes recorded since the previous one.
func (b *Bootstrap) flushMetrics(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(b.Config.Storage.FlushIntervalSec) * time.Second)
	defer ticker.Stop()

	seq := storage.LastSeq(ctx, b.Reports)
	flush := func(ctx context.Context) {
		seq++
		report := storage.NewReport(seq, time.Now().Unix(), b.Recorder.SnapshotAndReset())
		for _, a := range report.Alerts {
			slog.Warn("ALERT",
				slog.String("severity", string(a.Severity)),
				slog.String("code", a.Code),
				slog.String("message", a.Message),
				slog.String("source_ref", a.Source))
		}
		if err := b.Reports.SaveReport(ctx, report); err != nil {
			slog.Warn("Failed to save metrics report", slog.Any("error", err))
		}
		if sm, ok := b.Reports.(*storage.SnapshotManager); ok {
			sm.Cleanup(reportsKept)
		}
	}

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			flush(final)
			cancel()
			return nil
		case <-ticker.C:
			flush(ctx)
		}
	}
}

// Close releases resources in reverse acquisition order.
func (b *Bootstrap) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

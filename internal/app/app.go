// Package app wires the pipeline stages into a single process lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	apihttp "github.com/lakeline/lakeline/internal/api/http"
	"github.com/lakeline/lakeline/internal/bronze"
	"github.com/lakeline/lakeline/internal/catalog"
	"github.com/lakeline/lakeline/internal/checkpoint"
	"github.com/lakeline/lakeline/internal/config"
	"github.com/lakeline/lakeline/internal/dataset"
	"github.com/lakeline/lakeline/internal/gold"
	"github.com/lakeline/lakeline/internal/logging"
	"github.com/lakeline/lakeline/internal/metrics"
	"github.com/lakeline/lakeline/internal/replay"
	"github.com/lakeline/lakeline/internal/server"
	"github.com/lakeline/lakeline/internal/silver"
	"github.com/lakeline/lakeline/internal/storage"
	"github.com/lakeline/lakeline/pkg/types"
)

// App owns the shared resources and runs the stages selected by the
// configured mode. Stages in the same process still communicate only
// through durable storage, so any subset can be split out into its own
// process without changing behavior.
type App struct {
	cfg     *config.Config
	version string
	logger  *logging.ComponentLogger

	// Shared resources
	checkpoints checkpoint.Store
	catalog     *catalog.Catalog
	collector   *metrics.Collector
	objects     storage.ObjectStorage
	archiver    *storage.Archiver
	bronzeLog   *bronze.Log
	silverStore *silver.Store
	goldStore   *gold.Store
	aggregator  *gold.Aggregator
	shutdown    *server.ShutdownManager

	// Lifecycle
	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
	errCh   chan error
}

// New creates an App with the given configuration.
func New(cfg *config.Config, version string) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	return &App{
		cfg:      cfg,
		version:  version,
		logger:   logging.NewComponentLogger("app", version),
		shutdown: server.NewShutdownManager(30 * time.Second),
		errCh:    make(chan error, 4),
	}, nil
}

// Run initializes shared resources and runs the configured stages until the
// work is done (run-once mode), a stage fails, or a shutdown signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.initResources(ctx); err != nil {
		a.shutdown.Shutdown("init failed")
		return err
	}
	a.shutdown.OnShutdownBegin(func(reason string) {
		a.logger.Info().Str("reason", reason).Msg("shutting down")
		cancel()
	})

	a.logger.Info().
		Str("mode", string(a.cfg.Mode)).
		Str("data_dir", a.cfg.DataDir).
		Bool("run_once", a.cfg.RunOnce).
		Msg("starting")

	if a.cfg.RunOnce {
		err := a.runOnce(ctx)
		if shutErr := a.shutdown.Shutdown("run-once complete"); err == nil {
			err = shutErr
		}
		return err
	}

	a.startStages(ctx)
	go func() {
		if err := a.shutdown.ListenForSignals(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error().Err(err).Msg("signal listener failed")
		}
	}()
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.serveHTTP()
	}()

	select {
	case err := <-a.errCh:
		a.logger.Error().Err(err).Msg("stage failed")
		_ = a.shutdown.Shutdown("stage error")
		a.wg.Wait()
		return err
	case <-a.shutdown.Done():
		a.wg.Wait()
		return nil
	}
}

// Stop shuts the app down from outside the run loop.
func (a *App) Stop() error {
	return a.shutdown.Shutdown("stop requested")
}

// initResources opens everything the selected stages share. Closers are
// registered with the shutdown manager in open order and closed in reverse.
func (a *App) initResources(ctx context.Context) error {
	a.collector = metrics.NewCollector()

	ckpt, err := checkpoint.Open(ctx, a.cfg.Checkpoint)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	a.checkpoints = ckpt
	a.shutdown.RegisterCloser(ckpt)

	cat, err := catalog.Open(filepath.Join(a.cfg.DataDir, "catalog.db"))
	if err != nil {
		return fmt.Errorf("failed to open partition catalog: %w", err)
	}
	a.catalog = cat
	a.shutdown.RegisterCloser(cat)

	objects, err := storage.Open(ctx, a.cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open object storage: %w", err)
	}
	a.objects = objects
	if objects != nil {
		a.archiver = storage.NewArchiver(objects, a.cfg.Storage.Prefix, logging.NewComponentLogger("archiver", a.version))
	}

	if a.cfg.ShouldRunIngest() || a.cfg.ShouldRunSilver() {
		var opts []bronze.Option
		if a.archiver != nil && a.cfg.Bronze.ArchiveSegments {
			opts = append(opts, bronze.WithSealHook(a.archiver.SealHook()))
		}
		log, err := bronze.Open(a.cfg.Bronze.LogDir, a.cfg.Bronze.MaxSegmentSize, opts...)
		if err != nil {
			return fmt.Errorf("failed to open bronze log: %w", err)
		}
		a.bronzeLog = log
		a.shutdown.RegisterCloser(log)
	}

	if a.cfg.ShouldRunSilver() || a.cfg.ShouldRunGold() {
		store, err := silver.OpenStore(a.cfg.Silver.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open silver store: %w", err)
		}
		a.silverStore = store
		a.shutdown.RegisterCloser(store)
	}

	if a.cfg.ShouldRunGold() {
		store, err := gold.OpenStore(a.cfg.Gold.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open gold store: %w", err)
		}
		a.goldStore = store
		a.shutdown.RegisterCloser(store)

		var opts []gold.AggregatorOption
		if a.archiver != nil && a.cfg.Gold.ArchiveWindows {
			opts = append(opts, gold.WithArchiver(a.archiver))
		}
		agg, err := gold.NewAggregator(ctx, a.silverStore, store, a.catalog, a.checkpoints,
			a.cfg.Gold, a.collector, logging.NewComponentLogger("gold", a.version), opts...)
		if err != nil {
			return fmt.Errorf("failed to build gold aggregator: %w", err)
		}
		a.aggregator = agg
	}

	return nil
}

// startStages launches the continuous stage loops for the configured mode.
func (a *App) startStages(ctx context.Context) {
	if a.cfg.ShouldRunIngest() {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.runIngest(ctx); err != nil {
				a.reportError(fmt.Errorf("ingest stage: %w", err))
				return
			}
			// The dataset is finite. In ingest-only mode the process is
			// done; in all mode the other stages keep serving.
			if a.cfg.Mode == config.ModeIngest {
				_ = a.shutdown.Shutdown("ingest complete")
			}
		}()
	}

	if a.cfg.ShouldRunSilver() {
		transformer, err := a.buildTransformer()
		if err != nil {
			a.reportError(fmt.Errorf("silver stage: %w", err))
			return
		}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := transformer.Run(ctx, a.cfg.Silver.PollInterval); err != nil && !errors.Is(err, context.Canceled) {
				a.reportError(fmt.Errorf("silver stage: %w", err))
			}
		}()
	}

	if a.cfg.ShouldRunGold() {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.aggregator.Run(ctx, a.cfg.Gold.PollInterval); err != nil && !errors.Is(err, context.Canceled) {
				a.reportError(fmt.Errorf("gold stage: %w", err))
			}
		}()
	}
}

// runOnce drains each configured stage in pipeline order and returns.
func (a *App) runOnce(ctx context.Context) error {
	if a.cfg.ShouldRunIngest() {
		if err := a.runIngest(ctx); err != nil {
			return fmt.Errorf("ingest stage: %w", err)
		}
	}

	if a.cfg.ShouldRunSilver() {
		transformer, err := a.buildTransformer()
		if err != nil {
			return fmt.Errorf("silver stage: %w", err)
		}
		for {
			n, err := transformer.RunOnce(ctx)
			if err != nil {
				return fmt.Errorf("silver stage: %w", err)
			}
			if n == 0 {
				break
			}
		}
	}

	if a.cfg.ShouldRunGold() {
		for {
			n, err := a.aggregator.RunOnce(ctx)
			if err != nil {
				return fmt.Errorf("gold stage: %w", err)
			}
			if n == 0 {
				break
			}
		}
	}

	return nil
}

// runIngest replays the dataset into the bronze log and returns once the
// dataset is exhausted or the context is canceled.
func (a *App) runIngest(ctx context.Context) error {
	reader, err := dataset.NewReader(a.cfg.Dataset.Path)
	if err != nil {
		return fmt.Errorf("failed to open dataset: %w", err)
	}
	defer reader.Close()

	logger := logging.NewComponentLogger("replay", a.version)
	source, err := replay.NewSource(reader, a.checkpoints, a.cfg.Replay.Multiplier, logger)
	if err != nil {
		return err
	}
	ingestor := bronze.NewIngestor(a.bronzeLog, a.checkpoints, a.collector, logging.NewComponentLogger("bronze", a.version))

	events := make(chan types.Event, 256)
	srcErr := make(chan error, 1)
	go func() {
		_, err := source.Run(ctx, events)
		srcErr <- err
	}()

	appended, err := ingestor.Run(ctx, events)
	if serr := <-srcErr; err == nil && serr != nil && !errors.Is(serr, context.Canceled) {
		err = serr
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		return err
	}

	a.logger.Info().Int("records", appended).Msg("replay drained")
	return nil
}

func (a *App) buildTransformer() (*silver.Transformer, error) {
	gate, err := silver.NewGate(a.cfg.Silver)
	if err != nil {
		return nil, err
	}
	return silver.NewTransformer(a.bronzeLog, a.silverStore, a.catalog, a.checkpoints,
		gate, a.collector, logging.NewComponentLogger("silver", a.version), a.cfg.Silver.BatchSize), nil
}

// serveHTTP runs the operational API until shutdown. Stage handles that are
// not running in this process are passed as nil; their endpoints degrade.
func (a *App) serveHTTP() {
	srv := apihttp.NewServer(a.checkpoints, a.catalog, a.collector,
		a.bronzeLog, a.goldStore, a.aggregator).HTTPServer(a.cfg.HTTP)

	a.logger.Info().Str("addr", a.cfg.HTTP.Addr).Msg("http server listening")
	if err := a.shutdown.ServeHTTP(srv); err != nil {
		a.reportError(fmt.Errorf("http server: %w", err))
	}
}

func (a *App) reportError(err error) {
	select {
	case a.errCh <- err:
	default:
	}
}

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openmined/bucketsync/internal/blob"
	"github.com/openmined/bucketsync/internal/config"
	"github.com/openmined/bucketsync/internal/sync"
	"github.com/openmined/bucketsync/internal/version"
	"github.com/openmined/bucketsync/internal/workspace"
)

// app wires the vault, the bucket client and the engine for one command run.
type app struct {
	cfg    *config.Config
	vault  *workspace.Vault
	engine *sync.SyncEngine
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	vault, err := workspace.NewVault(cfg.VaultDir)
	if err != nil {
		return nil, err
	}
	if err := vault.Setup(); err != nil {
		return nil, fmt.Errorf("vault setup: %w", err)
	}

	client, err := blob.NewBlobClientWithS3Config(ctx, &cfg.Bucket)
	if err != nil {
		vault.Unlock()
		return nil, fmt.Errorf("blob client: %w", err)
	}

	direction, err := sync.ParseDirection(cfg.SyncDirection)
	if err != nil {
		vault.Unlock()
		return nil, err
	}

	engine := sync.NewSyncEngine(vault, client, sync.EngineOptions{
		Policy: sync.SyncPolicy{
			Direction:       direction,
			LocalProtection: cfg.LocalFileProtection,
			MaxUploadSize:   int64(cfg.MaxUploadSize),
		},
		Inventory: sync.InventoryOptions{
			Prefix:   cfg.BucketPathPrefix,
			PageSize: cfg.PageSize,
			MaxPages: cfg.MaxPages,
		},
		BatchSize:          cfg.BatchSize,
		MaxFingerprintSize: int64(cfg.MaxFingerprintSize),
	})

	slog.Info("bucketsync",
		"version", version.Get().Short(),
		"vault", vault.Root,
		"bucket", client.Bucket(),
		"prefix", cfg.BucketPathPrefix,
		"direction", direction,
		"protection", cfg.LocalFileProtection,
	)

	return &app{cfg: cfg, vault: vault, engine: engine}, nil
}

func (a *app) Close() {
	a.engine.Close()
	if err := a.vault.Unlock(); err != nil {
		slog.Warn("vault unlock", "error", err)
	}
}

// runDaemon keeps the vault in sync until ctx is cancelled.
func runDaemon(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	manager := sync.NewManager(a.vault, a.engine, sync.ManagerOptions{
		AutoSync:         cfg.EnableAutoSync,
		AutoSyncDebounce: cfg.AutoSyncDebounce,
		AutoPull:         cfg.EnableAutoPull,
		AutoPullInterval: cfg.AutoPullInterval,
	})

	// subscribe first so warnings from the initial check are reported
	stopStatus := watchStatus(a.engine, slog.Default())
	defer stopStatus()

	if err := manager.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	manager.Stop()
	slog.Info("Bye!")
	return nil
}

// watchStatus logs engine warnings and ready transitions until the returned
// stop func is called. The subscription is live when watchStatus returns.
func watchStatus(engine *sync.SyncEngine, logger *slog.Logger) (stop func()) {
	events := engine.Status().Subscribe()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for ev := range events {
			switch ev.Type {
			case sync.EventWarning:
				logger.Warn("sync skipped", "path", ev.Path, "reason", ev.Reason)
			case sync.EventStateChanged:
				if ev.State == sync.StateReady {
					logger.Info("status", "text", engine.StatusText())
				}
			}
		}
	}()

	return func() {
		engine.Status().Unsubscribe(events)
		<-done
	}
}

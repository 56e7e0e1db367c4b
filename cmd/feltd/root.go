package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aaurelions/pokertools-sub001/internal/api"
	"github.com/aaurelions/pokertools-sub001/internal/broadcast"
	"github.com/aaurelions/pokertools-sub001/internal/coldstore"
	"github.com/aaurelions/pokertools-sub001/internal/config"
	"github.com/aaurelions/pokertools-sub001/internal/engine"
	"github.com/aaurelions/pokertools-sub001/internal/funds"
	"github.com/aaurelions/pokertools-sub001/internal/ledger"
	"github.com/aaurelions/pokertools-sub001/internal/lock"
	"github.com/aaurelions/pokertools-sub001/internal/queue"
	"github.com/aaurelions/pokertools-sub001/internal/room"
	"github.com/aaurelions/pokertools-sub001/internal/statestore"
	"github.com/aaurelions/pokertools-sub001/internal/workers"
)

func rootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:          "feltd",
		Short:        "Multi-table poker service",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	return cmd
}

func newLogger(level string) (*zap.Logger, error) {
	lv, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lv)
	return zc.Build()
}

func run(parent context.Context, cfg *config.Config) error {
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("postgres connect: %w", err)
	}
	defer pool.Close()

	mongoClient, err := mongo.Connect(ctx, mongooptions.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return fmt.Errorf("mongo connect: %w", err)
	}
	defer mongoClient.Disconnect(context.Background())

	ledgerStore := ledger.NewStore(pool, log)
	if err := ledgerStore.EnsureSchema(ctx); err != nil {
		return err
	}
	tableRepo := coldstore.NewTableRepo(pool, log)
	if err := tableRepo.EnsureSchema(ctx); err != nil {
		return err
	}
	historyRepo := coldstore.NewHistoryRepo(mongoClient.Database(cfg.MongoDatabase), log)
	if err := historyRepo.EnsureIndexes(ctx); err != nil {
		return err
	}

	store := statestore.New(rdb, log)
	locks := lock.NewManager(rdb, log)
	jobs := queue.New(rdb, cfg.QueueName, log)

	rooms := room.NewService(store, room.WrapLocker(locks), room.WrapQueue(jobs), log, room.Options{
		LockLease:     cfg.LockLease,
		ActionTimeout: cfg.ActionTimeout,
		NextHandDelay: cfg.NextHandDelay,
	})
	fundsMgr := funds.NewManager(ledgerStore, cfg.Currency, log)

	if err := recoverTables(ctx, store, tableRepo, log); err != nil {
		return err
	}

	worker := queue.NewWorker(jobs, log, queue.WithConcurrency(cfg.WorkerConcurrency))
	workers.Register(worker, rooms,
		workers.NewSettler(ledgerStore, cfg.HouseUserID, cfg.Currency, log),
		workers.NewPersister(store, tableRepo, log),
		workers.NewArchiver(historyRepo, log))

	mux := broadcast.NewMux(store, log)
	server := api.NewServer(rooms, fundsMgr, mux, rdb, log)

	errCh := make(chan error, 3)
	go func() { worker.Run(ctx); errCh <- nil }()
	go func() {
		if err := mux.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("broadcast mux: %w", err)
			return
		}
		errCh <- nil
	}()
	go func() {
		log.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := server.Listen(cfg.ListenAddr); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			stop()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown failed", zap.Error(err))
	}
	return nil
}

// recoverTables reseeds hot state from the cold mirror for tables whose
// Redis snapshot expired while the service was down.
func recoverTables(ctx context.Context, store *statestore.Store, repo *coldstore.TableRepo, log *zap.Logger) error {
	tables, err := repo.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("list persisted tables: %w", err)
	}
	for _, t := range tables {
		if _, err := store.Load(ctx, t.TableID); err == nil {
			continue
		} else if !errors.Is(err, statestore.ErrNotFound) {
			return err
		}
		var st engine.TableState
		if err := json.Unmarshal(t.State, &st); err != nil {
			log.Error("skipping corrupt persisted snapshot",
				zap.String("tableId", t.TableID), zap.Error(err))
			continue
		}
		if err := store.Create(ctx, t.TableID, &st); err != nil {
			if errors.Is(err, statestore.ErrAlreadyExists) {
				continue
			}
			return err
		}
		log.Info("recovered table from cold store",
			zap.String("tableId", t.TableID),
			zap.Uint64("version", st.Version))
	}
	return nil
}

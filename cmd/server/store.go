package main

import (
	"context"
	"fmt"
	"io"

	"github.com/sifan077/shortlink/config"
	apprepository "github.com/sifan077/shortlink/internal/app/repository"
	inthttp "github.com/sifan077/shortlink/internal/http/handler"
	infraPostgres "github.com/sifan077/shortlink/internal/infra/postgres"
	infraRedis "github.com/sifan077/shortlink/internal/infra/redis"
	"github.com/sifan077/shortlink/internal/infra/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// store is the link repository chosen by config plus everything needed to health-check and close it.
type store struct {
	// links serves reads and writes, possibly through the Redis cache.
	links apprepository.LinkRepository
	// counter applies click increments; it bypasses the cache.
	counter apprepository.LinkRepository
	ledger  apprepository.ClickLedger
	checks  []inthttp.ReadinessCheck
	closers []io.Closer
	log     *zap.Logger
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (*store, error) {
	st := &store{log: log}

	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		db, err := infraPostgres.NewGorm(cfg.Postgres)
		if err != nil {
			return nil, err
		}
		if err := st.useGorm(ctx, db, "postgres"); err != nil {
			return nil, err
		}

		pool, err := infraPostgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			st.close()
			return nil, err
		}
		st.closers = append(st.closers, closerFunc(func() error { pool.Close(); return nil }))
		st.checks = append(st.checks, inthttp.ReadinessCheck{Name: "postgres", Ping: pool.Ping})
		log.Info("Connected to Postgres successfully",
			zap.String("host", cfg.Postgres.Host),
			zap.String("database", cfg.Postgres.Database))

	case config.StoreDriverSQLite:
		db, err := sqlite.Open(cfg.SQLite)
		if err != nil {
			return nil, err
		}
		if err := st.useGorm(ctx, db, "sqlite"); err != nil {
			return nil, err
		}
		log.Info("Opened SQLite store", zap.String("path", cfg.SQLite.Path))

	case config.StoreDriverMemory:
		repo := apprepository.NewMemoryLinkRepository()
		st.links, st.counter, st.ledger = repo, repo, repo
		log.Warn("Using in-memory store; links are lost on restart")

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if cfg.Store.Cache {
		rdb, err := infraRedis.NewClient(ctx, cfg.Redis)
		if err != nil {
			st.close()
			return nil, err
		}
		st.closers = append(st.closers, rdb)
		st.checks = append(st.checks, inthttp.ReadinessCheck{
			Name: "redis",
			Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
		st.links = apprepository.NewCachedLinkRepository(st.links, rdb, cfg.Store.CacheTTL, log)
		log.Info("Connected to Redis successfully", zap.String("addr", rdb.Options().Addr))
	}

	return st, nil
}

func (s *store) useGorm(ctx context.Context, db *gorm.DB, name string) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("%s: access underlying sql db: %w", name, err)
	}
	s.closers = append(s.closers, sqlDB)

	if err := infraPostgres.AutoMigrate(ctx, db, apprepository.Models()...); err != nil {
		s.close()
		return err
	}

	repo := apprepository.NewLinkRepository(db)
	s.links, s.counter, s.ledger = repo, repo, repo
	s.checks = append(s.checks, inthttp.ReadinessCheck{Name: name + "-gorm", Ping: sqlDB.PingContext})
	return nil
}

// close releases resources in reverse order of acquisition.
func (s *store) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.log.Warn("Failed to close store resource", zap.Error(err))
		}
	}
	s.closers = nil
}

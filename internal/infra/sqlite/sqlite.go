package sqlite

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/sifan077/shortlink/config"
	infraPostgres "github.com/sifan077/shortlink/internal/infra/postgres"
	"gorm.io/gorm"
)

const pragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

// Open returns a gorm.DB backed by an embedded, pure-Go SQLite database.
func Open(cfg config.SQLiteConfig) (*gorm.DB, error) {
	path := cfg.Path
	if path == "" {
		path = "shortlink.db"
	}

	db, err := gorm.Open(sqlite.Open(dsn(path)), infraPostgres.GormConfig())
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite: retrieve sql db: %w", err)
	}
	// SQLite allows a single writer; one connection turns lock contention into queueing.
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + pragmas
}

// Package persistence stores simulation runs, their event histories and
// optimizer output in SQLite or MySQL.
package persistence

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("persistence: not found")

// DB wraps a database connection for run storage.
type DB struct {
	conn   *sqlx.DB
	driver string
}

// Open opens or creates a database. driver is "sqlite" (dsn is a file path)
// or "mysql" (dsn is a native DSN or a mysql:// / mariadb:// URL).
func Open(driver, dsn string) (*DB, error) {
	var (
		conn *sqlx.DB
		err  error
	)
	switch driver {
	case "sqlite", "":
		driver = "sqlite"
		conn, err = sqlx.Open("sqlite", dsn+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
		if err == nil {
			// One writer avoids SQLITE_BUSY between the batch inserts.
			conn.SetMaxOpenConns(1)
		}
	case "mysql":
		var native string
		native, err = mysqlDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		conn, err = sqlx.Open("mysql", native)
		if err == nil {
			conn.SetMaxOpenConns(10)
			conn.SetMaxIdleConns(10)
			conn.SetConnMaxLifetime(30 * time.Minute)
		}
	default:
		return nil, fmt.Errorf("open db: unsupported driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn, driver: driver}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Driver returns the database driver name.
func (db *DB) Driver() string {
	return db.driver
}

// mysqlDSN converts a mysql:// or mariadb:// URL into a driver DSN. Anything
// else passes through unchanged.
func mysqlDSN(dsn string) (string, error) {
	if !strings.HasPrefix(dsn, "mysql://") && !strings.HasPrefix(dsn, "mariadb://") {
		return dsn, nil
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse dsn: %w", err)
	}
	cfg := mysql.NewConfig()
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	cfg.DBName = strings.TrimPrefix(u.Path, "/")
	if cfg.User == "" || cfg.Addr == "" || cfg.DBName == "" {
		return "", fmt.Errorf("incomplete dsn: user, host and database are required")
	}
	cfg.ParseTime = true
	cfg.InterpolateParams = true
	return cfg.FormatDSN(), nil
}

func (db *DB) migrate() error {
	idCol := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if db.driver == "mysql" {
		idCol = "BIGINT PRIMARY KEY AUTO_INCREMENT"
	}
	schema := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id VARCHAR(36) PRIMARY KEY,
			kind VARCHAR(32) NOT NULL,
			strategy VARCHAR(64) NOT NULL,
			seed BIGINT NOT NULL,
			created_at BIGINT NOT NULL,
			settings_json TEXT NOT NULL,
			revenue DOUBLE NOT NULL,
			regret DOUBLE NOT NULL,
			avg_regret DOUBLE NOT NULL,
			n_sold INTEGER NOT NULL,
			sold_fraction DOUBLE NOT NULL,
			avg_time_to_sale DOUBLE NOT NULL,
			has_sales INTEGER NOT NULL,
			events_processed INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id ` + idCol + `,
			run_id VARCHAR(36) NOT NULL,
			seq INTEGER NOT NULL,
			t DOUBLE NOT NULL,
			kind VARCHAR(16) NOT NULL,
			customer INTEGER NOT NULL,
			grp INTEGER NOT NULL,
			perceived_group INTEGER NOT NULL,
			visit INTEGER NOT NULL,
			period INTEGER NOT NULL,
			price DOUBLE NOT NULL,
			wtp DOUBLE NOT NULL,
			adjusted_wtp DOUBLE NOT NULL,
			max_wtp DOUBLE NOT NULL,
			irp DOUBLE NOT NULL,
			erp DOUBLE NOT NULL,
			rp DOUBLE NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS customers (
			run_id VARCHAR(36) NOT NULL,
			id INTEGER NOT NULL,
			grp INTEGER NOT NULL,
			perceived_group INTEGER NOT NULL,
			wtp DOUBLE NOT NULL,
			max_wtp DOUBLE NOT NULL,
			initial_wtp DOUBLE NOT NULL,
			irp DOUBLE NOT NULL,
			erp DOUBLE NOT NULL,
			rp DOUBLE NOT NULL,
			visits INTEGER NOT NULL,
			price_history_json TEXT NOT NULL,
			PRIMARY KEY (run_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS price_matrices (
			run_id VARCHAR(36) PRIMARY KEY,
			n_groups INTEGER NOT NULL,
			n_visits INTEGER NOT NULL,
			n_periods INTEGER NOT NULL,
			prices_json TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS optimizer_steps (
			id ` + idCol + `,
			run_id VARCHAR(36) NOT NULL,
			algorithm VARCHAR(64) NOT NULL,
			iteration INTEGER NOT NULL,
			candidate INTEGER NOT NULL,
			fitness DOUBLE NOT NULL,
			best_fitness DOUBLE NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS bandit_arms (
			run_id VARCHAR(36) NOT NULL,
			grp INTEGER NOT NULL,
			period INTEGER NOT NULL,
			price DOUBLE NOT NULL,
			average_reward DOUBLE NOT NULL,
			pulls INTEGER NOT NULL,
			PRIMARY KEY (run_id, grp, period)
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.conn.Exec(stmt); err != nil {
			return err
		}
	}

	// MySQL has no CREATE INDEX IF NOT EXISTS; index creation is skipped when
	// the index already exists.
	indexes := map[string]string{
		"idx_events_run":   "CREATE INDEX idx_events_run ON events(run_id, seq)",
		"idx_steps_run":    "CREATE INDEX idx_steps_run ON optimizer_steps(run_id)",
		"idx_runs_created": "CREATE INDEX idx_runs_created ON runs(created_at)",
	}
	for name, stmt := range indexes {
		exists, err := db.indexExists(name)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("create index %s: %w", name, err)
		}
	}
	return nil
}

func (db *DB) indexExists(name string) (bool, error) {
	var n int
	var err error
	if db.driver == "mysql" {
		err = db.conn.Get(&n,
			"SELECT COUNT(*) FROM information_schema.statistics WHERE table_schema = DATABASE() AND index_name = ?", name)
	} else {
		err = db.conn.Get(&n, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?", name)
	}
	return n > 0, err
}

package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	"github.com/rustygpt/rustygpt/internal/config"
	"github.com/rustygpt/rustygpt/internal/metrics"
)

type Database struct {
	DB *sql.DB
}

// InitDatabase initializes the database connection and runs migrations.
// The statement timeout is applied connection-wide through the DSN so every
// pooled connection inherits it.
func InitDatabase(databaseURL string) (*Database, error) {
	dsn, err := withStatementTimeout(databaseURL, config.AppConfig.StatementTimeoutMS)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.AppConfig.DBMaxOpenConns)
	db.SetMaxIdleConns(config.AppConfig.DBMaxIdleConns)
	db.SetConnMaxIdleTime(time.Duration(config.AppConfig.DBConnMaxIdleTime) * time.Minute)
	db.SetConnMaxLifetime(time.Duration(config.AppConfig.DBConnMaxLifetime) * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	d := &Database{DB: db}
	d.startPoolMetrics()

	return d, nil
}

func withStatementTimeout(databaseURL string, timeoutMS int) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", err
	}

	q := u.Query()
	opts := q.Get("options")
	if opts != "" {
		opts += " "
	}
	opts += "-c statement_timeout=" + strconv.Itoa(timeoutMS)
	q.Set("options", opts)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// startPoolMetrics keeps the pool gauges current. The sampling goroutine is
// process-lifetime; it needs no shutdown.
func (d *Database) startPoolMetrics() {
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			stats := d.DB.Stats()
			metrics.DBOpenConnections.Set(float64(stats.OpenConnections))
			metrics.DBInUseConnections.Set(float64(stats.InUse))
		}
	}()
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"loyalty-app/internal/config"
	"loyalty-app/internal/logger"
	"loyalty-app/internal/repository/db"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// Ensure PostgresDB implements db.Database interface
var _ db.Database = (*PostgresDB)(nil)

// PostgresDB implements the db.Database interface
type PostgresDB struct {
	conn *sql.DB
	now  func() time.Time
}

// NewPostgresDB opens a connection and verifies it. Migrations are applied separately via RunMigrations.
func NewPostgresDB(ctx context.Context, dbConfig config.DatabaseConfig) (*PostgresDB, error) {
	logger.Log.WithFields(logrus.Fields{
		"host": dbConfig.Host,
		"name": dbConfig.Name,
	}).Info("Connecting to PostgreSQL")

	p, err := openDSN(ctx, dbConfig.GetDSN())
	if err != nil {
		return nil, err
	}

	logger.Log.Info("Successfully connected to PostgreSQL")
	return p, nil
}

func openDSN(ctx context.Context, dsn string) (*PostgresDB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Test the connection
	if err = conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	return &PostgresDB{conn: conn, now: time.Now}, nil
}

// Ping checks the connection
func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.conn.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresDB) Close(_ context.Context) error {
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// RunMigrations applies the migrations found at sourceURL, e.g. "file://migrations"
func (p *PostgresDB) RunMigrations(sourceURL string) error {
	driver, err := postgres.WithInstance(p.conn, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("error creating migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(sourceURL, "postgres", driver)
	if err != nil {
		return fmt.Errorf("error creating migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("error running migrations: %w", err)
	}

	logger.Log.Info("Database migrations applied successfully")
	return nil
}

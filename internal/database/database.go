package database

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/bytedance/sonic"
	"github.com/robalyx/chatrank/internal/database/dbretry"
	"github.com/robalyx/chatrank/internal/database/migrations"
	"github.com/robalyx/chatrank/internal/database/models"
	"github.com/robalyx/chatrank/internal/setup/config"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bunjson"
	"github.com/uptrace/bun/extra/bunotel"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// sonicProvider is a JSON provider that uses Sonic for encoding and decoding.
type sonicProvider struct{}

func (sonicProvider) Marshal(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

func (sonicProvider) Unmarshal(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}

func (sonicProvider) NewEncoder(w io.Writer) bunjson.Encoder {
	return sonic.ConfigDefault.NewEncoder(w)
}

func (sonicProvider) NewDecoder(r io.Reader) bunjson.Decoder {
	return sonic.ConfigDefault.NewDecoder(r)
}

// Client defines the methods that a database client must implement.
type Client interface {
	// Model returns the repository containing all model operations.
	Model() *Repository
	// Close gracefully shuts down the database connection.
	Close() error
	// DB returns the underlying bun.DB instance.
	DB() *bun.DB
}

// clientImpl represents the concrete implementation of the database client.
type clientImpl struct {
	db     *bun.DB
	logger *zap.Logger
	repo   *Repository
}

// Repository provides access to all database models.
type Repository struct {
	ledger  *models.LedgerModel
	taskRun *models.TaskRunModel
}

// NewRepository creates a new repository instance with all models.
func NewRepository(db *bun.DB, policy dbretry.Policy, logger *zap.Logger) *Repository {
	return &Repository{
		ledger:  models.NewLedger(db, policy, logger),
		taskRun: models.NewTaskRun(db, policy, logger),
	}
}

// Ledger returns the message count ledger.
func (r *Repository) Ledger() *models.LedgerModel {
	return r.ledger
}

// TaskRun returns the task run records.
func (r *Repository) TaskRun() *models.TaskRunModel {
	return r.taskRun
}

// RetryPolicy builds the ledger write policy from configuration.
func RetryPolicy(cfg *config.Retry) dbretry.Policy {
	return dbretry.Policy{
		MaxAttempts: cfg.MaxAttempts,
		Delay:       time.Duration(cfg.Delay) * time.Millisecond,
		Retryable:   dbretry.IsTransient,
	}
}

// NewConnection opens the configured database and returns a Client instance.
func NewConnection(ctx context.Context, cfg *config.Config, logger *zap.Logger, autoMigrate bool) (Client, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// Add query hooks for monitoring
	db.AddQueryHook(bunotel.NewQueryHook(bunotel.WithDBName("chatrank")))
	db.AddQueryHook(NewHook(logger))

	if autoMigrate {
		if err := Migrate(ctx, db, logger); err != nil {
			db.Close()
			return nil, err
		}
	}

	client := NewClient(db, RetryPolicy(&cfg.Retry), logger)

	logger.Info("Database connection established", zap.String("driver", cfg.Database.Driver))

	return client, nil
}

// Open creates the bun instance for the configured driver.
func Open(ctx context.Context, cfg *config.Config) (*bun.DB, error) {
	// Set Sonic as the JSON provider
	bunjson.SetProvider(sonicProvider{})

	switch cfg.Database.Driver {
	case config.DriverPostgres:
		return openPostgres(&cfg.PostgreSQL), nil
	case config.DriverSQLite:
		return OpenSQLite(ctx, cfg.Database.SQLitePath)
	default:
		return nil, fmt.Errorf("%w: database.driver %q", config.ErrInvalidSetting, cfg.Database.Driver)
	}
}

// openPostgres configures a pooled PostgreSQL connection.
func openPostgres(cfg *config.PostgreSQL) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithAddr(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)),
		pgdriver.WithUser(cfg.User),
		pgdriver.WithPassword(cfg.Password),
		pgdriver.WithDatabase(cfg.DBName),
		pgdriver.WithInsecure(true),
		pgdriver.WithApplicationName("chatrank"),
	))

	// Set connection pool settings
	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Minute)
	sqldb.SetConnMaxIdleTime(time.Duration(cfg.MaxIdleTime) * time.Minute)

	return bun.NewDB(sqldb, pgdialect.New())
}

// OpenSQLite opens an embedded database. SQLite allows a single writer,
// so the pool is limited to one connection.
func OpenSQLite(ctx context.Context, dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}

	sqldb.SetMaxOpenConns(1)

	if err := sqldb.PingContext(ctx); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", dsn, err)
	}

	if _, err := sqldb.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("set busy_timeout on %s: %w", dsn, err)
	}

	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// Migrate runs all pending migrations.
func Migrate(ctx context.Context, db *bun.DB, logger *zap.Logger) error {
	migrator := migrate.NewMigrator(db, migrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if !group.IsZero() {
		logger.Info("Automatically ran migrations", zap.String("group", group.String()))
	}

	return nil
}

// NewClient wraps an already opened database.
func NewClient(db *bun.DB, policy dbretry.Policy, logger *zap.Logger) Client {
	return &clientImpl{
		db:     db,
		logger: logger,
		repo:   NewRepository(db, policy, logger),
	}
}

// Close gracefully shuts down the database connection.
func (c *clientImpl) Close() error {
	err := c.db.Close()
	if err != nil {
		c.logger.Error("Failed to close database connection", zap.Error(err))
		return err
	}

	c.logger.Info("Database connection closed")

	return nil
}

// Model returns the repository containing all model operations.
func (c *clientImpl) Model() *Repository {
	return c.repo
}

// DB returns the underlying bun.DB instance.
func (c *clientImpl) DB() *bun.DB {
	return c.db
}

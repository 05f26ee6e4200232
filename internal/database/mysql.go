package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"github.com/signal-back/pkg/config"
	"github.com/signal-back/pkg/models"
)

// MySQLClient persists symbol universe metadata. The table survives
// restarts so the service can bootstrap its symbol set before the first
// exchange refresh completes.
type MySQLClient struct {
	db     *sql.DB
	logger *logrus.Entry
	cfg    *config.MySQLConfig
}

// NewMySQLClient creates a new MySQL client.
func NewMySQLClient(cfg *config.MySQLConfig, logger *logrus.Logger) (*MySQLClient, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	logger.WithField("dsn", fmt.Sprintf("%s:***@tcp(%s:%d)/%s", cfg.User, cfg.Host, cfg.Port, cfg.Database)).
		Debug("Connecting to MySQL")

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	client := &MySQLClient{
		db:     db,
		logger: logger.WithField("component", "mysql"),
		cfg:    cfg,
	}

	if err := client.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return client, nil
}

// Close closes the database connection.
func (mc *MySQLClient) Close() error {
	return mc.db.Close()
}

// Health checks database health.
func (mc *MySQLClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return mc.db.PingContext(ctx)
}

func (mc *MySQLClient) migrate(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS symbols (
			symbol         VARCHAR(32)  NOT NULL PRIMARY KEY,
			base_asset     VARCHAR(16)  NOT NULL,
			quote_asset    VARCHAR(16)  NOT NULL,
			status         VARCHAR(16)  NOT NULL,
			contract_type  VARCHAR(32)  NOT NULL,
			quote_volume   DOUBLE       NOT NULL DEFAULT 0,
			rank_position  INT          NOT NULL DEFAULT 0,
			is_active      TINYINT(1)   NOT NULL DEFAULT 1,
			updated_at     TIMESTAMP    NOT NULL DEFAULT CURRENT_TIMESTAMP
				ON UPDATE CURRENT_TIMESTAMP,
			INDEX idx_symbols_active_rank (is_active, rank_position)
		)
	`
	if _, err := mc.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create symbols table: %w", err)
	}
	return nil
}

// Symbol operations

// GetActiveSymbols retrieves the persisted universe ordered by rank.
func (mc *MySQLClient) GetActiveSymbols(ctx context.Context) ([]*models.SymbolInfo, error) {
	query := `
		SELECT symbol, base_asset, quote_asset, status, contract_type,
		       quote_volume, rank_position, is_active, updated_at
		FROM symbols
		WHERE is_active = 1
		ORDER BY rank_position
	`

	rows, err := mc.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query symbols: %w", err)
	}
	defer rows.Close()

	var symbols []*models.SymbolInfo
	for rows.Next() {
		info := &models.SymbolInfo{}
		err := rows.Scan(
			&info.Symbol,
			&info.BaseAsset,
			&info.QuoteAsset,
			&info.Status,
			&info.ContractType,
			&info.QuoteVolume,
			&info.Rank,
			&info.IsActive,
			&info.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating symbols: %w", err)
	}

	mc.logger.WithField("count", len(symbols)).Debug("Loaded symbols from database")
	return symbols, nil
}

// ReplaceUniverse upserts the given symbols and deactivates every row not
// present in the new set, inside one transaction.
func (mc *MySQLClient) ReplaceUniverse(ctx context.Context, symbols []*models.SymbolInfo) error {
	return mc.execTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE symbols SET is_active = 0`); err != nil {
			return fmt.Errorf("failed to deactivate symbols: %w", err)
		}

		upsert := `
			INSERT INTO symbols (symbol, base_asset, quote_asset, status,
				contract_type, quote_volume, rank_position, is_active)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1)
			ON DUPLICATE KEY UPDATE
				base_asset = VALUES(base_asset),
				quote_asset = VALUES(quote_asset),
				status = VALUES(status),
				contract_type = VALUES(contract_type),
				quote_volume = VALUES(quote_volume),
				rank_position = VALUES(rank_position),
				is_active = 1
		`
		stmt, err := tx.PrepareContext(ctx, upsert)
		if err != nil {
			return fmt.Errorf("failed to prepare upsert: %w", err)
		}
		defer stmt.Close()

		for _, s := range symbols {
			_, err := stmt.ExecContext(ctx,
				s.Symbol, s.BaseAsset, s.QuoteAsset, s.Status,
				s.ContractType, s.QuoteVolume, s.Rank)
			if err != nil {
				return fmt.Errorf("failed to upsert symbol %s: %w", s.Symbol, err)
			}
		}
		return nil
	})
}

func (mc *MySQLClient) execTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := mc.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			mc.logger.WithError(rbErr).Error("Failed to rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

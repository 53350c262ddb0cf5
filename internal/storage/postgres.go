// Package storage keeps a history of collected batches in Postgres.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/Rajchodisetti/market-gateway/internal/adapters"
	"github.com/Rajchodisetti/market-gateway/internal/observ"
)

const schema = `
CREATE TABLE IF NOT EXISTS quote_snapshots (
	collected_at   TIMESTAMPTZ      NOT NULL,
	symbol         TEXT             NOT NULL,
	name           TEXT             NOT NULL,
	price          DOUBLE PRECISION NOT NULL,
	change         DOUBLE PRECISION NOT NULL,
	change_percent DOUBLE PRECISION NOT NULL,
	volume         BIGINT           NOT NULL,
	PRIMARY KEY (collected_at, symbol)
);
CREATE TABLE IF NOT EXISTS macro_snapshots (
	collected_at   TIMESTAMPTZ PRIMARY KEY,
	usd_brl_buy    DOUBLE PRECISION,
	usd_brl_sell   DOUBLE PRECISION,
	usd_brl_change DOUBLE PRECISION,
	selic          DOUBLE PRECISION NOT NULL,
	cdi            DOUBLE PRECISION NOT NULL
);`

const insertQuote = `
	INSERT INTO quote_snapshots (collected_at, symbol, name, price, change, change_percent, volume)
	VALUES ($1,$2,$3,$4,$5,$6,$7)
	ON CONFLICT (collected_at, symbol) DO NOTHING
`

const insertMacro = `
	INSERT INTO macro_snapshots (collected_at, usd_brl_buy, usd_brl_sell, usd_brl_change, selic, cdi)
	VALUES ($1,$2,$3,$4,$5,$6)
	ON CONFLICT (collected_at) DO NOTHING
`

var ErrNoDSN = errors.New("postgres dsn is empty")

// PostgresSink writes each collected batch in a single transaction.
type PostgresSink struct {
	db *sql.DB
}

func Open(ctx context.Context, dsn string) (*PostgresSink, error) {
	if dsn == "" {
		return nil, ErrNoDSN
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresSink{db: db}, nil
}

func (p *PostgresSink) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schema)
	return err
}

func (p *PostgresSink) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

func (p *PostgresSink) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.db.PingContext(ctx)
}

// Persist stores the quotes and the macro snapshot of one batch. An empty
// batch is a no-op.
func (p *PostgresSink) Persist(ctx context.Context, collectedAt time.Time, quotes []adapters.Quote, macro *adapters.MacroSnapshot) error {
	rows := quoteRows(collectedAt, quotes)
	if len(rows) == 0 && macro == nil {
		return nil
	}
	start := time.Now()

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, insertQuote)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert quote %v: %w", r[1], err)
		}
	}
	if macro != nil {
		if _, err := tx.ExecContext(ctx, insertMacro, macroRow(collectedAt, macro)...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert macro: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	observ.RecordDuration("snapshot_persist_duration", time.Since(start), nil)
	observ.IncCounterBy("snapshot_rows_total", nil, float64(len(rows)))
	return nil
}

// quoteRows skips quotes without a symbol.
func quoteRows(collectedAt time.Time, quotes []adapters.Quote) [][]any {
	ts := collectedAt.UTC()
	rows := make([][]any, 0, len(quotes))
	for _, q := range quotes {
		if q.Symbol == "" {
			continue
		}
		rows = append(rows, []any{ts, q.Symbol, q.Name, q.Price, q.Change, q.ChangePercent, q.Volume})
	}
	return rows
}

func macroRow(collectedAt time.Time, m *adapters.MacroSnapshot) []any {
	var buy, sell, change sql.NullFloat64
	if m.USDBRL != nil {
		buy = sql.NullFloat64{Float64: m.USDBRL.Buy, Valid: true}
		sell = sql.NullFloat64{Float64: m.USDBRL.Sell, Valid: true}
		change = sql.NullFloat64{Float64: m.USDBRL.Variation, Valid: true}
	}
	return []any{collectedAt.UTC(), buy, sell, change, m.Selic, m.CDI}
}

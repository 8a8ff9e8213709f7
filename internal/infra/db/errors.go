package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Spok95/stock-ledger/internal/infra/metrics"
)

// ErrDuplicate — нарушение уникальности. Отличаем от прочих ошибок стора:
// инициализация дня трактует его как "уже инициализировано".
var ErrDuplicate = errors.New("duplicate key")

const (
	codeUniqueViolation = "23505"
	codeUndefinedColumn = "42703"
)

// Classify заворачивает 23505 в ErrDuplicate, остальное отдаёт как есть.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

// Колонки, добавленные после первых выкладок. На 42703 докатываем DDL
// и повторяем исходный запрос ровно один раз.
var lazyColumns = map[string]string{
	"base_unit": `ALTER TABLE materials ADD COLUMN IF NOT EXISTS base_unit TEXT NOT NULL DEFAULT ''`,
	"store_out": `ALTER TABLE daily_records ADD COLUMN IF NOT EXISTS store_out DOUBLE PRECISION NOT NULL DEFAULT 0`,
}

// HealMissingColumn возвращает true, если колонку удалось добавить
// и запрос стоит повторить.
func HealMissingColumn(ctx context.Context, pool *pgxpool.Pool, err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUndefinedColumn {
		return false
	}
	for col, ddl := range lazyColumns {
		if !strings.Contains(pgErr.Message, col) {
			continue
		}
		if _, aerr := pool.Exec(ctx, ddl); aerr != nil {
			return false
		}
		metrics.SchemaHeals.Inc()
		return true
	}
	return false
}

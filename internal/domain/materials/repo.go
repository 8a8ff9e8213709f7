package materials

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Spok95/stock-ledger/internal/infra/db"
)

type Repo struct{ pool *pgxpool.Pool }

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

const cols = `id, name, unit, base_unit, created_at, deleted_at`

func scanMaterial(row pgx.Row) (*Material, error) {
	var m Material
	if err := row.Scan(&m.ID, &m.Name, &m.Unit, &m.BaseUnit, &m.CreatedAt, &m.DeletedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// FindActiveAsOf возвращает материалы, живые на конец дня (epoch millis).
func (r *Repo) FindActiveAsOf(ctx context.Context, endOfDay int64) ([]Material, error) {
	q := `
		SELECT ` + cols + `
		FROM materials
		WHERE created_at <= $1 AND (deleted_at IS NULL OR deleted_at > $1)
		ORDER BY name
	`
	rows, err := r.pool.Query(ctx, q, endOfDay)
	if err != nil && db.HealMissingColumn(ctx, r.pool, err) {
		rows, err = r.pool.Query(ctx, q, endOfDay)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Material
	for rows.Next() {
		var m Material
		if err := rows.Scan(&m.ID, &m.Name, &m.Unit, &m.BaseUnit, &m.CreatedAt, &m.DeletedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repo) GetByID(ctx context.Context, id uuid.UUID) (*Material, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+cols+` FROM materials WHERE id = $1`, id)
	m, err := scanMaterial(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Page — поиск по названию без учёта регистра + пагинация. Возвращает страницу и общее число.
func (r *Repo) Page(ctx context.Context, search string, page, size int) ([]Material, int, error) {
	like := "%" + strings.ToLower(strings.TrimSpace(search)) + "%"
	where := ` WHERE deleted_at IS NULL AND LOWER(name) LIKE $1`

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM materials`+where, like).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := `SELECT ` + cols + ` FROM materials` + where + ` ORDER BY name LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, q, like, size, (page-1)*size)
	if err != nil && db.HealMissingColumn(ctx, r.pool, err) {
		rows, err = r.pool.Query(ctx, q, like, size, (page-1)*size)
	}
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Material
	for rows.Next() {
		var m Material
		if err := rows.Scan(&m.ID, &m.Name, &m.Unit, &m.BaseUnit, &m.CreatedAt, &m.DeletedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}

// SoftDeleteBatch помечает все ids удалёнными одной транзакцией.
// Если хоть один id не найден — откат, частичных эффектов нет.
func (r *Repo) SoftDeleteBatch(ctx context.Context, ids []uuid.UUID, ts int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE materials SET deleted_at = $2
		WHERE id = ANY($1) AND deleted_at IS NULL
	`, ids, ts)
	if err != nil {
		return db.Classify(err)
	}
	if int(tag.RowsAffected()) != len(ids) {
		return fmt.Errorf("batch delete: affected %d of %d", tag.RowsAffected(), len(ids))
	}
	return tx.Commit(ctx)
}

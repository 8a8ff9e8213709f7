package ledger

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Spok95/stock-ledger/internal/domain/materials"
	"github.com/Spok95/stock-ledger/internal/infra/db"
)

type Repo struct{ pool *pgxpool.Pool }

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

const recCols = `material_id, stock_day, opening, inbound, workshop_out, store_out, remaining`

func (r *Repo) Get(ctx context.Context, materialID uuid.UUID, day string) (*DailyRecord, error) {
	q := `SELECT ` + recCols + ` FROM daily_records WHERE material_id = $1 AND stock_day = $2`
	rec, err := r.scanOne(ctx, q, materialID, day)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// LatestBefore — ближайшая запись строго раньше day, разрывы в днях не важны.
func (r *Repo) LatestBefore(ctx context.Context, materialID uuid.UUID, day string) (*DailyRecord, error) {
	q := `
		SELECT ` + recCols + `
		FROM daily_records
		WHERE material_id = $1 AND stock_day < $2
		ORDER BY stock_day DESC
		LIMIT 1
	`
	rec, err := r.scanOne(ctx, q, materialID, day)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (r *Repo) scanOne(ctx context.Context, q string, args ...any) (*DailyRecord, error) {
	scan := func() (*DailyRecord, error) {
		var rec DailyRecord
		err := r.pool.QueryRow(ctx, q, args...).
			Scan(&rec.MaterialID, &rec.Day, &rec.Opening, &rec.Inbound, &rec.WorkshopOut, &rec.StoreOut, &rec.Remaining)
		return &rec, err
	}
	rec, err := scan()
	if err != nil && err != pgx.ErrNoRows && db.HealMissingColumn(ctx, r.pool, err) {
		rec, err = scan()
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Insert создаёт запись дня. Уникальность (material_id, stock_day) держит стор:
// проигравший гонку инициализации получает ErrDuplicate.
func (r *Repo) Insert(ctx context.Context, rec DailyRecord) error {
	err := r.execRecord(ctx, `
		INSERT INTO daily_records (`+recCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, rec)
	return db.Classify(err)
}

// Upsert — полная замена записи, последняя запись побеждает.
func (r *Repo) Upsert(ctx context.Context, rec DailyRecord) error {
	return r.execRecord(ctx, `
		INSERT INTO daily_records (`+recCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (material_id, stock_day) DO UPDATE SET
			opening      = EXCLUDED.opening,
			inbound      = EXCLUDED.inbound,
			workshop_out = EXCLUDED.workshop_out,
			store_out    = EXCLUDED.store_out,
			remaining    = EXCLUDED.remaining
	`, rec)
}

func (r *Repo) execRecord(ctx context.Context, q string, rec DailyRecord) error {
	_, err := r.pool.Exec(ctx, q,
		rec.MaterialID, rec.Day, rec.Opening, rec.Inbound, rec.WorkshopOut, rec.StoreOut, rec.Remaining)
	if err != nil && db.HealMissingColumn(ctx, r.pool, err) {
		_, err = r.pool.Exec(ctx, q,
			rec.MaterialID, rec.Day, rec.Opening, rec.Inbound, rec.WorkshopOut, rec.StoreOut, rec.Remaining)
	}
	return err
}

// InsertMaterial кладёт материал и его первую запись одной транзакцией:
// либо видно оба, либо ничего.
func (r *Repo) InsertMaterial(ctx context.Context, m materials.Material, first DailyRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err = tx.Exec(ctx, `
		INSERT INTO materials (id, name, unit, base_unit, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, m.ID, m.Name, m.Unit, m.BaseUnit, m.CreatedAt); err != nil {
		return db.Classify(err)
	}

	if _, err = tx.Exec(ctx, `
		INSERT INTO daily_records (`+recCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, first.MaterialID, first.Day, first.Opening, first.Inbound, first.WorkshopOut, first.StoreOut, first.Remaining); err != nil {
		return db.Classify(err)
	}

	return tx.Commit(ctx)
}

// InventoryPage — страница журнала за день с поиском по названию материала.
func (r *Repo) InventoryPage(ctx context.Context, day, search string, page, size int) ([]InventoryRow, int, error) {
	like := "%" + strings.ToLower(strings.TrimSpace(search)) + "%"

	var total int
	if err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM daily_records r
		JOIN materials m ON m.id = r.material_id
		WHERE r.stock_day = $1 AND LOWER(m.name) LIKE $2
	`, day, like).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := `
		SELECT m.id, m.name, m.unit, m.base_unit, m.created_at, m.deleted_at,
		       r.material_id, r.stock_day, r.opening, r.inbound, r.workshop_out, r.store_out, r.remaining
		FROM daily_records r
		JOIN materials m ON m.id = r.material_id
		WHERE r.stock_day = $1 AND LOWER(m.name) LIKE $2
		ORDER BY m.name
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, q, day, like, size, (page-1)*size)
	if err != nil && db.HealMissingColumn(ctx, r.pool, err) {
		rows, err = r.pool.Query(ctx, q, day, like, size, (page-1)*size)
	}
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []InventoryRow
	for rows.Next() {
		var row InventoryRow
		if err := rows.Scan(
			&row.Material.ID, &row.Material.Name, &row.Material.Unit, &row.Material.BaseUnit,
			&row.Material.CreatedAt, &row.Material.DeletedAt,
			&row.Record.MaterialID, &row.Record.Day, &row.Record.Opening, &row.Record.Inbound,
			&row.Record.WorkshopOut, &row.Record.StoreOut, &row.Record.Remaining,
		); err != nil {
			return nil, 0, err
		}
		out = append(out, row)
	}
	return out, total, rows.Err()
}

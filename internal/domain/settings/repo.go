package settings

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ pool *pgxpool.Pool }

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

func (r *Repo) Set(ctx context.Context, name, value string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO settings (name, value, updated_at)
		VALUES ($1,$2,now())
		ON CONFLICT (name) DO UPDATE SET value=$2, updated_at=now()
	`, name, value)
	return err
}

func (r *Repo) All(ctx context.Context) (map[string]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT name, value FROM settings ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		out[name] = value
	}
	return out, rows.Err()
}

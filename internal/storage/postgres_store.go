package storage

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/lib/pq"

	"github.com/example/move-calendar/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Migrate executes a migration script as a single statement batch.
func (p *PostgresStore) Migrate(ctx context.Context, script string) error {
	_, err := p.db.ExecContext(ctx, script)
	return err
}

func (p *PostgresStore) GetEntry(ctx context.Context, city, day string) (models.ScheduleEntry, error) {
	var e models.ScheduleEntry
	err := p.db.QueryRowContext(ctx,
		`SELECT is_scheduled, is_empty, version, updated_at FROM schedule_entries WHERE city=$1 AND day=$2`,
		city, day).Scan(&e.IsScheduled, &e.IsEmpty, &e.Version, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ScheduleEntry{}, ErrNotFound
	}
	return e, err
}

// PutEntry upserts only when the stored version is older, so concurrent
// writers converge on the highest version.
func (p *PostgresStore) PutEntry(ctx context.Context, city, day string, e models.ScheduleEntry) (bool, error) {
	res, err := p.db.ExecContext(ctx, `INSERT INTO schedule_entries(city, day, is_scheduled, is_empty, version, updated_at)
		VALUES($1,$2,$3,$4,$5,now())
		ON CONFLICT (city, day) DO UPDATE
		SET is_scheduled=EXCLUDED.is_scheduled, is_empty=EXCLUDED.is_empty, version=EXCLUDED.version, updated_at=EXCLUDED.updated_at
		WHERE schedule_entries.version < EXCLUDED.version`,
		city, day, e.IsScheduled, e.IsEmpty, e.Version)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *PostgresStore) BlockedDays(ctx context.Context, from, to string) (map[string]bool, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT to_char(day, 'YYYY-MM-DD') FROM blocked_days WHERE day BETWEEN $1 AND $2`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out[d] = true
	}
	return out, rows.Err()
}

func (p *PostgresStore) SetBlocked(ctx context.Context, day string, blocked bool) error {
	var err error
	if blocked {
		_, err = p.db.ExecContext(ctx, `INSERT INTO blocked_days(day) VALUES($1) ON CONFLICT DO NOTHING`, day)
	} else {
		_, err = p.db.ExecContext(ctx, `DELETE FROM blocked_days WHERE day=$1`, day)
	}
	return err
}

func (p *PostgresStore) CityCharges(ctx context.Context, city string) (models.CityCharges, error) {
	var c models.CityCharges
	err := p.db.QueryRowContext(ctx, `SELECT cheap, standard FROM city_charges WHERE city=$1`, city).Scan(&c.Cheap, &c.Standard)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CityCharges{}, ErrNotFound
	}
	return c, err
}

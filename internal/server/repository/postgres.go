package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/eruvanos/warehouse14/internal/dbx"
	"github.com/eruvanos/warehouse14/internal/server/repository/migrations"
)

// postgresKeyspace stores the keyspace in one relational table
// records(pk, sk, attrs jsonb) with an index on sk as the reverse index.
type postgresKeyspace struct {
	db *sql.DB
}

// NewPostgresBackend returns a Backend over the given Postgres database.
// Run RunMigrations first.
func NewPostgresBackend(db *sql.DB) Backend {
	return newStore(&postgresKeyspace{db: db})
}

// RunMigrations applies the embedded goose migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}

	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func scanRecord(pk, sk string, attrs []byte) (record, error) {
	var rec record
	if err := json.Unmarshal(attrs, &rec); err != nil {
		return record{}, fmt.Errorf("decode record attrs: %w", err)
	}
	rec.PK = pk
	rec.SK = sk
	return rec, nil
}

func (p *postgresKeyspace) Get(ctx context.Context, key RecordKey) (*record, error) {
	pk, sk := key.Encode()

	query := `SELECT attrs FROM records WHERE pk = $1 AND sk = $2`

	var attrs []byte
	err := p.db.QueryRowContext(ctx, query, pk, sk).Scan(&attrs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	rec, err := scanRecord(pk, sk, attrs)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (p *postgresKeyspace) Put(ctx context.Context, rec record) error {
	return p.put(ctx, p.db, rec)
}

func (p *postgresKeyspace) put(ctx context.Context, db dbx.DBTX, rec record) error {
	attrs, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record attrs: %w", err)
	}

	query := `
		INSERT INTO records (pk, sk, attrs)
		VALUES ($1, $2, $3)
		ON CONFLICT (pk, sk) DO UPDATE SET attrs = EXCLUDED.attrs`

	if _, err := db.ExecContext(ctx, query, rec.PK, rec.SK, attrs); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (p *postgresKeyspace) Delete(ctx context.Context, key RecordKey) error {
	return p.deleteKey(ctx, p.db, key)
}

func (p *postgresKeyspace) deleteKey(ctx context.Context, db dbx.DBTX, key RecordKey) error {
	pk, sk := key.Encode()

	query := `DELETE FROM records WHERE pk = $1 AND sk = $2`

	if _, err := db.ExecContext(ctx, query, pk, sk); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (p *postgresKeyspace) QueryPartition(ctx context.Context, pk, skPrefix string) ([]record, error) {
	query := `
		SELECT pk, sk, attrs FROM records
		WHERE pk = $1 AND sk LIKE $2 || '%'
		ORDER BY sk`

	return p.queryAll(ctx, query, pk, skPrefix)
}

func (p *postgresKeyspace) QueryBySort(ctx context.Context, sk string) ([]record, error) {
	query := `
		SELECT pk, sk, attrs FROM records
		WHERE sk = $1
		ORDER BY pk`

	return p.queryAll(ctx, query, sk)
}

func (p *postgresKeyspace) ScanProjectHeaders(ctx context.Context) ([]record, error) {
	query := `
		SELECT pk, sk, attrs FROM records
		WHERE pk LIKE 'project#%' AND sk = pk
		ORDER BY pk`

	return p.queryAll(ctx, query)
}

func (p *postgresKeyspace) queryAll(ctx context.Context, query string, args ...any) ([]record, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []record
	for rows.Next() {
		var pk, sk string
		var attrs []byte
		if err := rows.Scan(&pk, &sk, &attrs); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}

		rec, err := scanRecord(pk, sk, attrs)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (p *postgresKeyspace) WriteBatch(ctx context.Context, puts []record, deletes []RecordKey) error {
	return dbx.WithTx(ctx, p.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, key := range deletes {
			if err := p.deleteKey(ctx, tx, key); err != nil {
				return err
			}
		}
		for _, rec := range puts {
			if err := p.put(ctx, tx, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

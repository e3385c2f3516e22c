package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"notary/internal/registry/models"
	id "notary/pkg/domain"
	"notary/pkg/platform/sentinel"
	txcontext "notary/pkg/platform/tx"
)

//go:embed schema.sql
var schema string

const recordColumns = `fingerprint, subject, issuer, issued_at, revoked, revoked_at`

// PostgresStore persists records in the registry_records table.
// Issuance relies on the primary key for at-most-once semantics; revocation
// locks the row for the duration of the validate/mutate callbacks.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the records table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create registry schema: %w", classify(err))
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, record *models.Record) error {
	query := `
		INSERT INTO registry_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (fingerprint) DO NOTHING
	`
	res, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, query,
		record.Fingerprint[:],
		record.Subject[:],
		record.Issuer[:],
		record.IssuedAt,
		record.Revoked,
		record.RevokedAt,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", classify(err))
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert record rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrAlreadyUsed
	}
	return nil
}

func (s *PostgresStore) FindByFingerprint(ctx context.Context, fp id.Fingerprint) (*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM registry_records WHERE fingerprint = $1`
	row := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, query, fp[:])
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find record: %w", classify(err))
	}
	return record, nil
}

func (s *PostgresStore) FindMany(ctx context.Context, fps []id.Fingerprint) (map[id.Fingerprint]*models.Record, error) {
	out := make(map[id.Fingerprint]*models.Record, len(fps))
	fps = dedupe(fps)
	if len(fps) == 0 {
		return out, nil
	}
	keys := make(pq.ByteaArray, len(fps))
	for i := range fps {
		keys[i] = fps[i][:]
	}

	query := `SELECT ` + recordColumns + ` FROM registry_records WHERE fingerprint = ANY($1)`
	rows, err := txcontext.ExecutorFrom(ctx, s.db).QueryContext(ctx, query, keys)
	if err != nil {
		return nil, fmt.Errorf("find records: %w", classify(err))
	}
	defer rows.Close()

	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out[record.Fingerprint] = record
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", classify(err))
	}
	return out, nil
}

func (s *PostgresStore) Execute(ctx context.Context, fp id.Fingerprint, validate func(*models.Record) error, mutate func(*models.Record)) (*models.Record, error) {
	var updated *models.Record
	run := func(ctx context.Context) error {
		exec := txcontext.ExecutorFrom(ctx, s.db)
		query := `SELECT ` + recordColumns + ` FROM registry_records WHERE fingerprint = $1 FOR UPDATE`
		record, err := scanRecord(exec.QueryRowContext(ctx, query, fp[:]))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return sentinel.ErrNotFound
			}
			return fmt.Errorf("lock record: %w", classify(err))
		}
		if err := validate(record); err != nil {
			return err
		}
		mutate(record)

		_, err = exec.ExecContext(ctx, `
			UPDATE registry_records
			SET revoked = $2, revoked_at = $3
			WHERE fingerprint = $1
		`, fp[:], record.Revoked, record.RevokedAt)
		if err != nil {
			return fmt.Errorf("update record: %w", classify(err))
		}
		updated = record
		return nil
	}

	// Join an ambient transaction when the caller already opened one.
	if _, ok := txcontext.From(ctx); ok {
		if err := run(ctx); err != nil {
			return nil, err
		}
		return updated, nil
	}
	if err := txcontext.Run(ctx, s.db, run); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM registry_records`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", classify(err))
	}
	return n, nil
}

func (s *PostgresStore) LatestIssuedAt(ctx context.Context) (time.Time, error) {
	var latest sql.NullTime
	err := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, `SELECT MAX(issued_at) FROM registry_records`).Scan(&latest)
	if err != nil {
		return time.Time{}, fmt.Errorf("latest issuance: %w", classify(err))
	}
	if !latest.Valid {
		return time.Time{}, nil
	}
	return latest.Time.UTC(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var (
		fp, subject, issuer []byte
		record              models.Record
		revokedAt           sql.NullTime
	)
	if err := row.Scan(&fp, &subject, &issuer, &record.IssuedAt, &record.Revoked, &revokedAt); err != nil {
		return nil, err
	}
	if len(fp) != id.FingerprintLength || len(subject) != id.AddressLength || len(issuer) != id.AddressLength {
		return nil, fmt.Errorf("corrupt record row: unexpected column widths")
	}
	copy(record.Fingerprint[:], fp)
	copy(record.Subject[:], subject)
	copy(record.Issuer[:], issuer)
	record.IssuedAt = record.IssuedAt.UTC()
	if revokedAt.Valid {
		at := revokedAt.Time.UTC()
		record.RevokedAt = &at
	}
	return &record, nil
}

// classify tags connection-level failures with sentinel.ErrUnavailable so
// callers can tell an unreachable database from a bad query.
func classify(err error) error {
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || pgconn.Timeout(err) {
		return errors.Join(sentinel.ErrUnavailable, err)
	}
	return err
}

package keys

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore persists temp keys to the temp_secret_keys table (spec.md
// §6), grounded on the teacher's prepared-statement style in
// chat_repository.go.
type PostgresStore struct {
	db    *sql.DB
	stmts map[string]*sql.Stmt
}

// NewPostgresStore prepares the statements this store needs.
func NewPostgresStore(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db, stmts: make(map[string]*sql.Stmt)}

	statements := map[string]string{
		"findActive": `
			SELECT id, key_hash, user_id, key_type, used, used_at, expires_at, metadata
			FROM temp_secret_keys
			WHERE user_id = $1 AND key_type = $2 AND used = false AND expires_at > now()
			LIMIT 1
		`,
		"insert": `
			INSERT INTO temp_secret_keys (key_hash, user_id, key_type, used, expires_at, metadata)
			VALUES ($1, $2, $3, false, $4, $5)
			RETURNING id
		`,
		"findByHash": `
			SELECT id, key_hash, user_id, key_type, used, used_at, expires_at, metadata
			FROM temp_secret_keys
			WHERE key_hash = $1
		`,
		"markUsed": `
			UPDATE temp_secret_keys
			SET used = true, used_at = $2
			WHERE id = $1 AND used = false
		`,
		"deleteExpired": `
			DELETE FROM temp_secret_keys WHERE expires_at < $1
		`,
	}

	for name, query := range statements {
		stmt, err := db.PrepareContext(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("prepare %s: %w", name, err)
		}
		s.stmts[name] = stmt
	}

	return s, nil
}

func (s *PostgresStore) FindActive(ctx context.Context, userID string, keyType TempKeyType) (*TempKeyRecord, error) {
	row := s.stmts["findActive"].QueryRowContext(ctx, userID, keyType)
	return scanTempKey(row)
}

func (s *PostgresStore) Insert(ctx context.Context, rec *TempKeyRecord) error {
	return s.stmts["insert"].QueryRowContext(ctx,
		rec.KeyHash, rec.UserID, rec.KeyType, rec.ExpiresAt, rec.Metadata,
	).Scan(&rec.ID)
}

func (s *PostgresStore) FindByHash(ctx context.Context, keyHash string) (*TempKeyRecord, error) {
	row := s.stmts["findByHash"].QueryRowContext(ctx, keyHash)
	return scanTempKey(row)
}

func (s *PostgresStore) MarkUsed(ctx context.Context, id int64, usedAt time.Time) (bool, error) {
	res, err := s.stmts["markUsed"].ExecContext(ctx, id, usedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PostgresStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.stmts["deleteExpired"].ExecContext(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTempKey(row rowScanner) (*TempKeyRecord, error) {
	var rec TempKeyRecord
	var usedAt sql.NullTime
	var metadata sql.NullString

	if err := row.Scan(&rec.ID, &rec.KeyHash, &rec.UserID, &rec.KeyType, &rec.Used, &usedAt, &rec.ExpiresAt, &metadata); err != nil {
		return nil, err
	}
	if usedAt.Valid {
		rec.UsedAt = &usedAt.Time
	}
	rec.Metadata = metadata.String
	return &rec, nil
}

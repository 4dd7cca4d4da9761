package discussion

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/shopmindai/chatcore/internal/apperr"
)

// PostgresStore is the production Store, grounded on the teacher's
// prepared-statement idiom in chat_repository.go but exercising two
// primitives no teacher file needed: pg_try_advisory_lock and
// FOR SHARE NOWAIT row locking, required by spec.md §4.E's concurrency
// rules and inexpressible through gorm's query builder.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-opened *sql.DB (lib/pq driver).
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const advisoryLockPollInterval = 50 * time.Millisecond

func (s *PostgresStore) TryAdvisoryLock(ctx context.Context, postID int64, timeoutSeconds int) (func(), error) {
	deadline := time.Now().Add(time.Duration(timeoutSeconds) * time.Second)
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, apperr.Internal(err, "acquire connection")
	}

	for {
		var acquired bool
		if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, postID).Scan(&acquired); err != nil {
			conn.Close()
			return nil, apperr.Internal(err, "pg_try_advisory_lock")
		}
		if acquired {
			release := func() {
				conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, postID)
				conn.Close()
			}
			return release, nil
		}
		if time.Now().After(deadline) {
			conn.Close()
			return nil, apperr.Busy("advisory lock timeout")
		}
		select {
		case <-ctx.Done():
			conn.Close()
			return nil, apperr.Timeout("advisory lock wait cancelled")
		case <-time.After(advisoryLockPollInterval):
		}
	}
}

func (s *PostgresStore) WithTx(ctx context.Context, timeoutSeconds int, fn func(tx Tx) error) error {
	txCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(txCtx, nil)
	if err != nil {
		return apperr.Internal(err, "begin transaction")
	}
	if _, err := tx.ExecContext(txCtx, fmt.Sprintf("SET LOCAL statement_timeout = '%ds'", timeoutSeconds)); err != nil {
		tx.Rollback()
		return apperr.Internal(err, "set statement timeout")
	}

	if err := fn(&pgTx{tx: tx, ctx: txCtx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.Internal(err, "commit transaction")
	}
	return nil
}

func (s *PostgresStore) FindCommentByIdempotency(ctx context.Context, authorID string, postID int64, idempotencyKey string) (*Comment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, post_id, author_id, parent_comment_id, content, at_user_id, idempotency_key, deleted_at, created_at, updated_at
		FROM comments
		WHERE author_id = $1 AND post_id = $2 AND idempotency_key = $3
	`, authorID, postID, idempotencyKey)
	return scanComment(row)
}

func (s *PostgresStore) ListTopLevelComments(ctx context.Context, postID int64) ([]*Comment, error) {
	return s.listComments(ctx, `
		SELECT id, post_id, author_id, parent_comment_id, content, at_user_id, idempotency_key, deleted_at, created_at, updated_at
		FROM comments
		WHERE post_id = $1 AND parent_comment_id IS NULL AND deleted_at IS NULL
		ORDER BY created_at DESC, id DESC
	`, postID)
}

func (s *PostgresStore) ListReplies(ctx context.Context, parentID int64) ([]*Comment, error) {
	return s.listComments(ctx, `
		SELECT id, post_id, author_id, parent_comment_id, content, at_user_id, idempotency_key, deleted_at, created_at, updated_at
		FROM comments
		WHERE parent_comment_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC, id DESC
	`, parentID)
}

func (s *PostgresStore) listComments(ctx context.Context, query string, arg int64) ([]*Comment, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetPost(ctx context.Context, postID int64) (*Post, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, author_id, title, content, locked_at, deleted_at, created_at, updated_at
		FROM posts WHERE id = $1
	`, postID)
	return scanPost(row)
}

func (s *PostgresStore) FindReaction(ctx context.Context, reactorID string, resourceType ResourceType, resourceID int64, reactionType ReactionType, idempotencyKey string) (*Reaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, resource_type, resource_id, reactor_id, reaction_type, idempotency_key, deleted_at, created_at
		FROM reactions
		WHERE reactor_id = $1 AND resource_type = $2 AND resource_id = $3 AND reaction_type = $4 AND idempotency_key = $5
	`, reactorID, resourceType, resourceID, reactionType, idempotencyKey)
	return scanReaction(row)
}

func (s *PostgresStore) InsertReaction(ctx context.Context, r *Reaction) error {
	return s.db.QueryRowContext(ctx, `
		INSERT INTO reactions (resource_type, resource_id, reactor_id, reaction_type, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, r.ResourceType, r.ResourceID, r.ReactorID, r.ReactionType, r.IdempotencyKey, r.CreatedAt).Scan(&r.ID)
}

func (s *PostgresStore) ResourceAuthor(ctx context.Context, resourceType ResourceType, resourceID int64) (string, bool, bool, error) {
	var table string
	switch resourceType {
	case ResourcePost:
		table = "posts"
	case ResourceComment:
		table = "comments"
	default:
		return "", false, false, fmt.Errorf("unknown resource type %q", resourceType)
	}

	var authorID string
	var deletedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT author_id, deleted_at FROM %s WHERE id = $1`, table), resourceID).
		Scan(&authorID, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, false, nil
	}
	if err != nil {
		return "", false, false, err
	}
	return authorID, deletedAt.Valid, true, nil
}

// pgTx is the transactional view backing WithTx.
type pgTx struct {
	tx  *sql.Tx
	ctx context.Context
}

func (t *pgTx) GetPostForShare(ctx context.Context, postID int64) (*Post, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT id, author_id, title, content, locked_at, deleted_at, created_at, updated_at
		FROM posts WHERE id = $1 FOR SHARE NOWAIT
	`, postID)
	post, err := scanPost(row)
	if isLockNotAvailable(err) {
		return nil, apperr.Busy("post row locked")
	}
	return post, err
}

func (t *pgTx) GetCommentForShare(ctx context.Context, commentID int64) (*Comment, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT id, post_id, author_id, parent_comment_id, content, at_user_id, idempotency_key, deleted_at, created_at, updated_at
		FROM comments WHERE id = $1 FOR SHARE NOWAIT
	`, commentID)
	c, err := scanComment(row)
	if isLockNotAvailable(err) {
		return nil, apperr.Busy("comment row locked")
	}
	return c, err
}

func (t *pgTx) InsertComment(ctx context.Context, c *Comment) error {
	return t.tx.QueryRowContext(ctx, `
		INSERT INTO comments (post_id, author_id, parent_comment_id, content, at_user_id, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, c.PostID, c.AuthorID, c.ParentCommentID, c.Content, c.AtUserID, c.IdempotencyKey, c.CreatedAt, c.UpdatedAt).Scan(&c.ID)
}

func (t *pgTx) SoftDeletePost(ctx context.Context, postID int64, now int64) (bool, error) {
	return t.execAffectsOne(ctx, `UPDATE posts SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`, postID, time.UnixMicro(now).UTC())
}

func (t *pgTx) SoftDeleteComment(ctx context.Context, commentID int64, now int64) (bool, error) {
	return t.execAffectsOne(ctx, `UPDATE comments SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`, commentID, time.UnixMicro(now).UTC())
}

func (t *pgTx) execAffectsOne(ctx context.Context, query string, id int64, ts time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx, query, id, ts)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *pgTx) CascadeDeleteCommentsForPost(ctx context.Context, postID int64, now int64) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE comments SET deleted_at = $2 WHERE post_id = $1 AND deleted_at IS NULL`, postID, time.UnixMicro(now).UTC())
	return err
}

func (t *pgTx) CascadeDeleteReactionsForPost(ctx context.Context, postID int64, now int64) error {
	ts := time.UnixMicro(now).UTC()
	_, err := t.tx.ExecContext(ctx, `
		UPDATE reactions SET deleted_at = $2
		WHERE deleted_at IS NULL AND (
			(resource_type = 'post' AND resource_id = $1)
			OR (resource_type = 'comment' AND resource_id IN (SELECT id FROM comments WHERE post_id = $1))
		)
	`, postID, ts)
	return err
}

func (t *pgTx) CascadeDeleteRepliesForComment(ctx context.Context, commentID int64, now int64) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE comments SET deleted_at = $2 WHERE parent_comment_id = $1 AND deleted_at IS NULL`, commentID, time.UnixMicro(now).UTC())
	return err
}

func (t *pgTx) CascadeDeleteReactionsForComment(ctx context.Context, commentID int64, now int64, includeReplies bool) error {
	ts := time.UnixMicro(now).UTC()
	if !includeReplies {
		_, err := t.tx.ExecContext(ctx, `
			UPDATE reactions SET deleted_at = $2
			WHERE deleted_at IS NULL AND resource_type = 'comment' AND resource_id = $1
		`, commentID, ts)
		return err
	}
	_, err := t.tx.ExecContext(ctx, `
		UPDATE reactions SET deleted_at = $2
		WHERE deleted_at IS NULL AND resource_type = 'comment' AND (
			resource_id = $1
			OR resource_id IN (SELECT id FROM comments WHERE parent_comment_id = $1)
		)
	`, commentID, ts)
	return err
}

func isLockNotAvailable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "55P03" // lock_not_available
	}
	return false
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPost(row rowScanner) (*Post, error) {
	var p Post
	var lockedAt, deletedAt sql.NullTime
	if err := row.Scan(&p.ID, &p.AuthorID, &p.Title, &p.Content, &lockedAt, &deletedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if lockedAt.Valid {
		p.LockedAt = &lockedAt.Time
	}
	if deletedAt.Valid {
		p.DeletedAt = &deletedAt.Time
	}
	return &p, nil
}

func scanComment(row rowScanner) (*Comment, error) {
	var c Comment
	var parentID sql.NullInt64
	var atUser sql.NullString
	var deletedAt sql.NullTime
	if err := row.Scan(&c.ID, &c.PostID, &c.AuthorID, &parentID, &c.Content, &atUser, &c.IdempotencyKey, &deletedAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if parentID.Valid {
		c.ParentCommentID = &parentID.Int64
	}
	if atUser.Valid {
		c.AtUserID = &atUser.String
	}
	if deletedAt.Valid {
		c.DeletedAt = &deletedAt.Time
	}
	return &c, nil
}

func scanReaction(row rowScanner) (*Reaction, error) {
	var r Reaction
	var deletedAt sql.NullTime
	if err := row.Scan(&r.ID, &r.ResourceType, &r.ResourceID, &r.ReactorID, &r.ReactionType, &r.IdempotencyKey, &deletedAt, &r.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if deletedAt.Valid {
		r.DeletedAt = &deletedAt.Time
	}
	return &r, nil
}

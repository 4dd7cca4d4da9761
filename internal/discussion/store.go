package discussion

import "context"

// Store is the persistence boundary the Engine drives. The production
// implementation (PostgresStore) talks to *sql.DB directly with
// FOR SHARE NOWAIT row locks and pg advisory locks, the same idiom the
// teacher's chat_repository.go uses for its own hand-rolled SQL — gorm's
// query builder cannot express either primitive.
type Store interface {
	// TryAdvisoryLock attempts to acquire the per-post advisory lock,
	// retrying internally until timeout elapses. It returns a release
	// function that must be called on every exit path.
	TryAdvisoryLock(ctx context.Context, postID int64, timeoutSeconds int) (release func(), err error)

	// WithTx runs fn inside a transaction with the given statement
	// timeout; any error returned by fn aborts and rolls back.
	WithTx(ctx context.Context, timeoutSeconds int, fn func(tx Tx) error) error

	// FindCommentByIdempotency looks up an existing comment for
	// (authorID, postID, idempotencyKey); returns (nil, nil) if absent.
	FindCommentByIdempotency(ctx context.Context, authorID string, postID int64, idempotencyKey string) (*Comment, error)

	// ListTopLevelComments returns visible top-level comments for postID,
	// ordered created_at DESC, id DESC.
	ListTopLevelComments(ctx context.Context, postID int64) ([]*Comment, error)
	// ListReplies returns visible replies to parentID, same ordering.
	ListReplies(ctx context.Context, parentID int64) ([]*Comment, error)

	// GetPost returns the post or (nil, nil) if it does not exist, with
	// no locking (used by the read-only status probe).
	GetPost(ctx context.Context, postID int64) (*Post, error)

	// FindReaction looks up an existing reaction for the idempotency
	// tuple; returns (nil, nil) if absent.
	FindReaction(ctx context.Context, reactorID string, resourceType ResourceType, resourceID int64, reactionType ReactionType, idempotencyKey string) (*Reaction, error)
	// InsertReaction persists a new reaction.
	InsertReaction(ctx context.Context, r *Reaction) error

	// ResourceAuthor returns the author_id of the given post or comment,
	// used by the self-favorite check; no lock is taken since reactions
	// carry no ordering guarantee (spec.md §5).
	ResourceAuthor(ctx context.Context, resourceType ResourceType, resourceID int64) (authorID string, deleted bool, exists bool, err error)
}

// Tx is the transactional view of the store used within WithTx.
type Tx interface {
	// GetPostForShare loads the post under FOR SHARE NOWAIT.
	GetPostForShare(ctx context.Context, postID int64) (*Post, error)
	// GetCommentForShare loads the comment under FOR SHARE NOWAIT.
	GetCommentForShare(ctx context.Context, commentID int64) (*Comment, error)

	// InsertComment persists a new comment, assigning its ID.
	InsertComment(ctx context.Context, c *Comment) error

	// SoftDeletePost marks the post deleted_at=now iff not already set;
	// returns false if it was already deleted.
	SoftDeletePost(ctx context.Context, postID int64, now int64) (bool, error)
	// SoftDeleteComment marks a single comment deleted_at=now iff not
	// already set; returns false if it was already deleted.
	SoftDeleteComment(ctx context.Context, commentID int64, now int64) (bool, error)

	// CascadeDeleteCommentsForPost sets deleted_at=now on every
	// non-deleted comment belonging to postID.
	CascadeDeleteCommentsForPost(ctx context.Context, postID int64, now int64) error
	// CascadeDeleteReactionsForPost sets deleted_at=now on every
	// non-deleted reaction targeting postID or any of its comments.
	CascadeDeleteReactionsForPost(ctx context.Context, postID int64, now int64) error

	// CascadeDeleteRepliesForComment sets deleted_at=now on every
	// non-deleted reply to commentID.
	CascadeDeleteRepliesForComment(ctx context.Context, commentID int64, now int64) error
	// CascadeDeleteReactionsForComment sets deleted_at=now on every
	// non-deleted reaction targeting commentID or its replies.
	CascadeDeleteReactionsForComment(ctx context.Context, commentID int64, now int64, includeReplies bool) error
}

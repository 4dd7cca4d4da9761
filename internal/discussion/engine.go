package discussion

import (
	"context"
	"strconv"
	"strings"

	"github.com/shopmindai/chatcore/internal/apperr"
	"github.com/shopmindai/chatcore/internal/clock"
)

// CommentCooldown gates comment creation on spec.md §4.B's rate
// dimensions: the per-actor and per-client-IP buckets plus the cooldown
// keyed by (actorID, postID).
type CommentCooldown interface {
	AllowComment(ctx context.Context, actorID, postID, clientIP string) error
}

// Auditor is the subset of the audit writer the Engine uses to record
// mutations and extract @-mention intent (supplemented feature 1), kept
// symmetric with chat.Engine's Auditor.
type Auditor interface {
	Record(ctx context.Context, actorID, action, resourceType string, resourceID int64)
	RecordMention(ctx context.Context, messageID int64, mentionedUserID string)
}

// Engine implements spec.md §4.E.
type Engine struct {
	store Store
	rate  CommentCooldown
	audit Auditor
	clock clock.Clock

	lockTimeoutSeconds int
	txTimeoutSeconds   int
}

// New builds an Engine. lockTimeoutSeconds/txTimeoutSeconds come from
// ADVISORY_LOCK_TIMEOUT_SECS/TX_TIMEOUT_SECS (defaults 10/30).
func New(store Store, rate CommentCooldown, audit Auditor, c clock.Clock, lockTimeoutSeconds, txTimeoutSeconds int) *Engine {
	return &Engine{
		store:              store,
		rate:               rate,
		audit:              audit,
		clock:              c,
		lockTimeoutSeconds: lockTimeoutSeconds,
		txTimeoutSeconds:   txTimeoutSeconds,
	}
}

// CreateCommentInput is the input to CreateComment.
type CreateCommentInput struct {
	PostID          int64
	AuthorID        string
	ParentCommentID *int64
	Content         string
	AtUserID        *string
	IdempotencyKey  string
	ClientIP        string
}

// CreateComment implements spec.md §4.E's create-comment algorithm,
// including idempotent replay, cooldown, advisory lock, and the
// FOR SHARE NOWAIT row-lock preconditions.
func (e *Engine) CreateComment(ctx context.Context, in CreateCommentInput) (*Comment, error) {
	existing, err := e.store.FindCommentByIdempotency(ctx, in.AuthorID, in.PostID, in.IdempotencyKey)
	if err != nil {
		return nil, apperr.Internal(err, "idempotency lookup")
	}
	if existing != nil {
		return existing, nil
	}

	if err := e.rate.AllowComment(ctx, in.AuthorID, strconv.FormatInt(in.PostID, 10), in.ClientIP); err != nil {
		return nil, err
	}

	release, err := e.store.TryAdvisoryLock(ctx, in.PostID, e.lockTimeoutSeconds)
	if err != nil {
		return nil, apperr.Busy("could not acquire post lock")
	}
	defer release()

	var created *Comment
	txErr := e.store.WithTx(ctx, e.txTimeoutSeconds, func(tx Tx) error {
		post, err := tx.GetPostForShare(ctx, in.PostID)
		if err != nil {
			return apperr.Internal(err, "load post")
		}
		if post == nil {
			return apperr.NotFound("post not found")
		}
		if post.DeletedAt != nil {
			return apperr.Gone("post deleted")
		}
		if post.LockedAt != nil {
			return apperr.New(apperr.KindLocked, "post locked")
		}

		if in.ParentCommentID != nil {
			parent, err := tx.GetCommentForShare(ctx, *in.ParentCommentID)
			if err != nil {
				return apperr.Internal(err, "load parent comment")
			}
			if parent == nil {
				return apperr.NotFound("parent comment not found")
			}
			if parent.DeletedAt != nil {
				return apperr.Gone("parent comment deleted")
			}
			if parent.ParentCommentID != nil {
				return apperr.New(apperr.KindDepthExceeded, "cannot reply to a reply")
			}
		}

		now := e.clock.Now()
		c := &Comment{
			PostID:          in.PostID,
			AuthorID:        in.AuthorID,
			ParentCommentID: in.ParentCommentID,
			Content:         in.Content,
			AtUserID:        in.AtUserID,
			IdempotencyKey:  in.IdempotencyKey,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.InsertComment(ctx, c); err != nil {
			return apperr.Internal(err, "insert comment")
		}
		created = c
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	e.audit.Record(ctx, in.AuthorID, "comment.create", "comment", created.ID)
	e.recordMentions(ctx, created)

	return created, nil
}

// recordMentions extracts @user:<id> tokens from a comment's content and
// persists intent for each (supplemented feature 1); it never blocks
// comment creation.
func (e *Engine) recordMentions(ctx context.Context, c *Comment) {
	for _, mention := range extractMentions(c.Content) {
		e.audit.RecordMention(ctx, c.ID, mention)
	}
}

// extractMentions pulls @user:<id> mentioned-user ids out of content;
// this is intent extraction only, no delivery (supplemented feature 1).
func extractMentions(content string) []string {
	var mentions []string
	for _, word := range strings.Fields(content) {
		if !strings.HasPrefix(word, "@") {
			continue
		}
		token := strings.TrimFunc(word[1:], func(r rune) bool {
			return !isMentionChar(r)
		})
		id := strings.TrimPrefix(token, "user:")
		if id != "" {
			mentions = append(mentions, id)
		}
	}
	return mentions
}

func isMentionChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == ':':
		return true
	default:
		return false
	}
}

// CommentTree implements spec.md §4.E's list-comments-for-post op.
func (e *Engine) CommentTree(ctx context.Context, postID int64) ([]*CommentNode, error) {
	post, err := e.store.GetPost(ctx, postID)
	if err != nil {
		return nil, apperr.Internal(err, "load post")
	}
	if post == nil {
		return nil, apperr.NotFound("post not found")
	}
	if post.DeletedAt != nil {
		return nil, apperr.Gone("post deleted")
	}

	tops, err := e.store.ListTopLevelComments(ctx, postID)
	if err != nil {
		return nil, apperr.Internal(err, "list top level comments")
	}

	nodes := make([]*CommentNode, 0, len(tops))
	for _, top := range tops {
		replies, err := e.store.ListReplies(ctx, top.ID)
		if err != nil {
			return nil, apperr.Internal(err, "list replies")
		}
		nodes = append(nodes, &CommentNode{Comment: top, Replies: replies})
	}

	return nodes, nil
}

// PostStatus implements spec.md §4.E's post status probe: a missing,
// deleted or locked post is reported as facts, not as an error; only a
// store failure is returned as an error.
func (e *Engine) PostStatus(ctx context.Context, postID int64) (*PostStatus, error) {
	post, err := e.store.GetPost(ctx, postID)
	if err != nil {
		return nil, apperr.Internal(err, "load post")
	}
	if post == nil {
		return &PostStatus{Exists: false}, nil
	}

	status := &PostStatus{Exists: true}
	if post.DeletedAt != nil {
		status.Deleted = true
		status.AdvisoryMessage = "post was deleted"
		return status, nil
	}
	if post.LockedAt != nil {
		status.Locked = true
		status.AdvisoryMessage = "post is locked"
		return status, nil
	}
	return status, nil
}

// DeletePost implements spec.md §4.E's cascade soft delete for a post.
// actorID is the audit actor (spec.md §6's audit tuple requires one on
// every successful mutation); the op itself has no author-match
// precondition.
func (e *Engine) DeletePost(ctx context.Context, actorID string, postID int64) error {
	release, err := e.store.TryAdvisoryLock(ctx, postID, e.lockTimeoutSeconds)
	if err != nil {
		return apperr.Busy("could not acquire post lock")
	}
	defer release()

	err = e.store.WithTx(ctx, e.txTimeoutSeconds, func(tx Tx) error {
		now := e.clock.Now().UnixMicro()

		ok, err := tx.SoftDeletePost(ctx, postID, now)
		if err != nil {
			return apperr.Internal(err, "soft delete post")
		}
		if !ok {
			return apperr.Gone("post already deleted")
		}

		if err := tx.CascadeDeleteCommentsForPost(ctx, postID, now); err != nil {
			return apperr.Internal(err, "cascade delete comments")
		}
		if err := tx.CascadeDeleteReactionsForPost(ctx, postID, now); err != nil {
			return apperr.Internal(err, "cascade delete reactions")
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.audit.Record(ctx, actorID, "post.delete", "post", postID)
	return nil
}

// DeleteComment implements spec.md §4.E's cascade soft delete for a
// top-level comment or a reply. actorID is the audit actor.
func (e *Engine) DeleteComment(ctx context.Context, actorID string, postID, commentID int64) error {
	release, err := e.store.TryAdvisoryLock(ctx, postID, e.lockTimeoutSeconds)
	if err != nil {
		return apperr.Busy("could not acquire post lock")
	}
	defer release()

	err = e.store.WithTx(ctx, e.txTimeoutSeconds, func(tx Tx) error {
		comment, err := tx.GetCommentForShare(ctx, commentID)
		if err != nil {
			return apperr.Internal(err, "load comment")
		}
		if comment == nil {
			return apperr.NotFound("comment not found")
		}

		now := e.clock.Now().UnixMicro()
		ok, err := tx.SoftDeleteComment(ctx, commentID, now)
		if err != nil {
			return apperr.Internal(err, "soft delete comment")
		}
		if !ok {
			return apperr.Gone("comment already deleted")
		}

		isTopLevel := comment.ParentCommentID == nil
		if isTopLevel {
			if err := tx.CascadeDeleteRepliesForComment(ctx, commentID, now); err != nil {
				return apperr.Internal(err, "cascade delete replies")
			}
		}
		if err := tx.CascadeDeleteReactionsForComment(ctx, commentID, now, isTopLevel); err != nil {
			return apperr.Internal(err, "cascade delete reactions")
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.audit.Record(ctx, actorID, "comment.delete", "comment", commentID)
	return nil
}

// CreateReactionInput is the input to CreateReaction.
type CreateReactionInput struct {
	ReactorID      string
	ResourceType   ResourceType
	ResourceID     int64
	ReactionType   ReactionType
	IdempotencyKey string
}

// CreateReaction implements spec.md §4.E's reaction rules.
func (e *Engine) CreateReaction(ctx context.Context, in CreateReactionInput) (*Reaction, error) {
	existing, err := e.store.FindReaction(ctx, in.ReactorID, in.ResourceType, in.ResourceID, in.ReactionType, in.IdempotencyKey)
	if err != nil {
		return nil, apperr.Internal(err, "reaction idempotency lookup")
	}
	if existing != nil {
		return existing, nil
	}

	// NotFound/Gone preconditions require loading the target; grounded on
	// the same "load under a transaction-free read, rely on insert races
	// being idempotent via the unique tuple" approach the reaction rule
	// doesn't need a lock for, since reactions have no ordering guarantee
	// (spec.md §5).
	authorID, deleted, exists, err := e.store.ResourceAuthor(ctx, in.ResourceType, in.ResourceID)
	if err != nil {
		return nil, apperr.Internal(err, "load reaction target")
	}
	if !exists {
		return nil, apperr.NotFound("reaction target not found")
	}
	if deleted {
		return nil, apperr.Gone("reaction target deleted")
	}

	if in.ReactionType == ReactionFavorite && authorID == in.ReactorID {
		return nil, apperr.New(apperr.KindSelfFavoriteForbid, "cannot favorite your own content")
	}

	now := e.clock.Now()
	r := &Reaction{
		ResourceType:   in.ResourceType,
		ResourceID:     in.ResourceID,
		ReactorID:      in.ReactorID,
		ReactionType:   in.ReactionType,
		IdempotencyKey: in.IdempotencyKey,
		CreatedAt:      now,
	}
	if err := e.store.InsertReaction(ctx, r); err != nil {
		return nil, apperr.Internal(err, "insert reaction")
	}
	e.audit.Record(ctx, in.ReactorID, "reaction.create", string(in.ResourceType), in.ResourceID)
	return r, nil
}

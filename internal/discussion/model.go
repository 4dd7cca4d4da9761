// Package discussion implements spec.md §4.E: the two-level comment tree
// with idempotent creation, cascade soft delete, per-post advisory-locked
// mutation, and authored-content reaction rules.
package discussion

import "time"

// Post mirrors spec.md §3's Post entity.
type Post struct {
	ID        int64
	AuthorID  string
	Title     string
	Content   string
	LockedAt  *time.Time
	DeletedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Comment mirrors spec.md §3's Comment entity.
type Comment struct {
	ID              int64
	PostID          int64
	AuthorID        string
	ParentCommentID *int64
	Content         string
	AtUserID        *string
	IdempotencyKey  string
	DeletedAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsReply reports whether this comment is a reply (depth 2).
func (c *Comment) IsReply() bool { return c.ParentCommentID != nil }

// ResourceType identifies what kind of entity a Reaction targets.
type ResourceType string

const (
	ResourcePost    ResourceType = "post"
	ResourceComment ResourceType = "comment"
)

// ReactionType enumerates spec.md §3's reaction types.
type ReactionType string

const (
	ReactionLike     ReactionType = "like"
	ReactionFavorite ReactionType = "favorite"
)

// Reaction mirrors spec.md §3's Reaction entity.
type Reaction struct {
	ID             int64
	ResourceType   ResourceType
	ResourceID     int64
	ReactorID      string
	ReactionType   ReactionType
	IdempotencyKey string
	DeletedAt      *time.Time
	CreatedAt      time.Time
}

// CommentNode is one entry in the two-level tree CommentTree returns.
type CommentNode struct {
	Comment *Comment
	Replies []*Comment
}

// PostStatus is the result of the post-status probe (spec.md §4.E).
type PostStatus struct {
	Exists          bool
	Deleted         bool
	Locked          bool
	AdvisoryMessage string
}

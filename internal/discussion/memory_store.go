package discussion

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopmindai/chatcore/internal/apperr"
)

// InMemoryStore is a fake Store/Tx used by unit tests; it serializes all
// access behind a single mutex, and models the per-post advisory lock
// with a separate locked-post set that TryAdvisoryLock polls until its
// timeout.
type InMemoryStore struct {
	mu sync.Mutex

	posts     map[int64]*Post
	comments  map[int64]*Comment
	reactions map[int64]*Reaction

	nextCommentID  int64
	nextReactionID int64

	locked map[int64]bool
}

// NewInMemoryStore returns an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		posts:     make(map[int64]*Post),
		comments:  make(map[int64]*Comment),
		reactions: make(map[int64]*Reaction),
		locked:    make(map[int64]bool),
	}
}

// SeedPost inserts a post directly, for test setup.
func (s *InMemoryStore) SeedPost(p *Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[p.ID] = p
}

func (s *InMemoryStore) TryAdvisoryLock(ctx context.Context, postID int64, timeoutSeconds int) (func(), error) {
	deadline := time.Now().Add(time.Duration(timeoutSeconds) * time.Second)
	for {
		s.mu.Lock()
		if !s.locked[postID] {
			s.locked[postID] = true
			s.mu.Unlock()
			return func() {
				s.mu.Lock()
				delete(s.locked, postID)
				s.mu.Unlock()
			}, nil
		}
		s.mu.Unlock()
		if time.Now().After(deadline) {
			return nil, apperr.Busy("advisory lock timeout")
		}
		time.Sleep(time.Millisecond)
	}
}

func (s *InMemoryStore) WithTx(ctx context.Context, timeoutSeconds int, fn func(tx Tx) error) error {
	return fn(&memTx{s: s})
}

func (s *InMemoryStore) FindCommentByIdempotency(ctx context.Context, authorID string, postID int64, idempotencyKey string) (*Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.comments {
		if c.AuthorID == authorID && c.PostID == postID && c.IdempotencyKey == idempotencyKey {
			return c, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) ListTopLevelComments(ctx context.Context, postID int64) ([]*Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Comment
	for _, c := range s.comments {
		if c.PostID == postID && c.ParentCommentID == nil && c.DeletedAt == nil {
			out = append(out, c)
		}
	}
	sortCommentsNewestFirst(out)
	return out, nil
}

func (s *InMemoryStore) ListReplies(ctx context.Context, parentID int64) ([]*Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Comment
	for _, c := range s.comments {
		if c.ParentCommentID != nil && *c.ParentCommentID == parentID && c.DeletedAt == nil {
			out = append(out, c)
		}
	}
	sortCommentsNewestFirst(out)
	return out, nil
}

func (s *InMemoryStore) GetPost(ctx context.Context, postID int64) (*Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posts[postID], nil
}

func (s *InMemoryStore) FindReaction(ctx context.Context, reactorID string, resourceType ResourceType, resourceID int64, reactionType ReactionType, idempotencyKey string) (*Reaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reactions {
		if r.ReactorID == reactorID && r.ResourceType == resourceType && r.ResourceID == resourceID &&
			r.ReactionType == reactionType && r.IdempotencyKey == idempotencyKey {
			return r, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) InsertReaction(ctx context.Context, r *Reaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextReactionID++
	r.ID = s.nextReactionID
	s.reactions[r.ID] = r
	return nil
}

func (s *InMemoryStore) ResourceAuthor(ctx context.Context, resourceType ResourceType, resourceID int64) (string, bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch resourceType {
	case ResourcePost:
		p, ok := s.posts[resourceID]
		if !ok {
			return "", false, false, nil
		}
		return p.AuthorID, p.DeletedAt != nil, true, nil
	case ResourceComment:
		c, ok := s.comments[resourceID]
		if !ok {
			return "", false, false, nil
		}
		return c.AuthorID, c.DeletedAt != nil, true, nil
	default:
		return "", false, false, nil
	}
}

func sortCommentsNewestFirst(cs []*Comment) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].ID > cs[j].ID
		}
		return cs[i].CreatedAt.After(cs[j].CreatedAt)
	})
}

// memTx is the InMemoryStore's transactional view. WithTx holds no lock
// for its duration; each method below takes the store's mutex for its
// own call, matching the teacher's short-held-lock style rather than a
// single long critical section. There is no rollback: writes made before
// fn returns an error stay in place.
type memTx struct {
	s *InMemoryStore
}

func (t *memTx) GetPostForShare(ctx context.Context, postID int64) (*Post, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.posts[postID], nil
}

func (t *memTx) GetCommentForShare(ctx context.Context, commentID int64) (*Comment, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.comments[commentID], nil
}

func (t *memTx) InsertComment(ctx context.Context, c *Comment) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.nextCommentID++
	c.ID = t.s.nextCommentID
	cp := *c
	t.s.comments[c.ID] = &cp
	*c = cp
	return nil
}

func (t *memTx) SoftDeletePost(ctx context.Context, postID int64, now int64) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p, ok := t.s.posts[postID]
	if !ok || p.DeletedAt != nil {
		return false, nil
	}
	ts := time.UnixMicro(now).UTC()
	p.DeletedAt = &ts
	return true, nil
}

func (t *memTx) SoftDeleteComment(ctx context.Context, commentID int64, now int64) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	c, ok := t.s.comments[commentID]
	if !ok || c.DeletedAt != nil {
		return false, nil
	}
	ts := time.UnixMicro(now).UTC()
	c.DeletedAt = &ts
	return true, nil
}

func (t *memTx) CascadeDeleteCommentsForPost(ctx context.Context, postID int64, now int64) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	ts := time.UnixMicro(now).UTC()
	for _, c := range t.s.comments {
		if c.PostID == postID && c.DeletedAt == nil {
			c.DeletedAt = &ts
		}
	}
	return nil
}

func (t *memTx) CascadeDeleteReactionsForPost(ctx context.Context, postID int64, now int64) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	ts := time.UnixMicro(now).UTC()
	commentIDs := map[int64]bool{}
	for _, c := range t.s.comments {
		if c.PostID == postID {
			commentIDs[c.ID] = true
		}
	}
	for _, r := range t.s.reactions {
		if r.DeletedAt != nil {
			continue
		}
		if r.ResourceType == ResourcePost && r.ResourceID == postID {
			r.DeletedAt = &ts
		}
		if r.ResourceType == ResourceComment && commentIDs[r.ResourceID] {
			r.DeletedAt = &ts
		}
	}
	return nil
}

func (t *memTx) CascadeDeleteRepliesForComment(ctx context.Context, commentID int64, now int64) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	ts := time.UnixMicro(now).UTC()
	for _, c := range t.s.comments {
		if c.ParentCommentID != nil && *c.ParentCommentID == commentID && c.DeletedAt == nil {
			c.DeletedAt = &ts
		}
	}
	return nil
}

func (t *memTx) CascadeDeleteReactionsForComment(ctx context.Context, commentID int64, now int64, includeReplies bool) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	ts := time.UnixMicro(now).UTC()
	replyIDs := map[int64]bool{}
	if includeReplies {
		for _, c := range t.s.comments {
			if c.ParentCommentID != nil && *c.ParentCommentID == commentID {
				replyIDs[c.ID] = true
			}
		}
	}
	for _, r := range t.s.reactions {
		if r.DeletedAt != nil || r.ResourceType != ResourceComment {
			continue
		}
		if r.ResourceID == commentID || replyIDs[r.ResourceID] {
			r.DeletedAt = &ts
		}
	}
	return nil
}

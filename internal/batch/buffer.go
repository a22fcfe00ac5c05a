// Package batch accumulates transformed rows until they are large enough to commit.
package batch

import "github.com/cyderes/tweet-ingest/internal/models"

// Buffer holds posts in arrival order and the first occurrence of each
// account. It is owned by a single goroutine and is not synchronized.
type Buffer struct {
	posts    []models.Post
	accounts []models.Account
	seen     map[string]struct{}
}

// NewBuffer creates an empty buffer sized for the given threshold
func NewBuffer(threshold int) *Buffer {
	if threshold < 0 {
		threshold = 0
	}
	return &Buffer{
		posts: make([]models.Post, 0, threshold),
		seen:  make(map[string]struct{}),
	}
}

// Add appends the post and keeps the account only if its id has not been
// seen since the last drain. It reports whether the account was kept.
func (b *Buffer) Add(post models.Post, account models.Account) bool {
	b.posts = append(b.posts, post)
	if _, ok := b.seen[account.ID]; ok {
		return false
	}
	b.seen[account.ID] = struct{}{}
	b.accounts = append(b.accounts, account)
	return true
}

// Size returns the number of buffered posts
func (b *Buffer) Size() int {
	return len(b.posts)
}

// Accounts returns the number of distinct buffered accounts
func (b *Buffer) Accounts() int {
	return len(b.accounts)
}

// Drain hands over the buffered contents and resets the buffer
func (b *Buffer) Drain() models.Batch {
	out := models.Batch{Posts: b.posts, Accounts: b.accounts}
	b.posts = make([]models.Post, 0, cap(b.posts))
	b.accounts = nil
	b.seen = make(map[string]struct{})
	return out
}

// Package repository persists approval poll cursors so a decision is never processed
// twice, including across restarts.
package repository

import "context"

// CursorStore holds the last processed update id per channel.
type CursorStore interface {
	// Get returns the stored cursor for channel, or 0 if none.
	Get(ctx context.Context, channel string) (int64, error)
	// Put stores cursor for channel. Implementations never move a cursor backwards.
	Put(ctx context.Context, channel string, cursor int64) error
}

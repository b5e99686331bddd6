package storage

import (
	"context"
	"time"
)

type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified *time.Time
}

// Archive keeps the raw enrollment recordings of each user in object storage.
type Archive interface {
	Archive(ctx context.Context, userID string, audio []byte) (string, error)
	List(ctx context.Context, userID string) ([]ObjectInfo, error)
	Purge(ctx context.Context, userID string) error
}

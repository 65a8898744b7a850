package cache

import (
	"context"
	"time"

	"github.com/kelvana/presetsmith/internal/models"
)

// RecordCache is a read-through cache for ledger records on the status
// fallback path. Only terminal records should be cached; they are immutable
// so a stale read is impossible.
type RecordCache interface {
	GetRecord(ctx context.Context, id string) (*models.InferenceRequest, bool, error)
	SetRecord(ctx context.Context, rec *models.InferenceRequest, ttl time.Duration) error
	Del(ctx context.Context, ids ...string) error
}

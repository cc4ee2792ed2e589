package pipeline

import (
	"context"
	"errors"

	"github.com/linnemanlabs/leadwatch/internal/lead"
)

// ErrDuplicate is returned by Store.Insert when the source URL is already
// stored (a concurrent writer won the race after Exists returned false).
var ErrDuplicate = errors.New("event already stored")

// Store is the deduplicating persistence interface for event records.
// SourceURL is the uniqueness key.
type Store interface {
	Exists(ctx context.Context, sourceURL string) (bool, error)
	Insert(ctx context.Context, rec *lead.Record) error
	// List returns up to limit records, newest first.
	List(ctx context.Context, limit int) ([]lead.Record, error)
}

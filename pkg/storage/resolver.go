package storage

import (
	"context"
	"fmt"

	"classchat/pkg/domain"
)

// Resolver reads attachment bytes regardless of the storage variant, so
// callers never branch on where the data lives.
type Resolver struct {
	store BlobStore // nil when the external backend is not configured
}

// NewResolver builds a resolver; store may be nil for inline-only setups.
func NewResolver(store BlobStore) *Resolver {
	return &Resolver{store: store}
}

// Bytes returns the raw attachment bytes for either variant.
func (r *Resolver) Bytes(ctx context.Context, att domain.Attachment) ([]byte, error) {
	switch att.StorageVariant {
	case domain.StorageInline:
		return att.Data, nil
	case domain.StorageExternal:
		if r.store == nil {
			return nil, fmt.Errorf("%w: attachment %s references external storage but none is configured", ErrStorageUnavailable, att.ID)
		}
		return r.store.Get(ctx, att.Key)
	default:
		return nil, fmt.Errorf("attachment %s has unknown storage variant %q", att.ID, att.StorageVariant)
	}
}

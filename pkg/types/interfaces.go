package types

import (
	"context"
)

// ObjectReader reads whole objects from a remote object store.
type ObjectReader interface {
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
	HeadObject(ctx context.Context, bucket, key string) (*ObjectInfo, error)
}

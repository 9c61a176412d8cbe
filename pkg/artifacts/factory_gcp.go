//go:build gcp

package artifacts

import "context"

func newGCS(ctx context.Context, opts GCSOptions) (Store, error) {
	return NewGCSStore(ctx, opts)
}

//go:build !gcp

package artifacts

import (
	"context"
	"fmt"
)

func newGCS(_ context.Context, _ GCSOptions) (Store, error) {
	return nil, fmt.Errorf("artifacts: gcs backend requires a -tags gcp build")
}

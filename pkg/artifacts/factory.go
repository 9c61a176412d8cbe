package artifacts

import (
	"context"
	"fmt"
	"os"
)

// Backend names accepted by Open.
const (
	BackendFS  = "fs"
	BackendS3  = "s3"
	BackendGCS = "gcs"
)

// Options select and configure a storage backend.
type Options struct {
	Backend string // fs (default), s3, gcs
	Dir     string // fs: base directory
	Bucket  string // s3/gcs: bucket name
	Prefix  string // s3/gcs: optional key prefix
}

// Open builds the configured Store. The S3 region and endpoint come from the
// standard AWS environment (AWS_REGION, ARTIFACTS_S3_ENDPOINT); GCS uses
// Application Default Credentials and requires a -tags gcp build.
func Open(ctx context.Context, opts Options) (Store, error) {
	backend := opts.Backend
	if backend == "" {
		backend = BackendFS
	}
	switch backend {
	case BackendFS:
		dir := opts.Dir
		if dir == "" {
			dir = "./artifacts"
		}
		return NewFileStore(dir)
	case BackendS3:
		if opts.Bucket == "" {
			return nil, fmt.Errorf("artifacts: s3 backend requires a bucket")
		}
		region := os.Getenv("AWS_REGION")
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3Options{
			Bucket:   opts.Bucket,
			Region:   region,
			Endpoint: os.Getenv("ARTIFACTS_S3_ENDPOINT"),
			Prefix:   opts.Prefix,
		})
	case BackendGCS:
		if opts.Bucket == "" {
			return nil, fmt.Errorf("artifacts: gcs backend requires a bucket")
		}
		return newGCS(ctx, GCSOptions{Bucket: opts.Bucket, Prefix: opts.Prefix})
	default:
		return nil, fmt.Errorf("artifacts: unknown backend %q", backend)
	}
}

package artifacts

// GCSOptions configure a GCSStore.
type GCSOptions struct {
	Bucket string
	Prefix string
}

//go:build gcp

package artifacts

import "context"

func newGCSStore(ctx context.Context, opts Options) (Store, error) {
	return NewGCSStore(ctx, GCSStoreConfig{Bucket: opts.GCSBucket, Prefix: opts.GCSPrefix})
}

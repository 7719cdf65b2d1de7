package artifacts

import (
	"context"
	"fmt"
	"path/filepath"
)

// StoreType selects a backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// Options configures NewStore. Only the fields of the selected backend are read.
type Options struct {
	Type StoreType
	// DataDir roots the fs backend at DataDir/artifacts.
	DataDir string

	S3Bucket   string
	S3Region   string
	S3Endpoint string // MinIO, LocalStack
	S3Prefix   string

	GCSBucket string
	GCSPrefix string
}

func NewStore(ctx context.Context, opts Options) (Store, error) {
	switch opts.Type {
	case "", StoreTypeFS:
		dir := opts.DataDir
		if dir == "" {
			dir = "data"
		}
		return NewFileStore(filepath.Join(dir, "artifacts"))
	case StoreTypeS3:
		if opts.S3Bucket == "" {
			return nil, fmt.Errorf("ARTIFACT_S3_BUCKET is required for S3 storage")
		}
		region := opts.S3Region
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:   opts.S3Bucket,
			Region:   region,
			Endpoint: opts.S3Endpoint,
			Prefix:   opts.S3Prefix,
		})
	case StoreTypeGCS:
		if opts.GCSBucket == "" {
			return nil, fmt.Errorf("ARTIFACT_GCS_BUCKET is required for GCS storage")
		}
		return newGCSStore(ctx, opts)
	default:
		return nil, fmt.Errorf("unsupported artifact storage type: %s", opts.Type)
	}
}

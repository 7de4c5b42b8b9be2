package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSFetcher downloads objects from Google Cloud Storage.
type GCSFetcher struct {
	client *storage.Client
}

// NewGCSFetcher creates a storage client. An empty credentialsFile uses
// Application Default Credentials.
func NewGCSFetcher(ctx context.Context, credentialsFile string) (*GCSFetcher, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return &GCSFetcher{client: client}, nil
}

func (f *GCSFetcher) Close() error {
	return f.client.Close()
}

// Fetch streams gs://bucket/object into dst via a temporary file.
func (f *GCSFetcher) Fetch(ctx context.Context, bucket, object, dst string) error {
	rc, err := f.client.Bucket(bucket).Object(object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("%w: gs://%s/%s", ErrNotFound, bucket, object)
	}
	if err != nil {
		return fmt.Errorf("opening gs://%s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating download file: %w", err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("downloading gs://%s/%s: %w", bucket, object, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing download file: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming download: %w", err)
	}
	return nil
}

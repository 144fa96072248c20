package backup

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSObjectStore reads backup exports from Google Cloud Storage
type GCSObjectStore struct {
	client *storage.Client
}

// NewGCSObjectStore creates a GCS client, using a credentials file when given
// and application default credentials otherwise.
func NewGCSObjectStore(ctx context.Context, config *GCSConfig) (*GCSObjectStore, error) {
	var opts []option.ClientOption
	if config != nil && config.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsPath))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, NewStorageError("failed to create GCS client", err)
	}
	return &GCSObjectStore{client: client}, nil
}

// Stat returns object attributes
func (g *GCSObjectStore) Stat(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	attrs, err := g.client.Bucket(bucket).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return ObjectInfo{}, NewNotFoundError(fmt.Sprintf("gs://%s/%s not found", bucket, key), err)
		}
		return ObjectInfo{}, NewStorageError(fmt.Sprintf("failed to stat gs://%s/%s", bucket, key), err)
	}
	return ObjectInfo{Location: attrs.Name, Size: attrs.Size, CreatedAt: attrs.Created}, nil
}

// List returns every object under prefix
func (g *GCSObjectStore) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	it := g.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	var objects []ObjectInfo
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, NewStorageError(fmt.Sprintf("failed to list gs://%s/%s", bucket, prefix), err)
		}
		objects = append(objects, ObjectInfo{Location: attrs.Name, Size: attrs.Size, CreatedAt: attrs.Created})
	}
	return objects, nil
}

// Open streams an object
func (g *GCSObjectStore) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	reader, err := g.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, NewNotFoundError(fmt.Sprintf("gs://%s/%s not found", bucket, key), err)
		}
		return nil, NewStorageError(fmt.Sprintf("failed to open gs://%s/%s", bucket, key), err)
	}
	return reader, nil
}

// Close closes the GCS client
func (g *GCSObjectStore) Close() error {
	return g.client.Close()
}

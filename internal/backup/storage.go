package backup

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// Location is a parsed artifact URI: scheme://bucket/key
type Location struct {
	Scheme string
	Bucket string
	Key    string
}

// ParseLocation splits an artifact URI into its parts
func ParseLocation(raw string) (Location, error) {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok || scheme == "" {
		return Location{}, NewValidationError(fmt.Sprintf("location %q has no scheme", raw), nil)
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return Location{}, NewValidationError(fmt.Sprintf("location %q has no bucket", raw), nil)
	}
	return Location{Scheme: strings.ToLower(scheme), Bucket: bucket, Key: key}, nil
}

// String renders the location back to URI form
func (l Location) String() string {
	return fmt.Sprintf("%s://%s/%s", l.Scheme, l.Bucket, l.Key)
}

// ObjectStore is one provider's view of a bucket-addressed blob store.
// Stat returns a NOT_FOUND BackupError for missing objects.
type ObjectStore interface {
	Stat(ctx context.Context, bucket, key string) (ObjectInfo, error)
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Close() error
}

// StorageRouter implements ArtifactStore by dispatching on URI scheme
type StorageRouter struct {
	mu     sync.RWMutex
	stores map[string]ObjectStore
}

// NewStorageRouter creates an empty router
func NewStorageRouter() *StorageRouter {
	return &StorageRouter{stores: make(map[string]ObjectStore)}
}

// Register binds a scheme (gs, s3, azure, file) to a provider
func (r *StorageRouter) Register(scheme string, store ObjectStore) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[strings.ToLower(scheme)] = store
}

// Schemes lists registered schemes
func (r *StorageRouter) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.stores))
	for s := range r.stores {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (r *StorageRouter) resolve(raw string) (ObjectStore, Location, error) {
	loc, err := ParseLocation(raw)
	if err != nil {
		return nil, Location{}, err
	}
	r.mu.RLock()
	store, ok := r.stores[loc.Scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, loc, NewConfigurationError(fmt.Sprintf("no storage provider configured for scheme %q", loc.Scheme), nil)
	}
	return store, loc, nil
}

// Exists reports whether the artifact is present
func (r *StorageRouter) Exists(ctx context.Context, location string) (bool, error) {
	store, loc, err := r.resolve(location)
	if err != nil {
		return false, err
	}
	if _, err := store.Stat(ctx, loc.Bucket, loc.Key); err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Size returns the artifact size in bytes
func (r *StorageRouter) Size(ctx context.Context, location string) (int64, error) {
	store, loc, err := r.resolve(location)
	if err != nil {
		return 0, err
	}
	info, err := store.Stat(ctx, loc.Bucket, loc.Key)
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

// List returns artifacts under prefix, newest first
func (r *StorageRouter) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	store, loc, err := r.resolve(prefix)
	if err != nil {
		return nil, err
	}
	objects, err := store.List(ctx, loc.Bucket, loc.Key)
	if err != nil {
		return nil, err
	}
	for i := range objects {
		objects[i].Location = Location{Scheme: loc.Scheme, Bucket: loc.Bucket, Key: objects[i].Location}.String()
	}
	SortNewestFirst(objects)
	return objects, nil
}

// Open streams the artifact contents
func (r *StorageRouter) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	store, loc, err := r.resolve(location)
	if err != nil {
		return nil, err
	}
	return store.Open(ctx, loc.Bucket, loc.Key)
}

// Close releases every registered provider
func (r *StorageRouter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, s := range r.stores {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SortNewestFirst orders objects by creation time descending, then by
// location so the order is stable.
func SortNewestFirst(objects []ObjectInfo) {
	sort.SliceStable(objects, func(i, j int) bool {
		if !objects[i].CreatedAt.Equal(objects[j].CreatedAt) {
			return objects[i].CreatedAt.After(objects[j].CreatedAt)
		}
		return objects[i].Location > objects[j].Location
	})
}

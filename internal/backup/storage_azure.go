package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

// AzureObjectStore reads backup exports from Azure Blob Storage.
// The location bucket is the container name.
type AzureObjectStore struct {
	serviceURL azblob.ServiceURL
}

// NewAzureObjectStore creates a shared-key authenticated service client
func NewAzureObjectStore(config *AzureConfig) (*AzureObjectStore, error) {
	if config == nil || config.AccountName == "" || config.AccountKey == "" {
		return nil, NewValidationError("Azure account name and key are required", nil)
	}

	credential, err := azblob.NewSharedKeyCredential(config.AccountName, config.AccountKey)
	if err != nil {
		return nil, NewStorageError("failed to create Azure credentials", err)
	}

	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", config.AccountName)
	}
	serviceURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, NewStorageError("failed to parse Azure service URL", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})
	return &AzureObjectStore{serviceURL: azblob.NewServiceURL(*serviceURL, pipeline)}, nil
}

func isAzureNotFound(err error) bool {
	var stgErr azblob.StorageError
	if errors.As(err, &stgErr) {
		switch stgErr.ServiceCode() {
		case azblob.ServiceCodeBlobNotFound, azblob.ServiceCodeContainerNotFound:
			return true
		}
	}
	return false
}

// Stat returns blob size and creation time
func (a *AzureObjectStore) Stat(ctx context.Context, container, key string) (ObjectInfo, error) {
	blobURL := a.serviceURL.NewContainerURL(container).NewBlobURL(key)
	props, err := blobURL.GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if isAzureNotFound(err) {
			return ObjectInfo{}, NewNotFoundError(fmt.Sprintf("azure://%s/%s not found", container, key), err)
		}
		return ObjectInfo{}, NewStorageError(fmt.Sprintf("failed to stat azure://%s/%s", container, key), err)
	}
	return ObjectInfo{Location: key, Size: props.ContentLength(), CreatedAt: props.CreationTime()}, nil
}

// List returns every blob under prefix
func (a *AzureObjectStore) List(ctx context.Context, container, prefix string) ([]ObjectInfo, error) {
	containerURL := a.serviceURL.NewContainerURL(container)

	var objects []ObjectInfo
	for marker := (azblob.Marker{}); marker.NotDone(); {
		resp, err := containerURL.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{Prefix: prefix})
		if err != nil {
			return nil, NewStorageError(fmt.Sprintf("failed to list azure://%s/%s", container, prefix), err)
		}
		for _, blob := range resp.Segment.BlobItems {
			info := ObjectInfo{Location: blob.Name, CreatedAt: blob.Properties.LastModified}
			if blob.Properties.ContentLength != nil {
				info.Size = *blob.Properties.ContentLength
			}
			if blob.Properties.CreationTime != nil {
				info.CreatedAt = *blob.Properties.CreationTime
			}
			objects = append(objects, info)
		}
		marker = resp.NextMarker
	}
	return objects, nil
}

// Open streams a blob with the SDK's retrying reader
func (a *AzureObjectStore) Open(ctx context.Context, container, key string) (io.ReadCloser, error) {
	blobURL := a.serviceURL.NewContainerURL(container).NewBlobURL(key)
	resp, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if isAzureNotFound(err) {
			return nil, NewNotFoundError(fmt.Sprintf("azure://%s/%s not found", container, key), err)
		}
		return nil, NewStorageError(fmt.Sprintf("failed to open azure://%s/%s", container, key), err)
	}
	return resp.Body(azblob.RetryReaderOptions{MaxRetryRequests: 20}), nil
}

// Close is a no-op for the Azure pipeline
func (a *AzureObjectStore) Close() error { return nil }

package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// S3ObjectStore reads backup exports from Amazon S3
type S3ObjectStore struct {
	client s3iface.S3API
}

// NewS3ObjectStore creates an S3 client. Static keys are optional; without
// them the default AWS credential chain is used.
func NewS3ObjectStore(config *S3Config) (*S3ObjectStore, error) {
	if config == nil || config.Region == "" {
		return nil, NewValidationError("S3 region is required", nil)
	}

	awsConfig := &aws.Config{Region: aws.String(config.Region)}
	if config.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, "")
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, NewStorageError("failed to create AWS session", err)
	}
	return &S3ObjectStore{client: s3.New(sess)}, nil
}

// NewS3ObjectStoreWithClient wraps an existing client
func NewS3ObjectStoreWithClient(client s3iface.S3API) *S3ObjectStore {
	return &S3ObjectStore{client: client}
}

func isS3NotFound(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	var aerr awserr.Error
	return errors.As(err, &aerr) && (aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound")
}

// Stat returns object size and modification time
func (s *S3ObjectStore) Stat(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	out, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return ObjectInfo{}, NewNotFoundError(fmt.Sprintf("s3://%s/%s not found", bucket, key), err)
		}
		return ObjectInfo{}, NewStorageError(fmt.Sprintf("failed to stat s3://%s/%s", bucket, key), err)
	}
	return ObjectInfo{
		Location:  key,
		Size:      aws.Int64Value(out.ContentLength),
		CreatedAt: aws.TimeValue(out.LastModified),
	}, nil
}

// List returns every object under prefix. S3 has no creation time, so
// LastModified stands in for it.
func (s *S3ObjectStore) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			objects = append(objects, ObjectInfo{
				Location:  aws.StringValue(obj.Key),
				Size:      aws.Int64Value(obj.Size),
				CreatedAt: aws.TimeValue(obj.LastModified),
			})
		}
		return true
	})
	if err != nil {
		return nil, NewStorageError(fmt.Sprintf("failed to list s3://%s/%s", bucket, prefix), err)
	}
	return objects, nil
}

// Open streams an object
func (s *S3ObjectStore) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, NewNotFoundError(fmt.Sprintf("s3://%s/%s not found", bucket, key), err)
		}
		return nil, NewStorageError(fmt.Sprintf("failed to open s3://%s/%s", bucket, key), err)
	}
	return out.Body, nil
}

// Close is a no-op; the SDK holds no connections that need releasing
func (s *S3ObjectStore) Close() error { return nil }

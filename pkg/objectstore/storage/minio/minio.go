// Package minio stores containers as MinIO buckets.
package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/tags"

	"github.com/tendant/simple-objectstore/pkg/objectstore"
)

// Config holds the MinIO connection settings
type Config struct {
	Endpoint       string
	AccessKey      string
	SecretKey      string
	UseSSL         bool
	Region         string
	TimeoutSeconds int
}

const readOnlyPolicy = `{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":[%s],"Resource":[%s]}]}`

// Backend maps containers to buckets. Metadata is kept as bucket tags and the
// public access level as an anonymous read policy.
type Backend struct {
	client Client
	region string
}

// New creates a backend connected to the configured endpoint
func New(cfg Config) (*Backend, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithClient(client, cfg.Region), nil
}

// NewWithClient creates a backend over an existing client
func NewWithClient(client Client, region string) *Backend {
	return &Backend{client: client, region: region}
}

// classify maps MinIO error responses onto the error taxonomy
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return objectstore.WrapError(objectstore.KindTransient, err)
	}

	resp := errorResponse(err)
	switch resp.Code {
	case "NoSuchBucket", "NoSuchKey", "NotFound":
		return objectstore.WrapError(objectstore.KindNotFound, err)
	case "BucketAlreadyExists", "BucketAlreadyOwnedByYou":
		return objectstore.WrapError(objectstore.KindConflict, err)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "InvalidToken":
		return objectstore.WrapError(objectstore.KindAuth, err)
	case "InvalidBucketName", "InvalidObjectName", "KeyTooLongError", "InvalidArgument", "InvalidTag", "XMinioInvalidObjectName":
		return objectstore.WrapError(objectstore.KindValidation, err)
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return objectstore.WrapError(objectstore.KindNotFound, err)
	case http.StatusUnauthorized, http.StatusForbidden:
		return objectstore.WrapError(objectstore.KindAuth, err)
	case http.StatusConflict:
		return objectstore.WrapError(objectstore.KindConflict, err)
	case http.StatusBadRequest:
		return objectstore.WrapError(objectstore.KindValidation, err)
	}
	return objectstore.WrapError(objectstore.KindTransient, err)
}

// errorResponse finds the MinIO error response anywhere in the chain.
// minio.ToErrorResponse only looks at err itself.
func errorResponse(err error) minio.ErrorResponse {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp
	}
	return minio.ToErrorResponse(err)
}

func (b *Backend) ensureBucket(ctx context.Context, name string) error {
	exists, err := b.client.BucketExists(ctx, name)
	if err != nil {
		return classify(fmt.Errorf("failed to check bucket: %w", err))
	}
	if !exists {
		return objectstore.NewError(objectstore.KindNotFound, "bucket %s not found", name)
	}
	return nil
}

// CreateContainer makes a bucket
func (b *Backend) CreateContainer(ctx context.Context, name string) (*objectstore.Container, error) {
	if err := b.client.MakeBucket(ctx, name, minio.MakeBucketOptions{Region: b.region}); err != nil {
		return nil, classify(fmt.Errorf("failed to create bucket: %w", err))
	}

	createdAt, err := b.creationDate(ctx, name)
	if err != nil {
		createdAt = time.Now().UTC()
	}
	return &objectstore.Container{
		Name:         name,
		CreatedAt:    createdAt,
		PublicAccess: objectstore.PublicAccessNone,
		Metadata:     map[string]string{},
	}, nil
}

func (b *Backend) creationDate(ctx context.Context, name string) (time.Time, error) {
	buckets, err := b.client.ListBuckets(ctx)
	if err != nil {
		return time.Time{}, classify(fmt.Errorf("failed to list buckets: %w", err))
	}
	for _, bucket := range buckets {
		if bucket.Name == name {
			return bucket.CreationDate.UTC(), nil
		}
	}
	return time.Time{}, objectstore.NewError(objectstore.KindNotFound, "bucket %s not found", name)
}

// accessFromPolicy reads the access level off an anonymous read policy
func accessFromPolicy(policy string) objectstore.PublicAccess {
	switch {
	case strings.TrimSpace(policy) == "":
		return objectstore.PublicAccessNone
	case strings.Contains(policy, "s3:ListBucket"):
		return objectstore.PublicAccessContainer
	default:
		return objectstore.PublicAccessBlob
	}
}

// policyFor builds the anonymous read policy for an access level
func policyFor(bucket string, access objectstore.PublicAccess) string {
	switch access {
	case objectstore.PublicAccessBlob:
		return fmt.Sprintf(readOnlyPolicy, `"s3:GetObject"`, fmt.Sprintf(`"arn:aws:s3:::%s/*"`, bucket))
	case objectstore.PublicAccessContainer:
		return fmt.Sprintf(readOnlyPolicy, `"s3:GetObject","s3:ListBucket"`,
			fmt.Sprintf(`"arn:aws:s3:::%s","arn:aws:s3:::%s/*"`, bucket, bucket))
	default:
		return ""
	}
}

// GetContainerProperties reads the bucket policy and creation date. Buckets
// carry no modification time, so the creation date is used.
func (b *Backend) GetContainerProperties(ctx context.Context, name string) (*objectstore.ContainerProperties, error) {
	createdAt, err := b.creationDate(ctx, name)
	if err != nil {
		return nil, err
	}

	policy, err := b.client.GetBucketPolicy(ctx, name)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to get bucket policy: %w", err))
	}

	return &objectstore.ContainerProperties{
		PublicAccess: accessFromPolicy(policy),
		LastModified: createdAt,
		CreatedAt:    createdAt,
	}, nil
}

// SetPublicAccess installs or removes the anonymous read policy
func (b *Backend) SetPublicAccess(ctx context.Context, name string, access objectstore.PublicAccess) error {
	if err := b.client.SetBucketPolicy(ctx, name, policyFor(name, access)); err != nil {
		return classify(fmt.Errorf("failed to set bucket policy: %w", err))
	}
	return nil
}

// SetContainerMetadata replaces the bucket tags
func (b *Backend) SetContainerMetadata(ctx context.Context, name string, metadata map[string]string) error {
	if len(metadata) == 0 {
		if err := b.ensureBucket(ctx, name); err != nil {
			return err
		}
		if err := b.client.RemoveBucketTagging(ctx, name); err != nil {
			return classify(fmt.Errorf("failed to clear bucket tags: %w", err))
		}
		return nil
	}

	t, err := tags.NewTags(metadata, false)
	if err != nil {
		return objectstore.WrapError(objectstore.KindValidation, err)
	}
	if err := b.client.SetBucketTagging(ctx, name, t); err != nil {
		return classify(fmt.Errorf("failed to set bucket tags: %w", err))
	}
	return nil
}

// GetContainerMetadata reads the bucket tags
func (b *Backend) GetContainerMetadata(ctx context.Context, name string) (map[string]string, error) {
	t, err := b.client.GetBucketTagging(ctx, name)
	if err != nil {
		if errorResponse(err).Code == "NoSuchTagSet" {
			return map[string]string{}, nil
		}
		return nil, classify(fmt.Errorf("failed to get bucket tags: %w", err))
	}
	if t == nil {
		return map[string]string{}, nil
	}
	return t.ToMap(), nil
}

// PutObject uploads with unknown size; the SDK switches to multipart as needed
func (b *Backend) PutObject(ctx context.Context, container, name string, reader io.Reader) (*objectstore.ObjectEntry, error) {
	info, err := b.client.PutObject(ctx, container, name, reader, -1, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return nil, classify(fmt.Errorf("failed to upload object: %w", err))
	}

	modified := info.LastModified
	if modified.IsZero() {
		modified = time.Now()
	}
	return &objectstore.ObjectEntry{
		Container:    container,
		Name:         name,
		Size:         info.Size,
		LastModified: modified.UTC(),
	}, nil
}

// ListObjects reads one page from the SDK listing, which paginates on its own
func (b *Backend) ListObjects(ctx context.Context, container string, opts objectstore.ListOptions) (*objectstore.ObjectPage, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	listOpts := minio.ListObjectsOptions{Recursive: true, StartAfter: opts.Marker}
	if opts.Limit > 0 {
		listOpts.MaxKeys = opts.Limit + 1
	}

	page := &objectstore.ObjectPage{Entries: []objectstore.ObjectEntry{}}
	for obj := range b.client.ListObjects(ctx, container, listOpts) {
		if obj.Err != nil {
			return nil, classify(fmt.Errorf("failed to list objects: %w", obj.Err))
		}
		if opts.Limit > 0 && len(page.Entries) == opts.Limit {
			page.NextMarker = page.Entries[len(page.Entries)-1].Name
			break
		}
		page.Entries = append(page.Entries, objectstore.ObjectEntry{
			Container:    container,
			Name:         obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified.UTC(),
		})
	}
	return page, nil
}

// GetObject stats the object, then opens it
func (b *Backend) GetObject(ctx context.Context, container, name string) (io.ReadCloser, *objectstore.ObjectEntry, error) {
	info, err := b.client.StatObject(ctx, container, name, minio.StatObjectOptions{})
	if err != nil {
		return nil, nil, classify(fmt.Errorf("failed to stat object: %w", err))
	}

	rc, err := b.client.GetObject(ctx, container, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, classify(fmt.Errorf("failed to get object: %w", err))
	}

	return rc, &objectstore.ObjectEntry{
		Container:    container,
		Name:         name,
		Size:         info.Size,
		LastModified: info.LastModified.UTC(),
	}, nil
}

// DeleteObject removes one object; removal is idempotent, so it stats first
func (b *Backend) DeleteObject(ctx context.Context, container, name string) error {
	if _, err := b.client.StatObject(ctx, container, name, minio.StatObjectOptions{}); err != nil {
		return classify(fmt.Errorf("failed to stat object: %w", err))
	}
	if err := b.client.RemoveObject(ctx, container, name, minio.RemoveObjectOptions{}); err != nil {
		return classify(fmt.Errorf("failed to delete object: %w", err))
	}
	return nil
}

// DeleteContainer removes every object, then the bucket
func (b *Backend) DeleteContainer(ctx context.Context, name string) error {
	if err := b.ensureBucket(ctx, name); err != nil {
		return err
	}

	objectsCh := b.client.ListObjects(ctx, name, minio.ListObjectsOptions{Recursive: true})
	var removeErr error
	for rerr := range b.client.RemoveObjects(ctx, name, objectsCh, minio.RemoveObjectsOptions{}) {
		if removeErr == nil {
			removeErr = fmt.Errorf("failed to remove %s: %w", rerr.ObjectName, rerr.Err)
		}
	}
	if removeErr != nil {
		return classify(removeErr)
	}

	if err := b.client.RemoveBucket(ctx, name); err != nil {
		return classify(fmt.Errorf("failed to delete bucket: %w", err))
	}
	return nil
}

package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"golang.org/x/sync/errgroup"

	"github.com/tendant/simple-objectstore/pkg/objectstore"
)

const (
	allUsersURI = "http://acs.amazonaws.com/groups/global/AllUsers"

	// maxDeleteBatch is the S3 limit of keys per DeleteObjects call
	maxDeleteBatch = 1000
)

// Config options for the S3 backend
type Config struct {
	Region          string // AWS region
	AccessKeyID     string // AWS access key ID
	SecretAccessKey string // AWS secret access key
	Endpoint        string // Optional custom endpoint for S3-compatible services
	UsePathStyle    bool   // Use path-style addressing (default: false)

	// DeleteConcurrency bounds parallel DeleteObjects calls when a bucket is
	// emptied (default: 4)
	DeleteConcurrency int
}

// Backend maps containers to S3 buckets. Metadata is kept as bucket tags and
// the public access level as the bucket ACL.
type Backend struct {
	client            *s3.Client
	uploader          *manager.Uploader
	region            string
	deleteConcurrency int
}

// New creates a new S3-compatible storage backend
func New(config Config) (*Backend, error) {
	if config.Region == "" {
		config.Region = "us-east-1"
	}
	if config.DeleteConcurrency <= 0 {
		config.DeleteConcurrency = 4
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(config.Region)}
	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			config.AccessKeyID,
			config.SecretAccessKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Options []func(*s3.Options)
	if config.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = config.UsePathStyle
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Options...)
	return &Backend{
		client:            client,
		uploader:          manager.NewUploader(client),
		region:            config.Region,
		deleteConcurrency: config.DeleteConcurrency,
	}, nil
}

// classify maps SDK errors onto the error taxonomy
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return objectstore.WrapError(objectstore.KindTransient, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket", "NoSuchKey", "NotFound":
			return objectstore.WrapError(objectstore.KindNotFound, err)
		case "BucketAlreadyExists", "BucketAlreadyOwnedByYou":
			return objectstore.WrapError(objectstore.KindConflict, err)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken",
			"InvalidToken", "Forbidden", "AllAccessDisabled", "AccessControlListNotSupported":
			return objectstore.WrapError(objectstore.KindAuth, err)
		case "InvalidBucketName", "KeyTooLongError", "InvalidArgument", "InvalidTag",
			"MalformedXML", "InvalidRequest":
			return objectstore.WrapError(objectstore.KindValidation, err)
		}
	}

	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return objectstore.WrapError(objectstore.KindNotFound, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return objectstore.WrapError(objectstore.KindAuth, err)
		case http.StatusConflict:
			return objectstore.WrapError(objectstore.KindConflict, err)
		case http.StatusBadRequest:
			return objectstore.WrapError(objectstore.KindValidation, err)
		}
	}

	return objectstore.WrapError(objectstore.KindTransient, err)
}

func isNoSuchTagSet(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchTagSet"
}

func (b *Backend) bucketExists(ctx context.Context, name string) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(name)})
	if err != nil {
		return classify(fmt.Errorf("failed to check bucket %s: %w", name, err))
	}
	return nil
}

// CreateContainer creates a bucket. A bucket that already exists is a
// conflict, including one owned by the caller.
func (b *Backend) CreateContainer(ctx context.Context, name string) (*objectstore.Container, error) {
	if err := b.bucketExists(ctx, name); err == nil {
		return nil, objectstore.NewError(objectstore.KindConflict, "bucket %s already exists", name)
	} else if !objectstore.IsNotFound(err) {
		return nil, err
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(name)}
	if b.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(b.region),
		}
	}

	if _, err := b.client.CreateBucket(ctx, input); err != nil {
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

// creationDate looks the bucket up in the bucket listing
func (b *Backend) creationDate(ctx context.Context, name string) (time.Time, error) {
	paginator := s3.NewListBucketsPaginator(b.client, &s3.ListBucketsInput{Prefix: aws.String(name)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return time.Time{}, classify(fmt.Errorf("failed to list buckets: %w", err))
		}
		for _, bucket := range page.Buckets {
			if aws.ToString(bucket.Name) == name {
				return aws.ToTime(bucket.CreationDate).UTC(), nil
			}
		}
	}
	return time.Time{}, objectstore.NewError(objectstore.KindNotFound, "bucket %s not found", name)
}

// publicAccess derives the access level from the bucket ACL
func (b *Backend) publicAccess(ctx context.Context, name string) (objectstore.PublicAccess, error) {
	acl, err := b.client.GetBucketAcl(ctx, &s3.GetBucketAclInput{Bucket: aws.String(name)})
	if err != nil {
		return "", classify(fmt.Errorf("failed to get bucket ACL: %w", err))
	}
	for _, grant := range acl.Grants {
		if grant.Grantee == nil || aws.ToString(grant.Grantee.URI) != allUsersURI {
			continue
		}
		if grant.Permission == types.PermissionRead || grant.Permission == types.PermissionFullControl {
			return objectstore.PublicAccessContainer, nil
		}
	}
	return objectstore.PublicAccessNone, nil
}

// GetContainerProperties reads the ACL and the creation date of a bucket.
// S3 keeps no modification time for buckets, so the creation date is used.
func (b *Backend) GetContainerProperties(ctx context.Context, name string) (*objectstore.ContainerProperties, error) {
	if err := b.bucketExists(ctx, name); err != nil {
		return nil, err
	}

	access, err := b.publicAccess(ctx, name)
	if err != nil {
		return nil, err
	}

	createdAt, err := b.creationDate(ctx, name)
	if err != nil {
		return nil, err
	}

	return &objectstore.ContainerProperties{
		PublicAccess: access,
		LastModified: createdAt,
		CreatedAt:    createdAt,
	}, nil
}

// SetPublicAccess applies a canned bucket ACL. S3 has no canned ACL for
// anonymous object reads without listing, so blob is rejected.
func (b *Backend) SetPublicAccess(ctx context.Context, name string, access objectstore.PublicAccess) error {
	var acl types.BucketCannedACL
	switch access {
	case objectstore.PublicAccessNone:
		acl = types.BucketCannedACLPrivate
	case objectstore.PublicAccessContainer:
		acl = types.BucketCannedACLPublicRead
	default:
		return objectstore.NewError(objectstore.KindValidation, "public access level %s is not supported by S3", access)
	}

	_, err := b.client.PutBucketAcl(ctx, &s3.PutBucketAclInput{
		Bucket: aws.String(name),
		ACL:    acl,
	})
	if err != nil {
		return classify(fmt.Errorf("failed to set bucket ACL: %w", err))
	}
	return nil
}

// SetContainerMetadata replaces the bucket tag set
func (b *Backend) SetContainerMetadata(ctx context.Context, name string, metadata map[string]string) error {
	if len(metadata) == 0 {
		if err := b.bucketExists(ctx, name); err != nil {
			return err
		}
		_, err := b.client.DeleteBucketTagging(ctx, &s3.DeleteBucketTaggingInput{Bucket: aws.String(name)})
		if err != nil {
			return classify(fmt.Errorf("failed to clear bucket tags: %w", err))
		}
		return nil
	}

	tagSet := make([]types.Tag, 0, len(metadata))
	for k, v := range metadata {
		tagSet = append(tagSet, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}

	_, err := b.client.PutBucketTagging(ctx, &s3.PutBucketTaggingInput{
		Bucket:  aws.String(name),
		Tagging: &types.Tagging{TagSet: tagSet},
	})
	if err != nil {
		return classify(fmt.Errorf("failed to set bucket tags: %w", err))
	}
	return nil
}

// GetContainerMetadata reads the bucket tag set
func (b *Backend) GetContainerMetadata(ctx context.Context, name string) (map[string]string, error) {
	out, err := b.client.GetBucketTagging(ctx, &s3.GetBucketTaggingInput{Bucket: aws.String(name)})
	if err != nil {
		if isNoSuchTagSet(err) {
			return map[string]string{}, nil
		}
		return nil, classify(fmt.Errorf("failed to get bucket tags: %w", err))
	}

	md := make(map[string]string, len(out.TagSet))
	for _, tag := range out.TagSet {
		md[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return md, nil
}

// PutObject streams reader through the multipart upload manager. Parts of a
// failed upload are aborted, so nothing becomes visible.
func (b *Backend) PutObject(ctx context.Context, container, name string, reader io.Reader) (*objectstore.ObjectEntry, error) {
	counter := &objectstore.CountingReader{R: reader}
	_, err := b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(container),
		Key:         aws.String(name),
		Body:        counter,
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return nil, classify(fmt.Errorf("failed to upload to S3: %w", err))
	}

	return &objectstore.ObjectEntry{
		Container:    container,
		Name:         name,
		Size:         counter.N,
		LastModified: time.Now().UTC(),
	}, nil
}

// ListObjects returns one page starting after opts.Marker
func (b *Backend) ListObjects(ctx context.Context, container string, opts objectstore.ListOptions) (*objectstore.ObjectPage, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(container)}
	if opts.Marker != "" {
		input.StartAfter = aws.String(opts.Marker)
	}
	if opts.Limit > 0 {
		input.MaxKeys = aws.Int32(int32(min(opts.Limit, maxDeleteBatch)))
	}

	out, err := b.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list objects: %w", err))
	}

	page := &objectstore.ObjectPage{Entries: make([]objectstore.ObjectEntry, 0, len(out.Contents))}
	for _, obj := range out.Contents {
		page.Entries = append(page.Entries, objectstore.ObjectEntry{
			Container:    container,
			Name:         aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			LastModified: aws.ToTime(obj.LastModified).UTC(),
		})
	}
	if aws.ToBool(out.IsTruncated) && len(page.Entries) > 0 {
		page.NextMarker = page.Entries[len(page.Entries)-1].Name
	}
	return page, nil
}

// GetObject opens the object body
func (b *Backend) GetObject(ctx context.Context, container, name string) (io.ReadCloser, *objectstore.ObjectEntry, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(name),
	})
	if err != nil {
		return nil, nil, classify(fmt.Errorf("failed to download from S3: %w", err))
	}

	return out.Body, &objectstore.ObjectEntry{
		Container:    container,
		Name:         name,
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified).UTC(),
	}, nil
}

// DeleteObject removes one object. S3 deletes are idempotent, so existence is
// checked first to report NotFound.
func (b *Backend) DeleteObject(ctx context.Context, container, name string) error {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(name),
	})
	if err != nil {
		return classify(fmt.Errorf("failed to get object metadata: %w", err))
	}

	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(name),
	})
	if err != nil {
		return classify(fmt.Errorf("failed to delete object: %w", err))
	}
	return nil
}

// DeleteContainer empties the bucket with concurrent DeleteObjects batches and
// then deletes it.
func (b *Backend) DeleteContainer(ctx context.Context, name string) error {
	if err := b.bucketExists(ctx, name); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.deleteConcurrency)

	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket:  aws.String(name),
		MaxKeys: aws.Int32(maxDeleteBatch),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(gctx)
		if err != nil {
			g.Wait()
			return classify(fmt.Errorf("failed to list objects: %w", err))
		}
		if len(page.Contents) == 0 {
			continue
		}

		ids := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
		}
		g.Go(func() error {
			return b.deleteBatch(gctx, name, ids)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if _, err := b.client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(name)}); err != nil {
		return classify(fmt.Errorf("failed to delete bucket: %w", err))
	}
	return nil
}

func (b *Backend) deleteBatch(ctx context.Context, bucket string, ids []types.ObjectIdentifier) error {
	out, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(bucket),
		Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return classify(fmt.Errorf("failed to delete objects: %w", err))
	}
	if len(out.Errors) > 0 {
		first := out.Errors[0]
		return objectstore.NewError(objectstore.KindTransient, "failed to delete %d objects, first %s: %s",
			len(out.Errors), aws.ToString(first.Key), aws.ToString(first.Message))
	}
	return nil
}

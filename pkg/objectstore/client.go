package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"path"
	"reflect"
)

// DefaultPageSize is the number of entries requested per listing page.
const DefaultPageSize = 100

// Client is the façade over a Backend. It validates names, owns the streams
// handed to it, hides pagination and reports every failure as an *Error.
// It holds no mutable state and is safe for concurrent use.
type Client struct {
	backend     Backend
	backendName string
	logger      *slog.Logger
	pageSize    int
	retry       RetryPolicy
}

// Option represents a functional option for configuring the client
type Option func(*Client)

// WithLogger sets the logger used for operation logging
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithBackendName sets the backend name reported in errors and logs
func WithBackendName(name string) Option {
	return func(c *Client) {
		c.backendName = name
	}
}

// WithPageSize sets the number of entries requested per listing page
func WithPageSize(size int) Option {
	return func(c *Client) {
		if size > 0 {
			c.pageSize = size
		}
	}
}

// WithRetryPolicy enables retries of idempotent operations on transient errors
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) {
		c.retry = policy
	}
}

// New creates a new client over backend
func New(backend Backend, options ...Option) (*Client, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}

	c := &Client{
		backend:     backend,
		backendName: defaultBackendName(backend),
		logger:      slog.Default(),
		pageSize:    DefaultPageSize,
	}
	for _, option := range options {
		option(c)
	}

	return c, nil
}

// defaultBackendName prefers a Name method, then the backend's package name
// ("memory", "fs", "s3" ...).
func defaultBackendName(backend Backend) string {
	if named, ok := backend.(interface{ Name() string }); ok && named.Name() != "" {
		return named.Name()
	}
	t := reflect.TypeOf(backend)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return t.String()
	}
	return path.Base(t.PkgPath())
}

// Backend returns the underlying backend
func (c *Client) Backend() Backend {
	return c.backend
}

// BackendName returns the name reported in errors and logs
func (c *Client) BackendName() string {
	return c.backendName
}

func (c *Client) fail(op, container, object string, err error) error {
	if err == nil {
		return nil
	}
	var oe *Error
	if errors.As(err, &oe) {
		return err
	}

	e := &Error{
		Kind:      KindOf(err),
		Op:        op,
		Backend:   c.backendName,
		Container: container,
		Object:    object,
		Err:       err,
	}
	c.logger.Warn("Object store operation failed",
		"op", op,
		"backend", c.backendName,
		"container", container,
		"object", object,
		"kind", e.Kind,
		"error", err)
	return e
}

// Container operations

// CreateContainer creates a uniquely named container. A name collision fails
// with ErrConflict.
func (c *Client) CreateContainer(ctx context.Context, name string) (*Container, error) {
	if err := ValidateContainerName(name); err != nil {
		return nil, c.fail("create_container", name, "", err)
	}

	container, err := c.backend.CreateContainer(ctx, name)
	if err != nil {
		return nil, c.fail("create_container", name, "", err)
	}
	if container.PublicAccess == "" {
		container.PublicAccess = PublicAccessNone
	}
	if container.Metadata == nil {
		container.Metadata = map[string]string{}
	}

	c.logger.Info("Container created", "backend", c.backendName, "container", name)
	return container, nil
}

// CreateScopedContainer creates a container and registers its deletion with scope.
func (c *Client) CreateScopedContainer(ctx context.Context, scope *Scope, name string) (*Container, error) {
	container, err := c.CreateContainer(ctx, name)
	if err != nil {
		return nil, err
	}
	scope.Defer("delete container "+name, func(ctx context.Context) error {
		return c.DeleteContainer(ctx, name)
	})
	return container, nil
}

// GetProperties returns the public access level and timestamps of a container.
func (c *Client) GetProperties(ctx context.Context, name string) (*ContainerProperties, error) {
	if err := ValidateContainerName(name); err != nil {
		return nil, c.fail("get_properties", name, "", err)
	}

	var props *ContainerProperties
	err := c.retry.do(ctx, c.logger, "get_properties", func(ctx context.Context) error {
		var err error
		props, err = c.backend.GetContainerProperties(ctx, name)
		return err
	})
	if err != nil {
		return nil, c.fail("get_properties", name, "", err)
	}
	if props.PublicAccess == "" {
		props.PublicAccess = PublicAccessNone
	}

	return props, nil
}

// SetMetadata replaces the entire metadata map of a container. Keys absent
// from metadata are removed.
func (c *Client) SetMetadata(ctx context.Context, name string, metadata map[string]string) error {
	if err := ValidateContainerName(name); err != nil {
		return c.fail("set_metadata", name, "", err)
	}
	if err := ValidateMetadata(metadata); err != nil {
		return c.fail("set_metadata", name, "", err)
	}

	md := CloneMetadata(metadata)
	err := c.retry.do(ctx, c.logger, "set_metadata", func(ctx context.Context) error {
		return c.backend.SetContainerMetadata(ctx, name, md)
	})
	if err != nil {
		return c.fail("set_metadata", name, "", err)
	}

	c.logger.Debug("Container metadata set", "container", name, "keys", len(md))
	return nil
}

// GetMetadata returns the current metadata of a container. The map is never nil.
func (c *Client) GetMetadata(ctx context.Context, name string) (map[string]string, error) {
	if err := ValidateContainerName(name); err != nil {
		return nil, c.fail("get_metadata", name, "", err)
	}

	var md map[string]string
	err := c.retry.do(ctx, c.logger, "get_metadata", func(ctx context.Context) error {
		var err error
		md, err = c.backend.GetContainerMetadata(ctx, name)
		return err
	})
	if err != nil {
		return nil, c.fail("get_metadata", name, "", err)
	}

	return CloneMetadata(md), nil
}

// SetPublicAccess changes the anonymous access level of a container. Backends
// that cannot control access fail with ErrValidation.
func (c *Client) SetPublicAccess(ctx context.Context, name string, access PublicAccess) error {
	if err := ValidateContainerName(name); err != nil {
		return c.fail("set_public_access", name, "", err)
	}
	level, err := ParsePublicAccess(string(access))
	if err != nil {
		return c.fail("set_public_access", name, "", err)
	}
	ac, ok := c.backend.(AccessController)
	if !ok {
		return c.fail("set_public_access", name, "", NewError(KindValidation, "backend %s does not support public access levels", c.backendName))
	}

	err = c.retry.do(ctx, c.logger, "set_public_access", func(ctx context.Context) error {
		return ac.SetPublicAccess(ctx, name, level)
	})
	if err != nil {
		return c.fail("set_public_access", name, "", err)
	}
	return nil
}

// DeleteContainer deletes a container and every object in it. Deleting a
// missing container fails with ErrNotFound; cleanup code should treat that as done.
func (c *Client) DeleteContainer(ctx context.Context, name string) error {
	if err := ValidateContainerName(name); err != nil {
		return c.fail("delete_container", name, "", err)
	}

	if err := c.backend.DeleteContainer(ctx, name); err != nil {
		return c.fail("delete_container", name, "", err)
	}

	c.logger.Info("Container deleted", "backend", c.backendName, "container", name)
	return nil
}

// Object operations

// UploadObject streams src into container under name, overwriting any existing
// object. src is closed on every return path. A failed or cancelled upload
// leaves no partial object; the caller retries from the start.
func (c *Client) UploadObject(ctx context.Context, container, name string, src io.ReadCloser) (*ObjectEntry, error) {
	if src == nil {
		return nil, c.fail("upload", container, name, NewError(KindValidation, "source stream is required"))
	}
	defer func() {
		if err := src.Close(); err != nil {
			c.logger.Warn("Failed to close upload source", "container", container, "object", name, "error", err)
		}
	}()

	if err := ValidateContainerName(container); err != nil {
		return nil, c.fail("upload", container, name, err)
	}
	if err := ValidateObjectName(name); err != nil {
		return nil, c.fail("upload", container, name, err)
	}

	entry, err := c.backend.PutObject(ctx, container, name, NewContextReader(ctx, src))
	if err != nil {
		return nil, c.fail("upload", container, name, err)
	}

	c.logger.Debug("Object uploaded", "container", container, "object", name, "size", entry.Size)
	return entry, nil
}

// DownloadObject streams an object into dst. dst is closed on every return
// path; a failure to close it is reported since buffered data may be lost.
func (c *Client) DownloadObject(ctx context.Context, container, name string, dst io.WriteCloser) (entry *ObjectEntry, err error) {
	if dst == nil {
		return nil, c.fail("download", container, name, NewError(KindValidation, "destination sink is required"))
	}
	defer func() {
		if cerr := dst.Close(); cerr != nil && err == nil {
			entry = nil
			err = c.fail("download", container, name, fmt.Errorf("close destination: %w", cerr))
		}
	}()

	if err := ValidateContainerName(container); err != nil {
		return nil, c.fail("download", container, name, err)
	}
	if err := ValidateObjectName(name); err != nil {
		return nil, c.fail("download", container, name, err)
	}

	rc, entry, err := c.backend.GetObject(ctx, container, name)
	if err != nil {
		return nil, c.fail("download", container, name, err)
	}
	defer rc.Close()

	n, err := io.Copy(dst, NewContextReader(ctx, rc))
	if err != nil {
		return nil, c.fail("download", container, name, fmt.Errorf("copy object: %w", err))
	}
	if entry == nil {
		entry = &ObjectEntry{Container: container, Name: name}
	}
	if entry.Size > 0 && n != entry.Size {
		return nil, c.fail("download", container, name, NewError(KindTransient, "short read: got %d of %d bytes", n, entry.Size))
	}
	entry.Size = n

	c.logger.Debug("Object downloaded", "container", container, "object", name, "size", n)
	return entry, nil
}

// DeleteObject removes a single object.
func (c *Client) DeleteObject(ctx context.Context, container, name string) error {
	if err := ValidateContainerName(container); err != nil {
		return c.fail("delete_object", container, name, err)
	}
	if err := ValidateObjectName(name); err != nil {
		return c.fail("delete_object", container, name, err)
	}

	if err := c.backend.DeleteObject(ctx, container, name); err != nil {
		return c.fail("delete_object", container, name, err)
	}
	return nil
}

// ListObjects returns a lazy, restartable enumeration of the objects in a
// container. Pages are fetched on demand; every yielded entry is complete.
// On failure a single error is yielded and the enumeration stops.
func (c *Client) ListObjects(ctx context.Context, container string) iter.Seq2[ObjectEntry, error] {
	return func(yield func(ObjectEntry, error) bool) {
		marker := ""
		for {
			page, err := c.ListPage(ctx, container, ListOptions{Marker: marker})
			if err != nil {
				yield(ObjectEntry{}, err)
				return
			}

			for _, entry := range page.Entries {
				if !yield(entry, nil) {
					return
				}
			}

			if page.NextMarker == "" {
				return
			}
			if page.NextMarker == marker {
				yield(ObjectEntry{}, c.fail("list", container, "", NewError(KindTransient, "listing did not advance past %q", marker)))
				return
			}
			marker = page.NextMarker
		}
	}
}

// ListPage returns a single listing page. A non-positive limit uses the client
// page size.
func (c *Client) ListPage(ctx context.Context, container string, opts ListOptions) (*ObjectPage, error) {
	if err := ValidateContainerName(container); err != nil {
		return nil, c.fail("list", container, "", err)
	}
	if opts.Limit <= 0 {
		opts.Limit = c.pageSize
	}

	var page *ObjectPage
	err := c.retry.do(ctx, c.logger, "list", func(ctx context.Context) error {
		var err error
		page, err = c.backend.ListObjects(ctx, container, opts)
		return err
	})
	if err != nil {
		return nil, c.fail("list", container, "", err)
	}
	if page.Entries == nil {
		page.Entries = []ObjectEntry{}
	}
	return page, nil
}

// ListObjectNames collects the names of all objects in a container.
func (c *Client) ListObjectNames(ctx context.Context, container string) ([]string, error) {
	names := []string{}
	for entry, err := range c.ListObjects(ctx, container) {
		if err != nil {
			return nil, err
		}
		names = append(names, entry.Name)
	}
	return names, nil
}

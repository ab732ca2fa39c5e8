package objectstore

import (
	"context"
	"io"
)

// Backend defines the capability set a storage backend must provide.
//
// Implementations must be safe for concurrent use and report failures by
// wrapping one of the package sentinels (ErrNotFound, ErrConflict, ...);
// anything else is treated as transient by the Client.
type Backend interface {
	// CreateContainer creates a new, empty container with no metadata
	CreateContainer(ctx context.Context, name string) (*Container, error)

	// GetContainerProperties returns access level and timestamps of a container
	GetContainerProperties(ctx context.Context, name string) (*ContainerProperties, error)

	// SetContainerMetadata replaces the whole metadata map of a container
	SetContainerMetadata(ctx context.Context, name string, metadata map[string]string) error

	// GetContainerMetadata returns the metadata map of a container
	GetContainerMetadata(ctx context.Context, name string) (map[string]string, error)

	// PutObject stores the reader's content under name, overwriting any existing
	// object. The object must not become visible unless the reader was fully
	// consumed.
	PutObject(ctx context.Context, container, name string, reader io.Reader) (*ObjectEntry, error)

	// ListObjects returns one page of entries ordered by name
	ListObjects(ctx context.Context, container string, opts ListOptions) (*ObjectPage, error)

	// GetObject opens an object for reading. The caller closes the reader.
	GetObject(ctx context.Context, container, name string) (io.ReadCloser, *ObjectEntry, error)

	// DeleteObject removes a single object
	DeleteObject(ctx context.Context, container, name string) error

	// DeleteContainer removes a container and every object in it
	DeleteContainer(ctx context.Context, name string) error
}

// AccessController is implemented by backends that can change the anonymous
// access level of a container.
type AccessController interface {
	SetPublicAccess(ctx context.Context, name string, access PublicAccess) error
}

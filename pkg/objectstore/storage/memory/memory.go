package memory

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/tendant/simple-objectstore/pkg/objectstore"
)

type object struct {
	data     []byte
	modified time.Time
}

type container struct {
	createdAt    time.Time
	modifiedAt   time.Time
	publicAccess objectstore.PublicAccess
	metadata     map[string]string
	objects      map[string]*object
}

// Backend is an in-memory implementation of the objectstore.Backend interface
type Backend struct {
	mu         sync.RWMutex
	containers map[string]*container
	now        func() time.Time
}

// New creates a new in-memory storage backend
func New() *Backend {
	return &Backend{
		containers: make(map[string]*container),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func notFound(name string) error {
	return objectstore.NewError(objectstore.KindNotFound, "container %s not found", name)
}

// CreateContainer creates an empty container
func (b *Backend) CreateContainer(ctx context.Context, name string) (*objectstore.Container, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.containers[name]; exists {
		return nil, objectstore.NewError(objectstore.KindConflict, "container %s already exists", name)
	}

	now := b.now()
	b.containers[name] = &container{
		createdAt:    now,
		modifiedAt:   now,
		publicAccess: objectstore.PublicAccessNone,
		metadata:     map[string]string{},
		objects:      make(map[string]*object),
	}

	return &objectstore.Container{
		Name:         name,
		CreatedAt:    now,
		PublicAccess: objectstore.PublicAccessNone,
		Metadata:     map[string]string{},
	}, nil
}

// GetContainerProperties returns the container properties
func (b *Backend) GetContainerProperties(ctx context.Context, name string) (*objectstore.ContainerProperties, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	c, exists := b.containers[name]
	if !exists {
		return nil, notFound(name)
	}

	return &objectstore.ContainerProperties{
		PublicAccess: c.publicAccess,
		LastModified: c.modifiedAt,
		CreatedAt:    c.createdAt,
	}, nil
}

// SetContainerMetadata replaces the container metadata
func (b *Backend) SetContainerMetadata(ctx context.Context, name string, metadata map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, exists := b.containers[name]
	if !exists {
		return notFound(name)
	}

	c.metadata = objectstore.CloneMetadata(metadata)
	c.modifiedAt = b.now()
	return nil
}

// GetContainerMetadata returns a copy of the container metadata
func (b *Backend) GetContainerMetadata(ctx context.Context, name string) (map[string]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	c, exists := b.containers[name]
	if !exists {
		return nil, notFound(name)
	}

	return objectstore.CloneMetadata(c.metadata), nil
}

// PutObject reads the whole payload before taking the lock, so a failed or
// cancelled read never publishes anything.
func (b *Backend) PutObject(ctx context.Context, containerName, name string, reader io.Reader) (*objectstore.ObjectEntry, error) {
	b.mu.RLock()
	_, exists := b.containers[containerName]
	b.mu.RUnlock()
	if !exists {
		return nil, notFound(containerName)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	c, exists := b.containers[containerName]
	if !exists {
		return nil, notFound(containerName)
	}

	now := b.now()
	c.objects[name] = &object{data: data, modified: now}

	return &objectstore.ObjectEntry{
		Container:    containerName,
		Name:         name,
		Size:         int64(len(data)),
		LastModified: now,
	}, nil
}

// ListObjects returns one page of objects ordered by name
func (b *Backend) ListObjects(ctx context.Context, containerName string, opts objectstore.ListOptions) (*objectstore.ObjectPage, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	c, exists := b.containers[containerName]
	if !exists {
		return nil, notFound(containerName)
	}

	names := make([]string, 0, len(c.objects))
	for name := range c.objects {
		if name > opts.Marker {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	page := &objectstore.ObjectPage{Entries: []objectstore.ObjectEntry{}}
	if opts.Limit > 0 && len(names) > opts.Limit {
		names = names[:opts.Limit]
		page.NextMarker = names[len(names)-1]
	}
	for _, name := range names {
		obj := c.objects[name]
		page.Entries = append(page.Entries, objectstore.ObjectEntry{
			Container:    containerName,
			Name:         name,
			Size:         int64(len(obj.data)),
			LastModified: obj.modified,
		})
	}

	return page, nil
}

// GetObject returns a reader over a snapshot of the object
func (b *Backend) GetObject(ctx context.Context, containerName, name string) (io.ReadCloser, *objectstore.ObjectEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	c, exists := b.containers[containerName]
	if !exists {
		return nil, nil, notFound(containerName)
	}
	obj, exists := c.objects[name]
	if !exists {
		return nil, nil, objectstore.NewError(objectstore.KindNotFound, "object %s not found in container %s", name, containerName)
	}

	entry := &objectstore.ObjectEntry{
		Container:    containerName,
		Name:         name,
		Size:         int64(len(obj.data)),
		LastModified: obj.modified,
	}
	return io.NopCloser(bytes.NewReader(obj.data)), entry, nil
}

// DeleteObject removes one object
func (b *Backend) DeleteObject(ctx context.Context, containerName, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, exists := b.containers[containerName]
	if !exists {
		return notFound(containerName)
	}
	if _, exists := c.objects[name]; !exists {
		return objectstore.NewError(objectstore.KindNotFound, "object %s not found in container %s", name, containerName)
	}

	delete(c.objects, name)
	return nil
}

// DeleteContainer removes a container with all its objects
func (b *Backend) DeleteContainer(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.containers[name]; !exists {
		return notFound(name)
	}

	delete(b.containers, name)
	return nil
}

// SetPublicAccess changes the anonymous access level of a container
func (b *Backend) SetPublicAccess(ctx context.Context, name string, access objectstore.PublicAccess) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, exists := b.containers[name]
	if !exists {
		return notFound(name)
	}
	c.publicAccess = access
	c.modifiedAt = b.now()
	return nil
}

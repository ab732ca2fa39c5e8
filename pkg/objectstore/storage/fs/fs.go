package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/tendant/simple-objectstore/pkg/objectstore"
)

const (
	sidecarName = "container.json"
	objectsDir  = "objects"
	tmpDir      = "tmp"
	trashDir    = ".trash"
)

// Backend is a filesystem implementation of the objectstore.Backend interface.
//
// Layout:
//
//	<base>/<container>/container.json   properties and metadata
//	<base>/<container>/objects/<file>   object payloads, one flat file per object
//	<base>/<container>/tmp/             in-flight uploads
//
// Object files are named by the path-escaped object name, so "a" and "a/b"
// live side by side. A name whose escaped form exceeds the filesystem's
// file name limit is rejected as a validation error.
type Backend struct {
	mu      sync.RWMutex
	baseDir string
}

// Config options for the filesystem backend
type Config struct {
	BaseDir string // Base directory for storing containers
}

type containerFile struct {
	CreatedAt    time.Time                `json:"created_at"`
	ModifiedAt   time.Time                `json:"modified_at"`
	PublicAccess objectstore.PublicAccess `json:"public_access"`
	Metadata     map[string]string        `json:"metadata"`
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}

	if err := os.MkdirAll(config.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Backend{baseDir: filepath.Clean(config.BaseDir)}, nil
}

// BaseDir returns the root directory of the backend
func (b *Backend) BaseDir() string {
	return b.baseDir
}

func (b *Backend) containerDir(name string) string {
	return filepath.Join(b.baseDir, name)
}

func (b *Backend) objectsRoot(container string) string {
	return filepath.Join(b.baseDir, container, objectsDir)
}

func (b *Backend) objectPath(container, name string) string {
	return filepath.Join(b.objectsRoot(container), encodeName(name))
}

// encodeName maps an object name to a single file name. url.PathEscape
// escapes '/' and '%', so the mapping is reversible.
func encodeName(name string) string {
	return url.PathEscape(name)
}

func decodeName(file string) (string, bool) {
	name, err := url.PathUnescape(file)
	if err != nil || encodeName(name) != file {
		return "", false
	}
	return name, true
}

func containerNotFound(name string) error {
	return objectstore.NewError(objectstore.KindNotFound, "container %s not found", name)
}

func objectNotFound(container, name string) error {
	return objectstore.NewError(objectstore.KindNotFound, "object %s not found in container %s", name, container)
}

// classify maps filesystem errors onto the error taxonomy.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrPermission):
		return objectstore.WrapError(objectstore.KindAuth, err)
	case errors.Is(err, syscall.ENOTDIR), errors.Is(err, syscall.EISDIR), errors.Is(err, syscall.ENAMETOOLONG):
		return objectstore.WrapError(objectstore.KindValidation, err)
	default:
		return objectstore.WrapError(objectstore.KindTransient, err)
	}
}

func (b *Backend) readSidecar(name string) (*containerFile, error) {
	data, err := os.ReadFile(filepath.Join(b.containerDir(name), sidecarName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, containerNotFound(name)
	} else if err != nil {
		return nil, classify(fmt.Errorf("failed to read container file: %w", err))
	}

	var cf containerFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, objectstore.WrapError(objectstore.KindTransient, fmt.Errorf("corrupt container file for %s: %w", name, err))
	}
	if cf.Metadata == nil {
		cf.Metadata = map[string]string{}
	}
	return &cf, nil
}

// writeSidecar replaces the container file through a rename so readers never
// see a partially written file.
func (b *Backend) writeSidecar(name string, cf *containerFile) error {
	data, err := json.Marshal(cf)
	if err != nil {
		return fmt.Errorf("failed to encode container file: %w", err)
	}

	dir := b.containerDir(name)
	tmp, err := os.CreateTemp(dir, sidecarName+".*")
	if err != nil {
		return classify(fmt.Errorf("failed to create container file: %w", err))
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return classify(fmt.Errorf("failed to write container file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return classify(fmt.Errorf("failed to write container file: %w", err))
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, sidecarName)); err != nil {
		return classify(fmt.Errorf("failed to replace container file: %w", err))
	}
	return nil
}

func checkContainer(name string) error {
	return objectstore.ValidateContainerName(name)
}

func checkObject(container, name string) error {
	if err := objectstore.ValidateContainerName(container); err != nil {
		return err
	}
	return objectstore.ValidateObjectName(name)
}

// CreateContainer creates the container directory and its container file
func (b *Backend) CreateContainer(ctx context.Context, name string) (*objectstore.Container, error) {
	if err := checkContainer(name); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	dir := b.containerDir(name)
	if err := os.Mkdir(dir, 0755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, objectstore.NewError(objectstore.KindConflict, "container %s already exists", name)
		}
		return nil, classify(fmt.Errorf("failed to create container directory: %w", err))
	}

	for _, sub := range []string{objectsDir, tmpDir} {
		if err := os.Mkdir(filepath.Join(dir, sub), 0755); err != nil {
			os.RemoveAll(dir)
			return nil, classify(fmt.Errorf("failed to create container directory: %w", err))
		}
	}

	now := time.Now().UTC()
	cf := &containerFile{
		CreatedAt:    now,
		ModifiedAt:   now,
		PublicAccess: objectstore.PublicAccessNone,
		Metadata:     map[string]string{},
	}
	if err := b.writeSidecar(name, cf); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	return &objectstore.Container{
		Name:         name,
		CreatedAt:    now,
		PublicAccess: objectstore.PublicAccessNone,
		Metadata:     map[string]string{},
	}, nil
}

// GetContainerProperties reads the container file
func (b *Backend) GetContainerProperties(ctx context.Context, name string) (*objectstore.ContainerProperties, error) {
	if err := checkContainer(name); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	cf, err := b.readSidecar(name)
	if err != nil {
		return nil, err
	}

	return &objectstore.ContainerProperties{
		PublicAccess: cf.PublicAccess,
		LastModified: cf.ModifiedAt,
		CreatedAt:    cf.CreatedAt,
	}, nil
}

func (b *Backend) updateSidecar(name string, update func(cf *containerFile)) error {
	if err := checkContainer(name); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cf, err := b.readSidecar(name)
	if err != nil {
		return err
	}
	update(cf)
	cf.ModifiedAt = time.Now().UTC()
	return b.writeSidecar(name, cf)
}

// SetContainerMetadata replaces the metadata in the container file
func (b *Backend) SetContainerMetadata(ctx context.Context, name string, metadata map[string]string) error {
	return b.updateSidecar(name, func(cf *containerFile) {
		cf.Metadata = objectstore.CloneMetadata(metadata)
	})
}

// SetPublicAccess changes the access level in the container file
func (b *Backend) SetPublicAccess(ctx context.Context, name string, access objectstore.PublicAccess) error {
	return b.updateSidecar(name, func(cf *containerFile) {
		cf.PublicAccess = access
	})
}

// GetContainerMetadata reads the metadata from the container file
func (b *Backend) GetContainerMetadata(ctx context.Context, name string) (map[string]string, error) {
	if err := checkContainer(name); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	cf, err := b.readSidecar(name)
	if err != nil {
		return nil, err
	}
	return cf.Metadata, nil
}

// PutObject streams into a temp file inside the container and renames it into
// place once the reader is exhausted.
func (b *Backend) PutObject(ctx context.Context, container, name string, reader io.Reader) (*objectstore.ObjectEntry, error) {
	if err := checkObject(container, name); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(filepath.Join(b.containerDir(container), tmpDir), "upload-*")
	if errors.Is(err, fs.ErrNotExist) {
		return nil, containerNotFound(container)
	} else if err != nil {
		return nil, classify(fmt.Errorf("failed to create file: %w", err))
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err := io.Copy(tmp, reader); err != nil {
		return nil, classify(fmt.Errorf("failed to write file: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, classify(fmt.Errorf("failed to write file: %w", err))
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if _, err := os.Stat(filepath.Join(b.containerDir(container), sidecarName)); err != nil {
		return nil, containerNotFound(container)
	}

	target := b.objectPath(container, name)
	if err := os.Rename(tmp.Name(), target); err != nil {
		return nil, classify(fmt.Errorf("failed to store object: %w", err))
	}
	committed = true

	info, err := os.Stat(target)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to get file info: %w", err))
	}

	return &objectstore.ObjectEntry{
		Container:    container,
		Name:         name,
		Size:         info.Size(),
		LastModified: info.ModTime().UTC(),
	}, nil
}

// ListObjects reads the objects directory and returns one page ordered by name
func (b *Backend) ListObjects(ctx context.Context, container string, opts objectstore.ListOptions) (*objectstore.ObjectPage, error) {
	if err := checkContainer(container); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if _, err := os.Stat(filepath.Join(b.containerDir(container), sidecarName)); err != nil {
		return nil, containerNotFound(container)
	}

	files, err := os.ReadDir(b.objectsRoot(container))
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list objects: %w", err))
	}

	var entries []objectstore.ObjectEntry
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if file.IsDir() {
			continue
		}
		name, ok := decodeName(file.Name())
		if !ok || name <= opts.Marker {
			continue
		}
		info, err := file.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		} else if err != nil {
			return nil, classify(fmt.Errorf("failed to list objects: %w", err))
		}
		entries = append(entries, objectstore.ObjectEntry{
			Container:    container,
			Name:         name,
			Size:         info.Size(),
			LastModified: info.ModTime().UTC(),
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	page := &objectstore.ObjectPage{Entries: entries}
	if page.Entries == nil {
		page.Entries = []objectstore.ObjectEntry{}
	}
	if opts.Limit > 0 && len(entries) > opts.Limit {
		page.Entries = entries[:opts.Limit]
		page.NextMarker = page.Entries[opts.Limit-1].Name
	}
	return page, nil
}

// GetObject opens the object file for reading
func (b *Backend) GetObject(ctx context.Context, container, name string) (io.ReadCloser, *objectstore.ObjectEntry, error) {
	if err := checkObject(container, name); err != nil {
		return nil, nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if _, err := os.Stat(filepath.Join(b.containerDir(container), sidecarName)); err != nil {
		return nil, nil, containerNotFound(container)
	}

	file, err := os.Open(b.objectPath(container, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, objectNotFound(container, name)
	} else if err != nil {
		return nil, nil, classify(fmt.Errorf("failed to open file: %w", err))
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, classify(fmt.Errorf("failed to get file info: %w", err))
	}
	if info.IsDir() {
		file.Close()
		return nil, nil, objectNotFound(container, name)
	}

	return file, &objectstore.ObjectEntry{
		Container:    container,
		Name:         name,
		Size:         info.Size(),
		LastModified: info.ModTime().UTC(),
	}, nil
}

// DeleteObject removes the object file
func (b *Backend) DeleteObject(ctx context.Context, container, name string) error {
	if err := checkObject(container, name); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := os.Stat(filepath.Join(b.containerDir(container), sidecarName)); err != nil {
		return containerNotFound(container)
	}

	path := b.objectPath(container, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return objectNotFound(container, name)
	}
	if err := os.Remove(path); err != nil {
		return classify(fmt.Errorf("failed to delete file: %w", err))
	}
	return nil
}

// DeleteContainer moves the container out of the namespace, then removes it.
// Once the move has happened the container reads as not found.
func (b *Backend) DeleteContainer(ctx context.Context, name string) error {
	if err := checkContainer(name); err != nil {
		return err
	}

	b.mu.Lock()
	dir := b.containerDir(name)
	if _, err := os.Stat(filepath.Join(dir, sidecarName)); err != nil {
		b.mu.Unlock()
		return containerNotFound(name)
	}

	trash := filepath.Join(b.baseDir, trashDir)
	if err := os.MkdirAll(trash, 0755); err != nil {
		b.mu.Unlock()
		return classify(fmt.Errorf("failed to create trash directory: %w", err))
	}
	tombstone := filepath.Join(trash, fmt.Sprintf("%s-%d", name, time.Now().UnixNano()))
	if err := os.Rename(dir, tombstone); err != nil {
		b.mu.Unlock()
		return classify(fmt.Errorf("failed to delete container: %w", err))
	}
	b.mu.Unlock()

	if err := os.RemoveAll(tombstone); err != nil {
		return classify(fmt.Errorf("failed to remove container data: %w", err))
	}
	return nil
}

// Package postgres stores containers and object payloads in PostgreSQL.
package postgres

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/simple-objectstore/pkg/objectstore"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS objectstore_containers (
		name          TEXT PRIMARY KEY,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		modified_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		public_access TEXT NOT NULL DEFAULT 'none',
		metadata      JSONB NOT NULL DEFAULT '{}'::jsonb
	)`,
	`CREATE TABLE IF NOT EXISTS objectstore_objects (
		container   TEXT NOT NULL REFERENCES objectstore_containers(name) ON DELETE CASCADE,
		name        TEXT COLLATE "C" NOT NULL,
		data        BYTEA NOT NULL,
		size        BIGINT NOT NULL,
		modified_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (container, name)
	)`,
}

// Backend implements objectstore.Backend on two tables. Payloads are stored
// inline as bytea, which suits small objects.
type Backend struct {
	db DBTX
}

// New creates a backend over a connection, pool or transaction
func New(db DBTX) *Backend {
	return &Backend{db: db}
}

// NewWithPool creates a new backend with connection pool
func NewWithPool(pool *pgxpool.Pool) *Backend {
	return &Backend{db: pool}
}

// EnsureSchema creates the tables if they do not exist
func (b *Backend) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := b.db.Exec(ctx, stmt); err != nil {
			return classify("ensure schema", err)
		}
	}
	return nil
}

// classify maps PostgreSQL errors onto the error taxonomy
func classify(operation string, err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505": // unique_violation
			return objectstore.WrapError(objectstore.KindConflict, fmt.Errorf("%s: duplicate entry: %w", operation, err))
		case pgErr.Code == "23503": // foreign_key_violation
			return objectstore.WrapError(objectstore.KindNotFound, fmt.Errorf("%s: referenced container not found: %w", operation, err))
		case strings.HasPrefix(pgErr.Code, "28"): // invalid_authorization_specification
			return objectstore.WrapError(objectstore.KindAuth, fmt.Errorf("%s: %w", operation, err))
		case pgErr.Code == "42501": // insufficient_privilege
			return objectstore.WrapError(objectstore.KindAuth, fmt.Errorf("%s: %w", operation, err))
		case strings.HasPrefix(pgErr.Code, "22"), pgErr.Code == "23502", pgErr.Code == "23514":
			return objectstore.WrapError(objectstore.KindValidation, fmt.Errorf("%s: %w", operation, err))
		case pgErr.Code == "42P01": // undefined_table
			return objectstore.WrapError(objectstore.KindTransient, fmt.Errorf("%s: table does not exist - run EnsureSchema: %w", operation, err))
		}
	}

	return objectstore.WrapError(objectstore.KindTransient, fmt.Errorf("database error in %s: %w", operation, err))
}

func containerNotFound(name string) error {
	return objectstore.NewError(objectstore.KindNotFound, "container %s not found", name)
}

func (b *Backend) containerExists(ctx context.Context, name string) error {
	var exists bool
	err := b.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM objectstore_containers WHERE name = $1)`, name).Scan(&exists)
	if err != nil {
		return classify("check container", err)
	}
	if !exists {
		return containerNotFound(name)
	}
	return nil
}

// CreateContainer inserts a container row
func (b *Backend) CreateContainer(ctx context.Context, name string) (*objectstore.Container, error) {
	var createdAt time.Time
	err := b.db.QueryRow(ctx, `
		INSERT INTO objectstore_containers (name, public_access, metadata)
		VALUES ($1, $2, '{}'::jsonb)
		RETURNING created_at`, name, string(objectstore.PublicAccessNone)).Scan(&createdAt)
	if err != nil {
		return nil, classify("create container", err)
	}

	return &objectstore.Container{
		Name:         name,
		CreatedAt:    createdAt.UTC(),
		PublicAccess: objectstore.PublicAccessNone,
		Metadata:     map[string]string{},
	}, nil
}

// GetContainerProperties reads the container row
func (b *Backend) GetContainerProperties(ctx context.Context, name string) (*objectstore.ContainerProperties, error) {
	var (
		access               string
		createdAt, modified time.Time
	)
	err := b.db.QueryRow(ctx, `
		SELECT public_access, created_at, modified_at
		FROM objectstore_containers WHERE name = $1`, name).Scan(&access, &createdAt, &modified)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, containerNotFound(name)
	} else if err != nil {
		return nil, classify("get container properties", err)
	}

	return &objectstore.ContainerProperties{
		PublicAccess: objectstore.PublicAccess(access),
		LastModified: modified.UTC(),
		CreatedAt:    createdAt.UTC(),
	}, nil
}

func (b *Backend) updateContainer(ctx context.Context, operation, name, column string, value interface{}) error {
	tag, err := b.db.Exec(ctx,
		fmt.Sprintf(`UPDATE objectstore_containers SET %s = $2, modified_at = now() WHERE name = $1`, column),
		name, value)
	if err != nil {
		return classify(operation, err)
	}
	if tag.RowsAffected() == 0 {
		return containerNotFound(name)
	}
	return nil
}

// SetContainerMetadata replaces the metadata column in a single statement
func (b *Backend) SetContainerMetadata(ctx context.Context, name string, metadata map[string]string) error {
	return b.updateContainer(ctx, "set container metadata", name, "metadata", objectstore.CloneMetadata(metadata))
}

// SetPublicAccess updates the access column
func (b *Backend) SetPublicAccess(ctx context.Context, name string, access objectstore.PublicAccess) error {
	return b.updateContainer(ctx, "set public access", name, "public_access", string(access))
}

// GetContainerMetadata reads the metadata column
func (b *Backend) GetContainerMetadata(ctx context.Context, name string) (map[string]string, error) {
	var md map[string]string
	err := b.db.QueryRow(ctx, `SELECT metadata FROM objectstore_containers WHERE name = $1`, name).Scan(&md)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, containerNotFound(name)
	} else if err != nil {
		return nil, classify("get container metadata", err)
	}
	if md == nil {
		md = map[string]string{}
	}
	return md, nil
}

// PutObject buffers the payload and upserts it in one statement, so a failed
// read never touches the table.
func (b *Backend) PutObject(ctx context.Context, container, name string, reader io.Reader) (*objectstore.ObjectEntry, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	var modified time.Time
	err = b.db.QueryRow(ctx, `
		INSERT INTO objectstore_objects (container, name, data, size, modified_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (container, name)
		DO UPDATE SET data = EXCLUDED.data, size = EXCLUDED.size, modified_at = EXCLUDED.modified_at
		RETURNING modified_at`, container, name, data, int64(len(data))).Scan(&modified)
	if err != nil {
		return nil, classify("put object", err)
	}

	return &objectstore.ObjectEntry{
		Container:    container,
		Name:         name,
		Size:         int64(len(data)),
		LastModified: modified.UTC(),
	}, nil
}

// ListObjects returns one keyset-paginated page
func (b *Backend) ListObjects(ctx context.Context, container string, opts objectstore.ListOptions) (*objectstore.ObjectPage, error) {
	if err := b.containerExists(ctx, container); err != nil {
		return nil, err
	}

	query := `
		SELECT name, size, modified_at FROM objectstore_objects
		WHERE container = $1 AND name > $2
		ORDER BY name`
	args := []interface{}{container, opts.Marker}
	if opts.Limit > 0 {
		query += ` LIMIT $3`
		args = append(args, opts.Limit+1)
	}

	rows, err := b.db.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("list objects", err)
	}
	defer rows.Close()

	page := &objectstore.ObjectPage{Entries: []objectstore.ObjectEntry{}}
	for rows.Next() {
		entry := objectstore.ObjectEntry{Container: container}
		if err := rows.Scan(&entry.Name, &entry.Size, &entry.LastModified); err != nil {
			return nil, classify("scan object", err)
		}
		entry.LastModified = entry.LastModified.UTC()
		page.Entries = append(page.Entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list objects", err)
	}

	if opts.Limit > 0 && len(page.Entries) > opts.Limit {
		page.Entries = page.Entries[:opts.Limit]
		page.NextMarker = page.Entries[opts.Limit-1].Name
	}
	return page, nil
}

// GetObject loads the payload into memory and returns a reader over it
func (b *Backend) GetObject(ctx context.Context, container, name string) (io.ReadCloser, *objectstore.ObjectEntry, error) {
	var (
		data     []byte
		modified time.Time
	)
	err := b.db.QueryRow(ctx, `
		SELECT data, modified_at FROM objectstore_objects
		WHERE container = $1 AND name = $2`, container, name).Scan(&data, &modified)
	if errors.Is(err, pgx.ErrNoRows) {
		if cerr := b.containerExists(ctx, container); cerr != nil {
			return nil, nil, cerr
		}
		return nil, nil, objectstore.NewError(objectstore.KindNotFound, "object %s not found in container %s", name, container)
	} else if err != nil {
		return nil, nil, classify("get object", err)
	}

	return io.NopCloser(bytes.NewReader(data)), &objectstore.ObjectEntry{
		Container:    container,
		Name:         name,
		Size:         int64(len(data)),
		LastModified: modified.UTC(),
	}, nil
}

// DeleteObject deletes one object row
func (b *Backend) DeleteObject(ctx context.Context, container, name string) error {
	tag, err := b.db.Exec(ctx, `DELETE FROM objectstore_objects WHERE container = $1 AND name = $2`, container, name)
	if err != nil {
		return classify("delete object", err)
	}
	if tag.RowsAffected() == 0 {
		if cerr := b.containerExists(ctx, container); cerr != nil {
			return cerr
		}
		return objectstore.NewError(objectstore.KindNotFound, "object %s not found in container %s", name, container)
	}
	return nil
}

// DeleteContainer deletes the container row; objects go with it through the
// cascading foreign key.
func (b *Backend) DeleteContainer(ctx context.Context, name string) error {
	tag, err := b.db.Exec(ctx, `DELETE FROM objectstore_containers WHERE name = $1`, name)
	if err != nil {
		return classify("delete container", err)
	}
	if tag.RowsAffected() == 0 {
		return containerNotFound(name)
	}
	return nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-objectstore/pkg/objectstore"
	"github.com/tendant/simple-objectstore/pkg/objectstore/storagetest"
)

// newTestPool connects to TEST_DATABASE_URL and prepares the schema
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres tests in short mode")
	}
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pool.Ping(ctx), "failed to ping test database")
	require.NoError(t, NewWithPool(pool).EnsureSchema(ctx))
	return pool
}

func TestBackend(t *testing.T) {
	pool := newTestPool(t)
	storagetest.Run(t, func(t *testing.T) objectstore.Backend {
		return NewWithPool(pool)
	})
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	pool := newTestPool(t)
	assert.NoError(t, NewWithPool(pool).EnsureSchema(context.Background()))
}

func TestPutObjectIntoMissingContainer(t *testing.T) {
	pool := newTestPool(t)
	b := NewWithPool(pool)

	_, err := b.PutObject(context.Background(), "pg-missing-container", "a.txt", strings.NewReader("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"23505", objectstore.ErrConflict},
		{"23503", objectstore.ErrNotFound},
		{"28P01", objectstore.ErrAuth},
		{"42501", objectstore.ErrAuth},
		{"22001", objectstore.ErrValidation},
		{"23502", objectstore.ErrValidation},
		{"42P01", objectstore.ErrTransient},
		{"57P01", objectstore.ErrTransient},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			pgErr := &pgconn.PgError{Code: tt.code, Message: "boom"}
			err := classify("op", fmt.Errorf("wrapped: %w", pgErr))
			assert.ErrorIs(t, err, tt.want)

			var got *pgconn.PgError
			assert.True(t, errors.As(err, &got), "cause should stay in the chain")
		})
	}

	assert.NoError(t, classify("op", nil))
	assert.ErrorIs(t, classify("op", errors.New("connection reset")), objectstore.ErrTransient)
}

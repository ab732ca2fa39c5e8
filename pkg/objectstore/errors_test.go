package objectstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "not found", err: NewError(KindNotFound, "container %s not found", "c1"), want: KindNotFound},
		{name: "wrapped conflict", err: fmt.Errorf("create: %w", NewError(KindConflict, "exists")), want: KindConflict},
		{name: "auth", err: WrapError(KindAuth, errors.New("403")), want: KindAuth},
		{name: "validation", err: NewError(KindValidation, "bad name"), want: KindValidation},
		{name: "unknown", err: errors.New("boom"), want: KindTransient},
		{name: "canceled", err: context.Canceled, want: KindTransient},
		{name: "typed error", err: &Error{Kind: KindConflict, Err: errors.New("x")}, want: KindConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorIsAndUnwrap(t *testing.T) {
	cause := fmt.Errorf("read: %w", context.Canceled)
	err := &Error{Kind: KindTransient, Op: "upload", Backend: "memory", Container: "c1", Object: "a.txt", Err: cause}

	assert.ErrorIs(t, err, ErrTransient)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.True(t, IsCanceled(err))
	assert.Equal(t, "upload failed for container c1 object a.txt on backend memory (transient): read: context canceled", err.Error())

	var target *Error
	assert.True(t, errors.As(fmt.Errorf("outer: %w", err), &target))
	assert.Equal(t, "upload", target.Op)
}

func TestWrapError(t *testing.T) {
	assert.Nil(t, WrapError(KindAuth, nil))

	cause := os.ErrPermission
	err := WrapError(KindAuth, cause)
	assert.ErrorIs(t, err, ErrAuth)
	assert.ErrorIs(t, err, os.ErrPermission)
	assert.Equal(t, cause.Error(), err.Error())

	already := NewError(KindNotFound, "gone")
	assert.Same(t, already, WrapError(KindNotFound, already))
}

func TestParseKind(t *testing.T) {
	assert.Equal(t, KindNotFound, ParseKind("not_found"))
	assert.Equal(t, KindConflict, ParseKind(" Conflict "))
	assert.Equal(t, KindTransient, ParseKind("something-else"))
	assert.Equal(t, ErrValidation, KindValidation.Sentinel())
	assert.Equal(t, ErrTransient, Kind("bogus").Sentinel())
}

func TestKindHelpers(t *testing.T) {
	assert.False(t, IsNotFound(nil))
	assert.False(t, IsTransient(nil))
	assert.True(t, IsNotFound(NewError(KindNotFound, "x")))
	assert.True(t, IsConflict(NewError(KindConflict, "x")))
	assert.True(t, IsAuth(NewError(KindAuth, "x")))
	assert.True(t, IsValidation(NewError(KindValidation, "x")))
	assert.True(t, IsTransient(errors.New("x")))
}

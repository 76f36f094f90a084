package graphstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
)

func TestErrorCodes(t *testing.T) {
	cause := errors.New("disk on fire")
	err := NewError(StoreWriteError, cause, uint64(7))
	assert.Equal(t, "store write error: disk on fire (7)", err.Error())
	assert.ErrorIs(t, err, cause)

	wrapped := pkgerrors.WithMessage(fmt.Errorf("commit: %w", err), "open store")
	assert.True(t, IsErrorCode(wrapped, StoreWriteError))
	assert.False(t, IsErrorCode(wrapped, FileIOError))
	assert.False(t, IsErrorCode(cause, StoreWriteError))

	var se Error
	assert.True(t, errors.As(wrapped, &se))
	assert.Equal(t, uint64(7), se.UserData)
}

func TestShouldRetry(t *testing.T) {
	assert.False(t, ShouldRetry(nil))
	assert.False(t, ShouldRetry(context.Canceled))
	assert.False(t, ShouldRetry(fmt.Errorf("open: %w", os.ErrPermission)))
	assert.True(t, ShouldRetry(errors.New("transient")))
}

func TestRetry(t *testing.T) {
	ctx := context.Background()
	calls := 0
	err := Retry(ctx, 3, func(context.Context) error {
		calls++
		if calls < 2 {
			return retry.RetryableError(errors.New("again"))
		}
		return nil
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)

	gaveUp := false
	err = Retry(ctx, 1, func(context.Context) error {
		return retry.RetryableError(errors.New("never"))
	}, func(context.Context) { gaveUp = true })
	assert.Error(t, err)
	assert.True(t, gaveUp)
}

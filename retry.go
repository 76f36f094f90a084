package graphstore

import (
	"context"
	"errors"
	log "log/slog"
	"os"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"
)

// Retry executes task with Fibonacci backoff up to maxRetries retries. Only errors the
// task wraps with retry.RetryableError are retried. If retries are exhausted, gaveUpTask
// is invoked (when not nil) and the final error is returned.
//
// Page and log I/O never goes through Retry: their failures propagate to the caller, who
// owns the retry policy. Retry is for idempotent housekeeping such as folder preparation.
func Retry(ctx context.Context, maxRetries uint64, task func(ctx context.Context) error, gaveUpTask func(ctx context.Context)) error {
	b := retry.NewFibonacci(50 * time.Millisecond)
	if err := retry.Do(ctx, retry.WithMaxRetries(maxRetries, b), task); err != nil {
		log.Warn("retry gave up", "error", err)
		if gaveUpTask != nil {
			gaveUpTask(ctx)
		}
		return err
	}
	return nil
}

// permanentErrors are failures a retry cannot fix.
var permanentErrors = []error{
	context.Canceled,
	context.DeadlineExceeded,
	os.ErrNotExist,
	os.ErrExist,
	os.ErrPermission,
	os.ErrClosed,
	syscall.ENOSPC,
	syscall.EDQUOT,
	syscall.EROFS,
	syscall.ENOTDIR,
	syscall.EISDIR,
	syscall.ENAMETOOLONG,
	syscall.EINVAL,
}

// ShouldRetry reports whether err may succeed on a later attempt.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	for _, p := range permanentErrors {
		if errors.Is(err, p) {
			return false
		}
	}
	return true
}

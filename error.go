package graphstore

import (
	"errors"
	"fmt"
)

// ErrorCode identifies the class of a store failure.
type ErrorCode int

const (
	Unknown ErrorCode = iota
	// InvalidArgument is returned for rejected caller input, e.g. an empty or oversized graph URI.
	InvalidArgument
	// InvalidCommitPoint means no half of a commit point record passed checksum validation.
	InvalidCommitPoint
	// InvalidTransactionInfo means a transaction header record carries an unrecognized version tag.
	InvalidTransactionInfo
	// InvalidStatisticsRecord means a statistics header record carries an unrecognized version tag.
	InvalidStatisticsRecord
	// UnknownVersion means a checksummed record decoded fine but its format version is not supported.
	UnknownVersion
	// StoreWriteError wraps an I/O failure while persisting pages or records.
	StoreWriteError
	// FileIOError wraps an I/O failure while reading files or preparing folders.
	FileIOError
	// PageNotFound means the requested page id lies beyond the end of the page file.
	PageNotFound
	// StoreClosed is returned by operations on a closed store or log.
	StoreClosed
	// InvalidGraphIndex means a persisted graph index page chain is malformed.
	InvalidGraphIndex
)

var errorCodeNames = map[ErrorCode]string{
	Unknown:                 "unknown",
	InvalidArgument:         "invalid argument",
	InvalidCommitPoint:      "invalid commit point",
	InvalidTransactionInfo:  "invalid transaction info",
	InvalidStatisticsRecord: "invalid statistics record",
	UnknownVersion:          "unknown version",
	StoreWriteError:         "store write error",
	FileIOError:             "file i/o error",
	PageNotFound:            "page not found",
	StoreClosed:             "store closed",
	InvalidGraphIndex:       "invalid graph index",
}

func (c ErrorCode) String() string {
	if s, ok := errorCodeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("error code %d", int(c))
}

// Error is the structured error returned by the store packages. UserData carries the
// distinguishing detail, e.g. the offending page id or the unrecognized version number.
type Error struct {
	Code     ErrorCode
	Err      error
	UserData any
}

func (e Error) Error() string {
	if e.UserData != nil {
		return fmt.Sprintf("%s: %v (%v)", e.Code, e.Err, e.UserData)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e Error) Unwrap() error {
	return e.Err
}

// NewError is a shorthand for Error{Code: code, Err: err, UserData: userData}.
func NewError(code ErrorCode, err error, userData any) Error {
	return Error{
		Code:     code,
		Err:      err,
		UserData: userData,
	}
}

// IsErrorCode reports whether err, or any error it wraps, is an Error with the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	var e Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Package merr defines the ErrorCode taxonomy every core operation
// returns through: package-level sentinel error values, never panics
// across a public API boundary.
package merr

import "errors"

// ErrorCode enumerates every result a core operation can report.
type ErrorCode int

const (
	Success ErrorCode = iota
	Failure
	IndexOutOfRange
	TypeOutOfRange
	MemoryAllocationFailed
	EntityNotFound
	MultipleEntitiesFound
	TagNotFound
	AlreadyAllocated
	FileDoesNotExist
	FileWriteError
	NotImplemented
	UnsupportedOperation
	VariableDataLength
	InvalidSize
)

func (c ErrorCode) String() string {
	switch c {
	case Success:
		return "SUCCESS"
	case Failure:
		return "FAILURE"
	case IndexOutOfRange:
		return "INDEX_OUT_OF_RANGE"
	case TypeOutOfRange:
		return "TYPE_OUT_OF_RANGE"
	case MemoryAllocationFailed:
		return "MEMORY_ALLOCATION_FAILED"
	case EntityNotFound:
		return "ENTITY_NOT_FOUND"
	case MultipleEntitiesFound:
		return "MULTIPLE_ENTITIES_FOUND"
	case TagNotFound:
		return "TAG_NOT_FOUND"
	case AlreadyAllocated:
		return "ALREADY_ALLOCATED"
	case FileDoesNotExist:
		return "FILE_DOES_NOT_EXIST"
	case FileWriteError:
		return "FILE_WRITE_ERROR"
	case NotImplemented:
		return "NOT_IMPLEMENTED"
	case UnsupportedOperation:
		return "UNSUPPORTED_OPERATION"
	case VariableDataLength:
		return "VARIABLE_DATA_LENGTH"
	case InvalidSize:
		return "INVALID_SIZE"
	default:
		return "UNKNOWN"
	}
}

// Error wraps an ErrorCode with a human-readable message and satisfies the
// standard error interface, so callers that only want a bool can use
// errors.Is against the sentinels below, while callers that need the code
// can type-assert to *Error.
type Error struct {
	Code ErrorCode
	Msg  string
}

func (e *Error) Error() string { return e.Code.String() + ": " + e.Msg }

// New constructs an *Error. Most call sites use the sentinel errors below
// via errors.Is; New is for adding operation-specific context.
func New(code ErrorCode, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// CodeOf extracts the ErrorCode carried by err, or Failure if err does not
// originate from this package.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return Success
	}
	var me *Error
	if errors.As(err, &me) {
		return me.Code
	}
	return Failure
}

// Sentinel errors for errors.Is comparisons.
var (
	ErrIndexOutOfRange        = &Error{Code: IndexOutOfRange, Msg: "index out of range"}
	ErrTypeOutOfRange         = &Error{Code: TypeOutOfRange, Msg: "entity type out of range"}
	ErrMemoryAllocationFailed = &Error{Code: MemoryAllocationFailed, Msg: "memory allocation failed"}
	ErrEntityNotFound         = &Error{Code: EntityNotFound, Msg: "entity not found"}
	ErrMultipleEntitiesFound  = &Error{Code: MultipleEntitiesFound, Msg: "multiple entities found"}
	ErrTagNotFound            = &Error{Code: TagNotFound, Msg: "tag not found"}
	ErrAlreadyAllocated       = &Error{Code: AlreadyAllocated, Msg: "tag already allocated with a different description"}
	ErrFileDoesNotExist       = &Error{Code: FileDoesNotExist, Msg: "file does not exist"}
	ErrFileWriteError         = &Error{Code: FileWriteError, Msg: "file write error"}
	ErrNotImplemented         = &Error{Code: NotImplemented, Msg: "not implemented"}
	ErrUnsupportedOperation   = &Error{Code: UnsupportedOperation, Msg: "unsupported operation"}
	ErrVariableDataLength     = &Error{Code: VariableDataLength, Msg: "variable-length tag data"}
	ErrInvalidSize            = &Error{Code: InvalidSize, Msg: "invalid size"}
)

// Is implements errors.Is comparison by error code, so a wrapped
// *Error{Code: EntityNotFound, Msg: "..."} still matches
// errors.Is(err, ErrEntityNotFound) regardless of message text.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

package delta

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/goccy/go-json"

	"github.com/isar-aerospace/delta-dotnet/engine"
	"github.com/isar-aerospace/delta-dotnet/internal"
)

// ErrorCode identifies the kind of failure delivered to a callback. The
// numbering is part of the C ABI and must not change.
type ErrorCode int32

const (
	Utf8                   ErrorCode = 0
	Protocol               ErrorCode = 1
	ObjectStore            ErrorCode = 2
	Parquet                ErrorCode = 3
	Arrow                  ErrorCode = 4
	InvalidJsonLog         ErrorCode = 5
	InvalidStatsJson       ErrorCode = 6
	InvalidInvariantJson   ErrorCode = 7
	InvalidVersion         ErrorCode = 8
	MissingDataFile        ErrorCode = 9
	InvalidDateTimeString  ErrorCode = 10
	InvalidData            ErrorCode = 11
	NotATable              ErrorCode = 12
	NoMetadata             ErrorCode = 13
	NoSchema               ErrorCode = 14
	LoadPartitions         ErrorCode = 15
	SchemaMismatch         ErrorCode = 16
	PartitionError         ErrorCode = 17
	InvalidPartitionFilter ErrorCode = 18
	ColumnsNotPartitioned  ErrorCode = 19
	Io                     ErrorCode = 20
	Transaction            ErrorCode = 21
	VersionAlreadyExists   ErrorCode = 22
	VersionMismatch        ErrorCode = 23
	MissingFeature         ErrorCode = 24
	InvalidTableLocation   ErrorCode = 25
	SerializeLogJson       ErrorCode = 26
	SerializeSchemaJson    ErrorCode = 27
	Generic                ErrorCode = 28
	GenericError           ErrorCode = 29
	Kernel                 ErrorCode = 30
	MetaDataError          ErrorCode = 31
	NotInitialized         ErrorCode = 32
)

var codeNames = [...]string{
	Utf8:                   "Utf8",
	Protocol:               "Protocol",
	ObjectStore:            "ObjectStore",
	Parquet:                "Parquet",
	Arrow:                  "Arrow",
	InvalidJsonLog:         "InvalidJsonLog",
	InvalidStatsJson:       "InvalidStatsJson",
	InvalidInvariantJson:   "InvalidInvariantJson",
	InvalidVersion:         "InvalidVersion",
	MissingDataFile:        "MissingDataFile",
	InvalidDateTimeString:  "InvalidDateTimeString",
	InvalidData:            "InvalidData",
	NotATable:              "NotATable",
	NoMetadata:             "NoMetadata",
	NoSchema:               "NoSchema",
	LoadPartitions:         "LoadPartitions",
	SchemaMismatch:         "SchemaMismatch",
	PartitionError:         "PartitionError",
	InvalidPartitionFilter: "InvalidPartitionFilter",
	ColumnsNotPartitioned:  "ColumnsNotPartitioned",
	Io:                     "Io",
	Transaction:            "Transaction",
	VersionAlreadyExists:   "VersionAlreadyExists",
	VersionMismatch:        "VersionMismatch",
	MissingFeature:         "MissingFeature",
	InvalidTableLocation:   "InvalidTableLocation",
	SerializeLogJson:       "SerializeLogJson",
	SerializeSchemaJson:    "SerializeSchemaJson",
	Generic:                "Generic",
	GenericError:           "GenericError",
	Kernel:                 "Kernel",
	MetaDataError:          "MetaDataError",
	NotInitialized:         "NotInitialized",
}

// Valid reports whether c is one of the defined codes.
func (c ErrorCode) Valid() bool {
	return c >= 0 && int(c) < len(codeNames)
}

func (c ErrorCode) String() string {
	if !c.Valid() {
		return fmt.Sprintf("ErrorCode(%d)", int32(c))
	}
	return codeNames[c]
}

// Error is the typed failure delivered to operation callbacks.
type Error struct {
	Code    ErrorCode
	Message string
	cause   error
}

// NewError creates an error envelope with a formatted message.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code.String()
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches another *Error with the same code, so callers can test
// errors.Is(err, &delta.Error{Code: delta.NotATable}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	// ErrCancelled is wrapped by the envelope of every cancelled operation.
	ErrCancelled = errors.New("operation cancelled")

	ErrRuntimeClosed = errors.New("runtime is closed")
	ErrTableClosed   = errors.New("table is closed")

	ErrDoubleFree     = errors.New("value was already freed")
	ErrWrongAllocator = errors.New("value is not owned by this runtime")
	ErrBorrowedBuffer = errors.New("borrowed buffer must not be freed")
	ErrArrayElement   = errors.New("array elements are freed with their array")
)

func cancelledError(cause error) *Error {
	if cause == nil || errors.Is(cause, ErrCancelled) {
		cause = ErrCancelled
	} else {
		cause = fmt.Errorf("%w: %w", ErrCancelled, cause)
	}
	return &Error{Code: GenericError, Message: ErrCancelled.Error(), cause: cause}
}

func isCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// codeMap is the single mapping from engine failure kinds to codes. Entries
// are tested in order.
var codeMap = []struct {
	err  error
	code ErrorCode
}{
	{engine.ErrUtf8, Utf8},
	{engine.ErrProtocol, Protocol},
	{engine.ErrObjectStore, ObjectStore},
	{engine.ErrParquet, Parquet},
	{engine.ErrArrow, Arrow},
	{engine.ErrInvalidJSONLog, InvalidJsonLog},
	{engine.ErrInvalidStatsJSON, InvalidStatsJson},
	{engine.ErrInvalidInvariantJSON, InvalidInvariantJson},
	{engine.ErrInvalidVersion, InvalidVersion},
	{engine.ErrMissingDataFile, MissingDataFile},
	{engine.ErrInvalidDateTimeString, InvalidDateTimeString},
	{engine.ErrInvalidData, InvalidData},
	{engine.ErrNotATable, NotATable},
	{engine.ErrNoMetadata, NoMetadata},
	{engine.ErrNoSchema, NoSchema},
	{engine.ErrLoadPartitions, LoadPartitions},
	{engine.ErrSchemaMismatch, SchemaMismatch},
	{engine.ErrPartition, PartitionError},
	{engine.ErrInvalidPartitionFilter, InvalidPartitionFilter},
	{engine.ErrColumnsNotPartitioned, ColumnsNotPartitioned},
	{engine.ErrIo, Io},
	{engine.ErrTransaction, Transaction},
	{engine.ErrVersionAlreadyExists, VersionAlreadyExists},
	{engine.ErrVersionMismatch, VersionMismatch},
	{engine.ErrMissingFeature, MissingFeature},
	{engine.ErrInvalidTableLocation, InvalidTableLocation},
	{engine.ErrSerializeLogJSON, SerializeLogJson},
	{engine.ErrSerializeSchemaJSON, SerializeSchemaJson},
	{engine.ErrGeneric, Generic},
	{engine.ErrKernel, Kernel},
	{engine.ErrMetaData, MetaDataError},
	{engine.ErrNotInitialized, NotInitialized},
}

// Classify maps err to exactly one error code. Envelopes pass through
// unchanged and nil maps to nil.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var env *Error
	if errors.As(err, &env) {
		return env
	}
	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return cancelledError(err)
	}
	var pe *internal.PanicError
	if errors.As(err, &pe) {
		return &Error{Code: Generic, Message: fmt.Sprintf("panic: %v", pe.Value), cause: err}
	}
	for _, m := range codeMap {
		if errors.Is(err, m.err) {
			return &Error{Code: m.code, Message: err.Error(), cause: err}
		}
	}

	var (
		pathErr   *fs.PathError
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &pathErr), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, fs.ErrNotExist):
		return &Error{Code: Io, Message: err.Error(), cause: err}
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return &Error{Code: InvalidJsonLog, Message: err.Error(), cause: err}
	case errors.Is(err, arrow.ErrInvalid), errors.Is(err, arrow.ErrType), errors.Is(err, arrow.ErrNotImplemented):
		return &Error{Code: Arrow, Message: err.Error(), cause: err}
	}
	return &Error{Code: GenericError, Message: err.Error(), cause: err}
}

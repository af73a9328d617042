package engine

import "errors"

// Sentinel errors an Engine wraps (with fmt.Errorf and %w) to tell the bridge
// what kind of failure occurred. Anything not wrapping one of these is
// reported to callers as a generic error.
var (
	ErrUtf8                   = errors.New("invalid utf-8")
	ErrProtocol               = errors.New("protocol error")
	ErrObjectStore            = errors.New("object store error")
	ErrParquet                = errors.New("parquet error")
	ErrArrow                  = errors.New("arrow error")
	ErrInvalidJSONLog         = errors.New("invalid json in log record")
	ErrInvalidStatsJSON       = errors.New("invalid json in file stats")
	ErrInvalidInvariantJSON   = errors.New("invalid json in invariant")
	ErrInvalidVersion         = errors.New("invalid table version")
	ErrMissingDataFile        = errors.New("missing data file")
	ErrInvalidDateTimeString  = errors.New("invalid datetime string")
	ErrInvalidData            = errors.New("invalid data")
	ErrNotATable              = errors.New("not a delta table")
	ErrNoMetadata             = errors.New("table metadata not loaded")
	ErrNoSchema               = errors.New("table has no schema")
	ErrLoadPartitions         = errors.New("failed to load partitions")
	ErrSchemaMismatch         = errors.New("schema mismatch")
	ErrPartition              = errors.New("partition error")
	ErrInvalidPartitionFilter = errors.New("invalid partition filter")
	ErrColumnsNotPartitioned  = errors.New("columns are not partitioned")
	ErrIo                     = errors.New("io error")
	ErrTransaction            = errors.New("transaction failed")
	ErrVersionAlreadyExists   = errors.New("version already exists")
	ErrVersionMismatch        = errors.New("version mismatch")
	ErrMissingFeature         = errors.New("missing feature")
	ErrInvalidTableLocation   = errors.New("invalid table location")
	ErrSerializeLogJSON       = errors.New("failed to serialize log json")
	ErrSerializeSchemaJSON    = errors.New("failed to serialize schema json")
	ErrGeneric                = errors.New("generic error")
	ErrKernel                 = errors.New("kernel error")
	ErrMetaData               = errors.New("metadata error")
	ErrNotInitialized         = errors.New("table not initialized")
)

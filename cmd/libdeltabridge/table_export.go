package main

/*
#include "bridge.h"
*/
import "C"

import (
	"time"
	"unsafe"

	"go.uber.org/zap"

	"github.com/isar-aerospace/delta-dotnet/delta"
	"github.com/isar-aerospace/delta-dotnet/internal"
)

var errBadHandle = delta.NewError(delta.NotInitialized, "unknown runtime or table handle")

//export table_new
func table_new(runtime *C.Runtime, uri *C.ByteArrayRef, options *C.TableOptions, callback C.TableNewCallback) {
	openTable(runtime, uri, options, nil, callback)
}

// table_new_with_cancellation is table_new with a token that can abort the
// load. The token may be freed once the callback has fired.
//
//export table_new_with_cancellation
func table_new_with_cancellation(runtime *C.Runtime, uri *C.ByteArrayRef, options *C.TableOptions, token *C.CancellationToken, callback C.TableNewCallback) {
	openTable(runtime, uri, options, lookupToken(token), callback)
}

func openTable(runtime *C.Runtime, uri *C.ByteArrayRef, options *C.TableOptions, tok *delta.CancellationToken, callback C.TableNewCallback) {
	if callback == nil {
		delta.Logger().Error("table_new: null callback")
		return
	}
	s := lookupSession(runtime)
	if s == nil {
		go func() { C.invoke_table_new_callback(callback, nil, newError(nil, errBadHandle)) }()
		return
	}
	opts := delta.DefaultTableOptions()
	if options != nil {
		opts.Version = int64(options.version)
		opts.WithoutFiles = bool(options.without_files)
		opts.LogBufferSize = int(options.log_buffer_size)
		if options.storage_options != nil {
			ref := lookupMap(options.storage_options)
			if ref == nil {
				env := delta.NewError(delta.InvalidData, "unknown storage options map")
				s.rt.Reject("open", env, func(env *delta.Error) {
					C.invoke_table_new_callback(callback, nil, newError(s, env))
				})
				return
			}
			opts.StorageOptions = ref.m
		}
	}
	s.rt.OpenTable(tok, string(goBytes(uri)), opts, func(t *delta.Table, env *delta.Error) {
		if env != nil {
			C.invoke_table_new_callback(callback, nil, newError(s, env))
			return
		}
		id := tables.Put(&tableRef{table: t, sess: s})
		C.invoke_table_new_callback(callback, (*C.RawDeltaTable)(newCell(internal.KindTable, id)), nil)
	})
}

// table_with_cancellation installs token for every later operation on table
// submitted through this library. A NULL token removes it.
//
//export table_with_cancellation
func table_with_cancellation(table *C.RawDeltaTable, token *C.CancellationToken) C.bool {
	ref := lookupTable(table)
	if ref == nil {
		return false
	}
	ref.table.SetCancellationToken(lookupToken(token))
	return true
}

//export table_uri
func table_uri(table *C.RawDeltaTable) *C.ByteArray {
	ref := lookupTable(table)
	if ref == nil {
		return nil
	}
	return newByteArray(ref.sess, []byte(ref.table.URI()), false)
}

//export table_version
func table_version(table *C.RawDeltaTable) C.int64_t {
	ref := lookupTable(table)
	if ref == nil {
		return -1
	}
	return C.int64_t(ref.table.Version())
}

//export table_free
func table_free(table *C.RawDeltaTable) {
	id, err := freeCell(unsafe.Pointer(table), internal.KindTable)
	if err != nil {
		delta.Logger().Error("invalid table free", zap.Error(err))
		return
	}
	if ref, ok := tables.Delete(id); ok {
		// the runtime may have closed it already
		_ = ref.table.Close()
	}
}

// reject reports errBadHandle to deliver. With a known runtime the callback
// runs on it, so runtime_free waits for it.
func reject(s *session, deliver func(*delta.Error)) {
	if s == nil {
		go deliver(errBadHandle)
		return
	}
	s.rt.Reject("resolve", errBadHandle, deliver)
}

// resolve looks up both handles of a table call.
func resolve(runtime *C.Runtime, table *C.RawDeltaTable) (*session, *tableRef) {
	s := lookupSession(runtime)
	ref := lookupTable(table)
	if s == nil || ref == nil || ref.sess != s {
		return s, nil
	}
	return s, ref
}

func syncResult(s *session, arr *delta.DynamicArray, err error) C.GenericOrError {
	if err != nil {
		return C.GenericOrError{error: newError(s, delta.Classify(err))}
	}
	return C.GenericOrError{bytes: unsafe.Pointer(newDynamicArray(s, arr))}
}

//export table_file_uris
func table_file_uris(runtime *C.Runtime, table *C.RawDeltaTable) C.GenericOrError {
	s, ref := resolve(runtime, table)
	if ref == nil {
		return C.GenericOrError{error: newError(s, errBadHandle)}
	}
	arr, err := ref.table.FileURIs()
	return syncResult(s, arr, err)
}

//export table_files
func table_files(runtime *C.Runtime, table *C.RawDeltaTable) C.GenericOrError {
	s, ref := resolve(runtime, table)
	if ref == nil {
		return C.GenericOrError{error: newError(s, errBadHandle)}
	}
	arr, err := ref.table.Files()
	return syncResult(s, arr, err)
}

// emptyOp runs a table operation that reports only success or failure.
func emptyOp(runtime *C.Runtime, table *C.RawDeltaTable, callback C.TableEmptyCallback, op func(*delta.Table, delta.EmptyCallback)) {
	if callback == nil {
		delta.Logger().Error("null callback")
		return
	}
	s, ref := resolve(runtime, table)
	if ref == nil {
		reject(s, func(env *delta.Error) { C.invoke_empty_callback(callback, newError(s, env)) })
		return
	}
	op(ref.table, func(env *delta.Error) {
		if env != nil {
			C.invoke_empty_callback(callback, newError(s, env))
			return
		}
		C.invoke_empty_callback(callback, nil)
	})
}

// delivery completes a generic operation: p is passed to the callback and
// after, if set, runs once the callback returned.
type delivery func(p unsafe.Pointer, after func(), env *delta.Error)

// genericOp runs a table operation that delivers a payload through a
// GenericErrorCallback.
func genericOp(runtime *C.Runtime, table *C.RawDeltaTable, callback C.GenericErrorCallback, op func(*delta.Table, *session, delivery)) {
	if callback == nil {
		delta.Logger().Error("null callback")
		return
	}
	s, ref := resolve(runtime, table)
	if ref == nil {
		reject(s, func(env *delta.Error) { C.invoke_generic_callback(callback, nil, newError(s, env)) })
		return
	}
	op(ref.table, s, func(p unsafe.Pointer, after func(), env *delta.Error) {
		if env != nil {
			C.invoke_generic_callback(callback, nil, newError(s, env))
			return
		}
		C.invoke_generic_callback(callback, p, nil)
		if after != nil {
			after()
		}
	})
}

func arrayDelivery(s *session, done delivery) delta.ArrayCallback {
	return func(arr *delta.DynamicArray, env *delta.Error) {
		if env != nil {
			done(nil, nil, env)
			return
		}
		done(unsafe.Pointer(newDynamicArray(s, arr)), nil, nil)
	}
}

// bytesDelivery copies the buffer into C memory. Borrowed buffers get a
// disable_free copy that is released once the callback returned.
func bytesDelivery(s *session, done delivery) delta.BytesCallback {
	return func(b *delta.ByteBuffer, env *delta.Error) {
		if env != nil {
			done(nil, nil, env)
			return
		}
		if b.DisableFree() {
			ba := newByteArray(s, b.Bytes(), true)
			done(unsafe.Pointer(ba), func() { releaseByteArray(ba) }, nil)
			return
		}
		ba := newByteArray(s, b.Bytes(), false)
		if err := s.rt.FreeBytes(b); err != nil {
			delta.Logger().Error("free go buffer", zap.Error(err))
		}
		done(unsafe.Pointer(ba), nil, nil)
	}
}

//export history
func history(runtime *C.Runtime, table *C.RawDeltaTable, limit C.uintptr_t, callback C.GenericErrorCallback) {
	genericOp(runtime, table, callback, func(t *delta.Table, s *session, done delivery) {
		t.History(nil, int(limit), arrayDelivery(s, done))
	})
}

//export table_schema
func table_schema(runtime *C.Runtime, table *C.RawDeltaTable, callback C.GenericErrorCallback) {
	genericOp(runtime, table, callback, func(t *delta.Table, s *session, done delivery) {
		t.Schema(nil, bytesDelivery(s, done))
	})
}

//export table_metadata
func table_metadata(runtime *C.Runtime, table *C.RawDeltaTable, callback C.GenericErrorCallback) {
	genericOp(runtime, table, callback, func(t *delta.Table, s *session, done delivery) {
		t.Metadata(nil, bytesDelivery(s, done))
	})
}

//export table_vacuum
func table_vacuum(runtime *C.Runtime, table *C.RawDeltaTable, options *C.VacuumOptions, callback C.GenericErrorCallback) {
	var opts delta.VacuumOptions
	if options != nil {
		opts.DryRun = bool(options.dry_run)
		opts.RetentionHours = uint64(options.retention_hours)
		opts.EnforceRetentionDuration = bool(options.enforce_retention_duration)
		if ref := lookupMap(options.custom_metadata); ref != nil {
			opts.CustomMetadata = ref.m
		}
	}
	genericOp(runtime, table, callback, func(t *delta.Table, s *session, done delivery) {
		t.Vacuum(nil, opts, arrayDelivery(s, done))
	})
}

//export table_checkpoint
func table_checkpoint(runtime *C.Runtime, table *C.RawDeltaTable, callback C.TableEmptyCallback) {
	emptyOp(runtime, table, callback, func(t *delta.Table, cb delta.EmptyCallback) {
		t.Checkpoint(nil, cb)
	})
}

//export table_update
func table_update(runtime *C.Runtime, table *C.RawDeltaTable, version C.int64_t, callback C.TableEmptyCallback) {
	emptyOp(runtime, table, callback, func(t *delta.Table, cb delta.EmptyCallback) {
		t.Update(nil, int64(version), cb)
	})
}

//export table_update_incremental
func table_update_incremental(runtime *C.Runtime, table *C.RawDeltaTable, callback C.TableEmptyCallback) {
	emptyOp(runtime, table, callback, func(t *delta.Table, cb delta.EmptyCallback) {
		t.UpdateIncremental(nil, cb)
	})
}

//export table_load_version
func table_load_version(runtime *C.Runtime, table *C.RawDeltaTable, version C.int64_t, callback C.TableEmptyCallback) {
	emptyOp(runtime, table, callback, func(t *delta.Table, cb delta.EmptyCallback) {
		t.LoadVersion(nil, int64(version), cb)
	})
}

//export table_load_with_datetime
func table_load_with_datetime(runtime *C.Runtime, table *C.RawDeltaTable, tsMilliseconds C.int64_t, callback C.TableEmptyCallback) {
	emptyOp(runtime, table, callback, func(t *delta.Table, cb delta.EmptyCallback) {
		t.LoadWithDatetime(nil, time.UnixMilli(int64(tsMilliseconds)), cb)
	})
}

//export table_merge
func table_merge(runtime *C.Runtime, table *C.RawDeltaTable, version C.int64_t, callback C.TableEmptyCallback) {
	emptyOp(runtime, table, callback, func(t *delta.Table, cb delta.EmptyCallback) {
		t.Merge(nil, int64(version), cb)
	})
}

//export table_protocol
func table_protocol(runtime *C.Runtime, table *C.RawDeltaTable, version C.int64_t, callback C.TableEmptyCallback) {
	emptyOp(runtime, table, callback, func(t *delta.Table, cb delta.EmptyCallback) {
		t.Protocol(nil, int64(version), cb)
	})
}

//export table_restore
func table_restore(runtime *C.Runtime, table *C.RawDeltaTable, version C.int64_t, callback C.TableEmptyCallback) {
	emptyOp(runtime, table, callback, func(t *delta.Table, cb delta.EmptyCallback) {
		t.Restore(nil, int64(version), cb)
	})
}

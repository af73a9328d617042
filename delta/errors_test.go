package delta

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/isar-aerospace/delta-dotnet/engine"
	"github.com/isar-aerospace/delta-dotnet/internal"
)

func TestErrorCodes(t *testing.T) {
	require.Len(t, codeNames, 33)
	require.Equal(t, ErrorCode(0), Utf8)
	require.Equal(t, ErrorCode(20), Io)
	require.Equal(t, ErrorCode(25), InvalidTableLocation)
	require.Equal(t, ErrorCode(32), NotInitialized)

	for c := Utf8; c <= NotInitialized; c++ {
		require.True(t, c.Valid())
		require.NotEmpty(t, codeNames[c], "code %d has no name", c)
	}
	require.False(t, ErrorCode(33).Valid())
	require.False(t, ErrorCode(-1).Valid())
	require.Equal(t, "ErrorCode(40)", ErrorCode(40).String())
	require.Equal(t, "VersionMismatch", VersionMismatch.String())
}

func TestErrorEnvelope(t *testing.T) {
	err := NewError(NotATable, "no log at %s", "memory://x")
	require.Equal(t, "NotATable: no log at memory://x", err.Error())
	require.ErrorIs(t, err, &Error{Code: NotATable})
	require.NotErrorIs(t, err, &Error{Code: Io})
	require.Equal(t, "Io", (&Error{Code: Io}).Error())
}

func TestClassify(t *testing.T) {
	require.Nil(t, Classify(nil))

	cases := []struct {
		name string
		err  error
		code ErrorCode
	}{
		{"not a table", fmt.Errorf("%w: memory://x", engine.ErrNotATable), NotATable},
		{"location", engine.ErrInvalidTableLocation, InvalidTableLocation},
		{"version", fmt.Errorf("load: %w", engine.ErrInvalidVersion), InvalidVersion},
		{"protocol", engine.ErrProtocol, Protocol},
		{"feature", engine.ErrMissingFeature, MissingFeature},
		{"not initialized", engine.ErrNotInitialized, NotInitialized},
		{"io sentinel", engine.ErrIo, Io},
		{"path error", &fs.PathError{Op: "open", Path: "/x", Err: fs.ErrPermission}, Io},
		{"json syntax", json.Unmarshal([]byte("{"), &struct{}{}), InvalidJsonLog},
		{"arrow", fmt.Errorf("%w: bad", arrow.ErrInvalid), Arrow},
		{"unknown", errors.New("something else"), GenericError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Error(t, tc.err)
			env := Classify(tc.err)
			require.Equal(t, tc.code, env.Code)
			require.ErrorIs(t, env, tc.err)
		})
	}
}

func TestClassifyCancellation(t *testing.T) {
	for _, err := range []error{context.Canceled, context.DeadlineExceeded, ErrCancelled} {
		env := Classify(fmt.Errorf("replay: %w", err))
		require.Equal(t, GenericError, env.Code)
		require.Equal(t, "operation cancelled", env.Message)
		require.ErrorIs(t, env, ErrCancelled)
	}
}

func TestClassifyPassesEnvelopesAndPanics(t *testing.T) {
	env := NewError(Transaction, "conflict")
	require.Same(t, env, Classify(fmt.Errorf("wrapped: %w", env)))

	panicked := Classify(&internal.PanicError{Name: "open", Value: "boom"})
	require.Equal(t, Generic, panicked.Code)
	require.Equal(t, "panic: boom", panicked.Message)
}

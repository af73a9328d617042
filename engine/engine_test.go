package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProtocolSupported(t *testing.T) {
	require.NoError(t, Protocol{MinReaderVersion: 1, MinWriterVersion: 2}.Supported())
	require.NoError(t, Protocol{
		MinReaderVersion: 3,
		MinWriterVersion: 7,
		ReaderFeatures:   []string{"deletionVectors", "columnMapping"},
	}.Supported())

	require.ErrorIs(t, Protocol{}.Supported(), ErrProtocol)
	require.ErrorIs(t, Protocol{MinReaderVersion: 4}.Supported(), ErrProtocol)
	require.ErrorIs(t, Protocol{MinReaderVersion: 3, ReaderFeatures: []string{"variantType"}}.Supported(), ErrMissingFeature)
}

func TestSnapshotAccessors(t *testing.T) {
	snap := &Snapshot{
		URI:         "memory://events/",
		Version:     2,
		FilesLoaded: true,
		Files: []File{
			{Path: "date=2024-01-01/part-1.parquet"},
			{Path: "s3://other/part-2.parquet"},
		},
	}
	paths, err := snap.FilePaths()
	require.NoError(t, err)
	require.Equal(t, []string{"date=2024-01-01/part-1.parquet", "s3://other/part-2.parquet"}, paths)

	uris, err := snap.FileURIs()
	require.NoError(t, err)
	require.Equal(t, "memory://events/date=2024-01-01/part-1.parquet", uris[0])
	require.Equal(t, "s3://other/part-2.parquet", uris[1])

	_, err = snap.Schema()
	require.ErrorIs(t, err, ErrNoMetadata)
	snap.Metadata = &Metadata{}
	_, err = snap.Schema()
	require.ErrorIs(t, err, ErrNoSchema)

	p := Protocol{MinReaderVersion: 2, MinWriterVersion: 5}
	cp := snap.WithProtocol(p)
	require.Equal(t, p, cp.Protocol)
	require.Equal(t, int32(0), snap.Protocol.MinReaderVersion)
	require.Equal(t, snap.Version, cp.Version)
}

type stubEngine struct {
	Engine
	loads []string
}

func (s *stubEngine) Load(_ context.Context, req LoadRequest) (*Snapshot, error) {
	s.loads = append(s.loads, req.URI)
	return &Snapshot{URI: req.URI}, nil
}

func TestRouter(t *testing.T) {
	r := NewRouter()
	local := &stubEngine{}
	r.Register("file", local)
	require.Equal(t, []string{"file"}, r.Schemes())

	_, err := r.Load(context.Background(), LoadRequest{URI: "/data/events"})
	require.NoError(t, err)
	_, err = r.Load(context.Background(), LoadRequest{URI: "file:///data/events"})
	require.NoError(t, err)
	require.Equal(t, []string{"/data/events", "file:///data/events"}, local.loads)

	_, err = r.Load(context.Background(), LoadRequest{URI: "gs://bucket/events"})
	require.ErrorIs(t, err, ErrInvalidTableLocation)

	_, err = r.Load(context.Background(), LoadRequest{URI: "%zz"})
	require.ErrorIs(t, err, ErrInvalidTableLocation)
}

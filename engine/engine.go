// Package engine defines the narrow contract between the bridge and the table
// engine that implements Delta log replay, checkpointing and file listing.
//
// The bridge never interprets the log itself. It schedules calls against an
// Engine, tracks the immutable Snapshots it returns, and transports the
// results across the boundary.
package engine

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// LatestVersion requests the newest committed version of a table.
const LatestVersion int64 = -1

// Engine is implemented by table engines. Every method must observe ctx at its
// safe points and return ctx.Err() (possibly wrapped) once it is done.
//
// Snapshots passed in are never mutated; methods that move a table to another
// version return a fresh Snapshot.
type Engine interface {
	// Load replays the log of the table at req.URI.
	Load(ctx context.Context, req LoadRequest) (*Snapshot, error)
	// Update applies the commits after base.Version up to maxVersion
	// (LatestVersion for all of them) on top of base.
	Update(ctx context.Context, base *Snapshot, maxVersion int64) (*Snapshot, error)
	// History returns commit information newest first, starting at
	// snap.Version. A limit of 0 returns the whole history.
	History(ctx context.Context, snap *Snapshot, limit int) ([]CommitInfo, error)
	// Restore moves the table back to version and returns its snapshot.
	Restore(ctx context.Context, snap *Snapshot, version int64) (*Snapshot, error)
	// Protocol returns the protocol in effect at version.
	Protocol(ctx context.Context, snap *Snapshot, version int64) (Protocol, error)
	// Vacuum removes data files no longer referenced by the table and older
	// than the retention period. It returns the removed paths, or the paths
	// that would be removed when req.DryRun is set.
	Vacuum(ctx context.Context, snap *Snapshot, req VacuumRequest) ([]string, error)
	// Checkpoint writes a checkpoint for snap.Version.
	Checkpoint(ctx context.Context, snap *Snapshot) error
}

// LoadRequest describes which snapshot of a table to load.
type LoadRequest struct {
	URI string
	// Version to load; LatestVersion for the newest one. Ignored when
	// Timestamp is set.
	Version int64
	// Timestamp selects the newest version committed at or before it.
	Timestamp      time.Time
	StorageOptions map[string]string
	// WithoutFiles skips materializing the file list.
	WithoutFiles bool
	// LogBufferSize is the number of commits replayed between cancellation
	// checks; 0 leaves the choice to the engine.
	LogBufferSize int
}

// VacuumRequest configures Engine.Vacuum.
type VacuumRequest struct {
	DryRun bool
	// Retention overrides the table's retention period when positive.
	Retention                time.Duration
	EnforceRetentionDuration bool
	CustomMetadata           map[string]string
}

// File is an add action in the current snapshot.
type File struct {
	Path             string            `json:"path"`
	Size             int64             `json:"size"`
	ModificationTime int64             `json:"modificationTime"`
	PartitionValues  map[string]string `json:"partitionValues,omitempty"`
	DataChange       bool              `json:"dataChange"`
}

// Format is the data file format of a table.
type Format struct {
	Provider string            `json:"provider"`
	Options  map[string]string `json:"options"`
}

// Metadata is the metaData action in effect for a snapshot.
type Metadata struct {
	ID               string
	Name             string
	Description      string
	Format           Format
	Schema           *Schema
	PartitionColumns []string
	Configuration    map[string]string
	CreatedTime      int64
}

type jsonMetadata struct {
	ID               string            `json:"id"`
	Name             string            `json:"name,omitempty"`
	Description      string            `json:"description,omitempty"`
	Format           Format            `json:"format"`
	SchemaString     string            `json:"schemaString"`
	PartitionColumns []string          `json:"partitionColumns"`
	Configuration    map[string]string `json:"configuration"`
	CreatedTime      int64             `json:"createdTime,omitempty"`
}

// MarshalJSON encodes the metadata like a Delta metaData action.
func (m *Metadata) MarshalJSON() ([]byte, error) {
	jm := jsonMetadata{
		ID:               m.ID,
		Name:             m.Name,
		Description:      m.Description,
		Format:           m.Format,
		PartitionColumns: m.PartitionColumns,
		Configuration:    m.Configuration,
		CreatedTime:      m.CreatedTime,
	}
	if jm.PartitionColumns == nil {
		jm.PartitionColumns = []string{}
	}
	if jm.Configuration == nil {
		jm.Configuration = map[string]string{}
	}
	if m.Schema != nil {
		schema, err := m.Schema.MarshalJSON()
		if err != nil {
			return nil, err
		}
		jm.SchemaString = string(schema)
	}
	out, err := json.Marshal(jm)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializeLogJSON, err)
	}
	return out, nil
}

// UnmarshalJSON decodes a Delta metaData action.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var jm jsonMetadata
	if err := json.Unmarshal(data, &jm); err != nil {
		return fmt.Errorf("%w: metaData: %w", ErrInvalidJSONLog, err)
	}
	*m = Metadata{
		ID:               jm.ID,
		Name:             jm.Name,
		Description:      jm.Description,
		Format:           jm.Format,
		PartitionColumns: jm.PartitionColumns,
		Configuration:    jm.Configuration,
		CreatedTime:      jm.CreatedTime,
	}
	if jm.SchemaString != "" {
		schema, err := ParseSchema([]byte(jm.SchemaString))
		if err != nil {
			return err
		}
		m.Schema = schema
	}
	return nil
}

// Reader protocol limits of the bridge. The bridge reads the log only, so
// features that change data file layout are accepted.
const MaxReaderVersion = 3

var supportedReaderFeatures = map[string]struct{}{
	"columnMapping":        {},
	"deletionVectors":      {},
	"timestampNtz":         {},
	"typeWidening":         {},
	"typeWidening-preview": {},
	"v2Checkpoint":         {},
	"vacuumProtocolCheck":  {},
}

// Protocol is the protocol action in effect for a snapshot.
type Protocol struct {
	MinReaderVersion int32    `json:"minReaderVersion"`
	MinWriterVersion int32    `json:"minWriterVersion"`
	ReaderFeatures   []string `json:"readerFeatures,omitempty"`
	WriterFeatures   []string `json:"writerFeatures,omitempty"`
}

// Supported reports whether the bridge can read a table with this protocol.
func (p Protocol) Supported() error {
	if p.MinReaderVersion < 1 {
		return fmt.Errorf("%w: invalid minReaderVersion %d", ErrProtocol, p.MinReaderVersion)
	}
	if p.MinReaderVersion > MaxReaderVersion {
		return fmt.Errorf("%w: reader version %d is not supported (max %d)",
			ErrProtocol, p.MinReaderVersion, MaxReaderVersion)
	}
	for _, f := range p.ReaderFeatures {
		if _, ok := supportedReaderFeatures[f]; !ok {
			return fmt.Errorf("%w: reader feature %q", ErrMissingFeature, f)
		}
	}
	return nil
}

// CommitInfo is one entry of a table's history.
type CommitInfo struct {
	Version             int64             `json:"version"`
	Timestamp           int64             `json:"timestamp"`
	Operation           string            `json:"operation"`
	OperationParameters map[string]string `json:"operationParameters,omitempty"`
	ReadVersion         *int64            `json:"readVersion,omitempty"`
	IsBlindAppend       bool              `json:"isBlindAppend"`
	ClientVersion       string            `json:"clientVersion,omitempty"`
	UserMetadata        string            `json:"userMetadata,omitempty"`
}

// Snapshot is the materialized state of a table at one version. Snapshots
// are immutable once an engine has returned them.
type Snapshot struct {
	URI      string
	Version  int64
	Metadata *Metadata
	Protocol Protocol
	// Files is nil when the snapshot was loaded without files.
	Files       []File
	FilesLoaded bool
	// Timestamp of the commit that produced Version, in milliseconds.
	Timestamp int64
}

// Schema returns the table schema of the snapshot.
func (s *Snapshot) Schema() (*Schema, error) {
	if s.Metadata == nil {
		return nil, ErrNoMetadata
	}
	if s.Metadata.Schema == nil {
		return nil, ErrNoSchema
	}
	return s.Metadata.Schema, nil
}

// FilePaths returns the table-relative paths of the active files.
func (s *Snapshot) FilePaths() ([]string, error) {
	if !s.FilesLoaded {
		return nil, fmt.Errorf("%w: snapshot was loaded without files", ErrNotInitialized)
	}
	paths := make([]string, len(s.Files))
	for i, f := range s.Files {
		paths[i] = f.Path
	}
	return paths, nil
}

// FileURIs returns the active files as absolute URIs under the table root.
func (s *Snapshot) FileURIs() ([]string, error) {
	paths, err := s.FilePaths()
	if err != nil {
		return nil, err
	}
	root := strings.TrimSuffix(s.URI, "/")
	for i, p := range paths {
		if u, err := url.Parse(p); err == nil && u.Scheme != "" {
			continue
		}
		paths[i] = root + "/" + strings.TrimPrefix(p, "/")
	}
	return paths, nil
}

// WithProtocol returns a copy of the snapshot carrying p.
func (s *Snapshot) WithProtocol(p Protocol) *Snapshot {
	cp := *s
	cp.Protocol = p
	return &cp
}

package memengine

import (
	"context"
	"fmt"
	"sort"

	"github.com/isar-aerospace/delta-dotnet/engine"
)

// replayState accumulates actions while walking the log.
type replayState struct {
	metadata *engine.Metadata
	protocol *engine.Protocol
	files    map[string]engine.File
	withFile bool
}

func newReplayState(base *engine.Snapshot, withFiles bool) *replayState {
	st := &replayState{withFile: withFiles}
	if withFiles {
		st.files = make(map[string]engine.File)
	}
	if base == nil {
		return st
	}
	st.metadata = base.Metadata
	proto := base.Protocol
	st.protocol = &proto
	if withFiles {
		for _, f := range base.Files {
			st.files[f.Path] = f
		}
	}
	return st
}

func (st *replayState) apply(c commit) {
	if c.metadata != nil {
		st.metadata = c.metadata
	}
	if c.protocol != nil {
		st.protocol = c.protocol
	}
	if !st.withFile {
		return
	}
	for _, p := range c.remove {
		delete(st.files, p)
	}
	for _, f := range c.add {
		st.files[f.Path] = f
	}
}

func (st *replayState) snapshot(uri string, c commit) (*engine.Snapshot, error) {
	if st.protocol == nil {
		return nil, fmt.Errorf("%w: no protocol action up to version %d", engine.ErrProtocol, c.version)
	}
	if st.metadata == nil {
		return nil, fmt.Errorf("%w: no metaData action up to version %d", engine.ErrNoMetadata, c.version)
	}
	snap := &engine.Snapshot{
		URI:         uri,
		Version:     c.version,
		Metadata:    st.metadata,
		Protocol:    *st.protocol,
		FilesLoaded: st.withFile,
		Timestamp:   c.timestamp,
	}
	if st.withFile {
		snap.Files = make([]engine.File, 0, len(st.files))
		for _, f := range st.files {
			snap.Files = append(snap.Files, f)
		}
		sort.Slice(snap.Files, func(i, j int) bool { return snap.Files[i].Path < snap.Files[j].Path })
	}
	return snap, nil
}

// replay applies commits[from..to] on top of st, checking ctx once every
// chunk commits.
func replay(ctx context.Context, uri string, st *replayState, commits []commit, from, to int64, chunk int) (*engine.Snapshot, error) {
	if chunk <= 0 {
		chunk = defaultLogBufferSize
	}
	for v := from; v <= to; v++ {
		if (v-from)%int64(chunk) == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		st.apply(commits[v])
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return st.snapshot(uri, commits[to])
}

// versionAt returns the newest version committed at or before tsMillis.
func versionAt(commits []commit, tsMillis int64) (int64, error) {
	idx := sort.Search(len(commits), func(i int) bool { return commits[i].timestamp > tsMillis })
	if idx == 0 {
		return 0, fmt.Errorf("%w: no commit at or before timestamp %d", engine.ErrInvalidVersion, tsMillis)
	}
	return commits[idx-1].version, nil
}

// activePaths returns the files referenced at the newest version.
func activePaths(commits []commit) map[string]struct{} {
	active := make(map[string]struct{})
	for _, c := range commits {
		for _, p := range c.remove {
			delete(active, p)
		}
		for _, f := range c.add {
			active[f.Path] = struct{}{}
		}
	}
	return active
}

package memengine

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/isar-aerospace/delta-dotnet/engine"
)

func (e *Engine) Load(ctx context.Context, req engine.LoadRequest) (*engine.Snapshot, error) {
	if err := e.runHook(ctx, OpLoad, req.URI); err != nil {
		return nil, err
	}
	if req.LogBufferSize < 0 {
		return nil, fmt.Errorf("%w: negative log buffer size %d", engine.ErrInvalidData, req.LogBufferSize)
	}
	_, commits, err := e.lookup(req.URI)
	if err != nil {
		return nil, err
	}
	head := int64(len(commits)) - 1

	target := head
	switch {
	case !req.Timestamp.IsZero():
		if target, err = versionAt(commits, req.Timestamp.UnixMilli()); err != nil {
			return nil, err
		}
	case req.Version >= 0:
		if req.Version > head {
			return nil, fmt.Errorf("%w: version %d does not exist (head is %d)", engine.ErrInvalidVersion, req.Version, head)
		}
		target = req.Version
	}
	st := newReplayState(nil, !req.WithoutFiles)
	return replay(ctx, req.URI, st, commits, 0, target, req.LogBufferSize)
}

func (e *Engine) Update(ctx context.Context, base *engine.Snapshot, maxVersion int64) (*engine.Snapshot, error) {
	if err := e.runHook(ctx, OpUpdate, base.URI); err != nil {
		return nil, err
	}
	_, commits, err := e.lookup(base.URI)
	if err != nil {
		return nil, err
	}
	head := int64(len(commits)) - 1
	if base.Version > head {
		return nil, fmt.Errorf("%w: snapshot at version %d is ahead of the log (head is %d)",
			engine.ErrVersionMismatch, base.Version, head)
	}
	target := head
	if maxVersion >= 0 {
		target = maxVersion
	}
	if target > head {
		return nil, fmt.Errorf("%w: version %d does not exist (head is %d)", engine.ErrInvalidVersion, target, head)
	}
	if target < base.Version {
		return nil, fmt.Errorf("%w: cannot update from version %d back to %d", engine.ErrInvalidVersion, base.Version, target)
	}
	if target == base.Version {
		return base, nil
	}
	st := newReplayState(base, base.FilesLoaded)
	return replay(ctx, base.URI, st, commits, base.Version+1, target, 0)
}

func (e *Engine) History(ctx context.Context, snap *engine.Snapshot, limit int) ([]engine.CommitInfo, error) {
	if err := e.runHook(ctx, OpHistory, snap.URI); err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, fmt.Errorf("%w: negative history limit %d", engine.ErrInvalidData, limit)
	}
	_, commits, err := e.lookup(snap.URI)
	if err != nil {
		return nil, err
	}
	if snap.Version >= int64(len(commits)) {
		return nil, fmt.Errorf("%w: snapshot at version %d is ahead of the log", engine.ErrVersionMismatch, snap.Version)
	}
	var out []engine.CommitInfo
	for v := snap.Version; v >= 0; v-- {
		if limit > 0 && len(out) == limit {
			break
		}
		info := commits[v].info
		info.Version = v
		out = append(out, info)
	}
	return out, ctx.Err()
}

// Restore truncates the log back to version. Files only referenced by the
// discarded commits become vacuum candidates.
func (e *Engine) Restore(ctx context.Context, snap *engine.Snapshot, version int64) (*engine.Snapshot, error) {
	if err := e.runHook(ctx, OpRestore, snap.URI); err != nil {
		return nil, err
	}
	key, err := tableKey(snap.URI)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	t, ok := e.tables[key]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: no log found at %s", engine.ErrNotATable, snap.URI)
	}
	head := int64(len(t.commits)) - 1
	if version < 0 || version > head {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot restore to version %d (head is %d)", engine.ErrInvalidVersion, version, head)
	}
	if err := ctx.Err(); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	before := activePaths(t.commits)
	after := activePaths(t.commits[:version+1])
	now := e.now().UnixMilli()
	for p := range before {
		if _, kept := after[p]; !kept {
			t.tombstones[p] = now
		}
	}
	for p := range after {
		delete(t.tombstones, p)
	}
	t.commits = slices.Clip(t.commits[:version+1])
	t.checkpoints = slices.DeleteFunc(t.checkpoints, func(v int64) bool { return v > version })
	commits := t.commits
	e.mu.Unlock()

	st := newReplayState(nil, snap.FilesLoaded)
	return replay(ctx, snap.URI, st, commits, 0, version, 0)
}

func (e *Engine) Protocol(ctx context.Context, snap *engine.Snapshot, version int64) (engine.Protocol, error) {
	if err := e.runHook(ctx, OpProtocol, snap.URI); err != nil {
		return engine.Protocol{}, err
	}
	_, commits, err := e.lookup(snap.URI)
	if err != nil {
		return engine.Protocol{}, err
	}
	head := int64(len(commits)) - 1
	if version < 0 {
		version = head
	}
	if version > head {
		return engine.Protocol{}, fmt.Errorf("%w: version %d does not exist (head is %d)", engine.ErrInvalidVersion, version, head)
	}
	for v := version; v >= 0; v-- {
		if p := commits[v].protocol; p != nil {
			return *p, ctx.Err()
		}
	}
	return engine.Protocol{}, fmt.Errorf("%w: no protocol action up to version %d", engine.ErrProtocol, version)
}

// Vacuum deletes files that are not referenced by the newest version of the
// table and were dereferenced longer than the retention period ago. A
// non-dry run records a VACUUM commit without file actions.
func (e *Engine) Vacuum(ctx context.Context, snap *engine.Snapshot, req engine.VacuumRequest) ([]string, error) {
	if err := e.runHook(ctx, OpVacuum, snap.URI); err != nil {
		return nil, err
	}
	retention := req.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	if req.EnforceRetentionDuration && retention < DefaultRetention {
		return nil, fmt.Errorf("%w: retention period %s is shorter than the minimum %s",
			engine.ErrInvalidData, retention, DefaultRetention)
	}
	key, err := tableKey(snap.URI)
	if err != nil {
		return nil, err
	}
	userMetadata := ""
	if len(req.CustomMetadata) > 0 {
		b, err := json.Marshal(req.CustomMetadata)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", engine.ErrSerializeLogJSON, err)
		}
		userMetadata = string(b)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tables[key]
	if !ok {
		return nil, fmt.Errorf("%w: no log found at %s", engine.ErrNotATable, snap.URI)
	}
	now := e.now()
	cutoff := now.Add(-retention).UnixMilli()
	active := activePaths(t.commits)
	var out []string
	for p := range t.objects {
		if _, ok := active[p]; ok {
			continue
		}
		if ts, ok := t.tombstones[p]; ok && ts > cutoff {
			continue
		}
		out = append(out, p)
	}
	sort.Strings(out)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.DryRun {
		return out, nil
	}
	for _, p := range out {
		delete(t.objects, p)
		delete(t.tombstones, p)
	}
	version := int64(len(t.commits))
	readVersion := version - 1
	t.commits = append(t.commits, commit{
		version:   version,
		timestamp: now.UnixMilli(),
		info: engine.CommitInfo{
			Operation: "VACUUM END",
			OperationParameters: map[string]string{
				"status":           "COMPLETED",
				"numDeletedFiles":  strconv.Itoa(len(out)),
				"retentionMillis":  strconv.FormatInt(retention.Milliseconds(), 10),
				"enforceRetention": strconv.FormatBool(req.EnforceRetentionDuration),
			},
			Timestamp:     now.UnixMilli(),
			ReadVersion:   &readVersion,
			IsBlindAppend: true,
			UserMetadata:  userMetadata,
		},
	})
	return out, nil
}

func (e *Engine) Checkpoint(ctx context.Context, snap *engine.Snapshot) error {
	if err := e.runHook(ctx, OpCheckpoint, snap.URI); err != nil {
		return err
	}
	key, err := tableKey(snap.URI)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tables[key]
	if !ok {
		return fmt.Errorf("%w: no log found at %s", engine.ErrNotATable, snap.URI)
	}
	if snap.Version >= int64(len(t.commits)) {
		return fmt.Errorf("%w: snapshot at version %d is ahead of the log", engine.ErrVersionMismatch, snap.Version)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !slices.Contains(t.checkpoints, snap.Version) {
		t.checkpoints = append(t.checkpoints, snap.Version)
		slices.Sort(t.checkpoints)
	}
	return nil
}

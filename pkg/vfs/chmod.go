package vfs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/backend"
)

// Scope selects which descendants a recursive chmod touches. The target
// itself is always changed.
type Scope string

const (
	ScopeNone    Scope = "none"
	ScopeAll     Scope = "all"
	ScopeFolders Scope = "folders"
	ScopeFiles   Scope = "files"
)

// ParseScope validates a caller-supplied scope. The empty string means
// ScopeNone.
func ParseScope(s string) (Scope, error) {
	switch sc := Scope(strings.ToLower(s)); sc {
	case "":
		return ScopeNone, nil
	case ScopeNone, ScopeAll, ScopeFolders, ScopeFiles:
		return sc, nil
	default:
		return "", validationError("chmod", "", "invalid recursive scope %q", s)
	}
}

func (s Scope) matches(t backend.ObjectType) bool {
	switch s {
	case ScopeAll:
		return true
	case ScopeFolders:
		return t == backend.TypeDir
	case ScopeFiles:
		return t == backend.TypeFile
	default:
		return false
	}
}

// ChmodOutcome is the result for one item of a chmod call.
type ChmodOutcome struct {
	Path string    `json:"path"`
	Type EntryType `json:"type"`
	Mode int       `json:"mode"`
	Err  error     `json:"-"`
}

// ChmodResult reports what a chmod call did.
//
// Supported is false when the backend keeps no permission bits; nothing is
// changed in that case and Outcomes is empty.
type ChmodResult struct {
	Supported bool
	Outcomes  []ChmodOutcome
}

// Failed returns the outcomes that carry an error.
func (r ChmodResult) Failed() []ChmodOutcome {
	var out []ChmodOutcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// OK reports whether every item was changed.
func (r ChmodResult) OK() bool {
	return len(r.Failed()) == 0
}

// Chmod sets the permission bits of p and of the descendants selected by
// scope to mode.
//
// Descendants are listed before any change and updated deepest first; the
// target is updated last.
//
// A mode of -1 is accepted as a no-op. On backends without permission
// support the call succeeds with Supported=false. A failure on the target
// itself is returned as the error; failures on descendants are recorded in
// the result and the walk continues.
//
// Parameters:
//   - ctx: Context for cancellation
//   - p: Sandbox-relative target path
//   - mode: Unix permission bits (0..0777) or -1
//   - scope: Descendants to include
//
// Returns:
//   - ChmodResult: One outcome per item attempted (target first)
//   - error: Validation, storage or context errors affecting the whole call
func (f *Filesystem) Chmod(ctx context.Context, p string, mode int, scope Scope) (result ChmodResult, err error) {
	const op = "chmod"
	defer f.observe(op, time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return ChmodResult{}, err
	}

	if mode < -1 || mode > 0o777 {
		return ChmodResult{}, validationError(op, "", "mode %o out of range", mode)
	}
	scope, err = ParseScope(string(scope))
	if err != nil {
		return ChmodResult{}, err
	}

	target, err := f.resolve(op, p)
	if err != nil {
		return ChmodResult{}, err
	}

	obj, err := f.stat(ctx, op, target)
	if err != nil {
		return ChmodResult{}, err
	}

	pb, ok := f.backend.(backend.PermissionBackend)
	if !ok {
		logger.Debug("vfs: chmod %s ignored, backend keeps no permission bits", f.strip(target))
		return ChmodResult{Supported: false}, nil
	}
	result.Supported = true

	if mode == -1 {
		return result, nil
	}

	// ========================================================================
	// Step 1: Collect descendants before anything changes
	// ========================================================================

	// A restrictive mode on a directory can make it unlistable, so the tree
	// is read while the current bits still apply.
	result.Outcomes = append(result.Outcomes, ChmodOutcome{Path: f.strip(target), Type: entryType(obj.Type), Mode: mode})
	backendPaths := []string{target}

	if obj.IsDir() && scope != ScopeNone {
		objects, err := f.backend.List(ctx, target, true)
		if err != nil {
			return ChmodResult{Supported: true}, f.storageError(op, target, err)
		}

		for _, o := range objects {
			if !scope.matches(o.Type) {
				continue
			}
			result.Outcomes = append(result.Outcomes, ChmodOutcome{Path: f.strip(o.Path), Type: entryType(o.Type), Mode: mode})
			backendPaths = append(backendPaths, o.Path)
		}
	}

	// ========================================================================
	// Step 2: Apply deepest first, target last
	// ========================================================================

	order := make([]int, 0, len(backendPaths)-1)
	for i := 1; i < len(backendPaths); i++ {
		order = append(order, i)
	}
	sort.SliceStable(order, func(a, b int) bool {
		return depth(backendPaths[order[a]]) > depth(backendPaths[order[b]])
	})

	for _, i := range order {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		outcome := &result.Outcomes[i]
		if err := pb.SetPermissions(ctx, backendPaths[i], mode); err != nil {
			outcome.Err = f.storageError(op, backendPaths[i], err)
			logger.Warn("vfs: chmod %s failed: %v", outcome.Path, outcome.Err)
		}
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}
	if err := pb.SetPermissions(ctx, target, mode); err != nil {
		result.Outcomes[0].Err = f.storageError(op, target, err)
		return result, result.Outcomes[0].Err
	}

	failed := len(result.Failed())
	f.metrics.RecordChmod(scope, failed)
	logger.Debug("vfs: chmod %s %s scope=%s (%d items, %d failed, actor=%s)",
		f.strip(target), fmt.Sprintf("%04o", mode), scope, len(result.Outcomes), failed, f.actor)

	return result, nil
}

func depth(p string) int {
	return strings.Count(backend.Clean(p), "/")
}

// Permissions returns the permission bits of p, or -1 when the backend
// keeps none.
func (f *Filesystem) Permissions(ctx context.Context, p string) (int, error) {
	const op = "permissions"

	if err := ctx.Err(); err != nil {
		return -1, err
	}

	target, err := f.resolve(op, p)
	if err != nil {
		return -1, err
	}

	pb, ok := f.backend.(backend.PermissionBackend)
	if !ok {
		if _, err := f.stat(ctx, op, target); err != nil {
			return -1, err
		}
		return -1, nil
	}

	mode, err := pb.Permissions(ctx, target)
	if err != nil {
		return -1, f.storageError(op, target, err)
	}
	return mode, nil
}

// RequirePermissions is Permissions for callers that need real bits: an
// unsupported backend yields a PermissionUnsupported error instead of -1.
func (f *Filesystem) RequirePermissions(ctx context.Context, p string) (int, error) {
	mode, err := f.Permissions(ctx, p)
	if err != nil {
		return -1, err
	}
	if mode < 0 {
		rel, _ := f.normalize("permissions", p)
		return -1, NewError(KindPermissionUnsupported, "permissions", rel, nil)
	}
	return mode, nil
}

// Package lazyvalgrade is the public entry point: Patch and PatchAll take
// grouped classes (see package group) and return, per group, either the
// rewritten class bytes or a Diagnostic explaining why nothing changed.
package lazyvalgrade

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/VirtusLab/lazyvalgrade/classfile"
	"github.com/VirtusLab/lazyvalgrade/detect"
	"github.com/VirtusLab/lazyvalgrade/group"
	"github.com/VirtusLab/lazyvalgrade/rewrite"
)

// ResultKind classifies the outcome of patching one Group.
type ResultKind int

const (
	// NotApplicable means the group had nothing for this tool to do -
	// either no lazy val accessors were detected at all, or every one
	// detected is already on the VarHandle scheme (AlreadyPatched).
	NotApplicable ResultKind = iota
	// PatchedSingle means a Singleton group was rewritten successfully.
	PatchedSingle
	// PatchedPair means a CompanionPair group was rewritten successfully,
	// both halves together, atomically.
	PatchedPair
	// Failed means extraction or rewriting hit an error; the group's
	// classes are left untouched by convention (Rewrite only mutates
	// in-place parsed trees, and a Failed result is never written out).
	Failed
)

func (k ResultKind) String() string {
	switch k {
	case NotApplicable:
		return "NotApplicable"
	case PatchedSingle:
		return "PatchedSingle"
	case PatchedPair:
		return "PatchedPair"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// PatchResult is the outcome of attempting to patch one Group.
type PatchResult struct {
	Kind       ResultKind
	Group      *group.Group
	Diagnostic *Diagnostic

	// Output maps each rewritten class's internal name to its serialized
	// bytes, set only when Kind is PatchedSingle or PatchedPair.
	Output map[string][]byte
}

// AlreadyPatched reports whether every lazy val detected in g is already
// on the HandleBased scheme, the idempotence check callers can run ahead
// of a full Patch to skip work on a tree that has already been migrated
// (spec invariant: re-running this tool on its own output is a no-op).
func AlreadyPatched(g *group.Group) bool {
	if len(g.LazyVals) == 0 {
		return false
	}
	for _, lv := range g.LazyVals {
		if lv.Family != detect.HandleBased {
			return false
		}
	}
	return true
}

// Patch rewrites g in place and serializes the result, using the default
// OFFSET/<clinit> scan bound. It never partially rewrites a CompanionPair:
// rewrite.Rewriter.Rewrite either transforms every detected lazy val
// across both halves or returns an error, and Patch reports Failed
// without serializing anything in that case.
func Patch(g *group.Group) PatchResult {
	return PatchWithScanLimit(g, 0)
}

// PatchWithScanLimit behaves like Patch but overrides the rewriter's
// OFFSET/<clinit> backward scan bound; scanLimit <= 0 means use
// rewrite.DefaultOffsetScanLimit.
func PatchWithScanLimit(g *group.Group, scanLimit int) PatchResult {
	if len(g.LazyVals) == 0 {
		d := NewDiagnosticKind(Irrelevant, g.Class.Name, "no lazy val accessors detected", nil)
		return PatchResult{Kind: NotApplicable, Group: g, Diagnostic: &d}
	}
	if AlreadyPatched(g) {
		d := NewDiagnosticKind(AlreadyHandleBased, g.Class.Name, "already on the VarHandle scheme", nil)
		return PatchResult{Kind: NotApplicable, Group: g, Diagnostic: &d}
	}

	r := &rewrite.Rewriter{ScanLimit: scanLimit}
	if err := r.Rewrite(g); err != nil {
		// A class whose lazy vals could not be classified (Unknown) is
		// reported Failed exactly like any other rewrite error; the
		// distinct Diagnostic.Kind is what lets a caller that must honor
		// the never-throw boundary (spec §9) tell it apart and re-raise
		// instead of silently leaving known-broken Unsafe references in
		// place.
		d := NewDiagnostic(g.Class.Name, "rewrite failed", err)
		return PatchResult{Kind: Failed, Group: g, Diagnostic: &d}
	}

	out, err := serialize(g)
	if err != nil {
		d := NewDiagnosticKind(RewriteFailure, g.Class.Name, "serialization failed", err)
		return PatchResult{Kind: Failed, Group: g, Diagnostic: &d}
	}

	kind := PatchedSingle
	if g.Kind == group.CompanionPair {
		kind = PatchedPair
	}
	return PatchResult{Kind: kind, Group: g, Output: out}
}

func serialize(g *group.Group) (map[string][]byte, error) {
	out := make(map[string][]byte, 2)
	b, err := classfile.Write(g.Class)
	if err != nil {
		return nil, fmt.Errorf("writing %s: %w", g.Class.Name, err)
	}
	out[g.Class.Name] = b

	if g.Companion != nil {
		cb, err := classfile.Write(g.Companion)
		if err != nil {
			return nil, fmt.Errorf("writing %s: %w", g.Companion.Name, err)
		}
		out[g.Companion.Name] = cb
	}
	return out, nil
}

// PatchAll runs Patch over every group concurrently, bounded by
// concurrency (zero or negative means unbounded). It never returns an
// error itself - a per-group failure surfaces as that group's Failed
// PatchResult, not as an aborted batch, so one malformed companion pair
// never prevents the rest of a tree from being patched.
func PatchAll(ctx context.Context, groups []*group.Group, concurrency int) []PatchResult {
	return PatchAllWithScanLimit(ctx, groups, concurrency, 0)
}

// PatchAllWithScanLimit behaves like PatchAll but overrides the rewriter's
// OFFSET/<clinit> backward scan bound for every group; scanLimit <= 0
// means use rewrite.DefaultOffsetScanLimit.
func PatchAllWithScanLimit(ctx context.Context, groups []*group.Group, concurrency, scanLimit int) []PatchResult {
	results := make([]PatchResult, len(groups))

	g, _ := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}

	for i, grp := range groups {
		i, grp := i, grp
		g.Go(func() error {
			results[i] = PatchWithScanLimit(grp, scanLimit)
			return nil
		})
	}
	_ = g.Wait() // Patch never returns an error through the group; nothing to propagate

	return results
}

package lazyvalgrade

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/VirtusLab/lazyvalgrade/detect"
	"github.com/VirtusLab/lazyvalgrade/extract"
)

// DiagnosticKind names which of spec §7's error kinds produced a
// Diagnostic, letting a caller tell "class just has no lazy vals" apart
// from "this class's lazy vals could not be safely classified" without
// parsing Reason strings.
type DiagnosticKind int

const (
	// MalformedClass means the bytes never parsed as a class file.
	MalformedClass DiagnosticKind = iota
	// Irrelevant means the class has no lazy-val markers at all.
	Irrelevant
	// AlreadyHandleBased means every detected lazy val is already on the
	// VarHandle scheme.
	AlreadyHandleBased
	// UnknownScheme means lazy-val markers are present but at least one
	// could not be classified into a known family. Unlike every other
	// kind, a caller must not silently treat this as "leave unchanged":
	// per spec §9's never-throw boundary, a load-time caller is expected
	// to re-raise rather than let the class load with the soon-to-be-
	// removed Unsafe references it was never able to safely retarget.
	UnknownScheme
	// ExtractionFailure means the initializer's instruction boundaries
	// could not be found.
	ExtractionFailure
	// RewriteFailure means synthesized bytecode could not be assembled,
	// or the rewritten class could not be serialized.
	RewriteFailure
)

func (k DiagnosticKind) String() string {
	switch k {
	case MalformedClass:
		return "MalformedClass"
	case Irrelevant:
		return "Irrelevant"
	case AlreadyHandleBased:
		return "AlreadyHandleBased"
	case UnknownScheme:
		return "UnknownScheme"
	case ExtractionFailure:
		return "ExtractionFailure"
	case RewriteFailure:
		return "RewriteFailure"
	default:
		return "RewriteFailure"
	}
}

// Diagnostic explains why a class could not be patched, carrying a
// correlation id so a single run's log lines and its final summary can be
// cross-referenced (grounded on the pack-wide convention of stamping a
// uuid onto anything a user might later need to search logs for).
type Diagnostic struct {
	ID     uuid.UUID
	Kind   DiagnosticKind
	Class  string
	Reason string
	Cause  error
}

// NewDiagnostic builds a Diagnostic with a fresh correlation id, inferring
// its Kind from cause when possible and defaulting to RewriteFailure
// otherwise (the catch-all §7 kind for "synthesized bytecode could not be
// assembled").
func NewDiagnostic(class, reason string, cause error) Diagnostic {
	return Diagnostic{ID: uuid.New(), Kind: kindOf(cause), Class: class, Reason: reason, Cause: cause}
}

// NewDiagnosticKind builds a Diagnostic with an explicit kind, for the
// cases that don't stem from a wrapped error (no lazy vals at all, or
// everything already on the VarHandle scheme).
func NewDiagnosticKind(kind DiagnosticKind, class, reason string, cause error) Diagnostic {
	return Diagnostic{ID: uuid.New(), Kind: kind, Class: class, Reason: reason, Cause: cause}
}

func kindOf(cause error) DiagnosticKind {
	switch {
	case cause == nil:
		return RewriteFailure
	case errors.Is(cause, detect.ErrUnknownLazyVal):
		return UnknownScheme
	case errors.Is(cause, extract.ErrExtractionFailure):
		return ExtractionFailure
	default:
		return RewriteFailure
	}
}

func (d Diagnostic) String() string {
	if d.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", d.ID, d.Class, d.Reason, d.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", d.ID, d.Class, d.Reason)
}

func (d Diagnostic) Error() string { return d.String() }

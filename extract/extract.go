// Package extract pulls the pure initializer computation out of a
// Scala 3.3-3.7 lzyINIT method, discarding the surrounding CAS retry
// plumbing so the rewriter can re-embed the same computation inside a
// freshly synthesized VarHandle-based lzyINIT (spec §4.4).
package extract

import (
	"errors"
	"fmt"

	"github.com/VirtusLab/lazyvalgrade/classfile"
	"github.com/VirtusLab/lazyvalgrade/detect"
)

// ErrExtractionFailure is wrapped by every error FromLzyInit/FromBitmapAccessor
// return, letting a caller distinguish "could not bound the initializer"
// from other rewrite failures (spec §7's ExtractionFailure error kind).
var ErrExtractionFailure = errors.New("could not bound lazy val initializer")

// slotOfComputedValue is the local variable slot dotty's 3.3-3.7 lzyINIT
// emits the computed value into right before the CAS attempt, observed
// across every ObjectUnsafe scaffold regardless of the lazy val's static
// type (the slot is always free because the method's only declared
// parameter is the receiver in slot 0).
const slotOfComputedValue = 5

// Initializer is the extracted computation: the instructions that produce
// the lazy val's value, ready to be spliced into a new accessor body. It
// never includes the CAS, the retry loop, or the final return - the
// rewriter supplies fresh versions of those around whatever Initializer
// holds.
type Initializer struct {
	Body *classfile.InstructionList

	// AlwaysThrows is true when the initializer never completes normally
	// (a lazy val of type Nothing computed by an expression that always
	// throws); in that case there is no xSTORE slotOfComputedValue marker
	// to bound the extraction on, and Body ends at the exception handler's
	// start label instead.
	AlwaysThrows bool
}

// FromLzyInit extracts the initializer from info's out-of-line lzyINIT
// method. info.Family must be detect.ObjectUnsafe; info.InitMethod names
// the method on owner.
//
// Per spec §4.4 step 1, extraction does not start at the top of the
// method: a 3.3-3.7 lzyINIT opens with a CAS call (scala.runtime.LazyVals
// objCAS) claiming the right to run the initializer, followed by a
// conditional branch on whether that CAS succeeded. The user expression
// begins on the success branch; everything before it is old CAS/retry
// plumbing the VarHandle scheme's own synthesized lzyINIT replaces wholesale
// and must be discarded, not carried forward.
func FromLzyInit(owner *classfile.Class, info detect.LazyValInfo) (*Initializer, error) {
	if info.Family != detect.ObjectUnsafe {
		return nil, fmt.Errorf("extract: %s.%s is not an ObjectUnsafe lazy val", info.Owner, info.Name)
	}
	var m *classfile.Method
	for _, cand := range owner.Methods {
		if cand.Name == info.InitMethod {
			m = cand
			break
		}
	}
	if m == nil || m.Code == nil {
		return nil, fmt.Errorf("%w: %s has no code for lzyINIT method %s", ErrExtractionFailure, owner.Name, info.InitMethod)
	}

	list := m.Code.Instructions
	start := indexOfCASSuccessBranch(list)
	if start < 0 {
		return nil, fmt.Errorf("%w: no CAS-then-branch preamble found in %s.%s",
			ErrExtractionFailure, owner.Name, info.InitMethod)
	}

	end := indexOfValueStore(list, start)
	if end >= start {
		body, _ := list.CloneRange(start, end)
		return &Initializer{Body: stripFrames(body)}, nil
	}

	end = indexOfHandlerStart(m.Code, list)
	if end >= start {
		body, _ := list.CloneRange(start, end)
		return &Initializer{Body: stripFrames(body), AlwaysThrows: true}, nil
	}

	return nil, fmt.Errorf("%w: could not bound initializer in %s.%s: no slot-%d store and no exception handler",
		ErrExtractionFailure, owner.Name, info.InitMethod, slotOfComputedValue)
}

// FromBitmapAccessor extracts the initializer from a Scala 3.0-3.2 inline
// accessor: everything after the bitmap-guard branch up to (but not
// including) the store into the accessor's own backing field, which is the
// inline scheme's equivalent of the CAS write.
func FromBitmapAccessor(owner *classfile.Class, info detect.LazyValInfo) (*Initializer, error) {
	if info.Family != detect.Bitmap {
		return nil, fmt.Errorf("extract: %s.%s is not a Bitmap lazy val", info.Owner, info.Name)
	}
	m := owner.FindMethod(info.AccessorName, info.AccessorDesc)
	if m == nil || m.Code == nil {
		return nil, fmt.Errorf("%w: %s has no code for accessor %s", ErrExtractionFailure, owner.Name, info.AccessorName)
	}
	list := m.Code.Instructions

	guardEnd := -1
	for i := 0; i < list.Len(); i++ {
		if list.At(i).Op == classfile.IFNE || list.At(i).Op == classfile.IFEQ {
			guardEnd = i + 1
			break
		}
	}
	if guardEnd < 0 {
		return nil, fmt.Errorf("%w: no bitmap guard branch found in %s.%s",
			ErrExtractionFailure, owner.Name, info.AccessorName)
	}

	storeEnd := -1
	for i := guardEnd; i < list.Len(); i++ {
		insn := list.At(i)
		if insn.Op == classfile.PUTFIELD && insn.Owner == owner.Name && insn.Name == info.StorageField {
			storeEnd = i
			break
		}
	}
	if storeEnd < 0 {
		return nil, fmt.Errorf("%w: no store to %s found after bitmap guard in %s.%s",
			ErrExtractionFailure, info.StorageField, owner.Name, info.AccessorName)
	}

	body, _ := list.CloneRange(guardEnd, storeEnd)
	return &Initializer{Body: stripFrames(body)}, nil
}

// indexOfCASSuccessBranch locates the spec §4.4 step-1 boundary: the first
// call to scala.runtime.LazyVals' objCAS, followed by the conditional
// branch that tests its result. It returns the index immediately after
// that branch - the start of the success (fallthrough) path, where the
// user expression begins.
func indexOfCASSuccessBranch(list *classfile.InstructionList) int {
	for i := 0; i < list.Len(); i++ {
		insn := list.At(i)
		isCAS := (insn.Op == classfile.INVOKEVIRTUAL || insn.Op == classfile.INVOKESTATIC ||
			insn.Op == classfile.INVOKEINTERFACE) && insn.Name == "objCAS"
		if !isCAS {
			continue
		}
		for j := i + 1; j < list.Len(); j++ {
			if isConditionalBranch(list.At(j).Op) {
				return j + 1
			}
		}
	}
	return -1
}

func isConditionalBranch(op classfile.Op) bool {
	switch op {
	case classfile.IFEQ, classfile.IFNE, classfile.IFLT, classfile.IFGE, classfile.IFGT, classfile.IFLE,
		classfile.IF_ICMPEQ, classfile.IF_ICMPNE, classfile.IF_ICMPLT, classfile.IF_ICMPGE,
		classfile.IF_ICMPGT, classfile.IF_ICMPLE, classfile.IF_ACMPEQ, classfile.IF_ACMPNE,
		classfile.IFNULL, classfile.IFNONNULL:
		return true
	default:
		return false
	}
}

func indexOfValueStore(list *classfile.InstructionList, from int) int {
	for i := from; i < list.Len(); i++ {
		insn := list.At(i)
		switch insn.Op {
		case classfile.ISTORE, classfile.LSTORE, classfile.FSTORE, classfile.DSTORE, classfile.ASTORE:
			if insn.VarIndex == slotOfComputedValue {
				return i
			}
		}
	}
	return -1
}

// indexOfHandlerStart returns the position of the first try/catch handler's
// label within list, used to bound an always-throwing initializer that has
// no normal-completion store to key off of.
func indexOfHandlerStart(code *classfile.Code, list *classfile.InstructionList) int {
	if len(code.TryCatches) == 0 {
		return -1
	}
	idx := list.IndexOfLabel(code.TryCatches[0].Handler)
	if idx < 0 {
		return -1
	}
	return idx
}

// stripFrames removes pseudo stack-map-frame markers from an extracted
// range; the rewriter's destination method recomputes its own StackMapTable
// from scratch (classfile.computeStackMapTable), so any frame markers
// carried over from the source method are both stale and unnecessary.
func stripFrames(list *classfile.InstructionList) *classfile.InstructionList {
	out := classfile.NewInstructionList()
	for i := 0; i < list.Len(); i++ {
		insn := list.At(i)
		if insn.Op.IsFramePseudo() {
			continue
		}
		out.Append(insn)
	}
	return out
}

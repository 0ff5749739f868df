// Package detect classifies a class's lazy val accessors by which of the
// compiler-generated implementation strategies backs them, the way a
// classloading-time verifier pass classifies method shapes without
// executing anything (grounded on artipop-jacobin's initializerBlock.go
// walking a class's static initializer purely by inspecting its bytecode).
package detect

import (
	"errors"
	"strings"

	"github.com/VirtusLab/lazyvalgrade/classfile"
)

// ErrUnknownLazyVal is wrapped by a rewrite error whenever a Family.Unknown
// lazy val reaches the rewriter: it was classified as genuinely lazy-val
// shaped (a volatile "$lzy"-marked field) but matched none of the known
// compiler schemes, so it cannot be safely retargeted. Spec §7/§9 require
// this to surface distinctly rather than be swallowed as an ordinary
// rewrite failure.
var ErrUnknownLazyVal = errors.New("lazy val accessor has an unrecognized scheme")

// Family identifies which compiler scheme backs a lazy val accessor.
type Family int

const (
	// Unknown means the class carries $lzy-marked storage but no recognized
	// offset/bitmap/handle/init combination backs it; callers must surface
	// this rather than silently leaving the class alone (spec §4.2 "fail
	// with Unknown, not silently pass").
	Unknown Family = iota
	// Bitmap is the Scala 3.0-3.2 scheme: an inline accessor guarded by a
	// bitmap flag, no out-of-line initializer method.
	Bitmap
	// ObjectUnsafe is the Scala 3.3-3.7 scheme: a CAS on a long OFFSET
	// field mediated by scala.runtime.LazyVals (itself built on
	// sun.misc.Unsafe, never invoked directly from compiled application
	// code), with an out-of-line lzyINIT method.
	ObjectUnsafe
	// HandleBased is the Scala 3.8 target scheme: a VarHandle CAS. Classes
	// already in this family are reported NotApplicable/AlreadyHandleBased.
	HandleBased
)

func (f Family) String() string {
	switch f {
	case Bitmap:
		return "Bitmap"
	case ObjectUnsafe:
		return "ObjectUnsafe"
	case HandleBased:
		return "HandleBased"
	default:
		return "Unknown"
	}
}

// LazyValInfo describes one detected lazy val accessor and the scaffold
// bytecode that implements it, gathered from both the class that declares
// the accessor and (for ObjectUnsafe) the companion object that owns its
// OFFSET field and <clinit> publication (spec §3 "companion pairs").
type LazyValInfo struct {
	Name   string // the Scala-source lazy val's name, e.g. "x"
	Family Family
	Owner  string // internal name of the class declaring the accessor

	StorageField string // backing field holding the computed value
	AccessorName string
	AccessorDesc string

	// ObjectUnsafe-only fields; zero values for Bitmap/HandleBased.
	OffsetField string // static long field read via LazyVals.getOffsetStatic, e.g. "OFFSET$0"
	OffsetOwner string // class that actually declares OffsetField (may be the companion)
	InitMethod  string // out-of-line "<name>$lzyINIT$1" method name
	BitmapField string // Bitmap-only: the int flag field guarding the accessor
	BitmapMask  int32  // Bitmap-only: the mask tested/set on that field
}

// lazyValsOwnerPrefix matches scala/runtime/LazyVals$ itself plus its
// nested sentinel holders (scala/runtime/LazyVals$Evaluating$,
// scala/runtime/LazyVals$Waiting, scala/runtime/LazyVals$NullValue$): the
// accessor and lzyINIT method of a 3.3-3.7 lazy val reference this facade,
// never sun.misc.Unsafe directly (spec §4.2/§6).
const lazyValsOwnerPrefix = "scala/runtime/LazyVals"

const (
	varHandleOwner = "java/lang/invoke/VarHandle"
	varHandleDesc  = "Ljava/lang/invoke/VarHandle;"
)

// looksLikeLazyValBearing runs a cheap heuristic scan over class's flat
// disassembly (spec §4.1) before classifyAccessor's structured per-method
// walk: any of the markers every known scheme leaves behind somewhere in
// the class's bytecode text. It is deliberately coarse and only used to
// skip structured work on a class with none of the byte patterns at all;
// classifyAccessor alone decides the actual Family.
func looksLikeLazyValBearing(class *classfile.Class) bool {
	text := classfile.DisassembleAll(class)
	for _, marker := range [...]string{"$lzy", lazyValsOwnerPrefix, varHandleDesc} {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// DetectAll scans every method of class for lazy val accessors, classifying
// each by family. It never reads companion bytecode itself — scanning a
// companion's OFFSET field and <clinit> is the caller's job once group.Pair
// has matched a class to its companion (spec §4.3), since a Singleton has
// no companion to consult.
func DetectAll(class *classfile.Class) []LazyValInfo {
	if !looksLikeLazyValBearing(class) {
		return nil
	}
	var out []LazyValInfo
	for _, m := range class.Methods {
		if m.Code == nil || m.IsStatic() {
			continue
		}
		if info, ok := classifyAccessor(class, m); ok {
			out = append(out, info)
		}
	}
	return out
}

// classifyAccessor inspects one candidate getter method's body. A method is
// only a lazy val accessor candidate if it takes no arguments and returns a
// non-void value; everything else is skipped without further inspection.
func classifyAccessor(class *classfile.Class, m *classfile.Method) (LazyValInfo, bool) {
	if !looksLikeAccessorDescriptor(m.Descriptor) {
		return LazyValInfo{}, false
	}

	if info, ok := classifyHandleBased(class, m); ok {
		return info, true
	}

	list := m.Code.Instructions
	var usesLazyVals bool
	var offsetField, storageField, initMethod string

	for i := 0; i < list.Len(); i++ {
		insn := list.At(i)
		switch insn.Op {
		case classfile.GETSTATIC:
			if insn.Desc == "J" && isOffsetFieldName(insn.Name) {
				offsetField = insn.Name
			}
			if strings.HasPrefix(insn.Owner, lazyValsOwnerPrefix) {
				usesLazyVals = true
			}
		case classfile.INVOKEVIRTUAL, classfile.INVOKESTATIC, classfile.INVOKEINTERFACE:
			if strings.HasPrefix(insn.Owner, lazyValsOwnerPrefix) {
				usesLazyVals = true
			}
			if insn.Owner == class.Name && isLzyInitName(insn.Name) {
				initMethod = insn.Name
			}
		case classfile.GETFIELD, classfile.PUTFIELD:
			if insn.Owner == class.Name && isLazyStorageFieldName(insn.Name) {
				storageField = insn.Name
			}
		}
	}

	switch {
	case usesLazyVals && offsetField != "" && initMethod != "":
		return LazyValInfo{
			Name:         accessorToLazyName(m.Name),
			Family:       ObjectUnsafe,
			Owner:        class.Name,
			StorageField: storageField,
			AccessorName: m.Name,
			AccessorDesc: m.Descriptor,
			OffsetField:  offsetField,
			OffsetOwner:  class.Name,
			InitMethod:   initMethod,
		}, true
	case storageField != "" && initMethod == "" && isBitmapShape(class, m):
		bf, mask := bitmapFieldAndMask(class, m)
		if bf != "" {
			return LazyValInfo{
				Name:         accessorToLazyName(m.Name),
				Family:       Bitmap,
				Owner:        class.Name,
				StorageField: storageField,
				AccessorName: m.Name,
				AccessorDesc: m.Descriptor,
				BitmapField:  bf,
				BitmapMask:   mask,
			}, true
		}
	}

	if storageField == "" {
		return LazyValInfo{}, false // not lazy-val-shaped at all, not even a candidate
	}

	// A $lzy-marked storage field was touched but nothing above classified
	// the method. An un-volatile field with no offset/bitmap/handle/init
	// companion is an eager reference holder that merely happens to carry
	// the naming convention (§3 invariant 4's exception); anything else is
	// a genuinely unrecognized scheme and must surface as Unknown rather
	// than pass silently (§4.2, §7, §9 "never-throw boundary").
	var field *classfile.Field
	for _, f := range class.Fields {
		if f.Name == storageField {
			field = f
			break
		}
	}
	if field != nil && !field.IsVolatile() && offsetField == "" && initMethod == "" && !isBitmapShape(class, m) {
		return LazyValInfo{}, false
	}

	return LazyValInfo{
		Name:         accessorToLazyName(m.Name),
		Family:       Unknown,
		Owner:        class.Name,
		StorageField: storageField,
		AccessorName: m.Name,
		AccessorDesc: m.Descriptor,
	}, true
}

// classifyHandleBased recognizes the Scala 3.8 target scheme: the accessor
// reads a static final VarHandle field. The real compiler names that field
// "<name>$lzy<n>$lzyHandle"; this package's own rewrite output instead uses
// "<name>$lzy<n>$VH", so both suffixes are recognized, letting Rewrite's
// idempotence check (re-running on its own output) see HandleBased too.
func classifyHandleBased(class *classfile.Class, m *classfile.Method) (LazyValInfo, bool) {
	list := m.Code.Instructions
	var storageField string
	for i := 0; i < list.Len(); i++ {
		insn := list.At(i)
		if insn.Op == classfile.GETSTATIC && insn.Owner == class.Name && insn.Desc == varHandleDesc {
			storageField = strings.TrimSuffix(insn.Name, "$lzyHandle")
			storageField = strings.TrimSuffix(storageField, "$VH")
			break
		}
	}
	if storageField == "" {
		return LazyValInfo{}, false
	}
	return LazyValInfo{
		Name:         accessorToLazyName(m.Name),
		Family:       HandleBased,
		Owner:        class.Name,
		StorageField: storageField,
		AccessorName: m.Name,
		AccessorDesc: m.Descriptor,
	}, true
}

// looksLikeAccessorDescriptor accepts any zero-argument, non-void method,
// the shape of every Scala lazy val getter regardless of family.
func looksLikeAccessorDescriptor(desc string) bool {
	return len(desc) >= 3 && desc[0] == '(' && desc[1] == ')' && desc[2] != 'V'
}

// isLazyStorageFieldName matches the "<name>$lzy<n>" storage field pattern
// shared by the Bitmap and ObjectUnsafe families (spec §4.2), excluding the
// two other "$lzy"-containing suffixes that name something else entirely
// (the out-of-line init method, and the HandleBased handle field).
func isLazyStorageFieldName(name string) bool {
	return containsSubstring(name, "$lzy") &&
		!containsSubstring(name, "$lzyINIT") &&
		!containsSubstring(name, "$lzyHandle")
}

func isOffsetFieldName(name string) bool {
	return strings.HasPrefix(name, "OFFSET$")
}

func isLzyInitName(name string) bool {
	return containsSubstring(name, "$lzyINIT")
}

// accessorToLazyName strips the trailing synthetic suffix Scala 3 sometimes
// appends to a lazy val's public accessor name (none, in the common case:
// the accessor is simply named after the val).
func accessorToLazyName(method string) string { return method }

// isBitmapShape recognizes the Scala 3.0-3.2 inline scheme: the accessor
// reads an int flag field, tests a bit with IAND/IFNE (or IFEQ to the
// slow path), and on the slow path computes-and-stores without calling out
// to any out-of-line method — the whole accessor is one method.
func isBitmapShape(class *classfile.Class, m *classfile.Method) bool {
	var sawIand, sawFlagField bool
	list := m.Code.Instructions
	for i := 0; i < list.Len(); i++ {
		insn := list.At(i)
		switch insn.Op {
		case classfile.IAND:
			sawIand = true
		case classfile.GETFIELD:
			if insn.Owner == class.Name && insn.Desc == "I" {
				sawFlagField = true
			}
		}
	}
	return sawIand && sawFlagField
}

// bitmapFieldAndMask locates the bitmap flag field and mask tested against
// it. Both are read only up to the first IAND; anything the accessor does
// on its slow path afterward (storing the computed value, re-reading the
// storage field to return it) must not be mistaken for bitmap bookkeeping.
func bitmapFieldAndMask(class *classfile.Class, m *classfile.Method) (string, int32) {
	list := m.Code.Instructions
	var field string
	var mask int32
	var sawIand bool
	for i := 0; i < list.Len() && !sawIand; i++ {
		insn := list.At(i)
		switch insn.Op {
		case classfile.GETFIELD:
			if insn.Owner == class.Name && insn.Desc == "I" {
				field = insn.Name
			}
		case classfile.BIPUSH, classfile.SIPUSH:
			mask = insn.IntOperand
		case classfile.ICONST_1:
			mask = 1
		case classfile.IAND:
			sawIand = true
		}
	}
	return field, mask
}

func containsSubstring(s, sub string) bool {
	if len(sub) == 0 {
		return true
	}
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

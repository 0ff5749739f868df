// Package rewrite turns a detected Scala 3.0-3.7 lazy val accessor into
// the Scala 3.8 VarHandle-based scheme, in place on the parsed class tree
// (spec §4.5, the largest component: boxing, scaffold emission, OFFSET
// field and <clinit> sequence stripping, companion-pair coordination).
package rewrite

import (
	"fmt"

	"github.com/VirtusLab/lazyvalgrade/classfile"
	"github.com/VirtusLab/lazyvalgrade/detect"
	"github.com/VirtusLab/lazyvalgrade/extract"
	"github.com/VirtusLab/lazyvalgrade/group"
)

// DefaultOffsetScanLimit bounds how many instructions Rewriter.Rewrite
// walks backward from the PUTSTATIC that stores an OFFSET field while
// looking for the full CAS-setup sequence to strip out of <clinit>. Ten
// was picked from observing the corpus's <clinit> sequences, which are at
// most: LDC class, LDC string name, two reflective Field lookups, and the
// getStaticFieldOffset call itself - comfortably under ten instructions,
// with headroom for a defensive local variable shuffle in between.
const DefaultOffsetScanLimit = 10

// Rewriter retrofits one Group of classes from whatever pre-3.8 lazy val
// scheme its detected accessors use onto the VarHandle scheme.
type Rewriter struct {
	// ScanLimit overrides DefaultOffsetScanLimit; zero means use the
	// default. Exposed so a caller patching an unusually large generated
	// <clinit> is never silently short-changed (spec Open Question 2).
	ScanLimit int
}

// New returns a Rewriter configured with the default scan limit.
func New() *Rewriter { return &Rewriter{ScanLimit: DefaultOffsetScanLimit} }

func (r *Rewriter) scanLimit() int {
	if r.ScanLimit > 0 {
		return r.ScanLimit
	}
	return DefaultOffsetScanLimit
}

// Rewrite mutates every applicable lazy val in g in place. It never
// partially rewrites a Group: if any lazy val fails, the error identifies
// which one, and the caller is expected to discard the whole attempt
// (spec invariant "never emit a class with one accessor patched and its
// companion's half left stale").
func (r *Rewriter) Rewrite(g *group.Group) error {
	for _, info := range g.LazyVals {
		switch info.Family {
		case detect.HandleBased:
			continue // already on-target, nothing to do
		case detect.ObjectUnsafe:
			if err := r.rewriteObjectUnsafe(g, info); err != nil {
				return fmt.Errorf("rewriting %s.%s: %w", info.Owner, info.Name, err)
			}
		case detect.Bitmap:
			if err := r.rewriteBitmap(g, info); err != nil {
				return fmt.Errorf("rewriting %s.%s: %w", info.Owner, info.Name, err)
			}
		default:
			return fmt.Errorf("rewriting %s.%s: %w", info.Owner, info.Name, detect.ErrUnknownLazyVal)
		}
	}
	return nil
}

// removeMethodByName removes every method on owner named name regardless
// of descriptor; the lzyINIT method's exact return descriptor varies by
// the lazy val's declared type, and its name alone is already unique
// within the class (dotty mangles in a per-accessor numeric suffix).
func removeMethodByName(owner *classfile.Class, name string) {
	kept := owner.Methods[:0]
	for _, m := range owner.Methods {
		if m.Name != name {
			kept = append(kept, m)
		}
	}
	owner.Methods = kept
}

func (r *Rewriter) ownerClass(g *group.Group, name string) *classfile.Class {
	if g.Class.Name == name {
		return g.Class
	}
	if g.Companion != nil && g.Companion.Name == name {
		return g.Companion
	}
	return nil
}

func (r *Rewriter) rewriteObjectUnsafe(g *group.Group, info detect.LazyValInfo) error {
	owner := r.ownerClass(g, info.Owner)
	if owner == nil {
		return fmt.Errorf("owner class %s not present in group", info.Owner)
	}
	offsetOwner := r.ownerClass(g, info.OffsetOwner)
	if offsetOwner == nil {
		offsetOwner = owner
	}

	init, err := extract.FromLzyInit(owner, info)
	if err != nil {
		return err
	}

	handleField := ensureVarHandleField(owner, info.StorageField)
	removeMethodByName(owner, info.InitMethod)

	newInit := buildLzyInit(owner.Name, info.AccessorDesc, handleField, init)
	owner.Methods = append(owner.Methods, &classfile.Method{
		AccessFlags: classfile.AccPrivate | classfile.AccFinal,
		Name:        info.InitMethod,
		Descriptor:  "()Ljava/lang/Object;",
		Code:        newInit,
	})

	accessor := owner.FindMethod(info.AccessorName, info.AccessorDesc)
	if accessor == nil {
		return fmt.Errorf("accessor %s%s not found on %s", info.AccessorName, info.AccessorDesc, owner.Name)
	}
	accessor.Code = buildAccessor(owner.Name, info.AccessorDesc, handleField, info.InitMethod)

	if err := stripOffsetScaffold(offsetOwner, info.OffsetField, r.scanLimit()); err != nil {
		return err
	}
	appendHandleLookupToClinit(owner, owner.Name, info.StorageField, handleField)
	return nil
}

func (r *Rewriter) rewriteBitmap(g *group.Group, info detect.LazyValInfo) error {
	owner := r.ownerClass(g, info.Owner)
	if owner == nil {
		return fmt.Errorf("owner class %s not present in group", info.Owner)
	}

	init, err := extract.FromBitmapAccessor(owner, info)
	if err != nil {
		return err
	}

	var storage *classfile.Field
	for _, f := range owner.Fields {
		if f.Name == info.StorageField {
			storage = f
			break
		}
	}
	if storage == nil {
		return fmt.Errorf("storage field %s not found on %s", info.StorageField, owner.Name)
	}
	storage.Descriptor = "Ljava/lang/Object;"

	handleField := ensureVarHandleField(owner, info.StorageField)

	initMethodName := info.AccessorName + "$lzyINIT1"
	newInit := buildLzyInit(owner.Name, info.AccessorDesc, handleField, init)
	owner.Methods = append(owner.Methods, &classfile.Method{
		AccessFlags: classfile.AccPrivate | classfile.AccFinal,
		Name:        initMethodName,
		Descriptor:  "()Ljava/lang/Object;",
		Code:        newInit,
	})

	accessor := owner.FindMethod(info.AccessorName, info.AccessorDesc)
	if accessor == nil {
		return fmt.Errorf("accessor %s%s not found on %s", info.AccessorName, info.AccessorDesc, owner.Name)
	}
	accessor.Code = buildAccessor(owner.Name, info.AccessorDesc, handleField, initMethodName)

	if info.BitmapField != "" {
		owner.RemoveField(info.BitmapField, "I")
	}
	appendHandleLookupToClinit(owner, owner.Name, info.StorageField, handleField)
	return nil
}

// stripOffsetScaffold removes offsetField itself plus, from <clinit>, the
// PUTSTATIC that stores it and up to scanLimit instructions before that
// PUTSTATIC (fewer when a label comes first; the label is removed too) -
// the bytecode a 3.3-3.7 <clinit> runs purely to compute an OFFSET
// constant that the VarHandle scheme has no use for.
func stripOffsetScaffold(owner *classfile.Class, offsetField string, scanLimit int) error {
	owner.RemoveField(offsetField, "J")

	clinit := owner.FindMethod("<clinit>", "()V")
	if clinit == nil || clinit.Code == nil {
		return nil
	}
	list := clinit.Code.Instructions

	putIdx := -1
	for i := 0; i < list.Len(); i++ {
		insn := list.At(i)
		if insn.Op == classfile.PUTSTATIC && insn.Owner == owner.Name && insn.Name == offsetField {
			putIdx = i
			break
		}
	}
	if putIdx < 0 {
		return nil // nothing to strip; field may have been computed elsewhere
	}

	start := putIdx - scanLimit
	if start < 0 {
		start = 0
	}
	// Walk backward from the PUTSTATIC to the nearest preceding label or
	// the start of the scan window, whichever comes first, so the removed
	// range never crosses into an unrelated preceding statement's middle.
	for i := putIdx; i >= start; i-- {
		if list.At(i).Op.IsLabelPseudo() {
			start = i
			break
		}
	}
	list.RemoveRange(start, putIdx+1)
	return nil
}

// appendHandleLookupToClinit inserts the VarHandle lookup sequence into
// owner's <clinit>, immediately before its final RETURN, creating the
// method if owner had none (a companion object whose only static work was
// the now-removed OFFSET computation may end up with an empty <clinit>).
func appendHandleLookupToClinit(owner *classfile.Class, fieldOwner, storageField, handleField string) {
	clinit := owner.FindMethod("<clinit>", "()V")
	if clinit == nil {
		clinit = &classfile.Method{
			AccessFlags: classfile.AccStatic,
			Name:        "<clinit>",
			Descriptor:  "()V",
			Code: &classfile.Code{
				MaxStack:     conservativeMaxStack,
				MaxLocals:    1,
				Instructions: classfile.NewInstructionList(),
			},
		}
		clinit.Code.Instructions.Append(classfile.Simple(classfile.RETURN))
		owner.Methods = append(owner.Methods, clinit)
	}

	list := clinit.Code.Instructions
	insertAt := list.Len() - 1
	for i := list.Len() - 1; i >= 0; i-- {
		if list.At(i).Op == classfile.RETURN {
			insertAt = i
			break
		}
	}

	lookup := classfile.NewInstructionList()
	appendHandleLookup(lookup, fieldOwner, storageField, handleField)
	list.InsertAt(insertAt, lookup.Items...)
}

package classfile

// Label is an opaque branch/handler target. Equality is by pointer identity;
// its eventual bytecode offset is resolved only while writing a method.
type Label struct {
	offset int // never set; the writer keeps label offsets in a separate map
}

// ClassConst distinguishes an LDC of a Class constant from an LDC of a
// java.lang.String constant, both of which are represented as Insn.Const.
type ClassConst struct{ Name string } // internal name, e.g. "java/lang/Object"

// MethodTypeConst distinguishes an LDC of a MethodType constant.
type MethodTypeConst struct{ Descriptor string }

// Insn is one bytecode instruction, or a pseudo-instruction (label, frame,
// or line-number marker) inside an InstructionList. Only the fields that
// apply to Op are meaningful; the rest are zero.
type Insn struct {
	Op Op

	Label *Label // set when Op == opLabel: this element marks that label's position
	Line  int    // set when Op == opLine: the source line number

	IntOperand int32 // BIPUSH, SIPUSH, NEWARRAY atype, IINC constant
	VarIndex   int   // xLOAD, xSTORE, IINC, RET local variable slot

	Const interface{} // LDC/LDC_W/LDC2_W operand: int32, int64, float32, float64, string, ClassConst, MethodTypeConst

	Owner, Name, Desc string // GETSTATIC/PUTSTATIC/GETFIELD/PUTFIELD/INVOKE* operand
	IsInterface       bool   // true for INVOKEINTERFACE / interface methodrefs

	Target *Label // IF*, GOTO*, JSR* branch target

	TypeOperand string // NEW, ANEWARRAY, CHECKCAST, INSTANCEOF, MULTIANEWARRAY: internal/array name
	Dims        int    // MULTIANEWARRAY dimension count

	Default *Label   // TABLESWITCH/LOOKUPSWITCH default target
	Keys    []int32  // LOOKUPSWITCH match keys
	Targets []*Label // TABLESWITCH/LOOKUPSWITCH match targets (parallel to Keys, or contiguous for TABLESWITCH)
	Low     int32    // TABLESWITCH low
	High    int32    // TABLESWITCH high
}

// LabelInsn returns a pseudo-instruction marking l's position in an
// InstructionList.
func LabelInsn(l *Label) *Insn { return &Insn{Op: opLabel, Label: l} }

// LineInsn returns a pseudo-instruction recording a LineNumberTable entry at
// its position.
func LineInsn(line int) *Insn { return &Insn{Op: opLine, Line: line} }

// Simple returns a zero-operand instruction (e.g. ARETURN, DUP, IADD).
func Simple(op Op) *Insn { return &Insn{Op: op} }

// Var returns a local-variable instruction (xLOAD/xSTORE/RET).
func Var(op Op, index int) *Insn { return &Insn{Op: op, VarIndex: index} }

// Field returns a field instruction (GETSTATIC/PUTSTATIC/GETFIELD/PUTFIELD).
func Field(op Op, owner, name, desc string) *Insn {
	return &Insn{Op: op, Owner: owner, Name: name, Desc: desc}
}

// MethodInsn returns a method invocation instruction.
func MethodInsn(op Op, owner, name, desc string, isInterface bool) *Insn {
	return &Insn{Op: op, Owner: owner, Name: name, Desc: desc, IsInterface: isInterface}
}

// Jump returns a branch instruction.
func Jump(op Op, target *Label) *Insn { return &Insn{Op: op, Target: target} }

// Ldc returns an LDC/LDC2_W instruction; the writer chooses the narrowest
// encoding (LDC vs LDC_W) for single-slot constants and always uses LDC2_W
// for long/double.
func Ldc(value interface{}) *Insn { return &Insn{Op: LDC, Const: value} }

// TypeInsn returns NEW/ANEWARRAY/CHECKCAST/INSTANCEOF.
func TypeInsn(op Op, internalOrArrayName string) *Insn {
	return &Insn{Op: op, TypeOperand: internalOrArrayName}
}

// InstructionList is an ordered, position-addressable sequence of
// instructions and pseudo-instructions (labels, frames, line numbers). It
// supports insertion, removal and cloning with fresh labels, as required by
// the extractor (§4.4) and rewriter (§4.5).
type InstructionList struct {
	Items []*Insn
}

// NewInstructionList returns an empty list.
func NewInstructionList() *InstructionList { return &InstructionList{} }

// Len returns the number of elements (instructions and pseudo-instructions).
func (l *InstructionList) Len() int { return len(l.Items) }

// At returns the element at position i.
func (l *InstructionList) At(i int) *Insn { return l.Items[i] }

// Append adds instructions to the end of the list.
func (l *InstructionList) Append(insns ...*Insn) {
	l.Items = append(l.Items, insns...)
}

// InsertAt inserts insns starting at position i, shifting later elements.
func (l *InstructionList) InsertAt(i int, insns ...*Insn) {
	if len(insns) == 0 {
		return
	}
	tail := append([]*Insn{}, l.Items[i:]...)
	l.Items = append(l.Items[:i], insns...)
	l.Items = append(l.Items, tail...)
}

// RemoveRange removes elements [from, to).
func (l *InstructionList) RemoveRange(from, to int) {
	l.Items = append(l.Items[:from], l.Items[to:]...)
}

// IndexOfLabel returns the position of the marker for lbl, or -1.
func (l *InstructionList) IndexOfLabel(lbl *Label) int {
	for i, insn := range l.Items {
		if insn.Op == opLabel && insn.Label == lbl {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the list and the old->new label mapping it
// used, so callers can remap any Label held outside the list (try/catch
// ranges, local variable ranges) with the same substitution (spec §4.4:
// "Clone labels (build a fresh mapping old->new) so copied branches target
// fresh labels").
func (l *InstructionList) Clone() (*InstructionList, map[*Label]*Label) {
	mapping := map[*Label]*Label{}
	remap := func(old *Label) *Label {
		if old == nil {
			return nil
		}
		if n, ok := mapping[old]; ok {
			return n
		}
		n := &Label{}
		mapping[old] = n
		return n
	}

	out := &InstructionList{Items: make([]*Insn, len(l.Items))}
	for i, insn := range l.Items {
		cp := *insn
		switch {
		case insn.Op == opLabel:
			cp.Label = remap(insn.Label)
		case insn.Op.IsBranch():
			cp.Target = remap(insn.Target)
		case insn.Op == TABLESWITCH || insn.Op == LOOKUPSWITCH:
			cp.Default = remap(insn.Default)
			cp.Targets = make([]*Label, len(insn.Targets))
			for j, t := range insn.Targets {
				cp.Targets[j] = remap(t)
			}
			cp.Keys = append([]int32{}, insn.Keys...)
		}
		out.Items[i] = &cp
	}
	return out, mapping
}

// CloneRange behaves like Clone but only over the half-open range [from,to).
func (l *InstructionList) CloneRange(from, to int) (*InstructionList, map[*Label]*Label) {
	sub := &InstructionList{Items: l.Items[from:to]}
	return sub.Clone()
}

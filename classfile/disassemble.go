/*
 * lazyvalgrade - retrofits Scala lazy val accessors off sun.misc.Unsafe
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package classfile

import (
	"fmt"
	"strconv"
	"strings"
)

// mnemonics names every real (non-pseudo) opcode this package decodes, for
// Disassemble's flat textual output. Short-form load/store variants are
// never held in an Insn (the decoder canonicalizes them), so this table
// only needs the long forms.
var mnemonics = map[Op]string{
	NOP: "nop", ACONST_NULL: "aconst_null",
	ICONST_M1: "iconst_m1", ICONST_0: "iconst_0", ICONST_1: "iconst_1", ICONST_2: "iconst_2",
	ICONST_3: "iconst_3", ICONST_4: "iconst_4", ICONST_5: "iconst_5",
	LCONST_0: "lconst_0", LCONST_1: "lconst_1",
	FCONST_0: "fconst_0", FCONST_1: "fconst_1", FCONST_2: "fconst_2",
	DCONST_0: "dconst_0", DCONST_1: "dconst_1",
	BIPUSH: "bipush", SIPUSH: "sipush", LDC: "ldc", LDC_W: "ldc_w", LDC2_W: "ldc2_w",
	ILOAD: "iload", LLOAD: "lload", FLOAD: "fload", DLOAD: "dload", ALOAD: "aload",
	IALOAD: "iaload", LALOAD: "laload", FALOAD: "faload", DALOAD: "daload", AALOAD: "aaload",
	BALOAD: "baload", CALOAD: "caload", SALOAD: "saload",
	ISTORE: "istore", LSTORE: "lstore", FSTORE: "fstore", DSTORE: "dstore", ASTORE: "astore",
	IASTORE: "iastore", LASTORE: "lastore", FASTORE: "fastore", DASTORE: "dastore", AASTORE: "aastore",
	BASTORE: "bastore", CASTORE: "castore", SASTORE: "sastore",
	POP: "pop", POP2: "pop2", DUP: "dup", DUP_X1: "dup_x1", DUP_X2: "dup_x2",
	DUP2: "dup2", DUP2_X1: "dup2_x1", DUP2_X2: "dup2_x2", SWAP: "swap",
	IADD: "iadd", LADD: "ladd", FADD: "fadd", DADD: "dadd",
	ISUB: "isub", LSUB: "lsub", FSUB: "fsub", DSUB: "dsub",
	IMUL: "imul", LMUL: "lmul", FMUL: "fmul", DMUL: "dmul",
	IDIV: "idiv", LDIV: "ldiv", FDIV: "fdiv", DDIV: "ddiv",
	IREM: "irem", LREM: "lrem", FREM: "frem", DREM: "drem",
	INEG: "ineg", LNEG: "lneg", FNEG: "fneg", DNEG: "dneg",
	ISHL: "ishl", LSHL: "lshl", ISHR: "ishr", LSHR: "lshr", IUSHR: "iushr", LUSHR: "lushr",
	IAND: "iand", LAND: "land", IOR: "ior", LOR: "lor", IXOR: "ixor", LXOR: "lxor",
	IINC: "iinc",
	I2L:  "i2l", I2F: "i2f", I2D: "i2d", L2I: "l2i", L2F: "l2f", L2D: "l2d",
	F2I: "f2i", F2L: "f2l", F2D: "f2d", D2I: "d2i", D2L: "d2l", D2F: "d2f",
	I2B: "i2b", I2C: "i2c", I2S: "i2s",
	LCMP: "lcmp", FCMPL: "fcmpl", FCMPG: "fcmpg", DCMPL: "dcmpl", DCMPG: "dcmpg",
	IFEQ: "ifeq", IFNE: "ifne", IFLT: "iflt", IFGE: "ifge", IFGT: "ifgt", IFLE: "ifle",
	IF_ICMPEQ: "if_icmpeq", IF_ICMPNE: "if_icmpne", IF_ICMPLT: "if_icmplt",
	IF_ICMPGE: "if_icmpge", IF_ICMPGT: "if_icmpgt", IF_ICMPLE: "if_icmple",
	IF_ACMPEQ: "if_acmpeq", IF_ACMPNE: "if_acmpne",
	GOTO: "goto", JSR: "jsr", RET: "ret", TABLESWITCH: "tableswitch", LOOKUPSWITCH: "lookupswitch",
	IRETURN: "ireturn", LRETURN: "lreturn", FRETURN: "freturn", DRETURN: "dreturn",
	ARETURN: "areturn", RETURN: "return",
	GETSTATIC: "getstatic", PUTSTATIC: "putstatic", GETFIELD: "getfield", PUTFIELD: "putfield",
	INVOKEVIRTUAL: "invokevirtual", INVOKESPECIAL: "invokespecial", INVOKESTATIC: "invokestatic",
	INVOKEINTERFACE: "invokeinterface", INVOKEDYNAMIC: "invokedynamic",
	NEW: "new", NEWARRAY: "newarray", ANEWARRAY: "anewarray", ARRAYLENGTH: "arraylength",
	ATHROW: "athrow", CHECKCAST: "checkcast", INSTANCEOF: "instanceof",
	MONITORENTER: "monitorenter", MONITOREXIT: "monitorexit", WIDE: "wide",
	MULTIANEWARRAY: "multianewarray", IFNULL: "ifnull", IFNONNULL: "ifnonnull",
	GOTO_W: "goto_w", JSR_W: "jsr_w",
}

// mnemonic returns op's textual name, or a numeric fallback for any opcode
// this package doesn't decode into a named constant.
func mnemonic(op Op) string {
	if name, ok := mnemonics[op]; ok {
		return name
	}
	return fmt.Sprintf("unknown_%d", byte(op))
}

// Disassemble renders m's instruction list as flat text, one instruction
// per line, computed on demand rather than cached: the detector's
// heuristic scans (spec §4.1) run against it when a structured walk over
// Insn fields would be more brittle than a substring/regex match against
// the rendered mnemonic stream - the same reason `javap -c` output is a
// popular grep target despite the JVM never storing class files that way.
// m.Code == nil renders as a single line noting the method is abstract or
// native.
func Disassemble(m *Method) string {
	if m.Code == nil {
		return fmt.Sprintf("%s%s: (no code)\n", m.Name, m.Descriptor)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s%s:\n", m.Name, m.Descriptor)
	list := m.Code.Instructions
	labels := map[*Label]string{}
	next := 0
	labelName := func(l *Label) string {
		if l == nil {
			return "?"
		}
		if name, ok := labels[l]; ok {
			return name
		}
		name := "L" + strconv.Itoa(next)
		next++
		labels[l] = name
		return name
	}

	for i := 0; i < list.Len(); i++ {
		insn := list.At(i)
		switch {
		case insn.Op.IsLabelPseudo():
			fmt.Fprintf(&b, "%s:\n", labelName(insn.Label))
		case insn.Op.IsFramePseudo():
			b.WriteString("  // stack frame\n")
		case insn.Op == opLine:
			fmt.Fprintf(&b, "  // line %d\n", insn.Line)
		default:
			b.WriteString("  ")
			b.WriteString(disassembleOne(insn, labelName))
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// DisassembleAll renders every method of class, concatenated, for a
// whole-class heuristic text scan.
func DisassembleAll(class *Class) string {
	var b strings.Builder
	for _, m := range class.Methods {
		b.WriteString(Disassemble(m))
	}
	return b.String()
}

func disassembleOne(insn *Insn, labelName func(*Label) string) string {
	name := mnemonic(insn.Op)
	switch {
	case insn.Op.IsBranch():
		return fmt.Sprintf("%s %s", name, labelName(insn.Target))
	case insn.Op == GETSTATIC || insn.Op == PUTSTATIC || insn.Op == GETFIELD || insn.Op == PUTFIELD:
		return fmt.Sprintf("%s %s.%s:%s", name, insn.Owner, insn.Name, insn.Desc)
	case insn.Op == INVOKEVIRTUAL || insn.Op == INVOKESPECIAL || insn.Op == INVOKESTATIC ||
		insn.Op == INVOKEINTERFACE:
		return fmt.Sprintf("%s %s.%s:%s", name, insn.Owner, insn.Name, insn.Desc)
	case insn.Op == NEW || insn.Op == ANEWARRAY || insn.Op == CHECKCAST || insn.Op == INSTANCEOF:
		return fmt.Sprintf("%s %s", name, insn.TypeOperand)
	case insn.Op == LDC || insn.Op == LDC_W || insn.Op == LDC2_W:
		return fmt.Sprintf("%s %v", name, insn.Const)
	case insn.Op == ILOAD || insn.Op == LLOAD || insn.Op == FLOAD || insn.Op == DLOAD || insn.Op == ALOAD ||
		insn.Op == ISTORE || insn.Op == LSTORE || insn.Op == FSTORE || insn.Op == DSTORE || insn.Op == ASTORE ||
		insn.Op == RET:
		return fmt.Sprintf("%s %d", name, insn.VarIndex)
	case insn.Op == BIPUSH || insn.Op == SIPUSH:
		return fmt.Sprintf("%s %d", name, insn.IntOperand)
	case insn.Op == IINC:
		return fmt.Sprintf("%s %d, %d", name, insn.VarIndex, insn.IntOperand)
	default:
		return name
	}
}

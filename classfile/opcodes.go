/*
 * lazyvalgrade - retrofits Scala lazy val accessors off sun.misc.Unsafe
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package classfile

// Op is a JVM bytecode instruction opcode, as defined by the JVMS.
type Op byte

// Real opcodes occupy 0-201 (0xC9); 0xCA (impdep1) and 0xFE/0xFF are reserved
// by the spec and never appear in class files, so we reuse the top of the
// range for pseudo-instructions that only exist inside an InstructionList.
const (
	opLabel Op = 0xFF // marks a branch/handler target; carries no bytes
	opFrame Op = 0xFE // marks a stack-map frame; recomputed, never written verbatim
	opLine  Op = 0xFD // marks a LineNumberTable entry; carries a source line
)

const (
	NOP             Op = 0
	ACONST_NULL     Op = 1
	ICONST_M1       Op = 2
	ICONST_0        Op = 3
	ICONST_1        Op = 4
	ICONST_2        Op = 5
	ICONST_3        Op = 6
	ICONST_4        Op = 7
	ICONST_5        Op = 8
	LCONST_0        Op = 9
	LCONST_1        Op = 10
	FCONST_0        Op = 11
	FCONST_1        Op = 12
	FCONST_2        Op = 13
	DCONST_0        Op = 14
	DCONST_1        Op = 15
	BIPUSH          Op = 16
	SIPUSH          Op = 17
	LDC             Op = 18
	LDC_W           Op = 19
	LDC2_W          Op = 20
	ILOAD           Op = 21
	LLOAD           Op = 22
	FLOAD           Op = 23
	DLOAD           Op = 24
	ALOAD           Op = 25
	IALOAD          Op = 46
	LALOAD          Op = 47
	FALOAD          Op = 48
	DALOAD          Op = 49
	AALOAD          Op = 50
	BALOAD          Op = 51
	CALOAD          Op = 52
	SALOAD          Op = 53
	ISTORE          Op = 54
	LSTORE          Op = 55
	FSTORE          Op = 56
	DSTORE          Op = 57
	ASTORE          Op = 58
	IASTORE         Op = 79
	LASTORE         Op = 80
	FASTORE         Op = 81
	DASTORE         Op = 82
	AASTORE         Op = 83
	BASTORE         Op = 84
	CASTORE         Op = 85
	SASTORE         Op = 86
	POP             Op = 87
	POP2            Op = 88
	DUP             Op = 89
	DUP_X1          Op = 90
	DUP_X2          Op = 91
	DUP2            Op = 92
	DUP2_X1         Op = 93
	DUP2_X2         Op = 94
	SWAP            Op = 95
	IADD            Op = 96
	LADD            Op = 97
	FADD            Op = 98
	DADD            Op = 99
	ISUB            Op = 100
	LSUB            Op = 101
	FSUB            Op = 102
	DSUB            Op = 103
	IMUL            Op = 104
	LMUL            Op = 105
	FMUL            Op = 106
	DMUL            Op = 107
	IDIV            Op = 108
	LDIV            Op = 109
	FDIV            Op = 110
	DDIV            Op = 111
	IREM            Op = 112
	LREM            Op = 113
	FREM            Op = 114
	DREM            Op = 115
	INEG            Op = 116
	LNEG            Op = 117
	FNEG            Op = 118
	DNEG            Op = 119
	ISHL            Op = 120
	LSHL            Op = 121
	ISHR            Op = 122
	LSHR            Op = 123
	IUSHR           Op = 124
	LUSHR           Op = 125
	IAND            Op = 126
	LAND            Op = 127
	IOR             Op = 128
	LOR             Op = 129
	IXOR            Op = 130
	LXOR            Op = 131
	IINC            Op = 132
	I2L             Op = 133
	I2F             Op = 134
	I2D             Op = 135
	L2I             Op = 136
	L2F             Op = 137
	L2D             Op = 138
	F2I             Op = 139
	F2L             Op = 140
	F2D             Op = 141
	D2I             Op = 142
	D2L             Op = 143
	D2F             Op = 144
	I2B             Op = 145
	I2C             Op = 146
	I2S             Op = 147
	LCMP            Op = 148
	FCMPL           Op = 149
	FCMPG           Op = 150
	DCMPL           Op = 151
	DCMPG           Op = 152
	IFEQ            Op = 153
	IFNE            Op = 154
	IFLT            Op = 155
	IFGE            Op = 156
	IFGT            Op = 157
	IFLE            Op = 158
	IF_ICMPEQ       Op = 159
	IF_ICMPNE       Op = 160
	IF_ICMPLT       Op = 161
	IF_ICMPGE       Op = 162
	IF_ICMPGT       Op = 163
	IF_ICMPLE       Op = 164
	IF_ACMPEQ       Op = 165
	IF_ACMPNE       Op = 166
	GOTO            Op = 167
	JSR             Op = 168
	RET             Op = 169
	TABLESWITCH     Op = 170
	LOOKUPSWITCH    Op = 171
	IRETURN         Op = 172
	LRETURN         Op = 173
	FRETURN         Op = 174
	DRETURN         Op = 175
	ARETURN         Op = 176
	RETURN          Op = 177
	GETSTATIC       Op = 178
	PUTSTATIC       Op = 179
	GETFIELD        Op = 180
	PUTFIELD        Op = 181
	INVOKEVIRTUAL   Op = 182
	INVOKESPECIAL   Op = 183
	INVOKESTATIC    Op = 184
	INVOKEINTERFACE Op = 185
	INVOKEDYNAMIC   Op = 186
	NEW             Op = 187
	NEWARRAY        Op = 188
	ANEWARRAY       Op = 189
	ARRAYLENGTH     Op = 190
	ATHROW          Op = 191
	CHECKCAST       Op = 192
	INSTANCEOF      Op = 193
	MONITORENTER    Op = 194
	MONITOREXIT     Op = 195
	WIDE            Op = 196
	MULTIANEWARRAY  Op = 197
	IFNULL          Op = 198
	IFNONNULL       Op = 199
	GOTO_W          Op = 200
	JSR_W           Op = 201
)

// Short-form load/store opcodes (JVMS: ILOAD_0..ALOAD_3, ISTORE_0..ASTORE_3)
// are never held in an Insn.Op; the decoder canonicalizes them to the long
// form (e.g. ILOAD with VarIndex 0) and the writer always emits the long
// form. These raw byte ranges are used only inside the bytecode decoder.
const (
	rawILOAD0  = 26
	rawALOAD3  = 45
	rawISTORE0 = 59
	rawASTORE3 = 78
)

// IsBranch reports whether op carries a single Label operand (Insn.Target).
func (op Op) IsBranch() bool {
	switch op {
	case IFEQ, IFNE, IFLT, IFGE, IFGT, IFLE,
		IF_ICMPEQ, IF_ICMPNE, IF_ICMPLT, IF_ICMPGE, IF_ICMPGT, IF_ICMPLE,
		IF_ACMPEQ, IF_ACMPNE, GOTO, GOTO_W, JSR, JSR_W, IFNULL, IFNONNULL:
		return true
	default:
		return false
	}
}

// IsFramePseudo reports whether op is the pseudo-instruction marking a
// stack-map frame, the only pseudo-op that needs stripping when splicing
// instructions extracted from one method into another (labels and line
// markers are harmless to carry over or regenerate; a stale frame marker
// is not, since its contents refer to the source method's local layout).
func (op Op) IsFramePseudo() bool { return op == opFrame }

// IsLabelPseudo reports whether op marks a branch/handler target position.
func (op Op) IsLabelPseudo() bool { return op == opLabel }

// IsReturn reports whether op ends a method by returning or throwing.
func (op Op) IsReturn() bool {
	switch op {
	case IRETURN, LRETURN, FRETURN, DRETURN, ARETURN, RETURN, ATHROW:
		return true
	default:
		return false
	}
}

// Class, field and method access flags (JVMS 4.1, 4.5, 4.6).
const (
	AccPublic       = 0x0001
	AccPrivate      = 0x0002
	AccProtected    = 0x0004
	AccStatic       = 0x0008
	AccFinal        = 0x0010
	AccSuper        = 0x0020
	AccSynchronized = 0x0020
	AccVolatile     = 0x0040
	AccBridge       = 0x0040
	AccTransient    = 0x0080
	AccVarargs      = 0x0080
	AccNative       = 0x0100
	AccInterface    = 0x0200
	AccAbstract     = 0x0400
	AccStrict       = 0x0800
	AccSynthetic    = 0x1000
	AccAnnotation   = 0x2000
	AccEnum         = 0x4000
	AccModule       = 0x8000

	// V17 is the minimum class file major version this package targets:
	// the version that introduced java.lang.invoke.VarHandle (Java 9, but
	// we standardize rewrite output on the LTS the Scala 3.8 scheme ships
	// against).
	V17 = 61
)

// MethodHandle reference_kind values (JVMS 4.4.8).
const (
	RefGetField         = 1
	RefGetStatic        = 2
	RefPutField         = 3
	RefPutStatic        = 4
	RefInvokeVirtual    = 5
	RefInvokeStatic     = 6
	RefInvokeSpecial    = 7
	RefNewInvokeSpecial = 8
	RefInvokeInterface  = 9
)

// Stack-map-frame verification_type_info tags (JVMS 4.7.4).
const (
	ItemTop               = 0
	ItemInteger           = 1
	ItemFloat             = 2
	ItemDouble            = 3
	ItemLong              = 4
	ItemNull              = 5
	ItemUninitializedThis = 6
	ItemObject            = 7
	ItemUninitialized     = 8
)

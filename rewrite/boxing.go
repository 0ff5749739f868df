package rewrite

import "github.com/VirtusLab/lazyvalgrade/classfile"

// boxesRunTime is the runtime facade the Scala 3 compiler itself routes
// every autobox/autounbox through, rather than the raw JDK wrapper-class
// methods javac emits (spec §4.5). Unboxing through it is what lets a
// freshly-read storage value of null collapse uniformly to zero/false
// instead of NPEing: every unboxToXxx helper takes a plain Object and
// tests for null internally, where java.lang.Integer.intValue() (an
// instance method) would throw on a null receiver.
var boxesRunTime = scalaRuntimeClass("BoxesRunTime")

// boxInfo names the BoxesRunTime static methods that box and unbox a
// single JVM primitive descriptor character.
type boxInfo struct {
	boxName   string
	boxDesc   string
	unboxName string
	unboxDesc string
}

var boxTable = map[byte]boxInfo{
	'Z': {"boxToBoolean", "(Z)Ljava/lang/Boolean;", "unboxToBoolean", "(Ljava/lang/Object;)Z"},
	'B': {"boxToByte", "(B)Ljava/lang/Byte;", "unboxToByte", "(Ljava/lang/Object;)B"},
	'C': {"boxToCharacter", "(C)Ljava/lang/Character;", "unboxToChar", "(Ljava/lang/Object;)C"},
	'S': {"boxToShort", "(S)Ljava/lang/Short;", "unboxToShort", "(Ljava/lang/Object;)S"},
	'I': {"boxToInteger", "(I)Ljava/lang/Integer;", "unboxToInt", "(Ljava/lang/Object;)I"},
	'J': {"boxToLong", "(J)Ljava/lang/Long;", "unboxToLong", "(Ljava/lang/Object;)J"},
	'F': {"boxToFloat", "(F)Ljava/lang/Float;", "unboxToFloat", "(Ljava/lang/Object;)F"},
	'D': {"boxToDouble", "(D)Ljava/lang/Double;", "unboxToDouble", "(Ljava/lang/Object;)D"},
}

// isPrimitiveDescriptor reports whether desc names a JVM primitive type
// rather than a reference or array type.
func isPrimitiveDescriptor(desc string) bool {
	if len(desc) != 1 {
		return false
	}
	_, ok := boxTable[desc[0]]
	return ok
}

// appendBox appends the instructions that box a value of the given
// descriptor already on the operand stack via BoxesRunTime, leaving a
// java/lang/Object on top. Reference types need no boxing and are left
// untouched.
func appendBox(list *classfile.InstructionList, desc string) {
	if !isPrimitiveDescriptor(desc) {
		return
	}
	b := boxTable[desc[0]]
	list.Append(classfile.MethodInsn(classfile.INVOKESTATIC, boxesRunTime, b.boxName, b.boxDesc, false))
}

// appendUnbox appends the instructions that unbox a java/lang/Object on top
// of the stack back down to desc via BoxesRunTime - no CHECKCAST, since
// unboxToXxx accepts Object directly and tolerates a null receiver (the
// NullValue sentinel normalization happens before this runs; a genuinely
// null reference-typed value passed through a primitive's unbox helper
// would be a detector/rewriter bug, not a runtime condition to guard
// here). Reference types only get a CHECKCAST to their declared type.
func appendUnbox(list *classfile.InstructionList, desc string) {
	if !isPrimitiveDescriptor(desc) {
		if refName := referenceInternalName(desc); refName != "" && refName != "java/lang/Object" {
			list.Append(classfile.TypeInsn(classfile.CHECKCAST, refName))
		}
		return
	}
	b := boxTable[desc[0]]
	list.Append(classfile.MethodInsn(classfile.INVOKESTATIC, boxesRunTime, b.unboxName, b.unboxDesc, false))
}

// referenceInternalName extracts the internal class name from a reference
// type descriptor ("Lfoo/Bar;" -> "foo/Bar"), or "" for arrays and
// primitives (arrays are left to a plain CHECKCAST against the descriptor
// itself by the caller, which this package never needs since no example in
// this corpus retrofits an array-typed lazy val).
func referenceInternalName(desc string) string {
	if len(desc) >= 2 && desc[0] == 'L' && desc[len(desc)-1] == ';' {
		return desc[1 : len(desc)-1]
	}
	return ""
}

// returnOpFor picks the xRETURN opcode matching a method descriptor's
// return type.
func returnOpFor(desc string) classfile.Op {
	ret := desc[len(desc)-1]
	switch ret {
	case 'I', 'Z', 'B', 'C', 'S':
		return classfile.IRETURN
	case 'J':
		return classfile.LRETURN
	case 'F':
		return classfile.FRETURN
	case 'D':
		return classfile.DRETURN
	case 'V':
		return classfile.RETURN
	default:
		return classfile.ARETURN
	}
}

// descOfReturn returns the descriptor of a zero-argument method's return
// type - every lazy val accessor has descriptor "()X", so this is just the
// part after the empty parameter list.
func descOfReturn(methodDesc string) string {
	return methodDesc[2:]
}

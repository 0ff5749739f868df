package classfile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDisassembleRendersMnemonicsAndFieldOperands(t *testing.T) {
	list := NewInstructionList()
	list.Append(
		Var(ALOAD, 0),
		Field(GETFIELD, "com/example/Foo", "x", "I"),
		MethodInsn(INVOKESTATIC, "com/example/Foo", "helper", "(I)I", false),
		Simple(IRETURN),
	)
	m := &Method{
		Name:       "x",
		Descriptor: "()I",
		Code:       &Code{MaxStack: 2, MaxLocals: 1, Instructions: list},
	}

	out := Disassemble(m)
	require.Contains(t, out, "x()I:")
	require.Contains(t, out, "aload 0")
	require.Contains(t, out, "getfield com/example/Foo.x:I")
	require.Contains(t, out, "invokestatic com/example/Foo.helper:(I)I")
	require.Contains(t, out, "ireturn")
}

func TestDisassembleRendersBranchTargetsAsLabels(t *testing.T) {
	list := NewInstructionList()
	end := &Label{}
	list.Append(
		Var(ALOAD, 0),
		Jump(IFNULL, end),
		Simple(ICONST_1),
		Simple(IRETURN),
		LabelInsn(end),
		Simple(ICONST_0),
		Simple(IRETURN),
	)
	m := &Method{
		Name:       "isNull",
		Descriptor: "()I",
		Code:       &Code{MaxStack: 1, MaxLocals: 1, Instructions: list},
	}

	out := Disassemble(m)
	lines := strings.Split(out, "\n")
	var branchLine, labelLine string
	for _, l := range lines {
		if strings.Contains(l, "ifnull") {
			branchLine = l
		}
		if strings.HasSuffix(strings.TrimSpace(l), ":") && !strings.Contains(l, "(") {
			labelLine = strings.TrimSpace(l)
		}
	}
	require.NotEmpty(t, branchLine)
	require.NotEmpty(t, labelLine)
	target := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(branchLine), "ifnull"))
	require.Equal(t, strings.TrimSuffix(labelLine, ":"), target)
}

func TestDisassembleAbstractMethodHasNoCode(t *testing.T) {
	m := &Method{Name: "abstractThing", Descriptor: "()V", Code: nil}
	out := Disassemble(m)
	require.Contains(t, out, "(no code)")
}

func TestDisassembleAllConcatenatesEveryMethod(t *testing.T) {
	list1 := NewInstructionList()
	list1.Append(Simple(RETURN))
	list2 := NewInstructionList()
	list2.Append(Simple(ICONST_0), Simple(IRETURN))

	c := &Class{
		Name:      "com/example/Multi",
		SuperName: "java/lang/Object",
		Methods: []*Method{
			{Name: "<init>", Descriptor: "()V", Code: &Code{Instructions: list1}},
			{Name: "zero", Descriptor: "()I", Code: &Code{Instructions: list2}},
		},
	}

	out := DisassembleAll(c)
	require.Contains(t, out, "<init>()V:")
	require.Contains(t, out, "zero()I:")
	require.Contains(t, out, "return")
	require.Contains(t, out, "iconst_0")
}

func TestMnemonicFallsBackForUnknownOpcode(t *testing.T) {
	require.Equal(t, "nop", mnemonic(NOP))
	require.True(t, strings.HasPrefix(mnemonic(Op(250)), "unknown_"))
}

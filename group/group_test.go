package group

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/VirtusLab/lazyvalgrade/classfile"
	"github.com/VirtusLab/lazyvalgrade/detect"
)

func newClass(name string) *classfile.Class {
	return &classfile.Class{
		MajorVersion: classfile.V17,
		AccessFlags:  classfile.AccPublic | classfile.AccSuper,
		Name:         name,
		SuperName:    "java/lang/Object",
		ConstantPool: classfile.NewConstantPool(),
	}
}

func objectUnsafeAccessor(owner, name string) *classfile.Method {
	list := classfile.NewInstructionList()
	list.Append(
		classfile.Var(classfile.ALOAD, 0),
		classfile.Field(classfile.GETFIELD, owner, name, "Ljava/lang/Object;"),
		classfile.MethodInsn(classfile.INVOKESTATIC, owner, name+"$lzyINIT$1",
			"()Ljava/lang/Object;", false),
		classfile.Field(classfile.GETSTATIC, owner, "OFFSET$0", "J"),
		classfile.MethodInsn(classfile.INVOKEVIRTUAL, "scala/runtime/LazyVals$", "objCAS",
			"(Ljava/lang/Object;JLjava/lang/Object;Ljava/lang/Object;)Z", false),
		classfile.Simple(classfile.ARETURN),
	)
	return &classfile.Method{
		AccessFlags: classfile.AccPublic,
		Name:        name,
		Descriptor:  "()Ljava/lang/Object;",
		Code:        &classfile.Code{MaxStack: 4, MaxLocals: 2, Instructions: list},
	}
}

func TestBuildPairsClassWithCompanion(t *testing.T) {
	plain := newClass("com/example/Foo")
	plain.Methods = append(plain.Methods, objectUnsafeAccessor(plain.Name, "x"))

	companion := newClass("com/example/Foo$")
	companion.Fields = append(companion.Fields, &classfile.Field{
		AccessFlags: classfile.AccStatic | classfile.AccFinal,
		Name:        "OFFSET$0",
		Descriptor:  "J",
	})

	groups := Build([]*classfile.Class{plain, companion})
	require.Len(t, groups, 1)
	g := groups[0]
	require.Equal(t, CompanionPair, g.Kind)
	require.Equal(t, plain.Name, g.Class.Name)
	require.Equal(t, companion.Name, g.Companion.Name)
	require.Len(t, g.LazyVals, 1)
}

func TestResolveCompanionOffsetsPointsAtCompanion(t *testing.T) {
	plain := newClass("com/example/Foo")
	plain.Methods = append(plain.Methods, objectUnsafeAccessor(plain.Name, "x"))
	// OFFSET$0 is declared only on the companion, not on plain.
	companion := newClass("com/example/Foo$")
	companion.Fields = append(companion.Fields, &classfile.Field{
		AccessFlags: classfile.AccStatic | classfile.AccFinal,
		Name:        "OFFSET$0",
		Descriptor:  "J",
	})

	groups := Build([]*classfile.Class{plain, companion})
	require.Len(t, groups, 1)
	require.Len(t, groups[0].LazyVals, 1)
	info := groups[0].LazyVals[0]
	require.Equal(t, detect.ObjectUnsafe, info.Family)
	require.Equal(t, companion.Name, info.OffsetOwner)
}

func TestBuildStandaloneClassIsSingleton(t *testing.T) {
	plain := newClass("com/example/Bar")
	groups := Build([]*classfile.Class{plain})
	require.Len(t, groups, 1)
	require.Equal(t, Singleton, groups[0].Kind)
	require.Nil(t, groups[0].Companion)
}

func TestBuildStandaloneCompanionIsSingleton(t *testing.T) {
	companion := newClass("com/example/Baz$")
	groups := Build([]*classfile.Class{companion})
	require.Len(t, groups, 1)
	require.Equal(t, Singleton, groups[0].Kind)
	require.Equal(t, companion.Name, groups[0].Class.Name)
}

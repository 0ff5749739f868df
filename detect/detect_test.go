package detect

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/VirtusLab/lazyvalgrade/classfile"
)

// newClass returns a bare class tree with the given name, ready to have
// methods/fields appended by each test.
func newClass(name string) *classfile.Class {
	return &classfile.Class{
		MajorVersion: classfile.V17,
		AccessFlags:  classfile.AccPublic | classfile.AccSuper,
		Name:         name,
		SuperName:    "java/lang/Object",
		ConstantPool: classfile.NewConstantPool(),
	}
}

// addAccessor appends a public, zero-argument, non-void method built from
// list to class and returns it.
func addAccessor(class *classfile.Class, name, desc string, list *classfile.InstructionList) *classfile.Method {
	m := &classfile.Method{
		AccessFlags: classfile.AccPublic,
		Name:        name,
		Descriptor:  desc,
		Code: &classfile.Code{
			MaxStack:     4,
			MaxLocals:    2,
			Instructions: list,
		},
	}
	class.Methods = append(class.Methods, m)
	return m
}

func TestDetectAllSkipsStaticAndVoidMethods(t *testing.T) {
	class := newClass("com/example/Foo")
	list := classfile.NewInstructionList()
	list.Append(classfile.Simple(classfile.RETURN))
	m := &classfile.Method{
		AccessFlags: classfile.AccPublic | classfile.AccStatic,
		Name:        "init",
		Descriptor:  "()V",
		Code:        &classfile.Code{Instructions: list},
	}
	class.Methods = append(class.Methods, m)

	infos := DetectAll(class)
	require.Empty(t, infos)
}

func TestDetectHandleBasedAccessor(t *testing.T) {
	class := newClass("com/example/Foo")
	list := classfile.NewInstructionList()
	list.Append(
		classfile.Field(classfile.GETSTATIC, class.Name, "x$lzy1$lzyHandle", "Ljava/lang/invoke/VarHandle;"),
		classfile.Var(classfile.ALOAD, 0),
		classfile.MethodInsn(classfile.INVOKEVIRTUAL, "java/lang/invoke/VarHandle", "getAcquire",
			"(Ljava/lang/Object;)Ljava/lang/Object;", false),
		classfile.Simple(classfile.ARETURN),
	)
	addAccessor(class, "x", "()Ljava/lang/Object;", list)

	infos := DetectAll(class)
	require.Len(t, infos, 1)
	require.Equal(t, HandleBased, infos[0].Family)
	require.Equal(t, "x", infos[0].Name)
	require.Equal(t, class.Name, infos[0].Owner)
	require.Equal(t, "x$lzy1", infos[0].StorageField)
}

// TestDetectObjectUnsafeAccessor builds the Scala 3.3-3.7 shape spec §4.2
// names explicitly: the accessor and its out-of-line lzyINIT method call
// into scala.runtime.LazyVals (never sun.misc.Unsafe directly — that class
// is internal to LazyVals's own implementation).
func TestDetectObjectUnsafeAccessor(t *testing.T) {
	class := newClass("com/example/Foo")
	list := classfile.NewInstructionList()
	list.Append(
		classfile.Var(classfile.ALOAD, 0),
		classfile.Field(classfile.GETFIELD, class.Name, "x$lzy1", "Ljava/lang/Object;"),
		classfile.MethodInsn(classfile.INVOKESTATIC, class.Name, "x$lzyINIT$1",
			"()Ljava/lang/Object;", false),
		classfile.Field(classfile.GETSTATIC, "scala/runtime/LazyVals$", "MODULE$", "Lscala/runtime/LazyVals$;"),
		classfile.Var(classfile.ALOAD, 0),
		classfile.Field(classfile.GETSTATIC, class.Name, "OFFSET$0", "J"),
		classfile.MethodInsn(classfile.INVOKEVIRTUAL, "scala/runtime/LazyVals$", "objCAS",
			"(Ljava/lang/Object;JLjava/lang/Object;Ljava/lang/Object;)Z", false),
		classfile.Simple(classfile.ARETURN),
	)
	addAccessor(class, "x", "()Ljava/lang/Object;", list)

	infos := DetectAll(class)
	require.Len(t, infos, 1)
	info := infos[0]
	require.Equal(t, ObjectUnsafe, info.Family)
	require.Equal(t, "OFFSET$0", info.OffsetField)
	require.Equal(t, class.Name, info.OffsetOwner)
	require.Equal(t, "x$lzyINIT$1", info.InitMethod)
	require.Equal(t, "x$lzy1", info.StorageField)
}

// TestDetectObjectUnsafeDoesNotMatchDirectUnsafeCalls locks in the fix: an
// accessor that only touches sun.misc.Unsafe directly (the shape this
// package used to key off of) must NOT be classified ObjectUnsafe, since
// compiled Scala 3.3-3.7 output never invokes Unsafe directly — only
// LazyVals does, internally.
func TestDetectObjectUnsafeDoesNotMatchDirectUnsafeCalls(t *testing.T) {
	class := newClass("com/example/Foo")
	list := classfile.NewInstructionList()
	list.Append(
		classfile.Var(classfile.ALOAD, 0),
		classfile.Field(classfile.GETFIELD, class.Name, "x$lzy1", "Ljava/lang/Object;"),
		classfile.MethodInsn(classfile.INVOKESTATIC, class.Name, "x$lzyINIT$1",
			"()Ljava/lang/Object;", false),
		classfile.Field(classfile.GETSTATIC, class.Name, "OFFSET$0", "J"),
		classfile.MethodInsn(classfile.INVOKEVIRTUAL, "sun/misc/Unsafe", "compareAndSwapObject",
			"(Ljava/lang/Object;JLjava/lang/Object;Ljava/lang/Object;)Z", false),
		classfile.Simple(classfile.ARETURN),
	)
	addAccessor(class, "x", "()Ljava/lang/Object;", list)

	// No LazyVals reference anywhere, but there is a $lzy-marked,
	// non-volatile storage field with an offset and an init method wired
	// up in the plain JDK-Unsafe shape: since this shape does not occur in
	// real compiler output, it is treated as Unknown rather than
	// ObjectUnsafe, forcing a caller to look closer rather than silently
	// misclassify it.
	infos := DetectAll(class)
	require.Len(t, infos, 1)
	require.Equal(t, Unknown, infos[0].Family)
}

func TestDetectBitmapAccessor(t *testing.T) {
	class := newClass("com/example/Foo")
	list := classfile.NewInstructionList()
	end := &classfile.Label{}
	list.Append(
		classfile.Var(classfile.ALOAD, 0),
		classfile.Field(classfile.GETFIELD, class.Name, "bitmap$0", "I"),
		classfile.Simple(classfile.ICONST_1),
		classfile.Simple(classfile.IAND),
		classfile.Jump(classfile.IFNE, end),
		classfile.Var(classfile.ALOAD, 0),
		classfile.Simple(classfile.ICONST_2),
		classfile.Field(classfile.PUTFIELD, class.Name, "x$lzy1", "I"),
		classfile.LabelInsn(end),
		classfile.Var(classfile.ALOAD, 0),
		classfile.Field(classfile.GETFIELD, class.Name, "x$lzy1", "I"),
		classfile.Simple(classfile.IRETURN),
	)
	addAccessor(class, "x", "()I", list)

	infos := DetectAll(class)
	require.Len(t, infos, 1)
	info := infos[0]
	require.Equal(t, Bitmap, info.Family)
	require.Equal(t, "bitmap$0", info.BitmapField)
	require.Equal(t, int32(1), info.BitmapMask)
	require.Equal(t, "x$lzy1", info.StorageField)
}

func TestDetectUnrecognizedShapeIsSkipped(t *testing.T) {
	class := newClass("com/example/Foo")
	list := classfile.NewInstructionList()
	list.Append(
		classfile.Simple(classfile.ICONST_1),
		classfile.Simple(classfile.IRETURN),
	)
	addAccessor(class, "plain", "()I", list)

	infos := DetectAll(class)
	require.Empty(t, infos)
}

// TestDetectIgnoresNonVolatileEagerReferenceHolder exercises §3 invariant
//4's exception and spec §8 scenario S6: a field that merely carries the
// "$lzy" naming convention with no offset/bitmap/handle/init companion, and
// is not volatile, must be ignored rather than reported Unknown.
func TestDetectIgnoresNonVolatileEagerReferenceHolder(t *testing.T) {
	class := newClass("com/example/Foo")
	class.Fields = append(class.Fields, &classfile.Field{
		AccessFlags: classfile.AccPrivate,
		Name:        "x$lzy1",
		Descriptor:  "Ljava/lang/Object;",
	})
	list := classfile.NewInstructionList()
	list.Append(
		classfile.Var(classfile.ALOAD, 0),
		classfile.Field(classfile.GETFIELD, class.Name, "x$lzy1", "Ljava/lang/Object;"),
		classfile.Simple(classfile.ARETURN),
	)
	addAccessor(class, "x", "()Ljava/lang/Object;", list)

	infos := DetectAll(class)
	require.Empty(t, infos)
}

// TestDetectReportsUnknownForVolatileUnrecognizedShape exercises the other
// branch of §3 invariant 4: a volatile field carrying the "$lzy" naming
// convention signals a real, if unrecognized, lazy val scheme, so it must
// surface as Unknown rather than being silently ignored.
func TestDetectReportsUnknownForVolatileUnrecognizedShape(t *testing.T) {
	class := newClass("com/example/Foo")
	class.Fields = append(class.Fields, &classfile.Field{
		AccessFlags: classfile.AccPrivate | classfile.AccVolatile,
		Name:        "x$lzy1",
		Descriptor:  "Ljava/lang/Object;",
	})
	list := classfile.NewInstructionList()
	list.Append(
		classfile.Var(classfile.ALOAD, 0),
		classfile.Field(classfile.GETFIELD, class.Name, "x$lzy1", "Ljava/lang/Object;"),
		classfile.Simple(classfile.ARETURN),
	)
	addAccessor(class, "x", "()Ljava/lang/Object;", list)

	infos := DetectAll(class)
	require.Len(t, infos, 1)
	require.Equal(t, Unknown, infos[0].Family)
	require.Equal(t, "x$lzy1", infos[0].StorageField)
}

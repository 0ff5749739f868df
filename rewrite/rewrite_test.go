package rewrite

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/VirtusLab/lazyvalgrade/classfile"
	"github.com/VirtusLab/lazyvalgrade/detect"
	"github.com/VirtusLab/lazyvalgrade/group"
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

// clinitWithOffsetComputation builds the spec §4.2 OFFSET mapping sequence
// every 3.3-3.7 companion <clinit> runs once per lazy val: resolve the
// field's byte offset via scala.runtime.LazyVals.getOffsetStatic and stash
// it in a static long field.
func clinitWithOffsetComputation(owner, offsetField, storageField string) *classfile.Method {
	list := classfile.NewInstructionList()
	list.Append(
		classfile.Field(classfile.GETSTATIC, "scala/runtime/LazyVals$", "MODULE$", "Lscala/runtime/LazyVals$;"),
		classfile.Ldc(classfile.ClassConst{Name: owner}),
		classfile.Ldc(storageField),
		classfile.MethodInsn(classfile.INVOKEVIRTUAL, "scala/runtime/LazyVals$", "getOffsetStatic",
			"(Ljava/lang/Class;Ljava/lang/String;)J", false),
		classfile.Field(classfile.PUTSTATIC, owner, offsetField, "J"),
		classfile.Simple(classfile.RETURN),
	)
	return &classfile.Method{
		AccessFlags: classfile.AccStatic,
		Name:        "<clinit>",
		Descriptor:  "()V",
		Code:        &classfile.Code{MaxStack: 4, MaxLocals: 0, Instructions: list},
	}
}

// objectUnsafeGroup builds the spec §4.2 Scala 3.3-3.7 shape: an accessor
// and out-of-line lzyINIT method mediated by scala.runtime.LazyVals (never
// sun.misc.Unsafe directly), with the objCAS-then-branch preamble extract
// must skip past.
func objectUnsafeGroup(t *testing.T) (*group.Group, *classfile.Class) {
	t.Helper()
	owner := newClass("com/example/Foo")

	owner.Fields = append(owner.Fields, &classfile.Field{
		AccessFlags: classfile.AccPrivate,
		Name:        "x$lzy1",
		Descriptor:  "Ljava/lang/Object;",
	})
	owner.Fields = append(owner.Fields, &classfile.Field{
		AccessFlags: classfile.AccStatic | classfile.AccFinal,
		Name:        "OFFSET$0",
		Descriptor:  "J",
	})

	initList := classfile.NewInstructionList()
	retry := &classfile.Label{}
	initList.Append(
		classfile.Var(classfile.ALOAD, 0),
		classfile.Field(classfile.GETSTATIC, "scala/runtime/LazyVals$", "MODULE$", "Lscala/runtime/LazyVals$;"),
		classfile.Var(classfile.ALOAD, 0),
		classfile.Field(classfile.GETSTATIC, owner.Name, "OFFSET$0", "J"),
		classfile.MethodInsn(classfile.INVOKEVIRTUAL, "scala/runtime/LazyVals$", "objCAS",
			"(Ljava/lang/Object;JLjava/lang/Object;Ljava/lang/Object;)Z", false),
		classfile.Jump(classfile.IFEQ, retry),
		classfile.Simple(classfile.ICONST_1),
		classfile.Simple(classfile.ICONST_2),
		classfile.Simple(classfile.IADD),
		classfile.MethodInsn(classfile.INVOKESTATIC, "scala/runtime/BoxesRunTime", "boxToInteger",
			"(I)Ljava/lang/Integer;", false),
		classfile.Var(classfile.ASTORE, 5),
		classfile.Var(classfile.ALOAD, 5),
		classfile.Simple(classfile.ARETURN),
		classfile.LabelInsn(retry),
		classfile.Var(classfile.ALOAD, 0),
		classfile.MethodInsn(classfile.INVOKESTATIC, owner.Name, "x$lzyINIT$1", "()Ljava/lang/Object;", false),
		classfile.Simple(classfile.ARETURN),
	)
	owner.Methods = append(owner.Methods, &classfile.Method{
		AccessFlags: classfile.AccPrivate | classfile.AccStatic,
		Name:        "x$lzyINIT$1",
		Descriptor:  "()Ljava/lang/Object;",
		Code:        &classfile.Code{MaxStack: 4, MaxLocals: 6, Instructions: initList},
	})

	accessorList := classfile.NewInstructionList()
	accessorList.Append(
		classfile.Var(classfile.ALOAD, 0),
		classfile.Field(classfile.GETFIELD, owner.Name, "x$lzy1", "Ljava/lang/Object;"),
		classfile.MethodInsn(classfile.INVOKESTATIC, owner.Name, "x$lzyINIT$1", "()Ljava/lang/Object;", false),
		classfile.Field(classfile.GETSTATIC, "scala/runtime/LazyVals$", "MODULE$", "Lscala/runtime/LazyVals$;"),
		classfile.Var(classfile.ALOAD, 0),
		classfile.Field(classfile.GETSTATIC, owner.Name, "OFFSET$0", "J"),
		classfile.MethodInsn(classfile.INVOKEVIRTUAL, "scala/runtime/LazyVals$", "objCAS",
			"(Ljava/lang/Object;JLjava/lang/Object;Ljava/lang/Object;)Z", false),
		classfile.Simple(classfile.ARETURN),
	)
	owner.Methods = append(owner.Methods, &classfile.Method{
		AccessFlags: classfile.AccPublic,
		Name:        "x",
		Descriptor:  "()Ljava/lang/Object;",
		Code:        &classfile.Code{MaxStack: 4, MaxLocals: 2, Instructions: accessorList},
	})

	owner.Methods = append(owner.Methods, clinitWithOffsetComputation(owner.Name, "OFFSET$0", "x$lzy1"))

	infos := detect.DetectAll(owner)
	require.Len(t, infos, 1)
	require.Equal(t, detect.ObjectUnsafe, infos[0].Family)
	require.Equal(t, "x$lzy1", infos[0].StorageField)

	g := &group.Group{Kind: group.Singleton, Class: owner, LazyVals: infos}
	return g, owner
}

func TestRewriteObjectUnsafeProducesVarHandleScheme(t *testing.T) {
	g, owner := objectUnsafeGroup(t)

	r := New()
	err := r.Rewrite(g)
	require.NoError(t, err)

	require.Nil(t, owner.FindField("OFFSET$0", "J"))
	require.NotNil(t, owner.FindField("x$lzy1$VH", "Ljava/lang/invoke/VarHandle;"))
	// the old private static lzyINIT is replaced, under the same name, by
	// the synthesized private final one.
	require.Equal(t, classfile.AccPrivate|classfile.AccFinal, owner.FindMethod("x$lzyINIT$1", "()Ljava/lang/Object;").AccessFlags)

	accessor := owner.FindMethod("x", "()Ljava/lang/Object;")
	require.NotNil(t, accessor)
	require.NotNil(t, accessor.Code)

	// the rewritten accessor should reference the VarHandle field, not
	// sun.misc.Unsafe or scala.runtime.LazyVals.
	var usesUnsafe, usesLazyVals, usesVarHandle bool
	list := accessor.Code.Instructions
	for i := 0; i < list.Len(); i++ {
		insn := list.At(i)
		if insn.Owner == "sun/misc/Unsafe" {
			usesUnsafe = true
		}
		if insn.Owner == "scala/runtime/LazyVals$" {
			usesLazyVals = true
		}
		if insn.Owner == "java/lang/invoke/VarHandle" {
			usesVarHandle = true
		}
	}
	require.False(t, usesUnsafe)
	require.False(t, usesLazyVals)
	require.True(t, usesVarHandle)

	// reclassifying the rewritten class should now report HandleBased.
	reclassified := detect.DetectAll(owner)
	require.Len(t, reclassified, 1)
	require.Equal(t, detect.HandleBased, reclassified[0].Family)
}

// TestRewriteSynthesizedLzyInitCoordinatesThroughSentinels locks in the §4.5
// state machine: the synthesized lzyINIT must claim the right to run the
// initializer via a CAS to the Evaluating sentinel before ever touching the
// extracted body, and must be prepared to hand a contending thread a
// Waiting latch rather than let it return a stale or partial value.
func TestRewriteSynthesizedLzyInitCoordinatesThroughSentinels(t *testing.T) {
	g, owner := objectUnsafeGroup(t)

	r := New()
	require.NoError(t, r.Rewrite(g))

	init := owner.FindMethod("x$lzyINIT$1", "()Ljava/lang/Object;")
	require.NotNil(t, init)

	var sawEvaluating, sawWaitingType, sawCountDown, sawAwait, sawCompareAndSet bool
	list := init.Code.Instructions
	for i := 0; i < list.Len(); i++ {
		insn := list.At(i)
		if insn.Owner == lazyValsEvaluatingOwner {
			sawEvaluating = true
		}
		if insn.Owner == lazyValsWaitingClass || insn.TypeOperand == lazyValsWaitingClass {
			sawWaitingType = true
		}
		if insn.Name == "countDown" {
			sawCountDown = true
		}
		if insn.Name == "await" {
			sawAwait = true
		}
		if insn.Name == "compareAndSet" {
			sawCompareAndSet = true
		}
	}
	require.True(t, sawEvaluating, "must CAS against the Evaluating sentinel before running the initializer")
	require.True(t, sawWaitingType, "must reference the Waiting latch type")
	require.True(t, sawCountDown, "must release contenders blocked on a Waiting latch")
	require.True(t, sawAwait, "must block contenders on a Waiting latch rather than busy-spin")
	require.True(t, sawCompareAndSet, "must CAS to claim the right to run the initializer")
	require.NotEmpty(t, init.Code.TryCatches, "must wrap the initializer so a thrown exception restores the uninitialized state")
}

func TestRewriteIsIdempotentOnAlreadyHandleBasedGroup(t *testing.T) {
	g, owner := objectUnsafeGroup(t)

	r := New()
	require.NoError(t, r.Rewrite(g))

	// rebuild the group from the now-rewritten class and rewrite again;
	// HandleBased entries must be a no-op (Rewrite just continues).
	infos := detect.DetectAll(owner)
	g2 := &group.Group{Kind: group.Singleton, Class: owner, LazyVals: infos}
	require.NoError(t, r.Rewrite(g2))
}

func bitmapGroup(t *testing.T) (*group.Group, *classfile.Class) {
	t.Helper()
	owner := newClass("com/example/Bar")

	owner.Fields = append(owner.Fields,
		&classfile.Field{AccessFlags: classfile.AccPrivate, Name: "bitmap$0", Descriptor: "I"},
		&classfile.Field{AccessFlags: classfile.AccPrivate, Name: "x$lzy1", Descriptor: "I"},
	)

	list := classfile.NewInstructionList()
	end := &classfile.Label{}
	list.Append(
		classfile.Var(classfile.ALOAD, 0),
		classfile.Field(classfile.GETFIELD, owner.Name, "bitmap$0", "I"),
		classfile.Simple(classfile.ICONST_1),
		classfile.Simple(classfile.IAND),
		classfile.Jump(classfile.IFNE, end),
		classfile.Var(classfile.ALOAD, 0),
		classfile.Simple(classfile.ICONST_1),
		classfile.Simple(classfile.ICONST_2),
		classfile.Simple(classfile.IADD),
		classfile.Field(classfile.PUTFIELD, owner.Name, "x$lzy1", "I"),
		classfile.LabelInsn(end),
		classfile.Var(classfile.ALOAD, 0),
		classfile.Field(classfile.GETFIELD, owner.Name, "x$lzy1", "I"),
		classfile.Simple(classfile.IRETURN),
	)
	owner.Methods = append(owner.Methods, &classfile.Method{
		AccessFlags: classfile.AccPublic,
		Name:        "x",
		Descriptor:  "()I",
		Code:        &classfile.Code{MaxStack: 4, MaxLocals: 1, Instructions: list},
	})

	infos := detect.DetectAll(owner)
	require.Len(t, infos, 1)
	require.Equal(t, detect.Bitmap, infos[0].Family)

	g := &group.Group{Kind: group.Singleton, Class: owner, LazyVals: infos}
	return g, owner
}

func TestRewriteBitmapProducesVarHandleScheme(t *testing.T) {
	g, owner := bitmapGroup(t)

	r := New()
	err := r.Rewrite(g)
	require.NoError(t, err)

	require.Nil(t, owner.FindField("bitmap$0", "I"))
	require.NotNil(t, owner.FindField("x$lzy1$VH", "Ljava/lang/invoke/VarHandle;"))

	storage := owner.FindField("x$lzy1", "Ljava/lang/Object;")
	require.NotNil(t, storage, "storage field must be retyped to Object for VarHandle compatibility")

	require.NotNil(t, owner.FindMethod("x$lzyINIT1", "()Ljava/lang/Object;"))

	accessor := owner.FindMethod("x", "()I")
	require.NotNil(t, accessor)
	require.NotNil(t, accessor.Code)
}

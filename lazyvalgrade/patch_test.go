package lazyvalgrade

import (
	"context"
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

// objectUnsafeGroup builds a Singleton group with one ObjectUnsafe lazy val
// in the spec §4.2 shape: accessor and out-of-line lzyINIT method mediated
// by scala.runtime.LazyVals, with the objCAS-then-branch preamble a real
// extraction must skip past.
func objectUnsafeGroup(t *testing.T) *group.Group {
	t.Helper()
	owner := newClass("com/example/Foo")

	owner.Fields = append(owner.Fields,
		&classfile.Field{AccessFlags: classfile.AccPrivate, Name: "x$lzy1", Descriptor: "Ljava/lang/Object;"},
		&classfile.Field{AccessFlags: classfile.AccStatic | classfile.AccFinal, Name: "OFFSET$0", Descriptor: "J"},
	)

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

	clinitList := classfile.NewInstructionList()
	clinitList.Append(
		classfile.Field(classfile.GETSTATIC, "scala/runtime/LazyVals$", "MODULE$", "Lscala/runtime/LazyVals$;"),
		classfile.Ldc(classfile.ClassConst{Name: owner.Name}),
		classfile.Ldc("x$lzy1"),
		classfile.MethodInsn(classfile.INVOKEVIRTUAL, "scala/runtime/LazyVals$", "getOffsetStatic",
			"(Ljava/lang/Class;Ljava/lang/String;)J", false),
		classfile.Field(classfile.PUTSTATIC, owner.Name, "OFFSET$0", "J"),
		classfile.Simple(classfile.RETURN),
	)
	owner.Methods = append(owner.Methods, &classfile.Method{
		AccessFlags: classfile.AccStatic,
		Name:        "<clinit>",
		Descriptor:  "()V",
		Code:        &classfile.Code{MaxStack: 4, MaxLocals: 0, Instructions: clinitList},
	})

	return &group.Group{Kind: group.Singleton, Class: owner, LazyVals: detect.DetectAll(owner)}
}

func TestPatchRewritesAndSerializesSingleton(t *testing.T) {
	g := objectUnsafeGroup(t)
	res := Patch(g)

	require.Equal(t, PatchedSingle, res.Kind)
	require.Nil(t, res.Diagnostic)
	require.Contains(t, res.Output, "com/example/Foo")
	require.NotEmpty(t, res.Output["com/example/Foo"])
}

func TestPatchReportsNotApplicableWhenNoLazyVals(t *testing.T) {
	owner := newClass("com/example/Plain")
	g := &group.Group{Kind: group.Singleton, Class: owner}

	res := Patch(g)
	require.Equal(t, NotApplicable, res.Kind)
	require.NotNil(t, res.Diagnostic)
	require.Equal(t, Irrelevant, res.Diagnostic.Kind)
}

func TestAlreadyPatchedDetectsHandleBasedGroup(t *testing.T) {
	owner := newClass("com/example/Foo")
	list := classfile.NewInstructionList()
	list.Append(
		classfile.Field(classfile.GETSTATIC, owner.Name, "x$lzy1$lzyHandle", "Ljava/lang/invoke/VarHandle;"),
		classfile.Var(classfile.ALOAD, 0),
		classfile.MethodInsn(classfile.INVOKEVIRTUAL, "java/lang/invoke/VarHandle", "getAcquire",
			"(Ljava/lang/Object;)Ljava/lang/Object;", false),
		classfile.Simple(classfile.ARETURN),
	)
	owner.Methods = append(owner.Methods, &classfile.Method{
		AccessFlags: classfile.AccPublic,
		Name:        "x",
		Descriptor:  "()Ljava/lang/Object;",
		Code:        &classfile.Code{MaxStack: 2, MaxLocals: 1, Instructions: list},
	})

	g := &group.Group{Kind: group.Singleton, Class: owner, LazyVals: detect.DetectAll(owner)}
	require.True(t, AlreadyPatched(g))

	res := Patch(g)
	require.Equal(t, NotApplicable, res.Kind)
	require.Equal(t, AlreadyHandleBased, res.Diagnostic.Kind)
}

// TestPatchSurfacesUnknownSchemeDistinctly exercises the §7/§9 error kind a
// load-time caller must not silently swallow: a volatile "$lzy"-marked
// field with no recognized offset/bitmap/handle/init companion is real but
// unclassifiable, and must come back as Failed with Diagnostic.Kind ==
// UnknownScheme rather than NotApplicable or a generic rewrite failure.
func TestPatchSurfacesUnknownSchemeDistinctly(t *testing.T) {
	owner := newClass("com/example/Weird")
	owner.Fields = append(owner.Fields, &classfile.Field{
		AccessFlags: classfile.AccPrivate | classfile.AccVolatile,
		Name:        "x$lzy1",
		Descriptor:  "Ljava/lang/Object;",
	})
	list := classfile.NewInstructionList()
	list.Append(
		classfile.Var(classfile.ALOAD, 0),
		classfile.Field(classfile.GETFIELD, owner.Name, "x$lzy1", "Ljava/lang/Object;"),
		classfile.Simple(classfile.ARETURN),
	)
	owner.Methods = append(owner.Methods, &classfile.Method{
		AccessFlags: classfile.AccPublic,
		Name:        "x",
		Descriptor:  "()Ljava/lang/Object;",
		Code:        &classfile.Code{MaxStack: 2, MaxLocals: 2, Instructions: list},
	})

	g := &group.Group{Kind: group.Singleton, Class: owner, LazyVals: detect.DetectAll(owner)}
	require.Len(t, g.LazyVals, 1)
	require.Equal(t, detect.Unknown, g.LazyVals[0].Family)

	res := Patch(g)
	require.Equal(t, Failed, res.Kind)
	require.NotNil(t, res.Diagnostic)
	require.Equal(t, UnknownScheme, res.Diagnostic.Kind)
}

func TestPatchAllIsolatesFailuresPerGroup(t *testing.T) {
	good := objectUnsafeGroup(t)

	// A group whose detected ObjectUnsafe lazy val has no actual lzyINIT
	// method on the owner: Rewrite must fail for this group alone.
	broken := newClass("com/example/Broken")
	broken.Fields = append(broken.Fields,
		&classfile.Field{AccessFlags: classfile.AccPrivate, Name: "y$lzy1", Descriptor: "Ljava/lang/Object;"},
		&classfile.Field{AccessFlags: classfile.AccStatic | classfile.AccFinal, Name: "OFFSET$0", Descriptor: "J"},
	)
	brokenAccessor := classfile.NewInstructionList()
	brokenAccessor.Append(
		classfile.Var(classfile.ALOAD, 0),
		classfile.Field(classfile.GETFIELD, broken.Name, "y$lzy1", "Ljava/lang/Object;"),
		classfile.MethodInsn(classfile.INVOKESTATIC, broken.Name, "y$lzyINIT$1", "()Ljava/lang/Object;", false),
		classfile.Field(classfile.GETSTATIC, "scala/runtime/LazyVals$", "MODULE$", "Lscala/runtime/LazyVals$;"),
		classfile.Var(classfile.ALOAD, 0),
		classfile.Field(classfile.GETSTATIC, broken.Name, "OFFSET$0", "J"),
		classfile.MethodInsn(classfile.INVOKEVIRTUAL, "scala/runtime/LazyVals$", "objCAS",
			"(Ljava/lang/Object;JLjava/lang/Object;Ljava/lang/Object;)Z", false),
		classfile.Simple(classfile.ARETURN),
	)
	broken.Methods = append(broken.Methods, &classfile.Method{
		AccessFlags: classfile.AccPublic,
		Name:        "y",
		Descriptor:  "()Ljava/lang/Object;",
		Code:        &classfile.Code{MaxStack: 4, MaxLocals: 2, Instructions: brokenAccessor},
	})
	// deliberately no y$lzyINIT$1 method defined, so extract.FromLzyInit fails.
	brokenGroup := &group.Group{Kind: group.Singleton, Class: broken, LazyVals: detect.DetectAll(broken)}
	require.Equal(t, detect.ObjectUnsafe, brokenGroup.LazyVals[0].Family)

	results := PatchAll(context.Background(), []*group.Group{good, brokenGroup}, 2)
	require.Len(t, results, 2)

	require.Equal(t, PatchedSingle, results[0].Kind)
	require.Equal(t, Failed, results[1].Kind)
	require.NotNil(t, results[1].Diagnostic)
	require.Equal(t, ExtractionFailure, results[1].Diagnostic.Kind)
}

package supertype

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/VirtusLab/lazyvalgrade/classfile"
)

func TestIsAssignableFromWalksLoadedHierarchy(t *testing.T) {
	r := NewResolver()
	r.LoadClass(&classfile.Class{Name: "com/example/Base", SuperName: "java/lang/Object"})
	r.LoadClass(&classfile.Class{Name: "com/example/Mid", SuperName: "com/example/Base"})
	r.LoadClass(&classfile.Class{Name: "com/example/Leaf", SuperName: "com/example/Mid",
		Interfaces: []string{"com/example/Marker"}})

	require.True(t, r.IsAssignableFrom("com/example/Base", "com/example/Leaf"))
	require.True(t, r.IsAssignableFrom("com/example/Mid", "com/example/Leaf"))
	require.True(t, r.IsAssignableFrom("com/example/Marker", "com/example/Leaf"))
	require.True(t, r.IsAssignableFrom("java/lang/Object", "com/example/Leaf"))
	require.False(t, r.IsAssignableFrom("com/example/Leaf", "com/example/Base"))
}

func TestIsAssignableFromUsesJDKFallbackForUnloadedNames(t *testing.T) {
	r := NewResolver()
	require.True(t, r.IsAssignableFrom("java/lang/Number", "java/lang/Integer"))
	require.True(t, r.IsAssignableFrom("java/lang/Object", "java/lang/Integer"))
	require.True(t, r.IsAssignableFrom("java/util/AbstractCollection", "java/util/ArrayList"))
}

func TestIsAssignableFromUnknownNonJDKNameIsFalse(t *testing.T) {
	r := NewResolver()
	require.False(t, r.IsAssignableFrom("com/example/Whatever", "com/other/Unrelated"))
}

func TestLoadParsesSuperclassOnly(t *testing.T) {
	c := &classfile.Class{
		MajorVersion: classfile.V17,
		AccessFlags:  classfile.AccPublic | classfile.AccSuper,
		Name:         "com/example/Foo",
		SuperName:    "com/example/Base",
		ConstantPool: classfile.NewConstantPool(),
	}
	data, err := classfile.Write(c)
	require.NoError(t, err)

	r := NewResolver()
	require.NoError(t, r.Load(c.Name, data))
	require.True(t, r.IsAssignableFrom("com/example/Base", "com/example/Foo"))
}

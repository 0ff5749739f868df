package classfile

// Class is a mutable, in-memory representation of one class file: an
// ordered sequence of fields and methods over a shared constant pool.
// Instruction order, labels, exception ranges and constant pool references
// are preserved so the rewriter can insert, remove and splice instructions
// by position (spec §3 "Class tree").
type Class struct {
	MinorVersion uint16
	MajorVersion uint16
	AccessFlags  int
	Name         string // internal name, e.g. "com/example/Foo"
	SuperName    string
	Interfaces   []string
	Fields       []*Field
	Methods      []*Method
	Attributes   []*Attribute
	ConstantPool *ConstantPool

	// SourceFile, when non-empty, is copied verbatim from the SourceFile
	// attribute; not otherwise interpreted.
	SourceFile string
}

// FindField returns the field named name with the given descriptor, or nil.
func (c *Class) FindField(name, desc string) *Field {
	for _, f := range c.Fields {
		if f.Name == name && f.Descriptor == desc {
			return f
		}
	}
	return nil
}

// FindMethod returns the method named name with the given descriptor, or nil.
func (c *Class) FindMethod(name, desc string) *Method {
	for _, m := range c.Methods {
		if m.Name == name && m.Descriptor == desc {
			return m
		}
	}
	return nil
}

// RemoveField removes the field named name with the given descriptor, if
// present, reporting whether it removed anything.
func (c *Class) RemoveField(name, desc string) bool {
	for i, f := range c.Fields {
		if f.Name == name && f.Descriptor == desc {
			c.Fields = append(c.Fields[:i], c.Fields[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveMethod removes the method named name with the given descriptor, if
// present, reporting whether it removed anything.
func (c *Class) RemoveMethod(name, desc string) bool {
	for i, m := range c.Methods {
		if m.Name == name && m.Descriptor == desc {
			c.Methods = append(c.Methods[:i], c.Methods[i+1:]...)
			return true
		}
	}
	return false
}

// Field is one field_info structure.
type Field struct {
	AccessFlags   int
	Name          string
	Descriptor    string
	Signature     string // generic Signature attribute, if present
	ConstantValue interface{}
	Attributes    []*Attribute
}

func (f *Field) IsStatic() bool   { return f.AccessFlags&AccStatic != 0 }
func (f *Field) IsVolatile() bool { return f.AccessFlags&AccVolatile != 0 }
func (f *Field) IsFinal() bool    { return f.AccessFlags&AccFinal != 0 }

// Method is one method_info structure.
type Method struct {
	AccessFlags int
	Name        string
	Descriptor  string
	Code        *Code // nil for abstract/native methods
	Exceptions  []string
	Attributes  []*Attribute
}

func (m *Method) IsStatic() bool { return m.AccessFlags&AccStatic != 0 }

// Code is the Code attribute of a method.
type Code struct {
	MaxStack       int
	MaxLocals      int
	Instructions   *InstructionList
	TryCatches     []*TryCatch
	LocalVariables []*LocalVariable
	Attributes     []*Attribute
}

// TryCatch is one exception_table entry of the Code attribute.
type TryCatch struct {
	Start, End, Handler *Label
	CatchType           string // "" means catch-all (used by `finally`)
}

// LocalVariable is one LocalVariableTable entry.
type LocalVariable struct {
	Name       string
	Descriptor string
	Start, End *Label
	Index      int
}

// Attribute is a raw, unparsed attribute_info: name plus its info bytes.
// Attributes the rewriter does not need to understand (annotations,
// InnerClasses, etc.) round-trip through this opaque form.
type Attribute struct {
	Name string
	Data []byte
}

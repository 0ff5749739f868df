package classfile

import "fmt"

// Constant pool entry tags (JVMS 4.4).
const (
	TagUtf8               = 1
	TagInteger            = 3
	TagFloat              = 4
	TagLong               = 5
	TagDouble             = 6
	TagClass              = 7
	TagString             = 8
	TagFieldref           = 9
	TagMethodref          = 10
	TagInterfaceMethodref = 11
	TagNameAndType        = 12
	TagMethodHandle       = 15
	TagMethodType         = 16
	TagDynamic            = 17
	TagInvokeDynamic      = 18
	TagModule             = 19
	TagPackage            = 20
)

// CPEntry is implemented by every constant pool structure.
type CPEntry interface {
	Tag() byte
}

type CPUtf8 struct{ Value string }
type CPInteger struct{ Value int32 }
type CPFloat struct{ Value float32 }
type CPLong struct{ Value int64 }
type CPDouble struct{ Value float64 }
type CPClass struct{ NameIndex uint16 }
type CPString struct{ StringIndex uint16 }
type CPFieldref struct{ ClassIndex, NameAndTypeIndex uint16 }
type CPMethodref struct{ ClassIndex, NameAndTypeIndex uint16 }
type CPInterfaceMethodref struct{ ClassIndex, NameAndTypeIndex uint16 }
type CPNameAndType struct{ NameIndex, DescriptorIndex uint16 }
type CPMethodHandle struct {
	ReferenceKind  byte
	ReferenceIndex uint16
}
type CPMethodType struct{ DescriptorIndex uint16 }
type CPDynamic struct {
	BootstrapMethodAttrIndex uint16
	NameAndTypeIndex         uint16
}
type CPInvokeDynamic struct {
	BootstrapMethodAttrIndex uint16
	NameAndTypeIndex         uint16
}
type CPModule struct{ NameIndex uint16 }
type CPPackage struct{ NameIndex uint16 }

func (CPUtf8) Tag() byte               { return TagUtf8 }
func (CPInteger) Tag() byte            { return TagInteger }
func (CPFloat) Tag() byte              { return TagFloat }
func (CPLong) Tag() byte               { return TagLong }
func (CPDouble) Tag() byte             { return TagDouble }
func (CPClass) Tag() byte              { return TagClass }
func (CPString) Tag() byte             { return TagString }
func (CPFieldref) Tag() byte           { return TagFieldref }
func (CPMethodref) Tag() byte          { return TagMethodref }
func (CPInterfaceMethodref) Tag() byte { return TagInterfaceMethodref }
func (CPNameAndType) Tag() byte        { return TagNameAndType }
func (CPMethodHandle) Tag() byte       { return TagMethodHandle }
func (CPMethodType) Tag() byte         { return TagMethodType }
func (CPDynamic) Tag() byte            { return TagDynamic }
func (CPInvokeDynamic) Tag() byte      { return TagInvokeDynamic }
func (CPModule) Tag() byte             { return TagModule }
func (CPPackage) Tag() byte            { return TagPackage }

// ConstantPool is the mutable constant pool of a class tree. Index 0 is
// unused (as in the JVMS); Long and Double entries occupy two consecutive
// indices, the second of which is left nil, mirroring the classfile format.
type ConstantPool struct {
	entries []CPEntry

	utf8ByValue        map[string]uint16
	classByName        map[string]uint16
	nameAndTypeByKey   map[string]uint16
	fieldrefByKey      map[string]uint16
	methodrefByKey     map[string]uint16
	ifaceMethodByKey   map[string]uint16
	stringByValue      map[string]uint16
	longByValue        map[int64]uint16
	methodTypeByDesc   map[string]uint16
	methodHandleByKey  map[string]uint16
}

// NewConstantPool returns an empty constant pool with only the reserved
// index 0 slot.
func NewConstantPool() *ConstantPool {
	return &ConstantPool{
		entries:           make([]CPEntry, 1),
		utf8ByValue:       map[string]uint16{},
		classByName:       map[string]uint16{},
		nameAndTypeByKey:  map[string]uint16{},
		fieldrefByKey:     map[string]uint16{},
		methodrefByKey:    map[string]uint16{},
		ifaceMethodByKey:  map[string]uint16{},
		stringByValue:     map[string]uint16{},
		longByValue:       map[int64]uint16{},
		methodTypeByDesc:  map[string]uint16{},
		methodHandleByKey: map[string]uint16{},
	}
}

// newConstantPoolWithCount preallocates entries for a parse of a class file
// whose constant_pool_count is known up front. Used only by Parse /
// ReadSuperclassOnly, which fill slots by absolute index via setRaw so that
// every CPEntry's embedded indices keep meaning the same thing they meant in
// the source file.
func newConstantPoolWithCount(count int) *ConstantPool {
	cp := NewConstantPool()
	if count > 1 {
		cp.entries = make([]CPEntry, count)
	}
	return cp
}

// setRaw places e at the literal index i, used only while parsing.
func (cp *ConstantPool) setRaw(i uint16, e CPEntry) {
	cp.entries[i] = e
}

// reindex populates the interning maps from already-parsed entries, first
// occurrence wins. Called once after a raw parse so that any later Add*
// call on a parsed pool dedups against what is already there instead of
// appending a redundant duplicate entry.
func (cp *ConstantPool) reindex() {
	for i := 1; i < len(cp.entries); i++ {
		switch e := cp.entries[i].(type) {
		case CPUtf8:
			if _, ok := cp.utf8ByValue[e.Value]; !ok {
				cp.utf8ByValue[e.Value] = uint16(i)
			}
		case CPClass:
			name := cp.UTF8(e.NameIndex)
			if _, ok := cp.classByName[name]; !ok {
				cp.classByName[name] = uint16(i)
			}
		case CPNameAndType:
			key := cp.UTF8(e.NameIndex) + "\x00" + cp.UTF8(e.DescriptorIndex)
			if _, ok := cp.nameAndTypeByKey[key]; !ok {
				cp.nameAndTypeByKey[key] = uint16(i)
			}
		case CPFieldref:
			owner := cp.ClassName(e.ClassIndex)
			name, desc := cp.NameAndType(e.NameAndTypeIndex)
			key := owner + "\x00" + name + "\x00" + desc
			if _, ok := cp.fieldrefByKey[key]; !ok {
				cp.fieldrefByKey[key] = uint16(i)
			}
		case CPMethodref:
			owner := cp.ClassName(e.ClassIndex)
			name, desc := cp.NameAndType(e.NameAndTypeIndex)
			key := owner + "\x00" + name + "\x00" + desc
			if _, ok := cp.methodrefByKey[key]; !ok {
				cp.methodrefByKey[key] = uint16(i)
			}
		case CPInterfaceMethodref:
			owner := cp.ClassName(e.ClassIndex)
			name, desc := cp.NameAndType(e.NameAndTypeIndex)
			key := owner + "\x00" + name + "\x00" + desc
			if _, ok := cp.ifaceMethodByKey[key]; !ok {
				cp.ifaceMethodByKey[key] = uint16(i)
			}
		case CPString:
			s := cp.UTF8(e.StringIndex)
			if _, ok := cp.stringByValue[s]; !ok {
				cp.stringByValue[s] = uint16(i)
			}
		case CPLong:
			if _, ok := cp.longByValue[e.Value]; !ok {
				cp.longByValue[e.Value] = uint16(i)
			}
		case CPMethodType:
			desc := cp.UTF8(e.DescriptorIndex)
			if _, ok := cp.methodTypeByDesc[desc]; !ok {
				cp.methodTypeByDesc[desc] = uint16(i)
			}
		case CPMethodHandle:
			owner, name, desc, _ := cp.MethodrefInfo(e.ReferenceIndex)
			if owner == "" {
				if fo, fn, fd := cp.FieldrefInfo(e.ReferenceIndex); fo != "" {
					owner, name, desc = fo, fn, fd
				}
			}
			key := fmt.Sprintf("%d\x00%s\x00%s\x00%s", e.ReferenceKind, owner, name, desc)
			if _, ok := cp.methodHandleByKey[key]; !ok {
				cp.methodHandleByKey[key] = uint16(i)
			}
		}
	}
}

// Count returns the constant_pool_count value (highest index + 1).
func (cp *ConstantPool) Count() int { return len(cp.entries) }

// Get returns the raw entry at index i, or nil if i is out of range or
// points at the second slot of a Long/Double entry.
func (cp *ConstantPool) Get(i uint16) CPEntry {
	if int(i) <= 0 || int(i) >= len(cp.entries) {
		return nil
	}
	return cp.entries[i]
}

func (cp *ConstantPool) append(e CPEntry) uint16 {
	idx := uint16(len(cp.entries))
	cp.entries = append(cp.entries, e)
	return idx
}

// UTF8 resolves a CONSTANT_Utf8 entry to its string value.
func (cp *ConstantPool) UTF8(i uint16) string {
	if u, ok := cp.Get(i).(CPUtf8); ok {
		return u.Value
	}
	return ""
}

// ClassName resolves a CONSTANT_Class entry to its internal name.
func (cp *ConstantPool) ClassName(i uint16) string {
	if c, ok := cp.Get(i).(CPClass); ok {
		return cp.UTF8(c.NameIndex)
	}
	return ""
}

// NameAndType resolves a CONSTANT_NameAndType entry.
func (cp *ConstantPool) NameAndType(i uint16) (name, desc string) {
	if nt, ok := cp.Get(i).(CPNameAndType); ok {
		return cp.UTF8(nt.NameIndex), cp.UTF8(nt.DescriptorIndex)
	}
	return "", ""
}

// FieldrefInfo resolves a CONSTANT_Fieldref to (owner, name, descriptor).
func (cp *ConstantPool) FieldrefInfo(i uint16) (owner, name, desc string) {
	if fr, ok := cp.Get(i).(CPFieldref); ok {
		owner = cp.ClassName(fr.ClassIndex)
		name, desc = cp.NameAndType(fr.NameAndTypeIndex)
	}
	return
}

// MethodrefInfo resolves a CONSTANT_Methodref or CONSTANT_InterfaceMethodref
// to (owner, name, descriptor, isInterface).
func (cp *ConstantPool) MethodrefInfo(i uint16) (owner, name, desc string, isInterface bool) {
	switch mr := cp.Get(i).(type) {
	case CPMethodref:
		owner = cp.ClassName(mr.ClassIndex)
		name, desc = cp.NameAndType(mr.NameAndTypeIndex)
	case CPInterfaceMethodref:
		owner = cp.ClassName(mr.ClassIndex)
		name, desc = cp.NameAndType(mr.NameAndTypeIndex)
		isInterface = true
	}
	return
}

// AddUTF8 interns a CONSTANT_Utf8 entry.
func (cp *ConstantPool) AddUTF8(s string) uint16 {
	if i, ok := cp.utf8ByValue[s]; ok {
		return i
	}
	i := cp.append(CPUtf8{Value: s})
	cp.utf8ByValue[s] = i
	return i
}

// AddClass interns a CONSTANT_Class entry for the given internal name.
func (cp *ConstantPool) AddClass(internalName string) uint16 {
	if i, ok := cp.classByName[internalName]; ok {
		return i
	}
	i := cp.append(CPClass{NameIndex: cp.AddUTF8(internalName)})
	cp.classByName[internalName] = i
	return i
}

// AddNameAndType interns a CONSTANT_NameAndType entry.
func (cp *ConstantPool) AddNameAndType(name, desc string) uint16 {
	key := name + "\x00" + desc
	if i, ok := cp.nameAndTypeByKey[key]; ok {
		return i
	}
	i := cp.append(CPNameAndType{NameIndex: cp.AddUTF8(name), DescriptorIndex: cp.AddUTF8(desc)})
	cp.nameAndTypeByKey[key] = i
	return i
}

// AddFieldref interns a CONSTANT_Fieldref entry.
func (cp *ConstantPool) AddFieldref(owner, name, desc string) uint16 {
	key := owner + "\x00" + name + "\x00" + desc
	if i, ok := cp.fieldrefByKey[key]; ok {
		return i
	}
	i := cp.append(CPFieldref{ClassIndex: cp.AddClass(owner), NameAndTypeIndex: cp.AddNameAndType(name, desc)})
	cp.fieldrefByKey[key] = i
	return i
}

// AddMethodref interns a CONSTANT_Methodref (or, when isInterface is set, a
// CONSTANT_InterfaceMethodref) entry.
func (cp *ConstantPool) AddMethodref(owner, name, desc string, isInterface bool) uint16 {
	if isInterface {
		key := owner + "\x00" + name + "\x00" + desc
		if i, ok := cp.ifaceMethodByKey[key]; ok {
			return i
		}
		i := cp.append(CPInterfaceMethodref{ClassIndex: cp.AddClass(owner), NameAndTypeIndex: cp.AddNameAndType(name, desc)})
		cp.ifaceMethodByKey[key] = i
		return i
	}
	key := owner + "\x00" + name + "\x00" + desc
	if i, ok := cp.methodrefByKey[key]; ok {
		return i
	}
	i := cp.append(CPMethodref{ClassIndex: cp.AddClass(owner), NameAndTypeIndex: cp.AddNameAndType(name, desc)})
	cp.methodrefByKey[key] = i
	return i
}

// AddString interns a CONSTANT_String entry.
func (cp *ConstantPool) AddString(s string) uint16 {
	if i, ok := cp.stringByValue[s]; ok {
		return i
	}
	i := cp.append(CPString{StringIndex: cp.AddUTF8(s)})
	cp.stringByValue[s] = i
	return i
}

// AddInteger interns a CONSTANT_Integer entry. Integers are not deduplicated
// since callers rarely repeat them and the failure mode of a duplicate is
// merely a slightly larger pool.
func (cp *ConstantPool) AddInteger(v int32) uint16 {
	return cp.append(CPInteger{Value: v})
}

// AddLong interns a CONSTANT_Long entry, which occupies two constant pool
// indices; the second is reserved (left nil) per JVMS 4.4.5.
func (cp *ConstantPool) AddLong(v int64) uint16 {
	if i, ok := cp.longByValue[v]; ok {
		return i
	}
	i := cp.append(CPLong{Value: v})
	cp.entries = append(cp.entries, nil)
	cp.longByValue[v] = i
	return i
}

// AddMethodType interns a CONSTANT_MethodType entry.
func (cp *ConstantPool) AddMethodType(desc string) uint16 {
	if i, ok := cp.methodTypeByDesc[desc]; ok {
		return i
	}
	i := cp.append(CPMethodType{DescriptorIndex: cp.AddUTF8(desc)})
	cp.methodTypeByDesc[desc] = i
	return i
}

// AddMethodHandle interns a CONSTANT_MethodHandle entry referring to a field
// or method, resolving the underlying ref automatically based on kind.
func (cp *ConstantPool) AddMethodHandle(kind byte, owner, name, desc string, isInterface bool) uint16 {
	key := fmt.Sprintf("%d\x00%s\x00%s\x00%s", kind, owner, name, desc)
	if i, ok := cp.methodHandleByKey[key]; ok {
		return i
	}
	var refIndex uint16
	switch kind {
	case RefGetField, RefGetStatic, RefPutField, RefPutStatic:
		refIndex = cp.AddFieldref(owner, name, desc)
	default:
		refIndex = cp.AddMethodref(owner, name, desc, isInterface)
	}
	i := cp.append(CPMethodHandle{ReferenceKind: kind, ReferenceIndex: refIndex})
	cp.methodHandleByKey[key] = i
	return i
}

package classfile

import (
	"encoding/binary"
	"math"
)

const classMagic = 0xCAFEBABE

// cursor is a forward-only byte reader over a class file buffer. Every
// accessor panics on underflow; Parse recovers the panic and turns it into
// a MalformedClassError, keeping the happy-path code free of error checks
// (mirrors how a recursive-descent class parser reads look in practice).
type cursor struct {
	b   []byte
	pos int
}

func (c *cursor) u1() byte {
	v := c.b[c.pos]
	c.pos++
	return v
}

func (c *cursor) u2() uint16 {
	v := binary.BigEndian.Uint16(c.b[c.pos:])
	c.pos += 2
	return v
}

func (c *cursor) u4() uint32 {
	v := binary.BigEndian.Uint32(c.b[c.pos:])
	c.pos += 4
	return v
}

func (c *cursor) u8() uint64 {
	v := binary.BigEndian.Uint64(c.b[c.pos:])
	c.pos += 8
	return v
}

func (c *cursor) bytes(n int) []byte {
	v := c.b[c.pos : c.pos+n]
	c.pos += n
	return v
}

func (c *cursor) skip(n int) { c.pos += n }

// Parse decodes raw class bytes into a mutable Class tree (spec §4.1).
func Parse(data []byte) (class *Class, err error) {
	defer func() {
		if r := recover(); r != nil {
			class = nil
			if e, ok := r.(error); ok {
				err = &MalformedClassError{Reason: e.Error()}
			} else {
				err = &MalformedClassError{Reason: "unexpected parser panic"}
			}
		}
	}()

	c := &cursor{b: data}
	if len(data) < 10 || c.u4() != classMagic {
		return nil, malformed("bad magic number")
	}
	minor := c.u2()
	major := c.u2()

	cpCount := int(c.u2())
	cp := newConstantPoolWithCount(cpCount)
	for i := 1; i < cpCount; i++ {
		tag := c.u1()
		switch tag {
		case TagUtf8:
			n := int(c.u2())
			cp.setRaw(uint16(i), CPUtf8{Value: decodeModifiedUTF8(c.bytes(n))})
		case TagInteger:
			cp.setRaw(uint16(i), CPInteger{Value: int32(c.u4())})
		case TagFloat:
			cp.setRaw(uint16(i), CPFloat{Value: math.Float32frombits(c.u4())})
		case TagLong:
			cp.setRaw(uint16(i), CPLong{Value: int64(c.u8())})
			i++ // occupies two slots
		case TagDouble:
			cp.setRaw(uint16(i), CPDouble{Value: math.Float64frombits(c.u8())})
			i++
		case TagClass:
			cp.setRaw(uint16(i), CPClass{NameIndex: c.u2()})
		case TagString:
			cp.setRaw(uint16(i), CPString{StringIndex: c.u2()})
		case TagFieldref:
			cp.setRaw(uint16(i), CPFieldref{ClassIndex: c.u2(), NameAndTypeIndex: c.u2()})
		case TagMethodref:
			cp.setRaw(uint16(i), CPMethodref{ClassIndex: c.u2(), NameAndTypeIndex: c.u2()})
		case TagInterfaceMethodref:
			cp.setRaw(uint16(i), CPInterfaceMethodref{ClassIndex: c.u2(), NameAndTypeIndex: c.u2()})
		case TagNameAndType:
			cp.setRaw(uint16(i), CPNameAndType{NameIndex: c.u2(), DescriptorIndex: c.u2()})
		case TagMethodHandle:
			cp.setRaw(uint16(i), CPMethodHandle{ReferenceKind: c.u1(), ReferenceIndex: c.u2()})
		case TagMethodType:
			cp.setRaw(uint16(i), CPMethodType{DescriptorIndex: c.u2()})
		case TagDynamic:
			cp.setRaw(uint16(i), CPDynamic{BootstrapMethodAttrIndex: c.u2(), NameAndTypeIndex: c.u2()})
		case TagInvokeDynamic:
			cp.setRaw(uint16(i), CPInvokeDynamic{BootstrapMethodAttrIndex: c.u2(), NameAndTypeIndex: c.u2()})
		case TagModule:
			cp.setRaw(uint16(i), CPModule{NameIndex: c.u2()})
		case TagPackage:
			cp.setRaw(uint16(i), CPPackage{NameIndex: c.u2()})
		default:
			return nil, malformed("unknown constant pool tag")
		}
	}
	cp.reindex()

	class = &Class{
		MinorVersion: minor,
		MajorVersion: major,
		ConstantPool: cp,
	}

	class.AccessFlags = int(c.u2())
	class.Name = cp.ClassName(c.u2())
	class.SuperName = cp.ClassName(c.u2())

	ifaceCount := int(c.u2())
	for i := 0; i < ifaceCount; i++ {
		class.Interfaces = append(class.Interfaces, cp.ClassName(c.u2()))
	}

	fieldCount := int(c.u2())
	for i := 0; i < fieldCount; i++ {
		class.Fields = append(class.Fields, readField(c, cp))
	}

	methodCount := int(c.u2())
	for i := 0; i < methodCount; i++ {
		class.Methods = append(class.Methods, readMethod(c, cp))
	}

	attrCount := int(c.u2())
	for i := 0; i < attrCount; i++ {
		name, data := readRawAttribute(c, cp)
		switch name {
		case "SourceFile":
			if len(data) >= 2 {
				class.SourceFile = cp.UTF8(binary.BigEndian.Uint16(data))
			}
		default:
			class.Attributes = append(class.Attributes, &Attribute{Name: name, Data: data})
		}
	}

	return class, nil
}

// ReadSuperclassOnly parses just enough of a class file to return its
// superclass's internal name, without building a full Class tree. Used by
// the supertype resolver (C6), which must never perform a full parse+link
// of every ancestor it visits (spec §4.6).
func ReadSuperclassOnly(data []byte) (super string, accessFlags int, ifaces []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &MalformedClassError{Reason: "truncated class header"}
		}
	}()
	c := &cursor{b: data}
	if len(data) < 10 || c.u4() != classMagic {
		return "", 0, nil, malformed("bad magic number")
	}
	c.skip(4) // minor, major
	cpCount := int(c.u2())
	cp := newConstantPoolWithCount(cpCount)
	for i := 1; i < cpCount; i++ {
		tag := c.u1()
		switch tag {
		case TagUtf8:
			n := int(c.u2())
			cp.setRaw(uint16(i), CPUtf8{Value: decodeModifiedUTF8(c.bytes(n))})
		case TagInteger, TagFloat, TagFieldref, TagMethodref, TagInterfaceMethodref,
			TagNameAndType, TagDynamic, TagInvokeDynamic:
			c.skip(4)
		case TagLong, TagDouble:
			c.skip(8)
			i++
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			c.skip(2)
		case TagMethodHandle:
			c.skip(3)
		default:
			return "", 0, nil, malformed("unknown constant pool tag")
		}
	}
	accessFlags = int(c.u2())
	c.u2() // this_class, unused here
	superIdx := c.u2()
	super = cp.ClassName(superIdx)
	ifaceCount := int(c.u2())
	for i := 0; i < ifaceCount; i++ {
		ifaces = append(ifaces, cp.ClassName(c.u2()))
	}
	return super, accessFlags, ifaces, nil
}

func readField(c *cursor, cp *ConstantPool) *Field {
	f := &Field{AccessFlags: int(c.u2())}
	f.Name = cp.UTF8(c.u2())
	f.Descriptor = cp.UTF8(c.u2())
	attrCount := int(c.u2())
	for i := 0; i < attrCount; i++ {
		name, data := readRawAttribute(c, cp)
		switch name {
		case "ConstantValue":
			if len(data) >= 2 {
				f.ConstantValue = resolveConstantValue(cp, binary.BigEndian.Uint16(data))
			}
		case "Signature":
			if len(data) >= 2 {
				f.Signature = cp.UTF8(binary.BigEndian.Uint16(data))
			}
		default:
			f.Attributes = append(f.Attributes, &Attribute{Name: name, Data: data})
		}
	}
	return f
}

func resolveConstantValue(cp *ConstantPool, idx uint16) interface{} {
	switch e := cp.Get(idx).(type) {
	case CPInteger:
		return e.Value
	case CPFloat:
		return e.Value
	case CPLong:
		return e.Value
	case CPDouble:
		return e.Value
	case CPString:
		return cp.UTF8(e.StringIndex)
	}
	return nil
}

func readMethod(c *cursor, cp *ConstantPool) *Method {
	m := &Method{AccessFlags: int(c.u2())}
	m.Name = cp.UTF8(c.u2())
	m.Descriptor = cp.UTF8(c.u2())
	attrCount := int(c.u2())
	for i := 0; i < attrCount; i++ {
		name, data := readRawAttribute(c, cp)
		switch name {
		case "Code":
			m.Code = readCodeAttribute(cp, data)
		case "Exceptions":
			ac := &cursor{b: data}
			n := int(ac.u2())
			for j := 0; j < n; j++ {
				m.Exceptions = append(m.Exceptions, cp.ClassName(ac.u2()))
			}
		default:
			m.Attributes = append(m.Attributes, &Attribute{Name: name, Data: data})
		}
	}
	return m
}

func readRawAttribute(c *cursor, cp *ConstantPool) (name string, data []byte) {
	name = cp.UTF8(c.u2())
	length := int(c.u4())
	data = c.bytes(length)
	return
}

func readCodeAttribute(cp *ConstantPool, data []byte) *Code {
	c := &cursor{b: data}
	code := &Code{}
	code.MaxStack = int(c.u2())
	code.MaxLocals = int(c.u2())
	codeLength := int(c.u4())
	codeBytes := c.bytes(codeLength)

	labels := map[int]*Label{}
	labelAt := func(offset int) *Label {
		if l, ok := labels[offset]; ok {
			return l
		}
		l := &Label{}
		labels[offset] = l
		return l
	}

	exceptionCount := int(c.u2())
	type rawExc struct{ start, end, handler, catchType int }
	var rawExcs []rawExc
	for i := 0; i < exceptionCount; i++ {
		start := int(c.u2())
		end := int(c.u2())
		handler := int(c.u2())
		catchType := int(c.u2())
		labelAt(start)
		labelAt(end)
		labelAt(handler)
		rawExcs = append(rawExcs, rawExc{start, end, handler, catchType})
	}

	var lines []lineEntry
	var localVarRaw []struct {
		start, length       int
		name, desc          string
		index               int
	}

	attrCount := int(c.u2())
	var subAttrs []*Attribute
	for i := 0; i < attrCount; i++ {
		name, sub := readRawAttribute(c, cp)
		switch name {
		case "LineNumberTable":
			sc := &cursor{b: sub}
			n := int(sc.u2())
			for j := 0; j < n; j++ {
				off := int(sc.u2())
				ln := int(sc.u2())
				lines = append(lines, lineEntry{off, ln})
				labelAt(off)
			}
		case "LocalVariableTable":
			sc := &cursor{b: sub}
			n := int(sc.u2())
			for j := 0; j < n; j++ {
				start := int(sc.u2())
				length := int(sc.u2())
				nameIdx := sc.u2()
				descIdx := sc.u2()
				idx := int(sc.u2())
				labelAt(start)
				labelAt(start + length)
				localVarRaw = append(localVarRaw, struct {
					start, length int
					name, desc    string
					index         int
				}{start, length, cp.UTF8(nameIdx), cp.UTF8(descIdx), idx})
			}
		case "StackMapTable":
			// recomputed on write; dropped here.
		default:
			subAttrs = append(subAttrs, &Attribute{Name: name, Data: sub})
		}
	}
	code.Attributes = subAttrs

	// First pass over the bytecode: discover every branch-target offset so
	// the build pass can resolve forward references to the same Label.
	scanBranchTargets(codeBytes, labelAt)

	code.Instructions = decodeInstructions(codeBytes, cp, labelAt, labels, lines)

	for _, e := range rawExcs {
		catchType := ""
		if e.catchType != 0 {
			catchType = cp.ClassName(uint16(e.catchType))
		}
		code.TryCatches = append(code.TryCatches, &TryCatch{
			Start: labelAt(e.start), End: labelAt(e.end), Handler: labelAt(e.handler), CatchType: catchType,
		})
	}
	for _, lv := range localVarRaw {
		code.LocalVariables = append(code.LocalVariables, &LocalVariable{
			Name: lv.name, Descriptor: lv.desc, Index: lv.index,
			Start: labelAt(lv.start), End: labelAt(lv.start + lv.length),
		})
	}

	return code
}

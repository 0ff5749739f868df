package classfile

import (
	"math"
)

// Write serializes c back into class file bytes. Every method's code is
// re-laid-out from its InstructionList (labels resolved to concrete offsets)
// and its StackMapTable attribute is recomputed from scratch rather than
// copied forward, since a rewrite can change local variable slots and
// control flow in ways that would invalidate whatever table was parsed in.
func Write(c *Class) ([]byte, error) {
	cp := c.ConstantPool

	// Every AddXxx call below interns by value and returns a stable index;
	// none of it depends on where the pool itself ends up serialized, so
	// the whole body (header, fields, methods, class attributes) is built
	// first and the constant pool is serialized only once, last, after
	// everything that could possibly intern a new entry has run.
	thisIdx := cp.AddClass(c.Name)
	superIdx := uint16(0)
	if c.SuperName != "" {
		superIdx = cp.AddClass(c.SuperName)
	}
	ifaceIdxs := make([]uint16, len(c.Interfaces))
	for i, n := range c.Interfaces {
		ifaceIdxs[i] = cp.AddClass(n)
	}

	fieldBufs := make([][]byte, len(c.Fields))
	for i, f := range c.Fields {
		fieldBufs[i] = writeField(cp, f)
	}
	methodBufs := make([][]byte, len(c.Methods))
	for i, m := range c.Methods {
		mb, err := writeMethod(cp, m)
		if err != nil {
			return nil, err
		}
		methodBufs[i] = mb
	}

	classAttrs := append([]*Attribute{}, c.Attributes...)
	sourceFileIdx := uint16(0)
	sourceFileNameIdx := uint16(0)
	if c.SourceFile != "" {
		sourceFileNameIdx = cp.AddUTF8("SourceFile")
		sourceFileIdx = cp.AddUTF8(c.SourceFile)
	}
	nAttrs := len(classAttrs)
	if sourceFileIdx != 0 {
		nAttrs++
	}

	body := newByteBuf()
	body.u2(uint16(c.AccessFlags))
	body.u2(thisIdx)
	body.u2(superIdx)
	body.u2(uint16(len(ifaceIdxs)))
	for _, idx := range ifaceIdxs {
		body.u2(idx)
	}
	body.u2(uint16(len(fieldBufs)))
	for _, fb := range fieldBufs {
		body.bytes(fb)
	}
	body.u2(uint16(len(methodBufs)))
	for _, mb := range methodBufs {
		body.bytes(mb)
	}
	body.u2(uint16(nAttrs))
	if sourceFileIdx != 0 {
		body.u2(sourceFileNameIdx)
		body.u4(2)
		body.u2(sourceFileIdx)
	}
	for _, a := range classAttrs {
		writeRawAttribute(body, cp, a)
	}

	out := newByteBuf()
	out.u4(classMagic)
	out.u2(c.MinorVersion)
	out.u2(c.MajorVersion)
	out.bytes(writeConstantPool(cp))
	out.bytes(body.b)
	return out.b, nil
}

// byteBuf is a minimal growable big-endian byte buffer.
type byteBuf struct{ b []byte }

func newByteBuf() *byteBuf { return &byteBuf{} }

func (w *byteBuf) u1(v byte)    { w.b = append(w.b, v) }
func (w *byteBuf) u2(v uint16)  { w.b = append(w.b, byte(v>>8), byte(v)) }
func (w *byteBuf) u4(v uint32)  { w.b = append(w.b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v)) }
func (w *byteBuf) u8(v uint64) {
	w.u4(uint32(v >> 32))
	w.u4(uint32(v))
}
func (w *byteBuf) bytes(b []byte) { w.b = append(w.b, b...) }

func writeConstantPool(cp *ConstantPool) []byte {
	buf := newByteBuf()
	buf.u2(uint16(cp.Count()))
	for i := 1; i < cp.Count(); i++ {
		e := cp.entries[i]
		if e == nil {
			continue // second slot of a Long/Double
		}
		buf.u1(e.Tag())
		switch v := e.(type) {
		case CPUtf8:
			enc := encodeModifiedUTF8(v.Value)
			buf.u2(uint16(len(enc)))
			buf.bytes(enc)
		case CPInteger:
			buf.u4(uint32(v.Value))
		case CPFloat:
			buf.u4(math.Float32bits(v.Value))
		case CPLong:
			buf.u8(uint64(v.Value))
		case CPDouble:
			buf.u8(math.Float64bits(v.Value))
		case CPClass:
			buf.u2(v.NameIndex)
		case CPString:
			buf.u2(v.StringIndex)
		case CPFieldref:
			buf.u2(v.ClassIndex)
			buf.u2(v.NameAndTypeIndex)
		case CPMethodref:
			buf.u2(v.ClassIndex)
			buf.u2(v.NameAndTypeIndex)
		case CPInterfaceMethodref:
			buf.u2(v.ClassIndex)
			buf.u2(v.NameAndTypeIndex)
		case CPNameAndType:
			buf.u2(v.NameIndex)
			buf.u2(v.DescriptorIndex)
		case CPMethodHandle:
			buf.u1(v.ReferenceKind)
			buf.u2(v.ReferenceIndex)
		case CPMethodType:
			buf.u2(v.DescriptorIndex)
		case CPDynamic:
			buf.u2(v.BootstrapMethodAttrIndex)
			buf.u2(v.NameAndTypeIndex)
		case CPInvokeDynamic:
			buf.u2(v.BootstrapMethodAttrIndex)
			buf.u2(v.NameAndTypeIndex)
		case CPModule:
			buf.u2(v.NameIndex)
		case CPPackage:
			buf.u2(v.NameIndex)
		}
	}
	return buf.b
}

func writeField(cp *ConstantPool, f *Field) []byte {
	buf := newByteBuf()
	buf.u2(uint16(f.AccessFlags))
	buf.u2(cp.AddUTF8(f.Name))
	buf.u2(cp.AddUTF8(f.Descriptor))

	var attrs []*Attribute
	if f.ConstantValue != nil {
		attrs = append(attrs, constantValueAttribute(cp, f.ConstantValue))
	}
	if f.Signature != "" {
		attrs = append(attrs, &Attribute{Name: "Signature", Data: u2Bytes(cp.AddUTF8(f.Signature))})
	}
	attrs = append(attrs, f.Attributes...)

	buf.u2(uint16(len(attrs)))
	for _, a := range attrs {
		writeRawAttribute(buf, cp, a)
	}
	return buf.b
}

func constantValueAttribute(cp *ConstantPool, v interface{}) *Attribute {
	var idx uint16
	switch n := v.(type) {
	case int32:
		idx = cp.AddInteger(n)
	case float32:
		idx = cp.append(CPFloat{Value: n})
	case int64:
		idx = cp.AddLong(n)
	case float64:
		idx = cp.append(CPDouble{Value: n})
	case string:
		idx = cp.AddString(n)
	}
	return &Attribute{Name: "ConstantValue", Data: u2Bytes(idx)}
}

func u2Bytes(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }

func writeMethod(cp *ConstantPool, m *Method) ([]byte, error) {
	buf := newByteBuf()
	buf.u2(uint16(m.AccessFlags))
	buf.u2(cp.AddUTF8(m.Name))
	buf.u2(cp.AddUTF8(m.Descriptor))

	var attrs []*Attribute
	if m.Code != nil {
		codeAttr, err := writeCodeAttribute(cp, m.Code)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, codeAttr)
	}
	if len(m.Exceptions) > 0 {
		eb := newByteBuf()
		eb.u2(uint16(len(m.Exceptions)))
		for _, ex := range m.Exceptions {
			eb.u2(cp.AddClass(ex))
		}
		attrs = append(attrs, &Attribute{Name: "Exceptions", Data: eb.b})
	}
	attrs = append(attrs, m.Attributes...)

	buf.u2(uint16(len(attrs)))
	for _, a := range attrs {
		writeRawAttribute(buf, cp, a)
	}
	return buf.b, nil
}

func writeRawAttribute(buf *byteBuf, cp *ConstantPool, a *Attribute) {
	buf.u2(cp.AddUTF8(a.Name))
	buf.u4(uint32(len(a.Data)))
	buf.bytes(a.Data)
}

func writeCodeAttribute(cp *ConstantPool, code *Code) (*Attribute, error) {
	codeBytes, offsets, insnPCs, lines, err := encodeInstructions(cp, code.Instructions)
	if err != nil {
		return nil, err
	}

	buf := newByteBuf()
	buf.u2(uint16(code.MaxStack))
	buf.u2(uint16(code.MaxLocals))
	buf.u4(uint32(len(codeBytes)))
	buf.bytes(codeBytes)

	buf.u2(uint16(len(code.TryCatches)))
	for _, tc := range code.TryCatches {
		buf.u2(uint16(offsets[tc.Start]))
		buf.u2(uint16(offsets[tc.End]))
		buf.u2(uint16(offsets[tc.Handler]))
		if tc.CatchType == "" {
			buf.u2(0)
		} else {
			buf.u2(cp.AddClass(tc.CatchType))
		}
	}

	frames := computeStackMapTable(cp, code, offsets, insnPCs)

	var subAttrs []*Attribute
	if len(lines) > 0 {
		lb := newByteBuf()
		lb.u2(uint16(len(lines)))
		for _, le := range lines {
			lb.u2(uint16(le.offset))
			lb.u2(uint16(le.line))
		}
		subAttrs = append(subAttrs, &Attribute{Name: "LineNumberTable", Data: lb.b})
	}
	if len(code.LocalVariables) > 0 {
		lv := newByteBuf()
		lv.u2(uint16(len(code.LocalVariables)))
		for _, v := range code.LocalVariables {
			start := offsets[v.Start]
			end := offsets[v.End]
			lv.u2(uint16(start))
			lv.u2(uint16(end - start))
			lv.u2(cp.AddUTF8(v.Name))
			lv.u2(cp.AddUTF8(v.Descriptor))
			lv.u2(uint16(v.Index))
		}
		subAttrs = append(subAttrs, &Attribute{Name: "LocalVariableTable", Data: lv.b})
	}
	if frames != nil {
		subAttrs = append(subAttrs, frames)
	}
	subAttrs = append(subAttrs, code.Attributes...)

	buf.u2(uint16(len(subAttrs)))
	for _, a := range subAttrs {
		writeRawAttribute(buf, cp, a)
	}

	return &Attribute{Name: "Code", Data: buf.b}, nil
}


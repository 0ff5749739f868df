package classfile

import "fmt"

// encodeInstructions lowers an InstructionList back into raw bytecode. It
// runs two passes: the first assigns every instruction and label a final
// pc, the second emits bytes now that every branch target (forward or
// backward) is known. Only TABLESWITCH/LOOKUPSWITCH padding depends on pc,
// and padding only depends on pc values already fixed by the time the first
// pass reaches them, so a single forward walk is enough for pass one; no
// fixpoint iteration is needed because this package never emits a
// variable-width encoding whose own size depends on an offset not yet known
// (GOTO_W/JSR_W are only used when the caller's Insn.Op already says so).
func encodeInstructions(cp *ConstantPool, list *InstructionList) (code []byte, offsets map[*Label]int, insnPCs []int, lines []lineEntry, err error) {
	offsets, insnPCs, err = resolveInstructionPCs(cp, list)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	buf := newByteBuf()
	var pendingLines []int
	for i := 0; i < list.Len(); i++ {
		insn := list.At(i)
		switch insn.Op {
		case opLabel, opFrame:
			continue
		case opLine:
			pendingLines = append(pendingLines, insn.Line)
			continue
		}
		if len(pendingLines) > 0 {
			for _, ln := range pendingLines {
				lines = append(lines, lineEntry{offset: insnPCs[i], line: ln})
			}
			pendingLines = nil
		}
		if e := emitInsn(cp, buf, insn, insnPCs[i], offsets); e != nil {
			return nil, nil, nil, nil, e
		}
	}
	return buf.b, offsets, insnPCs, lines, nil
}

// resolveInstructionPCs assigns a final pc to every label and every real
// instruction in one forward pass; computeStackMapTable reuses the same
// insnPCs array instead of re-deriving it, so that sizing an LDC never
// interns its constant pool entry more than once.
func resolveInstructionPCs(cp *ConstantPool, list *InstructionList) (offsets map[*Label]int, insnPCs []int, err error) {
	offsets = map[*Label]int{}
	insnPCs = make([]int, list.Len())
	pc := 0
	for i := 0; i < list.Len(); i++ {
		insn := list.At(i)
		insnPCs[i] = pc
		switch insn.Op {
		case opLabel:
			offsets[insn.Label] = pc
		case opFrame, opLine:
		default:
			n, e := sizeOfInsn(cp, insn, pc)
			if e != nil {
				return nil, nil, e
			}
			pc += n
		}
	}
	return offsets, insnPCs, nil
}

func resolveLdcIndex(cp *ConstantPool, insn *Insn) (idx uint16, wide bool) {
	switch v := insn.Const.(type) {
	case int32:
		return cp.AddInteger(v), false
	case float32:
		return cp.append(CPFloat{Value: v}), false
	case string:
		return cp.AddString(v), false
	case ClassConst:
		return cp.AddClass(v.Name), false
	case MethodTypeConst:
		return cp.AddMethodType(v.Descriptor), false
	case int64:
		return cp.AddLong(v), true
	case float64:
		return cp.append(CPDouble{Value: v}), true
	}
	return 0, false
}

func sizeOfInsn(cp *ConstantPool, insn *Insn, pc int) (int, error) {
	switch insn.Op {
	case BIPUSH, NEWARRAY:
		return 2, nil
	case SIPUSH, ILOAD, LLOAD, FLOAD, DLOAD, ALOAD, ISTORE, LSTORE, FSTORE, DSTORE, ASTORE, RET,
		GETSTATIC, PUTSTATIC, GETFIELD, PUTFIELD,
		INVOKEVIRTUAL, INVOKESPECIAL, INVOKESTATIC,
		NEW, ANEWARRAY, CHECKCAST, INSTANCEOF,
		IFEQ, IFNE, IFLT, IFGE, IFGT, IFLE,
		IF_ICMPEQ, IF_ICMPNE, IF_ICMPLT, IF_ICMPGE, IF_ICMPGT, IF_ICMPLE,
		IF_ACMPEQ, IF_ACMPNE, GOTO, JSR, IFNULL, IFNONNULL:
		return 3, nil
	case LDC:
		idx, wide := resolveLdcIndex(cp, insn)
		if wide {
			return 3, nil // promoted to LDC2_W
		}
		if idx > 0xFF {
			return 3, nil // promoted to LDC_W
		}
		return 2, nil
	case LDC_W, LDC2_W:
		return 3, nil
	case IINC:
		return 3, nil
	case INVOKEINTERFACE, INVOKEDYNAMIC:
		return 5, nil
	case MULTIANEWARRAY:
		return 4, nil
	case GOTO_W, JSR_W:
		return 5, nil
	case TABLESWITCH:
		pad := (4 - (pc+1)%4) % 4
		n := len(insn.Targets)
		return 1 + pad + 12 + n*4, nil
	case LOOKUPSWITCH:
		pad := (4 - (pc+1)%4) % 4
		n := len(insn.Keys)
		return 1 + pad + 8 + n*8, nil
	default:
		return 1, nil
	}
}

func emitInsn(cp *ConstantPool, buf *byteBuf, insn *Insn, pc int, offsets map[*Label]int) error {
	switch insn.Op {
	case BIPUSH:
		buf.u1(byte(insn.Op))
		buf.u1(byte(int8(insn.IntOperand)))
	case NEWARRAY:
		buf.u1(byte(insn.Op))
		buf.u1(byte(insn.IntOperand))
	case SIPUSH:
		buf.u1(byte(insn.Op))
		buf.u2(uint16(int16(insn.IntOperand)))

	case LDC:
		idx, wide := resolveLdcIndex(cp, insn)
		if wide {
			buf.u1(byte(LDC2_W))
			buf.u2(idx)
		} else if idx > 0xFF {
			buf.u1(byte(LDC_W))
			buf.u2(idx)
		} else {
			buf.u1(byte(LDC))
			buf.u1(byte(idx))
		}
	case LDC_W, LDC2_W:
		idx, _ := resolveLdcIndex(cp, insn)
		buf.u1(byte(insn.Op))
		buf.u2(idx)

	case ILOAD, LLOAD, FLOAD, DLOAD, ALOAD, ISTORE, LSTORE, FSTORE, DSTORE, ASTORE, RET:
		buf.u1(byte(insn.Op))
		buf.u1(byte(insn.VarIndex))

	case IINC:
		buf.u1(byte(insn.Op))
		buf.u1(byte(insn.VarIndex))
		buf.u1(byte(int8(insn.IntOperand)))

	case IFEQ, IFNE, IFLT, IFGE, IFGT, IFLE,
		IF_ICMPEQ, IF_ICMPNE, IF_ICMPLT, IF_ICMPGE, IF_ICMPGT, IF_ICMPLE,
		IF_ACMPEQ, IF_ACMPNE, GOTO, JSR, IFNULL, IFNONNULL:
		target, ok := offsets[insn.Target]
		if !ok {
			return fmt.Errorf("unresolved branch target for opcode %d at pc %d", insn.Op, pc)
		}
		buf.u1(byte(insn.Op))
		buf.u2(uint16(int16(target - pc)))

	case GOTO_W, JSR_W:
		target, ok := offsets[insn.Target]
		if !ok {
			return fmt.Errorf("unresolved branch target for opcode %d at pc %d", insn.Op, pc)
		}
		buf.u1(byte(insn.Op))
		buf.u4(uint32(int32(target - pc)))

	case TABLESWITCH:
		buf.u1(byte(insn.Op))
		pad := (4 - (pc+1)%4) % 4
		for i := 0; i < pad; i++ {
			buf.u1(0)
		}
		def, ok := offsets[insn.Default]
		if !ok {
			return fmt.Errorf("unresolved default target for tableswitch at pc %d", pc)
		}
		buf.u4(uint32(int32(def - pc)))
		buf.u4(uint32(insn.Low))
		buf.u4(uint32(insn.High))
		for _, t := range insn.Targets {
			off, ok := offsets[t]
			if !ok {
				return fmt.Errorf("unresolved case target for tableswitch at pc %d", pc)
			}
			buf.u4(uint32(int32(off - pc)))
		}

	case LOOKUPSWITCH:
		buf.u1(byte(insn.Op))
		pad := (4 - (pc+1)%4) % 4
		for i := 0; i < pad; i++ {
			buf.u1(0)
		}
		def, ok := offsets[insn.Default]
		if !ok {
			return fmt.Errorf("unresolved default target for lookupswitch at pc %d", pc)
		}
		buf.u4(uint32(int32(def - pc)))
		buf.u4(uint32(len(insn.Keys)))
		for i, k := range insn.Keys {
			buf.u4(uint32(k))
			off, ok := offsets[insn.Targets[i]]
			if !ok {
				return fmt.Errorf("unresolved case target for lookupswitch at pc %d", pc)
			}
			buf.u4(uint32(int32(off - pc)))
		}

	case GETSTATIC, PUTSTATIC, GETFIELD, PUTFIELD:
		buf.u1(byte(insn.Op))
		buf.u2(cp.AddFieldref(insn.Owner, insn.Name, insn.Desc))

	case INVOKEVIRTUAL, INVOKESPECIAL, INVOKESTATIC:
		buf.u1(byte(insn.Op))
		buf.u2(cp.AddMethodref(insn.Owner, insn.Name, insn.Desc, insn.IsInterface))

	case INVOKEINTERFACE:
		buf.u1(byte(insn.Op))
		buf.u2(cp.AddMethodref(insn.Owner, insn.Name, insn.Desc, true))
		buf.u1(byte(argSlots(insn.Desc) + 1))
		buf.u1(0)

	case INVOKEDYNAMIC:
		return fmt.Errorf("INVOKEDYNAMIC re-encoding is not supported; this package never synthesizes or rewrites indy call sites")

	case NEW, ANEWARRAY, CHECKCAST, INSTANCEOF:
		buf.u1(byte(insn.Op))
		buf.u2(cp.AddClass(insn.TypeOperand))

	case MULTIANEWARRAY:
		buf.u1(byte(insn.Op))
		buf.u2(cp.AddClass(insn.TypeOperand))
		buf.u1(byte(insn.Dims))

	default:
		buf.u1(byte(insn.Op))
	}
	return nil
}

// argSlots returns the number of local-variable slots a method descriptor's
// arguments occupy (long/double count as two), used to fill in the
// INVOKEINTERFACE count operand.
func argSlots(desc string) int {
	slots := 0
	i := 1 // skip leading '('
	for i < len(desc) && desc[i] != ')' {
		switch desc[i] {
		case 'J', 'D':
			slots += 2
			i++
		case 'L':
			for i < len(desc) && desc[i] != ';' {
				i++
			}
			i++
			slots++
		case '[':
			for i < len(desc) && desc[i] == '[' {
				i++
			}
			if i < len(desc) && desc[i] == 'L' {
				for i < len(desc) && desc[i] != ';' {
					i++
				}
			}
			i++
			slots++
		default:
			i++
			slots++
		}
	}
	return slots
}

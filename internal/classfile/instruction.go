package classfile

import (
	"encoding/binary"
	"fmt"
)

// 本包需要按名字引用的操作码，其余操作码只按宽度表跳过
const (
	OpAconstNull    = 0x01
	OpLdc           = 0x12
	OpLdcW          = 0x13
	OpPop           = 0x57
	OpPop2          = 0x58
	OpDup           = 0x59
	OpReturn        = 0xB1
	OpGetStatic     = 0xB2
	OpPutStatic     = 0xB3
	OpGetField      = 0xB4
	OpPutField      = 0xB5
	OpInvokeVirtual = 0xB6
	OpInvokeSpecial = 0xB7
	OpInvokeStatic  = 0xB8
	OpInvokeIface   = 0xB9
	OpInvokeDynamic = 0xBA
	OpNew           = 0xBB
	OpAthrow        = 0xBF

	opTableswitch  = 0xAA
	opLookupswitch = 0xAB
	opWide         = 0xC4
)

// InsnKind 指令变体标签
// 封闭集合：扫描逻辑只对这几类做区分，其余统一为 Generic
type InsnKind int

const (
	KindGeneric InsnKind = iota
	KindFieldAccess      // getstatic/putstatic/getfield/putfield
	KindConstantLoad     // ldc/ldc_w 加载字符串常量
	KindMethodCall       // invokevirtual/special/static/interface
	KindTypeNew          // new
)

// Instruction 解码后的单条指令
type Instruction struct {
	Offset int
	Opcode byte
	Kind   InsnKind

	// KindFieldAccess / KindMethodCall / KindTypeNew
	Owner      string
	Name       string
	Descriptor string

	// KindConstantLoad
	Value string
}

// operandWidths 每个操作码在操作数区占用的字节数
// -1 表示变长（tableswitch/lookupswitch/wide），-2 表示非法操作码
var operandWidths [256]int8

func init() {
	for op := range operandWidths {
		switch {
		case op <= 0x0F: // nop, aconst_null, iconst_*, lconst_*, fconst_*, dconst_*
			operandWidths[op] = 0
		case op == 0x10: // bipush
			operandWidths[op] = 1
		case op == 0x11: // sipush
			operandWidths[op] = 2
		case op == OpLdc:
			operandWidths[op] = 1
		case op == OpLdcW || op == 0x14: // ldc_w, ldc2_w
			operandWidths[op] = 2
		case op >= 0x15 && op <= 0x19: // iload..aload
			operandWidths[op] = 1
		case op >= 0x1A && op <= 0x35: // *load_<n>, *aload
			operandWidths[op] = 0
		case op >= 0x36 && op <= 0x3A: // istore..astore
			operandWidths[op] = 1
		case op >= 0x3B && op <= 0x83: // *store_<n>, *astore, stack ops, arithmetic
			operandWidths[op] = 0
		case op == 0x84: // iinc
			operandWidths[op] = 2
		case op >= 0x85 && op <= 0x98: // conversions, comparisons
			operandWidths[op] = 0
		case op >= 0x99 && op <= 0xA8: // if*, goto, jsr
			operandWidths[op] = 2
		case op == 0xA9: // ret
			operandWidths[op] = 1
		case op == opTableswitch || op == opLookupswitch:
			operandWidths[op] = -1
		case op >= 0xAC && op <= 0xB1: // *return
			operandWidths[op] = 0
		case op >= OpGetStatic && op <= OpInvokeStatic: // 字段访问与三种 invoke
			operandWidths[op] = 2
		case op == OpInvokeIface || op == OpInvokeDynamic:
			operandWidths[op] = 4
		case op == OpNew:
			operandWidths[op] = 2
		case op == 0xBC: // newarray
			operandWidths[op] = 1
		case op == 0xBD: // anewarray
			operandWidths[op] = 2
		case op == 0xBE || op == OpAthrow: // arraylength, athrow
			operandWidths[op] = 0
		case op == 0xC0 || op == 0xC1: // checkcast, instanceof
			operandWidths[op] = 2
		case op == 0xC2 || op == 0xC3: // monitorenter, monitorexit
			operandWidths[op] = 0
		case op == opWide:
			operandWidths[op] = -1
		case op == 0xC5: // multianewarray
			operandWidths[op] = 3
		case op == 0xC6 || op == 0xC7: // ifnull, ifnonnull
			operandWidths[op] = 2
		case op == 0xC8 || op == 0xC9: // goto_w, jsr_w
			operandWidths[op] = 4
		default:
			operandWidths[op] = -2
		}
	}
}

// decodeInstructions 解码一段字节码
// mapper 产出的任意合法字节码都必须能被跳过，因此变长指令要按规范对齐
func decodeInstructions(code []byte, cp *ConstantPool) ([]Instruction, error) {
	var insns []Instruction

	pc := 0
	for pc < len(code) {
		op := code[pc]
		insn := Instruction{Offset: pc, Opcode: op, Kind: KindGeneric}

		width := operandWidths[op]
		size := 1 + int(width)
		switch {
		case width == -2:
			return nil, fmt.Errorf("illegal opcode 0x%02X at %d", op, pc)
		case op == opWide:
			if pc+1 >= len(code) {
				return nil, fmt.Errorf("truncated wide at %d", pc)
			}
			if code[pc+1] == 0x84 { // wide iinc
				size = 6
			} else {
				size = 4
			}
		case op == opTableswitch:
			base := pc + 1 + pad4(pc+1)
			if base+12 > len(code) {
				return nil, fmt.Errorf("truncated tableswitch at %d", pc)
			}
			low := int32(binary.BigEndian.Uint32(code[base+4:]))
			high := int32(binary.BigEndian.Uint32(code[base+8:]))
			if high < low {
				return nil, fmt.Errorf("bad tableswitch range at %d", pc)
			}
			size = base - pc + 12 + int(high-low+1)*4
		case op == opLookupswitch:
			base := pc + 1 + pad4(pc+1)
			if base+8 > len(code) {
				return nil, fmt.Errorf("truncated lookupswitch at %d", pc)
			}
			npairs := int32(binary.BigEndian.Uint32(code[base+4:]))
			if npairs < 0 {
				return nil, fmt.Errorf("bad lookupswitch pair count at %d", pc)
			}
			size = base - pc + 8 + int(npairs)*8
		}
		if pc+size > len(code) {
			return nil, fmt.Errorf("truncated instruction 0x%02X at %d", op, pc)
		}

		switch op {
		case OpGetStatic, OpPutStatic, OpGetField, OpPutField:
			idx := binary.BigEndian.Uint16(code[pc+1:])
			if owner, name, desc, ok := cp.RefAt(idx); ok {
				insn.Kind = KindFieldAccess
				insn.Owner, insn.Name, insn.Descriptor = owner, name, desc
			}
		case OpInvokeVirtual, OpInvokeSpecial, OpInvokeStatic, OpInvokeIface:
			idx := binary.BigEndian.Uint16(code[pc+1:])
			if owner, name, desc, ok := cp.RefAt(idx); ok {
				insn.Kind = KindMethodCall
				insn.Owner, insn.Name, insn.Descriptor = owner, name, desc
			}
		case OpLdc:
			if v, ok := cp.StringAt(uint16(code[pc+1])); ok {
				insn.Kind = KindConstantLoad
				insn.Value = v
			}
		case OpLdcW:
			if v, ok := cp.StringAt(binary.BigEndian.Uint16(code[pc+1:])); ok {
				insn.Kind = KindConstantLoad
				insn.Value = v
			}
		case OpNew:
			insn.Kind = KindTypeNew
			insn.Owner = cp.ClassNameAt(binary.BigEndian.Uint16(code[pc+1:]))
		}

		insns = append(insns, insn)
		pc += size
	}
	return insns, nil
}

// pad4 switch 指令在操作码之后补齐到 4 字节边界所需的字节数
func pad4(pos int) int {
	return (4 - pos%4) % 4
}

// MethodInstructions 解码方法 Code 属性中的指令流
// 没有方法体（abstract/native）时返回空切片
func (c *Class) MethodInstructions(m *Method) ([]Instruction, error) {
	for _, a := range m.Attributes {
		if a.Name != attrCode {
			continue
		}
		// Code: max_stack u2, max_locals u2, code_length u4, code...
		if len(a.Data) < 8 {
			return nil, fmt.Errorf("method %s: truncated Code attribute", m.Name)
		}
		codeLen := binary.BigEndian.Uint32(a.Data[4:])
		if int(codeLen) > len(a.Data)-8 {
			return nil, fmt.Errorf("method %s: code length %d exceeds attribute", m.Name, codeLen)
		}
		return decodeInstructions(a.Data[8:8+codeLen], c.Pool)
	}
	return nil, nil
}

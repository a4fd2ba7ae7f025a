package classfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// CodeBuilder 线性方法体汇编器
// 只支持污点流程需要的直线指令序列：不涉及跳转，
// 因此合成的方法体不需要 StackMapTable
type CodeBuilder struct {
	pool *ConstantPool
	buf  bytes.Buffer
	err  error
}

// NewCodeBuilder 创建方法体汇编器
func NewCodeBuilder(pool *ConstantPool) *CodeBuilder {
	return &CodeBuilder{pool: pool}
}

func (b *CodeBuilder) op(code byte) *CodeBuilder {
	if b.err == nil {
		b.buf.WriteByte(code)
	}
	return b
}

func (b *CodeBuilder) opU2(code byte, idx uint16, err error) *CodeBuilder {
	if b.err == nil {
		b.err = err
	}
	if b.err == nil {
		b.buf.WriteByte(code)
		var v [2]byte
		binary.BigEndian.PutUint16(v[:], idx)
		b.buf.Write(v[:])
	}
	return b
}

// AconstNull 压入 null 引用
func (b *CodeBuilder) AconstNull() *CodeBuilder { return b.op(OpAconstNull) }

// Dup 复制栈顶
func (b *CodeBuilder) Dup() *CodeBuilder { return b.op(OpDup) }

// Pop 弹出单槽值
func (b *CodeBuilder) Pop() *CodeBuilder { return b.op(OpPop) }

// Pop2 弹出双槽值 (long/double)
func (b *CodeBuilder) Pop2() *CodeBuilder { return b.op(OpPop2) }

// Return 无返回值返回
func (b *CodeBuilder) Return() *CodeBuilder { return b.op(OpReturn) }

// Athrow 抛出栈顶异常对象
func (b *CodeBuilder) Athrow() *CodeBuilder { return b.op(OpAthrow) }

// GetStatic 读取静态字段
func (b *CodeBuilder) GetStatic(owner, name, desc string) *CodeBuilder {
	idx, err := b.pool.Fieldref(owner, name, desc)
	return b.opU2(OpGetStatic, idx, err)
}

// GetField 读取实例字段
func (b *CodeBuilder) GetField(owner, name, desc string) *CodeBuilder {
	idx, err := b.pool.Fieldref(owner, name, desc)
	return b.opU2(OpGetField, idx, err)
}

// New 实例化指定类
func (b *CodeBuilder) New(class string) *CodeBuilder {
	idx, err := b.pool.Class(class)
	return b.opU2(OpNew, idx, err)
}

// InvokeSpecial 调用构造器或私有方法
func (b *CodeBuilder) InvokeSpecial(owner, name, desc string) *CodeBuilder {
	idx, err := b.pool.Methodref(owner, name, desc)
	return b.opU2(OpInvokeSpecial, idx, err)
}

// LdcString 加载字符串常量，按下标宽度自动选择 ldc/ldc_w
func (b *CodeBuilder) LdcString(s string) *CodeBuilder {
	idx, err := b.pool.String(s)
	if b.err == nil {
		b.err = err
	}
	if b.err != nil {
		return b
	}
	if idx <= 0xFF {
		b.buf.WriteByte(OpLdc)
		b.buf.WriteByte(byte(idx))
	} else {
		var v [2]byte
		binary.BigEndian.PutUint16(v[:], idx)
		b.buf.WriteByte(OpLdcW)
		b.buf.Write(v[:])
	}
	return b
}

// Build 产出 Code 属性
// max_stack/max_locals 由调用方显式给出：合成的方法体形态固定，
// 无需通用的栈深推导
func (b *CodeBuilder) Build(maxStack, maxLocals int) (Attribute, error) {
	if b.err != nil {
		return Attribute{}, b.err
	}
	nameIdx, err := b.pool.Utf8(attrCode)
	if err != nil {
		return Attribute{}, err
	}

	code := b.buf.Bytes()
	data := make([]byte, 0, 12+len(code))
	data = append(data, u16Bytes(uint16(maxStack))...)
	data = append(data, u16Bytes(uint16(maxLocals))...)
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(code)))
	data = append(data, l[:]...)
	data = append(data, code...)
	data = append(data, 0, 0) // exception_table_length = 0
	data = append(data, 0, 0) // attributes_count = 0

	return Attribute{NameIndex: nameIdx, Name: attrCode, Data: data}, nil
}

// ArgSlots 方法描述符的参数槽位数 (long/double 占 2)
// 描述符对关联核心是不透明字符串，槽位计算只发生在编解码层，
// 用于为替换后的方法体给出合法的 max_locals
func ArgSlots(desc string) (int, error) {
	if len(desc) < 2 || desc[0] != '(' {
		return 0, fmt.Errorf("bad method descriptor %q", desc)
	}
	slots := 0
	i := 1
	for i < len(desc) && desc[i] != ')' {
		switch desc[i] {
		case 'J', 'D':
			slots += 2
			i++
		case 'B', 'C', 'F', 'I', 'S', 'Z':
			slots++
			i++
		case 'L':
			end := strings.IndexByte(desc[i:], ';')
			if end < 0 {
				return 0, fmt.Errorf("bad method descriptor %q", desc)
			}
			slots++
			i += end + 1
		case '[':
			// 数组本身是单槽引用，跳过维度前缀后按元素类型推进
			i++
			for i < len(desc) && desc[i] == '[' {
				i++
			}
			if i >= len(desc) {
				return 0, fmt.Errorf("bad method descriptor %q", desc)
			}
			if desc[i] == 'L' {
				end := strings.IndexByte(desc[i:], ';')
				if end < 0 {
					return 0, fmt.Errorf("bad method descriptor %q", desc)
				}
				i += end + 1
			} else {
				i++
			}
			slots++
		default:
			return 0, fmt.Errorf("bad method descriptor %q", desc)
		}
	}
	if i >= len(desc) || desc[i] != ')' {
		return 0, fmt.Errorf("bad method descriptor %q", desc)
	}
	return slots, nil
}

// FieldSlots 字段描述符的值槽位数 (long/double 占 2)
func FieldSlots(desc string) int {
	if desc == "J" || desc == "D" {
		return 2
	}
	return 1
}

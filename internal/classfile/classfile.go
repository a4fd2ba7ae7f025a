// Package classfile 实现一个最小可写的 JVM class 文件编解码器。
//
// 只对污点流程需要的结构做真正的建模：常量池（可追加）、字段/方法表
// （可新增成员、可整体替换方法体）、指令流（标签化变体，供扫描用）。
// 其余属性一律按原始字节透传，保证未被修改的部分写回后逐字节一致。
package classfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const magic = 0xCAFEBABE

// 访问标志 (JVMS §4.5, §4.6)
const (
	AccPublic   = 0x0001
	AccPrivate  = 0x0002
	AccStatic   = 0x0008
	AccFinal    = 0x0010
	AccNative   = 0x0100
	AccAbstract = 0x0400
)

// Attribute 原始属性，Data 为 attribute_length 之后的载荷
type Attribute struct {
	NameIndex uint16
	Name      string
	Data      []byte
}

// Field 字段成员
type Field struct {
	AccessFlags uint16
	NameIndex   uint16
	DescIndex   uint16
	Name        string
	Descriptor  string
	Attributes  []Attribute
}

// IsStatic 字段是否为静态字段
func (f *Field) IsStatic() bool {
	return f.AccessFlags&AccStatic != 0
}

// Method 方法成员
type Method struct {
	AccessFlags uint16
	NameIndex   uint16
	DescIndex   uint16
	Name        string
	Descriptor  string
	Attributes  []Attribute
}

// IsAbstract 方法是否为抽象方法
func (m *Method) IsAbstract() bool {
	return m.AccessFlags&AccAbstract != 0
}

// IsNative 方法是否为 native 方法
func (m *Method) IsNative() bool {
	return m.AccessFlags&AccNative != 0
}

// Class class 文件的可变结构树
type Class struct {
	MinorVersion uint16
	MajorVersion uint16
	Pool         *ConstantPool
	AccessFlags  uint16
	ThisClass    uint16
	SuperClass   uint16
	Interfaces   []uint16
	Fields       []*Field
	Methods      []*Method
	Attributes   []Attribute
}

// Name 当前类的内部名（如 com/example/Foo）
func (c *Class) Name() string {
	return c.Pool.ClassNameAt(c.ThisClass)
}

// Parse 解析 class 文件字节
func Parse(data []byte) (*Class, error) {
	r := &reader{data: data}

	m, err := r.u4()
	if err != nil {
		return nil, err
	}
	if m != magic {
		return nil, fmt.Errorf("bad magic 0x%08X", m)
	}

	c := &Class{}
	if c.MinorVersion, err = r.u2(); err != nil {
		return nil, err
	}
	if c.MajorVersion, err = r.u2(); err != nil {
		return nil, err
	}

	cpCount, err := r.u2()
	if err != nil {
		return nil, err
	}
	if c.Pool, err = parseConstantPool(r, cpCount); err != nil {
		return nil, err
	}

	if c.AccessFlags, err = r.u2(); err != nil {
		return nil, err
	}
	if c.ThisClass, err = r.u2(); err != nil {
		return nil, err
	}
	if c.SuperClass, err = r.u2(); err != nil {
		return nil, err
	}

	ifCount, err := r.u2()
	if err != nil {
		return nil, err
	}
	c.Interfaces = make([]uint16, ifCount)
	for i := range c.Interfaces {
		if c.Interfaces[i], err = r.u2(); err != nil {
			return nil, err
		}
	}

	fieldCount, err := r.u2()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(fieldCount); i++ {
		f := &Field{}
		f.AccessFlags, f.NameIndex, f.DescIndex, f.Attributes, err = c.parseMember(r)
		if err != nil {
			return nil, err
		}
		f.Name = c.Pool.Utf8At(f.NameIndex)
		f.Descriptor = c.Pool.Utf8At(f.DescIndex)
		c.Fields = append(c.Fields, f)
	}

	methodCount, err := r.u2()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(methodCount); i++ {
		m := &Method{}
		m.AccessFlags, m.NameIndex, m.DescIndex, m.Attributes, err = c.parseMember(r)
		if err != nil {
			return nil, err
		}
		m.Name = c.Pool.Utf8At(m.NameIndex)
		m.Descriptor = c.Pool.Utf8At(m.DescIndex)
		c.Methods = append(c.Methods, m)
	}

	if c.Attributes, err = c.parseAttributes(r); err != nil {
		return nil, err
	}

	if r.remaining() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after class structure", r.remaining())
	}
	return c, nil
}

func (c *Class) parseMember(r *reader) (access, nameIdx, descIdx uint16, attrs []Attribute, err error) {
	if access, err = r.u2(); err != nil {
		return
	}
	if nameIdx, err = r.u2(); err != nil {
		return
	}
	if descIdx, err = r.u2(); err != nil {
		return
	}
	attrs, err = c.parseAttributes(r)
	return
}

func (c *Class) parseAttributes(r *reader) ([]Attribute, error) {
	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	attrs := make([]Attribute, 0, count)
	for i := 0; i < int(count); i++ {
		nameIdx, err := r.u2()
		if err != nil {
			return nil, err
		}
		length, err := r.u4()
		if err != nil {
			return nil, err
		}
		data, err := r.bytes(int(length))
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, Attribute{
			NameIndex: nameIdx,
			Name:      c.Pool.Utf8At(nameIdx),
			Data:      data,
		})
	}
	return attrs, nil
}

// Bytes 重新序列化为 class 文件字节
// 未被修改的结构（包括所有透传属性）与输入逐字节一致
func (c *Class) Bytes() ([]byte, error) {
	w := &writer{}
	w.u4(magic)
	w.u2(c.MinorVersion)
	w.u2(c.MajorVersion)
	c.Pool.serialize(w)
	w.u2(c.AccessFlags)
	w.u2(c.ThisClass)
	w.u2(c.SuperClass)
	w.u2(uint16(len(c.Interfaces)))
	for _, idx := range c.Interfaces {
		w.u2(idx)
	}
	w.u2(uint16(len(c.Fields)))
	for _, f := range c.Fields {
		w.member(f.AccessFlags, f.NameIndex, f.DescIndex, f.Attributes)
	}
	w.u2(uint16(len(c.Methods)))
	for _, m := range c.Methods {
		w.member(m.AccessFlags, m.NameIndex, m.DescIndex, m.Attributes)
	}
	w.attributes(c.Attributes)
	return w.buf.Bytes(), nil
}

// New 从零构造一个空类（测试夹具和工具代码使用）
func New(name, superName string, major uint16) (*Class, error) {
	c := &Class{
		MajorVersion: major,
		Pool:         newConstantPool(),
		AccessFlags:  AccPublic,
	}
	var err error
	if c.ThisClass, err = c.Pool.Class(name); err != nil {
		return nil, err
	}
	if c.SuperClass, err = c.Pool.Class(superName); err != nil {
		return nil, err
	}
	return c, nil
}

// AddField 追加一个字段成员
func (c *Class) AddField(access uint16, name, desc string) (*Field, error) {
	nameIdx, err := c.Pool.Utf8(name)
	if err != nil {
		return nil, err
	}
	descIdx, err := c.Pool.Utf8(desc)
	if err != nil {
		return nil, err
	}
	f := &Field{
		AccessFlags: access,
		NameIndex:   nameIdx,
		DescIndex:   descIdx,
		Name:        name,
		Descriptor:  desc,
	}
	c.Fields = append(c.Fields, f)
	return f, nil
}

// AddMethod 追加一个方法成员，code 可为 nil（abstract/native）
func (c *Class) AddMethod(access uint16, name, desc string, code *Attribute) (*Method, error) {
	nameIdx, err := c.Pool.Utf8(name)
	if err != nil {
		return nil, err
	}
	descIdx, err := c.Pool.Utf8(desc)
	if err != nil {
		return nil, err
	}
	m := &Method{
		AccessFlags: access,
		NameIndex:   nameIdx,
		DescIndex:   descIdx,
		Name:        name,
		Descriptor:  desc,
	}
	if code != nil {
		m.Attributes = append(m.Attributes, *code)
	}
	c.Methods = append(c.Methods, m)
	return m, nil
}

// ReplaceMethodCode 用新的 Code 属性替换方法原有的 Code 属性
// 原方法体连同异常表和局部变量表一起被丢弃，其余方法属性保留
func (c *Class) ReplaceMethodCode(m *Method, code Attribute) {
	kept := m.Attributes[:0]
	for _, a := range m.Attributes {
		if a.Name != attrCode {
			kept = append(kept, a)
		}
	}
	m.Attributes = append(kept, code)
}

// HasCode 方法是否带有方法体
func (m *Method) HasCode() bool {
	for _, a := range m.Attributes {
		if a.Name == attrCode {
			return true
		}
	}
	return false
}

// ConstantValueAttr 构造指向字符串常量的 ConstantValue 属性
func ConstantValueAttr(cp *ConstantPool, value string) (Attribute, error) {
	nameIdx, err := cp.Utf8(attrConstantValue)
	if err != nil {
		return Attribute{}, err
	}
	strIdx, err := cp.String(value)
	if err != nil {
		return Attribute{}, err
	}
	return Attribute{NameIndex: nameIdx, Name: attrConstantValue, Data: u16Bytes(strIdx)}, nil
}

// ConstantString 读取字段 ConstantValue 属性中的字符串常量
func (c *Class) ConstantString(f *Field) (string, bool) {
	for _, a := range f.Attributes {
		if a.Name != attrConstantValue || len(a.Data) != 2 {
			continue
		}
		idx := binary.BigEndian.Uint16(a.Data)
		return c.Pool.StringAt(idx)
	}
	return "", false
}

const (
	attrCode          = "Code"
	attrConstantValue = "ConstantValue"
)

// reader 大端字节读取器
type reader struct {
	data []byte
	pos  int
}

func (r *reader) remaining() int { return len(r.data) - r.pos }

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, io.ErrUnexpectedEOF
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) u1() (uint8, error) {
	b, err := r.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) u2() (uint16, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) u4() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// writer 大端字节写入器
type writer struct {
	buf bytes.Buffer
}

func (w *writer) u1(v uint8)    { w.buf.WriteByte(v) }
func (w *writer) raw(b []byte)  { w.buf.Write(b) }
func (w *writer) u2(v uint16)   { var b [2]byte; binary.BigEndian.PutUint16(b[:], v); w.buf.Write(b[:]) }
func (w *writer) u4(v uint32)   { var b [4]byte; binary.BigEndian.PutUint32(b[:], v); w.buf.Write(b[:]) }

func (w *writer) member(access, nameIdx, descIdx uint16, attrs []Attribute) {
	w.u2(access)
	w.u2(nameIdx)
	w.u2(descIdx)
	w.attributes(attrs)
}

func (w *writer) attributes(attrs []Attribute) {
	w.u2(uint16(len(attrs)))
	for _, a := range attrs {
		w.u2(a.NameIndex)
		w.u4(uint32(len(a.Data)))
		w.raw(a.Data)
	}
}

package classfile

import (
	"encoding/binary"
	"fmt"
)

// 常量池 tag 定义 (JVMS §4.4)
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

// poolEntry 单个常量池条目
// Raw 保存 tag 之后的原始载荷字节，序列化时原样写回，
// 保证未被修改的条目在输出中逐字节一致
type poolEntry struct {
	Tag  uint8
	Raw  []byte
	Str  string // Utf8 解码结果
	Ref1 uint16 // Class.name / String.utf8 / ref.class / NameAndType.name
	Ref2 uint16 // ref.name_and_type / NameAndType.descriptor
}

// ConstantPool 可追加的常量池
// 解析得到的条目不可变，新条目只会追加到末尾
type ConstantPool struct {
	entries []*poolEntry // 下标从 1 开始，long/double 占两个槽位（第二个为 nil）

	// 去重索引，避免重复追加
	utf8Index   map[string]uint16
	classIndex  map[string]uint16
	stringIndex map[string]uint16
	natIndex    map[string]uint16
	fieldIndex  map[string]uint16
	methodIndex map[string]uint16
}

func newConstantPool() *ConstantPool {
	return &ConstantPool{
		entries:     []*poolEntry{nil}, // 0 号槽位保留
		utf8Index:   make(map[string]uint16),
		classIndex:  make(map[string]uint16),
		stringIndex: make(map[string]uint16),
		natIndex:    make(map[string]uint16),
		fieldIndex:  make(map[string]uint16),
		methodIndex: make(map[string]uint16),
	}
}

// parseConstantPool 解析 constant_pool 段
func parseConstantPool(r *reader, count uint16) (*ConstantPool, error) {
	cp := newConstantPool()

	for i := uint16(1); i < count; i++ {
		tag, err := r.u1()
		if err != nil {
			return nil, err
		}

		e := &poolEntry{Tag: tag}

		var size int
		switch tag {
		case TagUtf8:
			length, err := r.u2()
			if err != nil {
				return nil, err
			}
			raw, err := r.bytes(int(length))
			if err != nil {
				return nil, err
			}
			// 长度前缀也保留在 Raw 中，写回时无需重新编码
			e.Raw = make([]byte, 2+len(raw))
			binary.BigEndian.PutUint16(e.Raw, length)
			copy(e.Raw[2:], raw)
			e.Str = string(raw)
		case TagInteger, TagFloat:
			size = 4
		case TagLong, TagDouble:
			size = 8
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			size = 2
		case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType, TagDynamic, TagInvokeDynamic:
			size = 4
		case TagMethodHandle:
			size = 3
		default:
			return nil, fmt.Errorf("constant pool entry %d: unknown tag %d", i, tag)
		}

		if tag != TagUtf8 {
			raw, err := r.bytes(size)
			if err != nil {
				return nil, err
			}
			e.Raw = raw
		}

		switch tag {
		case TagClass, TagString:
			e.Ref1 = binary.BigEndian.Uint16(e.Raw)
		case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType:
			e.Ref1 = binary.BigEndian.Uint16(e.Raw)
			e.Ref2 = binary.BigEndian.Uint16(e.Raw[2:])
		}

		cp.entries = append(cp.entries, e)

		// long/double 占用两个槽位
		if tag == TagLong || tag == TagDouble {
			cp.entries = append(cp.entries, nil)
			i++
		}
	}

	cp.buildIndexes()
	return cp, nil
}

// buildIndexes 建立去重索引
func (cp *ConstantPool) buildIndexes() {
	for i, e := range cp.entries {
		if e == nil {
			continue
		}
		idx := uint16(i)
		switch e.Tag {
		case TagUtf8:
			if _, ok := cp.utf8Index[e.Str]; !ok {
				cp.utf8Index[e.Str] = idx
			}
		case TagClass:
			name := cp.Utf8At(e.Ref1)
			if _, ok := cp.classIndex[name]; !ok {
				cp.classIndex[name] = idx
			}
		case TagString:
			s := cp.Utf8At(e.Ref1)
			if _, ok := cp.stringIndex[s]; !ok {
				cp.stringIndex[s] = idx
			}
		}
	}
}

// Count 常量池计数（含保留的 0 号槽位，即写入文件头的 constant_pool_count）
func (cp *ConstantPool) Count() uint16 {
	return uint16(len(cp.entries))
}

func (cp *ConstantPool) entryAt(index uint16) *poolEntry {
	if int(index) >= len(cp.entries) {
		return nil
	}
	return cp.entries[index]
}

// Utf8At 返回指定下标的 Utf8 内容，下标非法时返回空串
func (cp *ConstantPool) Utf8At(index uint16) string {
	e := cp.entryAt(index)
	if e == nil || e.Tag != TagUtf8 {
		return ""
	}
	return e.Str
}

// ClassNameAt 解析 Class 条目的类名
func (cp *ConstantPool) ClassNameAt(index uint16) string {
	e := cp.entryAt(index)
	if e == nil || e.Tag != TagClass {
		return ""
	}
	return cp.Utf8At(e.Ref1)
}

// StringAt 解析 String 条目的内容，非 String 条目返回 false
func (cp *ConstantPool) StringAt(index uint16) (string, bool) {
	e := cp.entryAt(index)
	if e == nil || e.Tag != TagString {
		return "", false
	}
	return cp.Utf8At(e.Ref1), true
}

// RefAt 解析 Fieldref/Methodref/InterfaceMethodref 条目，
// 返回 (所属类名, 成员名, 描述符)
func (cp *ConstantPool) RefAt(index uint16) (owner, name, desc string, ok bool) {
	e := cp.entryAt(index)
	if e == nil {
		return "", "", "", false
	}
	switch e.Tag {
	case TagFieldref, TagMethodref, TagInterfaceMethodref:
	default:
		return "", "", "", false
	}
	owner = cp.ClassNameAt(e.Ref1)
	nat := cp.entryAt(e.Ref2)
	if nat == nil || nat.Tag != TagNameAndType {
		return "", "", "", false
	}
	return owner, cp.Utf8At(nat.Ref1), cp.Utf8At(nat.Ref2), true
}

func (cp *ConstantPool) append(e *poolEntry) (uint16, error) {
	idx := len(cp.entries)
	// 常量池下标是 u2，追加过多条目会溢出
	if idx >= 0xFFFF {
		return 0, fmt.Errorf("constant pool overflow")
	}
	cp.entries = append(cp.entries, e)
	return uint16(idx), nil
}

// Utf8 返回内容为 s 的 Utf8 条目下标，不存在则追加
func (cp *ConstantPool) Utf8(s string) (uint16, error) {
	if idx, ok := cp.utf8Index[s]; ok {
		return idx, nil
	}
	if len(s) > 0xFFFF {
		return 0, fmt.Errorf("utf8 constant too long: %d bytes", len(s))
	}
	raw := make([]byte, 2+len(s))
	binary.BigEndian.PutUint16(raw, uint16(len(s)))
	copy(raw[2:], s)
	idx, err := cp.append(&poolEntry{Tag: TagUtf8, Raw: raw, Str: s})
	if err != nil {
		return 0, err
	}
	cp.utf8Index[s] = idx
	return idx, nil
}

// Class 返回指向类名 name 的 Class 条目下标，不存在则追加
func (cp *ConstantPool) Class(name string) (uint16, error) {
	if idx, ok := cp.classIndex[name]; ok {
		return idx, nil
	}
	nameIdx, err := cp.Utf8(name)
	if err != nil {
		return 0, err
	}
	idx, err := cp.append(&poolEntry{Tag: TagClass, Raw: u16Bytes(nameIdx), Ref1: nameIdx})
	if err != nil {
		return 0, err
	}
	cp.classIndex[name] = idx
	return idx, nil
}

// String 返回内容为 s 的 String 条目下标，不存在则追加
func (cp *ConstantPool) String(s string) (uint16, error) {
	if idx, ok := cp.stringIndex[s]; ok {
		return idx, nil
	}
	utf8Idx, err := cp.Utf8(s)
	if err != nil {
		return 0, err
	}
	idx, err := cp.append(&poolEntry{Tag: TagString, Raw: u16Bytes(utf8Idx), Ref1: utf8Idx})
	if err != nil {
		return 0, err
	}
	cp.stringIndex[s] = idx
	return idx, nil
}

// NameAndType 返回 (name, desc) 的 NameAndType 条目下标，不存在则追加
func (cp *ConstantPool) NameAndType(name, desc string) (uint16, error) {
	key := name + ":" + desc
	if idx, ok := cp.natIndex[key]; ok {
		return idx, nil
	}
	nameIdx, err := cp.Utf8(name)
	if err != nil {
		return 0, err
	}
	descIdx, err := cp.Utf8(desc)
	if err != nil {
		return 0, err
	}
	idx, err := cp.append(&poolEntry{
		Tag:  TagNameAndType,
		Raw:  append(u16Bytes(nameIdx), u16Bytes(descIdx)...),
		Ref1: nameIdx,
		Ref2: descIdx,
	})
	if err != nil {
		return 0, err
	}
	cp.natIndex[key] = idx
	return idx, nil
}

// Fieldref 返回字段引用条目下标，不存在则追加
func (cp *ConstantPool) Fieldref(owner, name, desc string) (uint16, error) {
	return cp.memberRef(TagFieldref, cp.fieldIndex, owner, name, desc)
}

// Methodref 返回方法引用条目下标，不存在则追加
func (cp *ConstantPool) Methodref(owner, name, desc string) (uint16, error) {
	return cp.memberRef(TagMethodref, cp.methodIndex, owner, name, desc)
}

func (cp *ConstantPool) memberRef(tag uint8, index map[string]uint16, owner, name, desc string) (uint16, error) {
	key := owner + "." + name + ":" + desc
	if idx, ok := index[key]; ok {
		return idx, nil
	}
	classIdx, err := cp.Class(owner)
	if err != nil {
		return 0, err
	}
	natIdx, err := cp.NameAndType(name, desc)
	if err != nil {
		return 0, err
	}
	idx, err := cp.append(&poolEntry{
		Tag:  tag,
		Raw:  append(u16Bytes(classIdx), u16Bytes(natIdx)...),
		Ref1: classIdx,
		Ref2: natIdx,
	})
	if err != nil {
		return 0, err
	}
	index[key] = idx
	return idx, nil
}

// RewriteUtf8 将所有内容为 from 的 Utf8 条目改写为 to，返回改写数量
// 效果等同于一次针对单个名字的重映射，测试和工具代码用它模拟 mapper 行为
func (cp *ConstantPool) RewriteUtf8(from, to string) int {
	n := 0
	for _, e := range cp.entries {
		if e == nil || e.Tag != TagUtf8 || e.Str != from {
			continue
		}
		raw := make([]byte, 2+len(to))
		binary.BigEndian.PutUint16(raw, uint16(len(to)))
		copy(raw[2:], to)
		e.Raw = raw
		e.Str = to
		n++
	}
	if n > 0 {
		// 索引键随内容失效，全部重建
		cp.utf8Index = make(map[string]uint16)
		cp.classIndex = make(map[string]uint16)
		cp.stringIndex = make(map[string]uint16)
		cp.natIndex = make(map[string]uint16)
		cp.fieldIndex = make(map[string]uint16)
		cp.methodIndex = make(map[string]uint16)
		cp.buildIndexes()
	}
	return n
}

func (cp *ConstantPool) serialize(w *writer) {
	w.u2(cp.Count())
	for _, e := range cp.entries {
		if e == nil {
			continue // long/double 的占位槽
		}
		w.u1(e.Tag)
		w.raw(e.Raw)
	}
}

func u16Bytes(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

// Package registry 维护 uid 与原始符号坐标之间的关联登记。
//
// Session 是显式传递的会话对象：污点阶段只追加，抽取阶段只读。
// 单线程批处理模型下不做并发控制；若将来按类并行，写入路径需要加锁，
// uid 生成本身与顺序无关，无需同步。
package registry

import (
	"strings"

	"github.com/google/uuid"
	"github.com/jar-trace/jar-trace-go/internal/domain"
)

// Session 一次污点会话的关联登记表
// uid 在单次会话内全局唯一且一经写入不可变更；uuid 的熵足以
// 让碰撞在实践中不会发生，这里不做碰撞检测
type Session struct {
	id      string
	classes map[string]*domain.ClassRecord
	fields  map[string]*domain.FieldRecord
	methods map[string]*domain.MethodRecord

	// 持久化时按登记顺序导出
	classOrder  []string
	fieldOrder  []string
	methodOrder []string
}

// NewSession 创建空会话
func NewSession() *Session {
	return newSession(uuid.New().String())
}

func newSession(id string) *Session {
	return &Session{
		id:      id,
		classes: make(map[string]*domain.ClassRecord),
		fields:  make(map[string]*domain.FieldRecord),
		methods: make(map[string]*domain.MethodRecord),
	}
}

// ID 会话标识
func (s *Session) ID() string {
	return s.id
}

// RecordClass 为类登记一个新 uid
func (s *Session) RecordClass(originalName string) string {
	uid := uuid.New().String()
	s.classes[uid] = &domain.ClassRecord{UID: uid, SessionID: s.id, OriginalName: originalName}
	s.classOrder = append(s.classOrder, uid)
	return uid
}

// RecordField 为字段登记一个新 uid
// 字段 uid 去掉分隔符，方便拼接进探针方法名
func (s *Session) RecordField(owner, name, descriptor string) string {
	uid := strings.ReplaceAll(uuid.New().String(), "-", "")
	s.fields[uid] = &domain.FieldRecord{
		UID:          uid,
		SessionID:    s.id,
		Owner:        owner,
		OriginalName: name,
		Descriptor:   descriptor,
	}
	s.fieldOrder = append(s.fieldOrder, uid)
	return uid
}

// RecordMethod 为方法登记一个新 uid
func (s *Session) RecordMethod(owner, name, descriptor string) string {
	uid := uuid.New().String()
	s.methods[uid] = &domain.MethodRecord{
		UID:          uid,
		SessionID:    s.id,
		Owner:        owner,
		OriginalName: name,
		Descriptor:   descriptor,
	}
	s.methodOrder = append(s.methodOrder, uid)
	return uid
}

// LookupClass 按 uid 查类登记项
func (s *Session) LookupClass(uid string) (*domain.ClassRecord, bool) {
	r, ok := s.classes[uid]
	return r, ok
}

// LookupField 按 uid 查字段登记项
func (s *Session) LookupField(uid string) (*domain.FieldRecord, bool) {
	r, ok := s.fields[uid]
	return r, ok
}

// LookupMethod 按 uid 查方法登记项
func (s *Session) LookupMethod(uid string) (*domain.MethodRecord, bool) {
	r, ok := s.methods[uid]
	return r, ok
}

// Counts 各类登记项数量 (classes, fields, methods)
func (s *Session) Counts() (int, int, int) {
	return len(s.classes), len(s.fields), len(s.methods)
}

// ClassRecords 按登记顺序导出类登记项
func (s *Session) ClassRecords() []*domain.ClassRecord {
	out := make([]*domain.ClassRecord, 0, len(s.classOrder))
	for _, uid := range s.classOrder {
		out = append(out, s.classes[uid])
	}
	return out
}

// FieldRecords 按登记顺序导出字段登记项
func (s *Session) FieldRecords() []*domain.FieldRecord {
	out := make([]*domain.FieldRecord, 0, len(s.fieldOrder))
	for _, uid := range s.fieldOrder {
		out = append(out, s.fields[uid])
	}
	return out
}

// MethodRecords 按登记顺序导出方法登记项
func (s *Session) MethodRecords() []*domain.MethodRecord {
	out := make([]*domain.MethodRecord, 0, len(s.methodOrder))
	for _, uid := range s.methodOrder {
		out = append(out, s.methods[uid])
	}
	return out
}

// Restore 从持久化记录重建会话（抽取阶段在独立进程运行时使用）
func Restore(id string, classes []*domain.ClassRecord, fields []*domain.FieldRecord, methods []*domain.MethodRecord) *Session {
	s := newSession(id)
	for _, r := range classes {
		s.classes[r.UID] = r
		s.classOrder = append(s.classOrder, r.UID)
	}
	for _, r := range fields {
		s.fields[r.UID] = r
		s.fieldOrder = append(s.fieldOrder, r.UID)
	}
	for _, r := range methods {
		s.methods[r.UID] = r
		s.methodOrder = append(s.methodOrder, r.UID)
	}
	return s
}

package domain

import "time"

// TraceSession 一次污点会话
// 一次 taint 产出一条会话记录，之后任意多次 extract 复用同一会话
type TraceSession struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	JarName     string    `gorm:"size:255" json:"jar_name"`
	TaintedPath string    `gorm:"size:512" json:"tainted_path"`
	ClassCount  int       `json:"class_count"`
	FieldCount  int       `json:"field_count"`
	MethodCount int       `json:"method_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// ClassRecord 类 uid 登记项
type ClassRecord struct {
	UID          string `gorm:"primaryKey;size:36" json:"uid"`
	SessionID    string `gorm:"index;size:36" json:"session_id"`
	OriginalName string `gorm:"size:512" json:"original_name"`
}

// FieldRecord 字段 uid 登记项
// 字段 uid 不带分隔符（32 个十六进制字符），因为它要拼进方法名
type FieldRecord struct {
	UID          string `gorm:"primaryKey;size:36" json:"uid"`
	SessionID    string `gorm:"index;size:36" json:"session_id"`
	Owner        string `gorm:"size:512" json:"owner"`
	OriginalName string `gorm:"size:512" json:"original_name"`
	Descriptor   string `gorm:"size:1024" json:"descriptor"`
}

// MethodRecord 方法 uid 登记项
type MethodRecord struct {
	UID          string `gorm:"primaryKey;size:36" json:"uid"`
	SessionID    string `gorm:"index;size:36" json:"session_id"`
	Owner        string `gorm:"size:512" json:"owner"`
	OriginalName string `gorm:"size:512" json:"original_name"`
	Descriptor   string `gorm:"size:1024" json:"descriptor"`
}

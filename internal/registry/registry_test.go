package registry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSession_RecordAndLookup 测试登记后可按 uid 回查
func TestSession_RecordAndLookup(t *testing.T) {
	s := NewSession()
	require.NotEmpty(t, s.ID())

	cuid := s.RecordClass("com/example/Foo")
	fuid := s.RecordField("com/example/Foo", "count", "I")
	muid := s.RecordMethod("com/example/Foo", "run", "()V")

	cr, ok := s.LookupClass(cuid)
	require.True(t, ok)
	assert.Equal(t, "com/example/Foo", cr.OriginalName)
	assert.Equal(t, s.ID(), cr.SessionID)

	fr, ok := s.LookupField(fuid)
	require.True(t, ok)
	assert.Equal(t, "com/example/Foo", fr.Owner)
	assert.Equal(t, "count", fr.OriginalName)
	assert.Equal(t, "I", fr.Descriptor)

	mr, ok := s.LookupMethod(muid)
	require.True(t, ok)
	assert.Equal(t, "run", mr.OriginalName)
	assert.Equal(t, "()V", mr.Descriptor)

	_, ok = s.LookupClass("no-such-uid")
	assert.False(t, ok)
}

// TestSession_FieldUIDShape 测试字段 uid 不含连字符（要拼进方法名）
func TestSession_FieldUIDShape(t *testing.T) {
	s := NewSession()
	uid := s.RecordField("a", "x", "I")
	assert.NotContains(t, uid, "-")
	assert.Len(t, uid, 32)

	// 类与方法 uid 保留标准 uuid 形态
	assert.Contains(t, s.RecordClass("a"), "-")
	assert.Contains(t, s.RecordMethod("a", "m", "()V"), "-")
}

// TestSession_UIDUniqueness 测试同一会话内 uid 不重复
func TestSession_UIDUniqueness(t *testing.T) {
	s := NewSession()
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		uid := s.RecordField("a", "x", "I")
		assert.False(t, seen[uid])
		seen[uid] = true
	}
}

// TestSession_CountsAndOrder 测试计数与导出顺序
func TestSession_CountsAndOrder(t *testing.T) {
	s := NewSession()
	u1 := s.RecordClass("a")
	u2 := s.RecordClass("b")
	s.RecordField("a", "x", "I")
	s.RecordMethod("a", "m", "()V")
	s.RecordMethod("b", "n", "(I)I")

	c, f, m := s.Counts()
	assert.Equal(t, 2, c)
	assert.Equal(t, 1, f)
	assert.Equal(t, 2, m)

	classes := s.ClassRecords()
	require.Len(t, classes, 2)
	assert.Equal(t, u1, classes[0].UID)
	assert.Equal(t, u2, classes[1].UID)
}

// TestRestore 测试持久化记录重建会话后行为一致
func TestRestore(t *testing.T) {
	src := NewSession()
	src.RecordClass("com/example/Foo")
	src.RecordField("com/example/Foo", "x", "J")
	src.RecordMethod("com/example/Foo", "run", "()V")

	restored := Restore(src.ID(), src.ClassRecords(), src.FieldRecords(), src.MethodRecords())
	assert.Equal(t, src.ID(), restored.ID())

	c, f, m := restored.Counts()
	assert.Equal(t, 1, c)
	assert.Equal(t, 1, f)
	assert.Equal(t, 1, m)

	fuid := src.FieldRecords()[0].UID
	fr, ok := restored.LookupField(fuid)
	require.True(t, ok)
	assert.Equal(t, "x", fr.OriginalName)
	assert.False(t, strings.Contains(fuid, "-"))
}

package taint

import (
	"io"
	"strings"
	"testing"

	"github.com/jar-trace/jar-trace-go/internal/classfile"
	"github.com/jar-trace/jar-trace-go/internal/registry"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// buildTarget 构造被污染的目标类：
// 静态 x(I)、实例 y(String)、长整型 z(J)，方法 <init>、go()V、abstract、native
func buildTarget(t *testing.T) *classfile.Class {
	t.Helper()

	cls, err := classfile.New("a", "java/lang/Object", 52)
	require.NoError(t, err)

	_, err = cls.AddField(classfile.AccPublic|classfile.AccStatic, "x", "I")
	require.NoError(t, err)
	_, err = cls.AddField(classfile.AccPublic, "y", "Ljava/lang/String;")
	require.NoError(t, err)
	_, err = cls.AddField(classfile.AccPrivate|classfile.AccStatic, "z", "J")
	require.NoError(t, err)

	ret, err := classfile.NewCodeBuilder(cls.Pool).Return().Build(0, 1)
	require.NoError(t, err)
	_, err = cls.AddMethod(classfile.AccPublic, "<init>", "()V", &ret)
	require.NoError(t, err)

	body, err := classfile.NewCodeBuilder(cls.Pool).Return().Build(0, 1)
	require.NoError(t, err)
	_, err = cls.AddMethod(classfile.AccPublic, "go", "()V", &body)
	require.NoError(t, err)

	_, err = cls.AddMethod(classfile.AccPublic|classfile.AccAbstract, "todo", "()V", nil)
	require.NoError(t, err)
	_, err = cls.AddMethod(classfile.AccPublic|classfile.AccNative, "jni", "(I)I", nil)
	require.NoError(t, err)

	return cls
}

// taintAndReparse 污染后序列化再解析，模拟落盘读回
func taintAndReparse(t *testing.T, session *registry.Session, cls *classfile.Class) *classfile.Class {
	t.Helper()

	tr := NewTransformer(session, testLogger())
	require.NoError(t, tr.TaintClass(cls))

	data, err := cls.Bytes()
	require.NoError(t, err)
	parsed, err := classfile.Parse(data)
	require.NoError(t, err)
	return parsed
}

// TestTaintClass_Marker 测试类标记字段的形态与登记
func TestTaintClass_Marker(t *testing.T) {
	session := registry.NewSession()
	parsed := taintAndReparse(t, session, buildTarget(t))

	var marker *classfile.Field
	for _, f := range parsed.Fields {
		if f.Name == MarkerField {
			marker = f
		}
	}
	require.NotNil(t, marker, "Marker field must be injected")
	assert.True(t, marker.IsStatic())
	assert.Equal(t, uint16(classfile.AccPublic|classfile.AccStatic|classfile.AccFinal), marker.AccessFlags)
	assert.Equal(t, "Ljava/lang/String;", marker.Descriptor)

	uid, ok := parsed.ConstantString(marker)
	require.True(t, ok, "Marker must carry a constant uid")

	rec, ok := session.LookupClass(uid)
	require.True(t, ok)
	assert.Equal(t, "a", rec.OriginalName)
}

// TestTaintClass_FieldProbes 测试字段探针的指令形态
func TestTaintClass_FieldProbes(t *testing.T) {
	session := registry.NewSession()
	parsed := taintAndReparse(t, session, buildTarget(t))

	probes := make(map[string]*classfile.Method) // 原字段名 -> 探针
	for _, m := range parsed.Methods {
		if !strings.HasPrefix(m.Name, ProbePrefix) {
			continue
		}
		uid := strings.TrimPrefix(m.Name, ProbePrefix)
		rec, ok := session.LookupField(uid)
		require.True(t, ok, "Probe uid must be registered: %s", m.Name)
		probes[rec.OriginalName] = m

		assert.Equal(t, "()V", m.Descriptor)
		assert.Equal(t, uint16(classfile.AccPublic|classfile.AccStatic), m.AccessFlags)
	}
	require.Len(t, probes, 3, "One probe per original field")

	// 静态字段：getstatic; pop; return
	insns, err := parsed.MethodInstructions(probes["x"])
	require.NoError(t, err)
	require.Len(t, insns, 3)
	assert.Equal(t, uint8(classfile.OpGetStatic), insns[0].Opcode)
	assert.Equal(t, classfile.KindFieldAccess, insns[0].Kind)
	assert.Equal(t, "x", insns[0].Name)
	assert.Equal(t, uint8(classfile.OpPop), insns[1].Opcode)

	// 实例字段：aconst_null; getfield; pop; return
	insns, err = parsed.MethodInstructions(probes["y"])
	require.NoError(t, err)
	require.Len(t, insns, 4)
	assert.Equal(t, uint8(classfile.OpAconstNull), insns[0].Opcode)
	assert.Equal(t, uint8(classfile.OpGetField), insns[1].Opcode)
	assert.Equal(t, "y", insns[1].Name)
	assert.Equal(t, uint8(classfile.OpPop), insns[2].Opcode)

	// 宽类型字段弹栈用 pop2
	insns, err = parsed.MethodInstructions(probes["z"])
	require.NoError(t, err)
	require.Len(t, insns, 3)
	assert.Equal(t, uint8(classfile.OpPop2), insns[1].Opcode)
}

// TestTaintClass_MethodBodies 测试方法体替换与排除规则
func TestTaintClass_MethodBodies(t *testing.T) {
	session := registry.NewSession()
	parsed := taintAndReparse(t, session, buildTarget(t))

	byName := make(map[string]*classfile.Method)
	for _, m := range parsed.Methods {
		byName[m.Name] = m
	}

	// go()V 被替换为 new Error / dup / ldc uid / invokespecial <init> / athrow
	insns, err := parsed.MethodInstructions(byName["go"])
	require.NoError(t, err)
	require.Len(t, insns, 5)
	assert.Equal(t, classfile.KindTypeNew, insns[0].Kind)
	assert.Equal(t, "java/lang/Error", insns[0].Owner)
	assert.Equal(t, classfile.KindConstantLoad, insns[2].Kind)
	assert.Equal(t, uint8(classfile.OpAthrow), insns[4].Opcode)

	rec, ok := session.LookupMethod(insns[2].Value)
	require.True(t, ok, "Thrown uid must be registered")
	assert.Equal(t, "go", rec.OriginalName)
	assert.Equal(t, "()V", rec.Descriptor)
	assert.Equal(t, "a", rec.Owner)

	// 构造器保持原方法体（单条 return）
	insns, err = parsed.MethodInstructions(byName["<init>"])
	require.NoError(t, err)
	require.Len(t, insns, 1)
	assert.Equal(t, uint8(classfile.OpReturn), insns[0].Opcode)

	// abstract/native 不得获得方法体
	assert.False(t, byName["todo"].HasCode())
	assert.False(t, byName["jni"].HasCode())
}

// TestTaintClass_Counts 测试登记数量：1 类 + 3 字段 + 1 具体方法
func TestTaintClass_Counts(t *testing.T) {
	session := registry.NewSession()
	taintAndReparse(t, session, buildTarget(t))

	classes, fields, methods := session.Counts()
	assert.Equal(t, 1, classes)
	assert.Equal(t, 3, fields)
	assert.Equal(t, 1, methods)
}

// TestTaintClass_NoProbeOfProbes 测试探针方法自身不会被替换方法体
func TestTaintClass_NoProbeOfProbes(t *testing.T) {
	session := registry.NewSession()
	cls := buildTarget(t)
	tr := NewTransformer(session, testLogger())
	require.NoError(t, tr.TaintClass(cls))

	// 探针自身不会被替换方法体：逐个确认没有 athrow 结尾的探针
	for _, m := range cls.Methods {
		if !strings.HasPrefix(m.Name, ProbePrefix) {
			continue
		}
		insns, err := cls.MethodInstructions(m)
		require.NoError(t, err)
		assert.Equal(t, uint8(classfile.OpReturn), insns[len(insns)-1].Opcode)
	}
}

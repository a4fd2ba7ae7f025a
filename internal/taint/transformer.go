// Package taint 实现第一阶段：向制品中注入携带 uid 的标记。
//
// 每个类得到一个常量标记字段，每个字段得到一个合成探针方法，
// 每个具体方法的方法体被整体替换为 "抛出携带 uid 的 Error"。
// 被携带的 uid 是常量数据而非可引用符号，任何重命名都无法触及它。
package taint

import (
	"context"
	"fmt"
	"strings"

	"github.com/jar-trace/jar-trace-go/internal/classfile"
	"github.com/jar-trace/jar-trace-go/internal/container"
	"github.com/jar-trace/jar-trace-go/internal/registry"
	"github.com/sirupsen/logrus"
)

// 保留名：与真实用户代码撞名属于未定义行为，不做检测
const (
	// MarkerField 类标记字段名
	MarkerField = "__MCP_UUID__"
	// ProbePrefix 字段探针方法名前缀
	ProbePrefix = "$$mcp_trace_"

	markerFieldDesc  = "Ljava/lang/String;"
	errorCarrier     = "java/lang/Error"
	errorCarrierCtor = "(Ljava/lang/String;)V"
)

// Transformer 污点变换器
type Transformer struct {
	session *registry.Session
	logger  *logrus.Logger
}

// NewTransformer 创建污点变换器
func NewTransformer(session *registry.Session, logger *logrus.Logger) *Transformer {
	return &Transformer{
		session: session,
		logger:  logger,
	}
}

// TaintJar 遍历容器并污染所有可解析的 class 条目
func (t *Transformer) TaintJar(ctx context.Context, src, dst string) (*container.Stats, error) {
	t.logger.WithFields(logrus.Fields{
		"session_id": t.session.ID(),
		"src":        src,
		"dst":        dst,
	}).Info("Tainting container")

	stats, err := container.Rewrite(src, dst, func(name string, cls *classfile.Class) error {
		return t.TaintClass(cls)
	}, t.logger)
	if err != nil {
		return nil, err
	}

	classes, fields, methods := t.session.Counts()
	t.logger.WithFields(logrus.Fields{
		"session_id":     t.session.ID(),
		"entries":        stats.Entries,
		"classes":        classes,
		"fields":         fields,
		"methods":        methods,
		"parse_failures": stats.ParseFailures,
	}).Info("Tainting completed")
	return stats, nil
}

// TaintClass 污染单个类：标记字段、字段探针、方法体替换，顺序固定
func (t *Transformer) TaintClass(cls *classfile.Class) error {
	owner := cls.Name()

	if err := t.markClass(cls, owner); err != nil {
		return err
	}
	if err := t.probeFields(cls, owner); err != nil {
		return err
	}
	return t.replaceMethodBodies(cls, owner)
}

// markClass 添加携带类 uid 的常量标记字段
func (t *Transformer) markClass(cls *classfile.Class, owner string) error {
	uid := t.session.RecordClass(owner)

	f, err := cls.AddField(classfile.AccPublic|classfile.AccStatic|classfile.AccFinal, MarkerField, markerFieldDesc)
	if err != nil {
		return fmt.Errorf("add marker field to %s: %w", owner, err)
	}
	cv, err := classfile.ConstantValueAttr(cls.Pool, uid)
	if err != nil {
		return fmt.Errorf("add marker constant to %s: %w", owner, err)
	}
	f.Attributes = append(f.Attributes, cv)
	return nil
}

// probeFields 为每个已有字段合成一个探针方法
// 探针唯一的作用是包含一条可被扫描定位的字段访问指令
func (t *Transformer) probeFields(cls *classfile.Class, owner string) error {
	// 标记字段刚刚追加到末尾，遍历现有列表的快照
	existing := make([]*classfile.Field, len(cls.Fields))
	copy(existing, cls.Fields)

	for _, f := range existing {
		if f.Name == MarkerField {
			continue
		}

		uid := t.session.RecordField(owner, f.Name, f.Descriptor)

		b := classfile.NewCodeBuilder(cls.Pool)
		maxStack := classfile.FieldSlots(f.Descriptor)
		if f.IsStatic() {
			b.GetStatic(owner, f.Name, f.Descriptor)
		} else {
			b.AconstNull()
			b.GetField(owner, f.Name, f.Descriptor)
		}
		if classfile.FieldSlots(f.Descriptor) == 2 {
			b.Pop2()
		} else {
			b.Pop()
		}
		b.Return()

		code, err := b.Build(maxStack, 0)
		if err != nil {
			return fmt.Errorf("build probe for %s.%s: %w", owner, f.Name, err)
		}
		if _, err := cls.AddMethod(classfile.AccPublic|classfile.AccStatic, ProbePrefix+uid, "()V", &code); err != nil {
			return fmt.Errorf("add probe for %s.%s: %w", owner, f.Name, err)
		}
	}
	return nil
}

// replaceMethodBodies 将每个具体方法的方法体替换为抛出携带 uid 的 Error
// 构造器、探针、abstract/native 方法保持原样
func (t *Transformer) replaceMethodBodies(cls *classfile.Class, owner string) error {
	// 探针方法在此之前追加，遍历时靠名字前缀跳过
	for _, m := range cls.Methods {
		if isExcluded(m) {
			continue
		}

		uid := t.session.RecordMethod(owner, m.Name, m.Descriptor)

		argSlots, err := classfile.ArgSlots(m.Descriptor)
		if err != nil {
			return fmt.Errorf("method %s.%s: %w", owner, m.Name, err)
		}
		maxLocals := argSlots
		if m.AccessFlags&classfile.AccStatic == 0 {
			maxLocals++ // this
		}

		code, err := classfile.NewCodeBuilder(cls.Pool).
			New(errorCarrier).
			Dup().
			LdcString(uid).
			InvokeSpecial(errorCarrier, "<init>", errorCarrierCtor).
			Athrow().
			Build(3, maxLocals)
		if err != nil {
			return fmt.Errorf("build body for %s.%s: %w", owner, m.Name, err)
		}
		cls.ReplaceMethodCode(m, code)
	}
	return nil
}

func isExcluded(m *classfile.Method) bool {
	if len(m.Name) > 0 && m.Name[0] == '<' { // <init>, <clinit>
		return true
	}
	if strings.HasPrefix(m.Name, "$$mcp") {
		return true
	}
	return m.IsAbstract() || m.IsNative() || !m.HasCode()
}

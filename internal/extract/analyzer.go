// Package extract 实现第二阶段：从 mapper 处理过的制品中
// 恢复 原始名 → 当前名 的对应关系。
package extract

import (
	"context"
	"strings"

	"github.com/jar-trace/jar-trace-go/internal/classfile"
	"github.com/jar-trace/jar-trace-go/internal/container"
	"github.com/jar-trace/jar-trace-go/internal/registry"
	"github.com/jar-trace/jar-trace-go/internal/taint"
	"github.com/sirupsen/logrus"
)

// Analyzer 抽取分析器，对会话登记表只读
type Analyzer struct {
	session *registry.Session
	logger  *logrus.Logger
}

// NewAnalyzer 创建抽取分析器
func NewAnalyzer(session *registry.Session, logger *logrus.Logger) *Analyzer {
	return &Analyzer{
		session: session,
		logger:  logger,
	}
}

// ExtractJar 扫描制品并生成映射表
// 行按遇到顺序追加：容器条目顺序在外层，类内声明顺序在内层，不排序
func (a *Analyzer) ExtractJar(ctx context.Context, src string) (*Mapping, error) {
	a.logger.WithFields(logrus.Fields{
		"session_id": a.session.ID(),
		"src":        src,
	}).Info("Extracting mappings")

	mapping := NewMapping()
	stats, err := container.Scan(src, func(name string, cls *classfile.Class) error {
		a.analyzeClass(cls, mapping)
		return nil
	}, a.logger)
	if err != nil {
		return nil, err
	}

	classes, fields, methods := mapping.Counts()
	a.logger.WithFields(logrus.Fields{
		"session_id":     a.session.ID(),
		"entries":        stats.Entries,
		"class_rows":     classes,
		"field_rows":     fields,
		"method_rows":    methods,
		"parse_failures": stats.ParseFailures,
	}).Info("Extraction completed")
	return mapping, nil
}

// analyzeClass 处理单个类
// 没有标记字段或 uid 不在登记表中的类不是错误：它从未被污染，
// 或者登记表与该制品不对应，整类跳过
func (a *Analyzer) analyzeClass(cls *classfile.Class, mapping *Mapping) {
	classUID, ok := a.findMarker(cls)
	if !ok {
		return
	}
	classRec, ok := a.session.LookupClass(classUID)
	if !ok {
		a.logger.WithField("uid", classUID).Debug("Marker uid not in session registry, skipping class")
		return
	}

	currentName := cls.Name()
	mapping.AddClass(classRec.OriginalName, currentName)

	a.resolveFields(cls, mapping)
	a.resolveMethods(cls, mapping)
}

// findMarker 在字段表中定位标记字段并取出类 uid
func (a *Analyzer) findMarker(cls *classfile.Class) (string, bool) {
	for _, f := range cls.Fields {
		if !strings.HasSuffix(f.Name, taint.MarkerField) {
			continue
		}
		if uid, ok := cls.ConstantString(f); ok {
			return uid, true
		}
	}
	return "", false
}

// resolveFields 扫描探针方法：前缀之后是字段 uid，
// 方法体内第一条字段访问指令的当前名即映射后的字段名
func (a *Analyzer) resolveFields(cls *classfile.Class, mapping *Mapping) {
	for _, m := range cls.Methods {
		idx := strings.Index(m.Name, taint.ProbePrefix)
		if idx < 0 {
			continue
		}
		uid := m.Name[idx+len(taint.ProbePrefix):]

		rec, ok := a.session.LookupField(uid)
		if !ok {
			continue
		}

		insns, err := cls.MethodInstructions(m)
		if err != nil {
			a.logger.WithError(err).WithField("method", m.Name).Debug("Failed to decode probe method, skipping")
			continue
		}
		for _, insn := range insns {
			if insn.Kind != classfile.KindFieldAccess {
				continue
			}
			mapping.AddField(rec.Owner, rec.Descriptor, rec.OriginalName, insn.Name)
			break
		}
	}
}

// resolveMethods 扫描每个方法的指令流，找到第一条内容等于已登记
// 方法 uid 的字符串常量加载；所在方法的当前名即映射后的方法名
// 被污染的方法体恰好包含一条这样的常量，出现多条时只取最先遇到的
func (a *Analyzer) resolveMethods(cls *classfile.Class, mapping *Mapping) {
	for _, m := range cls.Methods {
		insns, err := cls.MethodInstructions(m)
		if err != nil {
			a.logger.WithError(err).WithField("method", m.Name).Debug("Failed to decode method, skipping")
			continue
		}
		for _, insn := range insns {
			if insn.Kind != classfile.KindConstantLoad {
				continue
			}
			rec, ok := a.session.LookupMethod(insn.Value)
			if !ok {
				continue
			}
			mapping.AddMethod(rec.Owner, rec.Descriptor, rec.OriginalName, m.Name)
			break
		}
	}
}

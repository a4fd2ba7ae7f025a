package extract

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// RowKind 映射行类型
type RowKind string

const (
	RowClass  RowKind = "CLASS"
	RowField  RowKind = "FIELD"
	RowMethod RowKind = "METHOD"
)

// Row 一条映射记录
// CLASS 行只用 Original/Current；FIELD/METHOD 行四列齐全
type Row struct {
	Kind       RowKind `json:"kind"`
	Owner      string  `json:"owner,omitempty"`
	Descriptor string  `json:"descriptor,omitempty"`
	Original   string  `json:"original"`
	Current    string  `json:"current"`
}

// Mapping 按遇到顺序累积的映射表
type Mapping struct {
	Rows []Row `json:"rows"`
}

// NewMapping 创建空映射表
func NewMapping() *Mapping {
	return &Mapping{}
}

// AddClass 追加 CLASS 行
func (m *Mapping) AddClass(original, current string) {
	m.Rows = append(m.Rows, Row{Kind: RowClass, Original: original, Current: current})
}

// AddField 追加 FIELD 行
func (m *Mapping) AddField(owner, descriptor, original, current string) {
	m.Rows = append(m.Rows, Row{Kind: RowField, Owner: owner, Descriptor: descriptor, Original: original, Current: current})
}

// AddMethod 追加 METHOD 行
func (m *Mapping) AddMethod(owner, descriptor, original, current string) {
	m.Rows = append(m.Rows, Row{Kind: RowMethod, Owner: owner, Descriptor: descriptor, Original: original, Current: current})
}

// Counts 各类行数 (classes, fields, methods)
func (m *Mapping) Counts() (int, int, int) {
	var classes, fields, methods int
	for _, r := range m.Rows {
		switch r.Kind {
		case RowClass:
			classes++
		case RowField:
			fields++
		case RowMethod:
			methods++
		}
	}
	return classes, fields, methods
}

// WriteTiny 按 tiny v1 格式输出映射表
//
//	v1<TAB>official<TAB>named
//	CLASS<TAB>{original}<TAB>{current}
//	FIELD<TAB>{owner}<TAB>{desc}<TAB>{original}<TAB>{current}
//	METHOD<TAB>{owner}<TAB>{desc}<TAB>{original}<TAB>{current}
func (m *Mapping) WriteTiny(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, "v1\tofficial\tnamed"); err != nil {
		return err
	}
	for _, r := range m.Rows {
		var err error
		switch r.Kind {
		case RowClass:
			_, err = fmt.Fprintf(bw, "%s\t%s\t%s\n", r.Kind, r.Original, r.Current)
		default:
			_, err = fmt.Fprintf(bw, "%s\t%s\t%s\t%s\t%s\n", r.Kind, r.Owner, r.Descriptor, r.Original, r.Current)
		}
		if err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteTinyFile 将映射表写入文件
func (m *Mapping) WriteTinyFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := m.WriteTiny(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

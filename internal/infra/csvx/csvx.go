// Package csvx 读取迁移源 CSV：逗号分隔、双引号转义（"" 表示一个引号）、首行为表头。
package csvx

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Row 是一行数据：表头 -> 单元格（已 trim）。
type Row struct {
	Index  int // 数据行序号（从 1 开始，不含表头）
	Line   int // 该行在文件中的起始行号（多行单元格时用于定位）
	Values map[string]string
	Err    error // 该条记录解析失败时非 nil（Values 为空）；其余行不受影响
}

// Get 返回列值；列不存在时返回空字符串。
func (r Row) Get(col string) string { return r.Values[col] }

// ReadFile 读取整个 CSV 文件。
func ReadFile(path string) (header []string, rows []Row, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return Read(f)
}

// Read 解析 CSV。容忍列数不齐的行（缺失列视为空，多余列丢弃）；完全空白的行被跳过。
// 单条记录格式错误（如裸引号）时记为带 Err 的行并继续读取；只有表头错误或 I/O 错误才整体失败。
func Read(r io.Reader) (header []string, rows []Row, err error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	rec, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, errors.New("CSV 为空（缺少表头）")
	}
	if err != nil {
		return nil, nil, err
	}
	header = make([]string, len(rec))
	for i, h := range rec {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		header[i] = strings.TrimSpace(h)
	}

	for idx := 1; ; {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			rows = append(rows, Row{Index: idx, Line: pe.StartLine, Err: fmt.Errorf("第 %d 条数据解析失败：%w", idx, err)})
			idx++
			continue
		}
		if err != nil {
			return header, rows, fmt.Errorf("第 %d 条数据读取失败：%w", idx, err)
		}
		line, _ := cr.FieldPos(0)

		vals := make(map[string]string, len(header))
		blank := true
		for i, h := range header {
			if h == "" || i >= len(rec) {
				continue
			}
			v := strings.TrimSpace(rec[i])
			if v != "" {
				blank = false
			}
			vals[h] = v
		}
		if blank {
			continue
		}
		rows = append(rows, Row{Index: idx, Line: line, Values: vals})
		idx++
	}
	return header, rows, nil
}

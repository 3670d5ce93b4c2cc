// Package mapping 把 CSV 行按字段定义组装为 CMS 记录。
package mapping

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/goliatone/go-slug"

	"github.com/John-Robertt/CMSMIG/internal/blocks"
	"github.com/John-Robertt/CMSMIG/internal/domain"
	"github.com/John-Robertt/CMSMIG/internal/infra/csvx"
	"github.com/John-Robertt/CMSMIG/internal/resolve"
)

type Kind string

const (
	KindString       Kind = "string"
	KindInt          Kind = "int"
	KindFloat        Kind = "float"
	KindBool         Kind = "bool"
	KindConst        Kind = "const"
	KindSlug         Kind = "slug"
	KindBlocks       Kind = "blocks"
	KindMarkdown     Kind = "markdown"
	KindMedia        Kind = "media"
	KindMediaList    Kind = "media_list"
	KindRelation     Kind = "relation"
	KindRelationList Kind = "relation_list"
)

// Kinds 返回所有合法的字段类型（用于配置校验）。
func Kinds() []any {
	return []any{
		KindString, KindInt, KindFloat, KindBool, KindConst, KindSlug, KindBlocks,
		KindMarkdown, KindMedia, KindMediaList, KindRelation, KindRelationList,
	}
}

// NeedsRef 表示该类型需要引用表。
func (k Kind) NeedsRef() bool {
	switch k {
	case KindMedia, KindMediaList, KindRelation, KindRelationList:
		return true
	default:
		return false
	}
}

func (k Kind) isList() bool { return k == KindMediaList || k == KindRelationList }

const DefaultSeparator = ";"

// Field 描述一个 CMS 字段如何从 CSV 行得到。
type Field struct {
	Name   string `mapstructure:"field" json:"field"`   // CMS 字段名
	Column string `mapstructure:"column" json:"column"` // CSV 列名
	Type   Kind   `mapstructure:"type" json:"type"`

	Ref   string `mapstructure:"ref" json:"ref,omitempty"`     // media/relation：引用表名
	From  string `mapstructure:"from" json:"from,omitempty"`   // slug：列为空时从该列生成
	Value any    `mapstructure:"value" json:"value,omitempty"` // const：固定值
	// Default 为单元格为空时写入的值；为空则省略该字段。
	Default any    `mapstructure:"default" json:"default,omitempty"`
	Sep     string `mapstructure:"sep" json:"sep,omitempty"` // *_list：分隔符，默认 ";"
	// First 为 true 时列表只保留第一个解析成功的 ID（一对一关系）。
	First bool `mapstructure:"first" json:"first,omitempty"`
	// AsString 为 true 时数字以字符串写出（CMS 字段本身是 string）。
	AsString bool `mapstructure:"as_string" json:"as_string,omitempty"`
}

// Result 是一行的映射结果。
type Result struct {
	Record domain.Record
	Issues []domain.Issue
}

// Mapper 持有字段定义与引用表解析器；可以在多行之间复用。
type Mapper struct {
	fields    []Field
	resolvers map[string]*resolve.Resolver
}

// New 校验字段定义中引用的解析器都存在。
func New(fields []Field, resolvers map[string]*resolve.Resolver) (*Mapper, error) {
	for _, f := range fields {
		if strings.TrimSpace(f.Name) == "" {
			return nil, fmt.Errorf("字段缺少 field 名称（column=%q）", f.Column)
		}
		if f.Type.NeedsRef() {
			if _, ok := resolvers[strings.ToLower(f.Ref)]; !ok {
				return nil, fmt.Errorf("字段 %q 引用了不存在的引用表 %q", f.Name, f.Ref)
			}
		}
	}
	return &Mapper{fields: fields, resolvers: resolvers}, nil
}

// Map 组装一行记录。空单元格省略字段（const 与 default 除外）；无法解析的值记为 issue。
func (m *Mapper) Map(row csvx.Row) Result {
	res := Result{Record: domain.Record{}}
	for _, f := range m.fields {
		raw := row.Get(f.Column)
		if f.Type == KindSlug && raw == "" && f.From != "" {
			raw = generateSlug(row.Get(f.From))
		}

		v, ok, issues := m.value(f, raw)
		res.Issues = append(res.Issues, issues...)
		switch {
		case ok:
			res.Record[f.Name] = v
		case f.Default != nil:
			res.Record[f.Name] = f.Default
		}
	}
	return res
}

func (m *Mapper) value(f Field, raw string) (any, bool, []domain.Issue) {
	if f.Type == KindConst {
		return f.Value, f.Value != nil, nil
	}
	if raw == "" {
		return nil, false, nil
	}

	invalid := []domain.Issue{{Field: f.Name, Code: domain.IssueInvalidValue, Value: raw}}
	switch f.Type {
	case KindString, KindSlug:
		return raw, true, nil
	case KindInt:
		n, ok := ParseCount(raw)
		if !ok {
			return nil, false, invalid
		}
		if f.AsString {
			return strconv.FormatInt(n, 10), true, nil
		}
		return n, true, nil
	case KindFloat:
		x, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
		if err != nil {
			return nil, false, invalid
		}
		return x, true, nil
	case KindBool:
		b, ok := parseBool(raw)
		if !ok {
			return nil, false, invalid
		}
		return b, true, nil
	case KindBlocks:
		bs := blocks.Convert(raw)
		return blocks.Nodes(bs), len(bs) > 0, nil
	case KindMarkdown:
		bs := blocks.ConvertMarkdown(raw)
		return blocks.Nodes(bs), len(bs) > 0, nil
	case KindMedia, KindRelation, KindMediaList, KindRelationList:
		return m.refs(f, raw)
	default:
		return nil, false, []domain.Issue{{Field: f.Name, Code: domain.IssueInvalidValue, Value: "未知字段类型 " + string(f.Type)}}
	}
}

func (m *Mapper) refs(f Field, raw string) (any, bool, []domain.Issue) {
	r := m.resolvers[strings.ToLower(f.Ref)]

	values := []string{raw}
	if f.Type.isList() {
		sep := f.Sep
		if sep == "" {
			sep = DefaultSeparator
		}
		values = strings.Split(raw, sep)
	}

	var ids []domain.RefID
	var issues []domain.Issue
	seen := map[domain.RefID]struct{}{}
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		res := r.Resolve(v)
		switch res.Status {
		case resolve.StatusResolved:
			if _, ok := seen[res.ID]; !ok {
				seen[res.ID] = struct{}{}
				ids = append(ids, res.ID)
			}
		case resolve.StatusAmbiguous:
			issues = append(issues, domain.Issue{Field: f.Name, Code: domain.IssueAmbiguousRef, Value: res.Key})
		default:
			issues = append(issues, domain.Issue{Field: f.Name, Code: domain.IssueUnresolvedRef, Value: res.Key})
		}
	}

	if len(ids) == 0 {
		return nil, false, issues
	}
	if !f.Type.isList() || f.First {
		return ids[0], true, issues
	}
	return ids, true, issues
}

var numRE = regexp.MustCompile(`(-?)(\d+(?:\.\d+)?)([kKmM])?\b`)

// ParseCount 从 "1,234"、"2.5k"、"Top 5 spots" 这类文本中取第一个数字（k/m 后缀按千/百万放大）。
// 紧贴字母或数字的 '-' 视为连字符而不是负号；超出 int64 范围返回 false。
func ParseCount(s string) (int64, bool) {
	s = strings.ReplaceAll(s, ",", "")
	loc := numRE.FindStringSubmatchIndex(s)
	if loc == nil {
		return 0, false
	}
	neg := loc[3] > loc[2] && (loc[2] == 0 || !isWordByte(s[loc[2]-1]))
	digits, suffix := s[loc[4]:loc[5]], ""
	if loc[6] >= 0 {
		suffix = strings.ToLower(s[loc[6]:loc[7]])
	}
	if neg {
		digits = "-" + digits
	}

	if suffix == "" && !strings.Contains(digits, ".") {
		n, err := strconv.ParseInt(digits, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}

	x, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return 0, false
	}
	switch suffix {
	case "k":
		x *= 1_000
	case "m":
		x *= 1_000_000
	}
	if x >= math.MaxInt64 || x <= math.MinInt64 {
		return 0, false
	}
	return int64(x), true
}

func isWordByte(b byte) bool {
	return b == '_' || b == '.' || ('0' <= b && b <= '9') || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "1":
		return true, true
	case "false", "no", "n", "0":
		return false, true
	default:
		return false, false
	}
}

// generateSlug 用名称列生成 slug；生成失败时返回空字符串（字段被省略）。
func generateSlug(name string) string {
	if strings.TrimSpace(name) == "" {
		return ""
	}
	s, err := slug.Normalize(name)
	if err != nil {
		return ""
	}
	return s
}

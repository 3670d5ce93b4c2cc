package resolve

import (
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/John-Robertt/CMSMIG/internal/domain"
)

const (
	DefaultHashPrefixLen = 24
	DefaultMinFuzzyLen   = 4
)

// FuzzyMode 控制最后一步子串匹配的行为。
type FuzzyMode string

const (
	FuzzyOff    FuzzyMode = "off"    // 不做子串匹配
	FuzzyFirst  FuzzyMode = "first"  // 按插入顺序取第一个命中
	FuzzyUnique FuzzyMode = "unique" // 所有命中指向同一 ID 才算解析成功，否则 ambiguous
)

// ParseFuzzyMode 解析配置值；空字符串视为 off。
func ParseFuzzyMode(s string) (FuzzyMode, error) {
	switch FuzzyMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", FuzzyOff:
		return FuzzyOff, nil
	case FuzzyFirst:
		return FuzzyFirst, nil
	case FuzzyUnique:
		return FuzzyUnique, nil
	default:
		return "", fmt.Errorf("未知 fuzzy 模式：%q（可选 off/first/unique）", s)
	}
}

type Options struct {
	// HashPrefixLen 为哈希前缀匹配的长度；0 使用默认值 24，负数关闭该步骤。
	HashPrefixLen int
	Fuzzy         FuzzyMode
	// MinFuzzyLen 为参与子串匹配的最短长度（查找值与键都需满足）；<=0 使用默认值。
	MinFuzzyLen int
}

func (o Options) withDefaults() Options {
	if o.HashPrefixLen == 0 {
		o.HashPrefixLen = DefaultHashPrefixLen
	}
	if o.HashPrefixLen < 0 {
		o.HashPrefixLen = 0
	}
	if o.Fuzzy == "" {
		o.Fuzzy = FuzzyOff
	}
	if o.MinFuzzyLen <= 0 {
		o.MinFuzzyLen = DefaultMinFuzzyLen
	}
	return o
}

type Status string

const (
	StatusResolved   Status = "resolved"
	StatusUnresolved Status = "unresolved"
	StatusAmbiguous  Status = "ambiguous"
)

// Strategy 标记命中的是哪一步。
type Strategy string

const (
	StrategyExact      Strategy = "exact"
	StrategyNoExt      Strategy = "no_ext"
	StrategyHashPrefix Strategy = "hash_prefix"
	StrategyFuzzy      Strategy = "fuzzy"
)

// Result 是一次解析的结果；"找不到" 是正常结果而不是错误。
type Result struct {
	Status   Status
	ID       domain.RefID
	Strategy Strategy
	// Key 是规范化后的查找值（也是诊断里记录的值）。
	Key string
	// Candidates 仅在 ambiguous 时非空（已排序）。
	Candidates []domain.RefID
}

func (r Result) OK() bool { return r.Status == StatusResolved }

// Resolver 在一张引用表上执行 精确 -> 去扩展名 -> 哈希前缀 -> 子串 的级联解析。
type Resolver struct {
	name  string
	table *Table
	opts  Options
	diag  *Diagnostics
}

func New(name string, t *Table, opts Options) *Resolver {
	if t == nil {
		t = NewTable()
	}
	return &Resolver{name: name, table: t, opts: opts.withDefaults(), diag: NewDiagnostics()}
}

func (r *Resolver) Name() string              { return r.name }
func (r *Resolver) Table() *Table             { return r.table }
func (r *Resolver) Diagnostics() *Diagnostics { return r.diag }

// Resolve 解析一个原始引用值。空白输入直接返回 unresolved，且不计入诊断。
// 规范化后为空的非空白输入（例如没有 path 段的 URL）记为 unresolved，诊断里保留原值。
func (r *Resolver) Resolve(raw string) Result {
	key := Normalize(raw)
	if key == "" {
		k := normKey(raw)
		if k == "" {
			return Result{Status: StatusUnresolved}
		}
		r.diag.recordUnresolved(k)
		return Result{Status: StatusUnresolved, Key: k}
	}

	if id, ok := r.table.Lookup(key); ok {
		return resolved(key, id, StrategyExact)
	}

	stem := stripExt(key)
	if stem != key {
		if id, ok := r.table.Lookup(stem); ok {
			return resolved(key, id, StrategyNoExt)
		}
	}

	if prefix := hashPrefix(key, r.opts.HashPrefixLen); prefix != "" {
		for _, k := range r.table.keys {
			if strings.HasPrefix(k, prefix) {
				return resolved(key, r.table.index[k], StrategyHashPrefix)
			}
		}
	}

	if r.opts.Fuzzy != FuzzyOff {
		if res, ok := r.fuzzy(key, stem); ok {
			return res
		}
	}

	r.diag.recordUnresolved(key)
	return Result{Status: StatusUnresolved, Key: key}
}

func (r *Resolver) fuzzy(key, stem string) (Result, bool) {
	if len(stem) < r.opts.MinFuzzyLen {
		return Result{}, false
	}

	var ids []domain.RefID
	seen := map[domain.RefID]struct{}{}
	for _, k := range r.table.keys {
		if len(k) < r.opts.MinFuzzyLen {
			continue
		}
		if !strings.Contains(k, stem) && !strings.Contains(stem, k) {
			continue
		}
		id := r.table.index[k]
		if r.opts.Fuzzy == FuzzyFirst {
			return resolved(key, id, StrategyFuzzy), true
		}
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	switch len(ids) {
	case 0:
		return Result{}, false
	case 1:
		return resolved(key, ids[0], StrategyFuzzy), true
	default:
		sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
		r.diag.recordAmbiguous(key, ids)
		return Result{Status: StatusAmbiguous, Key: key, Candidates: ids}, true
	}
}

func resolved(key string, id domain.RefID, s Strategy) Result {
	return Result{Status: StatusResolved, ID: id, Strategy: s, Key: key}
}

// Normalize 把原始引用值规范化为查找值：
// URL（scheme://host/... 或 //host/...）取最后一个 path 段并做 URL 解码；没有 path 段时为空。
// 最后 trim + 小写。
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") || strings.HasPrefix(s, "//") {
		if u, err := url.Parse(s); err == nil && u.Host != "" {
			seg := path.Base(u.EscapedPath())
			if seg == "." || seg == "/" {
				return ""
			}
			if dec, err := url.PathUnescape(seg); err == nil {
				seg = dec
			}
			s = seg
		}
	}
	return normKey(s)
}

// Package resolve 把松散的外部引用（URL、文件名、slug、名称）解析为引用表中的规范 ID。
package resolve

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/John-Robertt/CMSMIG/internal/domain"
)

// Entry 是引用数据集中的一条记录：多个查找键指向同一个 ID。
type Entry struct {
	Keys []string
	ID   domain.RefID
}

// Table 是 查找键 -> ID 的只读映射（构建后不再修改）。
//
// 约束：
// - 键统一 trim + 小写
// - 先写入者胜出，后续重复键被忽略
// - 记录插入顺序，所有扫描步骤按该顺序进行
type Table struct {
	keys  []string
	index map[string]domain.RefID
}

func NewTable() *Table {
	return &Table{index: map[string]domain.RefID{}}
}

// BuildTable 按输入顺序注册所有条目的所有键。
func BuildTable(entries []Entry) *Table {
	t := NewTable()
	for _, e := range entries {
		for _, k := range e.Keys {
			t.Add(k, e.ID)
		}
	}
	return t
}

// Add 注册一个键；键为空、ID 为空或键已存在时返回 false。
func (t *Table) Add(key string, id domain.RefID) bool {
	k := normKey(key)
	if k == "" || id.IsZero() {
		return false
	}
	if _, ok := t.index[k]; ok {
		return false
	}
	t.index[k] = id
	t.keys = append(t.keys, k)
	return true
}

func (t *Table) Lookup(key string) (domain.RefID, bool) {
	id, ok := t.index[normKey(key)]
	return id, ok
}

func (t *Table) Len() int { return len(t.keys) }

// Keys 返回插入顺序的键副本。
func (t *Table) Keys() []string {
	return append([]string(nil), t.keys...)
}

func normKey(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// FileKeys 为媒体文件名派生查找键：全名、去扩展名、前 hashLen 位十六进制前缀。
func FileKeys(name string, hashLen int) []string {
	k := normKey(name)
	if k == "" {
		return nil
	}
	return uniqueNonEmpty(k, stripExt(k), hashPrefix(k, hashLen))
}

// NameKeys 为实体名称派生查找键：小写名称及其去重音形式（Café -> cafe）。
func NameKeys(name string) []string {
	k := normKey(name)
	if k == "" {
		return nil
	}
	return uniqueNonEmpty(k, foldAccents(k))
}

var extRE = regexp.MustCompile(`\.[a-z0-9]{1,5}$`)

// stripExt 去掉形如 ".jpg" 的扩展名；"st. louis" 之类不视为扩展名。
func stripExt(k string) string {
	loc := extRE.FindStringIndex(k)
	if loc == nil || loc[0] == 0 {
		return k
	}
	return k[:loc[0]]
}

// hashPrefix 返回 k 的前 n 位（仅当这 n 位全部是小写十六进制字符）。
func hashPrefix(k string, n int) string {
	if n <= 0 || len(k) < n {
		return ""
	}
	for i := 0; i < n; i++ {
		c := k[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return ""
		}
	}
	return k[:n]
}

func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func uniqueNonEmpty(in ...string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

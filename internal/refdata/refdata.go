// Package refdata 加载引用数据集（媒体库文件列表、已有实体列表），并把它们转成引用表条目。
package refdata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/John-Robertt/CMSMIG/internal/domain"
	"github.com/John-Robertt/CMSMIG/internal/resolve"
)

type Kind string

const (
	KindMedia  Kind = "media"  // [{id, name, url?}]，按文件名匹配
	KindEntity Kind = "entity" // [{documentId, <key_fields>...}]，按名称/slug 匹配
)

const DefaultIDField = "documentId"

// Source 描述一个引用数据集如何解读。
type Source struct {
	Name      string
	Kind      Kind
	KeyFields []string // entity：用作查找键的字段，按顺序注册
	IDField   string   // entity：ID 字段，默认 documentId
	// HashPrefixLen：media 的哈希前缀键长度；<=0 不注册前缀键。
	HashPrefixLen int
}

// Load 解析数据集 JSON（裸数组或 {"data": [...]} 包裹），按数组顺序生成引用表条目。
// 缺少 ID 或没有任何键的记录被跳过；skipped 返回被跳过的条数。
func Load(data []byte, src Source) (entries []resolve.Entry, skipped int, err error) {
	items, err := decodeItems(data)
	if err != nil {
		return nil, 0, fmt.Errorf("引用数据集 %q 解析失败：%w", src.Name, err)
	}

	switch src.Kind {
	case KindMedia:
		for _, it := range items {
			e, ok := mediaEntry(it, src.HashPrefixLen)
			if !ok {
				skipped++
				continue
			}
			entries = append(entries, e)
		}
	case KindEntity:
		if len(src.KeyFields) == 0 {
			return nil, 0, fmt.Errorf("引用数据集 %q 缺少 key_fields", src.Name)
		}
		idField := strings.TrimSpace(src.IDField)
		if idField == "" {
			idField = DefaultIDField
		}
		for _, it := range items {
			e, ok := entityEntry(it, src.KeyFields, idField)
			if !ok {
				skipped++
				continue
			}
			entries = append(entries, e)
		}
	default:
		return nil, 0, fmt.Errorf("引用数据集 %q：未知 kind %q", src.Name, src.Kind)
	}
	return entries, skipped, nil
}

func decodeItems(data []byte) ([]map[string]any, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("内容为空")
	}

	var raw []json.RawMessage
	if data[0] == '{' {
		var env struct {
			Data []json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, err
		}
		raw = env.Data
	} else if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		dec := json.NewDecoder(bytes.NewReader(r))
		dec.UseNumber()
		var m map[string]any
		if err := dec.Decode(&m); err != nil {
			return nil, err
		}
		// 兼容 {id, attributes: {...}} 形态：把 attributes 平铺到顶层（顶层字段优先）。
		if attrs, ok := m["attributes"].(map[string]any); ok {
			for k, v := range attrs {
				if _, exists := m[k]; !exists {
					m[k] = v
				}
			}
		}
		out = append(out, m)
	}
	return out, nil
}

func mediaEntry(it map[string]any, hashLen int) (resolve.Entry, bool) {
	id, ok := refID(it["id"])
	if !ok {
		return resolve.Entry{}, false
	}
	var keys []string
	if name, ok := it["name"].(string); ok {
		keys = append(keys, resolve.FileKeys(name, hashLen)...)
	}
	// CMS 存储后的文件名（url 最后一段）常与上传时的 name 不同，一并注册。
	if u, ok := it["url"].(string); ok && strings.TrimSpace(u) != "" {
		keys = append(keys, resolve.FileKeys(path.Base(resolve.Normalize(u)), hashLen)...)
	}
	if len(keys) == 0 {
		return resolve.Entry{}, false
	}
	return resolve.Entry{Keys: keys, ID: id}, true
}

func entityEntry(it map[string]any, keyFields []string, idField string) (resolve.Entry, bool) {
	id, ok := refID(it[idField])
	if !ok {
		return resolve.Entry{}, false
	}
	var keys []string
	for _, f := range keyFields {
		if s := scalarString(it[f]); s != "" {
			keys = append(keys, resolve.NameKeys(s)...)
		}
	}
	if len(keys) == 0 {
		return resolve.Entry{}, false
	}
	return resolve.Entry{Keys: keys, ID: id}, true
}

func refID(v any) (domain.RefID, bool) {
	switch x := v.(type) {
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return domain.RefID{}, false
		}
		return domain.NumID(n), true
	case string:
		if strings.TrimSpace(x) == "" {
			return domain.RefID{}, false
		}
		return domain.StrID(x), true
	default:
		return domain.RefID{}, false
	}
}

func scalarString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}

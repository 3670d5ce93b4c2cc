package refdata

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/John-Robertt/CMSMIG/internal/domain"
)

// MediaFile 是媒体库里的一个文件：上传接口的响应，或按文件名查询到的已有文件。
type MediaFile struct {
	ID   domain.RefID `json:"id"`
	Name string       `json:"name"`
	URL  string       `json:"url,omitempty"`
}

// MergeMedia 把 files 并入媒体数据集 existing（可为空），返回裸数组 JSON 与新增条数。
// 已有条目保持原有内容与顺序；id 已存在的文件不重复追加。
func MergeMedia(existing []byte, files []MediaFile) ([]byte, int, error) {
	var out []json.RawMessage
	seen := map[string]bool{}

	if len(bytes.TrimSpace(existing)) > 0 {
		items, err := decodeItems(existing)
		if err != nil {
			return nil, 0, fmt.Errorf("已有媒体数据集解析失败：%w", err)
		}
		for _, it := range items {
			if id, ok := refID(it["id"]); ok {
				seen[id.String()] = true
			}
			b, err := json.Marshal(it)
			if err != nil {
				return nil, 0, err
			}
			out = append(out, b)
		}
	}

	added := 0
	for _, f := range files {
		if f.ID.IsZero() || seen[f.ID.String()] {
			continue
		}
		seen[f.ID.String()] = true
		b, err := json.Marshal(f)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, b)
		added++
	}

	if out == nil {
		out = []json.RawMessage{}
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, 0, err
	}
	return append(b, '\n'), added, nil
}

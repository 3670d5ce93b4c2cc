package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RefID 是引用表里的规范 ID：媒体为数字 id，实体为字符串 documentId。
//
// JSON 编码保持原始形态（数字输出为 number，字符串输出为 string），
// 这样写入记录的 payload 与 CMS 期望一致。
type RefID struct {
	v   string
	num bool
}

func NumID(n int64) RefID { return RefID{v: strconv.FormatInt(n, 10), num: true} }

func StrID(s string) RefID { return RefID{v: strings.TrimSpace(s)} }

func (id RefID) IsZero() bool    { return id.v == "" }
func (id RefID) IsNumeric() bool { return id.num }
func (id RefID) String() string  { return id.v }

func (id RefID) MarshalJSON() ([]byte, error) {
	if id.v == "" {
		return []byte("null"), nil
	}
	if id.num {
		return []byte(id.v), nil
	}
	return json.Marshal(id.v)
}

func (id *RefID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*id = RefID{}
		return nil
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = StrID(s)
		return nil
	default:
		n, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return fmt.Errorf("ref id 不是整数或字符串：%s", string(b))
		}
		*id = NumID(n)
		return nil
	}
}

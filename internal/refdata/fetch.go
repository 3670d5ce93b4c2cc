package refdata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/John-Robertt/CMSMIG/internal/infra/httpx"
)

const (
	DefaultPageSize = 100
	maxPages        = 10000
)

// Fetch 分页拉取 {baseURL}/api/{endpoint} 的全部记录，返回合并后的 JSON 数组。
//
// 分页规则：
// - {"data": [...], "meta": {"pagination": {"pageCount": n}}}：拉到 pageCount 为止
// - 没有 meta 时：本页不足 pageSize 即结束
// - 裸数组：本页不足 pageSize、或与上一页内容相同（端点忽略分页参数）即结束
func Fetch(ctx context.Context, c *http.Client, baseURL, endpoint string, pageSize int, log logrus.FieldLogger) ([]byte, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	var all []json.RawMessage
	var prevFirst []byte
	for page := 1; page <= maxPages; page++ {
		u, err := pageURL(baseURL, endpoint, page, pageSize)
		if err != nil {
			return nil, err
		}
		body, err := get(ctx, c, u)
		if err != nil {
			return nil, err
		}

		items, pageCount, isArray, err := decodePage(body)
		if err != nil {
			return nil, fmt.Errorf("解析 %s 失败：%w", u, err)
		}
		if isArray && len(items) > 0 && prevFirst != nil && bytes.Equal(prevFirst, items[0]) {
			break
		}
		all = append(all, items...)
		if log != nil {
			log.WithFields(logrus.Fields{"endpoint": endpoint, "page": page, "items": len(items), "total": len(all)}).Debug("拉取引用数据分页")
		}

		if len(items) > 0 {
			prevFirst = items[0]
		}
		switch {
		case pageCount > 0:
			if page >= pageCount {
				return marshalAll(all)
			}
		case len(items) < pageSize:
			return marshalAll(all)
		}
	}
	return marshalAll(all)
}

func marshalAll(all []json.RawMessage) ([]byte, error) {
	if all == nil {
		all = []json.RawMessage{}
	}
	return json.Marshal(all)
}

func decodePage(body []byte) (items []json.RawMessage, pageCount int, isArray bool, err error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		err = json.Unmarshal(body, &items)
		return items, 0, true, err
	}
	var env struct {
		Data []json.RawMessage `json:"data"`
		Meta struct {
			Pagination struct {
				PageCount int `json:"pageCount"`
			} `json:"pagination"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, 0, false, err
	}
	return env.Data, env.Meta.Pagination.PageCount, false, nil
}

// pageURL 拼出带分页参数的 URL；endpoint 自带的 query 会被保留。
func pageURL(baseURL, endpoint string, page, pageSize int) (string, error) {
	u, err := httpx.APIURL(baseURL, endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("pagination[page]", strconv.Itoa(page))
	q.Set("pagination[pageSize]", strconv.Itoa(pageSize))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func get(ctx context.Context, c *http.Client, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := httpx.CheckResponse(resp); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

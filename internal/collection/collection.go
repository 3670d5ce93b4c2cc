// Package collection 生成 Postman v2.1 形态的离线导入集合。
package collection

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/John-Robertt/CMSMIG/internal/infra/fsx"
)

const (
	SchemaURL = "https://schema.getpostman.com/json/collection/v2.1.0/collection.json"

	defaultBaseURL   = "http://localhost:1337"
	tokenPlaceholder = "YOUR_API_TOKEN_HERE"
)

// 用于派生确定性 _postman_id 的命名空间（同名集合多次生成 ID 不变）。
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/John-Robertt/CMSMIG/collection"))

type Collection struct {
	Info     Info       `json:"info"`
	Item     []Item     `json:"item"`
	Variable []Variable `json:"variable"`
}

type Info struct {
	PostmanID   string `json:"_postman_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Schema      string `json:"schema"`
}

type Item struct {
	Name     string   `json:"name"`
	Request  Request  `json:"request"`
	Response []string `json:"response"`
}

type Request struct {
	Method string   `json:"method"`
	Header []Header `json:"header"`
	Body   Body     `json:"body"`
	URL    URL      `json:"url"`
}

type Header struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Body struct {
	Mode string `json:"mode"`
	Raw  string `json:"raw"`
}

type URL struct {
	Raw  string   `json:"raw"`
	Host []string `json:"host"`
	Path []string `json:"path"`
}

type Variable struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Type  string `json:"type"`
}

// Entry 是集合中的一个请求：展示名 + 请求体。
// DocumentID 非空时生成 PUT {endpoint}/{DocumentID} 更新请求，否则为 POST 新建。
type Entry struct {
	Name       string
	Body       any
	DocumentID string
}

type Options struct {
	Endpoint string // 例如 "explores"
	// BaseURL 写入集合变量 baseUrl 的默认值；空则使用 http://localhost:1337。
	BaseURL string
	// Offset 为条目编号的起始偏移（分片时保持全局编号连续）。
	Offset int
}

// Build 生成集合。请求体以两空格缩进的 JSON 写入 raw。
func Build(name string, entries []Entry, opts Options) (Collection, error) {
	ep := strings.Trim(strings.TrimSpace(opts.Endpoint), "/")
	if ep == "" {
		return Collection{}, fmt.Errorf("endpoint 不能为空")
	}
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		base = defaultBaseURL
	}

	c := Collection{
		Info: Info{
			PostmanID:   uuid.NewSHA1(idNamespace, []byte(name)).String(),
			Name:        name,
			Description: fmt.Sprintf("%d %s entries for bulk import", len(entries), ep),
			Schema:      SchemaURL,
		},
		Item: make([]Item, 0, len(entries)),
		Variable: []Variable{
			{Key: "baseUrl", Value: strings.TrimRight(base, "/"), Type: "string"},
			{Key: "apiToken", Value: tokenPlaceholder, Type: "string"},
		},
	}

	for i, e := range entries {
		raw, err := json.MarshalIndent(e.Body, "", "  ")
		if err != nil {
			return Collection{}, fmt.Errorf("第 %d 条请求体编码失败：%w", opts.Offset+i+1, err)
		}
		title := strings.TrimSpace(e.Name)
		if title == "" {
			title = "Untitled"
		}
		method, raw, path := "POST", "{{baseUrl}}/api/"+ep, append([]string{"api"}, strings.Split(ep, "/")...)
		if id := strings.TrimSpace(e.DocumentID); id != "" {
			method, raw, path = "PUT", raw+"/"+id, append(path, id)
			title = "UPDATE: " + title
		}
		c.Item = append(c.Item, Item{
			Name: fmt.Sprintf("%d. %s", opts.Offset+i+1, title),
			Request: Request{
				Method: method,
				Header: []Header{
					{Key: "Content-Type", Value: "application/json"},
					{Key: "Authorization", Value: "Bearer {{apiToken}}"},
				},
				Body: Body{Mode: "raw", Raw: string(raw)},
				URL: URL{
					Raw:  raw,
					Host: []string{"{{baseUrl}}"},
					Path: path,
				},
			},
			Response: []string{},
		})
	}
	return c, nil
}

// Split 把 entries 按 size 切分；size<=0 时不切分。
func Split(entries []Entry, size int) [][]Entry {
	if size <= 0 || len(entries) <= size {
		return [][]Entry{entries}
	}
	var out [][]Entry
	for start := 0; start < len(entries); start += size {
		end := min(start+size, len(entries))
		out = append(out, entries[start:end])
	}
	return out
}

var unsafeNameRE = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// FileName 返回集合文件名：<name>.postman_collection.json 或 <name>_part_<i>_of_<n>.postman_collection.json。
func FileName(name string, part, total int) string {
	n := strings.Trim(unsafeNameRE.ReplaceAllString(strings.TrimSpace(name), "_"), "_")
	if n == "" {
		n = "collection"
	}
	if total > 1 {
		n = fmt.Sprintf("%s_part_%d_of_%d", n, part, total)
	}
	return n + ".postman_collection.json"
}

// Write 把集合写到 dir/fileName；overwrite=false 时目标已存在返回 os.ErrExist。
func Write(dir, fileName string, c Collection, overwrite bool) error {
	return fsx.WriteJSON(dir, fileName, c, overwrite)
}

// Plan 描述一个任务要写出的全部集合文件。
type Plan struct {
	Name     string // 集合名（也是文件名前缀）
	Options  Options
	PartSize int // >0 时完整集合按该大小分片
	TestSize int // >0 时额外生成只含前 TestSize 条的测试集合
}

// WriteAll 写出完整集合（可能分片）与可选的测试集合，返回写出的文件路径（相对 dir 的文件名）。
// 遇到第一个写入错误即返回，已写出的文件名仍然返回。
func WriteAll(dir string, entries []Entry, p Plan, overwrite bool) ([]string, error) {
	var written []string

	parts := Split(entries, p.PartSize)
	for i, part := range parts {
		opts := p.Options
		opts.Offset = i * max(p.PartSize, 0)
		name := p.Name
		if len(parts) > 1 {
			name = fmt.Sprintf("%s (part %d/%d)", p.Name, i+1, len(parts))
		}
		c, err := Build(name, part, opts)
		if err != nil {
			return written, err
		}
		fn := FileName(p.Name, i+1, len(parts))
		if err := Write(dir, fn, c, overwrite); err != nil {
			return written, fmt.Errorf("写出 %s 失败：%w", fn, err)
		}
		written = append(written, fn)
	}

	if p.TestSize > 0 && len(entries) > 0 {
		n := min(p.TestSize, len(entries))
		testName := fmt.Sprintf("%s_test_%d", p.Name, n)
		c, err := Build(testName, entries[:n], p.Options)
		if err != nil {
			return written, err
		}
		fn := FileName(testName, 1, 1)
		if err := Write(dir, fn, c, overwrite); err != nil {
			return written, fmt.Errorf("写出 %s 失败：%w", fn, err)
		}
		written = append(written, fn)
	}
	return written, nil
}

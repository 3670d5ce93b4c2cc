// Package media 把 CSV 中引用的图片下载到本地、按需压缩，再上传到 CMS 媒体库。
package media

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/John-Robertt/CMSMIG/internal/infra/csvx"
)

// 本地目录（相对工作根目录 <path>）。
const (
	AssetsDir     = "assets"
	CompressedDir = "compressed-images"
)

// Column 是一个含图片 URL 的 CSV 列；Sep 非空时单元格按 Sep 拆成多个 URL。
type Column struct {
	Name string
	Sep  string
}

// Asset 是一个待处理的图片：来源 URL + 本地文件名（也是上传到媒体库的文件名）。
type Asset struct {
	URL      string
	FileName string
}

// CellValues 返回一行里各列的原始值（列表列已拆分、已 trim、空值丢弃）。
func CellValues(row csvx.Row, cols []Column) []string {
	var out []string
	for _, c := range cols {
		raw := row.Get(c.Name)
		parts := []string{raw}
		if c.Sep != "" {
			parts = strings.Split(raw, c.Sep)
		}
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// Extract 过滤出合法的图片 URL（http/https 且带 host），去重后按字典序返回。
func Extract(values []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if !validURL(v) {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func validURL(s string) bool {
	switch strings.ToLower(s) {
	case "", "null", "none":
		return false
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// Plan 为每个 URL 分配文件名；重名时在扩展名前追加 _1、_2……（按 urls 的顺序分配，结果稳定）。
func Plan(urls []string) []Asset {
	used := map[string]bool{}
	out := make([]Asset, 0, len(urls))
	for _, u := range urls {
		name := FileName(u)
		stem, ext := strings.TrimSuffix(name, path.Ext(name)), path.Ext(name)
		for n := 1; used[strings.ToLower(name)]; n++ {
			name = fmt.Sprintf("%s_%d%s", stem, n, ext)
		}
		used[strings.ToLower(name)] = true
		out = append(out, Asset{URL: u, FileName: name})
	}
	return out
}

var (
	unsafeCharsRE = regexp.MustCompile(`[<>:"/\\|?*]`)
	spaceRE       = regexp.MustCompile(`\s+`)
)

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".svg": true}

// FileName 从 URL 推导本地文件名：取 path 最后一段（已反转义、去掉扩展名）并清理非法字符，
// 扩展名取自 URL（仅限常见图片格式，否则用 .jpg）。没有可用名称时用 image_<md5 前 8 位>。
func FileName(rawURL string) string {
	var base string
	if u, err := url.Parse(rawURL); err == nil {
		base = path.Base(u.Path)
	}
	if base == "." || base == "/" {
		base = ""
	}

	ext := strings.ToLower(path.Ext(base))
	if !imageExts[ext] {
		ext = ".jpg"
	}
	stem := strings.TrimSuffix(base, path.Ext(base))
	stem = unsafeCharsRE.ReplaceAllString(stem, "_")
	stem = spaceRE.ReplaceAllString(stem, "_")
	stem = strings.Trim(stem, "._")
	if stem == "" {
		sum := md5.Sum([]byte(rawURL))
		stem = "image_" + hex.EncodeToString(sum[:])[:8]
	}
	return stem + ext
}

// Uploadable 表示该文件类型会被上传到媒体库（jpg/jpeg/png/webp）。
func Uploadable(fileName string) bool {
	switch strings.ToLower(path.Ext(fileName)) {
	case ".jpg", ".jpeg", ".png", ".webp":
		return true
	default:
		return false
	}
}

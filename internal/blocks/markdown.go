package blocks

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/John-Robertt/CMSMIG/internal/domain"
)

var md = goldmark.New(
	goldmark.WithExtensions(extension.Strikethrough, extension.Linkify),
	goldmark.WithRendererOptions(html.WithUnsafe()),
)

// ConvertMarkdown 把 markdown 单元格渲染为 HTML 后再转换。
//
// 与 Convert 不同，渲染结果中的列表原位输出为 List，不会吞掉前后的标题和段落。
func ConvertMarkdown(src string) []domain.Block {
	s := strings.TrimSpace(src)
	if s == "" {
		return []domain.Block{}
	}

	var buf bytes.Buffer
	if err := md.Convert([]byte(s), &buf); err != nil {
		return Convert(s)
	}
	doc, err := goquery.NewDocumentFromReader(&buf)
	if err != nil {
		return Convert(s)
	}
	out, found := scanTopLevel(topLevel(doc), true)
	if !found {
		return plainParagraphs(stripTags(buf.String()))
	}
	return out
}

// Package blocks 把 CSV 单元格里的 HTML / 纯文本转换为有序的内容块序列。
//
// 转换永不失败：无法识别的标记会降级为纯文本段落，输入文字不会被静默丢弃。
package blocks

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/John-Robertt/CMSMIG/internal/domain"
)

// matcher 尝试识别一种输入形态；ok=false 表示交给下一个 matcher。
type matcher func(doc *goquery.Document, top []*html.Node) (out []domain.Block, ok bool)

// 顺序即优先级，先命中者生效。
var matchers = []matcher{
	matchDayTime,
	matchList,
	func(_ *goquery.Document, top []*html.Node) ([]domain.Block, bool) {
		return scanTopLevel(top, false)
	},
}

// Convert 把一个单元格的内容转换为内容块。
//
// 规则：
// - 空白输入 -> 空序列
// - 不含 '<' -> 按行切分为段落
// - 否则依次尝试 day/time、首个顶层列表、顶层块元素扫描
// - 都未识别时剥离标签后按纯文本处理
func Convert(input string) []domain.Block {
	s := strings.TrimSpace(input)
	if s == "" {
		return []domain.Block{}
	}
	if !strings.Contains(s, "<") {
		return plainParagraphs(unescape(s))
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err == nil {
		top := topLevel(doc)
		for _, m := range matchers {
			if out, ok := m(doc, top); ok {
				return out
			}
		}
	}
	return plainParagraphs(stripTags(s))
}

// matchDayTime 识别营业时间片段：<div class="day">…</div><div class="time">…</div>。
func matchDayTime(doc *goquery.Document, _ []*html.Node) ([]domain.Block, bool) {
	days := doc.Find("div.day")
	times := doc.Find("div.time")
	n := min(days.Length(), times.Length())
	if n == 0 {
		return nil, false
	}

	out := make([]domain.Block, 0, n)
	for i := 0; i < n; i++ {
		day := inlineText(days.Get(i))
		tm := inlineText(times.Get(i))
		if day == "" || tm == "" {
			continue
		}
		out = append(out, domain.Paragraph(day+": "+tm))
	}
	return out, len(out) > 0
}

// matchList 只取第一个顶层 <ul>/<ol>；其余内容被忽略。
func matchList(_ *goquery.Document, top []*html.Node) ([]domain.Block, bool) {
	for _, n := range top {
		if n.Type != html.ElementNode || (n.DataAtom != atom.Ul && n.DataAtom != atom.Ol) {
			continue
		}
		b, ok := listBlock(n)
		return []domain.Block{b}, ok
	}
	return nil, false
}

func listBlock(n *html.Node) (domain.Block, bool) {
	var items []string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.DataAtom != atom.Li {
			continue
		}
		if t := inlineText(c); t != "" {
			items = append(items, t)
		}
	}
	if len(items) == 0 {
		return domain.Block{}, false
	}
	return domain.List(n.DataAtom == atom.Ol, items...), true
}

// scanTopLevel 单次遍历顶层节点：块级元素各自成块，块之间的文本/内联元素合并为段落。
// lists=true 时 <ul>/<ol> 原位输出为 List（用于 markdown 渲染结果）。
// found=false 表示没有任何顶层块级元素，调用方应走纯文本降级。
func scanTopLevel(top []*html.Node, lists bool) (out []domain.Block, found bool) {
	out = []domain.Block{}
	var loose strings.Builder
	flush := func() {
		for _, ln := range textLines(loose.String()) {
			out = append(out, domain.Paragraph(ln))
		}
		loose.Reset()
	}

	for _, n := range top {
		switch n.Type {
		case html.TextNode:
			writeData(&loose, n.Data)
		case html.ElementNode:
			if skipTags[n.DataAtom] {
				continue
			}
			if inlineTags[n.DataAtom] {
				writeText(&loose, n)
				continue
			}
			found = true
			flush()
			if lists && (n.DataAtom == atom.Ul || n.DataAtom == atom.Ol) {
				if b, ok := listBlock(n); ok {
					out = append(out, b)
				}
				continue
			}
			out = append(out, elementBlocks(n)...)
		}
	}
	flush()
	return out, found
}

func elementBlocks(n *html.Node) []domain.Block {
	lines := textLines(nodeText(n))
	if len(lines) == 0 {
		return nil
	}
	if lvl, ok := headingLevel(n.DataAtom); ok {
		return []domain.Block{domain.Heading(lvl, strings.Join(lines, " "))}
	}
	if n.DataAtom == atom.Blockquote {
		return []domain.Block{domain.Quote(strings.Join(lines, " "))}
	}
	out := make([]domain.Block, 0, len(lines))
	for _, ln := range lines {
		out = append(out, domain.Paragraph(ln))
	}
	return out
}

// topLevel 返回 <body> 的直接子节点；只含块级子元素的外层包装（div/section/...）展开一层。
func topLevel(doc *goquery.Document) []*html.Node {
	body := doc.Find("body").First()
	if body.Length() == 0 {
		return nil
	}
	var out []*html.Node
	for c := body.Get(0).FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && wrapperTags[c.DataAtom] && hasBlockChild(c) {
			for cc := c.FirstChild; cc != nil; cc = cc.NextSibling {
				out = append(out, cc)
			}
			continue
		}
		out = append(out, c)
	}
	return out
}

func hasBlockChild(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && blockTags[c.DataAtom] {
			return true
		}
	}
	return false
}

func headingLevel(a atom.Atom) (int, bool) {
	switch a {
	case atom.H1:
		return 1, true
	case atom.H2:
		return 2, true
	case atom.H3:
		return 3, true
	case atom.H4:
		return 4, true
	case atom.H5:
		return 5, true
	case atom.H6:
		return 6, true
	default:
		return 0, false
	}
}

// plainParagraphs 按行切分纯文本，每个非空行一个段落。
func plainParagraphs(s string) []domain.Block {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	out := []domain.Block{}
	for _, ln := range strings.Split(s, "\n") {
		if ln = strings.TrimSpace(ln); ln != "" {
			out = append(out, domain.Paragraph(ln))
		}
	}
	return out
}

var (
	brRE  = regexp.MustCompile(`(?i)<br\s*/?>`)
	tagRE = regexp.MustCompile(`<!--[\s\S]*?-->|</?[A-Za-z][^<>]*>`)
)

// stripTags 是降级路径的文本化剥离：未闭合的 '<' 原样保留。
func stripTags(s string) string {
	s = brRE.ReplaceAllString(s, "\n")
	return unescape(tagRE.ReplaceAllString(s, ""))
}

func unescape(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	return strings.ReplaceAll(html.UnescapeString(s), "\u00a0", " ")
}

package blocks

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// 顶层出现时不单独成块的内联标签。未列出的标签（含未知标签）一律视为段落容器。
var inlineTags = atomSet(
	atom.A, atom.Abbr, atom.B, atom.Bdi, atom.Bdo, atom.Big, atom.Br, atom.Cite, atom.Code,
	atom.Data, atom.Del, atom.Dfn, atom.Em, atom.Font, atom.I, atom.Img, atom.Ins, atom.Kbd,
	atom.Label, atom.Mark, atom.Q, atom.S, atom.Samp, atom.Small, atom.Span, atom.Strike,
	atom.Strong, atom.Sub, atom.Sup, atom.Time, atom.Tt, atom.U, atom.Var, atom.Wbr,
)

// 嵌套时形成换行边界的块级标签。
var blockTags = atomSet(
	atom.Address, atom.Article, atom.Aside, atom.Blockquote, atom.Dd, atom.Details, atom.Dialog,
	atom.Div, atom.Dl, atom.Dt, atom.Fieldset, atom.Figcaption, atom.Figure, atom.Footer,
	atom.Form, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Header, atom.Hr,
	atom.Li, atom.Main, atom.Nav, atom.Ol, atom.P, atom.Pre, atom.Section, atom.Table,
	atom.Tbody, atom.Td, atom.Tfoot, atom.Th, atom.Thead, atom.Tr, atom.Ul,
)

var wrapperTags = atomSet(atom.Div, atom.Section, atom.Article, atom.Main)

var skipTags = atomSet(atom.Script, atom.Style, atom.Template, atom.Noscript)

func atomSet(as ...atom.Atom) map[atom.Atom]bool {
	m := make(map[atom.Atom]bool, len(as))
	for _, a := range as {
		m[a] = true
	}
	return m
}

// nodeText 抽取节点文本：<br> 与嵌套块级边界变为换行，实体已由解析器解码。
func nodeText(n *html.Node) string {
	var b strings.Builder
	writeText(&b, n)
	return b.String()
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		writeData(b, n.Data)
	case html.ElementNode:
		if n.DataAtom == atom.Br {
			b.WriteByte('\n')
			return
		}
		if skipTags[n.DataAtom] {
			return
		}
		block := blockTags[n.DataAtom]
		if block {
			b.WriteByte('\n')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			writeText(b, c)
		}
		if block {
			b.WriteByte('\n')
		}
	}
}

// writeData 写入文本节点；源码里的换行只是空白，真正的换行来自 <br> 和块边界。
func writeData(b *strings.Builder, s string) {
	b.WriteString(newlineToSpace.Replace(s))
}

var newlineToSpace = strings.NewReplacer("\r", " ", "\n", " ")

// inlineText 把节点文本压成单行（用于 heading / list item / day-time）。
func inlineText(n *html.Node) string {
	return strings.Join(textLines(nodeText(n)), " ")
}

// textLines 按换行切分，行内空白（含 U+00A0）折叠为单个空格，丢弃空行。
func textLines(s string) []string {
	var out []string
	for _, ln := range strings.Split(s, "\n") {
		if ln = strings.Join(strings.Fields(ln), " "); ln != "" {
			out = append(out, ln)
		}
	}
	return out
}

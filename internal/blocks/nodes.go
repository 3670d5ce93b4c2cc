package blocks

import (
	"strings"

	"github.com/John-Robertt/CMSMIG/internal/domain"
)

// Node 是 CMS 富文本字段（blocks）的 JSON 节点。
type Node struct {
	Type     string `json:"type"`
	Level    int    `json:"level,omitempty"`
	Format   string `json:"format,omitempty"`
	Text     string `json:"text,omitempty"`
	Children []Node `json:"children,omitempty"`
}

// Nodes 把内容块编码为 CMS 富文本节点。
func Nodes(bs []domain.Block) []Node {
	out := make([]Node, 0, len(bs))
	for _, b := range bs {
		switch b.Kind {
		case domain.BlockHeading:
			out = append(out, Node{Type: "heading", Level: b.Level, Children: textChildren(b.Text)})
		case domain.BlockQuote:
			out = append(out, Node{Type: "quote", Children: textChildren(b.Text)})
		case domain.BlockList:
			n := Node{Type: "list", Format: "unordered", Children: make([]Node, 0, len(b.Items))}
			if b.Ordered {
				n.Format = "ordered"
			}
			for _, it := range b.Items {
				n.Children = append(n.Children, Node{Type: "list-item", Children: textChildren(it.Text)})
			}
			out = append(out, n)
		default:
			out = append(out, Node{Type: "paragraph", Children: textChildren(b.Text)})
		}
	}
	return out
}

func textChildren(s string) []Node {
	return []Node{{Type: "text", Text: s}}
}

// PlainText 把内容块渲染回纯文本：每个叶子文本一行。
// 文本中的 '&' 与 '<' 转义为实体，结果再交给 Convert 时走纯文本路径，得到同样的段落文本。
func PlainText(bs []domain.Block) string {
	var lines []string
	for _, b := range bs {
		for _, t := range b.Texts() {
			lines = append(lines, textEscaper.Replace(t))
		}
	}
	return strings.Join(lines, "\n")
}

var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;")

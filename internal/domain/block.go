package domain

// BlockKind 是内容块的类型标签。
type BlockKind string

const (
	BlockHeading   BlockKind = "heading"
	BlockParagraph BlockKind = "paragraph"
	BlockList      BlockKind = "list"
	BlockQuote     BlockKind = "quote"
)

// Block 是富文本的结构单元（heading / paragraph / list / quote 的 tagged variant）。
//
// 字段按 Kind 使用：
// - heading：Level(1..6) + Text
// - paragraph / quote：Text
// - list：Ordered + Items
//
// 每个叶子只有一段纯文本；不携带任何内联格式。
type Block struct {
	Kind    BlockKind
	Level   int
	Text    string
	Ordered bool
	Items   []ListItem
}

type ListItem struct {
	Text string
}

func Heading(level int, text string) Block {
	if level < 1 {
		level = 1
	}
	if level > 6 {
		level = 6
	}
	return Block{Kind: BlockHeading, Level: level, Text: text}
}

func Paragraph(text string) Block { return Block{Kind: BlockParagraph, Text: text} }

func Quote(text string) Block { return Block{Kind: BlockQuote, Text: text} }

func List(ordered bool, items ...string) Block {
	b := Block{Kind: BlockList, Ordered: ordered, Items: make([]ListItem, 0, len(items))}
	for _, it := range items {
		b.Items = append(b.Items, ListItem{Text: it})
	}
	return b
}

// Texts 按文档顺序返回块内的所有叶子文本（list 为每个 item 一条）。
func (b Block) Texts() []string {
	if b.Kind == BlockList {
		out := make([]string, 0, len(b.Items))
		for _, it := range b.Items {
			out = append(out, it.Text)
		}
		return out
	}
	return []string{b.Text}
}

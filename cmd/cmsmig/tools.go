package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/CMSMIG/internal/blocks"
	"github.com/John-Robertt/CMSMIG/internal/domain"
	"github.com/John-Robertt/CMSMIG/internal/refdata"
	"github.com/John-Robertt/CMSMIG/internal/resolve"
)

func (a *cli) newConvertCommand() *cobra.Command {
	var markdown, text bool
	cmd := &cobra.Command{
		Use:   "convert [file|-]",
		Short: "把 HTML/纯文本（或 markdown）转换为内容块并输出",
		Long: `读取文件（省略或 "-" 时读 stdin），输出 CMS 富文本节点 JSON。
--text 改为输出纯文本渲染（每个叶子文本一行）。`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := a.readInput(args)
			if err != nil {
				fmt.Fprintf(a.stderr, "读取输入失败：%v\n", err)
				return exitCode(1)
			}

			var bs []domain.Block
			if markdown {
				bs = blocks.ConvertMarkdown(src)
			} else {
				bs = blocks.Convert(src)
			}
			a.log.WithField("blocks", len(bs)).Debug("转换完成")

			if text {
				if s := blocks.PlainText(bs); s != "" {
					fmt.Fprintln(a.stdout, s)
				}
				return nil
			}
			enc := json.NewEncoder(a.stdout)
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			if err := enc.Encode(blocks.Nodes(bs)); err != nil {
				return exitCode(1)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&markdown, "markdown", false, "输入按 markdown 解析")
	cmd.Flags().BoolVar(&text, "text", false, "输出纯文本而不是节点 JSON")
	return cmd
}

func (a *cli) readInput(args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		b, err := io.ReadAll(a.stdin)
		return string(b), err
	}
	b, err := os.ReadFile(args[0])
	return string(b), err
}

// resolveOutput 是 resolve 命令每个输入值的一行结果。
type resolveOutput struct {
	Input      string         `json:"input"`
	Status     resolve.Status `json:"status"`
	Key        string         `json:"key"`
	ID         *domain.RefID  `json:"id"`
	Strategy   string         `json:"strategy,omitempty"`
	Candidates []domain.RefID `json:"candidates,omitempty"`
}

func (a *cli) newResolveCommand() *cobra.Command {
	var (
		refsFile  string
		kind      string
		keyFields []string
		idField   string
		hashLen   int
		fuzzy     string
	)
	cmd := &cobra.Command{
		Use:   "resolve --refs file value...",
		Short: "用引用数据集解析名称/文件名/URL，输出每个值的解析结果",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := resolve.ParseFuzzyMode(fuzzy)
			if err != nil {
				return err
			}
			k := refdata.Kind(strings.ToLower(strings.TrimSpace(kind)))
			if k != refdata.KindMedia && k != refdata.KindEntity {
				return fmt.Errorf("--kind 只能是 media 或 entity，实际是 %q", kind)
			}
			if strings.TrimSpace(refsFile) == "" {
				return fmt.Errorf("缺少 --refs")
			}

			data, err := os.ReadFile(refsFile)
			if err != nil {
				fmt.Fprintf(a.stderr, "读取引用数据集失败：%v\n", err)
				return exitCode(1)
			}
			entries, skipped, err := refdata.Load(data, refdata.Source{
				Name:          "cli",
				Kind:          k,
				KeyFields:     keyFields,
				IDField:       idField,
				HashPrefixLen: hashLen,
			})
			if err != nil {
				fmt.Fprintf(a.stderr, "%v\n", err)
				return exitCode(1)
			}
			a.log.WithFields(map[string]any{"entries": len(entries), "skipped": skipped}).Debug("引用数据集已加载")

			opts := resolve.Options{HashPrefixLen: hashLen, Fuzzy: mode}
			if hashLen <= 0 {
				opts.HashPrefixLen = -1
			}
			r := resolve.New("cli", resolve.BuildTable(entries), opts)

			out := make([]resolveOutput, 0, len(args))
			allOK := true
			for _, v := range args {
				res := r.Resolve(v)
				o := resolveOutput{Input: v, Status: res.Status, Key: res.Key, Strategy: string(res.Strategy), Candidates: res.Candidates}
				if res.OK() {
					id := res.ID
					o.ID = &id
				} else {
					allOK = false
				}
				out = append(out, o)
			}

			enc := json.NewEncoder(a.stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(out)
			if allOK {
				return nil
			}
			return exitCode(1)
		},
	}
	cmd.Flags().StringVar(&refsFile, "refs", "", "引用数据集 JSON 文件（数组或 {\"data\": [...]}）")
	cmd.Flags().StringVar(&kind, "kind", string(refdata.KindMedia), "数据集类型：media（按文件名）或 entity（按名称字段）")
	cmd.Flags().StringArrayVar(&keyFields, "key-field", []string{"name"}, "entity：作为查找键的字段（可重复）")
	cmd.Flags().StringVar(&idField, "id-field", refdata.DefaultIDField, "entity：ID 字段")
	cmd.Flags().IntVar(&hashLen, "hash-prefix-len", resolve.DefaultHashPrefixLen, "哈希前缀匹配长度；0 关闭")
	cmd.Flags().StringVar(&fuzzy, "fuzzy", string(resolve.FuzzyOff), "子串匹配：off|first|unique")
	return cmd
}

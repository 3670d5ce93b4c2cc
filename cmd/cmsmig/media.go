package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/CMSMIG/internal/app/run"
	"github.com/John-Robertt/CMSMIG/internal/config"
)

func (a *cli) newMediaCommand() *cobra.Command {
	var (
		apply bool
		jobs  []string
	)
	cmd := &cobra.Command{
		Use:   "media [path]",
		Short: "下载、压缩并上传 CSV 中的图片（默认 dry-run）",
		Long: `从各任务 CSV 的图片列（media / media_list 字段与 media.columns）收集 URL。

dry-run 只列出将要处理的文件；--apply 会下载到 <path>/assets/，
超过 media.max_kb 的图片重新编码为 JPEG 写入 <path>/compressed-images/，
再上传到 CMS 媒体库（媒体库已有同名文件时跳过），最后把文件 id 并入 media.ref 引用表。`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := config.CLIArgs{
				Apply:    apply,
				ApplySet: cmd.Flags().Changed("apply"),
				Jobs:     jobs,
			}
			if len(args) == 1 {
				in.Path = args[0]
			}
			in.LogLevel, in.LogLevelSet, in.LogFormat, in.LogFormatSet = logFlags(cmd)

			eff, code, ok := a.loadConfig(in)
			if !ok {
				return exitCode(code)
			}

			progressW, interactive := a.pickProgressWriter()
			var obs run.Observer
			if interactive {
				obs = newProgressUI(progressW)
			}

			rr := run.Media(cmd.Context(), eff, a.log, obs)

			if eff.Apply {
				if err := writeReportFile(eff.Path, rr); err != nil {
					fmt.Fprintf(a.stderr, "写入 report.json 失败：%v\n", err)
					a.emitReport(rr)
					return exitCode(1)
				}
			}

			a.emitReport(rr)
			if rr.OK() {
				return nil
			}
			return exitCode(1)
		},
	}

	cmd.Flags().BoolVar(&apply, "apply", false, "下载/压缩/上传（默认 dry-run）")
	cmd.Flags().StringArrayVar(&jobs, "job", nil, "只处理指定任务的 CSV（可重复）")
	return cmd
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/John-Robertt/CMSMIG/internal/logging"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// exitError 携带进程退出码；命令执行过程中的失败用它返回（已自行输出信息）。
// 其他 error 视为参数错误，退出码 2。
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit %d", e.code) }

func exitCode(code int) error {
	if code == 0 {
		return nil
	}
	return &exitError{code: code}
}

// cli 持有一次调用的 IO 与 logger；测试直接构造它，不依赖全局状态。
type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	log *logrus.Logger
}

func execute(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a := &cli{stdin: stdin, stdout: stdout, stderr: stderr}
	root := a.newRootCommand()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	var ee *exitError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &ee):
		return ee.code
	default:
		fmt.Fprintf(stderr, "参数错误：%v\n\n", err)
		fmt.Fprint(stderr, root.UsageString())
		return 2
	}
}

func (a *cli) newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "cmsmig",
		Short: "把 CSV 数据迁移到 headless CMS（富文本转内容块、引用解析、Postman 集合/批量上传）",
		Long: `cmsmig 把 CSV 行映射为 CMS 记录：HTML/纯文本转成内容块，媒体与关联按名称解析为 ID，
然后写出 Postman 集合或直接批量 POST 到 CMS REST API。

示例：
  cmsmig run ./data                 # dry-run：只映射与解析，输出报告
  cmsmig run ./data --apply         # 写出集合（或 mode=upload 时上传）
  cmsmig fetch-refs ./data          # 从 CMS 拉取引用表到 cache/refs/
  cmsmig convert page.html          # 查看某段 HTML 的内容块
  cmsmig resolve --refs media.json foo.jpg`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			format, _ := cmd.Flags().GetString("log-format")
			return a.initLogger(level, format)
		},
	}

	root.PersistentFlags().String("log-level", "info", "日志级别（trace|debug|info|warn|error）")
	root.PersistentFlags().String("log-format", "text", "日志格式（text|json），日志始终写 stderr")

	root.AddCommand(
		a.newRunCommand(),
		a.newFetchRefsCommand(),
		a.newMediaCommand(),
		a.newConvertCommand(),
		a.newResolveCommand(),
	)
	return root
}

func (a *cli) initLogger(level, format string) error {
	l, err := logging.New(logging.Options{
		Level:  level,
		Format: format,
		Out:    a.stderr,
		Color:  isTTY(a.stderr),
	})
	if err != nil {
		return err
	}
	a.log = l
	return nil
}

// logFlags 返回全局日志参数及其是否被显式指定（用于与配置文件合并）。
func logFlags(cmd *cobra.Command) (level string, levelSet bool, format string, formatSet bool) {
	level, _ = cmd.Flags().GetString("log-level")
	format, _ = cmd.Flags().GetString("log-format")
	return level, cmd.Flags().Changed("log-level"), format, cmd.Flags().Changed("log-format")
}

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/CMSMIG/internal/app/run"
	"github.com/John-Robertt/CMSMIG/internal/config"
	"github.com/John-Robertt/CMSMIG/internal/domain"
)

func (a *cli) newRunCommand() *cobra.Command {
	var (
		apply bool
		mode  string
		jobs  []string
	)
	cmd := &cobra.Command{
		Use:   "run [path]",
		Short: "运行迁移（默认 dry-run）",
		Long: `运行迁移任务。

path 省略时必须在当前目录提供 cmsmig.json / cmsmig.yaml（且其中包含 path）；
给出 path 时，<path>/cmsmig.* 可选。

dry-run 只做映射与引用解析并输出报告；--apply 才会写出集合文件或上传记录，
并把报告写入 <path>/cache/report.json。`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("mode") {
				switch mode {
				case config.ModeCollection, config.ModeUpload:
				default:
					return fmt.Errorf("--mode 只能是 collection 或 upload，实际是 %q", mode)
				}
			}

			in := config.CLIArgs{
				Mode:     mode,
				ModeSet:  cmd.Flags().Changed("mode"),
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

			rr := run.ExecuteWithObserver(cmd.Context(), eff, a.log, obs)

			// apply：必须写入 <path>/cache/report.json；dry-run 禁止落盘。
			if eff.Apply {
				if err := writeReportFile(eff.Path, rr); err != nil {
					fmt.Fprintf(a.stderr, "写入 report.json 失败：%v\n", err)
					a.emitReport(rr)
					return exitCode(1)
				}
			}

			a.emitReport(rr)
			if interactive {
				emitLocations(progressW, eff)
			}
			if rr.OK() {
				return nil
			}
			return exitCode(1)
		},
	}

	cmd.Flags().BoolVar(&apply, "apply", false, "执行写出/上传（默认 dry-run）；支持 --apply=false 覆盖配置中的 apply=true")
	cmd.Flags().StringVar(&mode, "mode", config.ModeCollection, "输出方式：collection（Postman 集合）或 upload（直接上传）")
	cmd.Flags().StringArrayVar(&jobs, "job", nil, "只运行指定任务（可重复）")
	return cmd
}

// loadConfig 读取配置并按最终日志参数重建 logger；配置错误时输出合成报告并返回退出码。
func (a *cli) loadConfig(in config.CLIArgs) (config.EffectiveConfig, int, bool) {
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(a.stderr, "读取当前目录失败：%v\n", err)
		return config.EffectiveConfig{}, 1, false
	}
	cwdAbs, _ := filepath.Abs(cwd)

	eff, err := config.LoadEffective(cwd, in)
	if err != nil {
		a.log.WithError(err).Debug("配置加载失败")
		a.emitReport(reportForConfigError(cwdAbs, in, err))
		return config.EffectiveConfig{}, 1, false
	}
	if err := a.initLogger(eff.LogLevel, eff.LogFormat); err != nil {
		fmt.Fprintf(a.stderr, "初始化日志失败：%v\n", err)
		return config.EffectiveConfig{}, 1, false
	}
	a.log.WithField("config", eff.ConfigFile).Debug("配置已加载")
	return eff, 0, true
}

func reportForConfigError(cwdAbs string, in config.CLIArgs, err error) domain.RunReport {
	mode := strings.TrimSpace(in.Mode)
	if !in.ModeSet {
		mode = ""
	}
	rr := domain.RunReport{
		Path:   cwdAbs,
		Mode:   mode,
		DryRun: !(in.ApplySet && in.Apply),
		Items: []domain.ItemResult{{
			Status:    domain.StatusFailed,
			ErrorCode: config.Code(err),
			ErrorMsg:  err.Error(),
			Issues:    []domain.Issue{},
		}},
	}
	rr.StartedAt = nowUTC()
	rr.FinishedAt = rr.StartedAt
	rr.Finalize()
	return rr
}

package main

import (
	"github.com/spf13/cobra"

	"github.com/John-Robertt/CMSMIG/internal/app/run"
	"github.com/John-Robertt/CMSMIG/internal/config"
)

func (a *cli) newFetchRefsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch-refs [path]",
		Short: "从 CMS 拉取配置了 endpoint 的引用表到 <path>/cache/refs/",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := config.CLIArgs{}
			if len(args) == 1 {
				in.Path = args[0]
			}
			in.LogLevel, in.LogLevelSet, in.LogFormat, in.LogFormatSet = logFlags(cmd)

			eff, code, ok := a.loadConfig(in)
			if !ok {
				return exitCode(code)
			}

			rr := run.FetchRefs(cmd.Context(), eff, a.log)
			a.emitReport(rr)
			if rr.OK() {
				return nil
			}
			return exitCode(1)
		},
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/John-Robertt/CMSMIG/internal/config"
	"github.com/John-Robertt/CMSMIG/internal/domain"
	"github.com/John-Robertt/CMSMIG/internal/infra/cache"
)

func nowUTC() time.Time { return time.Now().UTC() }

func summaryLine(rr domain.RunReport) string {
	return fmt.Sprintf("完成：processed=%d skipped=%d failed=%d unresolved=%d ambiguous=%d",
		rr.Summary.Processed, rr.Summary.Skipped, rr.Summary.Failed, rr.Summary.Unresolved, rr.Summary.Ambiguous,
	)
}

func (a *cli) emitReport(rr domain.RunReport) {
	if isTTY(a.stdout) {
		fmt.Fprintln(a.stdout, summaryLine(rr))
		for _, it := range rr.Items {
			if it.Status != domain.StatusFailed {
				continue
			}
			key := it.Name
			if it.Job != "" && it.Row > 0 {
				key = fmt.Sprintf("%s#%d", it.Job, it.Row)
			} else if it.Job != "" {
				key = it.Job
			}
			if key == "" {
				key = "<run>"
			}
			fmt.Fprintf(a.stderr, "%s %s: %s\n", key, it.ErrorCode, it.ErrorMsg)
		}
		for _, u := range rr.Unresolved {
			fmt.Fprintf(a.stderr, "unresolved %s: %s\n", u.Reference, u.Key)
		}
		for _, m := range rr.Ambiguous {
			fmt.Fprintf(a.stderr, "ambiguous %s: %s candidates=%v\n", m.Reference, m.Key, m.Candidates)
		}
		return
	}

	// stdout 非 TTY：stdout 必须且仅输出一个 RunReport JSON（日志/摘要走 stderr）。
	enc := json.NewEncoder(a.stdout)
	_ = enc.Encode(rr)
	fmt.Fprintln(a.stderr, summaryLine(rr))
}

func writeReportFile(root string, rr domain.RunReport) error {
	b, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return cache.New(root, false).WriteReport(b)
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (a *cli) pickProgressWriter() (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if isTTY(a.stderr) {
		return a.stderr, true
	}
	// 某些环境（例如仅重定向 stderr）下，stdout 仍是 TTY：退化输出到 stdout。
	if isTTY(a.stdout) {
		return a.stdout, true
	}
	return nil, false
}

func emitLocations(w io.Writer, eff config.EffectiveConfig) {
	if w == nil {
		return
	}
	if eff.Apply {
		fmt.Fprintf(w, "report: %s\n", cache.New(eff.Path, true).ReportPath())
	}
	if eff.Mode == config.ModeCollection {
		fmt.Fprintf(w, "out: %s\n", filepath.Join(eff.Path, "out"))
	}
}

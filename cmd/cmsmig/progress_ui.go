package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/CMSMIG/internal/app/run"
	"github.com/John-Robertt/CMSMIG/internal/config"
	"github.com/John-Robertt/CMSMIG/internal/domain"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是交互终端下的进度输出。
//
// - 所有过程信息写到 stderr（或 fallback 到 stdout），不污染 stdout 的 JSON 输出
// - run 层只发事件，CLI 决定如何展示
// - 上传长时间没有条目完成时，定期输出一行进度
type progressUI struct {
	w io.Writer

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	job   string
	total int
	done  int
	ok    int
	fail  int
	skip  int

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{
		w:                  w,
		keepaliveThreshold: 6 * time.Second,
		tickerInterval:     2 * time.Second,
	}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startedAt.IsZero() {
		p.startedAt = now
	}

	state := "dry-run"
	stateHint := " (不写文件/不发请求)"
	if eff.Apply {
		state = "apply"
		stateHint = ""
	}

	fmt.Fprintf(p.w, "[%s] cmsmig run (%s)\n", now.Format("15:04:05"), state)
	fmt.Fprintln(p.w, "配置（生效）:")
	fmt.Fprintf(p.w, "  path: %s\n", eff.Path)
	if eff.ConfigFile != "" {
		fmt.Fprintf(p.w, "  config: %s\n", eff.ConfigFile)
	}
	fmt.Fprintf(p.w, "  run: %s%s\n", state, stateHint)
	fmt.Fprintf(p.w, "  mode: %s\n", eff.Mode)
	fmt.Fprintf(p.w, "  jobs: %s\n", formatStringListJSON(jobNames(eff.Jobs)))
	fmt.Fprintf(p.w, "  references: %s\n", formatReferences(eff.References))
	if strings.TrimSpace(eff.BaseURL) != "" {
		fmt.Fprintf(p.w, "  base_url: %s\n", truncate(eff.BaseURL, 120))
	}
	if eff.Mode == config.ModeUpload {
		fmt.Fprintf(p.w, "  batch: size=%d delay=%s token=%s\n", eff.BatchSize, eff.BatchDelay, onOff(eff.APIToken != ""))
		fmt.Fprintf(p.w, "  proxy: %s\n", formatProxy(eff.ProxyURL))
	}
	fmt.Fprintf(p.w, "  resolve: hash_prefix_len=%s fuzzy=%s\n", formatHashPrefix(eff.HashPrefixLen), eff.Fuzzy)

	fmt.Fprintln(p.w, "输出:")
	if eff.Mode == config.ModeCollection {
		fmt.Fprintf(p.w, "  out: %s (overwrite=%s)\n", filepath.Join(eff.Path, "out"), onOff(eff.OutOverwrite))
	}
	if eff.Apply {
		fmt.Fprintf(p.w, "  report: %s\n", filepath.Join(eff.Path, "cache", "report.json"))
	}
	fmt.Fprintln(p.w)

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case "refs":
		fmt.Fprintf(p.w, "引用表: tables=%d keys=%d (%s)\n",
			intField(fields, "tables"), intField(fields, "keys"), formatShortDuration(dur),
		)
	case "map":
		p.stopTickerLocked()
		p.job = stringField(fields, "job")
		p.total = intField(fields, "rows")
		p.done = 0
		fmt.Fprintf(p.w, "映射 %s: rows=%d records=%d issues=%d (%s)\n",
			p.job, p.total, intField(fields, "records"), intField(fields, "issues"), formatShortDuration(dur),
		)
		if p.total > 0 {
			p.startTickerLocked()
		}
	case "extract":
		p.stopTickerLocked()
		p.job = "media"
		p.total = intField(fields, "urls")
		p.done = 0
		fmt.Fprintf(p.w, "图片: jobs=%d urls=%d (%s)\n",
			intField(fields, "jobs"), p.total, formatShortDuration(dur),
		)
		if p.total > 0 {
			p.startTickerLocked()
		}
	case "emit":
		fmt.Fprintf(p.w, "写出 %s: mode=%s records=%d (%s)\n\n",
			stringField(fields, "job"), stringField(fields, "mode"), intField(fields, "records"), formatShortDuration(dur),
		)
	default:
		fmt.Fprintf(p.w, "%s (%s)\n", name, formatShortDuration(dur))
	}

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnItemDone(idx, total int, key string, res domain.ItemResult, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done = idx
	p.total = total

	switch res.Status {
	case domain.StatusProcessed:
		p.ok++
	case domain.StatusFailed:
		p.fail++
	case domain.StatusSkipped:
		p.skip++
	}

	name := truncate(res.Name, 60)
	switch res.Status {
	case domain.StatusFailed:
		fmt.Fprintf(p.w, "[%d/%d] %s FAIL %s %s: %s (%s)\n",
			idx, total, key, name, res.ErrorCode, truncate(res.ErrorMsg, 160), formatShortDuration(dur),
		)
	case domain.StatusSkipped:
		fmt.Fprintf(p.w, "[%d/%d] %s SKIP %s %s\n", idx, total, key, name, res.ErrorCode)
	default:
		fmt.Fprintf(p.w, "[%d/%d] %s OK %s%s (%s)\n",
			idx, total, key, name, formatIssues(res.Issues, 3), formatShortDuration(dur),
		)
	}

	p.lastPrinted = time.Now()

	// 本任务最后一条完成：停止 ticker，避免在结束打印后又冒出 keepalive。
	if p.done >= p.total {
		p.stopTickerLocked()
	}
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.tickerStarted = true
	stop := p.stopCh

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 6 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if p.total > 0 && p.done < p.total && time.Since(p.lastPrinted) > threshold {
					fmt.Fprintf(p.w, "进度 %s: done=%d/%d ok=%d fail=%d skip=%d elapsed=%s\n",
						p.job, p.done, p.total, p.ok, p.fail, p.skip, formatElapsed(time.Since(p.startedAt)),
					)
					p.lastPrinted = time.Now()
				}
				p.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}

func (p *progressUI) stopTickerLocked() {
	if !p.tickerStarted {
		return
	}
	close(p.stopCh)
	p.tickerStarted = false
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func jobNames(jobs []config.JobConfig) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Name)
	}
	return out
}

// formatReferences 输出 name(kind, 来源) 列表，按名称排序。
func formatReferences(refs map[string]config.ReferenceConfig) string {
	if len(refs) == 0 {
		return "[]"
	}
	names := make([]string, 0, len(refs))
	for n := range refs {
		names = append(names, n)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, n := range names {
		rc := refs[n]
		src := "cache"
		if strings.TrimSpace(rc.File) != "" {
			src = "file"
		}
		parts = append(parts, fmt.Sprintf("%s(%s,%s)", n, rc.Kind, src))
	}
	return strings.Join(parts, " ")
}

func formatHashPrefix(n int) string {
	if n <= 0 {
		return "off"
	}
	return fmt.Sprintf("%d", n)
}

func formatIssues(issues []domain.Issue, max int) string {
	if len(issues) == 0 {
		return ""
	}
	parts := make([]string, 0, len(issues))
	for _, is := range issues {
		if len(parts) >= max {
			parts = append(parts, fmt.Sprintf("+%d", len(issues)-max))
			break
		}
		parts = append(parts, is.Field+":"+is.Code)
	}
	return " issues=" + strings.Join(parts, ",")
}

func formatProxy(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "off"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "on (" + truncate(raw, 120) + ")"
	}
	auth := "off"
	if u.User != nil {
		auth = "on"
	}
	return fmt.Sprintf("on (%s://%s, auth=%s)", u.Scheme, u.Host, auth)
}

func formatStringListJSON(xs []string) string {
	// json.Marshal(nil slice) => "null"；对用户更友好的是 "[]"
	if xs == nil {
		xs = []string{}
	}
	b, err := json.Marshal(xs)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func intField(fields map[string]any, key string) int {
	switch x := fields[key].(type) {
	case int:
		return x
	case int64:
		return int(x)
	default:
		return 0
	}
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}

package run

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/John-Robertt/CMSMIG/internal/collection"
	"github.com/John-Robertt/CMSMIG/internal/config"
	"github.com/John-Robertt/CMSMIG/internal/domain"
	"github.com/John-Robertt/CMSMIG/internal/infra/cache"
	"github.com/John-Robertt/CMSMIG/internal/infra/csvx"
	"github.com/John-Robertt/CMSMIG/internal/infra/fsx"
	"github.com/John-Robertt/CMSMIG/internal/infra/httpx"
	"github.com/John-Robertt/CMSMIG/internal/logging"
	"github.com/John-Robertt/CMSMIG/internal/mapping"
	"github.com/John-Robertt/CMSMIG/internal/refdata"
	"github.com/John-Robertt/CMSMIG/internal/resolve"
	"github.com/John-Robertt/CMSMIG/internal/upload"
)

// Execute 执行一次 run（dry-run/apply），并返回对外稳定的 RunReport。
// 该函数尽量把错误“降级”为 item 级失败（单行失败不影响其他行，单个任务失败不影响其他任务）。
func Execute(ctx context.Context, eff config.EffectiveConfig, log logrus.FieldLogger) domain.RunReport {
	return ExecuteWithObserver(ctx, eff, log, nil)
}

// ExecuteWithObserver 与 Execute 相同，但允许传入 Observer 以输出进度/阶段信息（由上层决定是否启用）。
func ExecuteWithObserver(ctx context.Context, eff config.EffectiveConfig, log logrus.FieldLogger, obs Observer) domain.RunReport {
	if log == nil {
		log = logging.Discard()
	}
	started := time.Now().UTC()

	if obs != nil {
		obs.OnStart(eff)
	}

	rr := domain.RunReport{
		Path:      eff.Path,
		Mode:      eff.Mode,
		DryRun:    !eff.Apply,
		StartedAt: started,
		Items:     make([]domain.ItemResult, 0, 128),
	}

	var client *http.Client
	if eff.Apply && eff.Mode == config.ModeUpload {
		c, err := httpx.NewAPIClient(httpx.Options{Token: eff.APIToken, ProxyURL: eff.ProxyURL})
		if err != nil {
			rr.Items = append(rr.Items, syntheticFailed("", domain.ErrCodeConfigInvalid, fmt.Sprintf("proxy.url 无效：%v", err)))
			return finish(&rr)
		}
		client = c
	}

	// run 只读缓存：引用数据由 fetch-refs 写入。
	store := cache.New(eff.Path, true)

	refsStarted := time.Now()
	resolvers, keys := loadResolvers(eff, store, log, &rr)
	if obs != nil {
		obs.OnPhaseDone("refs", map[string]any{
			"tables": len(resolvers),
			"keys":   keys,
		}, time.Since(refsStarted))
	}

	for _, job := range eff.Jobs {
		runJob(ctx, eff, job, resolvers, client, log.WithField("job", job.Name), obs, &rr)
	}

	collectDiagnostics(resolvers, &rr)
	return finish(&rr)
}

func finish(rr *domain.RunReport) domain.RunReport {
	rr.FinishedAt = time.Now().UTC()
	rr.Finalize()
	return *rr
}

// loadResolvers 为每个引用表建立 Resolver。加载失败的引用表记为合成失败项，引用它的任务会在建 mapper 时失败。
func loadResolvers(eff config.EffectiveConfig, store cache.Store, log logrus.FieldLogger, rr *domain.RunReport) (map[string]*resolve.Resolver, int) {
	out := make(map[string]*resolve.Resolver, len(eff.References))
	keys := 0
	for _, name := range referenceNames(eff) {
		r, skipped, err := loadResolver(eff, name, store)
		if err != nil {
			log.WithField("reference", name).WithError(err).Warn("引用表加载失败")
			it := syntheticFailed("", domain.ErrCodeRefLoadFailed, err.Error())
			it.Name = name
			rr.Items = append(rr.Items, it)
			continue
		}
		out[name] = r
		keys += r.Table().Len()
		log.WithFields(logrus.Fields{"reference": name, "keys": r.Table().Len(), "skipped": skipped}).Debug("引用表已加载")
	}
	return out, keys
}

func loadResolver(eff config.EffectiveConfig, name string, store cache.Store) (*resolve.Resolver, int, error) {
	data, err := readReference(eff.References[name], name, store)
	if err != nil {
		return nil, 0, err
	}
	entries, skipped, err := refdata.Load(data, eff.Source(name))
	if err != nil {
		return nil, 0, err
	}
	return resolve.New(name, resolve.BuildTable(entries), eff.ResolveOptions(name)), skipped, nil
}

// readReference 优先读 file；未配置 file 时读 fetch-refs 写入的缓存。
func readReference(rc config.ReferenceConfig, name string, store cache.Store) ([]byte, error) {
	if strings.TrimSpace(rc.File) != "" {
		b, err := os.ReadFile(rc.File)
		if err != nil {
			return nil, fmt.Errorf("读取引用表 %q 失败：%w", name, err)
		}
		return b, nil
	}
	b, ok, err := store.ReadRef(name)
	if err != nil {
		return nil, fmt.Errorf("读取引用表缓存 %q 失败：%w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("引用表 %q 没有数据：请配置 file，或先运行 cmsmig fetch-refs", name)
	}
	return b, nil
}

func runJob(ctx context.Context, eff config.EffectiveConfig, job config.JobConfig, resolvers map[string]*resolve.Resolver, client *http.Client, log logrus.FieldLogger, obs Observer, rr *domain.RunReport) {
	mapStarted := time.Now()

	_, rows, err := csvx.ReadFile(job.CSV)
	if err != nil {
		log.WithError(err).Error("读取 CSV 失败")
		rr.Items = append(rr.Items, syntheticFailed(job.Name, domain.ErrCodeCSVReadFailed, fmt.Sprintf("读取 CSV 失败：%v", err)))
		return
	}
	m, err := mapping.New(job.Fields, resolvers)
	if err != nil {
		rr.Items = append(rr.Items, syntheticFailed(job.Name, domain.ErrCodeRefLoadFailed, err.Error()))
		return
	}
	var match *resolve.Resolver
	if job.Action == config.ActionUpdate {
		if match = resolvers[job.Match.Ref]; match == nil {
			rr.Items = append(rr.Items, syntheticFailed(job.Name, domain.ErrCodeRefLoadFailed, fmt.Sprintf("match.ref 引用表 %q 不可用", job.Match.Ref)))
			return
		}
	}

	items := make([]domain.ItemResult, 0, len(rows))
	var (
		entries []collection.Entry
		pending []int // entries[k] 对应 items[pending[k]]
		issues  int
	)
	for _, row := range rows {
		if row.Err != nil {
			log.WithError(row.Err).WithField("line", row.Line).Warn("跳过格式错误的 CSV 记录")
			it := syntheticFailed(job.Name, domain.ErrCodeCSVReadFailed, row.Err.Error())
			it.Row = row.Index
			it.Name = fmt.Sprintf("row %d", row.Index)
			items = append(items, it)
			continue
		}
		res := m.Map(row)
		it := domain.ItemResult{
			Job:    job.Name,
			Row:    row.Index,
			Name:   rowName(row, job.NameColumn),
			Status: domain.StatusProcessed,
			Issues: res.Issues,
		}
		if it.Issues == nil {
			it.Issues = []domain.Issue{}
		}
		var docID string
		if match != nil && len(res.Record) > 0 {
			docID = matchDocument(match, job.Match.Column, row, &it)
		}
		issues += len(it.Issues)
		switch {
		case len(res.Record) == 0:
			it.Status = domain.StatusSkipped
			it.ErrorCode = domain.ErrCodeEmptyRecord
			it.ErrorMsg = "映射后的记录为空（所有字段均为空）"
		case it.Status == domain.StatusSkipped:
			// update 任务未找到目标条目
		default:
			pending = append(pending, len(items))
			entries = append(entries, collection.Entry{Name: it.Name, Body: res.Record.Body(), DocumentID: docID})
		}
		items = append(items, it)
	}

	if obs != nil {
		obs.OnPhaseDone("map", map[string]any{
			"job":     job.Name,
			"rows":    len(rows),
			"records": len(entries),
			"issues":  issues,
		}, time.Since(mapStarted))
	}

	done := 0
	notify := func(i int, dur time.Duration) {
		done++
		if obs != nil {
			obs.OnItemDone(done, len(items), itemKey(items[i]), items[i], dur)
		}
	}

	emitStarted := time.Now()
	switch {
	case !eff.Apply || len(entries) == 0:
		// dry-run：只映射与解析，不写文件、不发请求。
		for i := range items {
			notify(i, 0)
		}

	case eff.Mode == config.ModeCollection:
		files, err := collection.WriteAll(filepath.Join(eff.Path, "out"), entries, collection.Plan{
			Name:     job.Name,
			Options:  collection.Options{Endpoint: job.Endpoint, BaseURL: eff.BaseURL},
			PartSize: job.PartSize,
			TestSize: job.TestSize,
		}, eff.OutOverwrite)
		for _, fn := range files {
			rr.Outputs = append(rr.Outputs, filepath.ToSlash(filepath.Join("out", fn)))
		}
		if err != nil {
			log.WithError(err).Error("写出集合失败")
			msg := humanizeWriteError(err)
			for _, i := range pending {
				items[i].Status = domain.StatusFailed
				items[i].ErrorCode = domain.ErrCodeIOFailed
				items[i].ErrorMsg = msg
			}
		}
		for i := range items {
			notify(i, 0)
		}

	default: // upload
		for i := range items {
			if items[i].Status != domain.StatusProcessed {
				notify(i, 0)
			}
		}
		jobs := make([]upload.Job, len(entries))
		for k, e := range entries {
			jobs[k] = upload.Job{Index: pending[k], Name: e.Name, Body: e.Body, DocumentID: e.DocumentID}
		}
		u := upload.Uploader{
			Client:    client,
			BaseURL:   eff.BaseURL,
			BatchSize: eff.BatchSize,
			Delay:     eff.BatchDelay,
			Log:       log,
		}
		u.Run(ctx, job.Endpoint, jobs, func(o upload.Outcome) {
			if o.Err != nil {
				items[o.Index].Status = domain.StatusFailed
				items[o.Index].ErrorCode = domain.ErrCodeUploadFailed
				items[o.Index].ErrorMsg = upload.Humanize(o.Err)
			}
			notify(o.Index, o.Duration)
		})
	}

	if obs != nil && eff.Apply {
		obs.OnPhaseDone("emit", map[string]any{
			"job":     job.Name,
			"mode":    eff.Mode,
			"records": len(entries),
		}, time.Since(emitStarted))
	}
	rr.Items = append(rr.Items, items...)
}

// matchDocument 为 update 任务解析目标条目的 documentId；找不到或有歧义时把 it 标记为跳过。
func matchDocument(r *resolve.Resolver, column string, row csvx.Row, it *domain.ItemResult) string {
	raw := row.Get(column)
	res := r.Resolve(raw)
	if res.OK() {
		return res.ID.String()
	}
	code, msg := domain.IssueUnresolvedRef, fmt.Sprintf("在引用表 %q 中找不到要更新的条目：%q", r.Name(), raw)
	if res.Status == resolve.StatusAmbiguous {
		code, msg = domain.IssueAmbiguousRef, fmt.Sprintf("要更新的条目在引用表 %q 中有多个候选：%q", r.Name(), raw)
	}
	it.Status = domain.StatusSkipped
	it.ErrorCode = code
	it.ErrorMsg = msg
	it.Issues = append(it.Issues, domain.Issue{Field: column, Code: code, Value: res.Key})
	return ""
}

// collectDiagnostics 把各引用表的未解析/歧义查找值汇总进报告（引用表按名称排序）。
func collectDiagnostics(resolvers map[string]*resolve.Resolver, rr *domain.RunReport) {
	names := make([]string, 0, len(resolvers))
	for n := range resolvers {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		d := resolvers[n].Diagnostics()
		for _, k := range d.Unresolved() {
			rr.Unresolved = append(rr.Unresolved, domain.UnresolvedRef{Reference: n, Key: k})
		}
		for _, a := range d.Ambiguous() {
			rr.Ambiguous = append(rr.Ambiguous, domain.AmbiguousRef{Reference: n, Key: a.Key, Candidates: a.Candidates})
		}
	}
}

func referenceNames(eff config.EffectiveConfig) []string {
	names := make([]string, 0, len(eff.References))
	for n := range eff.References {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func rowName(row csvx.Row, col string) string {
	if col != "" {
		if v := strings.TrimSpace(row.Get(col)); v != "" {
			return v
		}
	}
	return fmt.Sprintf("row %d", row.Index)
}

func itemKey(it domain.ItemResult) string {
	if it.Job == "" {
		return it.Name
	}
	return fmt.Sprintf("%s#%d", it.Job, it.Row)
}

func syntheticFailed(job, code, msg string) domain.ItemResult {
	return domain.ItemResult{
		Job:       job,
		Status:    domain.StatusFailed,
		ErrorCode: code,
		ErrorMsg:  msg,
		Issues:    []domain.Issue{},
	}
}

func humanizeWriteError(err error) string {
	if errors.Is(err, os.ErrExist) {
		return fmt.Sprintf("目标文件已存在且 out.overwrite=false：%v", err)
	}
	if fsx.IsPathTypeConflict(err) {
		return fmt.Sprintf("输出路径被占用：%v", err)
	}
	return fmt.Sprintf("写出集合失败：%v", err)
}

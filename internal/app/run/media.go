package run

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/John-Robertt/CMSMIG/internal/config"
	"github.com/John-Robertt/CMSMIG/internal/domain"
	"github.com/John-Robertt/CMSMIG/internal/infra/cache"
	"github.com/John-Robertt/CMSMIG/internal/infra/csvx"
	"github.com/John-Robertt/CMSMIG/internal/infra/fsx"
	"github.com/John-Robertt/CMSMIG/internal/infra/httpx"
	"github.com/John-Robertt/CMSMIG/internal/logging"
	"github.com/John-Robertt/CMSMIG/internal/mapping"
	"github.com/John-Robertt/CMSMIG/internal/media"
	"github.com/John-Robertt/CMSMIG/internal/refdata"
	"github.com/John-Robertt/CMSMIG/internal/upload"
)

// ModeMedia 是 media 报告的 mode。
const ModeMedia = "media"

// mediaJob 是 media 报告中条目的 job 名。
const mediaJob = "media"

// Media 从各任务 CSV 中收集图片 URL，下载、压缩并上传到媒体库，最后把文件 id 并入媒体引用表。
// dry-run 只列出计划处理的文件（不联网、不写文件）。每个图片对应报告中的一条 item。
func Media(ctx context.Context, eff config.EffectiveConfig, log logrus.FieldLogger, obs Observer) domain.RunReport {
	if log == nil {
		log = logging.Discard()
	}
	if obs != nil {
		obs.OnStart(eff)
	}
	rr := domain.RunReport{
		Path:      eff.Path,
		Mode:      ModeMedia,
		DryRun:    !eff.Apply,
		StartedAt: time.Now().UTC(),
		Items:     make([]domain.ItemResult, 0, 64),
	}

	ref := eff.Media.Ref
	rc, ok := eff.References[ref]
	if !ok || rc.Kind != refdata.KindMedia {
		rr.Items = append(rr.Items, syntheticFailed("", domain.ErrCodeConfigInvalid, fmt.Sprintf("media.ref %q 必须是 kind=media 的引用表", ref)))
		return finish(&rr)
	}

	extractStarted := time.Now()
	var values []string
	for _, job := range eff.Jobs {
		cols := mediaColumns(job, eff.Media)
		if len(cols) == 0 {
			continue
		}
		jl := log.WithField("job", job.Name)
		_, rows, err := csvx.ReadFile(job.CSV)
		if err != nil {
			jl.WithError(err).Error("读取 CSV 失败")
			rr.Items = append(rr.Items, syntheticFailed(job.Name, domain.ErrCodeCSVReadFailed, fmt.Sprintf("读取 CSV 失败：%v", err)))
			continue
		}
		for _, row := range rows {
			if row.Err != nil {
				jl.WithField("row", row.Index).WithError(row.Err).Warn("跳过格式错误的 CSV 记录")
				continue
			}
			values = append(values, media.CellValues(row, cols)...)
		}
	}
	assets := media.Plan(media.Extract(values))
	if obs != nil {
		obs.OnPhaseDone("extract", map[string]any{
			"jobs": len(eff.Jobs),
			"urls": len(assets),
		}, time.Since(extractStarted))
	}
	log.WithField("urls", len(assets)).Info("图片 URL 已收集")

	items := make([]domain.ItemResult, len(assets))
	for i, a := range assets {
		items[i] = domain.ItemResult{
			Job:    mediaJob,
			Row:    i + 1,
			Name:   a.FileName,
			Status: domain.StatusProcessed,
			Issues: []domain.Issue{},
		}
	}
	notify := func(i int, dur time.Duration) {
		if obs != nil {
			obs.OnItemDone(i+1, len(items), itemKey(items[i]), items[i], dur)
		}
	}

	if !eff.Apply || len(assets) == 0 {
		for i := range items {
			notify(i, 0)
		}
		rr.Items = append(rr.Items, items...)
		return finish(&rr)
	}

	if eff.Media.Upload && strings.TrimSpace(eff.BaseURL) == "" {
		rr.Items = append(rr.Items, syntheticFailed("", domain.ErrCodeConfigInvalid, "上传图片需要配置 base_url（或环境变量 CMSMIG_BASE_URL）"))
		return finish(&rr)
	}
	api, err := httpx.NewAPIClient(httpx.Options{Token: eff.APIToken, ProxyURL: eff.ProxyURL})
	if err != nil {
		rr.Items = append(rr.Items, syntheticFailed("", domain.ErrCodeConfigInvalid, fmt.Sprintf("proxy.url 无效：%v", err)))
		return finish(&rr)
	}
	// 图片来源通常不是 CMS：下载不带 token。
	fetch, _ := httpx.NewAPIClient(httpx.Options{ProxyURL: eff.ProxyURL})

	p := media.Pipeline{
		API:      api,
		Fetch:    fetch,
		BaseURL:  eff.BaseURL,
		Dir:      eff.Path,
		MaxBytes: eff.Media.MaxKB * 1024,
		Upload:   eff.Media.Upload,
		Batch: upload.Uploader{
			BatchSize: eff.BatchSize,
			Delay:     eff.BatchDelay,
			Log:       log,
		},
		Log: log,
	}
	var files []refdata.MediaFile
	p.Run(ctx, assets, func(i int, r media.Result) {
		applyMediaResult(&items[i], r)
		if r.Err == nil && !r.File.ID.IsZero() {
			files = append(files, r.File)
		}
		notify(i, r.Duration)
	})
	rr.Items = append(rr.Items, items...)

	if len(files) > 0 {
		out, err := mergeMediaRef(eff, ref, rc, files, log)
		if err != nil {
			log.WithError(err).Error("写入媒体引用表失败")
			it := syntheticFailed("", domain.ErrCodeIOFailed, err.Error())
			it.Name = ref
			rr.Items = append(rr.Items, it)
		} else {
			rr.Outputs = append(rr.Outputs, out)
		}
	}
	return finish(&rr)
}

// mediaColumns 返回任务中指向媒体引用表的 media / media_list 字段列，再追加 media.columns 中该 CSV 里的列。
func mediaColumns(job config.JobConfig, mc config.MediaConfig) []media.Column {
	seen := map[string]bool{}
	var cols []media.Column
	add := func(c media.Column) {
		if c.Name == "" || seen[c.Name] {
			return
		}
		seen[c.Name] = true
		cols = append(cols, c)
	}
	for _, f := range job.Fields {
		if f.Type != mapping.KindMedia && f.Type != mapping.KindMediaList {
			continue
		}
		if strings.ToLower(strings.TrimSpace(f.Ref)) != mc.Ref {
			continue
		}
		c := media.Column{Name: f.Column}
		if f.Type == mapping.KindMediaList {
			c.Sep = f.Sep
			if c.Sep == "" {
				c.Sep = mapping.DefaultSeparator
			}
		}
		add(c)
	}
	for _, name := range mc.Columns {
		add(media.Column{Name: strings.TrimSpace(name), Sep: mapping.DefaultSeparator})
	}
	return cols
}

func applyMediaResult(it *domain.ItemResult, r media.Result) {
	switch {
	case r.Err != nil:
		it.Status = domain.StatusFailed
		switch r.Stage {
		case media.StageDownload:
			it.ErrorCode = domain.ErrCodeDownloadFailed
			it.ErrorMsg = fmt.Sprintf("下载失败：%v", r.Err)
		case media.StageCompress:
			it.ErrorCode = domain.ErrCodeIOFailed
			it.ErrorMsg = fmt.Sprintf("保存图片失败：%v", r.Err)
		default:
			it.ErrorCode = domain.ErrCodeUploadFailed
			it.ErrorMsg = upload.Humanize(r.Err)
		}
	case r.Existed:
		it.Status = domain.StatusSkipped
		it.ErrorCode = domain.ErrCodeMediaExists
		it.ErrorMsg = fmt.Sprintf("媒体库已有同名文件（id=%s）", r.File.ID)
	case r.Unsupported:
		it.Status = domain.StatusSkipped
		it.ErrorCode = domain.ErrCodeMediaUnsupported
		it.ErrorMsg = "文件类型不支持上传，仅保存到本地"
	}
}

// mergeMediaRef 把新文件并入媒体引用表：配置了 file 时原子替换该文件，否则写入 fetch-refs 缓存。
// 返回写入的相对路径。
func mergeMediaRef(eff config.EffectiveConfig, name string, rc config.ReferenceConfig, files []refdata.MediaFile, log logrus.FieldLogger) (string, error) {
	store := cache.New(eff.Path, false)

	var existing []byte
	target := strings.TrimSpace(rc.File)
	if target != "" {
		b, err := os.ReadFile(target)
		if err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("读取引用表 %q 失败：%w", name, err)
		}
		existing = b
	} else {
		b, _, err := store.ReadRef(name)
		if err != nil {
			return "", fmt.Errorf("读取引用表缓存 %q 失败：%w", name, err)
		}
		existing = b
	}

	data, added, err := refdata.MergeMedia(existing, files)
	if err != nil {
		return "", fmt.Errorf("合并引用表 %q 失败：%w", name, err)
	}

	var written string
	if target != "" {
		if err := fsx.WriteFileAtomicReplace(filepath.Dir(target), filepath.Base(target), data); err != nil {
			return "", fmt.Errorf("写入引用表 %q 失败：%w", name, err)
		}
		written = target
	} else {
		if err := store.WriteRef(name, data); err != nil {
			return "", fmt.Errorf("写入引用表缓存 %q 失败：%w", name, err)
		}
		written, _ = store.RefPath(name)
	}
	log.WithFields(logrus.Fields{"reference": name, "added": added}).Info("媒体引用表已更新")

	if rel, err := filepath.Rel(eff.Path, written); err == nil {
		written = rel
	}
	return filepath.ToSlash(written), nil
}

package run

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/John-Robertt/CMSMIG/internal/config"
	"github.com/John-Robertt/CMSMIG/internal/domain"
	"github.com/John-Robertt/CMSMIG/internal/infra/cache"
	"github.com/John-Robertt/CMSMIG/internal/infra/httpx"
	"github.com/John-Robertt/CMSMIG/internal/logging"
	"github.com/John-Robertt/CMSMIG/internal/refdata"
)

// ModeFetchRefs 是 fetch-refs 报告的 mode。
const ModeFetchRefs = "fetch-refs"

// FetchRefs 从 CMS 拉取所有配置了 endpoint 的引用表，写入 <path>/cache/refs/<name>.json。
// 每个引用表对应报告中的一条 item（job 为 "refs"）；写入前先按引用表配置校验一次数据。
func FetchRefs(ctx context.Context, eff config.EffectiveConfig, log logrus.FieldLogger) domain.RunReport {
	if log == nil {
		log = logging.Discard()
	}
	rr := domain.RunReport{
		Path:      eff.Path,
		Mode:      ModeFetchRefs,
		DryRun:    false,
		StartedAt: time.Now().UTC(),
		Items:     make([]domain.ItemResult, 0, len(eff.References)),
	}

	if strings.TrimSpace(eff.BaseURL) == "" {
		rr.Items = append(rr.Items, syntheticFailed("", domain.ErrCodeConfigInvalid, "fetch-refs 需要配置 base_url（或环境变量 CMSMIG_BASE_URL）"))
		return finish(&rr)
	}
	client, err := httpx.NewAPIClient(httpx.Options{Token: eff.APIToken, ProxyURL: eff.ProxyURL})
	if err != nil {
		rr.Items = append(rr.Items, syntheticFailed("", domain.ErrCodeConfigInvalid, fmt.Sprintf("proxy.url 无效：%v", err)))
		return finish(&rr)
	}
	store := cache.New(eff.Path, false)

	row := 0
	for _, name := range referenceNames(eff) {
		rc := eff.References[name]
		if strings.TrimSpace(rc.Endpoint) == "" {
			continue
		}
		row++
		rl := log.WithFields(logrus.Fields{"reference": name, "endpoint": rc.Endpoint})
		it := domain.ItemResult{
			Job:    "refs",
			Row:    row,
			Name:   name,
			Status: domain.StatusProcessed,
			Issues: []domain.Issue{},
		}

		data, err := refdata.Fetch(ctx, client, eff.BaseURL, rc.Endpoint, refdata.DefaultPageSize, rl)
		if err == nil {
			_, _, err = refdata.Load(data, eff.Source(name))
		}
		if err != nil {
			rl.WithError(err).Error("拉取引用表失败")
			it.Status = domain.StatusFailed
			it.ErrorCode = domain.ErrCodeRefLoadFailed
			it.ErrorMsg = err.Error()
			rr.Items = append(rr.Items, it)
			continue
		}
		if err := store.WriteRef(name, data); err != nil {
			it.Status = domain.StatusFailed
			it.ErrorCode = domain.ErrCodeIOFailed
			it.ErrorMsg = fmt.Sprintf("写入缓存失败：%v", err)
			rr.Items = append(rr.Items, it)
			continue
		}
		p, _ := store.RefPath(name)
		if rel, err := filepath.Rel(eff.Path, p); err == nil {
			p = filepath.ToSlash(rel)
		}
		rr.Outputs = append(rr.Outputs, p)
		rl.Info("引用表已缓存")
		rr.Items = append(rr.Items, it)
	}
	return finish(&rr)
}

// Package upload 把记录按固定批次 POST 到 CMS REST API。
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/John-Robertt/CMSMIG/internal/infra/httpx"
)

const (
	DefaultBatchSize  = 10
	DefaultBatchDelay = 2 * time.Second
)

// Job 是一条待上传的记录。Index 由调用方决定（通常是 CSV 行号），原样带回 Outcome。
// DocumentID 非空时改为 PUT {endpoint}/{DocumentID} 更新已有条目。
type Job struct {
	Index      int
	Name       string
	Body       any
	DocumentID string
}

type Outcome struct {
	Index    int
	Name     string
	Err      error
	Duration time.Duration
}

// Uploader 以 BatchSize 条并发为一批发送，批与批之间等待 Delay。
// 失败只记录不重试；ctx 取消后尚未发送的记录直接标记为失败。
type Uploader struct {
	Client    *http.Client
	BaseURL   string
	BatchSize int
	Delay     time.Duration
	Log       logrus.FieldLogger

	// sleep 可在测试中替换，避免真实等待。
	sleep func(ctx context.Context, d time.Duration) error
}

// Run 上传 jobs 到 {BaseURL}/api/{endpoint}。返回结果与 jobs 一一对应、顺序一致。
// onDone（可为 nil）在调用方 goroutine 中按顺序回调。
func (u *Uploader) Run(ctx context.Context, endpoint string, jobs []Job, onDone func(Outcome)) []Outcome {
	out := make([]Outcome, len(jobs))
	emit := func(i int, err error, dur time.Duration) {
		out[i] = Outcome{Index: jobs[i].Index, Name: jobs[i].Name, Err: err, Duration: dur}
		if err != nil && u.Log != nil {
			u.Log.WithFields(logrus.Fields{"index": out[i].Index, "name": out[i].Name}).WithError(err).Warn("上传失败，跳过")
		}
		if onDone != nil {
			onDone(out[i])
		}
	}

	target, err := httpx.APIURL(u.BaseURL, endpoint)
	if err != nil {
		for i := range jobs {
			emit(i, err, 0)
		}
		return out
	}

	u.Each(ctx, len(jobs), func(ctx context.Context, i int) error {
		if id := jobs[i].DocumentID; id != "" {
			return u.send(ctx, http.MethodPut, target.JoinPath(id).String(), jobs[i].Body)
		}
		return u.send(ctx, http.MethodPost, target.String(), jobs[i].Body)
	}, emit)
	if u.Log != nil {
		u.Log.WithFields(logrus.Fields{"endpoint": endpoint, "total": len(jobs)}).Debug("上传完成")
	}
	return out
}

// Each 按批执行 do(ctx, i)，i 取 0..n-1：批内并发，批间等待 Delay。
// done 在调用方 goroutine 中按 i 的顺序回调；等待被 ctx 打断时，剩余的 i 以 ctx 错误回调。
func (u *Uploader) Each(ctx context.Context, n int, do func(ctx context.Context, i int) error, done func(i int, err error, dur time.Duration)) {
	size := u.BatchSize
	if size < 1 {
		size = DefaultBatchSize
	}
	sleep := u.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	errs := make([]error, n)
	durs := make([]time.Duration, n)
	for start := 0; start < n; start += size {
		end := min(start+size, n)

		var waitErr error
		if start > 0 && u.Delay > 0 {
			waitErr = sleep(ctx, u.Delay)
		}
		if waitErr == nil {
			waitErr = ctx.Err()
		}
		if waitErr != nil {
			for i := start; i < n; i++ {
				done(i, waitErr, 0)
			}
			return
		}

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				t0 := time.Now()
				errs[i] = do(ctx, i)
				durs[i] = time.Since(t0)
				return nil
			})
		}
		_ = g.Wait()

		if u.Log != nil {
			u.Log.WithFields(logrus.Fields{"from": start + 1, "to": end, "total": n}).Debug("批次完成")
		}
		for i := start; i < end; i++ {
			done(i, errs[i], durs[i])
		}
	}
}

func (u *Uploader) send(ctx context.Context, method, target string, body any) error {
	if u.Client == nil {
		return errors.New("http client 为空")
	}
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("请求体编码失败：%w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := httpx.CheckResponse(resp); err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Humanize 把上传错误转换为可操作的提示（写入 report 的 error_msg）。
func Humanize(err error) string {
	if err == nil {
		return ""
	}

	var se *httpx.StatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Sprintf("CMS 返回 HTTP %d（鉴权失败）。请检查 api_token / CMSMIG_API_TOKEN 及其权限。", se.StatusCode)
		case http.StatusNotFound, http.StatusMethodNotAllowed:
			return fmt.Sprintf("CMS 返回 HTTP %d。请检查 endpoint 是否为集合的复数 API 名。", se.StatusCode)
		case http.StatusBadRequest:
			return fmt.Sprintf("CMS 拒绝了记录（HTTP 400，字段校验失败）：%s", se.Body)
		case http.StatusTooManyRequests:
			return "CMS 返回 HTTP 429（限流）。建议减小 batch_size 或增大 batch_delay_ms。"
		default:
			if se.Body != "" {
				return fmt.Sprintf("CMS 返回 HTTP %d：%s", se.StatusCode, se.Body)
			}
			return fmt.Sprintf("CMS 返回 HTTP %d。", se.StatusCode)
		}
	}

	if errors.Is(err, context.Canceled) {
		return "运行被取消，记录未发送。"
	}
	low := strings.ToLower(err.Error())
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(low, "timeout") {
		return "请求 CMS 超时。请检查网络或 base_url 后重试。"
	}
	return fmt.Sprintf("上传失败：%v", err)
}

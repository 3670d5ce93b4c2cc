package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/John-Robertt/CMSMIG/internal/infra/fsx"
	"github.com/John-Robertt/CMSMIG/internal/infra/httpx"
	"github.com/John-Robertt/CMSMIG/internal/infra/imgx"
	"github.com/John-Robertt/CMSMIG/internal/refdata"
	"github.com/John-Robertt/CMSMIG/internal/upload"
)

// 出错阶段。
const (
	StageDownload = "download"
	StageCompress = "compress"
	StageUpload   = "upload"
)

// Pipeline 对每个 Asset 依次执行：下载（本地已有则复用）→ 压缩（超过 MaxBytes 才重新编码）→ 上传。
// 资源按 Batch 的批次调度并发处理；单个资源失败只影响它自己。
type Pipeline struct {
	API     *http.Client // 访问 CMS（带 token）
	Fetch   *http.Client // 下载图片（不带 token）
	BaseURL string

	Dir      string // 工作根目录 <path>
	MaxBytes int
	Upload   bool

	Batch upload.Uploader // 只使用 BatchSize / Delay 调度
	Log   logrus.FieldLogger
}

// Result 是单个资源的处理结果。File 在上传成功或媒体库已有同名文件时有效。
type Result struct {
	Asset      Asset
	File       refdata.MediaFile
	Existed    bool
	Compressed bool
	// Unsupported 表示文件类型不在上传范围内（只下载与压缩）。
	Unsupported bool

	Stage    string
	Err      error
	Duration time.Duration
}

// Run 处理全部资源，返回结果与 assets 一一对应。onDone（可为 nil）在调用方 goroutine 中按顺序回调。
func (p *Pipeline) Run(ctx context.Context, assets []Asset, onDone func(i int, r Result)) []Result {
	out := make([]Result, len(assets))
	p.Batch.Each(ctx, len(assets), func(ctx context.Context, i int) error {
		out[i] = p.process(ctx, assets[i])
		return out[i].Err
	}, func(i int, err error, dur time.Duration) {
		if out[i].Asset.URL == "" {
			// 批次等待被取消，资源未处理。
			out[i] = Result{Asset: assets[i], Stage: StageDownload, Err: err}
		}
		out[i].Duration = dur
		if out[i].Err != nil && p.Log != nil {
			p.Log.WithFields(logrus.Fields{"file": assets[i].FileName, "stage": out[i].Stage}).WithError(out[i].Err).Warn("图片处理失败，跳过")
		}
		if onDone != nil {
			onDone(i, out[i])
		}
	})
	return out
}

func (p *Pipeline) process(ctx context.Context, a Asset) Result {
	r := Result{Asset: a}

	data, err := p.download(ctx, a)
	if err != nil {
		r.Stage, r.Err = StageDownload, err
		return r
	}
	if data, r.Compressed, err = p.compress(a, data); err != nil {
		r.Stage, r.Err = StageCompress, err
		return r
	}
	if !p.Upload {
		return r
	}
	if !Uploadable(a.FileName) {
		r.Unsupported = true
		return r
	}

	f, ok, err := p.lookup(ctx, a.FileName)
	if err != nil {
		r.Stage, r.Err = StageUpload, err
		return r
	}
	if ok {
		r.File, r.Existed = f, true
		return r
	}
	if r.File, err = p.send(ctx, a.FileName, data); err != nil {
		r.Stage, r.Err = StageUpload, err
	}
	return r
}

// download 优先复用 <path>/assets/ 下已下载的文件。
func (p *Pipeline) download(ctx context.Context, a Asset) ([]byte, error) {
	dir := filepath.Join(p.Dir, AssetsDir)
	if b, err := os.ReadFile(filepath.Join(dir, a.FileName)); err == nil && len(b) > 0 {
		return b, nil
	}
	if p.Fetch == nil {
		return nil, errors.New("image client 为空")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "image/*")
	resp, err := p.Fetch.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := httpx.CheckResponse(resp); err != nil {
		return nil, err
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, errors.New("下载内容为空")
	}
	if err := fsx.WriteFileAtomicReplace(dir, a.FileName, b); err != nil {
		return nil, fmt.Errorf("保存图片失败：%w", err)
	}
	return b, nil
}

// compress 把结果写到 <path>/compressed-images/（未超过阈值的原样复制）。
// 无法解码的格式（如 webp、svg）保留原图。
func (p *Pipeline) compress(a Asset, data []byte) ([]byte, bool, error) {
	out, compressed, err := imgx.CompressJPEG(data, p.MaxBytes)
	if err != nil {
		if p.Log != nil {
			p.Log.WithField("file", a.FileName).WithError(err).Warn("图片无法解码，保留原图")
		}
		out, compressed = data, false
	}
	if err := fsx.WriteFileAtomicReplace(filepath.Join(p.Dir, CompressedDir), a.FileName, out); err != nil {
		return nil, false, fmt.Errorf("保存压缩图片失败：%w", err)
	}
	return out, compressed, nil
}

// lookup 按文件名查询媒体库：GET /api/upload/files?filters[name][$eq]=<name>。
func (p *Pipeline) lookup(ctx context.Context, name string) (refdata.MediaFile, bool, error) {
	u, err := httpx.APIURL(p.BaseURL, "upload/files")
	if err != nil {
		return refdata.MediaFile{}, false, err
	}
	q := u.Query()
	q.Set("filters[name][$eq]", name)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return refdata.MediaFile{}, false, err
	}
	files, err := p.do(req)
	if err != nil {
		return refdata.MediaFile{}, false, err
	}
	for _, f := range files {
		if !f.ID.IsZero() {
			return f, true, nil
		}
	}
	return refdata.MediaFile{}, false, nil
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// send 以 multipart 字段 files 上传：POST /api/upload，响应为文件数组。
func (p *Pipeline) send(ctx context.Context, name string, data []byte) (refdata.MediaFile, error) {
	u, err := httpx.APIURL(p.BaseURL, "upload")
	if err != nil {
		return refdata.MediaFile{}, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename="%s"`, quoteEscaper.Replace(name)))
	h.Set("Content-Type", http.DetectContentType(data))
	part, err := mw.CreatePart(h)
	if err != nil {
		return refdata.MediaFile{}, err
	}
	if _, err := part.Write(data); err != nil {
		return refdata.MediaFile{}, err
	}
	if err := mw.Close(); err != nil {
		return refdata.MediaFile{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), &body)
	if err != nil {
		return refdata.MediaFile{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	files, err := p.do(req)
	if err != nil {
		return refdata.MediaFile{}, err
	}
	if len(files) == 0 || files[0].ID.IsZero() {
		return refdata.MediaFile{}, errors.New("上传响应缺少文件 id")
	}
	f := files[0]
	if f.Name == "" {
		f.Name = name
	}
	return f, nil
}

func (p *Pipeline) do(req *http.Request) ([]refdata.MediaFile, error) {
	if p.API == nil {
		return nil, errors.New("http client 为空")
	}
	resp, err := p.API.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := httpx.CheckResponse(resp); err != nil {
		return nil, err
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return decodeFiles(b)
}

// decodeFiles 接受裸数组或 {"data": [...]} 包裹。
func decodeFiles(b []byte) ([]refdata.MediaFile, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, nil
	}
	var files []refdata.MediaFile
	if b[0] == '{' {
		var env struct {
			Data []refdata.MediaFile `json:"data"`
		}
		if err := json.Unmarshal(b, &env); err != nil {
			return nil, fmt.Errorf("媒体库响应解析失败：%w", err)
		}
		return env.Data, nil
	}
	if err := json.Unmarshal(b, &files); err != nil {
		return nil, fmt.Errorf("媒体库响应解析失败：%w", err)
	}
	return files, nil
}

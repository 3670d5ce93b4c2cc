package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/CMSMIG/internal/domain"
	"github.com/John-Robertt/CMSMIG/internal/infra/httpx"
	"github.com/John-Robertt/CMSMIG/internal/upload"
)

func noisyPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fakeCMS struct {
	mu       sync.Mutex
	imgGets  []string
	uploads  []string // filename|content-type
	existing map[string]int
}

func (f *fakeCMS) handler(t *testing.T, images map[string][]byte) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/img/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.imgGets = append(f.imgGets, r.URL.Path)
		f.mu.Unlock()
		assert.Empty(t, r.Header.Get("Authorization"), "下载图片不应携带 CMS token")
		b, ok := images[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(b)
	})
	mux.HandleFunc("/api/upload/files", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		name := r.URL.Query().Get("filters[name][$eq]")
		if id, ok := f.existing[name]; ok {
			_, _ = w.Write([]byte(`[{"id":` + strconv.Itoa(id) + `,"name":"` + name + `","url":"/uploads/` + name + `"}]`))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})
	mux.HandleFunc("/api/upload", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		file, hdr, err := r.FormFile("files")
		if !assert.NoError(t, err) {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		defer file.Close()
		_, _ = io.Copy(io.Discard, file)
		f.mu.Lock()
		f.uploads = append(f.uploads, hdr.Filename+"|"+hdr.Header.Get("Content-Type"))
		f.mu.Unlock()
		_, _ = w.Write([]byte(`[{"id":11,"name":"` + hdr.Filename + `","url":"/uploads/stored_` + hdr.Filename + `"}]`))
	})
	return mux
}

func newPipeline(t *testing.T, srv *httptest.Server, dir string) *Pipeline {
	t.Helper()
	api, err := httpx.NewAPIClient(httpx.Options{Token: "tok"})
	require.NoError(t, err)
	fetch, err := httpx.NewAPIClient(httpx.Options{})
	require.NoError(t, err)
	return &Pipeline{
		API:      api,
		Fetch:    fetch,
		BaseURL:  srv.URL,
		Dir:      dir,
		MaxBytes: 2048,
		Upload:   true,
		Batch:    upload.Uploader{BatchSize: 2},
	}
}

func TestPipeline_DownloadCompressUpload(t *testing.T) {
	big := noisyPNG(t, 64, 64)
	small := []byte("\xff\xd8\xff\xe0 tiny jpeg")
	cms := &fakeCMS{existing: map[string]int{"small.jpg": 5}}
	srv := httptest.NewServer(cms.handler(t, map[string][]byte{
		"/img/big.png":   big,
		"/img/small.jpg": small,
		"/img/icon.svg":  []byte(`<svg xmlns="http://www.w3.org/2000/svg"/>`),
	}))
	defer srv.Close()

	dir := t.TempDir()
	p := newPipeline(t, srv, dir)
	assets := Plan([]string{srv.URL + "/img/big.png", srv.URL + "/img/icon.svg", srv.URL + "/img/missing.jpg", srv.URL + "/img/small.jpg"})

	var order []int
	out := p.Run(context.Background(), assets, func(i int, _ Result) { order = append(order, i) })
	require.Len(t, out, 4)
	assert.Equal(t, []int{0, 1, 2, 3}, order)

	bigRes := out[0]
	require.NoError(t, bigRes.Err)
	assert.True(t, bigRes.Compressed)
	assert.False(t, bigRes.Existed)
	assert.Equal(t, domain.NumID(11), bigRes.File.ID)
	assert.Equal(t, "/uploads/stored_big.png", bigRes.File.URL)

	svg := out[1]
	require.NoError(t, svg.Err)
	assert.True(t, svg.Unsupported)
	assert.True(t, svg.File.ID.IsZero())

	missing := out[2]
	assert.Equal(t, StageDownload, missing.Stage)
	var se *httpx.StatusError
	require.True(t, errors.As(missing.Err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)

	smallRes := out[3]
	require.NoError(t, smallRes.Err)
	assert.True(t, smallRes.Existed)
	assert.False(t, smallRes.Compressed)
	assert.Equal(t, domain.NumID(5), smallRes.File.ID)

	assert.Equal(t, []string{"big.png|image/jpeg"}, cms.uploads)

	raw, err := os.ReadFile(filepath.Join(dir, AssetsDir, "big.png"))
	require.NoError(t, err)
	assert.Equal(t, big, raw)
	compressed, err := os.ReadFile(filepath.Join(dir, CompressedDir, "big.png"))
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(big))
	copied, err := os.ReadFile(filepath.Join(dir, CompressedDir, "small.jpg"))
	require.NoError(t, err)
	assert.Equal(t, small, copied)
}

func TestPipeline_ReusesDownloadedAssets(t *testing.T) {
	cms := &fakeCMS{}
	srv := httptest.NewServer(cms.handler(t, nil))
	defer srv.Close()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, AssetsDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, AssetsDir, "cached.webp"), []byte("RIFF....WEBPVP8 "), 0o644))

	p := newPipeline(t, srv, dir)
	p.Upload = false
	out := p.Run(context.Background(), Plan([]string{srv.URL + "/img/cached.webp"}), nil)

	require.Len(t, out, 1)
	require.NoError(t, out[0].Err)
	assert.Empty(t, cms.imgGets, "本地已有的图片不应重新下载")
	assert.Empty(t, cms.uploads)
	_, err := os.Stat(filepath.Join(dir, CompressedDir, "cached.webp"))
	assert.NoError(t, err)
}

func TestPipeline_CancelledBeforeBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &Pipeline{Dir: t.TempDir(), Batch: upload.Uploader{BatchSize: 1}}
	out := p.Run(ctx, Plan([]string{"https://cdn.example.com/a.jpg"}), nil)

	require.Len(t, out, 1)
	assert.Equal(t, StageDownload, out[0].Stage)
	assert.ErrorIs(t, out[0].Err, context.Canceled)
	assert.Equal(t, "a.jpg", out[0].Asset.FileName)
}

package run

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/John-Robertt/CMSMIG/internal/config"
	"github.com/John-Robertt/CMSMIG/internal/domain"
	"github.com/John-Robertt/CMSMIG/internal/refdata"
)

// mediaFixture 复用 fixture，但把 Image 列指向 srvURL 上的图片。
func mediaFixture(t *testing.T, srvURL string) (string, config.EffectiveConfig) {
	t.Helper()
	root, eff := fixture(t)
	writeFile(t, filepath.Join(root, "explores.csv"), "Title,Image,Hotel,Description,Notes\n"+
		"Old Town,"+srvURL+"/img/old-town.jpg,,,\n"+
		"Harbour,"+srvURL+"/img/harbour.png,,,\n"+
		"Gone,"+srvURL+"/img/gone.jpg,,,\n"+
		"Again,"+srvURL+"/img/harbour.png,,,\n"+
		"Nothing,none,,,\n")
	eff.Media = config.MediaConfig{Ref: "media", MaxKB: config.DefaultMediaMaxKB, Upload: true}
	return root, eff
}

func TestMedia_DryRun_ListsAssetsWithoutWrites(t *testing.T) {
	root, eff := mediaFixture(t, "https://cdn.example.com")

	obs := &recordObserver{}
	rr := Media(context.Background(), eff, nil, obs)

	if rr.Mode != ModeMedia || !rr.DryRun {
		t.Fatalf("报告头不符合预期：%+v", rr)
	}
	var names []string
	for _, it := range rr.Items {
		if it.Job != "media" || it.Status != domain.StatusProcessed {
			t.Fatalf("dry-run 条目不符合预期：%+v", it)
		}
		names = append(names, it.Name)
	}
	if got := strings.Join(names, ","); got != "gone.jpg,harbour.png,old-town.jpg" {
		t.Fatalf("文件列表不符合预期：%s", got)
	}
	if _, err := os.Stat(filepath.Join(root, "assets")); !os.IsNotExist(err) {
		t.Fatalf("dry-run 不应写出 assets：%v", err)
	}
	if len(obs.items) != 3 {
		t.Fatalf("期望 3 个条目事件，实际 %v", obs.items)
	}
}

func TestMedia_Apply_UploadsAndMergesReference(t *testing.T) {
	var (
		mu      sync.Mutex
		uploads []string
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/img/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/img/old-town.jpg", "/img/harbour.png":
			_, _ = w.Write([]byte("image-bytes"))
		default:
			http.NotFound(w, r)
		}
	})
	mux.HandleFunc("/api/upload/files", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("filters[name][$eq]") == "old-town.jpg" {
			_, _ = w.Write([]byte(`[{"id":7,"name":"old-town.jpg"}]`))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})
	mux.HandleFunc("/api/upload", func(w http.ResponseWriter, r *http.Request) {
		_, hdr, err := r.FormFile("files")
		if err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		mu.Lock()
		uploads = append(uploads, hdr.Filename)
		mu.Unlock()
		_, _ = w.Write([]byte(`[{"id":9,"name":"` + hdr.Filename + `"}]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	root, eff := mediaFixture(t, srv.URL)
	eff.Apply = true
	eff.BaseURL = srv.URL
	eff.APIToken = "tok"

	rr := Media(context.Background(), eff, nil, nil)

	if rr.Summary.Processed != 1 || rr.Summary.Skipped != 1 || rr.Summary.Failed != 1 {
		t.Fatalf("summary 不符合预期：%+v items=%+v", rr.Summary, rr.Items)
	}
	byName := map[string]domain.ItemResult{}
	for _, it := range rr.Items {
		byName[it.Name] = it
	}
	if it := byName["gone.jpg"]; it.ErrorCode != domain.ErrCodeDownloadFailed || !strings.Contains(it.ErrorMsg, "404") {
		t.Fatalf("下载失败项不符合预期：%+v", it)
	}
	if it := byName["old-town.jpg"]; it.Status != domain.StatusSkipped || it.ErrorCode != domain.ErrCodeMediaExists {
		t.Fatalf("已存在项不符合预期：%+v", it)
	}
	if len(uploads) != 1 || uploads[0] != "harbour.png" {
		t.Fatalf("期望只上传 harbour.png，实际 %v", uploads)
	}
	for _, p := range []string{"assets/harbour.png", "compressed-images/harbour.png", "assets/old-town.jpg"} {
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(p))); err != nil {
			t.Fatalf("期望写出 %s：%v", p, err)
		}
	}

	if len(rr.Outputs) != 1 || rr.Outputs[0] != "refs/media.json" {
		t.Fatalf("outputs 不符合预期：%v", rr.Outputs)
	}
	b, err := os.ReadFile(filepath.Join(root, "refs", "media.json"))
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	entries, _, err := refdata.Load(b, refdata.Source{Kind: refdata.KindMedia})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("期望引用表有 3 个文件（7、8 与新增的 9），实际 %d", len(entries))
	}

	// 合并后的引用表可直接被 run 解析。
	rr2 := Execute(context.Background(), eff, nil)
	for _, it := range rr2.Items {
		if it.Name != "Harbour" {
			continue
		}
		for _, is := range it.Issues {
			if is.Field == "Image" {
				t.Fatalf("harbour.png 应能解析，实际 %+v", it)
			}
		}
	}
}

func TestMedia_Apply_WithoutUploadKeepsFilesLocal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			t.Errorf("upload=false 不应访问 CMS：%s", r.URL.Path)
		}
		_, _ = w.Write([]byte("image-bytes"))
	}))
	defer srv.Close()

	root, eff := mediaFixture(t, srv.URL)
	eff.Apply = true
	eff.BaseURL = ""
	eff.Media.Upload = false

	rr := Media(context.Background(), eff, nil, nil)
	if rr.Summary.Processed != 3 || rr.Summary.Failed != 0 || len(rr.Outputs) != 0 {
		t.Fatalf("不符合预期：%+v outputs=%v", rr.Summary, rr.Outputs)
	}
	if _, err := os.Stat(filepath.Join(root, "compressed-images", "gone.jpg")); err != nil {
		t.Fatalf("期望写出压缩目录：%v", err)
	}
}

func TestMedia_RequiresMediaReference(t *testing.T) {
	_, eff := mediaFixture(t, "https://cdn.example.com")
	eff.Media.Ref = "hotels"

	rr := Media(context.Background(), eff, nil, nil)
	if len(rr.Items) != 1 || rr.Items[0].ErrorCode != domain.ErrCodeConfigInvalid {
		t.Fatalf("期望 config_invalid，实际 %+v", rr.Items)
	}
}

func TestMediaColumns_FieldsAndExtraColumns(t *testing.T) {
	_, eff := fixture(t)
	job := eff.Jobs[0]
	job.Fields = append(job.Fields,
		eff.Jobs[0].Fields[1], // 重复列只取一次
	)
	job.Fields[1].Ref = " Media "
	cols := mediaColumns(job, config.MediaConfig{Ref: "media", Columns: []string{"Gallery", "Image"}})
	if len(cols) != 2 || cols[0].Name != "Image" || cols[0].Sep != "" || cols[1].Name != "Gallery" || cols[1].Sep != ";" {
		t.Fatalf("列不符合预期：%+v", cols)
	}
}

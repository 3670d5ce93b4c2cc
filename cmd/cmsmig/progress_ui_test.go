package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/John-Robertt/CMSMIG/internal/config"
	"github.com/John-Robertt/CMSMIG/internal/domain"
	"github.com/John-Robertt/CMSMIG/internal/refdata"
)

func TestFormatIssues(t *testing.T) {
	issues := []domain.Issue{
		{Field: "Image", Code: domain.IssueUnresolvedRef},
		{Field: "hotel", Code: domain.IssueUnresolvedRef},
		{Field: "Rating", Code: domain.IssueInvalidValue},
	}
	if got := formatIssues(issues, 2); got != " issues=Image:unresolved_ref,hotel:unresolved_ref,+1" {
		t.Fatalf("formatIssues 不符合预期：%q", got)
	}
	if got := formatIssues(nil, 3); got != "" {
		t.Fatalf("无 issue 时应为空：%q", got)
	}
}

func TestFormatReferences(t *testing.T) {
	got := formatReferences(map[string]config.ReferenceConfig{
		"media":  {Kind: refdata.KindMedia},
		"hotels": {Kind: refdata.KindEntity, File: "/x/hotels.json"},
	})
	if got != "hotels(entity,file) media(media,cache)" {
		t.Fatalf("formatReferences 不符合预期：%q", got)
	}
}

func TestProgressUI_ItemLines(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressUI(&buf)

	p.OnPhaseDone("map", map[string]any{"job": "explores", "rows": 2, "records": 1, "issues": 0}, time.Millisecond)
	if !p.tickerStarted {
		t.Fatalf("有行时应启动 keepalive")
	}
	p.OnItemDone(1, 2, "explores#1", domain.ItemResult{Name: "Old Town", Status: domain.StatusProcessed}, 0)
	p.OnItemDone(2, 2, "explores#2", domain.ItemResult{Name: "row 2", Status: domain.StatusSkipped, ErrorCode: domain.ErrCodeEmptyRecord}, 0)
	if p.tickerStarted {
		t.Fatalf("最后一行完成后应停止 keepalive")
	}

	out := buf.String()
	for _, want := range []string{"映射 explores: rows=2", "[1/2] explores#1 OK Old Town", "[2/2] explores#2 SKIP row 2 empty_record"} {
		if !strings.Contains(out, want) {
			t.Fatalf("输出缺少 %q：\n%s", want, out)
		}
	}
}

func TestProgressUI_ExtractPhase(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressUI(&buf)

	p.OnPhaseDone("extract", map[string]any{"jobs": 2, "urls": 1}, time.Millisecond)
	if !p.tickerStarted {
		t.Fatalf("有图片时应启动 keepalive")
	}
	p.OnItemDone(1, 1, "media#1", domain.ItemResult{Name: "harbour.png", Status: domain.StatusSkipped, ErrorCode: domain.ErrCodeMediaExists}, 0)
	if p.tickerStarted {
		t.Fatalf("最后一个图片完成后应停止 keepalive")
	}

	out := buf.String()
	for _, want := range []string{"图片: jobs=2 urls=1", "[1/1] media#1 SKIP harbour.png media_exists"} {
		if !strings.Contains(out, want) {
			t.Fatalf("输出缺少 %q：\n%s", want, out)
		}
	}
}

package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	StatusProcessed = "processed"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

const (
	ErrCodeEmptyRecord       = "empty_record"
	ErrCodeCSVReadFailed     = "csv_read_failed"
	ErrCodeRefLoadFailed     = "ref_load_failed"
	ErrCodeIOFailed          = "io_failed"
	ErrCodeUploadFailed      = "upload_failed"
	ErrCodeDownloadFailed    = "download_failed"
	ErrCodeMediaExists       = "media_exists"
	ErrCodeMediaUnsupported  = "media_unsupported"
	ErrCodeConfigNotFound    = "config_not_found"
	ErrCodeConfigInvalid     = "config_invalid"
	ErrCodeConfigMissingPath = "config_missing_path"
)

// 行内问题码（不会让行失败，只会让对应字段被省略）。
const (
	IssueUnresolvedRef = "unresolved_ref"
	IssueAmbiguousRef  = "ambiguous_ref"
	IssueInvalidValue  = "invalid_value"
)

// RunReport 是对外稳定输出（report.json / stdout JSON）的结构。
type RunReport struct {
	Path   string `json:"path"`
	Mode   string `json:"mode"`
	DryRun bool   `json:"dry_run"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Summary ReportSummary `json:"summary"`
	Items   []ItemResult  `json:"items"`

	Unresolved []UnresolvedRef `json:"unresolved"`
	Ambiguous  []AmbiguousRef  `json:"ambiguous"`
	Outputs    []string        `json:"outputs"`
}

type ReportSummary struct {
	Processed  int `json:"processed"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
	Unresolved int `json:"unresolved"`
	Ambiguous  int `json:"ambiguous"`
}

// ItemResult 对应 CSV 的一行（或一个合成的失败项，此时 Job/Row 为空）。
type ItemResult struct {
	Job  string `json:"job"`
	Row  int    `json:"row"`
	Name string `json:"name"`

	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`

	Issues []Issue `json:"issues"`
}

// Issue 描述一行中被省略的字段及原因。
type Issue struct {
	Field string `json:"field"`
	Code  string `json:"code"`
	Value string `json:"value"`
}

// UnresolvedRef 是某张引用表中无法解析的规范化查找值（已去重）。
type UnresolvedRef struct {
	Reference string `json:"reference"`
	Key       string `json:"key"`
}

// AmbiguousRef 是 fuzzy 阶段命中多个不同 ID 的查找值。
type AmbiguousRef struct {
	Reference  string  `json:"reference"`
	Key        string  `json:"key"`
	Candidates []RefID `json:"candidates"`
}

// Finalize 做三件事：
// 1) 时间统一为 UTC（确保 JSON 为 RFC3339 且后缀 Z）
// 2) items 稳定排序：按 job 字典序、再按 row；job=="" 的合成项排在最后
// 3) summary 由 items 与诊断列表计算得出
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	sort.SliceStable(r.Items, func(i, j int) bool {
		a, b := r.Items[i], r.Items[j]
		if a.Job == "" || b.Job == "" {
			return a.Job != "" && b.Job == ""
		}
		if a.Job != b.Job {
			return a.Job < b.Job
		}
		return a.Row < b.Row
	})
	sort.SliceStable(r.Unresolved, func(i, j int) bool {
		return r.Unresolved[i].Reference < r.Unresolved[j].Reference
	})
	sort.SliceStable(r.Ambiguous, func(i, j int) bool {
		return r.Ambiguous[i].Reference < r.Ambiguous[j].Reference
	})

	var s ReportSummary
	for _, it := range r.Items {
		switch it.Status {
		case StatusProcessed:
			s.Processed++
		case StatusSkipped:
			s.Skipped++
		case StatusFailed:
			s.Failed++
		}
	}
	s.Unresolved = len(r.Unresolved)
	s.Ambiguous = len(r.Ambiguous)
	r.Summary = s
}

// OK 表示本次运行没有失败项，也没有未解析/歧义引用。
func (r RunReport) OK() bool {
	return r.Summary.Failed == 0 && r.Summary.Unresolved == 0 && r.Summary.Ambiguous == 0
}

// MarshalJSON 仅用于集中约束输出的稳定性：nil 切片统一输出为 []。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	a := Alias(r)
	if a.Items == nil {
		a.Items = []ItemResult{}
	}
	if a.Unresolved == nil {
		a.Unresolved = []UnresolvedRef{}
	}
	if a.Ambiguous == nil {
		a.Ambiguous = []AmbiguousRef{}
	}
	if a.Outputs == nil {
		a.Outputs = []string{}
	}
	return json.Marshal(a)
}

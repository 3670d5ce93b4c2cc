package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/John-Robertt/CMSMIG/internal/mapping"
	"github.com/John-Robertt/CMSMIG/internal/refdata"
	"github.com/John-Robertt/CMSMIG/internal/resolve"
)

const (
	// ErrCodeNotFound 表示无参运行但 cwd 下没有 cmsmig 配置文件。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeMissingPath 表示无参运行但配置文件缺少 path 字段。
	ErrCodeMissingPath = "config_missing_path"
)

const (
	ModeCollection = "collection"
	ModeUpload     = "upload"
)

const (
	DefaultMode         = ModeCollection
	DefaultBatchSize    = 10
	MaxBatchSize        = 50
	DefaultBatchDelayMS = 2000
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
	DefaultMediaRef     = "media"
	DefaultMediaMaxKB   = 400
)

// EnvPrefix 用于环境变量覆盖（CMSMIG_API_TOKEN / CMSMIG_BASE_URL）。
const EnvPrefix = "CMSMIG"

// FileNames 是配置文件的候选名，按顺序取第一个存在的。
var FileNames = []string{"cmsmig.json", "cmsmig.yaml", "cmsmig.yml"}

// CLIArgs 只包含 CLI 暴露的入口，并保留“是否显式指定”的信息。
// 这能保证覆盖优先级可实现：例如 --apply=false 必须能覆盖 config.apply=true。
type CLIArgs struct {
	Path string

	Mode    string
	ModeSet bool

	Apply    bool
	ApplySet bool

	// Jobs 非空时只运行这些任务（按配置中的顺序）。
	Jobs []string

	LogLevel     string
	LogLevelSet  bool
	LogFormat    string
	LogFormatSet bool
}

// FileConfig 对应 cmsmig.{json,yaml,yml} 的解析结构（已合并默认值与环境变量）。
type FileConfig struct {
	Path          string                     `mapstructure:"path"`
	Apply         bool                       `mapstructure:"apply"`
	Mode          string                     `mapstructure:"mode"`
	BaseURL       string                     `mapstructure:"base_url"`
	APIToken      string                     `mapstructure:"api_token"`
	Proxy         ProxyConfig                `mapstructure:"proxy"`
	BatchSize     int                        `mapstructure:"batch_size"`
	BatchDelayMS  int                        `mapstructure:"batch_delay_ms"`
	HashPrefixLen int                        `mapstructure:"hash_prefix_len"`
	Fuzzy         string                     `mapstructure:"fuzzy"`
	MinFuzzyLen   int                        `mapstructure:"min_fuzzy_len"`
	Log           LogConfig                  `mapstructure:"log"`
	Out           OutConfig                  `mapstructure:"out"`
	Media         MediaConfig                `mapstructure:"media"`
	References    map[string]ReferenceConfig `mapstructure:"references"`
	Jobs          []JobConfig                `mapstructure:"jobs"`
}

type ProxyConfig struct {
	URL string `mapstructure:"url"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type OutConfig struct {
	// Overwrite 为 false 时，已存在的集合文件会导致该任务失败。
	Overwrite bool `mapstructure:"overwrite"`
}

// MediaConfig 控制 media 命令：图片来自各任务中 ref 指向 Ref 的 media / media_list 字段列，
// 以及 Columns 额外列出的列。上传得到的文件 id 并入引用表 Ref。
type MediaConfig struct {
	Ref     string   `mapstructure:"ref" json:"ref"`
	Columns []string `mapstructure:"columns" json:"columns"`
	MaxKB   int      `mapstructure:"max_kb" json:"max_kb"`
	Upload  bool     `mapstructure:"upload" json:"upload"`
}

// ReferenceConfig 描述一个引用表：数据来自 File（相对 path），或 fetch-refs 从 Endpoint 拉取后的缓存。
type ReferenceConfig struct {
	Kind      refdata.Kind `mapstructure:"kind" json:"kind"`
	File      string       `mapstructure:"file" json:"file"`
	Endpoint  string       `mapstructure:"endpoint" json:"endpoint"`
	KeyFields []string     `mapstructure:"key_fields" json:"key_fields"`
	IDField   string       `mapstructure:"id_field" json:"id_field"`
	// Fuzzy 覆盖全局 fuzzy 设置（空则沿用全局）。
	Fuzzy string `mapstructure:"fuzzy" json:"fuzzy"`
}

// 任务动作：create 新建条目（POST），update 按 match 找到已有条目后更新（PUT）。
const (
	ActionCreate = "create"
	ActionUpdate = "update"
)

// JobConfig 是一个迁移任务：一份 CSV → 一个 CMS 集合。
type JobConfig struct {
	Name       string          `mapstructure:"name" json:"name"`
	CSV        string          `mapstructure:"csv" json:"csv"`
	Endpoint   string          `mapstructure:"endpoint" json:"endpoint"`
	NameColumn string          `mapstructure:"name_column" json:"name_column"`
	Action     string          `mapstructure:"action" json:"action"`
	Match      MatchConfig     `mapstructure:"match" json:"match"`
	PartSize   int             `mapstructure:"part_size" json:"part_size"`
	TestSize   int             `mapstructure:"test_size" json:"test_size"`
	Fields     []mapping.Field `mapstructure:"fields" json:"fields"`
}

// MatchConfig 描述 update 任务如何定位目标条目：用 Column 列的值在实体引用表 Ref 中解析出 documentId。
type MatchConfig struct {
	Ref    string `mapstructure:"ref" json:"ref"`
	Column string `mapstructure:"column" json:"column"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
// 路径字段均已是绝对路径。
type EffectiveConfig struct {
	Path       string `json:"path"`
	ConfigFile string `json:"-"` // 实际读取的配置文件；不存在时为空

	Apply bool   `json:"apply"`
	Mode  string `json:"mode"`

	BaseURL    string        `json:"base_url"`
	APIToken   string        `json:"-"`
	ProxyURL   string        `json:"proxy_url"`
	BatchSize  int           `json:"batch_size"`
	BatchDelay time.Duration `json:"batch_delay"`

	// HashPrefixLen 为 0 表示关闭哈希前缀匹配。
	HashPrefixLen int               `json:"hash_prefix_len"`
	Fuzzy         resolve.FuzzyMode `json:"fuzzy"`
	MinFuzzyLen   int               `json:"min_fuzzy_len"`

	LogLevel     string `json:"log_level"`
	LogFormat    string `json:"log_format"`
	OutOverwrite bool   `json:"out_overwrite"`

	Media      MediaConfig                `json:"media"`
	References map[string]ReferenceConfig `json:"references"`
	Jobs       []JobConfig                `json:"jobs"`
}

// ResolveOptions 返回引用表 name 的解析选项（引用表级 fuzzy 覆盖全局）。
func (e EffectiveConfig) ResolveOptions(name string) resolve.Options {
	opts := resolve.Options{
		HashPrefixLen: e.HashPrefixLen,
		Fuzzy:         e.Fuzzy,
		MinFuzzyLen:   e.MinFuzzyLen,
	}
	if opts.HashPrefixLen == 0 {
		opts.HashPrefixLen = -1
	}
	if rc, ok := e.References[name]; ok && strings.TrimSpace(rc.Fuzzy) != "" {
		if m, err := resolve.ParseFuzzyMode(rc.Fuzzy); err == nil {
			opts.Fuzzy = m
		}
	}
	return opts
}

// Source 返回引用表 name 的数据集解读方式。
func (e EffectiveConfig) Source(name string) refdata.Source {
	rc := e.References[name]
	return refdata.Source{
		Name:          name,
		Kind:          rc.Kind,
		KeyFields:     append([]string(nil), rc.KeyFields...),
		IDField:       rc.IDField,
		HashPrefixLen: e.HashPrefixLen,
	}
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeMissingPath:
		return fmt.Sprintf("%s：配置文件 %q 缺少必填字段 path", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 发现并读取配置文件，然后与 CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 path：尝试读取 <path>/cmsmig.{json,yaml,yml}（可选）
// 2) CLI 未提供 path：必须读取 <cwd>/cmsmig.{json,yaml,yml}（必选），且其中必须包含 path
//
// 覆盖优先级（固定）：
// - path / mode / apply / 日志：CLI > 配置文件 > 默认
// - api_token / base_url：环境变量 CMSMIG_* > 配置文件
// - 其他字段：仅由配置文件控制
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	if strings.TrimSpace(cli.Path) != "" {
		// CLI 给了 path：配置文件可选。
		absPath := absCleanFrom(cwdAbs, cli.Path)
		cfgPath, exists := findConfigFile(absPath)
		fc, err := readFileConfig(cfgPath, exists)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		if !exists {
			cfgPath = ""
		}
		return merge(absPath, cli, fc, cfgPath)
	}

	// CLI 没给 path：cwd 下必须有配置文件，且其中必须包含 path。
	cfgPath, exists := findConfigFile(cwdAbs)
	if !exists {
		return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
	}
	fc, err := readFileConfig(cfgPath, true)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	if strings.TrimSpace(fc.Path) == "" {
		return EffectiveConfig{}, &Error{Code: ErrCodeMissingPath, Path: cfgPath}
	}

	absPath := absCleanFrom(filepath.Dir(cfgPath), fc.Path)
	return merge(absPath, cli, fc, cfgPath)
}

func merge(absPath string, cli CLIArgs, fc FileConfig, cfgPath string) (EffectiveConfig, error) {
	invalid := func(err error) (EffectiveConfig, error) {
		p := cfgPath
		if p == "" {
			p = absPath
		}
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: p, Err: err}
	}

	mode := strings.ToLower(strings.TrimSpace(fc.Mode))
	if cli.ModeSet {
		mode = strings.ToLower(strings.TrimSpace(cli.Mode))
	}
	apply := fc.Apply
	if cli.ApplySet {
		apply = cli.Apply
	}
	logLevel := strings.TrimSpace(fc.Log.Level)
	if cli.LogLevelSet {
		logLevel = strings.TrimSpace(cli.LogLevel)
	}
	logFormat := strings.TrimSpace(fc.Log.Format)
	if cli.LogFormatSet {
		logFormat = strings.TrimSpace(cli.LogFormat)
	}

	// 文档约定：batch_size 范围 [1, 50]；超出截断。
	batch := fc.BatchSize
	if batch < 1 {
		batch = 1
	}
	if batch > MaxBatchSize {
		batch = MaxBatchSize
	}

	fuzzy, err := resolve.ParseFuzzyMode(fc.Fuzzy)
	if err != nil {
		return invalid(err)
	}

	refs := make(map[string]ReferenceConfig, len(fc.References))
	for name, rc := range fc.References {
		if strings.TrimSpace(rc.File) != "" {
			rc.File = absCleanFrom(absPath, rc.File)
		}
		refs[strings.ToLower(strings.TrimSpace(name))] = rc
	}

	jobs, err := selectJobs(fc.Jobs, cli.Jobs)
	if err != nil {
		return invalid(err)
	}
	for i := range jobs {
		j := &jobs[i]
		j.CSV = absCleanFrom(absPath, j.CSV)
		j.Action = strings.ToLower(strings.TrimSpace(j.Action))
		if j.Action == "" {
			j.Action = ActionCreate
		}
		j.Match.Ref = strings.ToLower(strings.TrimSpace(j.Match.Ref))
		if j.Match.Column == "" {
			j.Match.Column = j.NameColumn
		}
	}

	media := fc.Media
	media.Ref = strings.ToLower(strings.TrimSpace(media.Ref))

	eff := EffectiveConfig{
		Path:          absPath,
		ConfigFile:    cfgPath,
		Apply:         apply,
		Mode:          mode,
		BaseURL:       strings.TrimRight(strings.TrimSpace(fc.BaseURL), "/"),
		APIToken:      strings.TrimSpace(fc.APIToken),
		ProxyURL:      strings.TrimSpace(fc.Proxy.URL),
		BatchSize:     batch,
		BatchDelay:    time.Duration(max(fc.BatchDelayMS, 0)) * time.Millisecond,
		HashPrefixLen: max(fc.HashPrefixLen, 0),
		Fuzzy:         fuzzy,
		MinFuzzyLen:   fc.MinFuzzyLen,
		LogLevel:      logLevel,
		LogFormat:     logFormat,
		OutOverwrite:  fc.Out.Overwrite,
		Media:         media,
		References:    refs,
		Jobs:          jobs,
	}
	if err := eff.Validate(); err != nil {
		return invalid(err)
	}
	return eff, nil
}

// Validate 校验合并后的配置。
func (e EffectiveConfig) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Mode, validation.Required, validation.In(ModeCollection, ModeUpload)),
		validation.Field(&e.BaseURL,
			validation.When(e.Mode == ModeUpload && e.Apply, validation.Required.Error("upload 模式必须配置 base_url")),
			validation.By(httpURL)),
		validation.Field(&e.ProxyURL, validation.By(httpURL)),
		validation.Field(&e.LogLevel, validation.By(logLevel)),
		validation.Field(&e.LogFormat, validation.In("text", "json")),
		validation.Field(&e.Media),
		validation.Field(&e.References),
		validation.Field(&e.Jobs, validation.By(e.jobRefs)),
	)
}

// Validate 校验 media 配置（引用表是否存在、kind 是否为 media 由 media 命令检查）。
func (m MediaConfig) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Ref, validation.Required),
		validation.Field(&m.MaxKB, validation.Min(1)),
	)
}

// Validate 校验单个引用表配置。
func (r ReferenceConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Kind, validation.Required, validation.In(refdata.KindMedia, refdata.KindEntity)),
		validation.Field(&r.File, validation.When(strings.TrimSpace(r.Endpoint) == "", validation.Required.Error("file 与 endpoint 至少配置一个"))),
		validation.Field(&r.KeyFields, validation.When(r.Kind == refdata.KindEntity, validation.Required)),
		validation.Field(&r.Fuzzy, validation.By(func(v any) error {
			_, err := resolve.ParseFuzzyMode(v.(string))
			return err
		})),
	)
}

// Validate 校验单个任务配置（字段引用表是否存在由 EffectiveConfig 校验）。
func (j JobConfig) Validate() error {
	return validation.ValidateStruct(&j,
		validation.Field(&j.Name, validation.Required),
		validation.Field(&j.CSV, validation.Required),
		validation.Field(&j.Endpoint, validation.Required),
		validation.Field(&j.Action, validation.In(ActionCreate, ActionUpdate)),
		validation.Field(&j.Match, validation.When(j.Action == ActionUpdate, validation.By(match))),
		validation.Field(&j.PartSize, validation.Min(0)),
		validation.Field(&j.TestSize, validation.Min(0)),
		validation.Field(&j.Fields, validation.Required, validation.Each(validation.By(field))),
	)
}

func match(v any) error {
	m, _ := v.(MatchConfig)
	return validation.ValidateStruct(&m,
		validation.Field(&m.Ref, validation.Required.Error("update 任务必须配置 match.ref")),
		validation.Field(&m.Column, validation.Required.Error("update 任务必须配置 match.column 或 name_column")),
	)
}

func field(v any) error {
	f, ok := v.(mapping.Field)
	if !ok {
		return nil
	}
	return validation.ValidateStruct(&f,
		validation.Field(&f.Name, validation.Required),
		validation.Field(&f.Type, validation.Required, validation.In(mapping.Kinds()...)),
		validation.Field(&f.Column, validation.When(f.Type != mapping.KindConst && f.From == "", validation.Required)),
		validation.Field(&f.Value, validation.When(f.Type == mapping.KindConst, validation.NotNil)),
		validation.Field(&f.Ref, validation.When(f.Type.NeedsRef(), validation.Required)),
	)
}

func (e EffectiveConfig) jobRefs(v any) error {
	jobs, _ := v.([]JobConfig)
	for _, j := range jobs {
		if j.Action == ActionUpdate && j.Match.Ref != "" {
			rc, ok := e.References[j.Match.Ref]
			if !ok {
				return fmt.Errorf("任务 %q 的 match.ref 引用了未定义的 references.%s", j.Name, j.Match.Ref)
			}
			if rc.Kind != refdata.KindEntity {
				return fmt.Errorf("任务 %q 的 match.ref 必须是 entity 引用表，实际为 %s", j.Name, rc.Kind)
			}
		}
		for _, f := range j.Fields {
			if !f.Type.NeedsRef() || f.Ref == "" {
				continue
			}
			if _, ok := e.References[strings.ToLower(f.Ref)]; !ok {
				return fmt.Errorf("任务 %q 的字段 %q 引用了未定义的 references.%s", j.Name, f.Name, f.Ref)
			}
		}
	}
	return nil
}

func httpURL(v any) error {
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("必须是绝对 URL：%q", s)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("必须是 http/https：%q", s)
	}
	return nil
}

func logLevel(v any) error {
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	if _, err := logrus.ParseLevel(s); err != nil {
		return fmt.Errorf("未知日志级别：%q", s)
	}
	return nil
}

// selectJobs 按 CLI --job 过滤任务；未知名称是配置错误。
func selectJobs(all []JobConfig, names []string) ([]JobConfig, error) {
	if len(names) == 0 {
		return append([]JobConfig(nil), all...), nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[strings.TrimSpace(n)] = true
	}
	var out []JobConfig
	for _, j := range all {
		if want[j.Name] {
			out = append(out, j)
			delete(want, j.Name)
		}
	}
	for _, n := range names {
		if want[strings.TrimSpace(n)] {
			return nil, fmt.Errorf("未定义的任务：%q", n)
		}
	}
	return out, nil
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
// - p 若已是绝对路径：直接 Clean
// - p 若是相对路径：Join(base, p) 后 Clean
func absCleanFrom(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// findConfigFile 返回 dir 下第一个存在的配置文件；都不存在时返回首选名与 false。
func findConfigFile(dir string) (string, bool) {
	for _, n := range FileNames {
		p := filepath.Join(dir, n)
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p, true
		}
	}
	return filepath.Join(dir, FileNames[0]), false
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("mode", DefaultMode)
	v.SetDefault("apply", false)
	v.SetDefault("batch_size", DefaultBatchSize)
	v.SetDefault("batch_delay_ms", DefaultBatchDelayMS)
	v.SetDefault("hash_prefix_len", resolve.DefaultHashPrefixLen)
	v.SetDefault("fuzzy", string(resolve.FuzzyOff))
	v.SetDefault("min_fuzzy_len", resolve.DefaultMinFuzzyLen)
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)
	v.SetDefault("out.overwrite", true)
	v.SetDefault("media.ref", DefaultMediaRef)
	v.SetDefault("media.max_kb", DefaultMediaMaxKB)
	v.SetDefault("media.upload", true)

	v.SetEnvPrefix(EnvPrefix)
	_ = v.BindEnv("api_token")
	_ = v.BindEnv("base_url")
	return v
}

// readFileConfig 读取并解析配置文件；exists=false 时只合并默认值与环境变量。
func readFileConfig(path string, exists bool) (FileConfig, error) {
	v := newViper()
	if exists {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return FileConfig{}, err
		}
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return FileConfig{}, err
	}
	return fc, nil
}

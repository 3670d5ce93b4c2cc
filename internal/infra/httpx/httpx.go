package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "cmsmig/1.0"
)

// Transport 把“API token + UA + 代理/keep-alive 策略”固化为统一策略。
//
// 上层（refdata / upload）只负责拼 URL 和处理响应，不关心鉴权与网络细节。
// 不做重试：失败的请求由上层记录并跳过。
type Transport struct {
	Base *http.Transport

	// Token 非空时为每个请求注入 "Authorization: Bearer <token>"（调用方已显式设置则不覆盖）。
	Token     string
	UserAgent string

	// DisableKeepAlives 决定是否对 Request 设置 Close=true（额外保险）。
	// 真正禁用 keep-alive 依赖 Base.DisableKeepAlives。
	DisableKeepAlives bool
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	if t.Base == nil {
		return nil, errors.New("nil base transport")
	}

	// Clone 会复制 Header 等，避免在 RoundTripper 内部“污染”调用方的 request。
	r := req.Clone(req.Context())
	if t.Token != "" && r.Header.Get("Authorization") == "" {
		r.Header.Set("Authorization", "Bearer "+t.Token)
	}
	if r.Header.Get("User-Agent") == "" {
		ua := t.UserAgent
		if ua == "" {
			ua = defaultUserAgent
		}
		r.Header.Set("User-Agent", ua)
	}
	if r.Header.Get("Accept") == "" {
		r.Header.Set("Accept", "application/json")
	}
	if t.DisableKeepAlives {
		r.Close = true
	}
	return t.Base.RoundTrip(r)
}

type Options struct {
	Token     string
	ProxyURL  string
	UserAgent string
	Timeout   time.Duration
}

// NewAPIClient 构造访问 CMS REST API 的 HTTP client。
//
// 规则：
// - ProxyURL 非空：必须走代理，且禁用 keep-alive（每请求新连接）
// - Token 非空：自动注入 Bearer 鉴权头
// - 总超时默认 30s
func NewAPIClient(opts Options) (*http.Client, error) {
	base := &http.Transport{
		Proxy:                 nil,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 20 * time.Second,
		MaxIdleConnsPerHost:   16,
	}

	disableKeepAlives := false
	if p := strings.TrimSpace(opts.ProxyURL); p != "" {
		u, err := url.Parse(p)
		if err != nil {
			return nil, err
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, errors.New("proxy.url 必须是绝对 URL")
		}
		base.Proxy = http.ProxyURL(u)
		base.DisableKeepAlives = true
		disableKeepAlives = true
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{
		Transport: &Transport{
			Base:              base,
			Token:             strings.TrimSpace(opts.Token),
			UserAgent:         strings.TrimSpace(opts.UserAgent),
			DisableKeepAlives: disableKeepAlives,
		},
		Timeout: timeout,
	}, nil
}

// APIURL 返回 {baseURL}/api/{endpoint}。
func APIURL(baseURL, endpoint string) (*url.URL, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("base_url 不能为空")
	}
	ep := strings.Trim(strings.TrimSpace(endpoint), "/")
	if ep == "" {
		return nil, fmt.Errorf("endpoint 不能为空")
	}
	u, err := url.Parse(base + "/api/" + ep)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base_url 必须是绝对 URL：%q", baseURL)
	}
	return u, nil
}

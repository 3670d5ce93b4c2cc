package httpx

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"
)

const maxBodySnippet = 512

// StatusError 表示 CMS 返回了非 2xx 的 HTTP 状态码。
// Body 为响应体的前若干字节，用于生成可操作的 error_msg。
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e == nil {
		return "HTTP status error"
	}
	if e.Body == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// CheckResponse 在非 2xx 时读取响应体片段并返回 *StatusError；2xx 返回 nil。
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySnippet))
	snippet := strings.TrimSpace(strings.ToValidUTF8(string(b), string(utf8.RuneError)))
	e := &StatusError{StatusCode: resp.StatusCode, Body: snippet}
	if resp.Request != nil {
		e.Method = resp.Request.Method
		e.URL = resp.Request.URL.String()
	}
	return e
}

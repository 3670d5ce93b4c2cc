// Package logging 构造结构化日志器。日志只写 stderr（或调用方指定的 writer），stdout 留给运行报告。
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

type Options struct {
	Level  string // trace/debug/info/warn/error；空为 info
	Format string // text/json；空为 text
	Out    io.Writer
	// Color 仅对 text 格式生效（通常在 stderr 是 TTY 时开启）。
	Color bool
}

// New 按 Options 构造 logger。
func New(opts Options) (*logrus.Logger, error) {
	lvl := logrus.InfoLevel
	if s := strings.TrimSpace(opts.Level); s != "" {
		l, err := logrus.ParseLevel(s)
		if err != nil {
			return nil, fmt.Errorf("未知日志级别：%q", s)
		}
		lvl = l
	}

	var f logrus.Formatter
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", FormatText:
		f = &logrus.TextFormatter{
			DisableColors:    !opts.Color,
			FullTimestamp:    true,
			TimestampFormat:  "15:04:05",
			DisableQuote:     true,
			QuoteEmptyFields: true,
		}
	case FormatJSON:
		f = &logrus.JSONFormatter{}
	default:
		return nil, fmt.Errorf("未知日志格式：%q（可选 text/json）", opts.Format)
	}

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(lvl)
	l.SetFormatter(f)
	return l, nil
}

// Discard 返回丢弃所有输出的 logger（测试与库调用方未提供 logger 时使用）。
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

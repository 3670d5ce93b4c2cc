package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNew_JSONToWriter(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Level: "debug", Format: "json", Out: &buf})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	l.WithField("job", "explores").Debug("开始")

	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m); err != nil {
		t.Fatalf("期望 JSON 日志行，实际=%q err=%v", buf.String(), err)
	}
	if m["msg"] != "开始" || m["job"] != "explores" || m["level"] != "debug" {
		t.Fatalf("日志字段不符合预期：%v", m)
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Level: "warn", Out: &buf})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	l.Info("隐藏")
	l.Warn("可见")
	if strings.Contains(buf.String(), "隐藏") || !strings.Contains(buf.String(), "可见") {
		t.Fatalf("级别过滤不符合预期：%q", buf.String())
	}
	if l.GetLevel() != logrus.WarnLevel {
		t.Fatalf("期望 warn，实际=%v", l.GetLevel())
	}
}

func TestNew_Invalid(t *testing.T) {
	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Fatalf("期望未知级别报错")
	}
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatalf("期望未知格式报错")
	}
}

func TestDiscard(t *testing.T) {
	Discard().Error("不应输出")
}

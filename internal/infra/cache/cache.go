package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/John-Robertt/CMSMIG/internal/infra/fsx"
)

// Store 提供 <path>/cache/ 下的文件缓存读写：
// - cache/refs/<name>.json：从 CMS 拉取的引用数据集
// - cache/report.json：最近一次 apply 的运行报告
//
// 约束：
// - dry-run：只允许读（ReadOnly=true）
// - apply / fetch-refs：允许写（ReadOnly=false）
type Store struct {
	Root     string // <path>（工作根目录）
	ReadOnly bool
}

var ErrReadOnly = errors.New("cache: read-only")

func New(root string, readOnly bool) Store {
	return Store{
		Root:     filepath.Clean(strings.TrimSpace(root)),
		ReadOnly: readOnly,
	}
}

func (s Store) refsDir() string { return filepath.Join(s.Root, "cache", "refs") }

// RefPath 返回引用数据集缓存的绝对路径。
func (s Store) RefPath(name string) (string, error) {
	n, err := cleanName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.refsDir(), n+".json"), nil
}

// ReadRef 读取引用数据集缓存；不存在时返回 ok=false 且 err=nil。
func (s Store) ReadRef(name string) ([]byte, bool, error) {
	path, err := s.RefPath(name)
	if err != nil {
		return nil, false, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

func (s Store) WriteRef(name string, data []byte) error {
	if s.ReadOnly {
		return ErrReadOnly
	}
	n, err := cleanName(name)
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomicReplace(s.refsDir(), n+".json", data)
}

func (s Store) ReportPath() string { return filepath.Join(s.Root, "cache", "report.json") }

func (s Store) WriteReport(data []byte) error {
	if s.ReadOnly {
		return ErrReadOnly
	}
	return fsx.WriteFileAtomicReplace(filepath.Join(s.Root, "cache"), "report.json", data)
}

var refNameRE = regexp.MustCompile(`^[a-z0-9_-]+$`)

func cleanName(n string) (string, error) {
	n = strings.ToLower(strings.TrimSpace(n))
	if n == "" {
		return "", fmt.Errorf("引用名不能为空")
	}
	// 最小约束：避免路径穿越。
	if !refNameRE.MatchString(n) {
		return "", fmt.Errorf("非法引用名：%q", n)
	}
	return n, nil
}

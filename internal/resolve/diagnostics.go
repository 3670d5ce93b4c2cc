package resolve

import (
	"sync"

	"github.com/John-Robertt/CMSMIG/internal/domain"
)

// Ambiguous 是 fuzzy 阶段命中多个不同 ID 的查找值（候选已排序）。
type Ambiguous struct {
	Key        string
	Candidates []domain.RefID
}

// Diagnostics 收集解析失败的查找值；同一个值只记录一次，保持首次出现顺序。
// 可被多个 goroutine 共享。
type Diagnostics struct {
	mu sync.Mutex

	unresolved     []string
	seenUnresolved map[string]struct{}

	ambiguous     []Ambiguous
	seenAmbiguous map[string]struct{}
}

func NewDiagnostics() *Diagnostics {
	return &Diagnostics{
		seenUnresolved: map[string]struct{}{},
		seenAmbiguous:  map[string]struct{}{},
	}
}

func (d *Diagnostics) recordUnresolved(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seenUnresolved[key]; ok {
		return
	}
	d.seenUnresolved[key] = struct{}{}
	d.unresolved = append(d.unresolved, key)
}

func (d *Diagnostics) recordAmbiguous(key string, cands []domain.RefID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seenAmbiguous[key]; ok {
		return
	}
	d.seenAmbiguous[key] = struct{}{}
	d.ambiguous = append(d.ambiguous, Ambiguous{Key: key, Candidates: append([]domain.RefID(nil), cands...)})
}

// Unresolved 返回未解析值（首次出现顺序）的副本。
func (d *Diagnostics) Unresolved() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.unresolved...)
}

func (d *Diagnostics) Ambiguous() []Ambiguous {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Ambiguous(nil), d.ambiguous...)
}

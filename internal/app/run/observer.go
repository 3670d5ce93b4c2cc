package run

import (
	"time"

	"github.com/John-Robertt/CMSMIG/internal/config"
	"github.com/John-Robertt/CMSMIG/internal/domain"
)

// Observer 用于把“运行进度/阶段/条目结果”从核心执行流程中解耦出来。
//
// 约束：
// - run 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
// - Observer 的实现必须并发安全：CLI 的 keepalive ticker 与事件回调并发访问。
type Observer interface {
	// OnStart 在 ExecuteWithObserver 开始时调用（应尽量早，保证用户 1 秒内看到输出）。
	OnStart(eff config.EffectiveConfig)
	// OnPhaseDone 在阶段结束时调用：refs（每次运行一次）、map / emit（每个任务一次）。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
	// OnItemDone 在某一行处理完成时调用；idx/total 为任务内计数，key 形如 "explores#12"。
	OnItemDone(idx, total int, key string, res domain.ItemResult, dur time.Duration)
}

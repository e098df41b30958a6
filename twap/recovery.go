package twap

import (
	"context"

	"trade-exec-go/infrastructure/logger"
	"trade-exec-go/internal/store"
)

// ResumeAll 启动恢复：读取 owner 的活跃 TWAP 记录并重建调度器。
// FilledSize 等进度计数从记录还原，已成交分片不会重复下单，
// 剩余量按原间隔继续调度。owner 为空时恢复全部归属。
func ResumeAll(ctx context.Context, st *store.Store, ex Executor, owner string, log *logger.Logger) ([]*Scheduler, error) {
	recs, err := st.ListActiveTwaps(owner)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}

	var out []*Scheduler
	for _, r := range recs {
		s := FromRecord(ex, st, r, log)
		if err := s.Start(ctx); err != nil {
			log.LogError(err, map[string]interface{}{"twap_id": r.ID})
			continue
		}
		log.LogLifecycle("twap", r.ID, "resumed", map[string]interface{}{
			"filled_size":      r.FilledSize,
			"slices_completed": r.SlicesCompleted,
		})
		out = append(out, s)
	}
	return out, nil
}

package bracket

import (
	"context"

	"trade-exec-go/infrastructure/logger"
	"trade-exec-go/internal/store"
)

// ResumeAll 启动恢复：读取 owner 的活跃记录，为每条至少有一个
// 已知腿单号的记录重建控制器并调用 Start（Start 识别恢复路径，
// 不重复下单直接轮询）。owner 为空时恢复全部归属。
func ResumeAll(ctx context.Context, st *store.Store, ex Executor, owner string, log *logger.Logger) ([]*Controller, error) {
	recs, err := st.ListActiveBrackets(owner)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}

	var out []*Controller
	for _, r := range recs {
		if r.TakeProfitOrderID == "" && r.StopLossOrderID == "" {
			// 无任何腿单号，轮询无从查起，留待人工处理
			log.LogLifecycle("bracket", r.ID, "resume_skipped", map[string]interface{}{
				"reason": "no child order ids",
			})
			continue
		}
		c := FromRecord(ex, st, r, log)
		if err := c.Start(ctx); err != nil {
			log.LogError(err, map[string]interface{}{"bracket_id": r.ID})
			continue
		}
		log.LogLifecycle("bracket", r.ID, "resumed", map[string]interface{}{
			"take_profit_order_id": r.TakeProfitOrderID,
			"stop_loss_order_id":   r.StopLossOrderID,
		})
		out = append(out, c)
	}
	return out, nil
}

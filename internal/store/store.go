package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
)

// BracketRecord bracket 控制器状态的持久化镜像。
// 每次状态迁移时整条覆写；进程重启后据此恢复控制器。
type BracketRecord struct {
	ID      string `json:"id"`
	Owner   string `json:"owner"`
	Venue   string `json:"venue"`
	TokenID string `json:"token_id"`

	Side              string  `json:"side"` // 持仓方向
	Size              float64 `json:"size"`
	TakeProfitPrice   float64 `json:"take_profit_price"`
	StopLossPrice     float64 `json:"stop_loss_price"`
	PartialTPFraction float64 `json:"partial_tp_fraction,omitempty"`
	PollIntervalMs    int     `json:"poll_interval_ms"`
	MissingPollLimit  int     `json:"missing_poll_limit"`

	Status            string  `json:"status"`
	Reason            string  `json:"reason,omitempty"`
	TakeProfitOrderID string  `json:"take_profit_order_id,omitempty"`
	StopLossOrderID   string  `json:"stop_loss_order_id,omitempty"`
	FilledLeg         string  `json:"filled_leg,omitempty"`
	FillPrice         float64 `json:"fill_price,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TwapRecord TWAP 调度器状态的持久化镜像。
type TwapRecord struct {
	ID      string `json:"id"`
	Owner   string `json:"owner"`
	Venue   string `json:"venue"`
	TokenID string `json:"token_id"`

	Side          string  `json:"side"`
	TotalSize     float64 `json:"total_size"`
	SliceSize     float64 `json:"slice_size"`
	Price         float64 `json:"price,omitempty"`
	PriceLimit    float64 `json:"price_limit,omitempty"`
	OrderType     string  `json:"order_type"`
	IntervalMs    int     `json:"interval_ms"`
	JitterFrac    float64 `json:"jitter_frac,omitempty"`
	MaxDurationMs int     `json:"max_duration_ms,omitempty"`

	Status          string  `json:"status"`
	Reason          string  `json:"reason,omitempty"`
	FilledSize      float64 `json:"filled_size"`
	CostTotal       float64 `json:"cost_total"`
	SlicesCompleted int     `json:"slices_completed"`
	LastOrderID     string  `json:"last_order_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// 活跃状态集合（持久化 schema 的一部分，与控制器侧常量保持一致）。
var (
	activeBracketStatuses = map[string]bool{"pending": true, "active": true}
	activeTwapStatuses    = map[string]bool{"pending": true, "executing": true}
)

// Store Pebble 键值存储，保存在途 bracket/TWAP 记录。
// 跨重启的唯一事实来源；写失败由调用方记日志降级续跑。
type Store struct {
	db *pebble.DB
}

// Open 打开（或创建）指定路径的存储。
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// SaveBracket 覆写 bracket 记录（upsert），同步落盘。
func (s *Store) SaveBracket(rec BracketRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal bracket record: %w", err)
	}
	if err := s.db.Set(bracketKey(rec.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("save bracket record: %w", err)
	}
	return nil
}

// GetBracket 读取 bracket 记录；不存在返回 (nil, nil)。
func (s *Store) GetBracket(id string) (*BracketRecord, error) {
	data, closer, err := s.db.Get(bracketKey(id))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get bracket record: %w", err)
	}
	defer closer.Close()

	var rec BracketRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal bracket record: %w", err)
	}
	return &rec, nil
}

// ListActiveBrackets 扫描全部 bracket 记录，返回 owner 的活跃记录；
// owner 为空时不过滤归属。启动恢复路径使用。
func (s *Store) ListActiveBrackets(owner string) ([]BracketRecord, error) {
	prefix := []byte(prefixBracket)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("iterate brackets: %w", err)
	}
	defer iter.Close()

	var out []BracketRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var rec BracketRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue // 跳过损坏条目
		}
		if owner != "" && rec.Owner != owner {
			continue
		}
		if !activeBracketStatuses[rec.Status] {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// UpdateBracketStatus 读-改-写更新状态与原因（运维工具路径）。
func (s *Store) UpdateBracketStatus(id, status, reason string) error {
	rec, err := s.GetBracket(id)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("bracket record %s not found", id)
	}
	rec.Status = status
	rec.Reason = reason
	return s.SaveBracket(*rec)
}

// DeleteBracket 删除 bracket 记录（终态且不再关心时由持有方调用）。
func (s *Store) DeleteBracket(id string) error {
	if err := s.db.Delete(bracketKey(id), pebble.Sync); err != nil {
		return fmt.Errorf("delete bracket record: %w", err)
	}
	return nil
}

// SaveTwap 覆写 TWAP 记录（upsert），同步落盘。
func (s *Store) SaveTwap(rec TwapRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal twap record: %w", err)
	}
	if err := s.db.Set(twapKey(rec.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("save twap record: %w", err)
	}
	return nil
}

// GetTwap 读取 TWAP 记录；不存在返回 (nil, nil)。
func (s *Store) GetTwap(id string) (*TwapRecord, error) {
	data, closer, err := s.db.Get(twapKey(id))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get twap record: %w", err)
	}
	defer closer.Close()

	var rec TwapRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal twap record: %w", err)
	}
	return &rec, nil
}

// ListActiveTwaps owner 的活跃 TWAP 记录；owner 为空时不过滤。
func (s *Store) ListActiveTwaps(owner string) ([]TwapRecord, error) {
	prefix := []byte(prefixTwap)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("iterate twaps: %w", err)
	}
	defer iter.Close()

	var out []TwapRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var rec TwapRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		if owner != "" && rec.Owner != owner {
			continue
		}
		if !activeTwapStatuses[rec.Status] {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// UpdateTwapStatus 读-改-写更新状态与原因。
func (s *Store) UpdateTwapStatus(id, status, reason string) error {
	rec, err := s.GetTwap(id)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("twap record %s not found", id)
	}
	rec.Status = status
	rec.Reason = reason
	return s.SaveTwap(*rec)
}

// DeleteTwap 删除 TWAP 记录。
func (s *Store) DeleteTwap(id string) error {
	if err := s.db.Delete(twapKey(id), pebble.Sync); err != nil {
		return fmt.Errorf("delete twap record: %w", err)
	}
	return nil
}

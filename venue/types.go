package venue

import "time"

// Venue 标识订单路由的目标交易场所。
type Venue string

const (
	Polymarket  Venue = "polymarket"
	Kalshi      Venue = "kalshi"
	Hyperliquid Venue = "hyperliquid"
)

// Side 买卖方向。
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite 返回反方向（平仓/出场腿使用）。
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType 订单类型标记。
type OrderType string

const (
	TypeLimit  OrderType = "GTC" // 限价单，挂单直至成交或撤销
	TypeMarket OrderType = "FOK" // 市价单，价格钉在极值，全部成交或取消
	TypeMaker  OrderType = "GTC_POST_ONLY"
)

// Status 场所侧订单状态。
type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusFilled    Status = "FILLED"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
	StatusRejected  Status = "REJECTED"
)

// IsTerminal 判断是否终态。
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusExpired, StatusRejected:
		return true
	default:
		return false
	}
}

// OrderRequest 统一下单请求。Price 为 [0.01, 0.99] 区间的概率价格。
type OrderRequest struct {
	Venue       Venue
	TokenID     string // 市场/结果代币标识
	Side        Side
	Price       float64
	Size        float64
	Type        OrderType
	MakerOnly   bool
	MaxSlippage float64 // 保护单最大滑点覆盖，0 表示使用服务默认值
}

// Notional 订单名义价值（price × size）。
func (r OrderRequest) Notional() float64 {
	return r.Price * r.Size
}

// OrderResult 下单结果。预期内的失败（校验不过、场所拒单、网络错误）
// 以 Success=false + Error 返回，绝不在该边界上 panic。
type OrderResult struct {
	Success    bool
	OrderID    string
	Status     Status
	FilledSize float64
	AvgPrice   float64
	TxHash     string // 链上场所的交易引用，可为空
	Error      string
}

// Failure 构造失败结果。
func Failure(msg string) OrderResult {
	return OrderResult{Success: false, Error: msg}
}

// OpenOrder 场所返回的订单只读快照。
type OpenOrder struct {
	Venue         Venue
	OrderID       string
	TokenID       string
	Side          Side
	Price         float64
	OriginalSize  float64
	RemainingSize float64
	FilledSize    float64
	AvgFillPrice  float64
	Type          OrderType
	Status        Status
	CreatedAt     time.Time
}

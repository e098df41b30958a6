package venue

import (
	"context"
	"errors"

	"trade-exec-go/market"
)

// ErrOrderNotFound 场所无此订单记录（可能已结算清除）。
var ErrOrderNotFound = errors.New("order not found")

// ErrVenueNotConfigured 请求的场所未注册适配器。
var ErrVenueNotConfigured = errors.New("venue not configured")

// Adapter 单一场所的下单/撤单/查询抽象。实现方负责网络调用、
// 签名与限流；核心只依赖该契约。
type Adapter interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	// CancelAll 撤销全部挂单；tokenID 非空时仅撤该市场。
	CancelAll(ctx context.Context, tokenID string) error
	GetOrder(ctx context.Context, orderID string) (*OpenOrder, error)
	GetOpenOrders(ctx context.Context) ([]OpenOrder, error)
	// GetOrderBook 返回市场盘口深度，供滑点估算使用。
	GetOrderBook(ctx context.Context, tokenID string) (market.Book, error)
}

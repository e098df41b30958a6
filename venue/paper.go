package venue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"trade-exec-go/market"
)

// PaperVenue 进程内模拟场所。盘口与成交可由测试/模拟脚本控制，
// 不发起任何网络调用。
type PaperVenue struct {
	Name Venue

	mu      sync.RWMutex
	books   map[string]market.Book
	orders  map[string]*OpenOrder
	nextErr error
}

func NewPaperVenue(name Venue) *PaperVenue {
	return &PaperVenue{
		Name:   name,
		books:  make(map[string]market.Book),
		orders: make(map[string]*OpenOrder),
	}
}

// SetBook 设置某市场的盘口快照。
func (p *PaperVenue) SetBook(tokenID string, book market.Book) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.books[tokenID] = book
}

// FailNext 使下一次下单/撤单调用返回指定错误（故障注入）。
func (p *PaperVenue) FailNext(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextErr = err
}

func (p *PaperVenue) takeErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.nextErr
	p.nextErr = nil
	return err
}

// PlaceOrder 登记订单为 OPEN 并返回生成的订单号。
func (p *PaperVenue) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if err := p.takeErr(); err != nil {
		return OrderResult{}, err
	}
	o := &OpenOrder{
		Venue:         p.Name,
		OrderID:       uuid.NewString(),
		TokenID:       req.TokenID,
		Side:          req.Side,
		Price:         req.Price,
		OriginalSize:  req.Size,
		RemainingSize: req.Size,
		Type:          req.Type,
		Status:        StatusOpen,
		CreatedAt:     time.Now().UTC(),
	}
	p.mu.Lock()
	p.orders[o.OrderID] = o
	p.mu.Unlock()
	return OrderResult{
		Success:  true,
		OrderID:  o.OrderID,
		Status:   StatusOpen,
		AvgPrice: req.Price,
	}, nil
}

// Fill 将订单标记为全部成交（测试钩子）。price 为 0 时按挂单价成交。
func (p *PaperVenue) Fill(orderID string, price float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if price <= 0 {
		price = o.Price
	}
	o.Status = StatusFilled
	o.FilledSize = o.OriginalSize
	o.RemainingSize = 0
	o.AvgFillPrice = price
	return nil
}

// Purge 清除全部订单记录，模拟市场结算后场所不再返回订单。
func (p *PaperVenue) Purge() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = make(map[string]*OpenOrder)
}

func (p *PaperVenue) CancelOrder(ctx context.Context, orderID string) error {
	if err := p.takeErr(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if !o.Status.IsTerminal() {
		o.Status = StatusCancelled
	}
	return nil
}

func (p *PaperVenue) CancelAll(ctx context.Context, tokenID string) error {
	if err := p.takeErr(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, o := range p.orders {
		if tokenID != "" && o.TokenID != tokenID {
			continue
		}
		if !o.Status.IsTerminal() {
			o.Status = StatusCancelled
		}
	}
	return nil
}

func (p *PaperVenue) GetOrder(ctx context.Context, orderID string) (*OpenOrder, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	o, ok := p.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (p *PaperVenue) GetOpenOrders(ctx context.Context) ([]OpenOrder, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]OpenOrder, 0, len(p.orders))
	for _, o := range p.orders {
		if o.Status == StatusOpen {
			out = append(out, *o)
		}
	}
	return out, nil
}

// GetOrderBook 返回盘口深拷贝：估算方会就地排序档位，
// 不能让其触碰场所持有的切片。
func (p *PaperVenue) GetOrderBook(ctx context.Context, tokenID string) (market.Book, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	book, ok := p.books[tokenID]
	if !ok {
		return market.Book{}, errors.New("no book for token")
	}
	cp := market.Book{
		Bids: make([]market.Level, len(book.Bids)),
		Asks: make([]market.Level, len(book.Asks)),
	}
	copy(cp.Bids, book.Bids)
	copy(cp.Asks, book.Asks)
	return cp, nil
}

var _ Adapter = (*PaperVenue)(nil)

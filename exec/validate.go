package exec

import (
	"errors"
	"fmt"

	"trade-exec-go/venue"
)

// 价格必须落在双边预测市场的概率区间内。
const (
	MinPrice = 0.01
	MaxPrice = 0.99
)

var (
	ErrPriceRange  = errors.New("price must be between 0.01 and 0.99")
	ErrSizeInvalid = errors.New("size must be > 0")
	ErrNotional    = errors.New("order notional exceeds max order size")
)

// validateRequest 纯校验，不触网。任何违规在到达场所前被拦截。
func validateRequest(req venue.OrderRequest, maxNotional float64) error {
	if req.Price < MinPrice || req.Price > MaxPrice {
		return fmt.Errorf("%w: got %.4f", ErrPriceRange, req.Price)
	}
	if req.Size <= 0 {
		return fmt.Errorf("%w: got %.4f", ErrSizeInvalid, req.Size)
	}
	if maxNotional > 0 && req.Notional() > maxNotional {
		return fmt.Errorf("%w: %.2f > %.2f", ErrNotional, req.Notional(), maxNotional)
	}
	return nil
}

// clampPrice 将价格收敛到合法区间。
func clampPrice(p float64) float64 {
	if p < MinPrice {
		return MinPrice
	}
	if p > MaxPrice {
		return MaxPrice
	}
	return p
}

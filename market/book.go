package market

import "sort"

// Level 盘口中的一个价格档位。
type Level struct {
	Price float64
	Size  float64
}

// Book 某一市场的盘口深度快照。Bids 按价格降序、Asks 按升序排列
// 后才可用于成交估算；Normalize 负责排序。
type Book struct {
	Bids []Level
	Asks []Level
}

// Normalize 排序买卖档位：买单价格降序，卖单价格升序。
func (b *Book) Normalize() {
	sort.Slice(b.Bids, func(i, j int) bool { return b.Bids[i].Price > b.Bids[j].Price })
	sort.Slice(b.Asks, func(i, j int) bool { return b.Asks[i].Price < b.Asks[j].Price })
}

// BestBid 最优买价；无买盘返回 0。
func (b Book) BestBid() float64 {
	best := 0.0
	for _, l := range b.Bids {
		if l.Price > best {
			best = l.Price
		}
	}
	return best
}

// BestAsk 最优卖价；无卖盘返回 0。
func (b Book) BestAsk() float64 {
	best := 0.0
	for _, l := range b.Asks {
		if best == 0 || l.Price < best {
			best = l.Price
		}
	}
	return best
}

// Mid 中间价；缺任一侧返回 0。
func (b Book) Mid() float64 {
	bid, ask := b.BestBid(), b.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return (bid + ask) / 2
}

// Empty 盘口是否两侧均无档位。
func (b Book) Empty() bool {
	return len(b.Bids) == 0 && len(b.Asks) == 0
}

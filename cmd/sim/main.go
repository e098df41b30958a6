package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"trade-exec-go/exec"
	"trade-exec-go/infrastructure/logger"
	"trade-exec-go/market"
	"trade-exec-go/twap"
	"trade-exec-go/venue"
)

// 一个极简的本地模拟：在纸面场所上跑一轮 TWAP，演示分片调度与
// 进度事件；仅用于演示，不会连接真实交易所。
func main() {
	totalSize := flag.Float64("totalSize", 100, "total size to execute")
	sliceSize := flag.Float64("sliceSize", 30, "size per slice")
	price := flag.Float64("price", 0.55, "limit price per slice")
	intervalMs := flag.Int("intervalMs", 200, "interval between slices in ms")
	jitter := flag.Float64("jitter", 0.2, "interval jitter fraction")
	flag.Parse()

	paper := venue.NewPaperVenue(venue.Polymarket)
	paper.SetBook("token-yes", market.Book{
		Bids: []market.Level{{Price: 0.54, Size: 500}},
		Asks: []market.Level{{Price: 0.56, Size: 500}},
	})

	registry := venue.NewRegistry()
	registry.Register(venue.Polymarket, paper)

	lg := logger.Nop()
	svc := exec.New(registry, exec.DefaultConfig(), lg)

	sched := twap.New(svc, nil, twap.Config{
		Owner:     "sim",
		Venue:     venue.Polymarket,
		TokenID:   "token-yes",
		Side:      venue.Buy,
		TotalSize: *totalSize,
		SliceSize: *sliceSize,
		Price:     *price,
		Interval:  time.Duration(*intervalMs) * time.Millisecond,
		Jitter:    *jitter,
	}, lg)

	done := make(chan struct{})
	sched.OnEvent(func(ev twap.Event) {
		switch ev.Type {
		case twap.EventSliceFilled:
			fmt.Printf("slice %d filled: %.1f/%.1f\n",
				ev.Progress.SlicesCompleted, ev.Progress.FilledSize, ev.Progress.TotalSize)
		case twap.EventCompleted:
			fmt.Printf("completed: filled=%.1f avg=%.4f\n",
				ev.Progress.FilledSize, ev.Progress.AvgPrice)
			close(done)
		case twap.EventCancelled:
			fmt.Printf("cancelled: %s\n", ev.Progress.Reason)
			close(done)
		}
	})

	ctx := context.Background()
	if err := sched.Start(ctx); err != nil {
		fmt.Printf("start failed: %v\n", err)
		return
	}

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		fmt.Println("timed out waiting for completion")
		sched.Cancel(ctx)
	}
}

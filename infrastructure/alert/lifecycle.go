package alert

import (
	"fmt"

	"trade-exec-go/bracket"
	"trade-exec-go/twap"
)

// bracketSeverity 终态到告警级别的映射：止损与失败值得人看一眼，
// 止盈与撤销只是记录。
func bracketSeverity(st bracket.Status) Severity {
	switch st {
	case bracket.StatusStopLossHit:
		return SeverityWarning
	case bracket.StatusFailed:
		return SeverityError
	default:
		return SeverityInfo
	}
}

// BracketListener 把 bracket 生命周期事件桥接为告警。
func BracketListener(m *Manager) bracket.Listener {
	return func(ev bracket.Event) {
		snap := ev.Snapshot
		msg := fmt.Sprintf("bracket %s", snap.Status)
		switch snap.Status {
		case bracket.StatusTakeProfitHit:
			msg = fmt.Sprintf("take profit filled at %.4f", snap.FillPrice)
		case bracket.StatusStopLossHit:
			msg = fmt.Sprintf("stop loss filled at %.4f", snap.FillPrice)
		case bracket.StatusFailed, bracket.StatusCancelled:
			msg = fmt.Sprintf("bracket %s: %s", snap.Status, snap.Reason)
		}
		m.Notify(Alert{
			Severity:   bracketSeverity(snap.Status),
			Controller: "bracket",
			EntityID:   snap.ID,
			Kind:       string(snap.Status),
			Message:    msg,
			Fields: map[string]interface{}{
				"status":     string(snap.Status),
				"filled_leg": snap.FilledLeg,
			},
		})
	}
}

// twapSeverity 事件到告警级别的映射。
func twapSeverity(eventType string) Severity {
	switch eventType {
	case twap.EventSliceFailed, twap.EventCancelled:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// TwapListener 把 TWAP 生命周期事件桥接为告警。
// 高频的 progress 事件不告警，避免刷屏。
func TwapListener(m *Manager) twap.Listener {
	return func(ev twap.Event) {
		if ev.Type == twap.EventProgress {
			return
		}
		p := ev.Progress
		msg := fmt.Sprintf("twap %s", ev.Type)
		switch ev.Type {
		case twap.EventCompleted:
			msg = fmt.Sprintf("twap completed, avg price %.4f", p.AvgPrice)
		case twap.EventCancelled:
			msg = fmt.Sprintf("twap cancelled: %s", p.Reason)
		}
		m.Notify(Alert{
			Severity:   twapSeverity(ev.Type),
			Controller: "twap",
			EntityID:   p.ID,
			Kind:       ev.Type,
			Message:    msg,
			Fields: map[string]interface{}{
				"event":       ev.Type,
				"filled_size": p.FilledSize,
				"total_size":  p.TotalSize,
			},
		})
	}
}

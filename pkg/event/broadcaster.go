// Package event provides the PositionEvents broadcaster: internal
// subscribers (reporting collaborator, operator tooling) each get a
// buffered channel of position-lifecycle events.
package event

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PositionEvents manages event distribution to subscribed clients.
type PositionEvents struct {
	clients map[string]chan *Event
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewPositionEvents creates a new PositionEvents bus.
func NewPositionEvents(logger *zap.Logger) *PositionEvents {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PositionEvents{
		clients: make(map[string]chan *Event),
		logger:  logger,
	}
}

// Subscribe adds a new client to receive events.
func (pe *PositionEvents) Subscribe(clientID string) chan *Event {
	pe.mu.Lock()
	defer pe.mu.Unlock()

	clientChan := make(chan *Event, 100)
	pe.clients[clientID] = clientChan

	pe.logger.Info("client subscribed to position events", zap.String("client_id", clientID))
	return clientChan
}

// Unsubscribe removes a client from receiving events.
func (pe *PositionEvents) Unsubscribe(clientID string) {
	pe.mu.Lock()
	defer pe.mu.Unlock()

	if clientChan, exists := pe.clients[clientID]; exists {
		close(clientChan)
		delete(pe.clients, clientID)
		pe.logger.Info("client unsubscribed from position events", zap.String("client_id", clientID))
	}
}

// Broadcast sends an event to all subscribed clients. Full client
// channels drop the event rather than block the caller (the Trader's
// per-mint actor loop must never stall on a slow subscriber).
func (pe *PositionEvents) Broadcast(event *Event) {
	pe.mu.RLock()
	defer pe.mu.RUnlock()

	if event == nil {
		pe.logger.Warn("cannot broadcast nil event")
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if pe.logger.Core().Enabled(zap.DebugLevel) {
		eventJSON, err := json.Marshal(event)
		if err == nil {
			pe.logger.Debug("broadcasting position event",
				zap.String("type", event.Type),
				zap.Int("subscribers", len(pe.clients)),
				zap.String("event_data", string(eventJSON)))
		}
	}

	for clientID, clientChan := range pe.clients {
		select {
		case clientChan <- event:
		default:
			pe.logger.Warn("client channel full, dropping position event",
				zap.String("client_id", clientID),
				zap.String("event_type", event.Type))
		}
	}
}

// GetSubscriberCount returns the number of currently subscribed clients.
func (pe *PositionEvents) GetSubscriberCount() int {
	pe.mu.RLock()
	defer pe.mu.RUnlock()
	return len(pe.clients)
}

// PositionOpened broadcasts a position-opened event.
func (pe *PositionEvents) PositionOpened(mint, leadHunter string, entrySOL float64) {
	pe.Broadcast(NewEvent(EventTypePositionOpened, map[string]interface{}{
		"mint":        mint,
		"lead_hunter": leadHunter,
		"entry_sol":   entrySOL,
	}))
}

// PositionAdded broadcasts a position-added event.
func (pe *PositionEvents) PositionAdded(mint, hunter string, addSOL float64) {
	pe.Broadcast(NewEvent(EventTypePositionAdded, map[string]interface{}{
		"mint":    mint,
		"hunter":  hunter,
		"add_sol": addSOL,
	}))
}

// TakeProfitHit broadcasts a take-profit-ladder-rung event.
func (pe *PositionEvents) TakeProfitHit(mint string, level float64, sellFraction float64) {
	pe.Broadcast(NewEvent(EventTypeTakeProfitHit, map[string]interface{}{
		"mint":          mint,
		"level":         level,
		"sell_fraction": sellFraction,
	}))
}

// StopLossTriggered broadcasts a stop-loss event.
func (pe *PositionEvents) StopLossTriggered(mint string, pnlPct float64) {
	pe.Broadcast(NewEvent(EventTypeStopLossTriggered, map[string]interface{}{
		"mint":    mint,
		"pnl_pct": pnlPct,
	}))
}

// FollowSellHit broadcasts a follow-sell event.
func (pe *PositionEvents) FollowSellHit(mint, hunter string, sellRatio float64) {
	pe.Broadcast(NewEvent(EventTypeFollowSellHit, map[string]interface{}{
		"mint":       mint,
		"hunter":     hunter,
		"sell_ratio": sellRatio,
	}))
}

// PositionClosed broadcasts the closure snapshot required by
// spec.md §4.8: mint, entry_time, trade record count and
// total_pnl_sol = Σ sold − Σ spent over the position's full history.
func (pe *PositionEvents) PositionClosed(mint, note string, entryTime int64, tradeRecordCount int, totalPnLSOL float64) {
	pe.Broadcast(NewEvent(EventTypePositionClosed, map[string]interface{}{
		"mint":               mint,
		"note":               note,
		"entry_time":         entryTime,
		"trade_record_count": tradeRecordCount,
		"total_pnl_sol":      totalPnLSOL,
	}))
}

// CreditExhausted broadcasts the credit-exhaustion event. The caller
// (Monitor) is responsible for firing this exactly once per process.
func (pe *PositionEvents) CreditExhausted() {
	pe.Broadcast(NewEvent(EventTypeCreditExhausted, map[string]interface{}{}))
}

// HunterEvicted broadcasts a hunter-eviction event.
func (pe *PositionEvents) HunterEvicted(hunter string) {
	pe.Broadcast(NewEvent(EventTypeHunterEvicted, map[string]interface{}{
		"hunter": hunter,
	}))
}

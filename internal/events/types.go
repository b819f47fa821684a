package events

import "time"

// Event enumerates topics inside the trading core.
type Event string

const (
	EventSignalReceived Event = "signal.received"
	EventRiskDenied     Event = "risk.denied"
	EventOrderSubmitted Event = "order.submitted"
	EventTradeExecuted  Event = "trade.executed"
	EventTradeFailed    Event = "trade.failed"
	EventPositionUpdate Event = "position.update"
	EventPositionClosed Event = "position.closed"
)

// AllEvents lists every topic, for subscribers that want the full stream.
var AllEvents = []Event{
	EventSignalReceived,
	EventRiskDenied,
	EventOrderSubmitted,
	EventTradeExecuted,
	EventTradeFailed,
	EventPositionUpdate,
	EventPositionClosed,
}

// Message wraps a payload with its topic for fan-in subscribers.
type Message struct {
	Topic   Event     `json:"topic"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

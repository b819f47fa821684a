// Package engine runs the single-position trade sequence: gate, size, enter,
// wait for fill, place exits, and keep the resulting position current.
// The API and dispatcher layers only reach the engine through Service.
package engine

import "context"

// Service defines the engine operations exposed to the control layer.
type Service interface {
	// Trading
	ExecuteTrade(ctx context.Context, d Decision, o Overrides) Result
	EmergencyClose(ctx context.Context) error

	// Queries
	CurrentPosition() *Position
	Phase() Phase
	Stats() Stats

	// Config
	Config() TradingConfig
	UpdateConfig(cfg TradingConfig)
}

var _ Service = (*Engine)(nil)

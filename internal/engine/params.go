package engine

import (
	"github.com/shopspring/decimal"

	"replaycore/internal/config"
)

// Params are the deterministic derivation parameters, converted to decimal
// once at startup so no float formatting can reach the derivation path.
type Params struct {
	LookbackHours  int
	EntryThreshold decimal.Decimal
	ExitThreshold  decimal.Decimal
	TargetNotional decimal.Decimal
	SlippageBps    decimal.Decimal
	FeeBps         decimal.Decimal
	MaxExposurePct decimal.Decimal
}

// ParamsFromConfig lifts the config section into decimals.
func ParamsFromConfig(cfg config.EngineConfig) Params {
	return Params{
		LookbackHours:  cfg.LookbackHours,
		EntryThreshold: decimal.NewFromFloat(cfg.EntryThreshold),
		ExitThreshold:  decimal.NewFromFloat(cfg.ExitThreshold),
		TargetNotional: decimal.NewFromFloat(cfg.TargetNotional),
		SlippageBps:    decimal.NewFromFloat(cfg.SlippageBps),
		FeeBps:         decimal.NewFromFloat(cfg.FeeBps),
		MaxExposurePct: decimal.NewFromFloat(cfg.MaxExposurePct),
	}
}

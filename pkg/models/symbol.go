package models

import "time"

// SymbolInfo describes one tradable perpetual contract.
type SymbolInfo struct {
	Symbol       string    `json:"symbol"`
	BaseAsset    string    `json:"base_asset"`
	QuoteAsset   string    `json:"quote_asset"`
	Status       string    `json:"status"`
	ContractType string    `json:"contract_type"`
	QuoteVolume  float64   `json:"quote_volume"`
	Rank         int       `json:"rank"`
	IsActive     bool      `json:"is_active"`
	UpdatedAt    time.Time `json:"updated_at"`
}

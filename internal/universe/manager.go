// Package universe maintains the tracked symbol set: the top perpetual
// contracts by 24h quote volume, refreshed on an interval.
package universe

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/signal-back/internal/cache"
	"github.com/signal-back/pkg/config"
	"github.com/signal-back/pkg/models"
)

// exchangeAPI is the slice of the REST client the manager needs.
type exchangeAPI interface {
	GetExchangeInfo(ctx context.Context) ([]*models.SymbolInfo, error)
	Get24hTickers(ctx context.Context) ([]*models.Ticker, error)
}

// symbolRepo persists the universe across restarts. May be nil.
type symbolRepo interface {
	GetActiveSymbols(ctx context.Context) ([]*models.SymbolInfo, error)
	ReplaceUniverse(ctx context.Context, symbols []*models.SymbolInfo) error
}

// Change describes one universe refresh that altered the set.
type Change struct {
	Added   []string
	Removed []string
	Symbols []string
}

// Manager owns the tracked symbol set. Refreshes are fail-static: when
// the exchange cannot be reached the previous universe stays in force.
type Manager struct {
	cfg      *config.UniverseConfig
	api      exchangeAPI
	repo     symbolRepo
	metadata *cache.TTLCache[*models.SymbolInfo]
	logger   *logrus.Entry

	mu      sync.RWMutex
	current []string
	infos   map[string]*models.SymbolInfo

	changes chan Change
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
}

// NewManager creates a universe manager. repo may be nil to run without
// persistence.
func NewManager(cfg *config.UniverseConfig, api exchangeAPI, repo symbolRepo, logger *logrus.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		api:      api,
		repo:     repo,
		metadata: cache.NewTTLCache[*models.SymbolInfo](cfg.MetadataTTL),
		logger:   logger.WithField("component", "universe"),
		infos:    make(map[string]*models.SymbolInfo),
		changes:  make(chan Change, 4),
		stopCh:   make(chan struct{}),
	}
}

// Changes delivers one event per refresh that modified the set.
func (m *Manager) Changes() <-chan Change {
	return m.changes
}

// Symbols returns a copy of the current universe in rank order.
func (m *Manager) Symbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.current...)
}

// Info returns the metadata for one tracked symbol.
func (m *Manager) Info(symbol string) (*models.SymbolInfo, bool) {
	if info, ok := m.metadata.Get(symbol); ok {
		return info, true
	}

	m.mu.RLock()
	info, ok := m.infos[symbol]
	m.mu.RUnlock()
	if ok {
		m.metadata.Set(symbol, info)
	}
	return info, ok
}

// Bootstrap seeds the universe from the database so streaming can start
// before the first exchange refresh. Missing persistence or an empty
// table is not an error.
func (m *Manager) Bootstrap(ctx context.Context) error {
	if m.repo == nil {
		return nil
	}

	stored, err := m.repo.GetActiveSymbols(ctx)
	if err != nil {
		return fmt.Errorf("failed to load stored universe: %w", err)
	}
	if len(stored) == 0 {
		return nil
	}

	symbols := make([]string, 0, len(stored))
	infos := make(map[string]*models.SymbolInfo, len(stored))
	for _, info := range stored {
		symbols = append(symbols, info.Symbol)
		infos[info.Symbol] = info
	}

	m.mu.Lock()
	m.current = symbols
	m.infos = infos
	m.mu.Unlock()

	m.logger.WithField("count", len(symbols)).Info("Universe bootstrapped from database")
	return nil
}

// Refresh rebuilds the universe from the exchange and reports whether the
// set changed. The previous set survives any fetch error untouched.
func (m *Manager) Refresh(ctx context.Context) (bool, error) {
	listed, err := m.api.GetExchangeInfo(ctx)
	if err != nil {
		return false, fmt.Errorf("universe refresh: %w", err)
	}
	tickers, err := m.api.Get24hTickers(ctx)
	if err != nil {
		return false, fmt.Errorf("universe refresh: %w", err)
	}

	selected := m.selectTop(listed, tickers)

	symbols := make([]string, 0, len(selected))
	infos := make(map[string]*models.SymbolInfo, len(selected))
	for _, info := range selected {
		symbols = append(symbols, info.Symbol)
		infos[info.Symbol] = info
	}

	m.mu.Lock()
	previous := m.current
	m.current = symbols
	m.infos = infos
	m.mu.Unlock()
	m.metadata.Purge()

	added, removed := diff(previous, symbols)

	if m.repo != nil {
		if err := m.repo.ReplaceUniverse(ctx, selected); err != nil {
			m.logger.WithError(err).Warn("Failed to persist universe")
		}
	}

	if len(added) == 0 && len(removed) == 0 {
		return false, nil
	}

	m.logger.WithFields(logrus.Fields{
		"added":   len(added),
		"removed": len(removed),
		"total":   len(symbols),
	}).Info("Universe changed")

	change := Change{Added: added, Removed: removed, Symbols: symbols}
	select {
	case m.changes <- change:
	default:
		m.logger.Warn("Change channel full, dropping universe event")
	}
	return true, nil
}

// selectTop filters to trading perpetuals in the configured quote asset
// and keeps the top N by 24h quote volume.
func (m *Manager) selectTop(listed []*models.SymbolInfo, tickers []*models.Ticker) []*models.SymbolInfo {
	volumes := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		volumes[t.Symbol] = t.QuoteVolume
	}

	eligible := make([]*models.SymbolInfo, 0, len(listed))
	for _, info := range listed {
		if info.Status != "TRADING" || info.ContractType != "PERPETUAL" {
			continue
		}
		if info.QuoteAsset != m.cfg.QuoteAsset {
			continue
		}
		cp := *info
		cp.QuoteVolume = volumes[info.Symbol]
		cp.IsActive = true
		eligible = append(eligible, &cp)
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].QuoteVolume != eligible[j].QuoteVolume {
			return eligible[i].QuoteVolume > eligible[j].QuoteVolume
		}
		return eligible[i].Symbol < eligible[j].Symbol
	})

	if len(eligible) > m.cfg.Size {
		eligible = eligible[:m.cfg.Size]
	}
	for i, info := range eligible {
		info.Rank = i + 1
		info.UpdatedAt = time.Now()
	}
	return eligible
}

// diff returns the symbols entering and leaving between two sets.
func diff(previous, next []string) (added, removed []string) {
	prevSet := make(map[string]bool, len(previous))
	for _, s := range previous {
		prevSet[s] = true
	}
	nextSet := make(map[string]bool, len(next))
	for _, s := range next {
		nextSet[s] = true
	}

	for _, s := range next {
		if !prevSet[s] {
			added = append(added, s)
		}
	}
	for _, s := range previous {
		if !nextSet[s] {
			removed = append(removed, s)
		}
	}
	return added, removed
}

// Start runs the periodic refresh loop.
func (m *Manager) Start(ctx context.Context) {
	if !m.running.CompareAndSwap(false, true) {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.cfg.RefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				if _, err := m.Refresh(ctx); err != nil {
					m.logger.WithError(err).Warn("Universe refresh failed, keeping previous set")
				}
			}
		}
	}()
}

// Stop halts the refresh loop.
func (m *Manager) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}
	close(m.stopCh)
	m.wg.Wait()
}

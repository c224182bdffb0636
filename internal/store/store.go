// Package store provides the bot's on-disk outputs: the live status
// snapshot, append-only alert/trade logs, the pause flag, and a sqlite-backed
// cache of pending (unresolved) positions that survives process restarts.
//
// status.json uses atomic file replacement (write to .tmp, then rename) so a
// reader never observes a half-written snapshot. alerts.jsonl, trades.jsonl,
// and simulated_trades.jsonl are append-only newline-delimited JSON.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"polymarket-updown/internal/wallclock"
	"polymarket-updown/pkg/types"
)

const alertRateLimitSecs = 10.0

// Store persists status/alert/trade files to a directory and pending
// positions to a sqlite database.
type Store struct {
	dir string
	db  *gorm.DB

	mu         sync.Mutex // serializes status.json writes
	alertMu    sync.Mutex
	lastAlerts map[string]float64

	alertCh chan types.Alert
}

// Alerts reports each alert as it's logged, so an operator-facing notifier
// (Telegram) can forward it without tailing alerts.jsonl.
func (s *Store) Alerts() <-chan types.Alert {
	return s.alertCh
}

// pendingPositionRow is the sqlite-backed row for types.PendingPosition.
type pendingPositionRow struct {
	ConditionID string `gorm:"primaryKey"`
	SignalID    string
	MarketName  string
	Side        string
	EntryPrice  float64
	SizeUSD     float64
}

// Open creates a store backed by dataDir, with the pending-position cache
// at dbPath.
func Open(dataDir, dbPath string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.AutoMigrate(&pendingPositionRow{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	return &Store{
		dir:        dataDir,
		db:         db,
		lastAlerts: make(map[string]float64),
		alertCh:    make(chan types.Alert, 32),
	}, nil
}

// Close releases the sqlite connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// IsPaused reports whether data/pause.flag exists.
func (s *Store) IsPaused() bool {
	_, err := os.Stat(filepath.Join(s.dir, "pause.flag"))
	return err == nil
}

// WriteStatus atomically replaces status.json.
func (s *Store) WriteStatus(status types.Status) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, "status.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return os.Rename(tmp, path)
}

// Alert appends an entry to alerts.jsonl, rate-limited to one entry per
// category per 10 seconds.
func (s *Store) Alert(severity, category, message string, data interface{}) {
	now := wallclock.NowSecs()

	s.alertMu.Lock()
	if last, ok := s.lastAlerts[category]; ok && now-last < alertRateLimitSecs {
		s.alertMu.Unlock()
		return
	}
	s.lastAlerts[category] = now
	s.alertMu.Unlock()

	alert := types.Alert{
		Timestamp: now,
		Severity:  severity,
		Category:  category,
		Message:   message,
		Data:      data,
	}
	s.appendJSONL("alerts.jsonl", alert)

	select {
	case s.alertCh <- alert:
	default:
	}
}

// WriteTrade appends a settled trade to trades.jsonl.
func (s *Store) WriteTrade(t types.TradeRecord) {
	s.appendJSONL("trades.jsonl", t)
}

// WriteSimulatedTrade appends a dry-run trade to simulated_trades.jsonl.
func (s *Store) WriteSimulatedTrade(t types.SimulatedTrade) {
	s.appendJSONL("simulated_trades.jsonl", t)
}

func (s *Store) appendJSONL(filename string, v interface{}) {
	line, err := json.Marshal(v)
	if err != nil {
		return
	}

	f, err := os.OpenFile(filepath.Join(s.dir, filename), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	line = append(line, '\n')
	_, _ = f.Write(line)
}

// SavePendingPosition upserts an opened, unresolved position.
func (s *Store) SavePendingPosition(p types.PendingPosition) error {
	row := pendingPositionRow{
		ConditionID: p.ConditionID,
		SignalID:    p.SignalID,
		MarketName:  p.MarketName,
		Side:        string(p.Side),
		EntryPrice:  p.EntryPrice,
		SizeUSD:     p.SizeUSD,
	}
	return s.db.Save(&row).Error
}

// RemovePendingPosition deletes a position once it has been redeemed.
func (s *Store) RemovePendingPosition(conditionID string) error {
	return s.db.Delete(&pendingPositionRow{}, "condition_id = ?", conditionID).Error
}

// LoadPendingPositions restores all positions tracked across a restart.
func (s *Store) LoadPendingPositions() ([]types.PendingPosition, error) {
	var rows []pendingPositionRow
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]types.PendingPosition, 0, len(rows))
	for _, r := range rows {
		out = append(out, types.PendingPosition{
			ConditionID: r.ConditionID,
			SignalID:    r.SignalID,
			MarketName:  r.MarketName,
			Side:        types.DivergenceSide(r.Side),
			EntryPrice:  r.EntryPrice,
			SizeUSD:     r.SizeUSD,
		})
	}
	return out, nil
}

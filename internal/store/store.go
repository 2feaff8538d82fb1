package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantflow/quantflow/internal/config"
)

// Store persists engine state as JSON files under one directory. Writes
// go through a temp file and rename so a crash mid-write never leaves a
// truncated file behind.
type Store struct {
	dir    string
	logger zerolog.Logger

	mu          sync.Mutex
	idempotency map[string]idemRecord
	killRows    map[string]KillRow
}

type idemRecord struct {
	OrderID   string    `json:"order_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// KillRow is one persisted kill switch entry
type KillRow struct {
	FeatureKey    string    `json:"feature_key"`
	DisabledUntil time.Time `json:"disabled_until"`
	Reason        string    `json:"reason"`
	WinRate       float64   `json:"win_rate"`
	Expectancy    float64   `json:"expectancy"`
}

const (
	idempotencyFile = "idempotency.json"
	killSwitchFile  = "killswitches.json"
	tradesFile      = "trades.json"
)

// New opens a store rooted at dir, creating it if needed and loading any
// persisted idempotency and kill switch state.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	s := &Store{
		dir:         dir,
		logger:      config.NewLogger("store"),
		idempotency: make(map[string]idemRecord),
		killRows:    make(map[string]KillRow),
	}
	if err := s.loadJSON(idempotencyFile, &s.idempotency); err != nil {
		return nil, err
	}
	if err := s.loadJSON(killSwitchFile, &s.killRows); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadJSON(name string, out any) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		// a corrupt state file starts empty rather than blocking startup
		s.logger.Warn().Err(err).Str("file", name).Msg("State file corrupt, starting empty")
	}
	return nil
}

// writeAtomic writes through a temp file and rename
func (s *Store) writeAtomic(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	target := filepath.Join(s.dir, name)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("failed to commit %s: %w", name, err)
	}
	return nil
}

// ==================== IDEMPOTENCY ====================

// RememberOrder records a client order id with its TTL
func (s *Store) RememberOrder(clientOid, venueOrderID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idempotency[clientOid] = idemRecord{OrderID: venueOrderID, ExpiresAt: time.Now().Add(ttl)}
	s.pruneLocked()
	return s.writeAtomic(idempotencyFile, s.idempotency)
}

// LookupOrder returns the venue order id for a known, unexpired client
// order id. A hit means the submission already happened; resubmitting
// would double the position.
func (s *Store) LookupOrder(clientOid string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.idempotency[clientOid]
	if !ok || time.Now().After(rec.ExpiresAt) {
		return "", false
	}
	return rec.OrderID, true
}

func (s *Store) pruneLocked() {
	now := time.Now()
	for k, rec := range s.idempotency {
		if now.After(rec.ExpiresAt) {
			delete(s.idempotency, k)
		}
	}
}

// ==================== KILL SWITCHES ====================

// SaveKillSwitch persists a disabled feature
func (s *Store) SaveKillSwitch(row KillRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killRows[row.FeatureKey] = row
	return s.writeAtomic(killSwitchFile, s.killRows)
}

// ClearKillSwitch removes a feature's kill entry
func (s *Store) ClearKillSwitch(featureKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.killRows, featureKey)
	return s.writeAtomic(killSwitchFile, s.killRows)
}

// KillSwitches returns all unexpired kill rows
func (s *Store) KillSwitches() []KillRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []KillRow
	for _, row := range s.killRows {
		if row.DisabledUntil.After(now) {
			out = append(out, row)
		}
	}
	return out
}

// ==================== TRADE HISTORY ====================

// AppendTrade appends a closed trade record to the history file. History
// is a JSON array; it is read fully, appended and rewritten, which is
// fine at the trade rates this engine operates at.
func (s *Store) AppendTrade(trade any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var history []json.RawMessage
	if err := s.loadJSON(tradesFile, &history); err != nil {
		return err
	}
	raw, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("failed to encode trade: %w", err)
	}
	history = append(history, raw)
	return s.writeAtomic(tradesFile, history)
}

// Trades decodes the full trade history into out (a pointer to a slice)
func (s *Store) Trades(out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadJSON(tradesFile, out)
}

package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantflow/quantflow/internal/config"
)

// Event kinds written to the trail
const (
	KindSignalEmitted    = "signal_emitted"
	KindGateBlocked      = "gate_blocked"
	KindOrderSubmitted   = "order_submitted"
	KindOrderFilled      = "order_filled"
	KindPositionOpened   = "position_opened"
	KindPositionClosed   = "position_closed"
	KindKillSwitch       = "killswitch_triggered"
	KindCircuitOpened    = "circuit_opened"
	KindEmergencyStop    = "emergency_stop"
)

// Event is one line of the trail. CorrelationID ties the lines of a
// single trade together (signal through close); Payload carries the
// kind-specific record.
type Event struct {
	Time          time.Time   `json:"time"`
	Kind          string      `json:"kind"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	Mode          string      `json:"mode"`
	Payload       any         `json:"payload,omitempty"`
}

// Trail is an append-only JSON-lines audit log. Writes are buffered;
// Close flushes, so the trail must be closed on shutdown.
type Trail struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	mode   string
	logger zerolog.Logger
}

// Open creates or appends to the trail file. A nil Trail (disabled audit)
// is safe to record against.
func Open(cfg config.AuditConfig, mode string) (*Trail, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit dir: %w", err)
	}
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit trail: %w", err)
	}
	return &Trail{
		file:   f,
		writer: bufio.NewWriter(f),
		mode:   mode,
		logger: config.NewLogger("audit"),
	}, nil
}

// Record appends one event. Audit failures are logged, never propagated:
// the trail must not be able to halt trading.
func (t *Trail) Record(kind, correlationID string, payload any) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	line, err := json.Marshal(Event{
		Time:          time.Now().UTC(),
		Kind:          kind,
		CorrelationID: correlationID,
		Mode:          t.mode,
		Payload:       payload,
	})
	if err != nil {
		t.logger.Error().Err(err).Str("kind", kind).Msg("Failed to encode audit event")
		return
	}
	if _, err := t.writer.Write(append(line, '\n')); err != nil {
		t.logger.Error().Err(err).Msg("Failed to append audit event")
	}
}

// Flush forces buffered events to disk
func (t *Trail) Flush() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writer.Flush()
}

// Close flushes and closes the trail
func (t *Trail) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush audit trail: %w", err)
	}
	return t.file.Close()
}

// Package store persists the published snapshot for the consumer process.
//
// Two backends exist: a JSON file written with a tmp-file/rename commit, and a
// single-row sqlite table written transactionally. Both guarantee a reader
// never observes a torn snapshot, and both fire the change hook only when the
// externally visible content actually changed.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"

	"github.com/zabbar/zabbar/internal/models"
)

// Store is the durable snapshot surface shared with the consumer process.
type Store interface {
	// Save atomically replaces the published snapshot.
	Save(snapshot models.Snapshot) error

	// Load returns the published snapshot. A zero-value snapshot (no alerts,
	// authenticated=false) means "not yet configured", never an error.
	Load() (models.Snapshot, error)

	// SaveStatus publishes the side-channel agent status.
	SaveStatus(status models.AgentStatus) error

	// LoadStatus returns the last published status, zero-value when absent.
	LoadStatus() (models.AgentStatus, error)

	// Subscribe registers a callback fired after a save that changed the
	// externally visible snapshot content. Best-effort; callbacks run on the
	// saving goroutine and must be quick.
	Subscribe(fn func())

	// Close releases backend resources.
	Close() error
}

// New constructs the configured backend.
func New(backend, dataDir string) (Store, error) {
	if backend == "sqlite" {
		return NewSQLiteStore(dataDir)
	}
	return NewFileStore(dataDir)
}

// notifier gates change callbacks on a publish signature so consumers are not
// woken when only the timestamp advanced. This signature is deliberately
// separate from the sync agent's change signature: that one decides whether to
// re-summarize, this one whether a wake-up is worth it.
type notifier struct {
	mu          sync.Mutex
	subscribers []func()
	lastSig     string
}

func (n *notifier) Subscribe(fn func()) {
	n.mu.Lock()
	n.subscribers = append(n.subscribers, fn)
	n.mu.Unlock()
}

// notifyIfChanged fires the callbacks when the snapshot's publish signature
// differs from the previous successful save.
func (n *notifier) notifyIfChanged(snapshot models.Snapshot) {
	sig := publishSignature(snapshot)

	n.mu.Lock()
	changed := sig != n.lastSig
	n.lastSig = sig
	fns := make([]func(), len(n.subscribers))
	copy(fns, n.subscribers)
	n.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range fns {
		fn()
	}
}

// publishSignature fingerprints the externally visible snapshot content:
// alert identities, summary text, total count and result cap.
func publishSignature(s models.Snapshot) string {
	var sb strings.Builder
	for _, a := range s.Alerts {
		sb.WriteString(a.ID)
		sb.WriteByte('\x1f')
		if a.Acknowledged {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
		sb.WriteByte('\x1e')
	}
	sb.WriteString(s.SummaryText)
	sb.WriteByte('\x1e')
	sb.WriteString(strconv.Itoa(s.UnacknowledgedCount))
	sb.WriteByte('\x1e')
	sb.WriteString(strconv.Itoa(s.ResultCap))
	sb.WriteByte('\x1e')
	sb.WriteString(strconv.FormatBool(s.Authenticated))

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// Package connectivity tracks whether the remote is reachable.
//
// The monitor does not probe. The host reports transitions through
// SetOnline, directly or via a FileSource watching a state file, and
// consumers subscribe to the resulting stream.
package connectivity

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/smarttodo/tasksync/internal/feed"
)

// Transition is a change of the online flag.
type Transition struct {
	Online bool
	At     time.Time
}

// Monitor holds the current online flag.
type Monitor struct {
	mu     sync.RWMutex
	online bool
	broker *feed.Broker[Transition]
	now    func() time.Time
	logger *log.Logger
}

// NewMonitor creates a monitor starting in the given state.
func NewMonitor(online bool, logger *log.Logger) *Monitor {
	if logger == nil {
		logger = log.New(os.Stderr, "[connectivity] ", log.LstdFlags)
	}
	return &Monitor{
		online: online,
		broker: feed.NewBroker[Transition](16, logger),
		now:    time.Now,
		logger: logger,
	}
}

// Online reports the current flag.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// SetOnline records a host transition and reports whether the flag
// changed. Repeating the current state publishes nothing.
func (m *Monitor) SetOnline(online bool) bool {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	tr := Transition{Online: online, At: m.now()}
	m.mu.Unlock()

	if online {
		m.logger.Printf("connection restored")
	} else {
		m.logger.Printf("connection lost, working offline")
	}
	m.broker.Publish(tr)
	return true
}

// Subscribe returns a stream of transitions.
func (m *Monitor) Subscribe() *feed.Subscription[Transition] {
	return m.broker.Subscribe(nil)
}

// Close ends every subscription.
func (m *Monitor) Close() {
	m.broker.Close()
}

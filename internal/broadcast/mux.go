// Package broadcast fans table state updates out to connected clients. One
// pattern subscription covers every table; per-connection buffers are
// bounded and drop the oldest frame under pressure, because every frame is a
// full view and only the newest matters.
package broadcast

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aaurelions/pokertools-sub001/internal/engine"
	"github.com/aaurelions/pokertools-sub001/internal/statestore"
)

// DefaultBuffer is the per-connection frame buffer depth.
const DefaultBuffer = 16

type conn struct {
	id     string
	userID string

	mu     sync.Mutex
	ch     chan []byte
	closed bool
}

// Mux is the broadcast multiplexer. Run consumes the shared subscription;
// Register attaches one client to one table.
type Mux struct {
	store *statestore.Store
	log   *zap.Logger

	mu     sync.RWMutex
	tables map[string]map[string]*conn
}

func NewMux(store *statestore.Store, log *zap.Logger) *Mux {
	return &Mux{
		store:  store,
		log:    log,
		tables: make(map[string]map[string]*conn),
	}
}

// Register attaches a viewer to a table and returns the frame channel plus
// an unregister func. The channel closes on unregister.
func (m *Mux) Register(tableID, userID string) (<-chan []byte, func()) {
	c := &conn{
		id:     uuid.NewString(),
		userID: userID,
		ch:     make(chan []byte, DefaultBuffer),
	}
	m.mu.Lock()
	if m.tables[tableID] == nil {
		m.tables[tableID] = make(map[string]*conn)
	}
	m.tables[tableID][c.id] = c
	m.mu.Unlock()

	var once sync.Once
	unregister := func() {
		once.Do(func() {
			m.mu.Lock()
			if conns := m.tables[tableID]; conns != nil {
				delete(conns, c.id)
				if len(conns) == 0 {
					delete(m.tables, tableID)
				}
			}
			m.mu.Unlock()
			c.mu.Lock()
			c.closed = true
			close(c.ch)
			c.mu.Unlock()
		})
	}
	return c.ch, unregister
}

// Run consumes the shared pub/sub subscription until ctx is cancelled.
func (m *Mux) Run(ctx context.Context) error {
	sub := m.store.Subscribe(ctx)
	defer sub.Close()

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			tableID := statestore.TableIDFromChannel(msg.Channel)
			if tableID == "" {
				continue
			}
			m.dispatch(ctx, tableID)
		}
	}
}

// dispatch loads the table state once and delivers a per-viewer masked frame
// to every registered connection.
func (m *Mux) dispatch(ctx context.Context, tableID string) {
	m.mu.RLock()
	conns := make([]*conn, 0, len(m.tables[tableID]))
	for _, c := range m.tables[tableID] {
		conns = append(conns, c)
	}
	m.mu.RUnlock()
	if len(conns) == 0 {
		return
	}

	st, err := m.store.Load(ctx, tableID)
	if err != nil {
		m.log.Warn("broadcast load failed",
			zap.String("tableId", tableID), zap.Error(err))
		return
	}
	eng := engine.Restore(st)

	// Views are masked per viewer, so identical userIDs share a frame.
	frames := make(map[string][]byte, len(conns))
	for _, c := range conns {
		frame, ok := frames[c.userID]
		if !ok {
			raw, err := json.Marshal(eng.View(c.userID))
			if err != nil {
				m.log.Error("view encode failed",
					zap.String("tableId", tableID), zap.Error(err))
				return
			}
			frame = raw
			frames[c.userID] = frame
		}
		m.deliver(c, frame)
	}
}

// deliver pushes one frame, evicting the oldest buffered frame if the
// connection is not keeping up.
func (m *Mux) deliver(c *conn, frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.ch <- frame:
		return
	default:
	}
	select {
	case <-c.ch:
	default:
	}
	select {
	case c.ch <- frame:
	default:
	}
}

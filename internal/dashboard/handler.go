package dashboard

import (
	"context"
	"log"
	"os"

	"github.com/smarttodo/tasksync/internal/engine"
	"github.com/smarttodo/tasksync/internal/feed"
	"github.com/smarttodo/tasksync/internal/store"
)

// Feed is the part of the engine the handler listens to.
type Feed interface {
	Source
	SubscribeStatus() *feed.Subscription[engine.Status]
	Subscribe(coll store.Collection, match func(engine.ChangeEvent) bool) *feed.Subscription[engine.ChangeEvent]
}

// Handler forwards engine events to a Server as dashboard messages.
type Handler struct {
	server *Server
	feed   Feed
	logger *log.Logger

	statuses *feed.Subscription[engine.Status]
	tasks    *feed.Subscription[engine.ChangeEvent]
	cats     *feed.Subscription[engine.ChangeEvent]
}

// NewHandler creates a handler relaying f to server. It subscribes right
// away; events published before Run starts are buffered.
func NewHandler(server *Server, f Feed, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	return &Handler{
		server:   server,
		feed:     f,
		logger:   logger,
		statuses: f.SubscribeStatus(),
		tasks:    f.Subscribe(store.Tasks, nil),
		cats:     f.Subscribe(store.Categories, nil),
	}
}

// Run relays events until ctx is done or the engine closes its feeds. The
// subscriptions end when Run returns.
func (h *Handler) Run(ctx context.Context) error {
	defer h.statuses.Unsubscribe()
	defer h.tasks.Unsubscribe()
	defer h.cats.Unsubscribe()
	statuses, tasks, cats := h.statuses, h.tasks, h.cats

	for {
		select {
		case <-ctx.Done():
			return nil

		case st, ok := <-statuses.Events():
			if !ok {
				return nil
			}
			h.send(MessageTypeStatus, st)

		case ev, ok := <-tasks.Events():
			if !ok {
				return nil
			}
			h.OnChange(ev)

		case ev, ok := <-cats.Events():
			if !ok {
				return nil
			}
			h.OnChange(ev)
		}
	}
}

// OnChange broadcasts one record change followed by refreshed stats.
func (h *Handler) OnChange(ev engine.ChangeEvent) {
	data := ChangeData{
		Kind:       string(ev.Kind),
		Collection: string(ev.Collection),
		ID:         ev.ID,
	}
	switch {
	case ev.Task != nil:
		data.Title = ev.Task.Title
		data.Status = string(ev.Task.Status)
	case ev.Category != nil:
		data.Title = ev.Category.Name
	}
	h.send(MessageTypeChange, data)

	if ev.Collection == store.Tasks {
		h.send(MessageTypeStats, h.feed.Stats())
	}
}

func (h *Handler) send(typ MessageType, data any) {
	if err := h.server.BroadcastJSON(typ, data); err != nil {
		h.logger.Printf("%v", err)
	}
}

var _ Feed = (*engine.Engine)(nil)

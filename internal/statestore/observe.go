package statestore

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/plume-design/opensync-sub021/internal/basedef"
	"github.com/plume-design/opensync-sub021/internal/broker"
)

// ChangeEvent is published on the broker's TopicStateStore whenever a row
// is inserted, updated, or deleted - the "observer on the State Store"
// referenced throughout §4.2.
type ChangeEvent struct {
	Table  string            `json:"table"`
	Key    string            `json:"key"`
	Delete bool              `json:"delete"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Observer receives one table's change events.
type Observer func(ev ChangeEvent)

// Observers multiplexes ChangeEvents from a Broker to per-table callbacks.
// This is the Go-native replacement for the original's per-daemon
// regexp-matched dispatch in config_changed() (ap.networkd): reconcilers
// register interest per table instead of pattern-matching a flat property
// path, since this domain is table/row shaped rather than a property tree.
type Observers struct {
	mu        sync.Mutex
	perTable  map[string][]Observer
}

// NewObservers creates an empty registration set and wires it to br.
func NewObservers(br *broker.Broker) *Observers {
	o := &Observers{perTable: make(map[string][]Observer)}
	br.Handle(basedef.TopicStateStore, o.dispatch)
	return o
}

// On registers fn to run whenever table changes. Multiple registrations
// for the same table all run, in registration order.
func (o *Observers) On(table string, fn Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.perTable[table] = append(o.perTable[table], fn)
}

func (o *Observers) dispatch(payload []byte) {
	var ev ChangeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		log.Printf("statestore: malformed change event: %v", err)
		return
	}

	o.mu.Lock()
	hdlrs := append([]Observer(nil), o.perTable[ev.Table]...)
	o.mu.Unlock()

	for _, h := range hdlrs {
		h(ev)
	}
}

// Package plugintest provides an in-memory plugin.Host for classifier tests.
package plugintest

import (
	"fmt"
	"sync"

	"firestige.xyz/otus-dissect/pkg/plugin"
)

// Call is one recorded host operation.
type Call struct {
	Op   string
	Args []any
}

// Host records every operation and keeps the values added to each field.
// Handles are sequential; fields are keyed by their DB field name.
type Host struct {
	mu sync.Mutex

	Calls     []Call
	Protocols []string
	Tags      []string
	Logs      []string

	nextParser uint32
	nextField  int32
	defs       map[int32]plugin.FieldDef
	byKey      map[string]int32
	values     map[string][]any
	protocols  map[string]bool
	unreg      int
}

var _ plugin.Host = (*Host)(nil)

func NewHost() *Host {
	return &Host{
		nextParser: 1,
		nextField:  1,
		defs:       make(map[int32]plugin.FieldDef),
		byKey:      make(map[string]int32),
		values:     make(map[string][]any),
		protocols:  make(map[string]bool),
	}
}

func (h *Host) record(op string, args ...any) {
	h.Calls = append(h.Calls, Call{Op: op, Args: args})
}

// Ops lists recorded operation names in order.
func (h *Host) Ops() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.Calls))
	for i, c := range h.Calls {
		out[i] = c.Op
	}
	return out
}

// Values returns what was added to the field with the given DB name.
func (h *Host) Values(dbField string) []any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]any(nil), h.values[dbField]...)
}

// Unregistered counts unregisterParser calls.
func (h *Host) Unregistered() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.unreg
}

// Reset forgets recorded calls and values but keeps defined fields.
func (h *Host) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Calls, h.Protocols, h.Tags, h.Logs = nil, nil, nil, nil
	h.values = make(map[string][]any)
	h.protocols = make(map[string]bool)
	h.unreg = 0
}

func (h *Host) Log(msg string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("log", msg)
	h.Logs = append(h.Logs, msg)
	return nil
}

func (h *Host) Debug(msg string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("debug", msg)
	h.Logs = append(h.Logs, msg)
	return nil
}

func (h *Host) RegisterClassifier(name string, t plugin.Transport, offset uint32, pattern []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("register"+t.String(), name, offset, pattern)
	return nil
}

func (h *Host) RegisterPortClassifier(name string, port uint16, t plugin.Transport) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("registerPort", name, port, t)
	return nil
}

func (h *Host) RegisterParser(name string) (uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("registerParser", name)
	id := h.nextParser
	h.nextParser++
	return id, nil
}

func (h *Host) UnregisterParser() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("unregisterParser")
	h.unreg++
	return nil
}

func (h *Host) AddProtocolTag(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("addProtocolTag", name)
	if !h.protocols[name] {
		h.protocols[name] = true
		h.Protocols = append(h.Protocols, name)
	}
	return nil
}

func (h *Host) AddSessionTag(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("addSessionTag", name)
	h.Tags = append(h.Tags, name)
	return nil
}

func (h *Host) HasProtocol(name string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("hasProtocol", name)
	return h.protocols[name], nil
}

func (h *Host) DefineField(def plugin.FieldDef) (int32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("defineField", def.DBField)
	if handle, ok := h.byKey[def.DBField]; ok {
		return handle, nil
	}
	handle := h.nextField
	h.nextField++
	h.byKey[def.DBField] = handle
	h.defs[handle] = def
	return handle, nil
}

func (h *Host) add(op string, handle int32, v any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record(op, handle, v)
	def, ok := h.defs[handle]
	if !ok {
		return fmt.Errorf("%s: undefined field handle %d", op, handle)
	}
	h.values[def.DBField] = append(h.values[def.DBField], v)
	return nil
}

func (h *Host) AddStringField(handle int32, v string) error {
	return h.add("addStringField", handle, v)
}

func (h *Host) AddIntField(handle int32, v uint32) error {
	return h.add("addIntField", handle, v)
}

func (h *Host) AddIPField(handle int32, v string) error {
	return h.add("addIpField", handle, v)
}

func (h *Host) RenderHTML(raw []byte) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("renderToHtml", len(raw))
	return "<pre>" + string(raw) + "</pre>", nil
}

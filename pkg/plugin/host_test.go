package plugin

import (
	"errors"
	"fmt"
)

type hostCall struct {
	name string
	args []any
}

// fakeHost records every call and hands out sequential handles.
type fakeHost struct {
	calls      []hostCall
	nextParser uint32
	nextField  int32
	fieldByKey map[string]int32
	redefine   map[string]int32
	protocols  map[string]bool
	failOn     string
	htmlPrefix string
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		nextParser: 1,
		nextField:  100,
		fieldByKey: make(map[string]int32),
		redefine:   make(map[string]int32),
		protocols:  make(map[string]bool),
		htmlPrefix: "<pre>",
	}
}

var errHostFailed = errors.New("host failed")

func (h *fakeHost) record(name string, args ...any) error {
	h.calls = append(h.calls, hostCall{name: name, args: args})
	if h.failOn == name {
		return fmt.Errorf("%s: %w", name, errHostFailed)
	}
	return nil
}

func (h *fakeHost) names() []string {
	out := make([]string, len(h.calls))
	for i, c := range h.calls {
		out[i] = c.name
	}
	return out
}

func (h *fakeHost) last() hostCall { return h.calls[len(h.calls)-1] }

func (h *fakeHost) Log(msg string) error   { return h.record("log", msg) }
func (h *fakeHost) Debug(msg string) error { return h.record("debug", msg) }

func (h *fakeHost) RegisterClassifier(name string, t Transport, offset uint32, pattern []byte) error {
	return h.record("register"+t.String(), name, offset, pattern)
}

func (h *fakeHost) RegisterPortClassifier(name string, port uint16, t Transport) error {
	return h.record("registerPort", name, port, t)
}

func (h *fakeHost) RegisterParser(name string) (uint32, error) {
	if err := h.record("registerParser", name); err != nil {
		return 0, err
	}
	id := h.nextParser
	h.nextParser++
	return id, nil
}

func (h *fakeHost) UnregisterParser() error { return h.record("unregisterParser") }

func (h *fakeHost) AddProtocolTag(name string) error {
	h.protocols[name] = true
	return h.record("addProtocolTag", name)
}

func (h *fakeHost) AddSessionTag(name string) error { return h.record("addSessionTag", name) }

func (h *fakeHost) HasProtocol(name string) (bool, error) {
	return h.protocols[name], h.record("hasProtocol", name)
}

func (h *fakeHost) DefineField(def FieldDef) (int32, error) {
	if err := h.record("defineField", def.DBField); err != nil {
		return 0, err
	}
	if handle, ok := h.redefine[def.DBField]; ok {
		return handle, nil
	}
	if handle, ok := h.fieldByKey[def.DBField]; ok {
		return handle, nil
	}
	handle := h.nextField
	h.nextField++
	h.fieldByKey[def.DBField] = handle
	return handle, nil
}

func (h *fakeHost) AddStringField(handle int32, v string) error {
	return h.record("addStringField", handle, v)
}

func (h *fakeHost) AddIntField(handle int32, v uint32) error {
	return h.record("addIntField", handle, v)
}

func (h *fakeHost) AddIPField(handle int32, v string) error {
	return h.record("addIpField", handle, v)
}

func (h *fakeHost) RenderHTML(raw []byte) (string, error) {
	return h.htmlPrefix + string(raw), h.record("renderToHtml", len(raw))
}

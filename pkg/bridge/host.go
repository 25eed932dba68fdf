package bridge

import (
	"fmt"

	"firestige.xyz/otus-dissect/internal/core"
	"firestige.xyz/otus-dissect/pkg/plugin"
	"firestige.xyz/otus-dissect/pkg/wire"
)

// Host is the plugin-side stub of the capture engine. Each method writes one
// call, flushes, and for returning operations reads exactly one value. It
// must only be used from the goroutine running the Dispatcher.
type Host struct {
	ch *wire.Channel
}

var _ plugin.Host = (*Host)(nil)

func NewHost(ch *wire.Channel) *Host {
	return &Host{ch: ch}
}

func (h *Host) call(op string, args ...wire.Value) error {
	if err := h.ch.WriteCall(op, args...); err != nil {
		return fmt.Errorf("call %s: %w", op, err)
	}
	if err := h.ch.Out.Flush(); err != nil {
		return fmt.Errorf("call %s: %w", op, err)
	}
	return nil
}

func (h *Host) callValue(op string, args ...wire.Value) (wire.Value, error) {
	if err := h.call(op, args...); err != nil {
		return nil, err
	}
	v, err := h.ch.In.ReadValue()
	if err != nil {
		return nil, fmt.Errorf("call %s result: %w", op, wire.Midstream(err))
	}
	return v, nil
}

func (h *Host) callUint32(op string, args ...wire.Value) (uint32, error) {
	v, err := h.callValue(op, args...)
	if err != nil {
		return 0, err
	}
	n, ok := v.(wire.Uint32)
	if !ok {
		return 0, fmt.Errorf("%w: %s returned %s", core.ErrUnexpectedResult, op, v.Tag())
	}
	return uint32(n), nil
}

func (h *Host) callString(op string, args ...wire.Value) (string, error) {
	v, err := h.callValue(op, args...)
	if err != nil {
		return "", err
	}
	s, ok := v.(wire.String)
	if !ok {
		return "", fmt.Errorf("%w: %s returned %s", core.ErrUnexpectedResult, op, v.Tag())
	}
	return string(s), nil
}

func (h *Host) Log(msg string) error   { return h.call(OpLog, wire.String(msg)) }
func (h *Host) Debug(msg string) error { return h.call(OpDebug, wire.String(msg)) }

func (h *Host) RegisterClassifier(name string, t plugin.Transport, offset uint32, pattern []byte) error {
	op := OpRegisterTCPClassifier
	if t == plugin.TransportUDP {
		op = OpRegisterUDPClassifier
	}
	return h.call(op, wire.String(name), wire.Uint32(offset), wire.Data(pattern))
}

func (h *Host) RegisterPortClassifier(name string, port uint16, t plugin.Transport) error {
	return h.call(OpRegisterPortClassifier, wire.String(name), wire.Uint32(port), wire.String(t.String()))
}

func (h *Host) RegisterParser(name string) (uint32, error) {
	return h.callUint32(OpRegisterParser, wire.String(name))
}

func (h *Host) UnregisterParser() error { return h.call(OpUnregisterParser) }

func (h *Host) AddProtocolTag(name string) error {
	return h.call(OpAddProtocolTag, wire.String(name))
}

func (h *Host) AddSessionTag(name string) error {
	return h.call(OpAddSessionTag, wire.String(name))
}

func (h *Host) HasProtocol(name string) (bool, error) {
	n, err := h.callUint32(OpHasProtocol, wire.String(name))
	return n != 0, err
}

func (h *Host) DefineField(def plugin.FieldDef) (int32, error) {
	n, err := h.callUint32(OpDefineField,
		wire.String(def.Group),
		wire.String(def.Kind),
		wire.String(def.Expression),
		wire.String(def.FriendlyName),
		wire.String(def.DBField),
		wire.String(def.Help),
		wire.Uint32(def.Type),
		wire.Uint32(def.Flags),
	)
	return int32(n), err
}

func (h *Host) AddStringField(handle int32, value string) error {
	return h.call(OpAddStringField, wire.Uint32(uint32(handle)), wire.String(value))
}

func (h *Host) AddIntField(handle int32, value uint32) error {
	return h.call(OpAddIntField, wire.Uint32(uint32(handle)), wire.Uint32(value))
}

func (h *Host) AddIPField(handle int32, value string) error {
	return h.call(OpAddIPField, wire.Uint32(uint32(handle)), wire.String(value))
}

func (h *Host) RenderHTML(raw []byte) (string, error) {
	return h.callString(OpRenderToHTML, wire.Data(raw))
}

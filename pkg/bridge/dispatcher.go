package bridge

import (
	"errors"
	"fmt"

	"firestige.xyz/otus-dissect/internal/core"
	"firestige.xyz/otus-dissect/internal/log"
	"firestige.xyz/otus-dissect/pkg/wire"
)

// Arity declares whether a callback answers with a value.
type Arity int

const (
	ResultNone Arity = iota
	ResultOne
)

// HandlerFunc serves one callback. The returned value is written after
// "return" when the handler was registered with ResultOne.
type HandlerFunc func(args Args) (wire.Value, error)

// State of a Dispatcher.
type State int

const (
	StateRunning State = iota
	StateStopped
)

func (s State) String() string {
	if s == StateRunning {
		return "RUNNING"
	}
	return "STOPPED"
}

type handler struct {
	arity Arity
	fn    HandlerFunc
}

// Dispatcher reads callback invocations, runs the bound handler and answers
// with a "return" frame, until the host closes the channel.
type Dispatcher struct {
	ch       *wire.Channel
	handlers map[string]handler
	state    State
	served   int
	logger   log.Logger
}

func NewDispatcher(ch *wire.Channel) *Dispatcher {
	return &Dispatcher{
		ch:       ch,
		handlers: make(map[string]handler),
		logger:   log.GetLogger(),
	}
}

// SetLogger overrides the dispatcher's logger.
func (d *Dispatcher) SetLogger(l log.Logger) { d.logger = l }

// Handle binds fn to a callback name. A later binding replaces an earlier one.
func (d *Dispatcher) Handle(name string, arity Arity, fn HandlerFunc) {
	d.handlers[name] = handler{arity: arity, fn: fn}
}

func (d *Dispatcher) State() State { return d.state }

// Served returns the number of callbacks answered so far.
func (d *Dispatcher) Served() int { return d.served }

// Run serves callbacks until the host closes the inbound stream on a message
// boundary, which returns nil. Any other failure stops the dispatcher and is
// returned; the stream cannot be resynchronised afterwards.
func (d *Dispatcher) Run() error {
	if d.state == StateStopped {
		return core.ErrDispatcherStopped
	}
	for {
		stop, err := d.serveOne()
		if err != nil {
			d.state = StateStopped
			return err
		}
		if stop {
			d.state = StateStopped
			d.logger.WithField("served", d.served).Debug("host closed channel")
			return nil
		}
	}
}

// serveOne answers one callback. It reports stop when the stream ended
// before the first byte of a callback name.
func (d *Dispatcher) serveOne() (stop bool, err error) {
	name, err := d.ch.In.ReadString()
	if errors.Is(err, core.ErrEndOfStream) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read callback name: %w", err)
	}
	args, err := d.ch.ReadArgs()
	if err != nil {
		return false, fmt.Errorf("read %s arguments: %w", name, wire.Midstream(err))
	}

	h, ok := d.handlers[name]
	if !ok {
		return false, fmt.Errorf("%w: %q", core.ErrUnknownCallback, name)
	}
	if d.logger.IsTraceEnabled() {
		d.logger.WithFields(map[string]any{"callback": name, "argc": len(args)}).Trace("callback")
	}

	result, err := h.fn(Args(args))
	if err != nil {
		return false, fmt.Errorf("callback %s: %w", name, err)
	}
	if h.arity == ResultOne && result == nil {
		return false, fmt.Errorf("%w: %s produced no result", core.ErrUnexpectedResult, name)
	}

	if err := d.ch.Out.WriteString(ReturnName); err != nil {
		return false, fmt.Errorf("return %s: %w", name, err)
	}
	if h.arity == ResultOne {
		if err := d.ch.Out.WriteValue(result); err != nil {
			return false, fmt.Errorf("return %s: %w", name, err)
		}
	}
	if err := d.ch.Out.Flush(); err != nil {
		return false, fmt.Errorf("return %s: %w", name, err)
	}
	d.served++
	return false, nil
}

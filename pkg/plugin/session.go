package plugin

import (
	"fmt"

	"firestige.xyz/otus-dissect/pkg/wire"
)

// Session is the view of one host session handed to Classify and Parse.
// It is only valid for the duration of the callback.
type Session struct {
	engine *Engine
	entry  *classifierEntry

	tuple    wire.Session
	hasTuple bool

	handle       uint32
	hasHandle    bool
	unregistered bool
}

// Host returns the host stub.
func (s *Session) Host() Host { return s.engine.host }

// Classifier returns the name of the classifier the callback targets.
func (s *Session) Classifier() string { return s.entry.c.Name() }

// Tuple returns the address tuple; it is only known during Classify.
func (s *Session) Tuple() (wire.Session, bool) { return s.tuple, s.hasTuple }

// Handle returns the parser handle; it is only known during Parse or after
// RegisterParser.
func (s *Session) Handle() (uint32, bool) { return s.handle, s.hasHandle }

// Add adds v to field f.
func (s *Session) Add(f *Field, v any) error {
	return f.Add(s.engine.host, v)
}

func (s *Session) AddProtocol(name string) error { return s.engine.host.AddProtocolTag(name) }
func (s *Session) AddTag(name string) error      { return s.engine.host.AddSessionTag(name) }

func (s *Session) HasProtocol(name string) (bool, error) {
	return s.engine.host.HasProtocol(name)
}

// RegisterParser obtains a parser handle for this session and keeps p under it.
func (s *Session) RegisterParser(p Parser) (uint32, error) {
	if p == nil {
		return 0, fmt.Errorf("register parser for %s: nil parser", s.Classifier())
	}
	h, err := s.engine.host.RegisterParser(s.Classifier())
	if err != nil {
		return 0, fmt.Errorf("register parser for %s: %w", s.Classifier(), err)
	}
	if old, ok := s.entry.parsers[h]; ok {
		// The host reused a live handle; the old parser's session is gone.
		release(old)
	}
	s.entry.parsers[h] = p
	s.handle, s.hasHandle = h, true
	return h, nil
}

// Unregister detaches the current parser; no further Parse calls follow.
func (s *Session) Unregister() error {
	if !s.hasHandle || s.unregistered {
		return nil
	}
	if err := s.engine.host.UnregisterParser(); err != nil {
		return err
	}
	s.unregistered = true
	s.entry.drop(s.handle)
	return nil
}

func (s *Session) Log(format string, args ...any) error {
	return s.engine.host.Log(fmt.Sprintf(format, args...))
}

func (s *Session) Debug(format string, args ...any) error {
	return s.engine.host.Debug(fmt.Sprintf(format, args...))
}

func release(p Parser) {
	if r, ok := p.(Releaser); ok {
		r.Release()
	}
}

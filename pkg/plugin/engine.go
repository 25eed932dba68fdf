package plugin

import (
	"bytes"
	"fmt"
	"slices"

	"firestige.xyz/otus-dissect/internal/core"
	"firestige.xyz/otus-dissect/internal/log"
	"firestige.xyz/otus-dissect/pkg/wire"
)

type classifierEntry struct {
	c       Classifier
	fields  *FieldSet
	parsers map[uint32]Parser
}

func (e *classifierEntry) drop(h uint32) bool {
	p, ok := e.parsers[h]
	if !ok {
		return false
	}
	delete(e.parsers, h)
	release(p)
	return true
}

// Engine routes host callbacks to classifiers and their live parsers. It is
// driven from a single goroutine and does no locking.
type Engine struct {
	host       Host
	logger     log.Logger
	enabled    []string
	entries    map[string]*classifierEntry
	order      []string
	renderHTML bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithEnabled restricts the engine to the named classifiers; "*" enables all.
func WithEnabled(names []string) Option {
	return func(e *Engine) { e.enabled = names }
}

func WithLogger(l log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithHTMLRender makes Decode ask the host to render the frame text.
func WithHTMLRender(on bool) Option {
	return func(e *Engine) { e.renderHTML = on }
}

func NewEngine(host Host, opts ...Option) *Engine {
	e := &Engine{
		host:    host,
		logger:  log.GetLogger(),
		entries: make(map[string]*classifierEntry),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enabled reports whether name passes the enabled list. An empty list enables all.
func (e *Engine) Enabled(name string) bool {
	if len(e.enabled) == 0 {
		return true
	}
	return slices.Contains(e.enabled, "*") || slices.Contains(e.enabled, name)
}

// Add installs a classifier. Classifiers not in the enabled list are skipped.
func (e *Engine) Add(c Classifier) error {
	name := c.Name()
	if !e.Enabled(name) {
		e.logger.WithField("classifier", name).Debug("classifier disabled by configuration")
		return nil
	}
	if _, ok := e.entries[name]; ok {
		return fmt.Errorf("%w: %s", core.ErrClassifierExists, name)
	}
	e.entries[name] = &classifierEntry{
		c:       c,
		fields:  NewFieldSet(e.host),
		parsers: make(map[uint32]Parser),
	}
	e.order = append(e.order, name)
	return nil
}

// Classifiers lists installed classifier names in installation order.
func (e *Engine) Classifiers() []string { return slices.Clone(e.order) }

// Fields returns the field set of a classifier.
func (e *Engine) Fields(name string) (*FieldSet, error) {
	ent, err := e.entry(name)
	if err != nil {
		return nil, err
	}
	return ent.fields, nil
}

// Active returns the number of live parsers of a classifier.
func (e *Engine) Active(name string) int {
	if ent, ok := e.entries[name]; ok {
		return len(ent.parsers)
	}
	return 0
}

// Register announces every classifier to the host.
func (e *Engine) Register() error {
	for _, name := range e.order {
		c := e.entries[name].c
		if err := e.host.RegisterClassifier(name, c.Transport(), c.Offset(), c.Pattern()); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
		if pc, ok := c.(PortClassifier); ok {
			for _, port := range pc.Ports() {
				if err := e.host.RegisterPortClassifier(name, port, c.Transport()); err != nil {
					return fmt.Errorf("register %s port %d: %w", name, port, err)
				}
			}
		}
		e.logger.WithFields(map[string]any{
			"classifier": name,
			"transport":  c.Transport().String(),
			"offset":     c.Offset(),
		}).Debug("classifier registered")
	}
	return nil
}

// Define lets every classifier define its fields.
func (e *Engine) Define() error {
	for _, name := range e.order {
		ent := e.entries[name]
		if err := ent.c.Define(ent.fields); err != nil {
			return fmt.Errorf("define %s: %w", name, err)
		}
	}
	return nil
}

// Classify hands the first matching bytes of a session to a classifier.
func (e *Engine) Classify(name string, tuple wire.Session, data []byte, dir Direction) error {
	ent, err := e.entry(name)
	if err != nil {
		return err
	}
	sess := &Session{engine: e, entry: ent, tuple: tuple, hasTuple: true}
	if err := ent.c.Classify(sess, data, dir); err != nil {
		return fmt.Errorf("classify %s: %w", name, err)
	}
	return nil
}

// Parse hands a chunk to the parser bound to handle.
func (e *Engine) Parse(name string, handle uint32, data []byte, dir Direction) error {
	ent, err := e.entry(name)
	if err != nil {
		return err
	}
	p, ok := ent.parsers[handle]
	if !ok {
		e.logger.WithFields(map[string]any{"classifier": name, "handle": handle}).
			Debug("parse for unknown parser handle ignored")
		return nil
	}
	sess := &Session{engine: e, entry: ent, handle: handle, hasHandle: true}
	if err := p.Parse(sess, data, dir); err != nil {
		return fmt.Errorf("parse %s/%d: %w", name, handle, err)
	}
	return nil
}

// Free drops the parser bound to handle.
func (e *Engine) Free(name string, handle uint32) error {
	ent, err := e.entry(name)
	if err != nil {
		return err
	}
	if !ent.drop(handle) {
		e.logger.WithFields(map[string]any{"classifier": name, "handle": handle}).
			Debug("free for unknown parser handle ignored")
	}
	return nil
}

// Decode runs a fresh decoder over data and renders every frame it yields.
// The result is empty when the classifier has no decoder or no frame completes.
// Malformed input ends decoding without failing the callback.
func (e *Engine) Decode(name string, data []byte, dir Direction, decoder string) (wire.Render, error) {
	ent, err := e.entry(name)
	if err != nil {
		return wire.Render{}, err
	}
	dec := ent.c.NewDecoder(decoder)
	if dec == nil {
		return wire.Render{}, nil
	}
	frames, err := Drain(dec, dir, data)
	if err != nil {
		// The decoder declined the input; frames before the failure still render.
		e.logger.WithFields(map[string]any{
			"classifier": name,
			"decoder":    decoder,
			"frames":     len(frames),
		}).WithError(err).Debug("decode stopped on malformed input")
	}
	if len(frames) == 0 {
		return wire.Render{}, nil
	}

	var raw []byte
	var text bytes.Buffer
	for _, f := range frames {
		raw = append(raw, f.Raw()...)
		text.WriteString(Render(f))
	}
	label := text.String()
	if e.renderHTML {
		html, err := e.host.RenderHTML([]byte(label))
		if err != nil {
			return wire.Render{}, fmt.Errorf("render %s/%s: %w", name, decoder, err)
		}
		label = html
	}
	return wire.Render{Raw: raw, Label: label}, nil
}

func (e *Engine) entry(name string) (*classifierEntry, error) {
	ent, ok := e.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownClassifier, name)
	}
	return ent, nil
}

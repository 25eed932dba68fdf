package plugin

import (
	"fmt"
	"sort"
	"sync"

	"firestige.xyz/otus-dissect/internal/core"
)

// ClassifierFactory creates a classifier instance.
type ClassifierFactory func() Classifier

type registry[F any] struct {
	mu        sync.RWMutex
	factories map[string]F
}

func newRegistry[F any]() *registry[F] {
	return &registry[F]{factories: make(map[string]F)}
}

func (r *registry[F]) register(name string, f F, isNil bool) {
	if name == "" {
		panic("plugin: register with empty name")
	}
	if isNil {
		panic(fmt.Sprintf("plugin: nil factory for %q", name))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[name]; dup {
		panic(fmt.Sprintf("plugin: %q registered twice", name))
	}
	r.factories[name] = f
}

func (r *registry[F]) get(name string) (F, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

func (r *registry[F]) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset clears all registrations. Tests only.
func (r *registry[F]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = make(map[string]F)
}

var classifierReg = newRegistry[ClassifierFactory]()

// RegisterClassifier makes a classifier available by name. It panics on an
// empty name, a nil factory or a duplicate name; call it from init.
func RegisterClassifier(name string, f ClassifierFactory) {
	classifierReg.register(name, f, f == nil)
}

// GetClassifierFactory looks up a registered classifier.
func GetClassifierFactory(name string) (ClassifierFactory, error) {
	f, ok := classifierReg.get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q not registered", core.ErrUnknownClassifier, name)
	}
	return f, nil
}

// ListClassifiers returns registered classifier names, sorted.
func ListClassifiers() []string {
	return classifierReg.names()
}

// Load instantiates every registered classifier, passes it its options and
// adds it to the engine. options is keyed by classifier name.
func Load(e *Engine, options map[string]map[string]any) error {
	for _, name := range ListClassifiers() {
		if !e.Enabled(name) {
			continue
		}
		f, _ := GetClassifierFactory(name)
		c := f()
		if cc, ok := c.(Configurable); ok {
			if err := cc.Init(options[name]); err != nil {
				return fmt.Errorf("init classifier %s: %w", name, err)
			}
		}
		if err := e.Add(c); err != nil {
			return err
		}
	}
	return nil
}

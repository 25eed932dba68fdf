package plugin

// Classifier matches the start of a new session and may attach a Parser to it.
type Classifier interface {
	Name() string
	Transport() Transport
	// Offset and Pattern describe the bytes the host matches before calling
	// Classify. An empty pattern matches anything once Offset bytes are seen.
	Offset() uint32
	Pattern() []byte

	Define(fields *FieldSet) error
	Classify(sess *Session, data []byte, dir Direction) error
	// NewDecoder returns a decoder for the named view, or nil if the
	// classifier renders nothing.
	NewDecoder(name string) Decoder
}

// PortClassifier is implemented by classifiers that also match on well-known ports.
type PortClassifier interface {
	Ports() []uint16
}

// Configurable classifiers receive their options section before registration.
type Configurable interface {
	Init(cfg map[string]any) error
}

// Parser consumes the chunks of one classified session.
type Parser interface {
	Parse(sess *Session, data []byte, dir Direction) error
}

// Releaser is implemented by parsers holding resources to drop when the
// session ends or the parser unregisters.
type Releaser interface {
	Release()
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(sess *Session, data []byte, dir Direction) error

func (f ParserFunc) Parse(sess *Session, data []byte, dir Direction) error {
	return f(sess, data, dir)
}

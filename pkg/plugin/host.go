package plugin

// Host is the set of operations a plugin may invoke on the capture engine.
// Every method is a blocking round trip; calls must never overlap.
type Host interface {
	Log(msg string) error
	Debug(msg string) error

	RegisterClassifier(name string, transport Transport, offset uint32, pattern []byte) error
	RegisterPortClassifier(name string, port uint16, transport Transport) error

	// RegisterParser asks the host for a parser handle bound to the session
	// currently being classified.
	RegisterParser(name string) (uint32, error)
	// UnregisterParser detaches the parser of the session currently being parsed.
	UnregisterParser() error

	AddProtocolTag(name string) error
	AddSessionTag(name string) error
	HasProtocol(name string) (bool, error)

	DefineField(def FieldDef) (int32, error)
	AddStringField(handle int32, value string) error
	AddIntField(handle int32, value uint32) error
	AddIPField(handle int32, value string) error

	RenderHTML(raw []byte) (string, error)
}

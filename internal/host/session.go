package host

import (
	"slices"

	"firestige.xyz/otus-dissect/pkg/plugin"
	"firestige.xyz/otus-dissect/pkg/wire"
)

// DefaultMaxStream bounds the bytes kept per direction for decode views.
const DefaultMaxStream = 64 << 10

// Session is the host's record of one captured session: what the plugin
// reported about it and which parsers are still attached.
type Session struct {
	ID        int
	Transport plugin.Transport
	Tuple     wire.Session

	Protocols []string
	Tags      []string
	Fields    map[string][]string
	Bytes     [2]int

	classified map[string]bool
	declined   [2]map[string]bool
	parsers    []uint32
	streams    [2][]byte
	maxStream  int
	closed     bool
}

func newSession(id int, t plugin.Transport, tuple wire.Session, maxStream int) *Session {
	return &Session{
		ID:         id,
		Transport:  t,
		Tuple:      tuple,
		Fields:     make(map[string][]string),
		classified: make(map[string]bool),
		declined:   [2]map[string]bool{make(map[string]bool), make(map[string]bool)},
		maxStream:  maxStream,
	}
}

// NewSession creates a session for driving the emulator by hand.
func NewSession(id int, t plugin.Transport, tuple wire.Session) *Session {
	return newSession(id, t, tuple, DefaultMaxStream)
}

func (s *Session) HasProtocol(name string) bool { return slices.Contains(s.Protocols, name) }

// Parsers returns the live parser handles.
func (s *Session) Parsers() []uint32 { return slices.Clone(s.parsers) }

// Stream returns the bytes kept for one direction.
func (s *Session) Stream(dir plugin.Direction) []byte { return s.streams[dir.Index()] }

func (s *Session) addProtocol(name string) {
	if !s.HasProtocol(name) {
		s.Protocols = append(s.Protocols, name)
	}
}

func (s *Session) record(data []byte, dir plugin.Direction) {
	i := dir.Index()
	s.Bytes[i] += len(data)
	if room := s.maxStream - len(s.streams[i]); room > 0 {
		s.streams[i] = append(s.streams[i], data[:min(room, len(data))]...)
	}
}

func (s *Session) dropParser(h uint32) {
	s.parsers = slices.DeleteFunc(s.parsers, func(p uint32) bool { return p == h })
}

// Package wire implements the framed channel between a capture host and a
// dissector plugin.
//
// Every integer on the wire is a 4-byte little-endian unsigned value. Text
// and byte blobs share one layout:
//
//	Offset  Size  Description
//	------  ----  -----------
//	0       4     Length N (uint32 LE)
//	4       N     Bytes (strings carry a trailing NUL inside N)
//
// A tagged value is a string naming the type followed by the type's body:
//
//	Tag        Body
//	---        ----
//	"string"   string
//	"data"     blob
//	"int32"    uint32
//	"session"  36 bytes: src addr(16) src port(2 LE) dst addr(16) dst port(2 LE)
//	"render"   blob (raw bytes) + string (label); plugin → host only
//
// The transport underneath is a pair of ordered, blocking byte streams with
// no framing of their own.
package wire

// Value tags as they appear on the wire.
const (
	TagString  = "string"
	TagData    = "data"
	TagUint32  = "int32"
	TagSession = "session"
	TagRender  = "render"
)

// Value is the closed set of types the channel can carry.
type Value interface {
	Tag() string
	isValue()
}

// String is UTF-8 text.
type String string

// Data is an opaque byte blob.
type Data []byte

// Uint32 is a 32-bit unsigned integer. The wire tag keeps its historical
// name "int32".
type Uint32 uint32

// Render is the result of a decode callback: the frame's raw bytes and the
// label text a viewer shows for them.
type Render struct {
	Raw   []byte
	Label string
}

func (String) Tag() string  { return TagString }
func (Data) Tag() string    { return TagData }
func (Uint32) Tag() string  { return TagUint32 }
func (Session) Tag() string { return TagSession }
func (Render) Tag() string  { return TagRender }

func (String) isValue()  {}
func (Data) isValue()    {}
func (Uint32) isValue()  {}
func (Session) isValue() {}
func (Render) isValue()  {}

// Empty reports whether the render carries no frame.
func (r Render) Empty() bool {
	return len(r.Raw) == 0 && r.Label == ""
}

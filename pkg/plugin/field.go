package plugin

import (
	"fmt"
	"math"
	"net"
	"net/netip"

	"firestige.xyz/otus-dissect/internal/core"
)

// FieldType is the host storage type of a field.
type FieldType uint32

const (
	FieldInt FieldType = iota
	FieldIntArray
	FieldIntHash
	FieldStr
	FieldStrArray
	FieldStrHash
	FieldIP
	FieldIPHash
)

func (t FieldType) IsInt() bool { return t <= FieldIntHash }
func (t FieldType) IsStr() bool { return t >= FieldStr && t <= FieldStrHash }
func (t FieldType) IsIP() bool  { return t == FieldIP || t == FieldIPHash }

func (t FieldType) String() string {
	switch t {
	case FieldInt:
		return "int"
	case FieldIntArray:
		return "int-array"
	case FieldIntHash:
		return "int-hash"
	case FieldStr:
		return "str"
	case FieldStrArray:
		return "str-array"
	case FieldStrHash:
		return "str-hash"
	case FieldIP:
		return "ip"
	case FieldIPHash:
		return "ip-hash"
	default:
		return fmt.Sprintf("type(%d)", uint32(t))
	}
}

// FieldFlag is a bitmask of host field options.
type FieldFlag uint32

const (
	FlagLinkedSessions FieldFlag = 0x0001
	FlagForceUTF8      FieldFlag = 0x0004
	FlagNoDB           FieldFlag = 0x0008
	FlagFake           FieldFlag = 0x0010
	FlagDisabled       FieldFlag = 0x0020
	FlagNoSave         FieldFlag = 0x0040
	FlagCount          FieldFlag = 0x1000
)

// Reserved handles that bypass generic field storage.
const (
	ProtocolHandle int32 = -1
	TagHandle      int32 = -2
)

// FieldDef is the schema entry sent with defineField.
type FieldDef struct {
	Group        string
	Kind         string
	Expression   string
	FriendlyName string
	DBField      string
	Help         string
	Type         FieldType
	Flags        FieldFlag
}

// Field is a defined field bound to its host handle.
type Field struct {
	def    FieldDef
	handle int32
}

var (
	protocolField = &Field{def: FieldDef{Expression: "protocols", DBField: "protocol"}, handle: ProtocolHandle}
	tagField      = &Field{def: FieldDef{Expression: "tags", DBField: "tags"}, handle: TagHandle}
)

// ProtocolField adds protocol tags to a session.
func ProtocolField() *Field { return protocolField }

// TagField adds generic tags to a session.
func TagField() *Field { return tagField }

func (f *Field) Handle() int32 { return f.handle }
func (f *Field) Def() FieldDef { return f.def }

// Add sends v to the host using the operation matching the field's type.
func (f *Field) Add(h Host, v any) error {
	switch f.handle {
	case ProtocolHandle:
		s, err := toString(v)
		if err != nil {
			return f.mismatch(v)
		}
		return h.AddProtocolTag(s)
	case TagHandle:
		s, err := toString(v)
		if err != nil {
			return f.mismatch(v)
		}
		return h.AddSessionTag(s)
	}

	switch t := f.def.Type; {
	case t.IsInt():
		n, err := toUint32(v)
		if err != nil {
			return f.mismatch(v)
		}
		return h.AddIntField(f.handle, n)
	case t.IsStr():
		s, err := toString(v)
		if err != nil {
			return f.mismatch(v)
		}
		return h.AddStringField(f.handle, s)
	case t.IsIP():
		s, err := toIP(v)
		if err != nil {
			return f.mismatch(v)
		}
		return h.AddIPField(f.handle, s)
	default:
		return fmt.Errorf("%w: field %s has unknown type %d", core.ErrTypeMismatch, f.def.DBField, t)
	}
}

func (f *Field) mismatch(v any) error {
	return fmt.Errorf("%w: %T for %s field %s", core.ErrTypeMismatch, v, f.def.Type, f.def.DBField)
}

func toString(v any) (string, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	return "", core.ErrTypeMismatch
}

func toUint32(v any) (uint32, error) {
	var n int64
	switch v := v.(type) {
	case uint32:
		return v, nil
	case uint16:
		return uint32(v), nil
	case uint8:
		return uint32(v), nil
	case int:
		n = int64(v)
	case int32:
		n = int64(v)
	case int64:
		n = v
	default:
		return 0, core.ErrTypeMismatch
	}
	if n < 0 || n > math.MaxUint32 {
		return 0, core.ErrTypeMismatch
	}
	return uint32(n), nil
}

func toIP(v any) (string, error) {
	switch v := v.(type) {
	case netip.Addr:
		if v.IsValid() {
			return v.Unmap().String(), nil
		}
	case net.IP:
		if addr, ok := netip.AddrFromSlice(v); ok {
			return addr.Unmap().String(), nil
		}
	case string:
		if addr, err := netip.ParseAddr(v); err == nil {
			return addr.Unmap().String(), nil
		}
	}
	return "", core.ErrTypeMismatch
}

// FieldSet caches the fields a classifier defined, keyed by DBField.
type FieldSet struct {
	host   Host
	fields map[string]*Field
}

func NewFieldSet(h Host) *FieldSet {
	return &FieldSet{host: h, fields: make(map[string]*Field)}
}

// Define asks the host for a handle and caches it. Defining the same key again
// must yield the same handle.
func (s *FieldSet) Define(def FieldDef) (*Field, error) {
	if def.DBField == "" {
		return nil, fmt.Errorf("define %q: empty db field", def.Expression)
	}
	handle, err := s.host.DefineField(def)
	if err != nil {
		return nil, fmt.Errorf("define %s: %w", def.DBField, err)
	}
	if f, ok := s.fields[def.DBField]; ok {
		if f.handle != handle {
			return nil, fmt.Errorf("%w: %s was %d, now %d", core.ErrHandleMismatch, def.DBField, f.handle, handle)
		}
		return f, nil
	}
	f := &Field{def: def, handle: handle}
	s.fields[def.DBField] = f
	return f, nil
}

// Get returns a previously defined field.
func (s *FieldSet) Get(dbField string) (*Field, error) {
	f, ok := s.fields[dbField]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrFieldNotDefined, dbField)
	}
	return f, nil
}

func (s *FieldSet) Len() int { return len(s.fields) }

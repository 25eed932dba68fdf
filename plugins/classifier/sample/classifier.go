// Package sample dissects a small length-prefixed TCP protocol: a handshake
// carrying a key seed, XOR-obfuscated data messages of nested TLVs, and a
// close message that ends the session.
package sample

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"firestige.xyz/otus-dissect/pkg/plugin"
)

const (
	Name = "sample"

	tagMalformed = "sample:malformed"
)

type Classifier struct {
	maxBuffered int

	user    *plugin.Field
	host    *plugin.Field
	counter *plugin.Field
}

func New() plugin.Classifier {
	return &Classifier{maxBuffered: plugin.DefaultMaxBuffered}
}

func (c *Classifier) Name() string                { return Name }
func (c *Classifier) Transport() plugin.Transport { return plugin.TransportTCP }
func (c *Classifier) Offset() uint32              { return 0 }
func (c *Classifier) Pattern() []byte             { return []byte{magic[0], magic[1], TypeHandshake} }

// Init reads max_buffered_bytes.
func (c *Classifier) Init(cfg map[string]any) error {
	v, ok := cfg["max_buffered_bytes"]
	if !ok {
		return nil
	}
	n, ok := v.(int)
	if !ok || n <= 0 {
		return fmt.Errorf("max_buffered_bytes: want positive int, got %v", v)
	}
	c.maxBuffered = n
	return nil
}

func (c *Classifier) Define(fs *plugin.FieldSet) error {
	var err error
	if c.user, err = fs.Define(plugin.FieldDef{
		Group: "sample", Kind: "termfield", Expression: "sample.user", FriendlyName: "User",
		DBField: "sample.user", Help: "Sample protocol user name",
		Type: plugin.FieldStrHash, Flags: plugin.FlagForceUTF8,
	}); err != nil {
		return err
	}
	if c.host, err = fs.Define(plugin.FieldDef{
		Group: "sample", Kind: "ip", Expression: "sample.host", FriendlyName: "Host",
		DBField: "sample.host", Help: "Sample protocol announced host",
		Type: plugin.FieldIPHash,
	}); err != nil {
		return err
	}
	c.counter, err = fs.Define(plugin.FieldDef{
		Group: "sample", Kind: "integer", Expression: "sample.counter", FriendlyName: "Counter",
		DBField: "sample.counter", Help: "Sample protocol message counter",
		Type: plugin.FieldIntHash,
	})
	return err
}

func (c *Classifier) Classify(sess *plugin.Session, _ []byte, _ plugin.Direction) error {
	if err := sess.AddProtocol(Name); err != nil {
		return err
	}
	_, err := sess.RegisterParser(&parser{c: c, s: newStream(c.maxBuffered, false)})
	return err
}

// NewDecoder supports "default" and "raw"; raw leaves data bodies obfuscated.
func (c *Classifier) NewDecoder(name string) plugin.Decoder {
	switch name {
	case "", "default":
		return newStream(c.maxBuffered, false)
	case "raw":
		return newStream(c.maxBuffered, true)
	default:
		return nil
	}
}

type parser struct {
	c *Classifier
	s *stream
}

func (p *parser) Parse(sess *plugin.Session, data []byte, dir plugin.Direction) error {
	frames, err := p.s.dec.DecodeAll(dir, data)
	for _, f := range frames {
		done, aerr := p.apply(sess, f.(*Frame))
		if aerr != nil {
			return aerr
		}
		if done {
			return sess.Unregister()
		}
	}
	if err != nil {
		// A malformed stream ends this session only.
		if derr := sess.Debug("sample: %s: %v", dir, err); derr != nil {
			return derr
		}
		if terr := sess.AddTag(tagMalformed); terr != nil {
			return terr
		}
		return sess.Unregister()
	}
	return nil
}

// apply reports the fields of one message and whether the session is done.
func (p *parser) apply(sess *plugin.Session, f *Frame) (bool, error) {
	switch f.Type {
	case TypeClose:
		return true, nil
	case TypeData:
		if f.Obfuscated {
			return false, sess.Debug("sample: data before handshake")
		}
	default:
		return false, nil
	}
	for _, t := range f.TLVs {
		var err error
		switch t.Tag {
		case TagUser:
			err = sess.Add(p.c.user, t.Value)
		case TagHost:
			if addr, ok := netip.AddrFromSlice(t.Value); ok {
				err = sess.Add(p.c.host, addr)
			}
		case TagCounter:
			if len(t.Value) == 4 {
				err = sess.Add(p.c.counter, binary.LittleEndian.Uint32(t.Value))
			}
		}
		if err != nil {
			return false, err
		}
	}
	return false, nil
}

func (p *parser) Release() { p.s.Reset() }

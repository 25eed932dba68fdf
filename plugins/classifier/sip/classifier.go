// Package sip classifies and parses SIP signalling over UDP. Messages are
// parsed with gosip; dialogs are tracked by Call-ID in a TTL cache so
// retransmissions can be tagged and finished calls release their parser.
package sip

import (
	"fmt"
	"strings"
	"time"

	"github.com/ghettovoice/gosip/sip"
	"github.com/ghettovoice/gosip/sip/parser"
	"github.com/patrickmn/go-cache"

	"firestige.xyz/otus-dissect/internal/log"
	"firestige.xyz/otus-dissect/pkg/plugin"
)

const (
	Name = "sip"

	defaultDialogTTL = 32 * time.Second
	defaultCleanup   = time.Minute

	TagRetransmission = "sip:retransmission"
	TagEstablished    = "sip:established"
)

// Classifier is shared by every SIP session of the process.
type Classifier struct {
	logger log.Logger
	parser *parser.PacketParser

	ttl     time.Duration
	cleanup time.Duration
	dialogs *cache.Cache // Call-ID → *dialog
	seen    *cache.Cache // message key → struct{}

	callID    *plugin.Field
	method    *plugin.Field
	status    *plugin.Field
	from      *plugin.Field
	to        *plugin.Field
	userAgent *plugin.Field
}

type dialog struct {
	established bool
	terminated  bool
}

func New() plugin.Classifier {
	c := &Classifier{
		logger:  log.GetLogger().WithField("classifier", Name),
		ttl:     defaultDialogTTL,
		cleanup: defaultCleanup,
	}
	c.parser = parser.NewPacketParser(newLogAdapter(log.LogrusEntry(c.logger)))
	c.resetCaches()
	return c
}

func (c *Classifier) resetCaches() {
	c.dialogs = cache.New(c.ttl, c.cleanup)
	c.seen = cache.New(c.ttl, c.cleanup)
}

func (c *Classifier) Name() string                { return Name }
func (c *Classifier) Transport() plugin.Transport { return plugin.TransportUDP }
func (c *Classifier) Offset() uint32              { return 0 }
func (c *Classifier) Pattern() []byte             { return []byte("INVITE ") }
func (c *Classifier) Ports() []uint16             { return []uint16{5060} }

// Init reads dialog_ttl and cleanup_interval, as durations or duration strings.
func (c *Classifier) Init(cfg map[string]any) error {
	ttl, err := durationOption(cfg, "dialog_ttl", c.ttl)
	if err != nil {
		return err
	}
	cleanup, err := durationOption(cfg, "cleanup_interval", c.cleanup)
	if err != nil {
		return err
	}
	c.ttl, c.cleanup = ttl, cleanup
	c.resetCaches()
	return nil
}

func durationOption(cfg map[string]any, key string, def time.Duration) (time.Duration, error) {
	v, ok := cfg[key]
	if !ok {
		return def, nil
	}
	var d time.Duration
	switch t := v.(type) {
	case time.Duration:
		d = t
	case string:
		var err error
		if d, err = time.ParseDuration(t); err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
	default:
		return 0, fmt.Errorf("%s: want duration, got %T", key, v)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive", key)
	}
	return d, nil
}

func (c *Classifier) Define(fs *plugin.FieldSet) error {
	defs := []struct {
		dst **plugin.Field
		def plugin.FieldDef
	}{
		{&c.callID, plugin.FieldDef{Kind: "termfield", Expression: "sip.call-id", FriendlyName: "Call-ID",
			DBField: "sip.callid", Help: "SIP Call-ID header", Type: plugin.FieldStrHash}},
		{&c.method, plugin.FieldDef{Kind: "uptermfield", Expression: "sip.method", FriendlyName: "Method",
			DBField: "sip.method", Help: "SIP request methods", Type: plugin.FieldStrHash}},
		{&c.status, plugin.FieldDef{Kind: "integer", Expression: "sip.status", FriendlyName: "Status",
			DBField: "sip.status", Help: "SIP response status codes", Type: plugin.FieldIntHash}},
		{&c.from, plugin.FieldDef{Kind: "termfield", Expression: "sip.from", FriendlyName: "From",
			DBField: "sip.from", Help: "SIP From URI", Type: plugin.FieldStrHash}},
		{&c.to, plugin.FieldDef{Kind: "termfield", Expression: "sip.to", FriendlyName: "To",
			DBField: "sip.to", Help: "SIP To URI", Type: plugin.FieldStrHash}},
		{&c.userAgent, plugin.FieldDef{Kind: "termfield", Expression: "sip.user-agent", FriendlyName: "User-Agent",
			DBField: "sip.useragent", Help: "SIP User-Agent header", Type: plugin.FieldStrHash, Flags: plugin.FlagForceUTF8}},
	}
	for _, d := range defs {
		d.def.Group = "sip"
		f, err := fs.Define(d.def)
		if err != nil {
			return err
		}
		*d.dst = f
	}
	return nil
}

// Classify attaches a parser when the first datagram parses as SIP.
func (c *Classifier) Classify(sess *plugin.Session, data []byte, _ plugin.Direction) error {
	if _, err := c.parser.ParseMessage(data); err != nil {
		return sess.Debug("sip: not a SIP message: %v", err)
	}
	if err := sess.AddProtocol(Name); err != nil {
		return err
	}
	_, err := sess.RegisterParser(&sessionParser{c: c, calls: make(map[string]bool)})
	return err
}

func (c *Classifier) NewDecoder(name string) plugin.Decoder {
	if name != "" && name != "default" {
		return nil
	}
	return plugin.NewStreamDecoder(frameFunc)
}

// Dialogs returns the number of tracked dialogs.
func (c *Classifier) Dialogs() int { return c.dialogs.ItemCount() }

func (c *Classifier) dialog(callID string) *dialog {
	if v, ok := c.dialogs.Get(callID); ok {
		return v.(*dialog)
	}
	d := &dialog{}
	c.dialogs.Set(callID, d, c.ttl)
	return d
}

// sessionParser handles the datagrams of one UDP session.
type sessionParser struct {
	c     *Classifier
	calls map[string]bool
}

type summary struct {
	callID    string
	method    string
	status    int
	cseqNo    string
	cseqOf    string
	from      string
	to        string
	userAgent string
	startLine string
}

func summarize(msg sip.Message) summary {
	s := summary{startLine: msg.StartLine()}
	if id, ok := msg.CallID(); ok {
		s.callID = id.Value()
	}
	if cseq, ok := msg.CSeq(); ok {
		s.cseqNo, s.cseqOf, _ = strings.Cut(strings.TrimSpace(cseq.Value()), " ")
		s.cseqOf = strings.ToUpper(strings.TrimSpace(s.cseqOf))
	}
	if from, ok := msg.From(); ok {
		s.from = extractURI(from.Value())
	}
	if to, ok := msg.To(); ok {
		s.to = extractURI(to.Value())
	}
	for _, h := range msg.Headers() {
		if strings.EqualFold(h.Name(), "User-Agent") {
			s.userAgent = h.Value()
		}
	}
	switch m := msg.(type) {
	case sip.Request:
		s.method = string(m.Method())
	case sip.Response:
		s.status = int(m.StatusCode())
	}
	return s
}

// extractURI returns the URI of a From/To value: the part in angle brackets,
// or the first token without parameters.
func extractURI(value string) string {
	if start := strings.IndexByte(value, '<'); start >= 0 {
		if end := strings.IndexByte(value[start:], '>'); end > 0 {
			return value[start+1 : start+end]
		}
		return ""
	}
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return ""
	}
	uri, _, _ := strings.Cut(fields[0], ";")
	return uri
}

func (p *sessionParser) Parse(sess *plugin.Session, data []byte, dir plugin.Direction) error {
	msg, err := p.c.parser.ParseMessage(data)
	if err != nil {
		return sess.Debug("sip: %s: unparsable datagram: %v", dir, err)
	}
	s := summarize(msg)

	key := strings.Join([]string{s.callID, s.cseqNo, s.cseqOf, s.startLine, dir.String()}, "|")
	if err := p.c.seen.Add(key, struct{}{}, p.c.ttl); err != nil {
		return sess.AddTag(TagRetransmission)
	}

	if err := p.addFields(sess, s); err != nil {
		return err
	}
	if s.callID == "" {
		return nil
	}

	d := p.c.dialog(s.callID)
	switch {
	case s.status >= 200 && s.status < 300 && s.cseqOf == "INVITE":
		if !d.established {
			d.established = true
			if err := sess.AddTag(TagEstablished); err != nil {
				return err
			}
		}
	case s.status >= 300 && s.cseqOf == "INVITE",
		s.status >= 200 && (s.cseqOf == "BYE" || s.cseqOf == "CANCEL"):
		d.terminated = true
	}
	if d.terminated {
		p.c.dialogs.Delete(s.callID)
		delete(p.calls, s.callID)
		if len(p.calls) == 0 {
			return sess.Unregister()
		}
	}
	return nil
}

func (p *sessionParser) addFields(sess *plugin.Session, s summary) error {
	if s.method != "" {
		if err := sess.Add(p.c.method, s.method); err != nil {
			return err
		}
	}
	if s.status > 0 {
		if err := sess.Add(p.c.status, s.status); err != nil {
			return err
		}
	}
	if s.callID == "" || p.calls[s.callID] {
		return nil
	}
	p.calls[s.callID] = true

	values := []struct {
		f *plugin.Field
		v string
	}{
		{p.c.callID, s.callID},
		{p.c.from, s.from},
		{p.c.to, s.to},
		{p.c.userAgent, s.userAgent},
	}
	for _, fv := range values {
		if fv.v == "" {
			continue
		}
		if err := sess.Add(fv.f, fv.v); err != nil {
			return err
		}
	}
	return nil
}

// Release forgets the session's calls; dialogs expire with the cache.
func (p *sessionParser) Release() {
	clear(p.calls)
}

package host

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"gopkg.in/yaml.v3"

	"firestige.xyz/otus-dissect/pkg/plugin"
)

// Report summarizes a replay.
type Report struct {
	Packets  int             `yaml:"packets"`
	Sessions []SessionReport `yaml:"sessions"`
}

// SessionReport is what the plugin produced for one session.
type SessionReport struct {
	ID            int                 `yaml:"id"`
	Transport     string              `yaml:"transport"`
	Tuple         string              `yaml:"tuple"`
	Protocols     []string            `yaml:"protocols,omitempty"`
	Tags          []string            `yaml:"tags,omitempty"`
	Fields        map[string][]string `yaml:"fields,omitempty"`
	BytesToServer int                 `yaml:"bytes_to_server"`
	BytesToClient int                 `yaml:"bytes_to_client"`
	Decoded       []DecodedView       `yaml:"decoded,omitempty"`
}

// DecodedView is one classifier's rendering of one direction.
type DecodedView struct {
	Classifier string `yaml:"classifier"`
	Direction  string `yaml:"direction"`
	Bytes      int    `yaml:"bytes"`
	Text       string `yaml:"text"`
}

// Session finds a session report by tuple text.
func (r *Report) Session(tuple string) (SessionReport, bool) {
	for _, s := range r.Sessions {
		if s.Tuple == tuple {
			return s, true
		}
	}
	return SessionReport{}, false
}

// WriteYAML writes the report as a YAML document.
func (r *Report) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return enc.Close()
}

func (rp *replayer) summarize(sess *Session) (SessionReport, error) {
	sr := SessionReport{
		ID:            sess.ID,
		Transport:     sess.Transport.String(),
		Tuple:         sess.Tuple.String(),
		Protocols:     slices.Clone(sess.Protocols),
		Tags:          slices.Clone(sess.Tags),
		BytesToServer: sess.Bytes[plugin.DirectionToServer.Index()],
		BytesToClient: sess.Bytes[plugin.DirectionToClient.Index()],
	}
	if len(sess.Fields) > 0 {
		sr.Fields = maps.Clone(sess.Fields)
	}
	if rp.opts.Decoder == "" {
		return sr, nil
	}

	for _, name := range rp.em.classifiedBy(sess) {
		for _, dir := range []plugin.Direction{plugin.DirectionToServer, plugin.DirectionToClient} {
			data := sess.Stream(dir)
			if len(data) == 0 {
				continue
			}
			r, err := rp.em.Decode(name, data, dir, rp.opts.Decoder)
			if err != nil {
				return sr, err
			}
			if r.Empty() {
				continue
			}
			sr.Decoded = append(sr.Decoded, DecodedView{
				Classifier: name,
				Direction:  dir.String(),
				Bytes:      len(r.Raw),
				Text:       r.Label,
			})
		}
	}
	return sr, nil
}

// classifiedBy lists, in registration order, the classifiers that ran on
// sess and tagged it with their own protocol.
func (em *Emulator) classifiedBy(sess *Session) []string {
	var names []string
	for _, reg := range em.registrations {
		if sess.classified[reg.Name] && sess.HasProtocol(reg.Name) && !slices.Contains(names, reg.Name) {
			names = append(names, reg.Name)
		}
	}
	return names
}

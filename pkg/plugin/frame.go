package plugin

import (
	"encoding/hex"
	"strings"
)

// Frame is a unit of reassembled protocol data. A frame either renders its
// own bytes or, when it has children, the renderings of its children.
type Frame interface {
	Raw() []byte
	Children() []Frame
	Label() string
}

// BasicFrame is a plain Frame implementation.
type BasicFrame struct {
	Name  string
	Bytes []byte
	Kids  []Frame
}

func (f *BasicFrame) Raw() []byte       { return f.Bytes }
func (f *BasicFrame) Children() []Frame { return f.Kids }
func (f *BasicFrame) Label() string     { return f.Name }

// Render renders a frame tree as indented text.
func Render(f Frame) string {
	var sb strings.Builder
	render(&sb, f, 0)
	return sb.String()
}

func render(sb *strings.Builder, f Frame, depth int) {
	indent := strings.Repeat("  ", depth)
	sb.WriteString(indent)
	sb.WriteString(f.Label())
	sb.WriteByte('\n')

	if kids := f.Children(); len(kids) > 0 {
		for _, k := range kids {
			render(sb, k, depth+1)
		}
		return
	}
	if raw := f.Raw(); len(raw) > 0 {
		for _, line := range strings.SplitAfter(hex.Dump(raw), "\n") {
			if line == "" {
				continue
			}
			sb.WriteString(indent)
			sb.WriteString("  ")
			sb.WriteString(line)
		}
	}
}

// Walk visits f and all its descendants depth-first.
func Walk(f Frame, fn func(Frame)) {
	fn(f)
	for _, k := range f.Children() {
		Walk(k, fn)
	}
}

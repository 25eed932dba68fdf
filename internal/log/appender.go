package log

import (
	"fmt"
	"io"
	"os"
)

type MultiWriter struct {
	writers []io.Writer
}

func (m *MultiWriter) Write(p []byte) (n int, err error) {
	for _, w := range m.writers {
		_, e := w.Write(p)
		if e != nil {
			err = e
		}
	}
	return len(p), err
}

func (m *MultiWriter) Add(writer io.Writer) *MultiWriter {
	m.writers = append(m.writers, writer)
	return m
}

// AddConsoleAppender writes to stderr.
func (m *MultiWriter) AddConsoleAppender() *MultiWriter {
	return m.Add(os.Stderr)
}

func (m *MultiWriter) Len() int { return len(m.writers) }

func NewMultiWriter() *MultiWriter {
	return &MultiWriter{writers: make([]io.Writer, 0)}
}

func buildWriter(appenders []AppenderConfig) (*MultiWriter, error) {
	w := NewMultiWriter()
	for _, a := range appenders {
		switch a.Type {
		case AppenderConsole, "":
			w.AddConsoleAppender()
		case AppenderFile:
			if _, err := w.AddFileAppender(a.FileAppenderOpt); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unknown appender type %q", a.Type)
		}
	}
	if w.Len() == 0 {
		w.AddConsoleAppender()
	}
	return w, nil
}

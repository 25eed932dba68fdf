// Package capture records the raw bytes of both channel directions so a
// failing session can be inspected offline.
package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"firestige.xyz/otus-dissect/internal/log"
)

const (
	DirIn  = "in"
	DirOut = "out"
)

// Record is one chunk of channel traffic as seen by a single Read or Write.
type Record struct {
	Seq  uint64    `cbor:"seq"`
	Dir  string    `cbor:"dir"`
	TS   time.Time `cbor:"ts"`
	Data []byte    `cbor:"data"`
}

var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// ResolveDir returns dir when set, otherwise the directory named by the
// environment variable env. Empty means capture is off.
func ResolveDir(dir, env string) string {
	if dir != "" {
		return dir
	}
	if env == "" {
		return ""
	}
	return os.Getenv(env)
}

// Recorder appends records to a CBOR sequence. Recording failures never
// reach the channel: the first one is logged and recording stops.
type Recorder struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	enc    *cbor.Encoder
	seq    uint64
	path   string
	err    error
	now    func() time.Time
}

func NewRecorder(w io.Writer) *Recorder {
	r := &Recorder{w: w, enc: encMode.NewEncoder(w), now: time.Now}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	return r
}

// Create opens <dir>/capture-<uuid>.cbor, creating dir if needed.
func Create(dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create capture dir: %w", err)
	}
	path := filepath.Join(dir, "capture-"+uuid.NewString()+".cbor")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create capture file: %w", err)
	}
	r := NewRecorder(f)
	r.path = path
	return r, nil
}

func (r *Recorder) Path() string { return r.path }

// Err returns the failure that stopped recording, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Record appends one record. Empty chunks are skipped.
func (r *Recorder) Record(dir string, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	rec := Record{Seq: r.seq, Dir: dir, TS: r.now().UTC(), Data: data}
	if err := r.enc.Encode(&rec); err != nil {
		r.err = fmt.Errorf("write capture record %d: %w", r.seq, err)
		log.GetLogger().WithError(r.err).Warn("diagnostic capture stopped")
		return r.err
	}
	r.seq++
	return nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}

type teeReader struct {
	r   io.Reader
	rec *Recorder
}

func (t *teeReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		_ = t.rec.Record(DirIn, p[:n])
	}
	return n, err
}

type teeWriter struct {
	w   io.Writer
	rec *Recorder
}

func (t *teeWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if n > 0 {
		_ = t.rec.Record(DirOut, p[:n])
	}
	return n, err
}

// TeeReader records everything read from in as "in" traffic.
func (r *Recorder) TeeReader(in io.Reader) io.Reader { return &teeReader{r: in, rec: r} }

// TeeWriter records everything written to out as "out" traffic.
func (r *Recorder) TeeWriter(out io.Writer) io.Writer { return &teeWriter{w: out, rec: r} }

// Read decodes a capture stream until EOF. A record cut short by a crash is
// reported with the records decoded before it.
func Read(in io.Reader) ([]Record, error) {
	dec := cbor.NewDecoder(in)
	var out []Record
	for {
		var rec Record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("decode capture record %d: %w", len(out), err)
		}
		out = append(out, rec)
	}
}

func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Stream joins the data of all records in one direction, which is the byte
// stream that direction carried.
func Stream(records []Record, dir string) []byte {
	var out []byte
	for _, rec := range records {
		if rec.Dir == dir {
			out = append(out, rec.Data...)
		}
	}
	return out
}

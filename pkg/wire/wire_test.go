package wire

import (
	"bytes"
	"encoding/binary"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/otus-dissect/internal/core"
)

func roundTrip(t *testing.T, v Value) Value {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteValue(v))
	require.NoError(t, w.Flush())

	got, err := NewReader(&buf).ReadValue()
	require.NoError(t, err)
	assert.Zero(t, buf.Len(), "reader left bytes behind")
	return got
}

func TestValueRoundTrip(t *testing.T) {
	session := NewSession(
		netip.MustParseAddrPort("192.168.1.10:40000"),
		netip.MustParseAddrPort("[2001:db8::1]:443"),
	)
	tests := []struct {
		name  string
		value Value
	}{
		{"string", String("hello")},
		{"empty string", String("")},
		{"utf8 string", String("zwölf €")},
		{"data", Data{0x00, 0xff, 0x10}},
		{"empty data", Data{}},
		{"uint32", Uint32(0xdeadbeef)},
		{"uint32 zero", Uint32(0)},
		{"session", session},
		{"render", Render{Raw: []byte{1, 2, 3}, Label: "frame"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.value, roundTrip(t, tt.value))
		})
	}
}

func TestBlobConsumesExactly(t *testing.T) {
	for _, size := range []int{0, 1, 7, 4096} {
		blob := bytes.Repeat([]byte{0xab}, size)
		var buf bytes.Buffer
		w := NewWriter(&buf)
		require.NoError(t, w.WriteBlob(blob))
		require.NoError(t, w.WriteUint32(42))
		require.NoError(t, w.Flush())
		assert.Equal(t, 4+size+4, buf.Len())

		r := NewReader(&buf)
		got, err := r.ReadBlob()
		require.NoError(t, err)
		assert.Equal(t, blob, got)

		trailer, err := r.ReadUint32()
		require.NoError(t, err)
		assert.Equal(t, uint32(42), trailer)
	}
}

func TestStringLayout(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteString("abc"))
	require.NoError(t, w.Flush())

	assert.Equal(t, []byte{4, 0, 0, 0, 'a', 'b', 'c', 0}, buf.Bytes())
}

func TestStringWithoutNulIsAccepted(t *testing.T) {
	raw := []byte{3, 0, 0, 0, 'a', 'b', 'c'}
	s, err := NewReader(bytes.NewReader(raw)).ReadString()
	require.NoError(t, err)
	assert.Equal(t, "abc", s)
}

func TestReadExactZeroNeverFails(t *testing.T) {
	r := NewReader(bytes.NewReader(nil))
	got, err := r.ReadExact(0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEndOfStream(t *testing.T) {
	_, err := NewReader(bytes.NewReader(nil)).ReadUint32()
	assert.ErrorIs(t, err, core.ErrEndOfStream)
}

func TestTruncated(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"partial uint32", []byte{1, 2}},
		{"blob body missing", []byte{5, 0, 0, 0}},
		{"blob body short", []byte{5, 0, 0, 0, 'a'}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReader(bytes.NewReader(tt.raw)).ReadBlob()
			assert.ErrorIs(t, err, core.ErrTruncated)
			assert.NotErrorIs(t, err, core.ErrEndOfStream)
		})
	}
}

func TestValueBodyMissingIsTruncated(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteString(TagUint32))
	require.NoError(t, w.Flush())

	_, err := NewReader(&buf).ReadValue()
	assert.ErrorIs(t, err, core.ErrTruncated)
}

func TestUnknownTag(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteString("float"))
	require.NoError(t, w.WriteUint32(1))
	require.NoError(t, w.Flush())

	_, err := NewReader(&buf).ReadValue()
	assert.ErrorIs(t, err, core.ErrUnknownTag)
}

func TestOversizedLengthRejected(t *testing.T) {
	raw := make([]byte, 4)
	binary.LittleEndian.PutUint32(raw, 0xfffffff0)

	r := NewReader(bytes.NewReader(raw))
	_, err := r.ReadBlob()
	assert.ErrorIs(t, err, core.ErrBlobTooLarge)

	r = NewReader(bytes.NewReader([]byte{9, 0, 0, 0}))
	r.SetLimits(Limits{MaxBlob: 8})
	_, err = r.ReadBlob()
	assert.ErrorIs(t, err, core.ErrBlobTooLarge)
}

func TestWriterRejectsOversizedBlob(t *testing.T) {
	w := NewWriter(&bytes.Buffer{})
	w.SetLimits(Limits{MaxBlob: 4})
	assert.ErrorIs(t, w.WriteBlob(make([]byte, 5)), core.ErrBlobTooLarge)
	assert.ErrorIs(t, w.WriteString("four"), core.ErrBlobTooLarge)
}

func TestWriteNilValue(t *testing.T) {
	w := NewWriter(&bytes.Buffer{})
	assert.ErrorIs(t, w.WriteValue(nil), core.ErrUnsupportedValue)
}

func TestNothingVisibleBeforeFlush(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteValue(String("pending")))
	assert.Zero(t, buf.Len())
	require.NoError(t, w.Flush())
	assert.NotZero(t, buf.Len())
}

func TestChannelCallRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	ch := NewChannel(&buf, &buf, DefaultLimits(), 0)

	require.NoError(t, ch.WriteCall("addIntField", Uint32(7), Uint32(99)))
	require.NoError(t, ch.Out.Flush())

	name, err := ch.In.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "addIntField", name)

	args, err := ch.ReadArgs()
	require.NoError(t, err)
	assert.Equal(t, []Value{Uint32(7), Uint32(99)}, args)
}

func TestChannelArgsTruncated(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteUint32(2))
	require.NoError(t, w.WriteValue(String("only one")))
	require.NoError(t, w.Flush())

	ch := NewChannel(&buf, &bytes.Buffer{}, DefaultLimits(), 0)
	_, err := ch.ReadArgs()
	assert.ErrorIs(t, err, core.ErrTruncated)
}

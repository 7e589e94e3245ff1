package encoding

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"io"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const payload = "the quick brown fox jumps over the lazy dog"

func gz(b []byte) []byte {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	w.Write(b)
	w.Close()
	return buf.Bytes()
}

func zl(b []byte) []byte {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	w.Write(b)
	w.Close()
	return buf.Bytes()
}

func raw(b []byte) []byte {
	var buf bytes.Buffer
	w, _ := flate.NewWriter(&buf, flate.DefaultCompression)
	w.Write(b)
	w.Close()
	return buf.Bytes()
}

func br(b []byte) []byte {
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	w.Write(b)
	w.Close()
	return buf.Bytes()
}

func decodeAll(t *testing.T, body []byte, ce string) ([]byte, error) {
	t.Helper()
	return io.ReadAll(Decode(io.NopCloser(bytes.NewReader(body)), ce))
}

func TestDecode(t *testing.T) {
	p := []byte(payload)
	for name, tc := range map[string]struct {
		body []byte
		ce   string
	}{
		"identity":      {p, ""},
		"gzip":          {gz(p), "gzip"},
		"x-gzip":        {gz(p), "x-gzip"},
		"deflate zlib":  {zl(p), "deflate"},
		"deflate raw":   {raw(p), "deflate"},
		"br":            {br(p), "br"},
		"stacked":       {br(gz(p)), "gzip, br"},
		"case and ws":   {gz(p), " GZIP "},
		"identity list": {gz(p), "identity, gzip"},
	} {
		t.Run(name, func(t *testing.T) {
			got, err := decodeAll(t, tc.body, tc.ce)
			require.NoError(t, err)
			assert.Equal(t, payload, string(got))
		})
	}
}

func TestDecodeUnknownCodingLeftAlone(t *testing.T) {
	body := gz([]byte(payload))
	got, err := decodeAll(t, body, "gzip, zstd")
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestDecodeEmptyBody(t *testing.T) {
	got, err := decodeAll(t, nil, "gzip")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := decodeAll(t, []byte("definitely not gzip"), "gzip")
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "gzip", de.Coding)
}

type failingReader struct {
	data []byte
	err  error
}

func (f *failingReader) Read(p []byte) (int, error) {
	if len(f.data) == 0 {
		return 0, f.err
	}
	n := copy(p, f.data)
	f.data = f.data[n:]
	return n, nil
}

func TestDecodeKeepsSourceError(t *testing.T) {
	boom := errors.New("connection reset")
	body := gz([]byte(payload))
	src := &failingReader{data: body[:len(body)/2], err: boom}
	_, err := io.ReadAll(Decode(io.NopCloser(src), "gzip"))
	assert.ErrorIs(t, err, boom)
	var de *DecodeError
	assert.False(t, errors.As(err, &de))
}

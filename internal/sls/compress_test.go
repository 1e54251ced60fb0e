package sls

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressionRoundTrip(t *testing.T) {
	t.Parallel()

	raw := bytes.Repeat([]byte("level=INFO message=\"request served\" status=200\n"), 200)
	for _, c := range []Compression{CompressLZ4, CompressZstd, CompressDeflate, CompressNone} {
		t.Run(c.String(), func(t *testing.T) {
			t.Parallel()
			body, applied, err := compress(c, raw)
			require.NoError(t, err)
			assert.Equal(t, c, applied)
			if c != CompressNone {
				assert.Less(t, len(body), len(raw))
			}
			out, err := Decompress(applied, body, len(raw))
			require.NoError(t, err)
			assert.Equal(t, raw, out)
		})
	}
}

func TestLZ4FallsBackForIncompressibleInput(t *testing.T) {
	t.Parallel()

	raw := make([]byte, 256)
	_, err := rand.Read(raw)
	require.NoError(t, err)

	body, applied, err := compress(CompressLZ4, raw)
	require.NoError(t, err)
	assert.Equal(t, CompressNone, applied)
	assert.Equal(t, raw, body)
}

func TestDecompressLZ4SizeMismatch(t *testing.T) {
	t.Parallel()

	raw := bytes.Repeat([]byte("abcd"), 100)
	body, _, err := compress(CompressLZ4, raw)
	require.NoError(t, err)

	_, err = Decompress(CompressLZ4, body, len(raw)+10)
	assert.Error(t, err)
	_, err = Decompress(CompressLZ4, body, 0)
	assert.Error(t, err)
}

func TestParseCompression(t *testing.T) {
	t.Parallel()

	cases := map[string]Compression{
		"lz4":     CompressLZ4,
		"ZSTD":    CompressZstd,
		"deflate": CompressDeflate,
		"zlib":    CompressDeflate,
		"none":    CompressNone,
		"":        CompressNone,
	}
	for in, want := range cases {
		got, err := ParseCompression(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseCompression("gzip")
	assert.Error(t, err)
}

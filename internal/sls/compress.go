package sls

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the body encoding of a PutLogs request.
type Compression string

const (
	CompressLZ4     Compression = "lz4"
	CompressZstd    Compression = "zstd"
	CompressDeflate Compression = "deflate"
	CompressNone    Compression = ""
)

// ParseCompression accepts lz4, zstd, deflate and none (or empty).
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lz4":
		return CompressLZ4, nil
	case "zstd":
		return CompressZstd, nil
	case "deflate", "zlib":
		return CompressDeflate, nil
	case "", "none":
		return CompressNone, nil
	}
	return CompressNone, fmt.Errorf("sls: unknown compression %q", s)
}

func (c Compression) String() string {
	if c == CompressNone {
		return "none"
	}
	return string(c)
}

// Shared zstd encoder and decoder. Both are safe for concurrent use via
// EncodeAll and DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("sls: creating zstd encoder: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("sls: creating zstd decoder: " + err.Error())
	}
}

// compress encodes raw with c. It returns the compression actually applied,
// which is CompressNone when lz4 cannot shrink the input.
func compress(c Compression, raw []byte) ([]byte, Compression, error) {
	switch c {
	case CompressLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, dst, nil)
		if err != nil {
			return nil, CompressNone, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 || n >= len(raw) {
			return raw, CompressNone, nil
		}
		return dst[:n], CompressLZ4, nil
	case CompressZstd:
		return zstdEncoder.EncodeAll(raw, make([]byte, 0, len(raw)/2)), CompressZstd, nil
	case CompressDeflate:
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			return nil, CompressNone, fmt.Errorf("deflate compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, CompressNone, fmt.Errorf("deflate compress: %w", err)
		}
		return buf.Bytes(), CompressDeflate, nil
	case CompressNone:
		return raw, CompressNone, nil
	}
	return nil, CompressNone, fmt.Errorf("sls: unknown compression %q", string(c))
}

// Decompress reverses compress. rawSize is the x-log-bodyrawsize header value.
func Decompress(c Compression, body []byte, rawSize int) ([]byte, error) {
	switch c {
	case CompressLZ4:
		if rawSize <= 0 {
			return nil, fmt.Errorf("lz4 decompress: raw size %d", rawSize)
		}
		dst := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(body, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != rawSize {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, want %d", n, rawSize)
		}
		return dst, nil
	case CompressZstd:
		out, err := zstdDecoder.DecodeAll(body, make([]byte, 0, max(rawSize, 0)))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	case CompressDeflate:
		r, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("deflate decompress: %w", err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("deflate decompress: %w", err)
		}
		return out, nil
	case CompressNone:
		return body, nil
	}
	return nil, fmt.Errorf("sls: unknown compression %q", string(c))
}

package corvus

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
)

// RequestCompression compresses request bodies before they are sent.
// Bodies shorter than Threshold bytes are sent uncompressed.
type RequestCompression interface {
	// Encoding is the Content-Encoding token announced to the server.
	Encoding() string
	// Threshold is the minimum body size in bytes worth compressing.
	Threshold() int
	// Compress returns the encoded body.
	Compress(data []byte) ([]byte, error)
}

// DeflateCompression compresses request bodies with DEFLATE (zlib framing,
// Content-Encoding: deflate).
type DeflateCompression struct {
	// MinSize is the compression threshold in bytes. Zero applies
	// DefaultCompressionThreshold.
	MinSize int
	// Level is the flate compression level. Zero means flate.DefaultCompression.
	Level int
}

// DefaultCompressionThreshold skips compression for bodies below 1 KiB,
// where the frame overhead outweighs the savings.
const DefaultCompressionThreshold = 1024

func (d DeflateCompression) Encoding() string { return "deflate" }

func (d DeflateCompression) Threshold() int {
	if d.MinSize > 0 {
		return d.MinSize
	}
	return DefaultCompressionThreshold
}

func (d DeflateCompression) Compress(data []byte) ([]byte, error) {
	level := d.Level
	if level == 0 {
		level = flate.DefaultCompression
	}
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("corvus: deflate writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("corvus: deflate: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("corvus: deflate: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeBody reverses the server's Content-Encoding. Needed because setting
// Accept-Encoding explicitly disables net/http's transparent decompression.
func decodeBody(encoding string, body io.Reader) (io.Reader, func() error, error) {
	switch encoding {
	case "", "identity":
		return body, nil, nil
	case "deflate":
		r, err := zlib.NewReader(body)
		if err != nil {
			return nil, nil, fmt.Errorf("corvus: deflate response: %w", err)
		}
		return r, r.Close, nil
	case "gzip":
		r, err := gzip.NewReader(body)
		if err != nil {
			return nil, nil, fmt.Errorf("corvus: gzip response: %w", err)
		}
		return r, r.Close, nil
	default:
		return nil, nil, fmt.Errorf("corvus: unsupported content-encoding %q", encoding)
	}
}

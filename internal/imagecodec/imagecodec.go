// Package imagecodec converts between the data-URL string representation of
// an image and its raw blob form. Records carry images as data URLs; the
// store keeps them as blobs. The codec is pure and performs no I/O.
package imagecodec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"panelscan/inspection-server/internal/model"
)

// ErrFormat marks input that is not a well-formed data URL.
var ErrFormat = errors.New("invalid data URL")

// ErrDecode marks a well-formed data URL whose payload fails base64 decoding.
var ErrDecode = errors.New("base64 decode failed")

const defaultMIME = "application/octet-stream"

// placeholderPayload is the sentinel some legacy records carry instead of an
// image payload. It is rejected, never decoded.
const placeholderPayload = "-"

// Encode renders a blob as a MIME-prefixed base64 data URL. It succeeds for
// any blob; an empty MIME type falls back to application/octet-stream.
func Encode(blob model.Blob) string {
	mime := blob.MIME
	if mime == "" {
		mime = defaultMIME
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(blob.Data))
}

// Decode parses a data URL into a blob. There are no partial results: the
// caller receives either a valid blob or an error and must not persist
// anything on failure.
func Decode(dataURL string) (model.Blob, error) {
	if dataURL == "" {
		return model.Blob{}, fmt.Errorf("%w: empty input", ErrFormat)
	}
	if !strings.HasPrefix(dataURL, "data:") {
		return model.Blob{}, fmt.Errorf("%w: missing data: prefix", ErrFormat)
	}

	head, payload, ok := strings.Cut(dataURL, ",")
	if !ok {
		return model.Blob{}, fmt.Errorf("%w: missing payload delimiter", ErrFormat)
	}
	if payload == "" || payload == placeholderPayload {
		return model.Blob{}, fmt.Errorf("%w: empty payload", ErrFormat)
	}
	if i := invalidBase64Index(payload); i >= 0 {
		return model.Blob{}, fmt.Errorf("%w: invalid base64 character %q at offset %d", ErrFormat, payload[i], i)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return model.Blob{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return model.Blob{MIME: mimeFromHead(head), Data: data}, nil
}

// mimeFromHead extracts the MIME type from the part before the comma,
// e.g. "data:image/png;base64".
func mimeFromHead(head string) string {
	meta := strings.TrimPrefix(head, "data:")
	if i := strings.IndexByte(meta, ';'); i >= 0 {
		meta = meta[:i]
	}
	if meta == "" {
		return defaultMIME
	}
	return meta
}

// invalidBase64Index returns the offset of the first byte outside the
// standard base64 alphabet, or -1 when every byte is valid.
func invalidBase64Index(payload string) int {
	for i := 0; i < len(payload); i++ {
		c := payload[i]
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '+' || c == '/' || c == '=':
		default:
			return i
		}
	}
	return -1
}

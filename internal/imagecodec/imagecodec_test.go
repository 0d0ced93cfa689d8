package imagecodec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panelscan/inspection-server/internal/model"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := model.Blob{MIME: "image/png", Data: []byte{0x89, 0x50, 0x4e, 0x47, 0x00, 0xff}}

	url := Encode(original)
	assert.Contains(t, url, "data:image/png;base64,")

	decoded, err := Decode(url)
	require.NoError(t, err)
	assert.Equal(t, original.MIME, decoded.MIME)
	assert.Equal(t, original.Data, decoded.Data)
}

func TestEncodeDefaultsMIME(t *testing.T) {
	url := Encode(model.Blob{Data: []byte("x")})
	assert.Contains(t, url, "data:application/octet-stream;base64,")
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"empty string", ""},
		{"not a data url", "http://example.com/photo.png"},
		{"no comma", "data:image/png;base64"},
		{"empty payload", "data:image/png;base64,"},
		{"placeholder payload", "data:image/png;base64,-"},
		{"invalid base64 characters", "data:image/png;base64,!!!"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrFormat)
		})
	}
}

func TestDecodeBadPadding(t *testing.T) {
	// Valid alphabet but illegal base64 structure.
	_, err := Decode("data:image/png;base64,A===")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestDecodeMissingMIMEFallsBack(t *testing.T) {
	decoded, err := Decode("data:;base64,aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", decoded.MIME)
	assert.Equal(t, []byte("hello"), decoded.Data)
}

package manifestio

import (
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/dsnet/compress/bzip2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

const sample = "#EXTM3U\n#EXT-X-TARGETDURATION:10\nseg0.ts\n"

func TestReadAll_PlainText(t *testing.T) {
	data, err := ReadAll(bytes.NewReader([]byte(sample)))
	require.NoError(t, err)
	assert.Equal(t, sample, string(data))
}

func TestReadAll_Gzip(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write([]byte(sample))
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	data, err := ReadAll(&buf)
	require.NoError(t, err)
	assert.Equal(t, sample, string(data))
}

func TestReadAll_Bzip2(t *testing.T) {
	var buf bytes.Buffer
	bw, err := bzip2.NewWriter(&buf, nil)
	require.NoError(t, err)
	_, err = bw.Write([]byte(sample))
	require.NoError(t, err)
	require.NoError(t, bw.Close())

	data, err := ReadAll(&buf)
	require.NoError(t, err)
	assert.Equal(t, sample, string(data))
}

func TestReadAll_XZ(t *testing.T) {
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	_, err = xw.Write([]byte(sample))
	require.NoError(t, err)
	require.NoError(t, xw.Close())

	data, err := ReadAll(&buf)
	require.NoError(t, err)
	assert.Equal(t, sample, string(data))
}

func TestReadAllEncoding_Brotli(t *testing.T) {
	var buf bytes.Buffer
	bw := brotli.NewWriter(&buf)
	_, err := bw.Write([]byte(sample))
	require.NoError(t, err)
	require.NoError(t, bw.Close())

	data, err := ReadAllEncoding(&buf, "br")
	require.NoError(t, err)
	assert.Equal(t, sample, string(data))
}

func TestReadAll_InvalidUTF8(t *testing.T) {
	_, err := ReadAll(bytes.NewReader([]byte{0xff, 0xfe, 0xfd}))
	assert.ErrorIs(t, err, ErrInvalidEncoding)
}

func TestReadAll_Empty(t *testing.T) {
	data, err := ReadAll(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Empty(t, data)
}

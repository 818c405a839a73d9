// Package manifestio implements the compressed-manifest sniffing and
// UTF-8 validation shared by all three manifest parsers
// (pkg/playlist/hls,
// /dash, /mss): magic-byte compression sniffing covering gzip, bzip2
// and xz, plus brotli decoding when the caller names that encoding.
package manifestio

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/andybalholm/brotli"
	"github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"
)

// ErrInvalidEncoding reports a manifest body that is not valid UTF-8.
var ErrInvalidEncoding = fmt.Errorf("manifestio: invalid UTF-8 encoding")

// ReadAll reads r to completion, transparently decompressing gzip/bzip2/xz
// input detected by magic bytes, and validates the result is UTF-8. Use
// ReadAllEncoding instead when the transport layer already knows the
// body is brotli-encoded (brotli has no magic number to sniff).
func ReadAll(r io.Reader) ([]byte, error) {
	return decodeAndValidate(r, "")
}

// ReadAllEncoding is ReadAll plus an explicit Content-Encoding hint
// ("br"/"brotli") for the one format this package cannot detect from
// magic bytes alone. The manifest parsers call ReadAll, so a brotli body
// reaches them decoded only if the caller decoded it first.
func ReadAllEncoding(r io.Reader, contentEncoding string) ([]byte, error) {
	return decodeAndValidate(r, contentEncoding)
}

func decodeAndValidate(r io.Reader, contentEncoding string) ([]byte, error) {
	br := bufio.NewReader(r)

	header, err := br.Peek(6)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("manifestio: peeking header: %w", err)
	}

	var reader io.Reader = br
	switch {
	case contentEncoding == "br" || contentEncoding == "brotli":
		reader = brotli.NewReader(br)
	case len(header) >= 2 && header[0] == 0x1f && header[1] == 0x8b:
		gzr, gerr := gzip.NewReader(br)
		if gerr != nil {
			return nil, fmt.Errorf("manifestio: opening gzip stream: %w", gerr)
		}
		defer gzr.Close()
		reader = gzr
	case len(header) >= 3 && header[0] == 'B' && header[1] == 'Z' && header[2] == 'h':
		bzr, berr := bzip2.NewReader(br, nil)
		if berr != nil {
			return nil, fmt.Errorf("manifestio: opening bzip2 stream: %w", berr)
		}
		defer bzr.Close()
		reader = bzr
	case len(header) >= 6 && bytes.Equal(header[:6], []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}):
		xzr, xerr := xz.NewReader(br)
		if xerr != nil {
			return nil, fmt.Errorf("manifestio: opening xz stream: %w", xerr)
		}
		reader = xzr
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("manifestio: reading body: %w", err)
	}

	if !utf8.Valid(data) {
		return nil, ErrInvalidEncoding
	}
	return data, nil
}

// Package codec holds the compression helpers shared by on-disk documents.
package codec

import (
	"bytes"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// ZstdExt is the file extension of compressed documents.
const ZstdExt = ".zst"

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Compress compresses data using zstd.
func Compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

// Decompress decompresses zstd-compressed data.
func Decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}

// IsCompressed checks the file name and the zstd frame magic.
func IsCompressed(name string, data []byte) bool {
	return strings.HasSuffix(name, ZstdExt) || bytes.HasPrefix(data, zstdMagic)
}

// Decode returns the plain bytes of a document that may be compressed.
func Decode(name string, data []byte) ([]byte, error) {
	if !IsCompressed(name, data) {
		return data, nil
	}
	return Decompress(data)
}

package audio

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/kelvana/presetsmith/internal/utils"
)

// Normalized carries both representations of one accepted submission: the
// gzipped form for storage and the decoded WAV for the inference worker.
type Normalized struct {
	Compressed       []byte
	Decoded          []byte
	CompressedSize   int
	UncompressedSize int
	WasCompressed    bool
	Format           string
}

// IsGzip does a shallow two-byte signature check. Intentionally lenient: the
// third header byte (compression method) is not verified, matching the
// accepted behavior for edge-case inputs.
func IsGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

// IsWAV checks the fixed-offset RIFF/WAVE markers: "RIFF" at 0..3 and
// "WAVE" at 8..11.
func IsWAV(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	return bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE"))
}

// DescribeFormat returns a diagnostic description of the leading bytes.
func DescribeFormat(data []byte) string {
	if len(data) == 0 {
		return "empty data"
	}
	if IsGzip(data) {
		return "GZIP compressed data"
	}
	if IsWAV(data) {
		return "WAV audio"
	}
	if len(data) >= 4 {
		if bytes.Equal(data[0:3], []byte("ID3")) {
			return "MP3 audio (ID3 tag)"
		}
		if bytes.Equal(data[0:4], []byte("fLaC")) {
			return "FLAC audio"
		}
	}
	return "unknown format"
}

// Normalize validates the input and produces both representations, or fails
// with an UNSUPPORTED_FORMAT error. Either both forms are produced or none.
func Normalize(data []byte) (*Normalized, error) {
	const op = "audio.Normalize"

	if len(data) == 0 {
		return nil, utils.E(utils.CodeUnsupportedFormat, op, "audio data is empty", nil)
	}

	if IsGzip(data) {
		decoded, err := Decompress(data)
		if err != nil {
			return nil, utils.E(utils.CodeUnsupportedFormat, op, "failed to decompress gzip payload", err)
		}
		if !IsWAV(decoded) {
			return nil, utils.E(utils.CodeUnsupportedFormat, op,
				fmt.Sprintf("decompressed payload is not WAV (detected: %s, %d bytes)", DescribeFormat(decoded), len(decoded)), nil)
		}
		return &Normalized{
			Compressed:       data,
			Decoded:          decoded,
			CompressedSize:   len(data),
			UncompressedSize: len(decoded),
			WasCompressed:    true,
			Format:           "gzip+wav",
		}, nil
	}

	if IsWAV(data) {
		compressed, err := Compress(data)
		if err != nil {
			return nil, utils.E(utils.CodeInternal, op, "failed to compress audio for storage", err)
		}
		return &Normalized{
			Compressed:       compressed,
			Decoded:          data,
			CompressedSize:   len(compressed),
			UncompressedSize: len(data),
			WasCompressed:    false,
			Format:           "wav",
		}, nil
	}

	return nil, utils.E(utils.CodeUnsupportedFormat, op,
		fmt.Sprintf("neither gzip nor WAV (detected: %s, %d bytes)", DescribeFormat(data), len(data)), nil)
}

// Compress gzips data for storage.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress inflates a gzip payload.
func Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

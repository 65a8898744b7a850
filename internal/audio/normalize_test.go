package audio

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/kelvana/presetsmith/internal/utils"
)

// wavFixture builds a minimal RIFF/WAVE byte stream with n payload bytes.
func wavFixture(n int) []byte {
	buf := make([]byte, 0, 12+n)
	buf = append(buf, []byte("RIFF")...)
	buf = append(buf, 0x24, 0x08, 0x00, 0x00)
	buf = append(buf, []byte("WAVE")...)
	payload := make([]byte, n)
	rnd := rand.New(rand.NewSource(42))
	rnd.Read(payload)
	return append(buf, payload...)
}

func TestNormalizeRawWAV(t *testing.T) {
	wav := wavFixture(2048)

	norm, err := Normalize(wav)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if norm.WasCompressed {
		t.Fatal("raw WAV reported as compressed")
	}
	if !bytes.Equal(norm.Decoded, wav) {
		t.Fatal("decoded form differs from input")
	}
	if norm.UncompressedSize != len(wav) {
		t.Fatalf("uncompressed size = %d, want %d", norm.UncompressedSize, len(wav))
	}
	if norm.CompressedSize != len(norm.Compressed) {
		t.Fatalf("compressed size = %d, want %d", norm.CompressedSize, len(norm.Compressed))
	}

	// storage form must round-trip byte-identically
	back, err := Decompress(norm.Compressed)
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}
	if !bytes.Equal(back, wav) {
		t.Fatal("gzip round-trip lost bytes")
	}
}

func TestNormalizeGzippedWAV(t *testing.T) {
	wav := wavFixture(4096)
	gz, err := Compress(wav)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}

	norm, err := Normalize(gz)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if !norm.WasCompressed {
		t.Fatal("gzipped input not detected as compressed")
	}
	if !bytes.Equal(norm.Compressed, gz) {
		t.Fatal("storage form should be the original gzip bytes")
	}
	if !bytes.Equal(norm.Decoded, wav) {
		t.Fatal("decoded form differs from original WAV")
	}
	if norm.CompressedSize != len(gz) || norm.UncompressedSize != len(wav) {
		t.Fatalf("sizes = (%d, %d), want (%d, %d)",
			norm.CompressedSize, norm.UncompressedSize, len(gz), len(wav))
	}
}

func TestNormalizeRejectsRandomBytes(t *testing.T) {
	junk := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a}

	_, err := Normalize(junk)
	if err == nil {
		t.Fatal("expected error for random bytes")
	}
	if !utils.IsCode(err, utils.CodeUnsupportedFormat) {
		t.Fatalf("expected UNSUPPORTED_FORMAT, got %v", err)
	}
}

func TestNormalizeRejectsEmpty(t *testing.T) {
	_, err := Normalize(nil)
	if !utils.IsCode(err, utils.CodeUnsupportedFormat) {
		t.Fatalf("expected UNSUPPORTED_FORMAT for empty input, got %v", err)
	}
}

func TestNormalizeRejectsGzippedNonWAV(t *testing.T) {
	gz, err := Compress([]byte("definitely not audio"))
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}

	_, err = Normalize(gz)
	if !utils.IsCode(err, utils.CodeUnsupportedFormat) {
		t.Fatalf("expected UNSUPPORTED_FORMAT for gzipped non-WAV, got %v", err)
	}
}

func TestIsGzipShallowSignature(t *testing.T) {
	// Only the two magic bytes are checked; the method byte is not.
	if !IsGzip([]byte{0x1f, 0x8b, 0xff}) {
		t.Fatal("two-byte signature should be enough")
	}
	if IsGzip([]byte{0x1f}) {
		t.Fatal("single byte must not match")
	}
}

func TestDescribeFormat(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want string
	}{
		{"empty", nil, "empty data"},
		{"wav", wavFixture(16), "WAV audio"},
		{"mp3", []byte("ID3\x04rest-of-header"), "MP3 audio (ID3 tag)"},
		{"flac", []byte("fLaC0000"), "FLAC audio"},
		{"junk", []byte{0xde, 0xad, 0xbe, 0xef}, "unknown format"},
	}
	for _, tc := range cases {
		if got := DescribeFormat(tc.in); got != tc.want {
			t.Fatalf("%s: DescribeFormat = %q, want %q", tc.name, got, tc.want)
		}
	}
}

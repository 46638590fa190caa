package hash

import (
	"strings"
	"testing"
)

func TestSHA256(t *testing.T) {
	tests := []struct {
		input []byte
		want  string
	}{
		{
			[]byte("hello"),
			"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		},
		{
			[]byte(""),
			"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			got := SHA256(tt.input)
			if got != tt.want {
				t.Errorf("SHA256(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestSHA256String(t *testing.T) {
	got := SHA256String("hello")
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

	if got != want {
		t.Errorf("SHA256String(hello) = %s, want %s", got, want)
	}
}

func TestSHA256Short(t *testing.T) {
	hash := SHA256([]byte("hello"))

	tests := []struct {
		n    int
		want string
	}{
		{8, hash[:8]},
		{16, hash[:16]},
		{32, hash[:32]},
		{64, hash},  // full hash
		{100, hash}, // exceeds length, returns full
	}

	for _, tt := range tests {
		got := SHA256Short([]byte("hello"), tt.n)
		if got != tt.want {
			t.Errorf("SHA256Short(hello, %d) = %s, want %s", tt.n, got, tt.want)
		}
	}
}

func TestDigest(t *testing.T) {
	// Same inputs should produce same output
	d1 := NewDigest().Add("lions", "meat").Sum()
	d2 := NewDigest().Add("lions", "meat").Sum()

	if d1 != d2 {
		t.Errorf("Digest not deterministic: %s != %s", d1, d2)
	}

	// Field boundaries are part of the digest
	d3 := NewDigest().Add("lion", "smeat").Sum()
	if d1 == d3 {
		t.Errorf("Digest ignores field boundaries: %s == %s", d1, d3)
	}

	// Incremental adds match a single add
	d4 := NewDigest().Add("lions").Add("meat").Sum()
	if d1 != d4 {
		t.Errorf("incremental Digest = %s, want %s", d4, d1)
	}

	if len(d1) != 64 {
		t.Errorf("Digest length = %d, want 64", len(d1))
	}

	for _, c := range d1 {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Errorf("Digest contains non-hex character: %c", c)
		}
	}
}

func TestDigest_Empty(t *testing.T) {
	empty := NewDigest().Sum()
	withEmptyField := NewDigest().Add("").Sum()

	if empty == withEmptyField {
		t.Error("empty digest equals digest of one empty field")
	}
}

func BenchmarkSHA256(b *testing.B) {
	data := []byte("benchmark test data for hashing performance measurement")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		SHA256(data)
	}
}

func BenchmarkDigest(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		NewDigest().Add("A zoo has lions.", "What do lions eat?", "Meat", "Grass", "Rocks", "A").Sum()
	}
}

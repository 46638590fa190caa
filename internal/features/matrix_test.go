package features

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/ricesearch/mcqa/internal/record"
)

func TestMatrix_TextRoundTripIsExact(t *testing.T) {
	values := []float64{
		math.Pi, -0.1, 1e-300, math.SmallestNonzeroFloat64,
		math.MaxFloat64, 0, 1.0 / 3.0, -2.5e17,
	}
	m, err := FromRows([][]float64{values[:4], values[4:]})
	if err != nil {
		t.Fatalf("FromRows() error = %v", err)
	}

	var buf bytes.Buffer
	if err := EncodeMatrix(&buf, m); err != nil {
		t.Fatalf("EncodeMatrix() error = %v", err)
	}

	got, err := DecodeMatrix(&buf)
	if err != nil {
		t.Fatalf("DecodeMatrix() error = %v", err)
	}
	if got.Rows != 2 || got.Cols != 4 {
		t.Fatalf("shape = %dx%d, want 2x4", got.Rows, got.Cols)
	}
	for i := range m.Data {
		if math.Float64bits(got.Data[i]) != math.Float64bits(m.Data[i]) {
			t.Errorf("value %d = %v, want %v", i, got.Data[i], m.Data[i])
		}
	}
}

func TestEncodeMatrix_Format(t *testing.T) {
	m, _ := FromRows([][]float64{{1, 0.5}})
	var buf bytes.Buffer
	if err := EncodeMatrix(&buf, m); err != nil {
		t.Fatal(err)
	}
	want := "1.000000000000000000e+00 5.000000000000000000e-01\n"
	if buf.String() != want {
		t.Errorf("EncodeMatrix() = %q, want %q", buf.String(), want)
	}
}

func TestDecodeMatrix_Ragged(t *testing.T) {
	_, err := DecodeMatrix(strings.NewReader("1 2 3\n4 5\n"))
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("DecodeMatrix() error = %v, want ErrDimensionMismatch", err)
	}

	if _, err := DecodeMatrix(strings.NewReader("1 x\n")); err == nil {
		t.Error("DecodeMatrix() should reject non-numeric values")
	}
}

func TestDecodeMatrix_Empty(t *testing.T) {
	m, err := DecodeMatrix(strings.NewReader(""))
	if err != nil {
		t.Fatalf("DecodeMatrix() error = %v", err)
	}
	if m.Rows != 0 {
		t.Errorf("Rows = %d, want 0", m.Rows)
	}
}

func TestLabelsCodec(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeLabels(&buf, []int{1, 3, 2}); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "1\n3\n2\n" {
		t.Errorf("EncodeLabels() = %q", buf.String())
	}

	got, err := DecodeLabels(strings.NewReader("1.000000000000000000e+00\n3\n\n2.0\n"))
	if err != nil {
		t.Fatalf("DecodeLabels() error = %v", err)
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 3 || got[2] != 2 {
		t.Errorf("DecodeLabels() = %v, want [1 3 2]", got)
	}

	if _, err := DecodeLabels(strings.NewReader("1.5\n")); err == nil {
		t.Error("DecodeLabels() should reject fractional labels")
	}
}

func TestMatrix_SetRowMismatch(t *testing.T) {
	m := NewMatrix(2, 3)
	if err := m.SetRow(0, []float64{1, 2}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("SetRow() error = %v, want ErrDimensionMismatch", err)
	}
}

func TestSplitFeatures_CheckShape(t *testing.T) {
	f := &SplitFeatures{
		CQ:     NewMatrix(2, 3),
		A:      NewMatrix(2, 3),
		B:      NewMatrix(2, 3),
		C:      NewMatrix(1, 3),
		Labels: []int{1, 2},
	}
	if err := f.CheckShape(2, 3); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("CheckShape() error = %v, want ErrDimensionMismatch", err)
	}

	f.C = NewMatrix(2, 3)
	if err := f.CheckShape(2, 3); err != nil {
		t.Errorf("CheckShape() error = %v", err)
	}
	if err := f.CheckShape(2, 4); err == nil {
		t.Error("CheckShape() should reject wrong column count")
	}
	if f.Answer(record.OptionB) != f.B {
		t.Error("Answer(B) should return the B matrix")
	}
}

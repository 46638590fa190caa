// Package features builds, caches and combines per-record embedding matrices.
package features

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/ricesearch/mcqa/internal/record"
)

// ErrDimensionMismatch is returned when matrices combined in one computation
// disagree on row or column counts.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// Matrix is a dense row-major matrix of float64.
type Matrix struct {
	Rows int
	Cols int
	Data []float64
}

// NewMatrix allocates a zeroed rows x cols matrix.
func NewMatrix(rows, cols int) *Matrix {
	return &Matrix{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// FromRows copies equally sized rows into a new matrix.
func FromRows(rows [][]float64) (*Matrix, error) {
	if len(rows) == 0 {
		return &Matrix{}, nil
	}
	m := NewMatrix(len(rows), len(rows[0]))
	for i, r := range rows {
		if err := m.SetRow(i, r); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Len returns the number of rows.
func (m *Matrix) Len() int {
	return m.Rows
}

// Dim returns the number of columns.
func (m *Matrix) Dim() int {
	return m.Cols
}

// Row returns row i. The slice aliases the matrix storage.
func (m *Matrix) Row(i int) []float64 {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}

// SetRow copies v into row i.
func (m *Matrix) SetRow(i int, v []float64) error {
	if len(v) != m.Cols {
		return fmt.Errorf("row %d has %d columns, want %d: %w", i, len(v), m.Cols, ErrDimensionMismatch)
	}
	copy(m.Row(i), v)
	return nil
}

// Equal reports whether both matrices have the same shape and every pair of
// values differs by at most tol.
func (m *Matrix) Equal(o *Matrix, tol float64) bool {
	if m.Rows != o.Rows || m.Cols != o.Cols || len(m.Data) != len(o.Data) {
		return false
	}
	for i := range m.Data {
		if math.Abs(m.Data[i]-o.Data[i]) > tol {
			return false
		}
	}
	return true
}

// EncodeMatrix writes one row per line with space-separated values in
// %.18e notation, which round-trips float64 exactly.
func EncodeMatrix(w io.Writer, m *Matrix) error {
	bw := bufio.NewWriter(w)
	buf := make([]byte, 0, 32)
	for i := 0; i < m.Rows; i++ {
		for j, v := range m.Row(i) {
			if j > 0 {
				bw.WriteByte(' ')
			}
			buf = strconv.AppendFloat(buf[:0], v, 'e', 18, 64)
			bw.Write(buf)
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// DecodeMatrix parses the EncodeMatrix format. Every row must have the same
// number of values.
func DecodeMatrix(r io.Reader) (*Matrix, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	m := &Matrix{}
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if m.Rows == 0 {
			m.Cols = len(fields)
		} else if len(fields) != m.Cols {
			return nil, fmt.Errorf("line %d has %d values, want %d: %w", line, len(fields), m.Cols, ErrDimensionMismatch)
		}
		for _, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			m.Data = append(m.Data, v)
		}
		m.Rows++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// EncodeLabels writes one integer label per line.
func EncodeLabels(w io.Writer, labels []int) error {
	bw := bufio.NewWriter(w)
	for _, l := range labels {
		bw.WriteString(strconv.Itoa(l))
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// DecodeLabels parses one label per line. Integral floats such as
// "1.000000000000000000e+00" are accepted as well.
func DecodeLabels(r io.Reader) ([]int, error) {
	scanner := bufio.NewScanner(r)
	var labels []int
	line := 0
	for scanner.Scan() {
		line++
		s := strings.TrimSpace(scanner.Text())
		if s == "" {
			continue
		}
		if n, err := strconv.Atoi(s); err == nil {
			labels = append(labels, n)
			continue
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f != math.Trunc(f) {
			return nil, fmt.Errorf("line %d: invalid label %q", line, s)
		}
		labels = append(labels, int(f))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return labels, nil
}

// SplitFeatures holds the four embedding matrices and gold labels of one
// split. Row i of every matrix belongs to record i.
type SplitFeatures struct {
	CQ     *Matrix
	A      *Matrix
	B      *Matrix
	C      *Matrix
	Labels []int
}

// Len returns the number of records.
func (f *SplitFeatures) Len() int {
	return len(f.Labels)
}

// Dim returns the embedding dimension.
func (f *SplitFeatures) Dim() int {
	return f.CQ.Cols
}

// Answer returns the answer matrix for an option.
func (f *SplitFeatures) Answer(o record.Option) *Matrix {
	switch o {
	case record.OptionA:
		return f.A
	case record.OptionB:
		return f.B
	case record.OptionC:
		return f.C
	}
	return nil
}

// CheckShape verifies that every matrix has n rows and dim columns and that
// there are n labels.
func (f *SplitFeatures) CheckShape(n, dim int) error {
	if len(f.Labels) != n {
		return fmt.Errorf("labels has %d rows, want %d: %w", len(f.Labels), n, ErrDimensionMismatch)
	}
	named := []struct {
		name string
		m    *Matrix
	}{{"cq", f.CQ}, {"A", f.A}, {"B", f.B}, {"C", f.C}}
	for _, nm := range named {
		if nm.m == nil {
			return fmt.Errorf("%s matrix missing: %w", nm.name, ErrDimensionMismatch)
		}
		if nm.m.Rows != n {
			return fmt.Errorf("%s has %d rows, want %d: %w", nm.name, nm.m.Rows, n, ErrDimensionMismatch)
		}
		if n > 0 && nm.m.Cols != dim {
			return fmt.Errorf("%s has %d columns, want %d: %w", nm.name, nm.m.Cols, dim, ErrDimensionMismatch)
		}
	}
	return nil
}

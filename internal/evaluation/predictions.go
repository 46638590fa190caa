package evaluation

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// WritePredictions writes one label per line in input order. The file is
// replaced atomically.
func WritePredictions(path string, pred []int) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, p := range pred {
		w.WriteString(strconv.Itoa(p))
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("writing predictions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing predictions: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming predictions: %w", err)
	}
	return nil
}

// ReadPredictions reads a file written by WritePredictions. Blank lines are
// skipped.
func ReadPredictions(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening predictions: %w", err)
	}
	defer f.Close()

	var pred []int
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		s := strings.TrimSpace(scanner.Text())
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 3 {
			return nil, fmt.Errorf("%s line %d: invalid label %q", path, line, s)
		}
		pred = append(pred, n)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return pred, nil
}

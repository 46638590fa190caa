// Package record parses newline-delimited JSON multiple-choice records.
package record

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ricesearch/mcqa/internal/pkg/errors"
)

// Option identifies one of the three candidate answers.
type Option int

// Options, in tie-break priority order.
const (
	OptionA Option = iota + 1
	OptionB
	OptionC
)

// Options lists every option in priority order.
var Options = [3]Option{OptionA, OptionB, OptionC}

// ParseOption parses a case-insensitive single-letter option code.
func ParseOption(s string) (Option, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A":
		return OptionA, nil
	case "B":
		return OptionB, nil
	case "C":
		return OptionC, nil
	}
	return 0, fmt.Errorf("option %q is not one of A, B, C", s)
}

// OptionFromLabel converts an integer label 1..3 to an Option.
func OptionFromLabel(label int) (Option, error) {
	o := Option(label)
	if !o.Valid() {
		return 0, fmt.Errorf("label %d is not one of 1, 2, 3", label)
	}
	return o, nil
}

// Valid reports whether o is A, B or C.
func (o Option) Valid() bool {
	return o >= OptionA && o <= OptionC
}

// Label returns the integer label 1..3.
func (o Option) Label() int {
	return int(o)
}

// Index returns the zero-based index 0..2.
func (o Option) Index() int {
	return int(o) - 1
}

// String returns the upper-case letter.
func (o Option) String() string {
	switch o {
	case OptionA:
		return "A"
	case OptionB:
		return "B"
	case OptionC:
		return "C"
	}
	return fmt.Sprintf("Option(%d)", int(o))
}

// MarshalText encodes the option as its letter.
func (o Option) MarshalText() ([]byte, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("invalid option %d", int(o))
	}
	return []byte(o.String()), nil
}

// UnmarshalText decodes a case-insensitive letter.
func (o *Option) UnmarshalText(text []byte) error {
	parsed, err := ParseOption(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// Record is one context+question with three candidate answers.
type Record struct {
	Context  string
	Question string
	AnswerA  string
	AnswerB  string
	AnswerC  string
	Correct  Option

	// Line is the 1-based input line the record was parsed from.
	Line int
}

// Prompt is the text embedded for the context+question side.
func (r Record) Prompt() string {
	return r.Context + " " + r.Question
}

// Answer returns the answer text for an option.
func (r Record) Answer(o Option) string {
	switch o {
	case OptionA:
		return r.AnswerA
	case OptionB:
		return r.AnswerB
	case OptionC:
		return r.AnswerC
	}
	return ""
}

// Answers returns the three answers in option order.
func (r Record) Answers() [3]string {
	return [3]string{r.AnswerA, r.AnswerB, r.AnswerC}
}

// wireRecord mirrors the JSON schema. Pointers distinguish missing and null
// fields from empty strings.
type wireRecord struct {
	Context  *string `json:"context"`
	Question *string `json:"question"`
	AnswerA  *string `json:"answerA"`
	AnswerB  *string `json:"answerB"`
	AnswerC  *string `json:"answerC"`
	Correct  *string `json:"correct"`
}

// ParseLine decodes and validates a single JSON record. When requireLabel is
// false the correct field may be omitted (records submitted for prediction).
func ParseLine(data []byte, line int, requireLabel bool) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var w wireRecord
	if err := dec.Decode(&w); err != nil {
		return Record{}, errors.MalformedRecordError(line, fmt.Sprintf("invalid JSON: %v", err))
	}
	if dec.More() {
		return Record{}, errors.MalformedRecordError(line, "trailing data after record")
	}

	var missing []string
	fields := []struct {
		name string
		val  *string
	}{
		{"context", w.Context},
		{"question", w.Question},
		{"answerA", w.AnswerA},
		{"answerB", w.AnswerB},
		{"answerC", w.AnswerC},
	}
	for _, f := range fields {
		if f.val == nil {
			missing = append(missing, f.name)
		}
	}
	if requireLabel && w.Correct == nil {
		missing = append(missing, "correct")
	}
	if len(missing) > 0 {
		return Record{}, errors.MalformedRecordError(line, "missing fields: "+strings.Join(missing, ", "))
	}

	rec := Record{
		Context:  *w.Context,
		Question: *w.Question,
		AnswerA:  *w.AnswerA,
		AnswerB:  *w.AnswerB,
		AnswerC:  *w.AnswerC,
		Line:     line,
	}

	if w.Correct != nil {
		opt, err := ParseOption(*w.Correct)
		if err != nil {
			return Record{}, errors.MalformedRecordError(line, err.Error())
		}
		rec.Correct = opt
	}

	return rec, nil
}

// Parse reads labelled NDJSON records from r. Blank lines are skipped. The
// first invalid record aborts the whole read.
func Parse(r io.Reader) ([]Record, error) {
	return parse(r, true)
}

// ParseUnlabelled reads NDJSON records whose correct field is optional.
func ParseUnlabelled(r io.Reader) ([]Record, error) {
	return parse(r, false)
}

func parse(r io.Reader, requireLabel bool) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var records []Record
	line := 0
	for scanner.Scan() {
		line++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}

		rec, err := ParseLine(data, line, requireLabel)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading records: %w", err)
	}

	return records, nil
}

// Load reads labelled records from an NDJSON file.
func Load(path string) ([]Record, error) {
	return load(path, true)
}

// LoadUnlabelled reads records whose correct field is optional.
func LoadUnlabelled(path string) ([]Record, error) {
	return load(path, false)
}

func load(path string, requireLabel bool) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening records: %w", err)
	}
	defer f.Close()

	records, err := parse(f, requireLabel)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

// Labels returns the integer gold labels of records.
func Labels(records []Record) []int {
	labels := make([]int, len(records))
	for i, r := range records {
		labels[i] = r.Correct.Label()
	}
	return labels
}

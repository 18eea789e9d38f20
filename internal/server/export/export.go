// Package export turns entries into instruction-tuning records and writes
// them as JSON, JSON Lines or YAML.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dmitrijs2005/metta/internal/common"
	"github.com/dmitrijs2005/metta/internal/server/models"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Instruction is one training record: the entry's question as the
// instruction and its answer as the expected output.
type Instruction struct {
	Instruction string `json:"instruction" yaml:"instruction"`
	Input       string `json:"input" yaml:"input"`
	Output      string `json:"output" yaml:"output"`
}

type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
)

// ParseFormat accepts json, jsonl and yaml (case-insensitive, "yml" too).
// An empty string selects JSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "jsonl", "ndjson":
		return FormatJSONL, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%w: unknown export format %q", common.ErrorValidation, s)
}

// ContentType is the MIME type used when the export is uploaded.
func (f Format) ContentType() string {
	switch f {
	case FormatJSONL:
		return "application/x-ndjson"
	case FormatYAML:
		return "application/yaml"
	default:
		return "application/json"
	}
}

// FromEntries converts entries whose rating is at least minRating.
func FromEntries(entries []*models.Entry, minRating float64) []Instruction {
	out := make([]Instruction, 0, len(entries))
	for _, e := range entries {
		if e.Rating < minRating {
			continue
		}
		out = append(out, Instruction{Instruction: e.Question, Input: "", Output: e.Answer})
	}
	return out
}

// Encode writes records to w in format f.
func Encode(w io.Writer, f Format, records []Instruction) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	case FormatJSONL:
		enc := json.NewEncoder(w)
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(records); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("%w: unknown export format %q", common.ErrorValidation, f)
}

// ObjectKey returns a fresh storage key such as
// exports/2024/03/09/<uuid>.jsonl for an export made at t.
func ObjectKey(t time.Time, f Format) string {
	t = t.UTC()
	return fmt.Sprintf("exports/%04d/%02d/%02d/%s.%s", t.Year(), int(t.Month()), t.Day(), uuid.New(), f)
}

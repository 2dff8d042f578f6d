// Package models defines data structures for the comic fetcher.
package models

import "time"

// Source describes one web comic and how to find its latest strip.
type Source struct {
	Name             string `yaml:"name" json:"name" validate:"required"`
	BaseURL          string `yaml:"base_url" json:"base_url" validate:"required,url"`
	Selector         string `yaml:"selector" json:"selector" validate:"required"`
	RelativeImageURL bool   `yaml:"relative_image_url" json:"relative_image_url"`
	CheckForUpdate   bool   `yaml:"check_for_update" json:"check_for_update"`
}

// Status is the terminal state of a single source check.
type Status string

const (
	StatusDownloaded Status = "downloaded"
	StatusUnchanged  Status = "unchanged"
	StatusNotFound   Status = "not_found"
	StatusFailed     Status = "failed"
)

// Outcome is the result of checking one source.
type Outcome struct {
	Source    string        `csv:"source" json:"source"`
	Status    Status        `csv:"status" json:"status"`
	ImageURL  string        `csv:"image_url" json:"image_url,omitempty"`
	Filename  string        `csv:"filename" json:"filename,omitempty"`
	Path      string        `csv:"path" json:"path,omitempty"`
	Bytes     int64         `csv:"bytes" json:"bytes"`
	Err       error         `csv:"-" json:"-"`
	ErrorType string        `csv:"error_type" json:"error_type,omitempty"`
	CheckedAt time.Time     `csv:"checked_at" json:"checked_at"`
	Duration  time.Duration `csv:"duration" json:"duration_ns"`
}

// Entry returns the visit record entry produced by this outcome. Only a
// completed download yields an entry.
func (o Outcome) Entry() (name, filename string, ok bool) {
	if o.Status != StatusDownloaded || o.Filename == "" {
		return "", "", false
	}
	return o.Source, o.Filename, true
}

// ErrorMessage returns the error text or an empty string.
func (o Outcome) ErrorMessage() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// RunResult holds the overall result of one fetch run.
type RunResult struct {
	Outcomes  []Outcome
	OutputDir string
	StartTime time.Time
	EndTime   time.Time
}

// Count returns how many outcomes ended in status.
func (r *RunResult) Count(status Status) int {
	if r == nil {
		return 0
	}
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// ErrorsByType groups failed outcomes by their error type label.
func (r *RunResult) ErrorsByType() map[string]int {
	out := make(map[string]int)
	if r == nil {
		return out
	}
	for _, o := range r.Outcomes {
		if o.Status == StatusFailed {
			out[o.ErrorType]++
		}
	}
	return out
}

// LastCheckedKey is the reserved visit record key holding the time of the
// last run. It can never be used as a source name.
const LastCheckedKey = "Last Checked:"

// Package history persists the visit record: the last image filename seen
// for every comic plus the time of the last run.
package history

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/aluiziolira/go-comic-fetcher/models"
)

// Record maps a source name to the filename last downloaded for it. The
// models.LastCheckedKey entry stores the last run time as Unix seconds.
type Record map[string]string

// Filename returns the last filename stored for a source.
func (r Record) Filename(source string) (string, bool) {
	name, ok := r[source]
	return name, ok
}

// LastChecked parses the reserved timestamp entry.
func (r Record) LastChecked() (time.Time, bool) {
	raw, ok := r[models.LastCheckedKey]
	if !ok {
		return time.Time{}, false
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return time.Time{}, false
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)), true
}

// Sources returns the number of non-reserved entries.
func (r Record) Sources() int {
	n := len(r)
	if _, ok := r[models.LastCheckedKey]; ok {
		n--
	}
	return n
}

// Merge returns a new record holding r overlaid with updates. Keys are never
// removed.
func (r Record) Merge(updates map[string]string) Record {
	out := make(Record, len(r)+len(updates))
	for k, v := range r {
		out[k] = v
	}
	for k, v := range updates {
		out[k] = v
	}
	return out
}

// WithLastChecked returns a copy of r stamped with t.
func (r Record) WithLastChecked(t time.Time) Record {
	secs := float64(t.UnixNano()) / 1e9
	return r.Merge(map[string]string{
		models.LastCheckedKey: strconv.FormatFloat(secs, 'f', -1, 64),
	})
}

// Load reads a record from path. A missing file yields an empty record.
func Load(path string) (Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, nil
		}
		return nil, fmt.Errorf("open state file: %w", err)
	}
	defer f.Close()

	return Read(f)
}

// Read decodes two-column CSV rows. Short rows are skipped and later
// duplicates win.
func Read(r io.Reader) (Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	rec := Record{}
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read state file: %w", err)
		}
		if len(row) < 2 || row[0] == "" {
			continue
		}
		rec[row[0]] = row[1]
	}
	return rec, nil
}

// Write encodes rec as CSV, reserved key first, remaining keys sorted.
func Write(w io.Writer, rec Record) error {
	writer := csv.NewWriter(w)

	if v, ok := rec[models.LastCheckedKey]; ok {
		if err := writer.Write([]string{models.LastCheckedKey, v}); err != nil {
			return fmt.Errorf("write state record: %w", err)
		}
	}

	keys := make([]string, 0, len(rec))
	for k := range rec {
		if k == models.LastCheckedKey {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := writer.Write([]string{k, rec[k]}); err != nil {
			return fmt.Errorf("write state record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush state file: %w", err)
	}
	return nil
}

// Save atomically replaces path with rec. The previous file survives any
// failure.
func Save(path string, rec Record) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = Write(tmp, rec); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod state file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

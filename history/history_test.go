package history

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/go-comic-fetcher/models"
)

func TestLoadMissingFileIsEmpty(t *testing.T) {
	rec, err := Load(filepath.Join(t.TempDir(), "state.csv"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rec) != 0 {
		t.Fatalf("record = %v, want empty", rec)
	}
}

func TestReadSkipsShortRowsAndKeepsLastDuplicate(t *testing.T) {
	input := "Last Checked:,1528963200.5\nButtersafe,a.png\nlonely\nButtersafe,b.png\n\"Two Guys, and Guy\",c.png\n"
	rec, err := Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if got, _ := rec.Filename("Buttersafe"); got != "b.png" {
		t.Fatalf("Buttersafe = %q, want b.png", got)
	}
	if got, _ := rec.Filename("Two Guys, and Guy"); got != "c.png" {
		t.Fatalf("quoted name = %q, want c.png", got)
	}
	if _, ok := rec["lonely"]; ok {
		t.Fatalf("short row should be skipped")
	}
	if rec.Sources() != 2 {
		t.Fatalf("sources = %d, want 2", rec.Sources())
	}

	checked, ok := rec.LastChecked()
	if !ok {
		t.Fatalf("expected last checked timestamp")
	}
	if checked.Unix() != 1528963200 {
		t.Fatalf("last checked = %v", checked)
	}
}

func TestMergeNeverDeletes(t *testing.T) {
	prior := Record{"A": "old.png", "C": "c.png"}
	merged := prior.Merge(map[string]string{"B": "new.jpg", "C": "c2.png"})

	want := Record{"A": "old.png", "B": "new.jpg", "C": "c2.png"}
	if len(merged) != len(want) {
		t.Fatalf("merged = %v, want %v", merged, want)
	}
	for k, v := range want {
		if merged[k] != v {
			t.Fatalf("merged[%q] = %q, want %q", k, merged[k], v)
		}
	}
	if prior["C"] != "c.png" {
		t.Fatalf("merge must not mutate the receiver")
	}
}

func TestWriteOrdersReservedKeyFirst(t *testing.T) {
	rec := Record{"Wonderella": "w.png", "Buttersafe": "b.png"}.
		WithLastChecked(time.Unix(1528963200, 0))

	var buf bytes.Buffer
	if err := Write(&buf, rec); err != nil {
		t.Fatalf("write: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	want := []string{models.LastCheckedKey + ",1528963200", "Buttersafe,b.png", "Wonderella,w.png"}
	if len(lines) != len(want) {
		t.Fatalf("lines = %q, want %q", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.csv")
	rec := Record{"A": "old.png", "B": "new.jpg"}.WithLastChecked(time.Unix(1700000000, 250000000))

	if err := Save(path, rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded["A"] != "old.png" || loaded["B"] != "new.jpg" {
		t.Fatalf("loaded = %v", loaded)
	}
	checked, ok := loaded.LastChecked()
	if !ok || checked.UnixMilli() != 1700000000250 {
		t.Fatalf("last checked = %v (%v)", checked, ok)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestSaveFailureKeepsPreviousFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.csv")
	if err := os.WriteFile(path, []byte("A,old.png\n"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// A regular file where the parent directory should be.
	blocked := filepath.Join(dir, "blocked")
	if err := os.WriteFile(blocked, []byte("x"), 0o644); err != nil {
		t.Fatalf("seed blocker: %v", err)
	}
	if err := Save(filepath.Join(blocked, "state.csv"), Record{"A": "new.png"}); err == nil {
		t.Fatalf("expected save error")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded["A"] != "old.png" {
		t.Fatalf("previous state should survive, got %v", loaded)
	}
}

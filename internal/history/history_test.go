package history_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rajin-khan/cash/internal/history"
)

func TestFileHistoryReadMissingFileIsNotAnError(t *testing.T) {
	h := history.NewFileHistory()
	err := h.ReadHistory(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFileHistoryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cash_history")

	h := history.NewFileHistory()
	h.AddHistory("echo one")
	h.AddHistory("")
	h.AddHistory("echo two")

	if err := h.WriteHistory(path); err != nil {
		t.Fatalf("write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	want := "echo one\necho two\n"
	if string(data) != want {
		t.Fatalf("got %q, want %q", string(data), want)
	}

	reread := history.NewFileHistory()
	if err := reread.ReadHistory(path); err != nil {
		t.Fatalf("reread: %v", err)
	}
	if err := reread.WriteHistory(path); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	data, err = os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back after reread: %v", err)
	}
	if string(data) != want {
		t.Fatalf("got %q after reread/rewrite, want %q", string(data), want)
	}
}

func TestScannerLineReaderYieldsEOFAtEnd(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	lr := history.NewScannerLineReader(r)

	if _, err := w.WriteString("first\nsecond\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	w.Close()

	line, err := lr.ReadLine()
	if err != nil || line != "first" {
		t.Fatalf("got (%q, %v), want (\"first\", nil)", line, err)
	}
	line, err = lr.ReadLine()
	if err != nil || line != "second" {
		t.Fatalf("got (%q, %v), want (\"second\", nil)", line, err)
	}
	if _, err := lr.ReadLine(); err == nil {
		t.Fatal("expected an error/EOF at end of input")
	}
}

package docstore

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	n := 0
	base := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	s, err := Open(Opts{
		InMemory: true,
		Clock: func() time.Time {
			n++
			return base.Add(time.Duration(n) * time.Minute)
		},
		NewID: func() string { return fmt.Sprintf("doc-%d", n+1) },
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_PutGet(t *testing.T) {
	s := openTestStore(t)
	doc, err := s.Put("../notes/Plan.MD", "# Plan\nShip it.", 15)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if doc.Filename != "Plan.MD" {
		t.Errorf("Filename = %q, want Plan.MD", doc.Filename)
	}
	if doc.Extension != ".md" {
		t.Errorf("Extension = %q, want .md", doc.Extension)
	}

	got, err := s.Get(doc.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != doc.ID || got.Size != 15 || !got.UploadedAt.Equal(doc.UploadedAt) {
		t.Errorf("Get = %+v, want %+v", got, doc)
	}
	text, err := s.GetText(doc.ID)
	if err != nil {
		t.Fatalf("GetText: %v", err)
	}
	if text != "# Plan\nShip it." {
		t.Errorf("GetText = %q", text)
	}
}

func TestStore_NotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetText("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetText err = %v, want ErrNotFound", err)
	}
	if err := s.Delete("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete err = %v, want ErrNotFound", err)
	}
}

func TestStore_ListAndDelete(t *testing.T) {
	s := openTestStore(t)
	a, _ := s.Put("a.txt", "alpha", 5)
	b, _ := s.Put("b.txt", "beta", 4)

	docs, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != a.ID || docs[1].ID != b.ID {
		t.Fatalf("List = %+v", docs)
	}

	if err := s.Delete(a.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	docs, _ = s.List()
	if len(docs) != 1 || docs[0].ID != b.ID {
		t.Errorf("List after delete = %+v", docs)
	}
	if _, err := s.GetText(a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("text survived delete: %v", err)
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(Opts{}); err == nil || !strings.Contains(err.Error(), "path is required") {
		t.Errorf("Open err = %v, want path error", err)
	}
}

func TestValidateUpload(t *testing.T) {
	limits := Limits{MaxSize: 10 << 20, Extensions: []string{".txt", ".md", ".docx", ".pdf"}}
	tests := []struct {
		name     string
		filename string
		size     int64
		want     error
	}{
		{"ok", "notes.md", 100, nil},
		{"upper ext", "REPORT.PDF", 100, nil},
		{"no name", " ", 1, ErrExtension},
		{"bad ext", "run.exe", 1, ErrExtension},
		{"empty", "a.txt", 0, ErrEmptyFile},
		{"too big", "a.txt", 11 << 20, ErrTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUpload(tt.filename, tt.size, limits)
			if tt.want == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	err := ValidateUpload("a.txt", 11<<20, limits)
	if !strings.Contains(err.Error(), "10 MiB") {
		t.Errorf("too-large message = %q, want humanized limit", err)
	}
}

func TestExtract(t *testing.T) {
	text, err := Extract("a.txt", []byte("\xEF\xBB\xBFline one\r\nline two"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if text != "line one\nline two" {
		t.Errorf("Extract = %q", text)
	}
	if _, err := Extract("a.md", []byte{0xff, 0xfe, 0x00}); !errors.Is(err, ErrInvalidText) {
		t.Errorf("invalid utf-8 err = %v", err)
	}
	if _, err := Extract("a.pdf", []byte("%PDF-1.4")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("pdf err = %v, want ErrUnsupportedFormat", err)
	}
}

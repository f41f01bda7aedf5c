package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/WessleyAI/reddit-etl/engine/domain"
)

func TestParseSource(t *testing.T) {
	in := "golang\t250000\r\n\n  \nrust\t 300000 \nAskReddit\t0\n"
	got, err := ParseSource(strings.NewReader(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	if got[0] != (Entry{Line: 1, Name: "golang", Subscribers: 250000}) {
		t.Errorf("unexpected first entry %+v", got[0])
	}
	if got[1].Line != 4 || got[1].Subscribers != 300000 {
		t.Errorf("unexpected second entry %+v", got[1])
	}
}

func TestParseSource_Errors(t *testing.T) {
	cases := map[string]struct {
		in   string
		line int
	}{
		"one field":      {"golang\n", 1},
		"three fields":   {"golang\t1\t2\n", 1},
		"empty name":     {"ok\t1\n\t5\n", 2},
		"bad count":      {"golang\tmany\n", 1},
		"negative count": {"golang\t-3\n", 1},
		"duplicate":      {"golang\t1\nrust\t2\ngolang\t3\n", 3},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSource(strings.NewReader(tc.in))
			var be *domain.CatalogBootstrapError
			if !errors.As(err, &be) {
				t.Fatalf("expected CatalogBootstrapError, got %v", err)
			}
			if be.Line != tc.line {
				t.Fatalf("expected line %d, got %d (%v)", tc.line, be.Line, err)
			}
		})
	}
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subs.tsv")
	if err := os.WriteFile(path, []byte("golang\t1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	rc, err := FileSource(path)()
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	got, err := ParseSource(rc)
	if err != nil || len(got) != 1 {
		t.Fatalf("got %v, %v", got, err)
	}

	if _, err := FileSource(filepath.Join(t.TempDir(), "missing"))(); err == nil {
		t.Fatal("expected open error")
	}
}

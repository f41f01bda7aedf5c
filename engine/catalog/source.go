package catalog

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/WessleyAI/reddit-etl/engine/domain"
)

// Entry is one parsed line of the catalog source.
type Entry struct {
	Line        int
	Name        string
	Subscribers int64
}

// ParseSource reads newline-delimited "name<TAB>subscribers" lines. Blank
// lines are skipped. The first malformed line or repeated name stops parsing
// with a *domain.CatalogBootstrapError.
func ParseSource(r io.Reader) ([]Entry, error) {
	var (
		entries []Entry
		seen    = make(map[string]int)
		line    int
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) != 2 {
			return nil, &domain.CatalogBootstrapError{
				Line:   line,
				Reason: "expected name<TAB>subscribers, got " + strconv.Itoa(len(fields)) + " fields",
			}
		}
		name := strings.TrimSpace(fields[0])
		if name == "" {
			return nil, &domain.CatalogBootstrapError{Line: line, Reason: "empty subreddit name"}
		}
		subs, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
		if err != nil {
			return nil, &domain.CatalogBootstrapError{Line: line, Reason: "invalid subscriber count", Err: err}
		}
		if subs < 0 {
			return nil, &domain.CatalogBootstrapError{Line: line, Reason: "negative subscriber count"}
		}
		if first, dup := seen[name]; dup {
			return nil, &domain.CatalogBootstrapError{
				Line:   line,
				Reason: "duplicate subreddit " + strconv.Quote(name) + " (first on line " + strconv.Itoa(first) + ")",
			}
		}
		seen[name] = line
		entries = append(entries, Entry{Line: line, Name: name, Subscribers: subs})
	}
	if err := sc.Err(); err != nil {
		return nil, &domain.CatalogBootstrapError{Line: line + 1, Reason: "read source", Err: err}
	}
	return entries, nil
}

// FileSource opens path lazily, for Bootstrapper.
func FileSource(path string) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return os.Open(path)
	}
}

package walk

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/spf13/afero"
)

// Ignore matches paths relative to the walk root against
// gitignore-style patterns.
type Ignore struct {
	matcher gitignore.Matcher
	count   int
}

// NewIgnore builds an Ignore from pattern lines. Blank
// lines and # comments are skipped.
func NewIgnore(lines []string) *Ignore {
	var patterns []gitignore.Pattern

	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" ||
			strings.HasPrefix(line, "#") {
			continue
		}

		patterns = append(
			patterns, gitignore.ParsePattern(line, nil),
		)
	}

	return &Ignore{
		matcher: gitignore.NewMatcher(patterns),
		count:   len(patterns),
	}
}

// LoadIgnore reads patterns from the file at path. A
// missing file yields an Ignore that matches nothing.
func LoadIgnore(fs afero.Fs, path string) (*Ignore, error) {
	const errCtx = "loading ignore file"

	data, err := afero.ReadFile(fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return NewIgnore(nil), nil
	}

	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	var lines []string

	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}

	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return NewIgnore(lines), nil
}

// Len returns the number of active patterns.
func (ig *Ignore) Len() int {
	if ig == nil {
		return 0
	}

	return ig.count
}

// Match reports whether the relative path is ignored.
func (ig *Ignore) Match(rel string, isDir bool) bool {
	if ig == nil || ig.count == 0 {
		return false
	}

	var segments []string

	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part != "" && part != "." {
			segments = append(segments, part)
		}
	}

	if len(segments) == 0 {
		return false
	}

	return ig.matcher.Match(segments, isDir)
}

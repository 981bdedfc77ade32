package fs

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// IgnoreFileName is an optional per-root file of extra exclude patterns.
const IgnoreFileName = ".bsuiteignore"

// pattern is a parsed glob with its matching strategy.
type pattern struct {
	glob      string
	matchPath bool // true = match against relative path; false = match against basename too
}

// PathMatcher selects files by include and exclude globs. Globs support
// "**". Patterns without '/' match either the file's basename or its whole
// relative path; patterns with '/' match the relative path only. Excludes are
// checked first and always win.
type PathMatcher struct {
	include []pattern
	exclude []pattern
}

// NewPathMatcher compiles include and exclude patterns. Blank patterns and
// lines starting with '#' are skipped.
func NewPathMatcher(include, exclude []string) (*PathMatcher, error) {
	inc, err := parsePatterns(include)
	if err != nil {
		return nil, fmt.Errorf("include: %w", err)
	}
	exc, err := parsePatterns(exclude)
	if err != nil {
		return nil, fmt.Errorf("exclude: %w", err)
	}
	return &PathMatcher{include: inc, exclude: exc}, nil
}

func parsePatterns(raw []string) ([]pattern, error) {
	var out []pattern
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" || strings.HasPrefix(r, "#") {
			continue
		}
		r = strings.TrimPrefix(r, "./")
		if !doublestar.ValidatePattern(r) {
			return nil, fmt.Errorf("invalid pattern %q", r)
		}
		out = append(out, pattern{glob: r, matchPath: strings.Contains(r, "/")})
	}
	return out, nil
}

// Selects reports whether the slash-separated relative path is selected.
func (m *PathMatcher) Selects(rel string) bool {
	if matchAny(m.exclude, rel) {
		return false
	}
	return matchAny(m.include, rel)
}

// Excluded reports whether rel matches an exclude pattern.
func (m *PathMatcher) Excluded(rel string) bool {
	return matchAny(m.exclude, rel)
}

func matchAny(patterns []pattern, rel string) bool {
	base := path.Base(rel)
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p.glob, rel); ok {
			return true
		}
		if !p.matchPath {
			if ok, _ := doublestar.Match(p.glob, base); ok {
				return true
			}
		}
	}
	return false
}

// ParseIgnoreFile reads an ignore file and returns the raw pattern strings.
// Returns nil and no error if the file does not exist.
func ParseIgnoreFile(p string) ([]string, error) {
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}

package changes

import (
	"path"
	"regexp"
	"strings"

	"github.com/ryanuber/go-glob"
)

const (
	globPrefix      = "glob:"
	regexpPrefix    = "regexp:"
	regexpAltPrefix = "regex:"
)

// Pattern decides which changed files are config files.
type Pattern interface {
	// Matches returns true if the file path given matches the pattern.
	Matches(filePath string) bool
	// String returns the prefixed string representation.
	String() string
	// Valid returns true if the pattern is considered valid.
	Valid() bool
}

// GlobPattern matches either the whole path or just its base name,
// so `*.json` finds JSON files in any directory.
type GlobPattern string

// RegexpPattern matches the whole path by regular expression.
type RegexpPattern struct {
	pattern string // pattern without prefix
	regexp  *regexp.Regexp
}

// NewPattern instantiates a Pattern according to the prefix it
// finds. The prefix can be either `glob:` (default if omitted) or
// `regexp:`.
func NewPattern(pattern string) Pattern {
	switch {
	case strings.HasPrefix(pattern, regexpPrefix):
		pattern = strings.TrimPrefix(pattern, regexpPrefix)
		r, _ := regexp.Compile(pattern)
		return RegexpPattern{pattern, r}
	case strings.HasPrefix(pattern, regexpAltPrefix):
		pattern = strings.TrimPrefix(pattern, regexpAltPrefix)
		r, _ := regexp.Compile(pattern)
		return RegexpPattern{pattern, r}
	default:
		return GlobPattern(strings.TrimPrefix(pattern, globPrefix))
	}
}

func (g GlobPattern) Matches(filePath string) bool {
	return glob.Glob(string(g), filePath) || glob.Glob(string(g), path.Base(filePath))
}

func (g GlobPattern) String() string {
	return globPrefix + string(g)
}

func (g GlobPattern) Valid() bool {
	return string(g) != ""
}

func (r RegexpPattern) Matches(filePath string) bool {
	if r.regexp == nil {
		return false
	}
	return r.regexp.MatchString(filePath)
}

func (r RegexpPattern) String() string {
	return regexpPrefix + r.pattern
}

func (r RegexpPattern) Valid() bool {
	return r.regexp != nil
}

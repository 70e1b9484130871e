// Package pathresolver expands logical configuration locations into
// absolute filesystem paths for the current host. It touches the
// environment, never the filesystem.
package pathresolver

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/justSteve/claude-config-history/internal/config"
)

// Environment is the read-only environment-variable source. Production code
// uses OSEnvironment; tests inject a fake so resolution stays a pure
// function of its inputs.
type Environment interface {
	Lookup(name string) (string, bool)
}

type osEnvironment struct{}

// OSEnvironment reads from the real process environment.
var OSEnvironment Environment = osEnvironment{}

func (osEnvironment) Lookup(name string) (string, bool) {
	return lookupEnv(name)
}

// ErrUnknownPlaceholder is returned when a template contains a placeholder
// token the resolver does not recognize. This is a fatal configuration
// error: it must never silently pass through as a literal path segment.
var ErrUnknownPlaceholder = errors.New("unknown path placeholder")

// ErrEnvVarUndefined is returned when a required environment variable used
// by a placeholder is not set.
var ErrEnvVarUndefined = errors.New("environment variable undefined")

// ResolvedLocation is the absolute, host-native-separator path a logical
// location refers to, plus the metadata a scanner needs to walk it.
type ResolvedLocation struct {
	ID       string
	Category string
	Path     string
	Options  config.Options
}

var placeholders = map[string]func(Environment) (string, bool){
	"%USERPROFILE%":     func(e Environment) (string, bool) { return e.Lookup("USERPROFILE") },
	"%APPDATA%":         func(e Environment) (string, bool) { return e.Lookup("APPDATA") },
	"%ProgramData%":     func(e Environment) (string, bool) { return e.Lookup("ProgramData") },
	"$HOME":             func(e Environment) (string, bool) { return e.Lookup("HOME") },
	"$XDG_CONFIG_HOME":  func(e Environment) (string, bool) { return e.Lookup("XDG_CONFIG_HOME") },
}

// knownTokens is the set of placeholder spellings understood by expand,
// tried in this order; no token is a prefix of another, so the order does
// not change which one matches.
var knownTokens = []string{
	"%USERPROFILE%", "%APPDATA%", "%ProgramData%", "$XDG_CONFIG_HOME", "$HOME", "~",
}

// Resolve expands every enabled, platform-applicable location in doc against
// env for the given platform (a GOOS-style string: "windows", "linux",
// "darwin", ...). Resolve never touches the filesystem.
func Resolve(doc config.Document, env Environment, platform string) ([]ResolvedLocation, error) {
	out := make([]ResolvedLocation, 0, len(doc.Locations))

	for _, loc := range doc.Locations {
		if !loc.IsEnabled() || !loc.AppliesToPlatform(platform) {
			continue
		}

		abs, err := expand(loc.Template, env)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving location %q", loc.ID)
		}

		out = append(out, ResolvedLocation{
			ID:       loc.ID,
			Category: loc.Category,
			Path:     normalizeSeparators(abs, platform),
			Options:  loc.Options,
		})
	}

	return out, nil
}

// expand walks template left to right, replacing every recognized
// placeholder token with its environment value and leaving literal segments
// untouched. Any "%...%" or "$..." run that is not one of the known tokens
// is a fatal ErrUnknownPlaceholder.
func expand(template string, env Environment) (string, error) {
	var b strings.Builder

	rest := template
	for len(rest) > 0 {
		tok, matched := matchToken(rest)
		if tok == "~" && len(rest) != len(template) {
			tok, matched = "", "" // "~" stands for $HOME only at the start of a template
		}

		if matched == "" {
			if tok := leadingPlaceholderLikeRun(rest); tok != "" {
				return "", errors.Wrapf(ErrUnknownPlaceholder, "%q in template %q", tok, template)
			}

			b.WriteByte(rest[0])
			rest = rest[1:]

			continue
		}

		val, ok := placeholders[matched](env)
		if !ok {
			return "", errors.Wrapf(ErrEnvVarUndefined, "placeholder %q in template %q", matched, template)
		}

		b.WriteString(val)
		rest = rest[len(tok):]
	}

	return b.String(), nil
}

// matchToken returns the raw token text matched at the start of s and the
// canonical placeholder key it resolves to ("~" resolves to the "$HOME"
// key). Both are empty if no known token matches.
func matchToken(s string) (raw, key string) {
	for _, t := range knownTokens {
		if strings.HasPrefix(s, t) {
			if t == "~" {
				return t, "$HOME"
			}

			return t, t
		}
	}

	return "", ""
}

// leadingPlaceholderLikeRun reports a "%...%" or "$IDENT" run at the start
// of s that looks like a placeholder but matched no known token, so callers
// can fail fast instead of passing it through as a literal.
func leadingPlaceholderLikeRun(s string) string {
	switch {
	case strings.HasPrefix(s, "%"):
		if end := strings.Index(s[1:], "%"); end >= 0 {
			return s[:end+2]
		}
	case strings.HasPrefix(s, "$"):
		end := 1
		for end < len(s) && (isIdentByte(s[end])) {
			end++
		}

		if end > 1 {
			return s[:end]
		}
	}

	return ""
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// normalizeSeparators rewrites whichever separator appears in path to the
// native separator for platform, so templates may mix "/" and "\" freely.
func normalizeSeparators(path, platform string) string {
	if platform == "windows" {
		return strings.ReplaceAll(path, "/", "\\")
	}

	return strings.ReplaceAll(path, "\\", "/")
}

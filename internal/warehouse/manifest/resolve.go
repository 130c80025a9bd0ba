package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// The closed set of directives. No other @… token is legal; anything else
// passes through untouched.
var (
	importRe = regexp.MustCompile("^@import\\((['\"`])(?P<src>.+)(['\"`])\\)$")
	// A glob path: single * permitted, only in the final segment.
	globRe = regexp.MustCompile(`^(?P<base>[^*\n\r]+)\*(?P<cap>[^*\n\r/]*)$`)
	// A glob-shaped list key: prefix ending in *.
	globKeyRe = regexp.MustCompile(`^(?P<base>[^*\n\r]+)\*$`)
)

// Builtin reverse-DNS prefixes, substituted for @base when the manifest
// declares none. Expression packs resolve under the CORE sub-prefix.
const (
	builtinRFQDN     = "com.reboot-codes.clover"
	builtinCoreRFQDN = "com.reboot-codes.clover.CORE"
)

// Ctx threads resolution state through a compile: the @base value, the
// builtin prefix for the current sub-tree, the path of the file being
// resolved (@here), and the set of files already on the import path for
// cycle detection.
type Ctx struct {
	Base    string
	Builtin string
	Here    string
	seen    map[string]struct{}
}

// NewCtx builds the root context for a manifest file.
func NewCtx(base, here string) Ctx {
	return Ctx{
		Base:    base,
		Builtin: builtinRFQDN,
		Here:    here,
		seen:    map[string]struct{}{normalizePath(here): {}},
	}
}

// At returns a child context positioned at an imported file. The visited
// set is copied and extended, so cycles along one import chain are caught
// while sibling fields stay free to import the same file.
func (c Ctx) At(here string) Ctx {
	child := c
	child.Here = here
	child.seen = make(map[string]struct{}, len(c.seen)+1)
	for path := range c.seen {
		child.seen[path] = struct{}{}
	}
	child.seen[normalizePath(here)] = struct{}{}
	return child
}

// ForCore returns the context with the builtin prefix swapped to the CORE
// sub-prefix, used while compiling expression packs.
func (c Ctx) ForCore() Ctx {
	child := c
	child.Builtin = builtinCoreRFQDN
	return child
}

// effectiveBase is the value substituted for @base tokens.
func (c Ctx) effectiveBase() string {
	if c.Base != "" {
		return c.Base
	}
	return c.Builtin
}

// onChain reports whether path is already on the current import chain.
func (c Ctx) onChain(path string) bool {
	_, ok := c.seen[normalizePath(path)]
	return ok
}

func normalizePath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	return abs
}

// Resolution is the outcome of resolving one entry value.
type Resolution struct {
	// Single holds one imported file (path + raw content), nil otherwise.
	Single *ResolvedFile
	// Multiple holds glob-expanded files keyed by their capture.
	Multiple map[string]ResolvedFile
	// Literal is the value with simple directives substituted, when no
	// import was present.
	Literal string
}

// ResolvedFile pairs an imported file's path with its raw content.
type ResolvedFile struct {
	Here    string
	Content []byte
}

// ResolveValue resolves a raw string entry value. An @import("...") loads
// the target file (or, for a glob, every matching file); anything else has
// @base and @here substituted in place.
func ResolveValue(value string, ctx Ctx) (Resolution, error) {
	m := importRe.FindStringSubmatch(value)
	if m == nil {
		return Resolution{Literal: ReplaceDirectives(value, ctx)}, nil
	}

	src := m[importRe.SubexpIndex("src")]
	importPath := filepath.Join(filepath.Dir(ctx.Here), src)

	if g := globRe.FindStringSubmatch(importPath); g != nil {
		return resolveGlob(g[globRe.SubexpIndex("base")], g[globRe.SubexpIndex("cap")])
	}

	if ctx.onChain(importPath) {
		return Resolution{}, fmt.Errorf("import cycle detected at %s", importPath)
	}

	content, err := os.ReadFile(importPath)
	if err != nil {
		return Resolution{}, fmt.Errorf("invalid import path %q: %w", src, err)
	}
	return Resolution{Single: &ResolvedFile{Here: importPath, Content: content}}, nil
}

// resolveGlob expands a prefix*suffix import. Directory matches descend to
// the default manifest file, or to the capture suffix when one is given.
// The returned map is keyed by the glob capture for each match.
func resolveGlob(prefix, descend string) (Resolution, error) {
	dir := filepath.Dir(prefix + "x") // prefix may end in a path separator
	namePrefix := filepath.Base(prefix + "x")
	namePrefix = namePrefix[:len(namePrefix)-1]

	entries, err := os.ReadDir(dir)
	if err != nil {
		return Resolution{}, fmt.Errorf("glob import: %w", err)
	}

	files := make(map[string]ResolvedFile)
	var failed []error
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, namePrefix) {
			continue
		}
		capture := strings.TrimPrefix(name, namePrefix)

		path := filepath.Join(dir, name)
		if entry.IsDir() {
			if descend == "" {
				path = filepath.Join(path, ManifestFileName)
			} else {
				path = filepath.Join(path, descend)
			}
		} else {
			if descend != "" && !strings.HasSuffix(name, descend) {
				continue
			}
			capture = strings.TrimSuffix(capture, descend)
		}

		content, err := os.ReadFile(path)
		if err != nil {
			failed = append(failed, err)
			continue
		}
		files[capture] = ResolvedFile{Here: path, Content: content}
	}

	if len(files) == 0 && len(failed) > 0 {
		return Resolution{}, fmt.Errorf("glob import matched no readable files: %v", failed[0])
	}
	return Resolution{Multiple: files}, nil
}

// ReplaceDirectives substitutes @base and @here tokens in a literal value.
// The directive set is closed; this is a fixed string rewrite, not a
// template language.
func ReplaceDirectives(value string, ctx Ctx) string {
	out := strings.ReplaceAll(value, "@base", ctx.effectiveBase())
	out = strings.ReplaceAll(out, "@here", ctx.Here)
	return out
}

// GlobKey splits a list key of the form "prefix*" into its prefix. ok is
// false for ordinary keys.
func GlobKey(key string) (prefix string, ok bool) {
	m := globKeyRe.FindStringSubmatch(key)
	if m == nil {
		return "", false
	}
	return m[globKeyRe.SubexpIndex("base")], true
}

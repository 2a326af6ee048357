// Package gitcfg reads the VCS's INI-flavored config format (dotted keys
// like "revise.autoSquash", "commit.gpgSign"). Only the subset the rewrite
// engine consumes is implemented: section[.subsection].key = value.
package gitcfg

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// Config is a flattened dotted-key -> values map (section and key names
// lower-cased) that keeps every value in order; lookups return the last
// one, matching git's "last one wins" semantics for scalar keys.
type Config struct {
	values map[string][]string
}

func New() *Config {
	return &Config{values: make(map[string][]string)}
}

// Parse reads one INI-style config stream and merges it into c. Values from
// later Parse calls are appended after earlier ones, so scalar lookups see
// the later value, matching git's global-then-local layering.
func (c *Config) Parse(r io.Reader) error {
	sc := bufio.NewScanner(r)
	section := ""
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			inner := strings.TrimSuffix(strings.TrimPrefix(line, "["), "]")
			parts := strings.SplitN(inner, " ", 2)
			name := strings.ToLower(strings.TrimSpace(parts[0]))
			if len(parts) == 2 {
				sub := strings.Trim(strings.TrimSpace(parts[1]), `"`)
				section = name + "." + sub
			} else {
				section = name
			}
			continue
		}
		eq := strings.IndexByte(line, '=')
		var key, val string
		if eq < 0 {
			key, val = line, "true"
		} else {
			key, val = strings.TrimSpace(line[:eq]), strings.TrimSpace(line[eq+1:])
		}
		key = strings.ToLower(key)
		full := key
		if section != "" {
			full = section + "." + key
		}
		c.values[full] = append(c.values[full], unquote(val))
	}
	return sc.Err()
}

func unquote(v string) string {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		return v[1 : len(v)-1]
	}
	return v
}

// String returns the last value of key, falling through to each of
// fallbacks in order (e.g. "revise.autoSquash" falling back to
// "rebase.autoSquash").
func (c *Config) String(key string, fallbacks ...string) (string, bool) {
	for _, k := range append([]string{key}, fallbacks...) {
		if vs, ok := c.values[strings.ToLower(k)]; ok && len(vs) > 0 {
			return vs[len(vs)-1], true
		}
	}
	return "", false
}

func (c *Config) Bool(key string, def bool, fallbacks ...string) bool {
	s, ok := c.String(key, fallbacks...)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		switch strings.ToLower(s) {
		case "yes", "on":
			return true
		case "no", "off":
			return false
		}
		return def
	}
	return b
}

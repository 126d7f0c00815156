//go:build !no_automation

package automation

import (
	"bytes"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ScriptMeta holds user-editable metadata for a script.
type ScriptMeta struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled     bool   `json:"enabled" yaml:"enabled"`
}

// Script is one automation stored as <id>.lua. The file opens with a Lua
// block comment holding the metadata as YAML:
//
//	--[[lifx-lan
//	name: Porch at dusk
//	enabled: true
//	]]
//
//	lifx.on("light_found", {}, function(ev) ... end)
type Script struct {
	ID       string     `json:"id"`
	Meta     ScriptMeta `json:"meta"`
	LuaCode  string     `json:"lua_code"`
	FilePath string     `json:"-"`
}

const (
	headerOpen  = "--[[lifx-lan\n"
	headerClose = "]]\n"
)

// parseScript splits file content into metadata and code. Content without
// a readable header is all code.
func parseScript(content string) *Script {
	s := &Script{LuaCode: content}
	body, ok := strings.CutPrefix(content, headerOpen)
	if !ok {
		return s
	}
	header, code, ok := strings.Cut(body, "\n"+headerClose)
	if !ok {
		return s
	}
	var meta ScriptMeta
	if err := yaml.Unmarshal([]byte(header), &meta); err != nil {
		return s
	}
	s.Meta = meta
	s.LuaCode = strings.TrimLeft(code, "\n")
	return s
}

// serializeScript renders the file content of s.
func serializeScript(s *Script) []byte {
	var b bytes.Buffer
	b.WriteString(headerOpen)
	meta, _ := yaml.Marshal(s.Meta)
	b.Write(meta)
	b.WriteString(headerClose)
	if s.LuaCode != "" {
		b.WriteByte('\n')
		b.WriteString(s.LuaCode)
		if !strings.HasSuffix(s.LuaCode, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.Bytes()
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// slugify turns a script name into an ID of at most 40 characters.
func slugify(name string) string {
	s := nonSlug.ReplaceAllString(strings.ToLower(name), "_")
	s = strings.Trim(s, "_")
	if len(s) > 40 {
		s = strings.TrimRight(s[:40], "_")
	}
	return s
}

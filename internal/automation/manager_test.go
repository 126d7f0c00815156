//go:build !no_automation

package automation

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yuin/gopher-lua/parse"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "scripts"), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestManagerListEmpty(t *testing.T) {
	m := newTestManager(t)
	scripts, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(scripts) != 0 {
		t.Errorf("list count = %d, want 0", len(scripts))
	}
}

func TestManagerSaveAndGet(t *testing.T) {
	m := newTestManager(t)

	saved, err := m.Save(&Script{
		Meta:    ScriptMeta{Name: "Porch At Dusk", Description: "evening", Enabled: true},
		LuaCode: `lifx.log("hello")`,
	})
	if err != nil {
		t.Fatal(err)
	}
	if saved.ID != "porch_at_dusk" {
		t.Errorf("id = %q, want porch_at_dusk", saved.ID)
	}

	got, err := m.Get(saved.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Meta != saved.Meta {
		t.Errorf("meta = %+v, want %+v", got.Meta, saved.Meta)
	}
	if got.LuaCode != "lifx.log(\"hello\")\n" {
		t.Errorf("lua_code = %q", got.LuaCode)
	}
}

func TestManagerSaveExistingID(t *testing.T) {
	m := newTestManager(t)

	saved, err := m.Save(&Script{ID: "my_script", Meta: ScriptMeta{Name: "Mine"}, LuaCode: `lifx.log("v1")`})
	if err != nil {
		t.Fatal(err)
	}
	saved.LuaCode = `lifx.log("v2")`
	if _, err := m.Save(saved); err != nil {
		t.Fatal(err)
	}

	got, err := m.Get("my_script")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got.LuaCode, `lifx.log("v2")`) {
		t.Errorf("lua_code after update = %q", got.LuaCode)
	}
}

func TestManagerSaveRejects(t *testing.T) {
	m := newTestManager(t)

	tests := []struct {
		name string
		s    *Script
	}{
		{"syntax error", &Script{Meta: ScriptMeta{Name: "Broken"}, LuaCode: `lifx.on("x", {}, function(`}},
		{"path in id", &Script{ID: "../escape", LuaCode: `lifx.log("x")`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Save(tt.s); err == nil {
				t.Error("expected error")
			}
		})
	}

	scripts, _ := m.List()
	if len(scripts) != 0 {
		t.Errorf("rejected scripts were written: %d", len(scripts))
	}
}

func TestManagerListSorted(t *testing.T) {
	m := newTestManager(t)

	for _, name := range []string{"Gamma", "Alpha", "Beta"} {
		if _, err := m.Save(&Script{Meta: ScriptMeta{Name: name}, LuaCode: `lifx.log("` + name + `")`}); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(m.Dir(), "notes.txt"), []byte("skip"), 0o644); err != nil {
		t.Fatal(err)
	}

	scripts, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, s := range scripts {
		ids = append(ids, s.ID)
	}
	if strings.Join(ids, ",") != "alpha,beta,gamma" {
		t.Errorf("ids = %v", ids)
	}
}

func TestManagerDelete(t *testing.T) {
	m := newTestManager(t)

	saved, err := m.Save(&Script{Meta: ScriptMeta{Name: "ToDelete"}, LuaCode: `lifx.log("bye")`})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Delete(saved.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(saved.ID); !errors.Is(err, ErrScriptNotFound) {
		t.Errorf("get after delete: err = %v, want ErrScriptNotFound", err)
	}
	if err := m.Delete(saved.ID); !errors.Is(err, ErrScriptNotFound) {
		t.Errorf("second delete: err = %v, want ErrScriptNotFound", err)
	}
}

func TestManagerInvalidID(t *testing.T) {
	m := newTestManager(t)
	for _, id := range []string{"", "..", "a/b", `a\b`} {
		if _, err := m.Get(id); !errors.Is(err, ErrInvalidID) {
			t.Errorf("Get(%q): err = %v, want ErrInvalidID", id, err)
		}
	}
}

func TestManagerUniqueID(t *testing.T) {
	m := newTestManager(t)

	s1, err := m.Save(&Script{Meta: ScriptMeta{Name: "Dup"}, LuaCode: `lifx.log("1")`})
	if err != nil {
		t.Fatal(err)
	}
	s2, err := m.Save(&Script{Meta: ScriptMeta{Name: "Dup"}, LuaCode: `lifx.log("2")`})
	if err != nil {
		t.Fatal(err)
	}
	if s1.ID != "dup" || s2.ID != "dup_1" {
		t.Errorf("ids = %q, %q, want dup, dup_1", s1.ID, s2.ID)
	}
}

func TestParseScript(t *testing.T) {
	tests := []struct {
		name    string
		content string
		meta    ScriptMeta
		code    string
	}{
		{
			"with header",
			"--[[lifx-lan\nname: Porch\nenabled: true\n]]\n\nlifx.log(\"x\")\n",
			ScriptMeta{Name: "Porch", Enabled: true},
			"lifx.log(\"x\")\n",
		},
		{
			"plain lua",
			"-- just a comment\nlifx.log(\"x\")\n",
			ScriptMeta{},
			"-- just a comment\nlifx.log(\"x\")\n",
		},
		{
			"unterminated header kept as code",
			"--[[lifx-lan\nname: Porch\nlifx.log(\"x\")\n",
			ScriptMeta{},
			"--[[lifx-lan\nname: Porch\nlifx.log(\"x\")\n",
		},
		{
			"bad yaml kept as code",
			"--[[lifx-lan\nname: [unclosed\n]]\nlifx.log(\"x\")\n",
			ScriptMeta{},
			"--[[lifx-lan\nname: [unclosed\n]]\nlifx.log(\"x\")\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := parseScript(tt.content)
			if s.Meta != tt.meta {
				t.Errorf("meta = %+v, want %+v", s.Meta, tt.meta)
			}
			if s.LuaCode != tt.code {
				t.Errorf("code = %q, want %q", s.LuaCode, tt.code)
			}
		})
	}
}

func TestSerializeScript(t *testing.T) {
	s := &Script{
		Meta:    ScriptMeta{Name: "Test", Description: "desc", Enabled: true},
		LuaCode: `lifx.log("hi")`,
	}
	content := string(serializeScript(s))
	want := "--[[lifx-lan\nname: Test\ndescription: desc\nenabled: true\n]]\n\nlifx.log(\"hi\")\n"
	if content != want {
		t.Errorf("content = %q, want %q", content, want)
	}

	back := parseScript(content)
	if back.Meta != s.Meta {
		t.Errorf("meta after parse = %+v, want %+v", back.Meta, s.Meta)
	}
}

func TestSavedScriptIsValidLua(t *testing.T) {
	m := newTestManager(t)
	saved, err := m.Save(&Script{Meta: ScriptMeta{Name: "Runs"}, LuaCode: `x = 1`})
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(saved.FilePath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := parse.Parse(strings.NewReader(string(data)), saved.ID); err != nil {
		t.Errorf("file with header does not parse: %v", err)
	}

	entries, _ := os.ReadDir(m.Dir())
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want only the script", len(entries))
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Porch Light", "porch_light"},
		{"hello world!", "hello_world"},
		{"", ""},
		{"  spaces  ", "spaces"},
		{"UPPER", "upper"},
		{strings.Repeat("ab ", 20), "ab_ab_ab_ab_ab_ab_ab_ab_ab_ab_ab_ab_ab_a"},
	}
	for _, tt := range tests {
		if got := slugify(tt.input); got != tt.want {
			t.Errorf("slugify(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

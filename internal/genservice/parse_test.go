package genservice

import (
	"strings"
	"testing"
)

func TestExtractCode(t *testing.T) {
	resp := "Here is the plan.\n```json\n{\"a\": 1}\n```\nAnd the code:\n```python\ndef f():\n    return 1\n```\n<invoke>f()</invoke>"

	tests := []struct {
		name  string
		langs []string
		want  string
		ok    bool
	}{
		{"python", []string{"python"}, "def f():\n    return 1", true},
		{"case insensitive", []string{"PYTHON"}, "def f():\n    return 1", true},
		{"json", []string{"json"}, `{"a": 1}`, true},
		{"fallback skips json", []string{"bash"}, "def f():\n    return 1", true},
		{"any", nil, "def f():\n    return 1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractCode(resp, tt.langs...)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ExtractCode(%v) = (%q, %v), want (%q, %v)", tt.langs, got, ok, tt.want, tt.ok)
			}
		})
	}

	if _, ok := ExtractCode("no code here"); ok {
		t.Error("expected no code block")
	}
}

func TestExtractInvoke(t *testing.T) {
	resp := "<invoke>draft()</invoke> then finally <invoke>\n  move_files(\"/tmp/a\", \"/tmp/b\")\n</invoke>"
	got, ok := ExtractInvoke(resp)
	if !ok || got != `move_files("/tmp/a", "/tmp/b")` {
		t.Errorf("ExtractInvoke() = (%q, %v)", got, ok)
	}
	if _, ok := ExtractInvoke("nothing"); ok {
		t.Error("expected no invoke tag")
	}
}

func TestExtractAction(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"<action>zip_files</action>", "zip_files", true},
		{"I pick <action> list_dir </action>.", "list_dir", true},
		{"<action>None</action>", "", false},
		{"<action></action>", "", false},
		{"no tag", "", false},
	}
	for _, tt := range tests {
		got, ok := ExtractAction(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ExtractAction(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestExtractJSON(t *testing.T) {
	var v struct {
		Reasoning string `json:"reasoning"`
		Judge     bool   `json:"judge"`
		Score     int    `json:"score"`
	}

	if err := ExtractJSON(`Sure. {"reasoning": "ok", "judge": true, "score": 8} Done.`, &v); err != nil {
		t.Fatalf("ExtractJSON: %v", err)
	}
	if !v.Judge || v.Score != 8 || v.Reasoning != "ok" {
		t.Errorf("unexpected decode: %+v", v)
	}

	// Braces in the reasoning prose must not confuse a fenced block.
	var m map[string]any
	resp := "Reasoning: use {placeholders}.\n```json\n{\"x\": {\"y\": 1}}\n```"
	if err := ExtractJSON(resp, &m); err != nil {
		t.Fatalf("ExtractJSON fenced: %v", err)
	}
	if _, ok := m["x"]; !ok {
		t.Errorf("expected key x, got %v", m)
	}

	if err := ExtractJSON("no json", &m); err == nil || !strings.Contains(err.Error(), "no JSON object") {
		t.Errorf("expected no JSON error, got %v", err)
	}
}

package genservice

import (
	"strings"
	"testing"
)

func TestRenderAllKinds(t *testing.T) {
	req := Request{
		Env: Env{
			SystemVersion: "Linux",
			WorkingDir:    "/work",
			Tools:         map[string]string{"zip": "compress files"},
			APIs:          map[string]string{"/weather": "current weather"},
		},
		Task:     "move the .txt files to archive",
		NodeName: "move_files",
		NodeType: "Shell",
		Prereqs:  map[string]PrereqInfo{"find_files": {Description: "find txt files", ReturnVal: "a.txt"}},
	}

	for _, kind := range PromptKinds {
		t.Run(string(kind), func(t *testing.T) {
			sys, user, err := Render(kind, req)
			if err != nil {
				t.Fatalf("Render(%s): %v", kind, err)
			}
			if sys == "" || user == "" {
				t.Errorf("Render(%s) returned empty prompt", kind)
			}
			if strings.Contains(user, "<no value>") || strings.Contains(sys, "<no value>") {
				t.Errorf("Render(%s) left an unresolved field", kind)
			}
		})
	}
}

func TestRenderIncludesContext(t *testing.T) {
	req := Request{
		Env:       Env{WorkingDir: "/work"},
		Task:      "count lines",
		NodeName:  "count_lines",
		Code:      "wc -l",
		Error:     "permission denied",
		Critique:  "output was empty",
		Prereqs:   map[string]PrereqInfo{"b": {ReturnVal: "2"}, "a": {ReturnVal: "1"}},
		NextTasks: []string{"report the count"},
	}

	_, amend, err := Render(KindSkillAmend, req)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"wc -l", "permission denied", "Critique: output was empty"} {
		if !strings.Contains(amend, want) {
			t.Errorf("amend prompt missing %q:\n%s", want, amend)
		}
	}
	if strings.Index(amend, "- a:") > strings.Index(amend, "- b:") {
		t.Error("prerequisites should be listed in name order")
	}

	_, judge, err := Render(KindJudge, req)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(judge, "- report the count") {
		t.Errorf("judge prompt missing next task:\n%s", judge)
	}
}

func TestRenderUnknownKind(t *testing.T) {
	if _, _, err := Render(PromptKind("course_design"), Request{}); err == nil {
		t.Error("expected error for unknown kind")
	}
}

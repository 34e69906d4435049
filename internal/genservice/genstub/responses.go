package genstub

import (
	"encoding/json"
	"fmt"
)

// Subtask is one entry of a scripted plan.
type Subtask struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Dependencies []string `json:"dependencies"`
	Type         string   `json:"type"`
}

// Plan renders subtasks the way the decompose and replan prompts expect.
func Plan(subtasks ...Subtask) string {
	m := make(map[string]Subtask, len(subtasks))
	for _, st := range subtasks {
		if st.Dependencies == nil {
			st.Dependencies = []string{}
		}
		m[st.Name] = st
	}
	b, _ := json.MarshalIndent(m, "", "  ")
	return "Reasoning: split into steps.\n```json\n" + string(b) + "\n```"
}

// Judge renders a judge verdict.
func Judge(ok bool, score int, reasoning string) string {
	b, _ := json.Marshal(map[string]any{"reasoning": reasoning, "judge": ok, "score": score})
	return string(b)
}

// Classify renders an error-analysis result.
func Classify(typ, reasoning string) string {
	b, _ := json.Marshal(map[string]any{"reasoning": reasoning, "type": typ})
	return string(b)
}

// Python renders a Python code block followed by an invocation tag.
func Python(code, invocation string) string {
	return fmt.Sprintf("```python\n%s\n```\n<invoke>%s</invoke>", code, invocation)
}

// Script renders a fenced script in the given language.
func Script(lang, code string) string {
	return fmt.Sprintf("```%s\n%s\n```", lang, code)
}

// Action renders a skill-filter answer.
func Action(name string) string {
	if name == "" {
		name = "None"
	}
	return "<action>" + name + "</action>"
}

package decompose

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/ShayCichocki/friday/internal/errs"
)

// Subtask is the JSON structure returned for a single subtask.
type Subtask struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Dependencies []string `json:"dependencies"`
	Type         string   `json:"type"`
}

var jsonFenceRe = regexp.MustCompile("(?s)```(?:json|JSON)?[ \t]*\r?\n(\\{.*?\\})\\s*```")

// ParseResponse parses a subtask map response, preserving the order in which
// subtasks appear. It does not validate types or dependencies; see Validate.
func ParseResponse(response string) ([]Subtask, error) {
	jsonStr := ""
	if m := jsonFenceRe.FindStringSubmatch(response); m != nil {
		jsonStr = m[1]
	} else {
		start := strings.Index(response, "{")
		end := strings.LastIndex(response, "}")
		if start == -1 || end <= start {
			preview := response
			if len(preview) > 500 {
				preview = preview[:500] + "... (truncated)"
			}
			return nil, errs.MalformedPlan([]string{fmt.Sprintf("no JSON object found in response (got %d chars): %q", len(response), preview)})
		}
		jsonStr = response[start : end+1]
	}

	subtasks, err := decodeOrdered(jsonStr)
	if err != nil {
		return nil, errs.MalformedPlan([]string{fmt.Sprintf("unmarshal JSON: %v", err)})
	}
	if len(subtasks) == 0 {
		return nil, errs.MalformedPlan([]string{"empty subtask list returned"})
	}
	return subtasks, nil
}

// decodeOrdered decodes {"key": subtask, ...} keeping key order. A subtask
// without a name takes its key.
func decodeOrdered(s string) ([]Subtask, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected a JSON object of subtasks")
	}

	var out []Subtask
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)
		var st Subtask
		if err := dec.Decode(&st); err != nil {
			return nil, fmt.Errorf("subtask %q: %w", key, err)
		}
		st.Name = strings.TrimSpace(st.Name)
		if st.Name == "" {
			st.Name = strings.TrimSpace(key)
		}
		st.Description = strings.TrimSpace(st.Description)
		st.Dependencies = trimAll(st.Dependencies)
		out = append(out, st)
	}
	if _, err := dec.Token(); err != nil && err != io.EOF {
		return nil, err
	}
	return out, nil
}

func trimAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

package genservice

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	fenceRe  = regexp.MustCompile("(?s)```([A-Za-z0-9_+-]*)[ \t]*\r?\n(.*?)```")
	invokeRe = regexp.MustCompile(`(?s)<invoke>(.*?)</invoke>`)
	actionRe = regexp.MustCompile(`(?s)<action>(.*?)</action>`)
)

// ExtractCode returns the body of the first fenced code block tagged with one
// of langs (case-insensitive). With no langs, or when no tagged block
// matches, the first fenced block of any language is returned.
func ExtractCode(response string, langs ...string) (string, bool) {
	matches := fenceRe.FindAllStringSubmatch(response, -1)
	if len(matches) == 0 {
		return "", false
	}
	for _, m := range matches {
		for _, lang := range langs {
			if strings.EqualFold(m[1], lang) {
				return strings.TrimSpace(m[2]), true
			}
		}
	}
	for _, m := range matches {
		if !strings.EqualFold(m[1], "json") {
			return strings.TrimSpace(m[2]), true
		}
	}
	return "", false
}

// ExtractInvoke returns the content of the last <invoke> tag.
func ExtractInvoke(response string) (string, bool) {
	matches := invokeRe.FindAllStringSubmatch(response, -1)
	if len(matches) == 0 {
		return "", false
	}
	return strings.TrimSpace(matches[len(matches)-1][1]), true
}

// ExtractAction returns the content of the first <action> tag.
// "None" and an empty tag report no action.
func ExtractAction(response string) (string, bool) {
	m := actionRe.FindStringSubmatch(response)
	if m == nil {
		return "", false
	}
	action := strings.TrimSpace(m[1])
	if action == "" || strings.EqualFold(action, "none") {
		return "", false
	}
	return action, true
}

// ExtractJSON finds a JSON object in response and decodes it into target.
// A ```json fenced block takes precedence over bare braces in prose.
func ExtractJSON(response string, target any) error {
	candidate := ""
	for _, m := range fenceRe.FindAllStringSubmatch(response, -1) {
		if strings.EqualFold(m[1], "json") {
			candidate = m[2]
			break
		}
	}
	if candidate == "" {
		start := strings.Index(response, "{")
		end := strings.LastIndex(response, "}")
		if start == -1 || end <= start {
			return fmt.Errorf("no JSON object found in response: %s", truncate(response, 200))
		}
		candidate = response[start : end+1]
	}

	if err := json.Unmarshal([]byte(candidate), target); err != nil {
		return fmt.Errorf("parse JSON: %w (response: %s)", err, truncate(candidate, 200))
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// ExtractSkill pulls the code body for a node type label and, for Python
// and API nodes, the invocation. ok is false when no code block is found.
func ExtractSkill(response, nodeType string) (code, invocation string, ok bool) {
	langs := codeLanguages(nodeType)
	code, ok = ExtractCode(response, langs...)
	if !ok {
		return "", "", false
	}
	if langs[0] == "python" {
		invocation, _ = ExtractInvoke(response)
	}
	return code, invocation, true
}

func codeLanguages(nodeType string) []string {
	switch strings.ToLower(nodeType) {
	case "shell":
		return []string{"shell", "bash", "sh"}
	case "applescript":
		return []string{"applescript", "osascript"}
	default:
		return []string{"python", "py"}
	}
}

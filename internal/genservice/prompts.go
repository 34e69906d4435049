package genservice

import (
	"fmt"
	"sort"
	"strings"
	"text/template"
)

// prompt is a system/user template pair for one PromptKind.
type prompt struct {
	system *template.Template
	user   *template.Template
}

const systemPreamble = `You are an assistant that operates a computer on the user's behalf by writing and running small programs.
System version: {{.SystemVersion}}. Working directory: {{.WorkingDir}}.`

const decomposeSystem = `You break a task into the smallest set of subtasks that can each be completed by one of these types:
- Python: a Python function with an invocation that prints or returns its result.
- Shell: a shell script.
- AppleScript: an AppleScript run through osascript.
- API: Python code that calls one of the listed APIs.
- QA: a question answered directly from the results of earlier subtasks.

Rules:
1. Subtask names are abstract and reusable: describe the operation, never the literal files, paths or values of this task.
2. Subtask descriptions keep every concrete detail from the task (paths, names, values) so the subtask is self-contained.
3. Dependencies name only subtasks in your answer. Do not create cycles.
4. If a subtask needs an API from the API list, its type is API.

First explain your reasoning, then output a single json block:
` + "```json" + `
{"subtask_name": {"name": "subtask_name", "description": "...", "dependencies": ["other_subtask"], "type": "Python"}}
` + "```"

const decomposeUser = `Task: {{.Task}}
Working directory: {{.WorkingDir}}
Files and folders in the working directory:
{{.FilesAndFolders}}
Available tools:
{{kv .Tools}}
Available APIs:
{{kv .APIs}}`

const replanSystem = `A subtask failed because the environment lacks something it needs. Propose new subtasks that must run before it.
Types are Code, API and QA. Keep names abstract and descriptions concrete, as in the original plan.
Dependencies name only new subtasks or already completed subtasks.

First explain your reasoning, then output a single json block:
` + "```json" + `
{"new_subtask": {"name": "new_subtask", "description": "...", "dependencies": [], "type": "Code"}}
` + "```"

const replanUser = `Current subtask: {{.NodeName}}
Description: {{.Task}}
Why it failed: {{.Reasoning}}
Completed subtasks:
{{prereqs .Prereqs}}
Working directory: {{.WorkingDir}}
Files and folders:
{{.FilesAndFolders}}
Available tools:
{{kv .Tools}}`

const skillCreateSystem = systemPreamble + `
Write a {{.NodeType}} script that completes the task. The script must be general: take paths and values as parameters
or variables at the top, never hard-code them inside the logic. Output exactly one fenced code block.`

const skillCreateUser = `Task name: {{.NodeName}}
Task description: {{.Task}}
Working directory: {{.WorkingDir}}
Files and folders:
{{.FilesAndFolders}}
{{- if .RelevantCode}}
Related code you may reuse:
{{.RelevantCode}}
{{- end}}`

const skillCreateInvokeSystem = systemPreamble + `
Write a Python function named after the task that completes it, followed by a call to it.
The function takes concrete values as parameters and returns its result. Output the function in one
` + "```python```" + ` block, then the exact call that runs it inside <invoke></invoke> tags.
Use the results of prerequisite tasks as arguments when the description needs them.`

const skillCreateInvokeUser = `Task name: {{.NodeName}}
Task description: {{.Task}}
Prerequisite tasks:
{{prereqs .Prereqs}}
Working directory: {{.WorkingDir}}
Current working directory: {{.CurrentWorkingDir}}
Files and folders:
{{.FilesAndFolders}}
{{- if .RelevantCode}}
Related code you may reuse:
{{.RelevantCode}}
{{- end}}`

const skillAmendSystem = systemPreamble + `
Previously written code for a task did not work. Fix it while keeping its name and parameters.
Output the corrected code in one fenced block and, for Python, the call inside <invoke></invoke> tags.`

const skillAmendUser = `Task name: {{.NodeName}}
Task description: {{.Task}}
Original code:
{{.Code}}
{{- if .Invocation}}
Original invocation: {{.Invocation}}
{{- end}}
Output: {{.Output}}
Error: {{.Error}}
{{- if .Critique}}
Critique: {{.Critique}}
{{- end}}
Prerequisite tasks:
{{prereqs .Prereqs}}
Working directory: {{.WorkingDir}}
Files and folders:
{{.FilesAndFolders}}`

const judgeSystem = `You check whether code completed its task. Consider the code, its output, the working directory and
the tasks that depend on this one: if a later task needs a value from this one, the output must provide it.
Score how general and reusable the code is from 1 to 10.
Answer with json: {"reasoning": "...", "judge": true, "score": 7}`

const judgeUser = `Task name: {{.NodeName}}
Task description: {{.Task}}
Code:
{{.Code}}
Output: {{.Output}}
Working directory: {{.WorkingDir}}
Files and folders:
{{.FilesAndFolders}}
{{- if .NextTasks}}
Next tasks:
{{range .NextTasks}}- {{.}}
{{end}}
{{- end}}`

const errorAnalysisSystem = `Code for a task failed. Decide how to repair it:
- "amend" when the fault lies in the code itself (syntax, logic, wrong types, wrong paths).
- "replan" when the environment is missing something the code needs (a package, a permission, a tool, a version).
Answer with json: {"reasoning": "...", "type": "amend"}`

const errorAnalysisUser = `Task name: {{.NodeName}}
Task description: {{.Task}}
Code:
{{.Code}}
Output: {{.Output}}
Error: {{.Error}}
Working directory: {{.WorkingDir}}
Files and folders:
{{.FilesAndFolders}}`

const toolUsageSystem = systemPreamble + `
Write Python that completes the task by calling one of the listed APIs over HTTP with the tool request
helper, then print the useful part of the response. Output one ` + "```python```" + ` block and the
call inside <invoke></invoke> tags.`

const toolUsageUser = `Task name: {{.NodeName}}
Task description: {{.Task}}
Available APIs:
{{kv .APIs}}
Prerequisite tasks:
{{prereqs .Prereqs}}`

const qaSystem = `Answer the question using the results of the prerequisite tasks. Be concise and factual.`

const qaUser = `Question: {{.Task}}
Prerequisite tasks:
{{prereqs .Prereqs}}`

const skillFilterSystem = `You are given a task and a list of existing skills. If one skill already does exactly what the task needs,
answer with its name inside <action></action> tags. Otherwise answer <action>None</action>.`

const skillFilterUser = `Task name: {{.NodeName}}
Task description: {{.Task}}
Task type: {{.NodeType}}
Skills:
{{kv .Candidates}}`

var funcs = template.FuncMap{
	"kv":      formatKV,
	"prereqs": formatPrereqs,
}

var prompts = map[PromptKind]prompt{
	KindDecompose:         newPrompt(decomposeSystem, decomposeUser),
	KindReplan:            newPrompt(replanSystem, replanUser),
	KindSkillCreate:       newPrompt(skillCreateSystem, skillCreateUser),
	KindSkillCreateInvoke: newPrompt(skillCreateInvokeSystem, skillCreateInvokeUser),
	KindSkillAmend:        newPrompt(skillAmendSystem, skillAmendUser),
	KindJudge:             newPrompt(judgeSystem, judgeUser),
	KindErrorAnalysis:     newPrompt(errorAnalysisSystem, errorAnalysisUser),
	KindToolUsage:         newPrompt(toolUsageSystem, toolUsageUser),
	KindQA:                newPrompt(qaSystem, qaUser),
	KindSkillFilter:       newPrompt(skillFilterSystem, skillFilterUser),
}

func newPrompt(system, user string) prompt {
	return prompt{
		system: template.Must(template.New("system").Funcs(funcs).Parse(system)),
		user:   template.Must(template.New("user").Funcs(funcs).Parse(user)),
	}
}

// Render returns the system and user prompt text for kind.
func Render(kind PromptKind, req Request) (system, user string, err error) {
	p, ok := prompts[kind]
	if !ok {
		return "", "", fmt.Errorf("unknown prompt kind %q", kind)
	}

	var sys, usr strings.Builder
	if err := p.system.Execute(&sys, req); err != nil {
		return "", "", fmt.Errorf("render %s system prompt: %w", kind, err)
	}
	if err := p.user.Execute(&usr, req); err != nil {
		return "", "", fmt.Errorf("render %s prompt: %w", kind, err)
	}
	return sys.String(), usr.String(), nil
}

func formatKV(m map[string]string) string {
	if len(m) == 0 {
		return "(none)"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "- %s: %s\n", k, m[k])
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatPrereqs(m map[string]PrereqInfo) string {
	if len(m) == 0 {
		return "(none)"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "- %s: %s\n  return value: %s\n", k, m[k].Description, m[k].ReturnVal)
	}
	return strings.TrimRight(sb.String(), "\n")
}

package validation

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/josephgoksu/TriageWing/internal/finding"
)

const issuePromptTemplate = `You are a C/C++ static analysis and security expert.
A tool ({{.Analyzer}}) found a *potential* security issue:

- Issue: {{.Title}}
- Description: {{.Description}}
- File: {{.File}}:{{.Line}}
- Severity (Reported): {{.Severity}}
- Category: {{.Category}}

Below is the code context (the enclosing function) where the issue was found:
` + "```c" + `
{{.Code}}
` + "```" + `

Decide whether this is a real, exploitable vulnerability or a false positive.

Consider:
- Buffer sizes and bounds checks
- Null pointer checks
- Data flow from untrusted input
- Input validation and error handling
- Mitigations visible in the surrounding code

Example (real vulnerability):
{"is_vulnerability": true, "reason": "strcpy copies user input into a 64-byte buffer without a length check", "suggested_severity": "Critical"}

Example (false positive):
{"is_vulnerability": false, "reason": "Input length is checked on line 15 before the copy on line 18", "suggested_severity": "Info"}

Respond ONLY with JSON in this format:
{"is_vulnerability": true/false, "reason": "technical explanation", "suggested_severity": "Critical/High/Medium/Low/Info"}
`

var issuePrompt = template.Must(template.New("issue").Parse(issuePromptTemplate))

type promptData struct {
	Analyzer    string
	Title       string
	Description string
	File        string
	Line        int
	Severity    finding.Severity
	Category    string
	Code        string
}

// buildPrompt renders the validation prompt for f with its code context.
func buildPrompt(f finding.Finding, code string) (string, error) {
	data := promptData{
		Analyzer:    f.Analyzer,
		Title:       f.Title,
		Description: f.Description,
		File:        f.Location.FilePath,
		Line:        f.Location.Line,
		Severity:    f.Severity,
		Category:    f.Category,
		Code:        code,
	}
	if data.Category == "" {
		data.Category = "UNKNOWN"
	}

	var buf bytes.Buffer
	if err := issuePrompt.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}

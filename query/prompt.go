package query

import (
	"strings"
	"text/template"
)

var (
	groundedPrompt = template.Must(template.New("grounded").Parse(
		`You are a helpful assistant for the {{.Department}} department.
Answer the question using only the context below. If the context does not
contain the answer, say that you don't know rather than guessing. Mention the
source documents you relied on.

Context:
{{.Context}}

Question: {{.Question}}

Answer:`))

	generalPrompt = template.Must(template.New("general").Parse(
		`You are a helpful assistant for the {{.Department}} department.
No internal documents matched this question. Answer from general knowledge and
state clearly that the answer is not based on company documents and may be
uncertain.

Question: {{.Question}}

Answer:`))
)

type promptData struct {
	Department string
	Context    string
	Question   string
}

// buildPrompt picks the grounded prompt when there is context and the
// general-knowledge prompt otherwise. It reports which one it used.
func buildPrompt(question, department, context string) (string, bool, error) {
	tmpl := generalPrompt
	grounded := strings.TrimSpace(context) != ""
	if grounded {
		tmpl = groundedPrompt
	}
	var b strings.Builder
	err := tmpl.Execute(&b, promptData{Department: department, Context: context, Question: question})
	if err != nil {
		return "", grounded, err
	}
	return b.String(), grounded, nil
}

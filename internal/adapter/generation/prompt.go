package generation

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed templates/*.txt
var promptTemplates embed.FS

var answerTemplate = template.Must(template.ParseFS(promptTemplates, "templates/answer.txt"))

// PromptData holds the values rendered into the answer prompt.
type PromptData struct {
	Question string
	Context  string
}

// RenderPrompt builds the answer prompt. Without context the question is sent
// as is.
func RenderPrompt(question, context string) (string, error) {
	if strings.TrimSpace(context) == "" {
		return question, nil
	}

	var buf bytes.Buffer
	if err := answerTemplate.Execute(&buf, PromptData{Question: question, Context: context}); err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

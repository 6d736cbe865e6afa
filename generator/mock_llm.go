package generator

import (
	"context"
	"html"
	"strings"
)

// MockLLM 一个简单的占位实现，便于本地调试，不调用外部模型。
type MockLLM struct{}

func (m MockLLM) Complete(_ context.Context, prompt Prompt) (string, error) {
	// Improve requests echo the content back unchanged.
	if strings.HasPrefix(prompt.System, improveInstruction) {
		return prompt.User, nil
	}
	if strings.Contains(prompt.System, "Start with <!DOCTYPE html>") {
		var sb strings.Builder
		sb.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n<meta charset=\"utf-8\">\n")
		sb.WriteString("<title>Generated preview</title>\n")
		sb.WriteString("<script src=\"https://cdn.tailwindcss.com\"></script>\n</head>\n")
		sb.WriteString("<body class=\"min-h-screen bg-gray-50 flex items-center justify-center\">\n")
		sb.WriteString("<main class=\"max-w-2xl p-8 bg-white rounded-2xl shadow\">\n<h1 class=\"text-2xl font-bold\">")
		sb.WriteString(html.EscapeString(prompt.User))
		sb.WriteString("</h1>\n<p class=\"mt-4 text-gray-500\">Offline mock output.</p>\n</main>\n</body>\n</html>\n")
		return sb.String(), nil
	}
	var sb strings.Builder
	sb.WriteString("# Generated draft\n\n")
	sb.WriteString("Offline mock output for the request below.\n\n")
	sb.WriteString("```\n")
	sb.WriteString(prompt.User)
	sb.WriteString("\n```\n")
	return sb.String(), nil
}

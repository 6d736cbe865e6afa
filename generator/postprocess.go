package generator

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Classify is a prefix heuristic, not an HTML parser: text counts as an HTML
// document only when, after trimming surrounding whitespace, it starts with
// "<!DOCTYPE" or "<html" (case-sensitive). Valid HTML without one of those
// prefixes is reported as plain text.
func Classify(text string) ContentKind {
	t := strings.TrimSpace(text)
	if strings.HasPrefix(t, "<!DOCTYPE") || strings.HasPrefix(t, "<html") {
		return ContentHTMLDocument
	}
	return ContentPlainText
}

// PostProcess 校验模型原始输出并构造 req 对应的结果，文本原样保留。
func PostProcess(raw string, req GenerationRequest, now time.Time) (GenerationResult, error) {
	if strings.TrimSpace(raw) == "" {
		return GenerationResult{}, MalformedError("model returned empty content")
	}
	return GenerationResult{
		ID:          uuid.NewString(),
		Text:        raw,
		ContentKind: Classify(raw),
		Request:     req,
		CreatedAt:   now,
	}, nil
}

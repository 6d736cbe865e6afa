// Package preview turns a generation result into a standalone HTML page for
// the browser preview and for download.
package preview

import (
	"bytes"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"webforge/generator"
)

// DefaultFileName is the name offered for downloads.
const DefaultFileName = "generated-code.html"

var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithParserOptions(parser.WithAutoHeadingID()),
	// Emails and letters rely on single line breaks.
	goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
)

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>%s</title>
<style>
body{font-family:Inter,system-ui,sans-serif;max-width:760px;margin:2.5rem auto;padding:0 1.25rem;line-height:1.65;color:#1f2937}
pre{background:#0f172a;color:#e2e8f0;padding:1rem;border-radius:.5rem;overflow-x:auto}
code{font-family:ui-monospace,SFMono-Regular,Menlo,monospace;font-size:.9em}
table{border-collapse:collapse}td,th{border:1px solid #e5e7eb;padding:.4rem .6rem}
blockquote{border-left:3px solid #e5e7eb;margin-left:0;padding-left:1rem;color:#4b5563}
</style>
</head>
<body>
%s</body>
</html>
`

// Render returns the page for res. HTML documents are returned unchanged;
// everything else is rendered as Markdown, code mode as one code block.
func Render(res generator.GenerationResult) (string, error) {
	if res.ContentKind == generator.ContentHTMLDocument {
		return res.Text, nil
	}
	src := res.Text
	if res.Request.Mode == generator.ModeCode && !strings.HasPrefix(strings.TrimSpace(src), "```") {
		src = "```\n" + strings.TrimRight(src, "\n") + "\n```\n"
	}
	body, err := toHTML(src)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(pageTemplate, html.EscapeString(title(res)), body), nil
}

func toHTML(src string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}

func title(res generator.GenerationResult) string {
	t := strings.TrimSpace(res.Request.PromptText)
	if r := []rune(t); len(r) > 60 {
		t = string(r[:60])
	}
	if t == "" {
		return "Generated " + string(res.Request.Mode)
	}
	return t
}

// Export writes the rendered page to path, creating parent directories.
func Export(path string, res generator.GenerationResult) error {
	page, err := Render(res)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(page), 0o644)
}

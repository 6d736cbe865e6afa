package generator

import (
	"fmt"
	"strings"
)

// Prompt 表示发送给 LLM 的内容：指令加上用户原文。
type Prompt struct {
	System string
	User   string
	// Model overrides the client's default model when set.
	Model string
	// Temperature is left to the provider default when nil.
	Temperature *float64
}

var modeInstructions = map[Mode]string{
	ModeWebsite: `You are an elite frontend architect. Build a production-grade, single-file HTML/CSS/JS website.
Rules:
1. Output ONLY valid HTML. Start with <!DOCTYPE html>.
2. Use Tailwind CSS via CDN: <script src="https://cdn.tailwindcss.com"></script>.
3. Use FontAwesome for icons: <link rel="stylesheet" href="https://cdnjs.cloudflare.com/ajax/libs/font-awesome/6.0.0/css/all.min.css" />.
4. Clean design: generous whitespace, subtle borders, modern typography (Inter), a consistent color palette.
5. Make it fully responsive.
6. No Markdown code fences. Just the raw HTML string.`,
	ModeEmail: `You are a professional copywriter. Write a complete, ready-to-send email.
Rules:
1. Start with a subject line prefixed by "Subject:".
2. Use a greeting, a concise body and a sign-off.
3. Output plain text only, no Markdown code fences.`,
	ModeBlog: `You are an experienced blog author. Write a complete blog post in Markdown.
Rules:
1. Start with a level-one heading as the title.
2. Open with a short summary paragraph.
3. Organize the body with subheadings and lists where they help the reader.`,
	ModeCode: `You are a senior software engineer. Produce working, idiomatic code for the request.
Rules:
1. Output only the code with brief comments where needed.
2. No prose before or after the code.`,
}

const (
	variationInstruction = "Produce a noticeably different variation from any previous answer to the same request: change layout, wording and structure while still meeting every rule."
	improveInstruction   = `You are a meticulous editor. Enhance and polish the content below.
Rules:
1. Preserve its structure and format exactly (HTML stays a complete HTML document, Markdown stays Markdown).
2. Improve wording, visual polish and consistency; fix errors.
3. Output only the improved content, no explanations and no Markdown code fences.`
)

// ModeInstruction returns the fixed instruction text for mode.
func ModeInstruction(mode Mode) string {
	if s, ok := modeInstructions[mode]; ok {
		return s
	}
	return modeInstructions[ModeWebsite]
}

func writeModifiers(sb *strings.Builder, tone Tone, lang Language) {
	if tone != ToneNone {
		sb.WriteString(fmt.Sprintf("\n- Tone: %s.", tone))
	}
	if lang != LanguageNone {
		sb.WriteString(fmt.Sprintf("\n- Write all user-facing text in %s.", titleCase(string(lang))))
	}
}

// BuildInitialPrompt 把 mode 指令和 tone/language 修饰合成一条指令，
// 用户原文单独传递。
func BuildInitialPrompt(req GenerationRequest) Prompt {
	var sb strings.Builder
	sb.WriteString(ModeInstruction(req.Mode))
	writeModifiers(&sb, req.Tone, req.Language)
	return Prompt{
		System: sb.String(),
		User:   req.PromptText,
		Model:  req.Model,
	}
}

// BuildVariationPrompt 对同一请求要求一个不同的版本。
func BuildVariationPrompt(req GenerationRequest, temperature float64) Prompt {
	p := BuildInitialPrompt(req)
	p.System += "\n\n" + variationInstruction
	t := temperature
	p.Temperature = &t
	return p
}

// BuildImprovePrompt 把上一次结果送回模型润色。
func BuildImprovePrompt(result GenerationResult) Prompt {
	var sb strings.Builder
	sb.WriteString(improveInstruction)
	writeModifiers(&sb, result.Request.Tone, result.Request.Language)
	return Prompt{
		System: sb.String(),
		User:   result.Text,
		Model:  result.Request.Model,
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

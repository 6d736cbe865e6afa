package generator

import (
	"fmt"
	"strings"
	"time"
)

// Mode 决定让模型产出哪一类 artifact。
type Mode string

const (
	ModeWebsite Mode = "website"
	ModeEmail   Mode = "email"
	ModeBlog    Mode = "blog"
	ModeCode    Mode = "code"
)

// Tone 是可选的语气修饰，附加在 mode 指令之后。
type Tone string

const (
	ToneNone         Tone = ""
	ToneProfessional Tone = "professional"
	ToneCasual       Tone = "casual"
	ToneFriendly     Tone = "friendly"
	ToneFormal       Tone = "formal"
	TonePersuasive   Tone = "persuasive"
	ToneHumorous     Tone = "humorous"
)

// Language 是可选的输出语言修饰。
type Language string

const (
	LanguageNone       Language = ""
	LanguageEnglish    Language = "english"
	LanguageSpanish    Language = "spanish"
	LanguageFrench     Language = "french"
	LanguageGerman     Language = "german"
	LanguageItalian    Language = "italian"
	LanguagePortuguese Language = "portuguese"
	LanguageChinese    Language = "chinese"
	LanguageJapanese   Language = "japanese"
)

var (
	knownModes     = []Mode{ModeWebsite, ModeEmail, ModeBlog, ModeCode}
	knownTones     = []Tone{ToneProfessional, ToneCasual, ToneFriendly, ToneFormal, TonePersuasive, ToneHumorous}
	knownLanguages = []Language{LanguageEnglish, LanguageSpanish, LanguageFrench, LanguageGerman, LanguageItalian, LanguagePortuguese, LanguageChinese, LanguageJapanese}
)

// ParseMode accepts a mode name case-insensitively; empty selects website.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ModeWebsite, nil
	}
	for _, m := range knownModes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

func ParseTone(s string) (Tone, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ToneNone, nil
	}
	for _, t := range knownTones {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown tone %q", s)
}

func ParseLanguage(s string) (Language, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return LanguageNone, nil
	}
	for _, l := range knownLanguages {
		if string(l) == s {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown language %q", s)
}

// GenerationConfig 是随 prompt 一起提交的用户配置。
type GenerationConfig struct {
	Mode     Mode     `json:"mode"`
	Tone     Tone     `json:"tone,omitempty"`
	Language Language `json:"language,omitempty"`
	// Model overrides the provider's default model when set.
	Model string `json:"model,omitempty"`
}

// Normalize fills the default mode and validates the enums.
func (c GenerationConfig) Normalize() (GenerationConfig, error) {
	mode, err := ParseMode(string(c.Mode))
	if err != nil {
		return GenerationConfig{}, err
	}
	tone, err := ParseTone(string(c.Tone))
	if err != nil {
		return GenerationConfig{}, err
	}
	lang, err := ParseLanguage(string(c.Language))
	if err != nil {
		return GenerationConfig{}, err
	}
	return GenerationConfig{Mode: mode, Tone: tone, Language: lang, Model: strings.TrimSpace(c.Model)}, nil
}

// GenerationRequest 在提交时创建，发出后不再修改。
type GenerationRequest struct {
	PromptText string   `json:"prompt_text"`
	Mode       Mode     `json:"mode"`
	Tone       Tone     `json:"tone,omitempty"`
	Language   Language `json:"language,omitempty"`
	Model      string   `json:"model,omitempty"`
	Variation  bool     `json:"variation,omitempty"`
}

// Config returns the configuration part of the request.
func (r GenerationRequest) Config() GenerationConfig {
	return GenerationConfig{Mode: r.Mode, Tone: r.Tone, Language: r.Language, Model: r.Model}
}

// ContentKind tells the preview whether the text can be rendered as a page.
type ContentKind string

const (
	ContentHTMLDocument ContentKind = "html_document"
	ContentPlainText    ContentKind = "plain_text"
)

// GenerationResult 是一次请求的模型产出。
type GenerationResult struct {
	ID          string            `json:"id"`
	Text        string            `json:"text"`
	ContentKind ContentKind       `json:"content_kind"`
	Request     GenerationRequest `json:"request"`
	CreatedAt   time.Time         `json:"created_at"`
}

// HistoryEntry 记录一次历史 prompt 及其结果。
type HistoryEntry struct {
	ID     string           `json:"id"`
	Result GenerationResult `json:"result"`
}

// SavedPrompt 用户收藏的 prompt。
type SavedPrompt struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Mode      Mode      `json:"mode"`
	Tone      Tone      `json:"tone,omitempty"`
	Language  Language  `json:"language,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Preferences are remembered between runs.
type Preferences struct {
	Tone     Tone     `json:"tone,omitempty"`
	Language Language `json:"language,omitempty"`
}

// PersistedState 是 session 写入本地存储的全部内容。
type PersistedState struct {
	History     []HistoryEntry `json:"history"`
	Saved       []SavedPrompt  `json:"saved"`
	Preferences Preferences    `json:"preferences"`
}

package generator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultHistoryCapacity      = 20
	MaxHistoryCapacity          = 30
	DefaultSavedCapacity        = 10
	DefaultVariationTemperature = 1.2
)

// StateStore is the client-local persistence behind a session. Load is
// called once when the session starts; Save receives the full state after
// every mutation.
type StateStore interface {
	Load(ctx context.Context) (PersistedState, error)
	Save(ctx context.Context, state PersistedState) error
}

// SessionConfig holds the limits injected at construction.
type SessionConfig struct {
	HistoryCapacity      int
	SavedCapacity        int
	VariationTemperature float64
}

func (c SessionConfig) normalized() SessionConfig {
	switch {
	case c.HistoryCapacity <= 0:
		c.HistoryCapacity = DefaultHistoryCapacity
	case c.HistoryCapacity > MaxHistoryCapacity:
		c.HistoryCapacity = MaxHistoryCapacity
	}
	if c.SavedCapacity <= 0 || c.SavedCapacity > DefaultSavedCapacity {
		c.SavedCapacity = DefaultSavedCapacity
	}
	if c.VariationTemperature <= 0 {
		c.VariationTemperature = DefaultVariationTemperature
	}
	return c
}

// Session 持有一个用户的 prompt、生成配置、当前结果以及持久化的历史/收藏。
// 同一时间最多只有一次生成；生成进行中再次调用会返回 ErrBusy。
type Session struct {
	ID string

	agent  *Agent
	store  StateStore
	cfg    SessionConfig
	logger *zap.Logger
	now    func() time.Time

	inFlight atomic.Bool

	mu         sync.Mutex
	promptText string
	config     GenerationConfig
	current    *GenerationResult
	lastErr    *GenerationError
	history    []HistoryEntry
	saved      []SavedPrompt
	prefs      Preferences
}

// SessionView is a copy of the session state for rendering.
type SessionView struct {
	ID          string            `json:"id"`
	PromptText  string            `json:"prompt_text"`
	Config      GenerationConfig  `json:"config"`
	Current     *GenerationResult `json:"current,omitempty"`
	LastError   *GenerationError  `json:"last_error,omitempty"`
	InFlight    bool              `json:"in_flight"`
	History     []HistoryEntry    `json:"history"`
	Saved       []SavedPrompt     `json:"saved"`
	Preferences Preferences       `json:"preferences"`
}

// NewSession 从 store 读取持久化状态，默认 website 模式并恢复 tone/language。
func NewSession(ctx context.Context, agent *Agent, store StateStore, cfg SessionConfig, logger *zap.Logger) (*Session, error) {
	if agent == nil {
		return nil, fmt.Errorf("generator agent required")
	}
	if store == nil {
		return nil, fmt.Errorf("state store required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.normalized()

	state, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load session state: %w", err)
	}
	s := &Session{
		ID:      uuid.NewString(),
		agent:   agent,
		store:   store,
		cfg:     cfg,
		logger:  logger.Named("session"),
		now:     time.Now,
		history: state.History,
		saved:   state.Saved,
		prefs:   state.Preferences,
		config: GenerationConfig{
			Mode:     ModeWebsite,
			Tone:     state.Preferences.Tone,
			Language: state.Preferences.Language,
		},
	}
	if len(s.history) > cfg.HistoryCapacity {
		s.history = s.history[:cfg.HistoryCapacity]
	}
	if len(s.saved) > cfg.SavedCapacity {
		s.saved = s.saved[:cfg.SavedCapacity]
	}
	return s, nil
}

// Submit 校验 promptText 并按 cfg 生成一次。
func (s *Session) Submit(ctx context.Context, promptText string, cfg GenerationConfig) (GenerationResult, error) {
	if strings.TrimSpace(promptText) == "" {
		return GenerationResult{}, s.fail(newError(KindEmptyPrompt, "please enter a prompt", nil))
	}
	cfg, err := cfg.Normalize()
	if err != nil {
		return GenerationResult{}, err
	}
	if !s.acquire() {
		return GenerationResult{}, newError(KindBusy, "a generation is already in flight", nil)
	}
	defer s.release()

	req := GenerationRequest{
		PromptText: promptText,
		Mode:       cfg.Mode,
		Tone:       cfg.Tone,
		Language:   cfg.Language,
		Model:      cfg.Model,
	}
	s.mu.Lock()
	s.promptText = promptText
	s.config = cfg
	s.current = nil
	s.lastErr = nil
	s.mu.Unlock()

	return s.run(ctx, req, BuildInitialPrompt(req), true)
}

// SubmitCurrent submits the prompt and config currently held by the session.
func (s *Session) SubmitCurrent(ctx context.Context) (GenerationResult, error) {
	s.mu.Lock()
	prompt, cfg := s.promptText, s.config
	s.mu.Unlock()
	return s.Submit(ctx, prompt, cfg)
}

// RegenerateVariation 基于 previous 生成不同版本，新结果成功前保留当前结果。
func (s *Session) RegenerateVariation(ctx context.Context, previous GenerationRequest) (GenerationResult, error) {
	if strings.TrimSpace(previous.PromptText) == "" {
		return GenerationResult{}, s.fail(newError(KindEmptyPrompt, "nothing to regenerate", nil))
	}
	if !s.acquire() {
		return GenerationResult{}, newError(KindBusy, "a generation is already in flight", nil)
	}
	defer s.release()

	req := previous
	req.Variation = true
	return s.run(ctx, req, BuildVariationPrompt(req, s.cfg.VariationTemperature), true)
}

// Improve 润色当前结果。失败时当前结果不变；成功后直接替换，不写历史。
func (s *Session) Improve(ctx context.Context) (GenerationResult, error) {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur == nil {
		return GenerationResult{}, s.fail(newError(KindNoResult, "generate something before improving it", nil))
	}
	if !s.acquire() {
		return GenerationResult{}, newError(KindBusy, "a generation is already in flight", nil)
	}
	defer s.release()

	return s.run(ctx, cur.Request, BuildImprovePrompt(*cur), false)
}

func (s *Session) run(ctx context.Context, req GenerationRequest, prompt Prompt, record bool) (GenerationResult, error) {
	s.logger.Info("dispatching generation",
		zap.String("mode", string(req.Mode)),
		zap.Bool("variation", req.Variation),
		zap.Int("prompt_length", len(req.PromptText)),
	)
	text, err := s.agent.Complete(ctx, prompt)
	if err != nil {
		return GenerationResult{}, s.fail(err)
	}
	res, err := PostProcess(text, req, s.now())
	if err != nil {
		return GenerationResult{}, s.fail(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = &res
	s.lastErr = nil
	if record {
		s.history = pushHistory(s.history, HistoryEntry{ID: uuid.NewString(), Result: res}, s.cfg.HistoryCapacity)
		if err := s.store.Save(ctx, s.stateLocked()); err != nil {
			// The result is still valid for this run.
			s.logger.Warn("persist history failed", zap.Error(err))
		}
	}
	return res, nil
}

func (s *Session) fail(err error) error {
	ge := AsGenerationError(err)
	if ge.OccurredAt.IsZero() {
		ge.OccurredAt = s.now()
	}
	s.mu.Lock()
	s.lastErr = ge
	s.mu.Unlock()
	s.logger.Warn("generation failed", zap.String("kind", string(ge.Kind)), zap.Error(ge))
	return ge
}

func (s *Session) acquire() bool {
	return s.inFlight.CompareAndSwap(false, true)
}

func (s *Session) release() {
	s.inFlight.Store(false)
}

// InFlight reports whether a generation is running.
func (s *Session) InFlight() bool {
	return s.inFlight.Load()
}

// SetPrompt records prompt edits without sending anything.
func (s *Session) SetPrompt(text string) {
	s.mu.Lock()
	s.promptText = text
	s.mu.Unlock()
}

// SetConfig changes the active mode/tone/language/model.
func (s *Session) SetConfig(cfg GenerationConfig) error {
	cfg, err := cfg.Normalize()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.config = cfg
	s.mu.Unlock()
	return nil
}

// SetPreferences persists the default tone and language and applies them.
func (s *Session) SetPreferences(ctx context.Context, tone Tone, lang Language) error {
	cfg, err := GenerationConfig{Mode: ModeWebsite, Tone: tone, Language: lang}.Normalize()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.prefs
	s.prefs = Preferences{Tone: cfg.Tone, Language: cfg.Language}
	if err := s.store.Save(ctx, s.stateLocked()); err != nil {
		s.prefs = prev
		return fmt.Errorf("save preferences: %w", err)
	}
	s.config.Tone = cfg.Tone
	s.config.Language = cfg.Language
	return nil
}

// SaveCurrentPrompt adds the current prompt and config to the favorites.
// Saving an identical prompt again returns the existing entry.
func (s *Session) SaveCurrentPrompt(ctx context.Context) (SavedPrompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(s.promptText) == "" {
		return SavedPrompt{}, newError(KindEmptyPrompt, "nothing to save", nil)
	}
	for _, sp := range s.saved {
		if sp.Text == s.promptText && sp.Mode == s.config.Mode && sp.Tone == s.config.Tone && sp.Language == s.config.Language {
			return sp, nil
		}
	}
	if len(s.saved) >= s.cfg.SavedCapacity {
		return SavedPrompt{}, ErrSavedFull
	}
	sp := SavedPrompt{
		ID:        uuid.NewString(),
		Text:      s.promptText,
		Mode:      s.config.Mode,
		Tone:      s.config.Tone,
		Language:  s.config.Language,
		CreatedAt: s.now(),
	}
	prev := s.saved
	s.saved = append([]SavedPrompt{sp}, s.saved...)
	if err := s.store.Save(ctx, s.stateLocked()); err != nil {
		s.saved = prev
		return SavedPrompt{}, fmt.Errorf("save prompt: %w", err)
	}
	return sp, nil
}

// RemoveSaved deletes a favorite.
func (s *Session) RemoveSaved(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := -1
	for i, sp := range s.saved {
		if sp.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotFound
	}
	prev := s.saved
	next := make([]SavedPrompt, 0, len(prev)-1)
	next = append(next, prev[:idx]...)
	next = append(next, prev[idx+1:]...)
	s.saved = next
	if err := s.store.Save(ctx, s.stateLocked()); err != nil {
		s.saved = prev
		return fmt.Errorf("remove saved prompt: %w", err)
	}
	return nil
}

// LoadFromHistory restores the prompt, config and result of a history entry.
func (s *Session) LoadFromHistory(id string) (HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.history {
		if e.ID != id {
			continue
		}
		req := e.Result.Request
		s.promptText = req.PromptText
		s.config = req.Config()
		res := e.Result
		s.current = &res
		s.lastErr = nil
		return e, nil
	}
	return HistoryEntry{}, ErrNotFound
}

// LoadFromSaved restores the prompt and config of a favorite.
func (s *Session) LoadFromSaved(id string) (SavedPrompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sp := range s.saved {
		if sp.ID != id {
			continue
		}
		s.promptText = sp.Text
		s.config = GenerationConfig{Mode: sp.Mode, Tone: sp.Tone, Language: sp.Language, Model: s.config.Model}
		return sp, nil
	}
	return SavedPrompt{}, ErrNotFound
}

// ClearHistory 清空历史。
func (s *Session) ClearHistory(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.history
	s.history = nil
	if err := s.store.Save(ctx, s.stateLocked()); err != nil {
		s.history = prev
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

// View returns a snapshot of the session.
func (s *Session) View() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := SessionView{
		ID:          s.ID,
		PromptText:  s.promptText,
		Config:      s.config,
		InFlight:    s.inFlight.Load(),
		History:     append([]HistoryEntry(nil), s.history...),
		Saved:       append([]SavedPrompt(nil), s.saved...),
		Preferences: s.prefs,
	}
	if s.current != nil {
		cur := *s.current
		v.Current = &cur
	}
	if s.lastErr != nil {
		e := *s.lastErr
		v.LastError = &e
	}
	return v
}

// Current returns the current result, if any.
func (s *Session) Current() (GenerationResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return GenerationResult{}, false
	}
	return *s.current, true
}

func (s *Session) stateLocked() PersistedState {
	return PersistedState{
		History:     append([]HistoryEntry(nil), s.history...),
		Saved:       append([]SavedPrompt(nil), s.saved...),
		Preferences: s.prefs,
	}
}

// pushHistory inserts e at the head and evicts from the tail beyond capacity.
func pushHistory(list []HistoryEntry, e HistoryEntry, capacity int) []HistoryEntry {
	next := make([]HistoryEntry, 0, min(len(list)+1, capacity))
	next = append(next, e)
	for _, old := range list {
		if len(next) >= capacity {
			break
		}
		next = append(next, old)
	}
	return next
}

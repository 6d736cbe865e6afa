package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"webforge/generator"
	"webforge/preview"
	"webforge/projects"
)

type generateReq struct {
	Prompt   string `json:"prompt"`
	Mode     string `json:"mode"`
	Tone     string `json:"tone"`
	Language string `json:"language"`
	Model    string `json:"model"`
}

func (r generateReq) config() generator.GenerationConfig {
	return generator.GenerationConfig{
		Mode:     generator.Mode(r.Mode),
		Tone:     generator.Tone(r.Tone),
		Language: generator.Language(r.Language),
		Model:    r.Model,
	}
}

type promptReq struct {
	Prompt string `json:"prompt"`
}

type preferencesReq struct {
	Tone     string `json:"tone"`
	Language string `json:"language"`
}

type renameReq struct {
	Name string `json:"name"`
}

func (s *Server) handleView(c *gin.Context) {
	c.JSON(http.StatusOK, s.session.View())
}

func (s *Server) handleSetPrompt(c *gin.Context) {
	var req promptReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s.session.SetPrompt(req.Prompt)
	c.JSON(http.StatusOK, s.session.View())
}

func (s *Server) handleSetConfig(c *gin.Context) {
	var req generateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.session.SetConfig(req.config()); err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, s.session.View())
}

func (s *Server) handleSetPreferences(c *gin.Context) {
	var req preferencesReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	tone, err := generator.ParseTone(req.Tone)
	if err != nil {
		badRequest(c, err)
		return
	}
	lang, err := generator.ParseLanguage(req.Language)
	if err != nil {
		badRequest(c, err)
		return
	}
	if err := s.session.SetPreferences(c.Request.Context(), tone, lang); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.session.View())
}

func (s *Server) handleGenerate(c *gin.Context) {
	var req generateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cfg, err := req.config().Normalize()
	if err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := s.generationContext(c)
	defer cancel()
	res, err := s.session.Submit(ctx, req.Prompt, cfg)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// handleVariation regenerates the current result's request.
func (s *Server) handleVariation(c *gin.Context) {
	cur, ok := s.session.Current()
	if !ok {
		writeError(c, generator.ErrNoResult)
		return
	}
	ctx, cancel := s.generationContext(c)
	defer cancel()
	res, err := s.session.RegenerateVariation(ctx, cur.Request)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleImprove(c *gin.Context) {
	ctx, cancel := s.generationContext(c)
	defer cancel()
	res, err := s.session.Improve(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleHistory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"history": s.session.View().History})
}

func (s *Server) handleClearHistory(c *gin.Context) {
	if err := s.session.ClearHistory(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleLoadHistory(c *gin.Context) {
	if _, err := s.session.LoadFromHistory(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.session.View())
}

func (s *Server) handleSaved(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"saved": s.session.View().Saved})
}

// handleSavePrompt saves the session prompt, or the body prompt when given.
func (s *Server) handleSavePrompt(c *gin.Context) {
	var req promptReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	if req.Prompt != "" {
		s.session.SetPrompt(req.Prompt)
	}
	sp, err := s.session.SaveCurrentPrompt(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sp)
}

func (s *Server) handleRemoveSaved(c *gin.Context) {
	if err := s.session.RemoveSaved(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleLoadSaved(c *gin.Context) {
	if _, err := s.session.LoadFromSaved(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.session.View())
}

func (s *Server) handlePreview(c *gin.Context) {
	cur, ok := s.session.Current()
	if !ok {
		writeError(c, generator.ErrNoResult)
		return
	}
	page, err := preview.Render(cur)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(page))
}

func (s *Server) handleDownload(c *gin.Context) {
	cur, ok := s.session.Current()
	if !ok {
		writeError(c, generator.ErrNoResult)
		return
	}
	page, err := preview.Render(cur)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+preview.DefaultFileName+`"`)
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(page))
}

func (s *Server) handleProjects(c *gin.Context) {
	resp := gin.H{"projects": s.dashboard.Projects(), "ready": s.dashboard.Ready()}
	if cur, ok := s.dashboard.Current(); ok {
		resp["current"] = cur
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleNewProject(c *gin.Context) {
	s.dashboard.NewProject()
	c.Status(http.StatusNoContent)
}

// handleSaveProject stores the current result into the open project.
func (s *Server) handleSaveProject(c *gin.Context) {
	cur, ok := s.session.Current()
	if !ok {
		writeError(c, generator.ErrNoResult)
		return
	}
	p, err := s.dashboard.SaveResult(c.Request.Context(), cur)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleRenameProject(c *gin.Context) {
	var req renameReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := s.dashboard.Rename(c.Request.Context(), req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleOpenProject(c *gin.Context) {
	p, err := s.dashboard.Open(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// handleDeleteProject requires ?confirm=true, the API side of the
// confirmation dialog.
func (s *Server) handleDeleteProject(c *gin.Context) {
	confirmed, _ := strconv.ParseBool(c.Query("confirm"))
	if !confirmed {
		writeError(c, projects.ErrDeleteNotConfirmed)
		return
	}
	if err := s.dashboard.Delete(c.Request.Context(), projects.ConfirmDelete(c.Param("id"))); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

package api

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/pagelens/pagelens/pkg/agent"
	"github.com/pagelens/pagelens/pkg/core"
	"github.com/pagelens/pagelens/pkg/search"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleIngest(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'file' is required"})
		return
	}
	if !strings.EqualFold(filepath.Ext(fileHeader.Filename), ".pdf") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only PDF files are accepted"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer file.Close()

	pdf, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.svc.Ingestor.Ingest(c.Request.Context(), fileHeader.Filename, pdf)
	if err != nil {
		s.writeError(c, err)
		return
	}

	if result.Skipped {
		c.JSON(http.StatusOK, gin.H{
			"document_id": result.DocumentID,
			"detail":      "Skipped (duplicate or empty)",
		})
		return
	}

	documentsIngested.Inc()
	c.JSON(http.StatusOK, gin.H{
		"document_id": result.DocumentID,
		"status":      "indexed",
		"pages":       result.Pages,
		"chunks":      result.Chunks,
		"regions":     result.Regions,
	})
}

type searchRequest struct {
	Query string `json:"query" form:"query"`
	Q     string `json:"-" form:"q"`
	Mode  string `json:"mode" form:"mode"`
	TopK  int    `json:"top_k" form:"top_k"`
}

func (s *Server) handleSearch(c *gin.Context) {
	var req searchRequest
	if c.Request.Method == http.MethodPost {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	} else {
		if err := c.ShouldBindQuery(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if req.Query == "" {
		req.Query = req.Q
	}

	mode, err := search.ParseMode(req.Mode)
	if err != nil {
		s.writeError(c, err)
		return
	}

	results, err := s.svc.Search.Search(c.Request.Context(), req.Query, mode, req.TopK)
	if err != nil {
		s.writeError(c, err)
		return
	}

	searchesTotal.WithLabelValues(string(mode)).Inc()
	c.JSON(http.StatusOK, gin.H{
		"query":   req.Query,
		"mode":    mode,
		"results": results,
	})
}

func (s *Server) handleListDocuments(c *gin.Context) {
	docs, err := s.svc.Content.ListDocuments(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

func (s *Server) handleGetDocument(c *gin.Context) {
	id := c.Param("id")
	doc, err := s.svc.Content.GetDocument(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	pages, err := s.svc.Content.ListPageSummaries(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": doc, "pages": pages})
}

func (s *Server) handleListRegions(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.svc.Content.GetDocument(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}
	regions, err := s.svc.Content.ListRegions(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"regions": regions})
}

func (s *Server) handleListPageRegions(c *gin.Context) {
	id := c.Param("id")
	pageNumber, err := strconv.Atoi(c.Param("page_number"))
	if err != nil || pageNumber < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page number"})
		return
	}
	if _, err := s.svc.Content.GetPage(c.Request.Context(), id, pageNumber); err != nil {
		s.writeError(c, err)
		return
	}
	regions, err := s.svc.Content.ListPageRegions(c.Request.Context(), id, pageNumber)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"regions": regions})
}

func (s *Server) handleDeleteDocument(c *gin.Context) {
	if err := s.svc.Ingestor.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"detail": "deleted"})
}

func (s *Server) handleRenderPage(c *gin.Context) {
	docID := c.Param("document_id")
	pageNumber, err := strconv.Atoi(c.Param("page_number"))
	if err != nil || pageNumber < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page number"})
		return
	}

	page, err := s.svc.Content.GetPage(c.Request.Context(), docID, pageNumber)
	if err != nil {
		s.writeError(c, err)
		return
	}

	png, err := s.svc.Files.ReadFile(page.ImagePath)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "page image not found"})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (s *Server) handleRenderCrop(c *gin.Context) {
	regionID, err := strconv.ParseInt(c.Param("region_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid region id"})
		return
	}

	region, err := s.svc.Content.GetRegion(c.Request.Context(), regionID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if region.DocumentID != c.Param("document_id") {
		c.JSON(http.StatusNotFound, gin.H{"error": "region not found in document"})
		return
	}
	if region.CropPath == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "region has no crop"})
		return
	}

	png, err := s.svc.Files.ReadFile(region.CropPath)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "region crop not found"})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

type chatRequest struct {
	Message               string `json:"message"`
	SessionID             string `json:"session_id"`
	SelectedRegionContext string `json:"selected_region_context"`
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if id := c.Param("session_id"); id != "" {
		req.SessionID = id
	}

	reply, err := s.svc.Agent.Chat(c.Request.Context(), agent.Request{
		SessionID:     req.SessionID,
		Message:       req.Message,
		RegionContext: req.SelectedRegionContext,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (s *Server) handleListSessions(c *gin.Context) {
	sessions, err := s.svc.Chat.ListSessions(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
	}
	// An empty body is a valid untitled session.
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := s.svc.Chat.CreateSession(c.Request.Context(), req.Title)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) handleGetSession(c *gin.Context) {
	id := c.Param("id")
	session, err := s.svc.Chat.GetSession(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	messages, err := s.svc.Chat.Messages(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session, "messages": messages})
}

// writeError maps domain errors onto HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case core.IsNotFoundError(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case core.IsQuotaError(err):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrDatabaseLocked):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

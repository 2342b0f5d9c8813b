package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type createFilestoreRequest struct {
	DisplayName string         `json:"displayName" binding:"required"`
	Metadata    map[string]any `json:"metadata"`
}

func (s *Server) createFilestore(c *gin.Context) {
	var req createFilestoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fs, err := s.services.Filestores.Create(c.Request.Context(), req.DisplayName, currentUser(c), req.Metadata)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, fs)
}

func (s *Server) listFilestores(c *gin.Context) {
	list, err := s.services.Filestores.List(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) getFilestore(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	fs, err := s.services.Filestores.Get(c.Request.Context(), id, currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, fs)
}

func (s *Server) deleteFilestore(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := s.services.Filestores.Delete(c.Request.Context(), id, currentUser(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// refreshFilestore pulls the remote store's current name and timestamps
// into the local record.
func (s *Server) refreshFilestore(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	fs, err := s.services.Filestores.Refresh(c.Request.Context(), id, currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, fs)
}

func (s *Server) recomputeStats(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	fs, err := s.services.Stats.Recompute(c.Request.Context(), id, currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, fs)
}

func (s *Server) syncFilestore(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	report, err := s.services.Sync.Run(c.Request.Context(), id, currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) listCategories(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	categories, err := s.services.Documents.Categories(c.Request.Context(), id, currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, categories)
}

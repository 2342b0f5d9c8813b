package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/fsmirror/internal/models"
	"github.com/dmitrijs2005/fsmirror/internal/repositories/documents"
	"github.com/dmitrijs2005/fsmirror/internal/services"
)

// ingestDocuments accepts a multipart form with one or more "files" parts
// and an optional "category" field. The documents are returned immediately
// in their queued state; uploading happens in the background.
func (s *Server) ingestDocuments(c *gin.Context) {
	filestoreID, ok := idParam(c)
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("parse multipart form: %v", err)})
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "form field \"files\" is required"})
		return
	}

	var category *string
	if v := c.PostForm("category"); v != "" {
		category = &v
	}

	user := currentUser(c)
	created := make([]*models.Document, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			writeError(c, fmt.Errorf("open uploaded file %q: %w", fh.Filename, err))
			return
		}
		doc, err := s.services.Ingestion.Ingest(c.Request.Context(), &services.IngestInput{
			FilestoreID: filestoreID,
			User:        user,
			DisplayName: fh.Filename,
			Category:    category,
			Body:        f,
		})
		f.Close()
		if err != nil {
			writeError(c, err)
			return
		}
		created = append(created, doc)
	}

	c.JSON(http.StatusAccepted, created)
}

func (s *Server) listDocuments(c *gin.Context) {
	filestoreID, ok := idParam(c)
	if !ok {
		return
	}

	q, err := parseDocumentQuery(c, filestoreID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	list, err := s.services.Documents.List(c.Request.Context(), q)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// parseDocumentQuery maps the listing query string onto a repository query.
// Unknown sort keys and non-numeric values are rejected by the repository's
// own validation; this only does the type conversions.
func parseDocumentQuery(c *gin.Context, filestoreID int64) (*documents.Query, error) {
	q := &documents.Query{
		User:        currentUser(c),
		FilestoreID: filestoreID,
		State:       models.State(c.Query("state")),
		Hash:        c.Query("hash"),
		DisplayName: c.Query("displayName"),
		Search:      c.Query("q"),
		Sort:        c.Query("sort"),
	}
	if v := c.Query("category"); v != "" {
		q.Category = &v
	}
	if v := c.Query("ids"); v != "" {
		for _, raw := range strings.Split(v, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid ids value %q", raw)
			}
			q.IDs = append(q.IDs, id)
		}
	}
	if v := c.Query("displayNames"); v != "" {
		q.DisplayNames = strings.Split(v, ",")
	}
	if v := c.Query("null"); v != "" {
		q.Null = strings.Split(v, ",")
	}
	if v := c.Query("not_null"); v != "" {
		q.NotNull = strings.Split(v, ",")
	}
	if v := c.Query("take"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid take value %q", v)
		}
		q.Take = n
	}
	if v := c.Query("skip"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid skip value %q", v)
		}
		q.Skip = n
	}
	return q, nil
}

func (s *Server) getDocument(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	doc, err := s.services.Documents.Get(c.Request.Context(), id, currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// getDocumentContent streams the cached bytes of a document back to the
// caller with its recorded MIME type.
func (s *Server) getDocumentContent(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	doc, rc, err := s.services.Documents.Open(c.Request.Context(), id, currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	defer rc.Close()

	contentType := doc.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.DisplayName))
	c.DataFromReader(http.StatusOK, doc.Size, contentType, rc, nil)
}

func (s *Server) deleteDocument(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := s.services.Documents.Delete(c.Request.Context(), id, currentUser(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// retryDocument blocks until the document reaches a terminal state again.
func (s *Server) retryDocument(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	doc, err := s.services.Uploads.Retry(c.Request.Context(), id, currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

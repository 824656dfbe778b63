package assets

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func (h *Handler) formFile(c *gin.Context) (*multipart.FileHeader, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	fh, err := c.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_upload", err)
		return nil, false
	}
	return fh, true
}

func contentTypeOf(fh *multipart.FileHeader) string {
	if ct := fh.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// POST /api/v1/assets/:id/attachments (multipart "file")
func (h *Handler) AttachFile(c *gin.Context) {
	fh, ok := h.formFile(c)
	if !ok {
		return
	}
	f, err := fh.Open()
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_upload", err)
		return
	}
	defer func() { _ = f.Close() }()

	att, _, err := h.svc.AttachFile(c.Request.Context(), sessionFrom(c), c.Param("id"), fh.Filename, contentTypeOf(fh), f)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"attachment": att})
}

// DELETE /api/v1/assets/:id/attachments?url=
func (h *Handler) RemoveAttachment(c *gin.Context) {
	url := strings.TrimSpace(c.Query("url"))
	if url == "" {
		respondError(c, http.StatusBadRequest, "invalid_input", errors.New("url query parameter required"))
		return
	}
	asset, _, err := h.svc.RemoveAttachment(c.Request.Context(), sessionFrom(c), c.Param("id"), url)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"asset": asset})
}

// PUT /api/v1/assets/:id/image (multipart "file")
func (h *Handler) SetImage(c *gin.Context) {
	fh, ok := h.formFile(c)
	if !ok {
		return
	}
	f, err := fh.Open()
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_upload", err)
		return
	}
	defer func() { _ = f.Close() }()

	asset, _, err := h.svc.SetImage(c.Request.Context(), sessionFrom(c), c.Param("id"), fh.Filename, contentTypeOf(fh), f)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"asset": asset})
}

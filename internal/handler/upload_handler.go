package handler

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const maxUploadBytes = 5 << 20

// openUpload returns the multipart file under field, or nil when the request
// carries none and optional is set.
func openUpload(c *gin.Context, field string, optional bool) (multipart.File, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		if optional && errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, errors.New(field + " required")
	}
	if fh.Size > maxUploadBytes {
		return nil, errors.New("file too large (max 5 MB)")
	}
	if ct := fh.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		return nil, errors.New("only images can be uploaded")
	}
	f, err := fh.Open()
	if err != nil {
		return nil, errors.New("could not read file")
	}
	return f, nil
}

// UploadAvatar handles POST /profile/avatar (multipart field "file").
func (h *ProfileHandler) UploadAvatar(c *gin.Context) {
	f, err := openUpload(c, "file", false)
	if err != nil {
		badRequest(c, err)
		return
	}
	defer f.Close()
	p, err := h.svc.UploadAvatar(c.Request.Context(), io.LimitReader(f, maxUploadBytes))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

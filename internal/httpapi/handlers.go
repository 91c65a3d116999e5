package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"shipwatch/internal/model"
	"shipwatch/internal/pipeline"
	"shipwatch/internal/registry"
	"shipwatch/internal/snapshot"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeTooLarge         = "payload_too_large"
	ErrCodeUnsupported      = "unsupported_format"
	ErrCodeSaveFailed       = "save_failed"
	ErrCodeInternal         = "internal_error"
)

// ErrorBody is the error envelope for every non-2xx reply.
type ErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func fail(c *gin.Context, status int, code, msg string) {
	var b ErrorBody
	b.Error.Code = code
	b.Error.Message = msg
	c.AbortWithStatusJSON(status, b)
}

type handlers struct {
	deps Deps
}

type subscribeRequest struct {
	Target string `json:"target"`
}

type subscriptionResponse struct {
	ShortID string `json:"shortId"`
	Target  string `json:"target"`
}

// upload accepts a raw CSV/JSON body or a multipart form with a "file" part.
func (h *handlers) upload(c *gin.Context) {
	body, contentType, err := h.readUpload(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "snapshot too large")
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	rows, err := snapshot.Read(contentType, body)
	if err != nil {
		if errors.Is(err, snapshot.ErrUnsupportedFormat) {
			fail(c, http.StatusUnsupportedMediaType, ErrCodeUnsupported, err.Error())
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	rep, err := h.deps.Engine.Upload(c.Request.Context(), rows)
	if err != nil {
		if errors.Is(err, pipeline.ErrSave) {
			fail(c, http.StatusServiceUnavailable, ErrCodeSaveFailed, "snapshot not saved, retry the upload")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "upload failed")
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (h *handlers) readUpload(c *gin.Context) ([]byte, string, error) {
	if h.deps.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.deps.MaxUploadBytes)
	}
	ct := c.ContentType()
	if ct != "multipart/form-data" {
		b, err := io.ReadAll(c.Request.Body)
		return b, ct, err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return nil, "", err
	}
	f, err := fh.Open()
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, "", err
	}
	partType := fh.Header.Get("Content-Type")
	if strings.HasSuffix(strings.ToLower(fh.Filename), ".csv") {
		partType = "text/csv"
	}
	return b, partType, nil
}

func (h *handlers) listUploads(c *gin.Context) {
	if h.deps.History == nil {
		c.JSON(http.StatusOK, gin.H{"uploads": []any{}})
		return
	}
	entries, err := h.deps.History()
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "history unavailable")
		return
	}
	if entries == nil {
		c.JSON(http.StatusOK, gin.H{"uploads": []any{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"uploads": entries})
}

func (h *handlers) subscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "body must be {\"target\": \"...\"}")
		return
	}
	err := h.deps.Engine.Subscribe(c.Request.Context(), c.Param("shortId"), req.Target)
	switch {
	case errors.Is(err, registry.ErrInvalidShortID), errors.Is(err, registry.ErrInvalidTarget):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "subscription not saved")
	default:
		c.Status(http.StatusNoContent)
	}
}

func (h *handlers) getSubscription(c *gin.Context) {
	id := c.Param("shortId")
	target, ok, err := h.deps.Engine.Lookup(c.Request.Context(), id)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "registry unavailable")
		return
	}
	if !ok {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "no subscription")
		return
	}
	c.JSON(http.StatusOK, subscriptionResponse{ShortID: model.ShortID(id), Target: target})
}

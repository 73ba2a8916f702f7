// Package handlers implements the HTTP surface of the service.
package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facegate/internal/facerec"
	"github.com/your-org/facegate/internal/imagesource"
	"github.com/your-org/facegate/internal/queue"
	"github.com/your-org/facegate/internal/storage"
	"github.com/your-org/facegate/internal/stream"
	"github.com/your-org/facegate/internal/training"
	"github.com/your-org/facegate/pkg/dto"
)

// Handlers carries the service dependencies shared by every endpoint.
type Handlers struct {
	Store       *storage.PostgresStore
	Recognition *facerec.Service
	Training    *training.Service
	Pipeline    *stream.Pipeline
	Fetcher     *imagesource.Fetcher
	Producer    *queue.Producer // nil when frames are processed in-process only
	ObjectStore *storage.MinIOStore
}

// resolvePhoto turns a request's photo input into raw bytes: inline
// base64 wins over a URL/object reference.
func (h *Handlers) resolvePhoto(ctx context.Context, inline, ref string) ([]byte, error) {
	if inline != "" {
		data, err := base64.StdEncoding.DecodeString(inline)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid base64 payload", facerec.ErrImageDecode)
		}
		return data, nil
	}
	if ref != "" {
		return h.Fetcher.Fetch(ctx, ref)
	}
	return nil, fmt.Errorf("%w: no photo provided", facerec.ErrImageDecode)
}

func isMultipart(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), "multipart/")
}

// readFormFiles reads every uploaded file under the given form field.
func readFormFiles(c *gin.Context, field string) ([][]byte, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, fmt.Errorf("parse multipart form: %w", err)
	}

	var out [][]byte
	for _, fh := range form.File[field] {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open upload %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read upload %s: %w", fh.Filename, err)
		}
		out = append(out, data)
	}
	return out, nil
}

// readFormFile reads a single uploaded file from the given field.
func readFormFile(c *gin.Context, field string) ([]byte, error) {
	files, err := readFormFiles(c, field)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("form field %q holds no file", field)
	}
	return files[0], nil
}

// photoFromRequest extracts a single photo: a multipart "photo" file
// upload, or a JSON body with an inline base64 photo / photo_url.
func (h *Handlers) photoFromRequest(c *gin.Context) ([]byte, error) {
	if isMultipart(c) {
		data, err := readFormFile(c, "photo")
		if err != nil {
			return nil, fmt.Errorf("%w: %v", facerec.ErrImageDecode, err)
		}
		return data, nil
	}

	var req dto.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, fmt.Errorf("%w: %v", facerec.ErrImageDecode, err)
	}
	return h.resolvePhoto(c.Request.Context(), req.Photo, req.PhotoURL)
}

// writeError maps domain errors onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, facerec.ErrUnknownIdentity):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, facerec.ErrImageDecode):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, facerec.ErrImageFetch):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	case errors.Is(err, facerec.ErrInsufficientData):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, facerec.ErrNoModelTrained):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

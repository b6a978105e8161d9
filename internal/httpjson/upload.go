package httpjson

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cashoutai/tradedesk/internal/model"
)

// Upload size limits for inline images.
const (
	MaxAvatarBytes    = 2 << 20
	MaxChatImageBytes = 5 << 20
)

// ReadImage reads the multipart file in field, checks that it is an image
// no larger than maxBytes and returns it as a base64 data URL.
func ReadImage(r *http.Request, field string, maxBytes int64) (string, error) {
	if err := r.ParseMultipartForm(maxBytes + 1<<20); err != nil {
		return "", fmt.Errorf("invalid multipart form: %v: %w", err, model.ErrInvalidState)
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		return "", fmt.Errorf("missing %q file: %w", field, model.ErrInvalidState)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	return ImageDataURL(header.Header.Get("Content-Type"), data, maxBytes)
}

// ImageDataURL validates data as an image of at most maxBytes and encodes
// it as data:image/<type>;base64,... . An empty or generic content type is
// sniffed from the bytes.
func ImageDataURL(contentType string, data []byte, maxBytes int64) (string, error) {
	if int64(len(data)) > maxBytes {
		return "", fmt.Errorf("image too large (max %dMB): %w", maxBytes>>20, model.ErrInvalidState)
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("file must be an image, got %s: %w", contentType, model.ErrInvalidState)
	}
	subtype := strings.TrimPrefix(contentType, "image/")
	if i := strings.IndexByte(subtype, ';'); i >= 0 {
		subtype = subtype[:i]
	}
	return "data:image/" + subtype + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

package httpjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cashoutai/tradedesk/internal/model"
)

func TestStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("user x: %w", model.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("not admin: %w", model.ErrForbidden), http.StatusForbidden},
		{fmt.Errorf("username taken: %w", model.ErrConflict), http.StatusConflict},
		{fmt.Errorf("pending: %w", model.ErrInvalidState), http.StatusBadRequest},
		{fmt.Errorf("feed: %w", model.ErrExternalUnavailable), http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := Status(tc.err); got != tc.want {
			t.Errorf("Status(%v): got %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestError_HidesInternalText(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, errors.New("pq: password authentication failed"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["error"] != "internal error" {
		t.Errorf("internal error text leaked: %q", body["error"])
	}
}

func TestDecode_RejectsUnknownFields(t *testing.T) {
	var dst struct {
		Symbol string `json:"symbol"`
	}
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"symbol":"TSLA","side":"YES"}`))
	err := Decode(httptest.NewRecorder(), r, &dst)
	if !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestDecode_EmptyBodyMatchesEOF(t *testing.T) {
	var dst struct {
		Price string `json:"price"`
	}
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	r.ContentLength = -1
	err := Decode(httptest.NewRecorder(), r, &dst)
	if !errors.Is(err, io.EOF) || !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("expected io.EOF and ErrInvalidState, got %v", err)
	}
}

func TestImageDataURL(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	url, err := ImageDataURL("", png, MaxAvatarBytes)
	if err != nil {
		t.Fatalf("ImageDataURL: %v", err)
	}
	if !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Errorf("unexpected data url prefix: %q", url)
	}

	if _, err := ImageDataURL("text/plain", []byte("hello"), MaxAvatarBytes); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("non-image: expected ErrInvalidState, got %v", err)
	}

	big := make([]byte, MaxAvatarBytes+1)
	if _, err := ImageDataURL("image/jpeg", big, MaxAvatarBytes); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("oversized: expected ErrInvalidState, got %v", err)
	}
}

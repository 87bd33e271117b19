package processor

import (
	"context"
	stderrors "errors"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
)

func voyageServer(t *testing.T, dims int, status int, inputType string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		var req VoyageEmbeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != VoyageModel || len(req.Input) > maxEmbeddingChars || req.InputType != inputType {
			t.Errorf("request = model %s, %d chars, input_type %q", req.Model, len(req.Input), req.InputType)
		}

		if status != http.StatusOK {
			http.Error(w, "nope", status)
			return
		}
		resp := VoyageEmbeddingResponse{}
		resp.Data = append(resp.Data, struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}{Embedding: make([]float32, dims)})
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestGenerateEmbedding(t *testing.T) {
	tests := []struct {
		name    string
		dims    int
		status  int
		wantErr string
	}{
		{"ok", 1024, http.StatusOK, ""},
		{"wrong dimensions", 512, http.StatusOK, "unexpected embedding dimensions"},
		{"server error", 1024, http.StatusTooManyRequests, "status 429"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := voyageServer(t, tt.dims, tt.status, "document")
			defer srv.Close()

			client, err := NewEmbeddingClient("test-key", srv.URL)
			if err != nil {
				t.Fatal(err)
			}
			vec, err := client.GenerateEmbedding(context.Background(), strings.Repeat("页", 8000))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil || len(vec) != 1024 {
				t.Errorf("vec = %d dims, err = %v", len(vec), err)
			}
		})
	}
}

func TestEmbedQuery(t *testing.T) {
	srv := voyageServer(t, 1024, http.StatusOK, "query")
	defer srv.Close()

	client, err := NewEmbeddingClient("test-key", srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if vec, err := client.EmbedQuery(context.Background(), "reading order"); err != nil || len(vec) != 1024 {
		t.Errorf("vec = %d dims, err = %v", len(vec), err)
	}
}

func TestVoyageErrorTemporary(t *testing.T) {
	srv := voyageServer(t, 1024, http.StatusServiceUnavailable, "document")
	defer srv.Close()

	client, _ := NewEmbeddingClient("test-key", srv.URL)
	_, err := client.GenerateEmbedding(context.Background(), "page")
	var verr *VoyageError
	if !stderrors.As(err, &verr) || !verr.Temporary() {
		t.Fatalf("err = %v, want temporary VoyageError", err)
	}
	if (&VoyageError{StatusCode: http.StatusUnauthorized}).Temporary() {
		t.Error("401 reported as temporary")
	}
}

func TestNewEmbeddingClient(t *testing.T) {
	if _, err := NewEmbeddingClient("", ""); err == nil {
		t.Error("expected error without key")
	}
	c, err := NewEmbeddingClient("k", "")
	if err != nil || c.baseURL != DefaultVoyageURL {
		t.Errorf("client = %+v, err = %v", c, err)
	}
}

func TestTruncateText(t *testing.T) {
	s := strings.Repeat("é", 10) // 2 bytes each
	got := truncateText(s, 7)
	if len(got) != 6 || !utf8.ValidString(got) {
		t.Errorf("truncateText = %q (%d bytes)", got, len(got))
	}
	if truncateText("short", 100) != "short" {
		t.Error("short text changed")
	}
}

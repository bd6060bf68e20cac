package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/smithy-go"
)

func newTestR2Storage(t *testing.T, handler http.HandlerFunc) *R2Storage {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s, err := NewR2Storage(R2Config{
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		BucketName:      "history",
		Endpoint:        srv.URL,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewR2Storage() error = %v", err)
	}
	return s
}

func TestR2Storage_Exists(t *testing.T) {
	s := newTestR2Storage(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %s, want HEAD", r.Method)
		}
		if r.URL.Path == "/history/history/u/present.md" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	exists, err := s.Exists(context.Background(), "history/u/present.md")
	if err != nil || !exists {
		t.Errorf("Exists(present) = %v, %v", exists, err)
	}

	exists, err = s.Exists(context.Background(), "history/u/missing.md")
	if err != nil || exists {
		t.Errorf("Exists(missing) = %v, %v", exists, err)
	}
}

func TestNewR2Storage_Validation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if _, err := NewR2Storage(R2Config{AccountID: "acct"}, logger); err == nil {
		t.Error("missing bucket should fail")
	}
	if _, err := NewR2Storage(R2Config{BucketName: "b"}, logger); err == nil {
		t.Error("missing account and endpoint should fail")
	}
}

func TestClassifyR2Error(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"NoSuchKey", ErrNotFound},
		{"AccessDenied", ErrAccessDenied},
		{"PreconditionFailed", ErrKeyExists},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := classifyR2Error(&smithy.GenericAPIError{Code: tt.code})
			if !errors.Is(err, tt.want) {
				t.Errorf("classifyR2Error(%s) = %v, want %v", tt.code, err, tt.want)
			}
		})
	}
}

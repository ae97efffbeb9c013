package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/ragpipe/internal/model"
	appErr "github.com/xxxsen/ragpipe/internal/pkg/errors"
)

func TestHTTPReporter(t *testing.T) {
	var (
		gotPath   string
		gotMethod string
		gotAuth   string
		gotBody   map[string]interface{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		gotBody = map[string]interface{}{}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"code":0,"message":"","data":{}}`))
	}))
	defer srv.Close()

	r := NewHTTPReporter(srv.URL+"/", "tok", 0)
	err := r.ReportStatus(context.Background(), 42, model.TaskUpdate{
		Status:         model.StatusPtr(model.TaskStatusCompleted),
		EmbeddingCount: model.IntPtr(1),
	})
	require.NoError(t, err)
	require.Equal(t, http.MethodPut, gotMethod)
	require.Equal(t, "/api/v1/embedding-tasks/42", gotPath)
	require.Equal(t, "Bearer tok", gotAuth)
	require.Equal(t, "completed", gotBody["status"])
	require.Equal(t, float64(1), gotBody["embedding_count"])
	_, hasError := gotBody["error_message"]
	require.False(t, hasError)
}

func TestHTTPReporterFailures(t *testing.T) {
	rejected := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":10000009,"message":"invalid status transition"}`))
	}))
	defer rejected.Close()
	err := NewHTTPReporter(rejected.URL, "", 0).ReportStatus(context.Background(), 1, model.TaskUpdate{Status: model.StatusPtr(model.TaskStatusProcessing)})
	require.ErrorIs(t, err, appErr.ErrTransport)
	require.Contains(t, err.Error(), "invalid status transition")

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()
	err = NewHTTPReporter(broken.URL, "", 0).ReportStatus(context.Background(), 1, model.TaskUpdate{Status: model.StatusPtr(model.TaskStatusProcessing)})
	require.ErrorIs(t, err, appErr.ErrTransport)
}

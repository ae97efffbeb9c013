package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/xxxsen/ragpipe/internal/model"
	appErr "github.com/xxxsen/ragpipe/internal/pkg/errors"
)

const taskStatusPath = "/api/v1/embedding-tasks/"

type apiEnvelope struct {
	Code int    `json:"code"`
	Msg  string `json:"message"`
}

// HTTPReporter sends status updates to a remote API instance.
type HTTPReporter struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPReporter(baseURL, token string, timeout time.Duration) *HTTPReporter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPReporter{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (r *HTTPReporter) ReportStatus(ctx context.Context, id int64, upd model.TaskUpdate) error {
	body, err := json.Marshal(upd)
	if err != nil {
		return err
	}
	endpoint := r.baseURL + taskStatusPath + strconv.FormatInt(id, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", appErr.ErrTransport, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: status update http %d: %s", appErr.ErrTransport, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var env apiEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: decode status update response: %v", appErr.ErrTransport, err)
	}
	if env.Code != 0 {
		return fmt.Errorf("%w: status update rejected: code=%d msg=%s", appErr.ErrTransport, env.Code, env.Msg)
	}
	return nil
}

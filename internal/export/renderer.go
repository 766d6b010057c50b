package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/provenworks/sopctl/internal/config"
)

// maxRenderedBytes caps a renderer response at 50 MiB.
const maxRenderedBytes = 50 << 20

// HTTPRenderer posts render requests to the configured external
// renderer endpoint and returns the DOCX bytes it responds with.
type HTTPRenderer struct {
	url    string
	client *http.Client
}

// NewHTTPRenderer returns a renderer for the export config, or nil when
// no renderer URL is configured.
func NewHTTPRenderer(cfg *config.Export) *HTTPRenderer {
	if cfg == nil || cfg.RendererURL == "" {
		return nil
	}
	return &HTTPRenderer{
		url: cfg.RendererURL,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// RenderDocx posts the request as JSON and expects DOCX bytes back.
func (r *HTTPRenderer) RenderDocx(
	ctx context.Context, req RenderRequest,
) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("error encoding render request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("error building render request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("error calling renderer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("renderer returned %d: %s",
			resp.StatusCode, string(snippet))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRenderedBytes))
	if err != nil {
		return nil, fmt.Errorf("error reading rendered document: %w", err)
	}
	return data, nil
}

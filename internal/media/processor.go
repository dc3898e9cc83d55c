package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chatrelay/pkg/types"
)

// Processor turns a raw media item into derivatives (thumbnails, extracted
// text, file trees). Implementations live outside the relay.
type Processor interface {
	Process(ctx context.Context, item types.MediaItem) (map[string]interface{}, error)
}

// ProcessorFunc adapts a function to Processor
type ProcessorFunc func(ctx context.Context, item types.MediaItem) (map[string]interface{}, error)

func (f ProcessorFunc) Process(ctx context.Context, item types.MediaItem) (map[string]interface{}, error) {
	return f(ctx, item)
}

// ProcessedKinds are the kinds the relay dispatches to a collaborator.
// Everything else passes through unprocessed.
var ProcessedKinds = []types.MediaKind{types.MediaCodeProject, types.MediaImage, types.MediaLink}

// HTTPProcessor posts the media item as JSON to <baseURL>/<kind> and expects
// a JSON object back, which becomes the derivatives.
type HTTPProcessor struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProcessor creates a processor for an external media service
func NewHTTPProcessor(baseURL string, timeout time.Duration) *HTTPProcessor {
	return &HTTPProcessor{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProcessor) Process(ctx context.Context, item types.MediaItem) (map[string]interface{}, error) {
	body, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal media item: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/"+string(item.Type), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build processor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("processor request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var derivatives map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&derivatives); err != nil {
		return nil, fmt.Errorf("failed to decode processor response: %w", err)
	}
	return derivatives, nil
}

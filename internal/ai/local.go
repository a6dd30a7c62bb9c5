package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// localEmbedProvider talks to a self-hosted sentence-transformers service.
// The model name is baked into the service, so the model argument is unused.
type localEmbedConfig struct {
	BaseURL string `json:"base_url"`
}

type localEmbedProvider struct {
	baseURL string
}

type localEmbedRequest struct {
	Texts []string `json:"texts"`
}

type localEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (p *localEmbedProvider) Name() string {
	return "local"
}

func (p *localEmbedProvider) EmbedBatch(ctx context.Context, model string, texts []string, taskType string) ([][]float32, error) {
	if p.baseURL == "" {
		return nil, ErrUnavailable
	}
	endpoint := strings.TrimRight(p.baseURL, "/") + "/embed/batch"
	data, err := json.Marshal(localEmbedRequest{Texts: texts})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embed request failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var out localEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed service returned %d embeddings for %d inputs", len(out.Embeddings), len(texts))
	}
	return out.Embeddings, nil
}

func createLocalEmbedFactory(args interface{}) (IEmbedProvider, error) {
	cfg := &localEmbedConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	return &localEmbedProvider{baseURL: strings.TrimSpace(cfg.BaseURL)}, nil
}

func init() {
	RegisterEmbed("local", createLocalEmbedFactory)
}

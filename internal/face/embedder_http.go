package face

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultEmbedderURL   = "http://localhost:8000"
	defaultEmbedderModel = "arcface"
)

// httpEmbedder computes face embeddings by POSTing a JPEG-encoded crop to
// a local onnx/opencv inference server and reading back a JSON vector.
type httpEmbedder struct {
	parsedURL *url.URL
	model     string
	dim       int
	client    *http.Client
}

func newHTTPEmbedder(baseURL, model string, dim int) (*httpEmbedder, error) {
	if baseURL == "" {
		baseURL = defaultEmbedderURL
	}
	if model == "" {
		model = defaultEmbedderModel
	}
	parsed, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid embedder URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid embedder URL scheme %q: must be http or https", parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, errors.New("invalid embedder URL: missing host")
	}
	return &httpEmbedder{
		parsedURL: parsed,
		model:     model,
		dim:       dim,
		client:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (e *httpEmbedder) Dim() int { return e.dim }

type httpEmbedderResponse struct {
	Embedding []float32 `json:"embedding"`
	Dim       int       `json:"dim"`
}

func (e *httpEmbedder) Embed(ctx context.Context, aligned image.Image) ([]float32, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, aligned, &jpeg.Options{Quality: 92}); err != nil {
		return nil, fmt.Errorf("encode aligned crop: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "face.jpg")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	reqURL := e.parsedURL.JoinPath("/embed/face")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL.String(), &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedder request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedder response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedder returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed httpEmbedderResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parse embedder response: %w", err)
	}
	if len(parsed.Embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}

	return l2Normalize(parsed.Embedding), nil
}

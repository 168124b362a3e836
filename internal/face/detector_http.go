package face

import (
	"bytes"
	"context"
	"encoding/json"
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

// httpDetector asks the same local inference server used by httpEmbedder
// to both detect faces and report their bounding boxes in one call.
type httpDetector struct {
	parsedURL *url.URL
	client    *http.Client
}

// NewHTTPDetector builds a Detector against baseURL's /embed/face endpoint.
func NewHTTPDetector(baseURL string) (*httpDetector, error) {
	if baseURL == "" {
		baseURL = defaultEmbedderURL
	}
	parsed, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid detector URL: %w", err)
	}
	return &httpDetector{parsedURL: parsed, client: &http.Client{Timeout: 10 * time.Second}}, nil
}

type httpFaceDetection struct {
	BBox     []float64 `json:"bbox"`
	DetScore float64   `json:"det_score"`
}

type httpFaceResponse struct {
	FacesCount int                 `json:"faces_count"`
	Faces      []httpFaceDetection `json:"faces"`
}

// Detect posts img as a JPEG to the detection endpoint and returns each
// face's bounding box.
func (d *httpDetector) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.parsedURL.JoinPath("/embed/face").String(), &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detector request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read detector response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detector returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed httpFaceResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parse detector response: %w", err)
	}

	out := make([]Detection, 0, len(parsed.Faces))
	for _, f := range parsed.Faces {
		if len(f.BBox) != 4 {
			continue
		}
		out = append(out, Detection{
			Box:        BBox{X1: f.BBox[0], Y1: f.BBox[1], X2: f.BBox[2], Y2: f.BBox[3]},
			Confidence: f.DetScore,
		})
	}
	return out, nil
}

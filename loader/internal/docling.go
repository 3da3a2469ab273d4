package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

type DoclingResponse struct {
	Document struct {
		MdContent string `json:"md_content"`
	} `json:"document"`
	Status string `json:"status"`
}

// DoclingClient converts PDFs to markdown through a docling-serve instance.
type DoclingClient struct {
	url    string
	client *http.Client
}

func NewDoclingClient(url string, timeout time.Duration) *DoclingClient {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &DoclingClient{url: url, client: &http.Client{Timeout: timeout}}
}

func (d *DoclingClient) ConvertPDFToMD(ctx context.Context, name string, data []byte) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("files", name)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("docling request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("docling error: status %d, body: %s", resp.StatusCode, truncate(body, 512))
	}

	var d2 DoclingResponse
	if err := json.Unmarshal(body, &d2); err != nil {
		return "", fmt.Errorf("decode docling response: %w", err)
	}
	return d2.Document.MdContent, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

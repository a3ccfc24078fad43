package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/realtime-stt-lab/internal/logging"
)

// Registration is the record posted to an MCP registry.
type Registration struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Register posts rec to registryURL + "/mcp/register". An empty registryURL
// disables registration.
func Register(ctx context.Context, client *http.Client, registryURL string, rec Registration) error {
	if registryURL == "" {
		return nil
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	endpoint := strings.TrimRight(registryURL, "/") + "/mcp/register"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("mcp register: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mcp register failed: %s", resp.Status)
	}
	logging.Infow("registered with mcp registry", "name", rec.Name, "url", rec.URL, "registry", registryURL)
	return nil
}

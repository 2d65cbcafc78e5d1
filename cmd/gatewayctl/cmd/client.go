package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

// adminGet issues a GET against the gateway's admin surface and
// returns the decoded JSON body as a generic map for pretty-printing.
func adminGet(path string) (map[string]any, error) {
	return adminRequest(http.MethodGet, path, nil)
}

// adminPost issues a POST with an empty body against the gateway's
// admin surface.
func adminPost(path string) (map[string]any, error) {
	return adminRequest(http.MethodPost, path, nil)
}

func adminRequest(method, path string, body io.Reader) (map[string]any, error) {
	req, err := http.NewRequest(method, addr+path, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", addr+path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return out, fmt.Errorf("gateway returned %s", resp.Status)
	}
	return out, nil
}

func printJSON(v map[string]any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

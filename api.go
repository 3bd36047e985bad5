package judgewire

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type ApiResponse[T any] struct {
	Result string `json:"result"` // "success"
	Data   *T     `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// PostApi posts param as JSON to base+path and decodes the data of a
// {"result":"success"} envelope.
func PostApi[T any](ctx context.Context, client *http.Client, base, path string, param any) (*T, error) {
	fullpath := strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
	buf, err := json.Marshal(param)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullpath, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP status %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read API response body: %w", err)
	}

	var res *ApiResponse[T]
	err = json.Unmarshal(body, &res)
	if err != nil {
		return nil, fmt.Errorf("failed to decode API response: %w", err)
	}
	if res == nil {
		return nil, fmt.Errorf("empty API response")
	}

	if res.Result != "success" {
		return nil, fmt.Errorf("API %s: %s", res.Result, res.Error)
	}
	if res.Data == nil {
		return nil, fmt.Errorf("API response without data")
	}

	return res.Data, nil
}

type TokenInfo struct {
	Exp int64 `json:"exp"` // expiration time as unix timestamp
}

// TokenCheckPath is the REST endpoint that validates user tokens.
const TokenCheckPath = "Judge/Token:check"

// HTTPTokenVerifier checks tokens against a REST API.
type HTTPTokenVerifier struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPTokenVerifier(baseURL string) *HTTPTokenVerifier {
	return &HTTPTokenVerifier{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: DefaultTokenTimeout},
	}
}

// VerifyToken returns the token expiry. An expired token is an error.
func (v *HTTPTokenVerifier) VerifyToken(ctx context.Context, token string) (time.Time, error) {
	info, err := PostApi[TokenInfo](ctx, v.Client, v.BaseURL, TokenCheckPath, map[string]any{"token": token})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to check token: %w", err)
	}

	// check expiration
	exp := time.Unix(info.Exp, 0)
	if info.Exp < Now().Unix() {
		return exp, fmt.Errorf("token expired at %s", exp.UTC().Format(time.RFC3339))
	}
	return exp, nil
}

package execution

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"nodeflow/internal/models"
)

// HTTPRequestExecutor executes HTTP request nodes — universal REST API calls
type HTTPRequestExecutor struct {
	client *http.Client
}

func NewHTTPRequestExecutor() *HTTPRequestExecutor {
	return &HTTPRequestExecutor{
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (e *HTTPRequestExecutor) Execute(ctx context.Context, node models.Node, inputs map[string]any, ec *ExecutionContext) (map[string]any, error) {
	data := node.Data
	scope := templateScope(inputs, ec)

	method := strings.ToUpper(getString(data, "method", "GET"))
	rawURL := getString(data, "url", "")
	if rawURL == "" {
		return nil, fmt.Errorf("url is required for http_request node")
	}

	reqURL := InterpolateTemplate(rawURL, scope)

	// Merge queryParams into the URL
	if qp := getMap(data, "queryParams"); qp != nil {
		if parsedURL, parseErr := url.Parse(reqURL); parseErr == nil {
			q := parsedURL.Query()
			for k, v := range qp {
				if strVal, ok := v.(string); ok {
					q.Set(k, InterpolateTemplate(strVal, scope))
				}
			}
			parsedURL.RawQuery = q.Encode()
			reqURL = parsedURL.String()
		}
	}

	// Build body
	var bodyReader io.Reader
	if bodyRaw, ok := data["body"]; ok && bodyRaw != nil {
		switch b := bodyRaw.(type) {
		case string:
			if b != "" {
				bodyReader = strings.NewReader(InterpolateTemplate(b, scope))
			}
		case map[string]any:
			interpolated := InterpolateMapValues(b, scope)
			jsonBody, err := json.Marshal(interpolated)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal body: %w", err)
			}
			bodyReader = strings.NewReader(string(jsonBody))
		}
	}

	log.Printf("🌐 [HTTP-REQ] Node '%s': %s %s", node.Name, method, reqURL)

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if headers := getMap(data, "headers"); headers != nil {
		for key, value := range headers {
			if strVal, ok := value.(string); ok {
				req.Header.Set(key, InterpolateTemplate(strVal, scope))
			}
		}
	}

	if bodyReader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	// Apply authentication
	authType := getString(data, "authType", "none")
	if authConfig := getMap(data, "authConfig"); authConfig != nil {
		switch authType {
		case "bearer":
			if token, ok := authConfig["token"].(string); ok && token != "" {
				req.Header.Set("Authorization", "Bearer "+InterpolateTemplate(token, scope))
			}
		case "basic":
			username, _ := authConfig["username"].(string)
			password, _ := authConfig["password"].(string)
			if username != "" {
				encoded := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
				req.Header.Set("Authorization", "Basic "+encoded)
			}
		case "api_key":
			key, _ := authConfig["key"].(string)
			headerName := getString(authConfig, "headerName", "X-API-Key")
			if key != "" {
				req.Header.Set(headerName, InterpolateTemplate(key, scope))
			}
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		// Classify network/timeout errors for retry decisions
		return nil, ClassifyError(err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	log.Printf("🌐 [HTTP-REQ] Node '%s': status=%d, body_len=%d", node.Name, resp.StatusCode, len(responseBody))

	var parsedBody any
	if err := json.Unmarshal(responseBody, &parsedBody); err != nil {
		parsedBody = string(responseBody)
	}

	respHeaders := make(map[string]string)
	for key, values := range resp.Header {
		if len(values) > 0 {
			respHeaders[key] = values[0]
		}
	}

	result := map[string]any{
		"response": parsedBody,
		"data":     parsedBody,
		"status":   resp.StatusCode,
		"headers":  respHeaders,
		"raw":      string(responseBody),
	}

	// Non-2xx responses return a classified error (enables smart retries)
	// but keep the response data visible for downstream diagnostics.
	if resp.StatusCode >= 400 {
		classifiedErr := ClassifyHTTPError(resp.StatusCode, string(responseBody))
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if n, parseErr := fmt.Sscanf(retryAfter, "%d", &classifiedErr.RetryAfter); parseErr != nil || n == 0 {
				classifiedErr.RetryAfter = 60
			}
		}
		log.Printf("⚠️ [HTTP-REQ] Node '%s': HTTP %d — %s [retryable=%v]",
			node.Name, resp.StatusCode, classifiedErr.Category.String(), classifiedErr.Retryable)
		return result, classifiedErr
	}

	return result, nil
}

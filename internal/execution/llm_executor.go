package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"nodeflow/internal/models"
)

// LLMExecutor calls an OpenAI-compatible chat completions endpoint.
// Base URL and API key come from node data, falling back to
// LLM_BASE_URL / LLM_API_KEY so workflows don't have to carry credentials.
type LLMExecutor struct {
	httpClient *http.Client
}

func NewLLMExecutor() *LLMExecutor {
	return &LLMExecutor{
		httpClient: &http.Client{
			Timeout: 600 * time.Second, // local models may cold start
		},
	}
}

func (e *LLMExecutor) Execute(ctx context.Context, node models.Node, inputs map[string]any, ec *ExecutionContext) (map[string]any, error) {
	data := node.Data
	scope := templateScope(inputs, ec)

	baseURL := getString(data, "baseUrl", os.Getenv("LLM_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	apiKey := getString(data, "apiKey", os.Getenv("LLM_API_KEY"))

	modelID := getString(data, "model", "")
	if modelID == "" {
		modelID = getString(data, "modelId", "")
	}
	if modelID == "" {
		modelID = "gpt-4o-mini"
		log.Printf("⚠️ [LLM] No model specified for node '%s', using default: %s", node.Name, modelID)
	}

	systemPrompt := getString(data, "systemPrompt", "")
	userPromptTemplate := getString(data, "userPrompt", "")
	if userPromptTemplate == "" {
		userPromptTemplate = getString(data, "prompt", "")
	}
	temperature := getFloat(data, "temperature", 0.7)
	outputFormat := getString(data, "outputFormat", "text")

	userPrompt := InterpolateTemplate(userPromptTemplate, scope)
	systemPrompt = InterpolateTemplate(systemPrompt, scope)

	log.Printf("🤖 [LLM] Node '%s': model=%s, prompt_len=%d", node.Name, modelID, len(userPrompt))

	messages := []map[string]string{
		{"role": "user", "content": userPrompt},
	}
	if systemPrompt != "" {
		messages = append([]map[string]string{{"role": "system", "content": systemPrompt}}, messages...)
	}

	requestBody := map[string]any{
		"model":       modelID,
		"messages":    messages,
		"temperature": temperature,
		"stream":      false,
	}
	if outputFormat == "json" {
		requestBody["response_format"] = map[string]any{"type": "json_object"}
	}

	bodyBytes, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := strings.TrimSuffix(baseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, ClassifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		classifiedErr := ClassifyHTTPError(resp.StatusCode, string(body))
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if n, parseErr := fmt.Sscanf(retryAfter, "%d", &classifiedErr.RetryAfter); parseErr != nil || n == 0 {
				classifiedErr.RetryAfter = 60
			}
		}
		return nil, classifiedErr
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse LLM response: %w", err)
	}

	content := ""
	if choices, ok := result["choices"].([]any); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			if message, ok := choice["message"].(map[string]any); ok {
				if c, ok := message["content"].(string); ok {
					content = c
				}
			}
		}
	}

	var inputTokens, outputTokens int
	if usage, ok := result["usage"].(map[string]any); ok {
		if pt, ok := usage["prompt_tokens"].(float64); ok {
			inputTokens = int(pt)
		}
		if ct, ok := usage["completion_tokens"].(float64); ok {
			outputTokens = int(ct)
		}
	}

	log.Printf("✅ [LLM] Node '%s': completed, response_len=%d, tokens=%d/%d",
		node.Name, len(content), inputTokens, outputTokens)

	out := map[string]any{
		"response": content,
		"data":     content,
		"model":    modelID,
		"tokens": map[string]int{
			"input":  inputTokens,
			"output": outputTokens,
		},
	}

	if outputFormat == "json" {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(content), &parsed); err != nil {
			log.Printf("⚠️ [LLM] Node '%s': failed to parse JSON output: %v", node.Name, err)
			out["parseError"] = err.Error()
		} else {
			out["data"] = parsed
		}
	}

	return out, nil
}

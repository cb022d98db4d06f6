package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	defaultModel     = "claude-sonnet-4-5-20250929"
	defaultMaxTokens = 1024
	apiVersion       = "2023-06-01"
)

const defaultSystemPrompt = "You are a friendly leasing agent answering rental inquiries on behalf of a " +
	"property manager. Reply to the tenant directly, answer their questions honestly, keep the " +
	"reply under 150 words and invite them to schedule a viewing. Do not invent facts about the " +
	"property; when unsure, say the manager will follow up."

// Request describes the inquiry a reply is generated for
type Request struct {
	TenantName    string
	TenantMessage string
	TenantEmail   string
}

// Client generates replies through the Messages API
type Client struct {
	baseURL      string
	apiKey       string
	model        string
	maxTokens    int
	systemPrompt string
	client       *http.Client
}

// NewClient creates a generation client
func NewClient(baseURL, apiKey, modelName string, maxTokens int, systemPrompt string) *Client {
	if modelName == "" {
		modelName = defaultModel
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = defaultSystemPrompt
	}

	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		model:        modelName,
		maxTokens:    maxTokens,
		systemPrompt: systemPrompt,
		client:       &http.Client{},
	}
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	System    string       `json:"system,omitempty"`
	Messages  []apiMessage `json:"messages"`
}

type apiContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type apiResponse struct {
	ID         string            `json:"id"`
	Content    []apiContentBlock `json:"content"`
	StopReason string            `json:"stop_reason"`
}

type apiErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate returns the reply text for an inquiry
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.TenantMessage) == "" {
		return "", fmt.Errorf("tenant message is required")
	}

	resp, err := c.callAPI(ctx, apiRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    c.systemPrompt,
		Messages:  []apiMessage{{Role: "user", Content: buildPrompt(req)}},
	})
	if err != nil {
		return "", err
	}

	var parts []string
	for _, block := range resp.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	text := strings.TrimSpace(strings.Join(parts, ""))
	if text == "" {
		return "", fmt.Errorf("generation returned an empty reply")
	}
	return text, nil
}

// Ping checks that the generation service is reachable
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling generation service: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("generation service unhealthy (%d)", resp.StatusCode)
	}
	return nil
}

func buildPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString("A prospective tenant")
	if req.TenantName != "" {
		sb.WriteString(" named ")
		sb.WriteString(req.TenantName)
	}
	if req.TenantEmail != "" {
		sb.WriteString(" (")
		sb.WriteString(req.TenantEmail)
		sb.WriteString(")")
	}
	sb.WriteString(" sent this inquiry:\n\n")
	sb.WriteString(strings.TrimSpace(req.TenantMessage))
	sb.WriteString("\n\nWrite the reply text only, without a subject line.")
	return sb.String()
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
}

func (c *Client) callAPI(ctx context.Context, reqBody apiRequest) (*apiResponse, error) {
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling generation API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result apiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &result, nil
}

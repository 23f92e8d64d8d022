package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"salesengine/pkg/genai"
)

const (
	providerName   = "gemini"
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
)

// Client Google Gemini 客户端，直接调用 REST 接口
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient 创建 Gemini 客户端
func NewClient(config genai.ClientConfig) (*Client, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, fmt.Errorf("%w: Gemini API Key 不能为空", genai.ErrMissingCredentials)
	}

	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	timeout := time.Duration(config.Timeout) * time.Second
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		apiKey:     config.APIKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Name 返回提供商名称
func (c *Client) Name() string {
	return providerName
}

// SupportsImageOutput Gemini 图片模型可返回内联图片
func (c *Client) SupportsImageOutput() bool {
	return true
}

// Generate 非流式生成，单次请求，重试由上层负责
func (c *Client) Generate(ctx context.Context, req *genai.GenerationRequest) (*genai.GenerationResult, error) {
	body, err := json.Marshal(buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	// 密钥只放在请求头，网络错误里的 URL 会被写入日志
	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建 HTTP 请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, genai.NewNetworkError(providerName, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, genai.NewNetworkError(providerName, err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(data))
		var errResp ErrorResponse
		if json.Unmarshal(data, &errResp) == nil && errResp.Error.Message != "" {
			msg = errResp.Error.Message
		}
		return nil, genai.NewStatusError(providerName, resp.StatusCode, msg, nil)
	}

	var out GenerateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	return convertResponse(req.Model, &out), nil
}

func buildRequest(req *genai.GenerationRequest) *GenerateRequest {
	out := &GenerateRequest{Contents: make([]Content, 0, len(req.Contents))}

	if req.SystemInstruction != "" {
		out.SystemInstruction = &Content{Parts: []Part{{Text: req.SystemInstruction}}}
	}

	for _, turn := range req.Contents {
		switch turn.Role {
		case genai.RoleModel:
			parts := make([]Part, 0, 1+len(turn.ToolCalls))
			if turn.Text != "" {
				parts = append(parts, Part{Text: turn.Text})
			}
			for _, call := range turn.ToolCalls {
				parts = append(parts, Part{FunctionCall: &FunctionCall{Name: call.Name, Args: call.Args}})
			}
			out.Contents = append(out.Contents, Content{Role: "model", Parts: parts})
		case genai.RoleTool:
			if turn.ToolResult == nil {
				continue
			}
			out.Contents = append(out.Contents, Content{Role: "user", Parts: []Part{{
				FunctionResponse: &FunctionResponse{Name: turn.ToolResult.Name, Response: turn.ToolResult.Payload},
			}}})
		default:
			parts := make([]Part, 0, 1+len(turn.Images))
			for _, img := range turn.Images {
				parts = append(parts, Part{InlineData: &Blob{MimeType: img.MIMEType, Data: img.Data}})
			}
			if turn.Text != "" || len(parts) == 0 {
				parts = append(parts, Part{Text: turn.Text})
			}
			out.Contents = append(out.Contents, Content{Role: "user", Parts: parts})
		}
	}

	if len(req.Tools) > 0 {
		decls := make([]FunctionDeclaration, len(req.Tools))
		for i, t := range req.Tools {
			decls[i] = FunctionDeclaration{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
		}
		out.Tools = []Tool{{FunctionDeclarations: decls}}
	}

	cfg := req.Config
	gc := &GenerationConfig{MaxOutputTokens: cfg.MaxOutputTokens}
	if cfg.Temperature > 0 {
		gc.Temperature = &cfg.Temperature
	}
	if cfg.TopP > 0 {
		gc.TopP = &cfg.TopP
	}
	if cfg.TopK > 0 {
		gc.TopK = &cfg.TopK
	}
	for _, m := range cfg.ResponseModalities {
		gc.ResponseModalities = append(gc.ResponseModalities, string(m))
	}
	out.GenerationConfig = gc
	return out
}

func convertResponse(model string, resp *GenerateResponse) *genai.GenerationResult {
	result := &genai.GenerationResult{Model: model}
	if resp.ModelVersion != "" {
		result.Model = resp.ModelVersion
	}

	if len(resp.Candidates) > 0 {
		var text strings.Builder
		for i, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" {
				text.WriteString(part.Text)
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				result.Images = append(result.Images, genai.Image{
					MIMEType: part.InlineData.MimeType,
					Data:     part.InlineData.Data,
				})
			}
			if part.FunctionCall != nil {
				args := part.FunctionCall.Args
				if args == nil {
					args = map[string]any{}
				}
				result.ToolCalls = append(result.ToolCalls, genai.ToolCall{
					ID:   fmt.Sprintf("gemini_call_%d", i+1),
					Name: part.FunctionCall.Name,
					Args: args,
				})
			}
		}
		result.Text = text.String()
	}

	if resp.UsageMetadata != nil {
		result.Usage = &genai.TokenUsage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		}
	}
	return result
}

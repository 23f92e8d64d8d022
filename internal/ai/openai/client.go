package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"salesengine/pkg/genai"

	openai "github.com/sashabaranov/go-openai"
)

const providerName = "openai"

// Client OpenAI 客户端适配器
type Client struct {
	client *openai.Client
}

// NewClient 创建 OpenAI 客户端
func NewClient(config genai.ClientConfig) (*Client, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, fmt.Errorf("%w: OpenAI API Key 不能为空", genai.ErrMissingCredentials)
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if config.OrgID != "" {
		clientConfig.OrgID = config.OrgID
	}
	if config.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: time.Duration(config.Timeout) * time.Second}
	}

	return &Client{client: openai.NewClientWithConfig(clientConfig)}, nil
}

// Name 返回提供商名称
func (c *Client) Name() string {
	return providerName
}

// Generate 对话补全（非流式）
func (c *Client) Generate(ctx context.Context, req *genai.GenerationRequest) (*genai.GenerationResult, error) {
	openaiReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    buildMessages(req),
		Temperature: float32(req.Config.Temperature),
		TopP:        float32(req.Config.TopP),
		MaxTokens:   req.Config.MaxOutputTokens,
		Tools:       buildTools(req.Tools),
	}

	resp, err := c.client.CreateChatCompletion(ctx, openaiReq)
	if err != nil {
		return nil, wrapError(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return nil, genai.NewStatusError(providerName, 502, "API 返回空响应", nil)
	}

	msg := resp.Choices[0].Message
	result := &genai.GenerationResult{Text: msg.Content, Model: resp.Model}
	if result.Model == "" {
		result.Model = req.Model
	}
	for _, tc := range msg.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			// 参数格式错误时交给工具校验处理
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		}
		result.ToolCalls = append(result.ToolCalls, genai.ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args})
	}
	if resp.Usage.PromptTokens > 0 || resp.Usage.CompletionTokens > 0 {
		result.Usage = &genai.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	return result, nil
}

func buildMessages(req *genai.GenerationRequest) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Contents)+1)
	if req.SystemInstruction != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemInstruction,
		})
	}

	for _, turn := range req.Contents {
		switch turn.Role {
		case genai.RoleModel:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: turn.Text}
			for i, call := range turn.ToolCalls {
				args, _ := json.Marshal(call.Args)
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:       callID(call.ID, call.Name, i),
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: call.Name, Arguments: string(args)},
				})
			}
			messages = append(messages, msg)
		case genai.RoleTool:
			if turn.ToolResult == nil {
				continue
			}
			payload, _ := json.Marshal(turn.ToolResult.Payload)
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    string(payload),
				ToolCallID: callID(turn.ToolResult.CallID, turn.ToolResult.Name, 0),
			})
		default:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: turn.Text,
			})
		}
	}
	return messages
}

// callID 其他提供商的调用可能没有 ID，按名称补齐
func callID(id, name string, index int) string {
	if id != "" {
		return id
	}
	return fmt.Sprintf("call_%s_%d", name, index)
}

func buildTools(schemas []genai.ToolSchema) []openai.Tool {
	if len(schemas) == 0 {
		return nil
	}
	tools := make([]openai.Tool, len(schemas))
	for i, s := range schemas {
		tools[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.Parameters,
			},
		}
	}
	return tools
}

// wrapError 按 HTTP 状态码分类
func wrapError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return genai.NewStatusError(providerName, apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return genai.NewStatusError(providerName, reqErr.HTTPStatusCode, "请求失败", err)
	}
	return genai.NewNetworkError(providerName, err)
}

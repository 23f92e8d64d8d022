package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"salesengine/pkg/genai"

	"github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
)

const (
	providerName     = "anthropic"
	defaultMaxTokens = 1024
)

// Client Anthropic Claude 客户端适配器
type Client struct {
	client anthropic.Client
}

// NewClient 创建 Anthropic 客户端，SDK 自带重试关闭，由上层统一处理
func NewClient(config genai.ClientConfig) (*Client, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, fmt.Errorf("%w: Anthropic API Key 不能为空", genai.ErrMissingCredentials)
	}

	opts := []aoption.RequestOption{
		aoption.WithAPIKey(strings.TrimSpace(config.APIKey)),
		aoption.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		opts = append(opts, aoption.WithBaseURL(strings.TrimSpace(config.BaseURL)))
	}
	if config.Timeout > 0 {
		opts = append(opts, aoption.WithRequestTimeout(time.Duration(config.Timeout)*time.Second))
	}

	return &Client{client: anthropic.NewClient(opts...)}, nil
}

// Name 返回提供商名称
func (c *Client) Name() string {
	return providerName
}

// Generate 非流式生成
func (c *Client) Generate(ctx context.Context, req *genai.GenerationRequest) (*genai.GenerationResult, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: defaultMaxTokens,
		Messages:  buildMessages(req.Contents),
		Tools:     buildTools(req.Tools),
	}
	if req.Config.MaxOutputTokens > 0 {
		params.MaxTokens = int64(req.Config.MaxOutputTokens)
	}
	if req.Config.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Config.Temperature)
	}
	if req.Config.TopP > 0 {
		params.TopP = anthropic.Float(req.Config.TopP)
	}
	if req.Config.TopK > 0 {
		params.TopK = anthropic.Int(int64(req.Config.TopK))
	}
	if system := strings.TrimSpace(req.SystemInstruction); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapError(ctx, err)
	}

	result := &genai.GenerationResult{Model: string(msg.Model)}
	if result.Model == "" {
		result.Model = req.Model
	}

	var text strings.Builder
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			args := map[string]any{}
			if len(variant.Input) > 0 {
				_ = json.Unmarshal(variant.Input, &args)
			}
			result.ToolCalls = append(result.ToolCalls, genai.ToolCall{ID: variant.ID, Name: variant.Name, Args: args})
		}
	}
	result.Text = text.String()

	if msg.Usage.InputTokens > 0 || msg.Usage.OutputTokens > 0 {
		result.Usage = &genai.TokenUsage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		}
	}
	return result, nil
}

func buildMessages(turns []genai.Turn) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case genai.RoleModel:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(turn.ToolCalls))
			if turn.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(turn.Text))
			}
			for i, call := range turn.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(toolUseID(call.ID, i), call.Args, call.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case genai.RoleTool:
			if turn.ToolResult == nil {
				continue
			}
			payload, _ := json.Marshal(turn.ToolResult.Payload)
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(toolUseID(turn.ToolResult.CallID, 0), string(payload), false),
			))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Text)))
		}
	}
	return out
}

func toolUseID(id string, index int) string {
	if id != "" {
		return id
	}
	return fmt.Sprintf("toolu_%d", index)
}

func buildTools(schemas []genai.ToolSchema) []anthropic.ToolUnionParam {
	if len(schemas) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		var required []string
		switch v := s.Parameters["required"].(type) {
		case []string:
			required = v
		case []any:
			for _, item := range v {
				if name, ok := item.(string); ok {
					required = append(required, name)
				}
			}
		}
		param := anthropic.ToolParam{
			Name:        s.Name,
			Description: anthropic.String(s.Description),
			InputSchema: anthropic.ToolInputSchemaParam{Properties: s.Parameters["properties"], Required: required},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out
}

func wrapError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return genai.NewStatusError(providerName, apiErr.StatusCode, "API 调用失败", err)
	}
	return genai.NewNetworkError(providerName, err)
}

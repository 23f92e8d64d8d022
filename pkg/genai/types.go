package genai

import (
	"context"
	"strings"
)

// Role 对话轮次角色
type Role string

const (
	RoleUser  Role = "user"  // 顾客消息
	RoleModel Role = "model" // 助手回复（可能携带工具调用）
	RoleTool  Role = "tool"  // 工具执行结果（合成轮次）
)

// Turn 对话中的一轮
type Turn struct {
	Role       Role        `json:"role"`
	Text       string      `json:"text,omitempty"`
	Images     []Image     `json:"images,omitempty"`      // role=user 时随消息提交的图片
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`  // role=model 时模型请求的工具调用
	ToolResult *ToolResult `json:"tool_result,omitempty"` // role=tool 时的执行结果
}

// Image 内联图片，JSON 中 Data 以 base64 编码
type Image struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// ToolCall 模型请求的工具调用
type ToolCall struct {
	ID   string         `json:"id,omitempty"` // 部分提供商不返回调用 ID
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolResult 回传给模型的工具执行结果
type ToolResult struct {
	CallID  string         `json:"call_id,omitempty"`
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload"`
}

// ToolSchema 工具声明（JSON Schema 参数）
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// GenerationConfig 采样参数
type GenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"top_p"`
	TopK            int     `json:"top_k"`
	MaxOutputTokens int     `json:"max_output_tokens"`

	ResponseModalities []Modality `json:"response_modalities,omitempty"` // 为空时只返回文本
}

// Modality 输出模态
type Modality string

const (
	ModalityText  Modality = "TEXT"
	ModalityImage Modality = "IMAGE"
)

// GenerationRequest 单次生成请求
type GenerationRequest struct {
	Model             string           `json:"model"`
	SystemInstruction string           `json:"system_instruction"`
	Contents          []Turn           `json:"contents"`
	Config            GenerationConfig `json:"config"`
	Tools             []ToolSchema     `json:"tools,omitempty"`
}

// TokenUsage 提供商上报的 Token 用量
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total 总 Token 数
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// GenerationResult 生成结果
// Usage 为 nil 表示提供商未返回用量元数据
type GenerationResult struct {
	Text      string      `json:"text"`
	Model     string      `json:"model"`
	Usage     *TokenUsage `json:"usage,omitempty"`
	ToolCalls []ToolCall  `json:"tool_calls,omitempty"`
	Images    []Image     `json:"images,omitempty"`
}

// HasToolCalls 是否包含工具调用请求
func (r *GenerationResult) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// UsageOrZero 返回用量，缺失时为零值
func (r *GenerationResult) UsageOrZero() TokenUsage {
	if r == nil || r.Usage == nil {
		return TokenUsage{}
	}
	return *r.Usage
}

// TrimmedText 去除首尾空白后的文本
func (r *GenerationResult) TrimmedText() string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.Text)
}

// Provider 生成服务提供商统一接口
type Provider interface {
	// Generate 非流式生成
	Generate(ctx context.Context, req *GenerationRequest) (*GenerationResult, error)

	// Name 返回提供商名称（如 "gemini", "openai"）
	Name() string
}

// ImageCapable 可返回图片的提供商
type ImageCapable interface {
	SupportsImageOutput() bool
}

// SupportsImageOutput 提供商是否支持图片输出
func SupportsImageOutput(p Provider) bool {
	ic, ok := p.(ImageCapable)
	return ok && ic.SupportsImageOutput()
}

// ClientConfig 客户端配置
type ClientConfig struct {
	Provider string // gemini, openai, anthropic
	APIKey   string
	BaseURL  string
	OrgID    string // 仅 OpenAI
	Timeout  int    // 超时时间（秒）
}

package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"salesengine/pkg/genai"
)

// ToolID 工具标识，模型侧名称只在注册表中解析一次
type ToolID int

const (
	ToolCreateOrder ToolID = iota + 1
	ToolCreateBooking
)

// 暴露给模型的函数名
const (
	NameCreateOrder   = "create_order"
	NameCreateBooking = "create_booking"
)

func (id ToolID) String() string {
	switch id {
	case ToolCreateOrder:
		return NameCreateOrder
	case ToolCreateBooking:
		return NameCreateBooking
	default:
		return fmt.Sprintf("tool(%d)", int(id))
	}
}

var (
	// ErrUnknownTool 模型请求了未注册的工具
	ErrUnknownTool = errors.New("未知工具")
	// ErrToolDisabled 工具已注册但当前对话不可用
	ErrToolDisabled = errors.New("工具未启用")
	// ErrInvalidArguments 工具参数校验失败
	ErrInvalidArguments = errors.New("工具参数无效")
	// ErrQuotaExhausted 本月自主下单名额已被占满
	ErrQuotaExhausted = errors.New("本月自主下单名额已用完")
)

// Quota 下单名额，执行工具前占用，未产生订单时归还
type Quota interface {
	Reserve(ctx context.Context) (bool, error)
	Release(ctx context.Context)
}

// Scope 工具执行上下文，Quota 为空时不限额
type Scope struct {
	ShopID         string
	ConversationID string
	Quota          Quota
}

// Result 工具执行结果，失败也以结果返回，不抛错误
type Result struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Failure 构造失败结果
func Failure(err error) Result {
	return Result{Success: false, Error: err.Error()}
}

// Payload 回传给模型的结构化结果
func (r Result) Payload() map[string]any {
	p := map[string]any{"success": r.Success}
	if r.OrderID != "" {
		p["orderId"] = r.OrderID
	}
	if r.Error != "" {
		p["error"] = r.Error
	}
	return p
}

// Handler 工具执行器
type Handler interface {
	Handle(ctx context.Context, scope Scope, args map[string]any) Result
}

// HandlerFunc 函数适配器
type HandlerFunc func(ctx context.Context, scope Scope, args map[string]any) Result

func (f HandlerFunc) Handle(ctx context.Context, scope Scope, args map[string]any) Result {
	return f(ctx, scope, args)
}

type registration struct {
	def     Definition
	handler Handler
}

// Registry 工具注册表
type Registry struct {
	mu     sync.RWMutex
	byID   map[ToolID]*registration
	byName map[string]ToolID
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[ToolID]*registration),
		byName: make(map[string]ToolID),
	}
}

// Register 注册工具
func (r *Registry) Register(def Definition, handler Handler) error {
	if def.ID == 0 || def.Name == "" {
		return fmt.Errorf("工具定义不完整: %v", def.ID)
	}
	if handler == nil {
		return fmt.Errorf("工具 %s 缺少执行器", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[def.ID]; exists {
		return fmt.Errorf("工具 %s 已注册", def.Name)
	}
	if _, exists := r.byName[def.Name]; exists {
		return fmt.Errorf("工具名 %s 已被占用", def.Name)
	}
	r.byID[def.ID] = &registration{def: def, handler: handler}
	r.byName[def.Name] = def.ID
	return nil
}

// Resolve 模型侧名称 → ToolID
func (r *Registry) Resolve(name string) (ToolID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return id, nil
}

// Definition 获取工具定义
func (r *Registry) Definition(id ToolID) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byID[id]
	if !ok {
		return Definition{}, false
	}
	return reg.def, true
}

func (r *Registry) handler(id ToolID) (Handler, Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byID[id]
	if !ok {
		return nil, Definition{}, false
	}
	return reg.handler, reg.def, true
}

// Schemas 指定工具的模型侧声明，按 ToolID 排序，未注册的忽略
func (r *Registry) Schemas(ids []ToolID) []genai.ToolSchema {
	sorted := append([]ToolID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]genai.ToolSchema, 0, len(sorted))
	for _, id := range sorted {
		reg, ok := r.byID[id]
		if !ok {
			continue
		}
		schemas = append(schemas, reg.def.Schema())
	}
	return schemas
}

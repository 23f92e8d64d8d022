package tools

import (
	"fmt"
	"math"
	"strings"

	"salesengine/pkg/genai"
)

// Definition 工具定义（JSON Schema 参数）
type Definition struct {
	ID          ToolID
	Name        string
	Description string
	Parameters  map[string]any
}

// Schema 转为提供商无关的声明
func (d Definition) Schema() genai.ToolSchema {
	return genai.ToolSchema{
		Name:        d.Name,
		Description: d.Description,
		Parameters:  d.Parameters,
	}
}

func (d Definition) required() []string {
	switch v := d.Parameters["required"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func (d Definition) properties() map[string]any {
	props, _ := d.Parameters["properties"].(map[string]any)
	return props
}

// Validate 校验必填字段与基本类型
func (d Definition) Validate(args map[string]any) error {
	for _, key := range d.required() {
		v, ok := args[key]
		if !ok || isEmpty(v) {
			return fmt.Errorf("%w: 缺少字段 %s", ErrInvalidArguments, key)
		}
	}

	props := d.properties()
	for key, v := range args {
		spec, ok := props[key].(map[string]any)
		if !ok || v == nil {
			continue
		}
		want, _ := spec["type"].(string)
		if !matchesType(want, v) {
			return fmt.Errorf("%w: 字段 %s 应为 %s", ErrInvalidArguments, key, want)
		}
	}
	return nil
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}

func matchesType(want string, v any) bool {
	switch want {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		_, ok := toFloat(v)
		return ok
	case "integer":
		f, ok := toFloat(v)
		return ok && f == math.Trunc(f)
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	default:
		return true
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}

// OrderDefinition 下单工具
var OrderDefinition = Definition{
	ID:   ToolCreateOrder,
	Name: NameCreateOrder,
	Description: "Create an order for the customer after they have explicitly confirmed the items, " +
		"quantities and delivery details. Returns the order ID on success.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"customer_name": map[string]any{"type": "string", "description": "Customer's full name"},
			"phone":         map[string]any{"type": "string", "description": "Customer's phone number"},
			"items": map[string]any{
				"type":        "array",
				"description": "Products being ordered",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":     map[string]any{"type": "string"},
						"quantity": map[string]any{"type": "integer"},
						"notes":    map[string]any{"type": "string"},
					},
					"required": []string{"name", "quantity"},
				},
			},
			"delivery_address": map[string]any{"type": "string", "description": "Delivery address, if delivery is needed"},
			"notes":            map[string]any{"type": "string", "description": "Any extra notes from the customer"},
		},
		"required": []string{"customer_name", "phone", "items"},
	},
}

// BookingDefinition 预约工具
var BookingDefinition = Definition{
	ID:   ToolCreateBooking,
	Name: NameCreateBooking,
	Description: "Book an appointment or reservation for the customer after they have explicitly " +
		"confirmed the service, date and time. Returns the booking ID on success.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"customer_name": map[string]any{"type": "string", "description": "Customer's full name"},
			"phone":         map[string]any{"type": "string", "description": "Customer's phone number"},
			"service":       map[string]any{"type": "string", "description": "Service being booked"},
			"date":          map[string]any{"type": "string", "description": "Preferred date, YYYY-MM-DD"},
			"time":          map[string]any{"type": "string", "description": "Preferred time, HH:MM"},
			"notes":         map[string]any{"type": "string", "description": "Any extra notes from the customer"},
		},
		"required": []string{"customer_name", "phone", "service", "date"},
	},
}

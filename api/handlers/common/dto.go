package common

import (
	"github.com/gin-gonic/gin"
)

// APIResponse 通用响应结构，用于封装成功或失败结果。
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// ListResponse 列表响应结构。
type ListResponse struct {
	Items interface{} `json:"items"`
	Total int         `json:"total"`
}

// OK 写出成功响应。
func OK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, APIResponse{Success: true, Data: data})
}

// Fail 写出失败响应，code 为机器可读的错误类别。
func Fail(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, APIResponse{Success: false, Code: code, Error: message})
}

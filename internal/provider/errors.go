package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrZoneNotFound 没有与域名匹配的托管区域
	ErrZoneNotFound = errors.New("未找到托管区域")

	// ErrZoneNotUsable 匹配的区域已停用或未委派到平台
	ErrZoneNotUsable = errors.New("托管区域不可用")

	// ErrRecordNotFound 待删除的记录不存在（不是错误）
	ErrRecordNotFound = errors.New("记录不存在")
)

// APIError 云平台接口调用失败：网络错误、非2xx状态或平台返回的错误码
type APIError struct {
	Provider   string
	Action     string
	StatusCode int
	Code       string
	Message    string
	RequestID  string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] 调用 %s 失败: %v", e.Provider, e.Action, e.Err)
	}
	msg := fmt.Sprintf("[%s] 调用 %s 失败: %s", e.Provider, e.Action, e.Message)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.RequestID != "" {
		msg += " RequestId=" + e.RequestID
	}
	return msg
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsAPIError 判断错误是否为接口调用失败，并返回错误码
func IsAPIError(err error) (code string, ok bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	return "", false
}

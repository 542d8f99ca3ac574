// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType 错误类型
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation_error"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeError      ErrorType = "processing_error"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeTimeout    ErrorType = "timeout"

	// 模型输出无法恢复出任何结构
	ErrorTypeDecodeSyntax ErrorType = "decode_syntax_error"
	// 结构已恢复但不满足分镜约束(场景/镜头数量)
	ErrorTypeDecodeValidation ErrorType = "decode_validation_error"
	// 向量检索服务不可达或返回非成功状态
	ErrorTypeRetrievalTransport ErrorType = "retrieval_transport_error"
	// 上游语言模型调用失败
	ErrorTypeUpstream ErrorType = "upstream_error"
)

// AppError 应用错误
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError 创建 AppError
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

func NewProcessingError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeError, message, originalError)
}

func NewConflictError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeConflict, message, originalError)
}

func NewUpstreamError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeUpstream, message, originalError)
}

// NewDecodeSyntaxError 所有恢复层级均失败
func NewDecodeSyntaxError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeDecodeSyntax, message, originalError)
}

// SceneShortfall 镜头数量不足的场景
type SceneShortfall struct {
	Name  string
	Count int
}

// NewDecodeValidationError 生成包含不合格场景名称与镜头数的校验错误
func NewDecodeValidationError(reason string, shortfalls []SceneShortfall) *AppError {
	msg := reason
	if len(shortfalls) > 0 {
		parts := make([]string, 0, len(shortfalls))
		for _, s := range shortfalls {
			parts = append(parts, fmt.Sprintf("%s(%d shots)", s.Name, s.Count))
		}
		msg = fmt.Sprintf("%s: %s", reason, strings.Join(parts, ", "))
	}
	return NewAppError(ErrorTypeDecodeValidation, msg, nil)
}

func NewRetrievalTransportError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeRetrievalTransport, message, originalError)
}

func isType(err error, t ErrorType) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == t
	}
	return false
}

func IsValidationError(err error) bool { return isType(err, ErrorTypeValidation) }

func IsNotFoundError(err error) bool { return isType(err, ErrorTypeNotFound) }

func IsConflictError(err error) bool { return isType(err, ErrorTypeConflict) }

func IsDecodeSyntaxError(err error) bool { return isType(err, ErrorTypeDecodeSyntax) }

func IsDecodeValidationError(err error) bool { return isType(err, ErrorTypeDecodeValidation) }

// IsDecodeError 解码失败(语法或校验)
func IsDecodeError(err error) bool {
	return IsDecodeSyntaxError(err) || IsDecodeValidationError(err)
}

func IsRetrievalTransportError(err error) bool { return isType(err, ErrorTypeRetrievalTransport) }

func IsUpstreamError(err error) bool { return isType(err, ErrorTypeUpstream) }

// TypeOf 返回错误链中第一个 AppError 的类型，没有则为空
func TypeOf(err error) ErrorType {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type
	}
	return ""
}

func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeError:
		return "PROCESSING_ERROR"
	case ErrorTypeConflict:
		return "CONFLICT"
	case ErrorTypeTimeout:
		return "TIMEOUT"
	case ErrorTypeDecodeSyntax:
		return "DECODE_SYNTAX"
	case ErrorTypeDecodeValidation:
		return "DECODE_VALIDATION"
	case ErrorTypeRetrievalTransport:
		return "RETRIEVAL_TRANSPORT"
	case ErrorTypeUpstream:
		return "UPSTREAM_ERROR"
	default:
		return "UNKNOWN_ERROR"
	}
}

// WrapError 包装错误；已是 AppError 时保留类型与代码
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		return &AppError{
			Type:    appError.Type,
			Message: fmt.Sprintf("%s: %s", message, appError.Message),
			Err:     appError,
			Code:    appError.Code,
		}
	}
	return NewAppError(errType, message, err)
}

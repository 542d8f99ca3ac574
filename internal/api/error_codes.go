// internal/api/error_codes.go
package api

// API错误代码常量
const (
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"
	ErrorTimeout       = "TIMEOUT"
	ErrorRateLimited   = "RATE_LIMIT_EXCEEDED"

	// 剧本解码
	ErrorDecodeSyntax     = "DECODE_SYNTAX"
	ErrorDecodeValidation = "DECODE_VALIDATION"

	// 外部服务
	ErrorLLMServiceUnavailable = "LLM_SERVICE_UNAVAILABLE"
	ErrorVectorUnavailable     = "VECTOR_SERVICE_UNAVAILABLE"
	ErrorLibraryUnavailable    = "LIBRARY_SERVICE_UNAVAILABLE"
)

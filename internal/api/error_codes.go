// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"

	// 分类与校验相关错误
	ErrorValidationFailed = "VALIDATION_FAILED"
	ErrorEmptyInput       = "EMPTY_INPUT"
	ErrorNoFilesSelected  = "NO_FILES_SELECTED"
	ErrorNoScriptResult   = "NO_SCRIPT_RESULT"

	// 生成链路相关错误
	ErrorScriptGenerateFailed = "SCRIPT_GENERATE_FAILED"
	ErrorAudioGenerateFailed  = "AUDIO_GENERATE_FAILED"
	ErrorGenerationInFlight   = "GENERATION_IN_FLIGHT"
	ErrorBackendUnavailable   = "BACKEND_UNAVAILABLE"

	// 文件相关错误
	ErrorFileUploadFailed = "FILE_UPLOAD_FAILED"
	ErrorFileInvalid      = "FILE_INVALID"
	ErrorFileTooLarge     = "FILE_TOO_LARGE"

	// 导出相关错误
	ErrorExportFailed             = "EXPORT_FAILED"
	ErrorExportServiceUnavailable = "EXPORT_SERVICE_UNAVAILABLE"
	ErrorExportFormatInvalid      = "EXPORT_FORMAT_INVALID"
	ErrorExportDataEmpty          = "EXPORT_DATA_EMPTY"

	// 配置相关错误
	ErrorConfigInvalid     = "CONFIG_INVALID"
	ErrorSettingsImmutable = "SETTINGS_IMMUTABLE"
)

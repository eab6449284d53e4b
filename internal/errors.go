package internal

import (
	"errors"
	"fmt"
)

// 錯誤碼
//
// HTTP 狀態碼映射：
//   - CodeNotFound   → 404 Not Found（大廳或成員不存在、已過期、已關閉）
//   - CodeCapacity   → 409 Conflict（大廳已滿、人數上限不合法）
//   - CodeDuplicate  → 409 Conflict（玩家已在大廳內）
//   - CodeValidation → 400 Bad Request（名稱、加入碼、資料格式錯誤）
//   - CodeForbidden  → 403 Forbidden（非房主執行房主操作）
const (
	CodeNotFound   = "NOT_FOUND"
	CodeCapacity   = "CAPACITY"
	CodeDuplicate  = "DUPLICATE"
	CodeValidation = "INVALID_INPUT"
	CodeForbidden  = "FORBIDDEN"
)

// LobbyError 大廳操作錯誤
type LobbyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *LobbyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *LobbyError) Unwrap() error {
	return e.Err
}

// Is 以錯誤碼比對，讓 errors.Is(err, ErrNotFound) 對任何 NOT_FOUND 錯誤成立
func (e *LobbyError) Is(target error) bool {
	t, ok := target.(*LobbyError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// 預定義錯誤（僅用於 errors.Is 比對）
var (
	ErrNotFound   = &LobbyError{Code: CodeNotFound, Message: "lobby or member not found"}
	ErrCapacity   = &LobbyError{Code: CodeCapacity, Message: "lobby capacity violated"}
	ErrDuplicate  = &LobbyError{Code: CodeDuplicate, Message: "player already a member"}
	ErrValidation = &LobbyError{Code: CodeValidation, Message: "invalid input"}
	ErrForbidden  = &LobbyError{Code: CodeForbidden, Message: "operation requires host"}
)

func newError(code, format string, args ...any) *LobbyError {
	return &LobbyError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) error {
	return newError(CodeNotFound, format, args...)
}

func capacityError(format string, args ...any) error {
	return newError(CodeCapacity, format, args...)
}

func duplicateError(format string, args ...any) error {
	return newError(CodeDuplicate, format, args...)
}

func validationError(format string, args ...any) error {
	return newError(CodeValidation, format, args...)
}

func forbidden(format string, args ...any) error {
	return newError(CodeForbidden, format, args...)
}

// ErrorCode 取出錯誤碼，非 LobbyError 返回空字串
func ErrorCode(err error) string {
	var le *LobbyError
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

// IsNotFound 檢查是否為不存在錯誤
func IsNotFound(err error) bool {
	return ErrorCode(err) == CodeNotFound
}

// IsCapacity 檢查是否為容量錯誤
func IsCapacity(err error) bool {
	return ErrorCode(err) == CodeCapacity
}

// IsDuplicate 檢查是否為重複加入錯誤
func IsDuplicate(err error) bool {
	return ErrorCode(err) == CodeDuplicate
}

// IsValidation 檢查是否為驗證錯誤
func IsValidation(err error) bool {
	return ErrorCode(err) == CodeValidation
}

// IsForbidden 檢查是否為權限錯誤
func IsForbidden(err error) bool {
	return ErrorCode(err) == CodeForbidden
}

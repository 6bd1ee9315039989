package media_sdp

import (
	"errors"
	"fmt"
)

// SDPErrorCode код ошибки разбора или генерации SDP
type SDPErrorCode int

const (
	ErrorCodeSDPParsing       SDPErrorCode = iota + 2000 // Тело SDP не соответствует RFC 4566
	ErrorCodeNoMedia                                     // В SDP нет ни одной m= строки
	ErrorCodeMissingAttribute                            // Нет обязательного атрибута
	ErrorCodeInvalidAttribute                            // Значение атрибута не разбирается
	ErrorCodeSDPGeneration                               // Ошибка построения SDP
	ErrorCodeInvalidParams                               // Некорректные параметры построения
)

func (c SDPErrorCode) String() string {
	switch c {
	case ErrorCodeSDPParsing:
		return "SDPParsing"
	case ErrorCodeNoMedia:
		return "NoMedia"
	case ErrorCodeMissingAttribute:
		return "MissingAttribute"
	case ErrorCodeInvalidAttribute:
		return "InvalidAttribute"
	case ErrorCodeSDPGeneration:
		return "SDPGeneration"
	case ErrorCodeInvalidParams:
		return "InvalidParams"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// SDPError ошибка SDP операций
type SDPError struct {
	Code    SDPErrorCode
	Message string
	Wrapped error
}

// NewSDPError создает SDP ошибку
func NewSDPError(code SDPErrorCode, format string, args ...interface{}) *SDPError {
	return &SDPError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapSDPError оборачивает существующую ошибку в SDPError
func WrapSDPError(code SDPErrorCode, err error, format string, args ...interface{}) *SDPError {
	return &SDPError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Wrapped: err,
	}
}

// Error реализует интерфейс error
func (e *SDPError) Error() string {
	msg := fmt.Sprintf("SDP Error [%s]: %s", e.Code, e.Message)
	if e.Wrapped != nil {
		msg += fmt.Sprintf(" - Wrapped: %v", e.Wrapped)
	}
	return msg
}

// Unwrap возвращает обернутую ошибку для поддержки errors.Is/As
func (e *SDPError) Unwrap() error {
	return e.Wrapped
}

// Is сравнивает ошибки по коду
func (e *SDPError) Is(target error) bool {
	if t, ok := target.(*SDPError); ok {
		return e.Code == t.Code
	}
	return false
}

// IsSDPError проверяет, является ли ошибка SDPError с указанным кодом
func IsSDPError(err error, code SDPErrorCode) bool {
	var sdpErr *SDPError
	if !errors.As(err, &sdpErr) {
		return false
	}
	return sdpErr.Code == code
}

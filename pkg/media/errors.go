package media

import (
	"errors"
	"fmt"
)

// RtpErrorCode код ошибки подготовки и управления RTP сессией
type RtpErrorCode int

const (
	// Ошибки подготовки ресурсов
	ErrorCodeBind       RtpErrorCode = iota + 1000 // Не удалось открыть или привязать сокет
	ErrorCodeDevice                                // Устройство захвата или рендерер недоступны
	ErrorCodeCodecChain                            // Не удалось построить цепочку кодеков

	// Ошибки управления сессией
	ErrorCodeSessionNotPrepared // StartSession до PrepareSession
	ErrorCodeSessionPrepared    // Повторный PrepareSession
	ErrorCodeSessionStart       // Processor не запустился
)

// String возвращает строковое представление кода ошибки
func (code RtpErrorCode) String() string {
	switch code {
	case ErrorCodeBind:
		return "Bind"
	case ErrorCodeDevice:
		return "Device"
	case ErrorCodeCodecChain:
		return "CodecChain"
	case ErrorCodeSessionNotPrepared:
		return "SessionNotPrepared"
	case ErrorCodeSessionPrepared:
		return "SessionPrepared"
	case ErrorCodeSessionStart:
		return "SessionStart"
	default:
		return fmt.Sprintf("Unknown(%d)", int(code))
	}
}

// PrepareResourcesMessage сообщение всех ошибок подготовки сессии
const PrepareResourcesMessage = "Can't prepare resources"

// RtpError ошибка уровня RTP сессии. Все ошибки подготовки имеют одно
// сообщение PrepareResourcesMessage, а категория сбоя передается кодом.
// Исходная причина доступна через errors.Unwrap / errors.As.
type RtpError struct {
	Code      RtpErrorCode
	Message   string
	SessionID string
	Context   map[string]interface{}
	Wrapped   error
}

// Error реализует интерфейс error
func (e *RtpError) Error() string {
	msg := e.Message
	if e.SessionID != "" {
		msg = fmt.Sprintf("сессия %s: %s", e.SessionID, msg)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("[rtp:%s] %s: %v", e.Code, msg, e.Wrapped)
	}
	return fmt.Sprintf("[rtp:%s] %s", e.Code, msg)
}

// Unwrap возвращает обернутую ошибку
func (e *RtpError) Unwrap() error {
	return e.Wrapped
}

// Is сравнивает ошибки по коду
func (e *RtpError) Is(target error) bool {
	if t, ok := target.(*RtpError); ok {
		return e.Code == t.Code
	}
	return false
}

// GetContext возвращает значение из контекста ошибки по ключу
func (e *RtpError) GetContext(key string) interface{} {
	if e.Context == nil {
		return nil
	}
	return e.Context[key]
}

// Образцы для errors.Is
var (
	ErrBind       = &RtpError{Code: ErrorCodeBind}
	ErrDevice     = &RtpError{Code: ErrorCodeDevice}
	ErrCodecChain = &RtpError{Code: ErrorCodeCodecChain}
)

// newPrepareError оборачивает причину сбоя подготовки сессии
func newPrepareError(code RtpErrorCode, sessionID string, cause error, context map[string]interface{}) *RtpError {
	return &RtpError{
		Code:      code,
		Message:   PrepareResourcesMessage,
		SessionID: sessionID,
		Context:   context,
		Wrapped:   cause,
	}
}

func newSessionError(code RtpErrorCode, sessionID, message string, cause error) *RtpError {
	return &RtpError{
		Code:      code,
		Message:   message,
		SessionID: sessionID,
		Wrapped:   cause,
	}
}

// HasErrorCode проверяет, содержит ли цепочка ошибок RtpError с кодом code
func HasErrorCode(err error, code RtpErrorCode) bool {
	var rtpErr *RtpError
	if errors.As(err, &rtpErr) {
		return rtpErr.Code == code
	}
	return false
}

// ErrCodecNotSupported кодек отсутствует в реестре
var ErrCodecNotSupported = errors.New("кодек не поддерживается")

// ErrEncoderUnavailable для кодека нет исходящей цепочки
var ErrEncoderUnavailable = errors.New("кодер недоступен")

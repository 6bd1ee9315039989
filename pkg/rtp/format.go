package rtp

import (
	"fmt"
	"strings"
)

// MediaType тип медиа формата
type MediaType int

const (
	MediaTypeAudio MediaType = iota // Аудио
	MediaTypeVideo                  // Видео
)

func (m MediaType) String() string {
	switch m {
	case MediaTypeAudio:
		return "audio"
	case MediaTypeVideo:
		return "video"
	default:
		return "unknown"
	}
}

// Значения по умолчанию для видео форматов
const (
	// QCIFWidth ширина QCIF кадра
	QCIFWidth = 176
	// QCIFHeight высота QCIF кадра
	QCIFHeight = 144
)

// PayloadTypeDynamic первый динамический payload type (RFC 3551)
const PayloadTypeDynamic uint8 = 96

// Format описывает возможности кодека: имя кодировки и параметры.
// Экземпляры создаются реестром кодеков и не изменяются после создания.
type Format struct {
	Encoding    string    // Имя кодировки (MIME subtype), например "H264"
	MediaType   MediaType // Аудио или видео
	PayloadType uint8     // RTP payload type
	ClockRate   uint32    // Частота RTP часов
	Channels    int       // Количество каналов (аудио)
	Width       int       // Ширина кадра (видео)
	Height      int       // Высота кадра (видео)
}

// Matches сравнивает имя кодировки без учета регистра
func (f *Format) Matches(encoding string) bool {
	return f != nil && strings.EqualFold(f.Encoding, encoding)
}

// WithPayloadType возвращает копию формата с другим payload type
func (f Format) WithPayloadType(pt uint8) *Format {
	f.PayloadType = pt
	return &f
}

// WithSize возвращает копию видео формата с заданными размерами кадра
func (f Format) WithSize(width, height int) *Format {
	f.Width = width
	f.Height = height
	return &f
}

func (f *Format) String() string {
	if f == nil {
		return "<nil>"
	}
	if f.MediaType == MediaTypeVideo && f.Width > 0 {
		return fmt.Sprintf("%s/%d pt=%d %dx%d", f.Encoding, f.ClockRate, f.PayloadType, f.Width, f.Height)
	}
	return fmt.Sprintf("%s/%d pt=%d", f.Encoding, f.ClockRate, f.PayloadType)
}

package content

import (
	"maps"
	"path/filepath"
	"slices"
	"strings"
)

// Часто используемые MIME типы
const (
	MimeOctetStream = "application/octet-stream"
	MimeGeoloc      = "application/vnd.gsma.rcspushlocation+xml"
	MimeVCard       = "text/vcard"
	MimeXVCard      = "text/x-vcard"
)

// defaultMimeTypes расширение -> MIME тип. Первое расширение для
// каждого типа используется в ExtensionFromMime.
var defaultMimeTypes = []struct {
	ext  string
	mime string
}{
	{"jpg", "image/jpeg"},
	{"jpeg", "image/jpeg"},
	{"jpe", "image/jpeg"},
	{"png", "image/png"},
	{"gif", "image/gif"},
	{"bmp", "image/bmp"},
	{"webp", "image/webp"},
	{"heic", "image/heic"},

	{"3gp", "video/3gpp"},
	{"mp4", "video/mp4"},
	{"m4v", "video/mp4"},
	{"mpeg", "video/mpeg"},
	{"mpg", "video/mpeg"},
	{"webm", "video/webm"},
	{"h264", "video/H264"},

	{"amr", "audio/amr"},
	{"mp3", "audio/mpeg"},
	{"m4a", "audio/mp4"},
	{"aac", "audio/aac"},
	{"wav", "audio/wav"},
	{"ogg", "audio/ogg"},
	{"opus", "audio/opus"},

	{"vcf", MimeXVCard},
	{"xml", MimeGeoloc},

	{"txt", "text/plain"},
	{"html", "text/html"},
	{"pdf", "application/pdf"},
	{"zip", "application/zip"},
	{"bin", MimeOctetStream},
}

// MimeManager неизменяемая таблица соответствия расширений файлов и
// MIME типов
type MimeManager struct {
	byExt  map[string]string
	byMime map[string]string
}

// NewMimeManager создает таблицу по умолчанию, дополненную extra
// (расширение -> MIME). Расширения сравниваются без учета регистра.
func NewMimeManager(extra map[string]string) *MimeManager {
	m := &MimeManager{
		byExt:  make(map[string]string, len(defaultMimeTypes)+len(extra)),
		byMime: make(map[string]string, len(defaultMimeTypes)+len(extra)),
	}
	for _, e := range defaultMimeTypes {
		m.add(e.ext, e.mime)
	}
	// детерминированный порядок для byMime
	for _, ext := range slices.Sorted(maps.Keys(extra)) {
		m.add(ext, extra[ext])
	}
	return m
}

func (m *MimeManager) add(ext, mime string) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	mime = strings.TrimSpace(mime)
	if ext == "" || mime == "" {
		return
	}
	m.byExt[ext] = mime
	if _, ok := m.byMime[strings.ToLower(mime)]; !ok {
		m.byMime[strings.ToLower(mime)] = ext
	}
}

// MimeTypeFromExtension MIME тип для расширения ("jpg" или ".jpg")
func (m *MimeManager) MimeTypeFromExtension(ext string) (string, bool) {
	mime, ok := m.byExt[strings.ToLower(strings.TrimPrefix(ext, "."))]
	return mime, ok
}

// MimeTypeFromFileName MIME тип по расширению имени файла
func (m *MimeManager) MimeTypeFromFileName(fileName string) (string, bool) {
	ext := FileExtension(fileName)
	if ext == "" {
		return "", false
	}
	return m.MimeTypeFromExtension(ext)
}

// ExtensionFromMime расширение без точки для MIME типа
func (m *MimeManager) ExtensionFromMime(mime string) (string, bool) {
	ext, ok := m.byMime[strings.ToLower(strings.TrimSpace(mime))]
	return ext, ok
}

// FileExtension расширение имени файла без точки, пустое если его нет
func FileExtension(fileName string) string {
	return strings.TrimPrefix(filepath.Ext(fileName), ".")
}

func mimeCategory(mime string) string {
	category, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(mime)), "/")
	return category
}

// IsImage MIME тип изображения
func IsImage(mime string) bool { return mimeCategory(mime) == "image" }

// IsVideo MIME тип видео
func IsVideo(mime string) bool { return mimeCategory(mime) == "video" }

// IsAudio MIME тип аудио
func IsAudio(mime string) bool { return mimeCategory(mime) == "audio" }

// IsVCard MIME тип визитной карточки
func IsVCard(mime string) bool {
	mime = strings.ToLower(strings.TrimSpace(mime))
	return mime == MimeVCard || mime == MimeXVCard || mime == "text/directory"
}

// IsGeoloc MIME тип геолокации RCS
func IsGeoloc(mime string) bool {
	return strings.EqualFold(strings.TrimSpace(mime), MimeGeoloc)
}

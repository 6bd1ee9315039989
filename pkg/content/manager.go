package content

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/rcs_media/pkg/media"
	"github.com/arzzra/rcs_media/pkg/media_sdp"
	"github.com/arzzra/rcs_media/pkg/rtp"
)

// Размер кадра QCIF, используется при некорректном атрибуте framesize
const (
	QCIFWidth  = rtp.QCIFWidth
	QCIFHeight = rtp.QCIFHeight
)

// Значения по умолчанию для параметров file-selector
const (
	defaultSelectorType = MimeOctetStream
	defaultSelectorSize = "-1"
	defaultSelectorName = ""
)

// DispositionRender значение file-disposition для контента, который
// следует сразу показать пользователю
const DispositionRender = "render"

// SentDirectory подкаталог корня для отправленных файлов
const SentDirectory = "sent"

// Settings корневые каталоги для сохранения контента
type Settings struct {
	PhotoRootDirectory string
	VideoRootDirectory string
	FileRootDirectory  string
}

// Validate проверяет, что все каталоги заданы
func (s Settings) Validate() error {
	if s.PhotoRootDirectory == "" || s.VideoRootDirectory == "" || s.FileRootDirectory == "" {
		return fmt.Errorf("%w: не заданы каталоги для контента", ErrInvalidArgument)
	}
	return nil
}

func (s Settings) rootFor(mime string) string {
	switch {
	case IsImage(mime):
		return s.PhotoRootDirectory
	case IsVideo(mime):
		return s.VideoRootDirectory
	default:
		return s.FileRootDirectory
	}
}

// ContentManager строит описания контента из SDP и локальных файлов и
// выбирает пути сохранения без коллизий имен
type ContentManager struct {
	settings Settings
	mime     *MimeManager
	registry *media.MediaRegistry
	logger   *slog.Logger
}

// NewContentManager создает менеджер контента. mime и registry
// обязательны; logger по умолчанию slog.Default().
func NewContentManager(settings Settings, mime *MimeManager, registry *media.MediaRegistry, logger *slog.Logger) (*ContentManager, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if mime == nil || registry == nil {
		return nil, fmt.Errorf("%w: не задана таблица MIME или реестр кодеков", ErrInvalidArgument)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ContentManager{
		settings: settings,
		mime:     mime,
		registry: registry,
		logger:   logger.With(slog.String("component", "content_manager")),
	}, nil
}

// Mime таблица MIME типов менеджера
func (m *ContentManager) Mime() *MimeManager { return m.mime }

// GenerateURIForReceivedContent путь для сохранения принятого файла.
// Если файл уже существует, перед расширением добавляется _1, _2, ...
// Файл без расширения получает суффикс в конце имени.
func (m *ContentManager) GenerateURIForReceivedContent(fileName, mime string) (*url.URL, error) {
	if fileName == "" {
		return nil, fmt.Errorf("%w: пустое имя файла", ErrInvalidArgument)
	}
	path, err := uniquePath(m.settings.rootFor(mime), fileName)
	if err != nil {
		return nil, err
	}
	return fileURI(path), nil
}

// GenerateURIForSentContent путь для копии отправляемого файла в
// подкаталоге sent. Имя файла обязано иметь расширение.
func (m *ContentManager) GenerateURIForSentContent(fileName, mime string) (*url.URL, error) {
	if FileExtension(fileName) == "" {
		return nil, fmt.Errorf("%w: у файла %q нет расширения", ErrInvalidArgument, fileName)
	}
	path, err := uniquePath(filepath.Join(m.settings.rootFor(mime), SentDirectory), fileName)
	if err != nil {
		return nil, err
	}
	return fileURI(path), nil
}

// uniquePath первый несуществующий путь вида dir/name, dir/name_1.ext, ...
// Проверка и создание файла не атомарны: вызывающий создает файл сразу.
func uniquePath(dir, fileName string) (string, error) {
	name := filepath.Base(fileName)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	candidate := filepath.Join(dir, name)
	for i := 1; ; i++ {
		_, err := os.Stat(candidate)
		if errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("проверка файла %s: %w", candidate, err)
		}
		candidate = filepath.Join(dir, stem+"_"+strconv.Itoa(i)+ext)
	}
}

func fileURI(path string) *url.URL {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return &url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
}

// CreateMmContent создает описание контента, определяя MIME тип по
// расширению fileName
func (m *ContentManager) CreateMmContent(uri *url.URL, size int64, fileName string) (MmContent, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: отрицательный размер %d", ErrInvalidArgument, size)
	}
	if fileName == "" {
		return nil, fmt.Errorf("%w: пустое имя файла", ErrInvalidArgument)
	}
	mime, ok := m.mime.MimeTypeFromFileName(fileName)
	if !ok {
		return nil, fmt.Errorf("%w: неизвестный MIME тип для %q", ErrInvalidArgument, fileName)
	}
	return CreateMmContentFromMime(uri, mime, size, fileName), nil
}

// CreateMmContentFromMime выбирает вариант контента по категории MIME типа
func CreateMmContentFromMime(uri *url.URL, mime string, size int64, fileName string) MmContent {
	switch {
	case IsImage(mime):
		return NewPhotoContent(uri, mime, size, fileName)
	case IsVideo(mime):
		return NewVideoContent(uri, mime, size, fileName)
	case IsAudio(mime):
		return NewAudioContent(uri, mime, size, fileName)
	case IsVCard(mime):
		return NewVisitCardContent(uri, mime, size, fileName)
	case IsGeoloc(mime):
		return NewGeolocContent(uri, size, fileName)
	default:
		c := NewFileContent(uri, size, fileName)
		c.encoding = mime
		return c
	}
}

// CreateLiveVideoContent live видео с заданным кодеком и размером кадра
func CreateLiveVideoContent(codec string, width, height int) *LiveVideoContent {
	return NewLiveVideoContent(codec, width, height)
}

// CreateGenericLiveVideoContent live видео без конкретного кодека (video/*)
func CreateGenericLiveVideoContent() *LiveVideoContent {
	return NewLiveVideoContent("*", 0, 0)
}

// CreateLiveAudioContent live аудио с заданным кодеком
func CreateLiveAudioContent(codec string) *LiveAudioContent {
	return NewLiveAudioContent(codec)
}

// CreateGenericLiveAudioContent live аудио без конкретного кодека (audio/*)
func CreateGenericLiveAudioContent() *LiveAudioContent {
	return NewLiveAudioContent("*")
}

// CreateLiveVideoContentFromSdp строит описание live видео из SDP.
// Возвращает nil без ошибки, если видео блока нет.
func (m *ContentManager) CreateLiveVideoContentFromSdp(body []byte) (*LiveVideoContent, error) {
	desc, md, err := m.selectMedia(body, "video")
	if err != nil || md == nil {
		return nil, err
	}

	pt, codec, err := m.extractCodec(md)
	if err != nil {
		return nil, err
	}
	width, height := m.extractFramesize(md, pt)

	m.logger.Debug("live video content from SDP",
		slog.String("origin", desc.Origin()),
		slog.String("codec", codec),
		slog.String("payload_type", pt),
		slog.Int("width", width),
		slog.Int("height", height))

	c := NewLiveVideoContent(codec, width, height)
	c.payloadType = payloadTypeNumber(pt)
	return c, nil
}

// CreateLiveAudioContentFromSdp строит описание live аудио из SDP.
// Возвращает nil без ошибки, если аудио блока нет.
func (m *ContentManager) CreateLiveAudioContentFromSdp(body []byte) (*LiveAudioContent, error) {
	desc, md, err := m.selectMedia(body, "audio")
	if err != nil || md == nil {
		return nil, err
	}

	pt, codec, err := m.extractCodec(md)
	if err != nil {
		return nil, err
	}

	m.logger.Debug("live audio content from SDP",
		slog.String("origin", desc.Origin()),
		slog.String("codec", codec),
		slog.String("payload_type", pt))

	c := NewLiveAudioContent(codec)
	c.payloadType = payloadTypeNumber(pt)
	return c, nil
}

// payloadTypeNumber числовое значение payload type из m= строки.
// Значение вне 0-127 считается не согласованным.
func payloadTypeNumber(pt string) int {
	n, err := strconv.ParseUint(pt, 10, 7)
	if err != nil {
		return PayloadTypeUnset
	}
	return int(n)
}

// selectMedia разбирает SDP и выбирает блок нужного типа: единственный
// блок должен совпадать по типу, иначе берется первый подходящий
func (m *ContentManager) selectMedia(body []byte, kind string) (*media_sdp.SessionDescription, *media_sdp.MediaDescription, error) {
	desc, err := media_sdp.Parse(body)
	if err != nil {
		if media_sdp.IsSDPError(err, media_sdp.ErrorCodeNoMedia) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("%w: %w", ErrPayload, err)
	}

	md, ok := desc.FindMedia(kind)
	if !ok {
		m.logger.Debug("no matching media block",
			slog.String("kind", kind),
			slog.Int("media_count", desc.MediaCount()))
		return desc, nil, nil
	}
	return desc, md, nil
}

// extractCodec первый payload type блока и имя кодека: из rtpmap, а без
// него из статической таблицы RFC 3551
func (m *ContentManager) extractCodec(md *media_sdp.MediaDescription) (string, string, error) {
	payloads := md.Payloads()
	if len(payloads) == 0 {
		return "", "", fmt.Errorf("%w: в блоке %s нет форматов", ErrPayload, md.Name())
	}
	pt := payloads[0]

	if value, ok := md.AttributeForPayload(media_sdp.AttrRtpmap, pt); ok {
		rtpmap, err := media_sdp.ParseRtpmap(pt + " " + value)
		if err != nil {
			return "", "", fmt.Errorf("%w: %w", ErrPayload, err)
		}
		return pt, rtpmap.Codec, nil
	}

	if n, err := strconv.ParseUint(pt, 10, 8); err == nil {
		if format, ok := m.registry.FormatForPayloadType(uint8(n)); ok {
			return pt, format.Encoding, nil
		}
	}

	return "", "", fmt.Errorf("%w: не найден rtpmap для payload type %s", ErrPayload, pt)
}

// extractFramesize размер кадра из framesize для payload type pt.
// Нет атрибута - 0x0, некорректное значение - QCIF.
func (m *ContentManager) extractFramesize(md *media_sdp.MediaDescription, pt string) (int, int) {
	value, ok := md.AttributeForPayload(media_sdp.AttrFramesize, pt)
	if !ok {
		return 0, 0
	}
	width, height, err := media_sdp.ParseFramesize(pt + " " + value)
	if err != nil {
		m.logger.Warn("invalid framesize, using QCIF",
			slog.String("framesize", value),
			slog.String("error", err.Error()))
		return QCIFWidth, QCIFHeight
	}
	return width, height
}

// CreateMmContentFromSdp строит описание передаваемого файла из SDP
// входящего INVITE: атрибуты file-selector и file-disposition.
func (m *ContentManager) CreateMmContentFromSdp(invite *sip.Request) (MmContent, error) {
	if invite == nil || len(invite.Body()) == 0 {
		return nil, fmt.Errorf("%w: в запросе нет SDP", ErrPayload)
	}

	desc, err := media_sdp.Parse(invite.Body())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPayload, err)
	}
	md := desc.Media()[0]

	value, ok := desc.MediaAttribute(md, media_sdp.AttrFileSelector)
	if !ok {
		return nil, fmt.Errorf("%w: нет атрибута %s", ErrPayload, media_sdp.AttrFileSelector)
	}
	selector, err := ParseFileSelector(value)
	if err != nil {
		return nil, err
	}

	uri, err := m.GenerateURIForReceivedContent(selector.Name, selector.Type)
	if err != nil {
		return nil, err
	}
	c, err := m.CreateMmContent(uri, selector.Size, selector.Name)
	if err != nil {
		return nil, err
	}

	if disposition, ok := desc.MediaAttribute(md, media_sdp.AttrFileDisposition); ok &&
		strings.EqualFold(disposition, DispositionRender) {
		c.SetPlayable(true)
	}

	m.logger.Debug("file content from SDP",
		slog.String("name", selector.Name),
		slog.String("type", selector.Type),
		slog.Int64("size", selector.Size),
		slog.Bool("playable", c.Playable()))

	return c, nil
}

// FileSelector параметры атрибута file-selector (RFC 5547)
type FileSelector struct {
	Type string
	Size int64
	Name string
}

// ParseFileSelector разбирает "type:<mime> size:<bytes> name:<file>".
// Отсутствующие параметры получают значения по умолчанию.
func ParseFileSelector(value string) (FileSelector, error) {
	sizeValue := extractParameter(value, "size:", defaultSelectorSize)
	size, err := strconv.ParseInt(sizeValue, 10, 64)
	if err != nil {
		return FileSelector{}, fmt.Errorf("%w: некорректный размер %q в file-selector", ErrPayload, sizeValue)
	}
	return FileSelector{
		Type: extractParameter(value, "type:", defaultSelectorType),
		Size: size,
		Name: extractParameter(value, "name:", defaultSelectorName),
	}, nil
}

// String значение атрибута file-selector для SDP предложения
func (f FileSelector) String() string {
	var b strings.Builder
	if f.Name != "" {
		if strings.ContainsAny(f.Name, " ;\"\\") {
			fmt.Fprintf(&b, "name:%q ", f.Name)
		} else {
			fmt.Fprintf(&b, "name:%s ", f.Name)
		}
	}
	fmt.Fprintf(&b, "type:%s size:%d", f.Type, f.Size)
	return b.String()
}

// extractParameter значение параметра param из строки input. Параметры
// разделены пробелами или ';'. Разделители и похожие на параметры
// подстроки внутри кавычек относятся к значению.
func extractParameter(input, param, defaultValue string) string {
	for _, token := range selectorTokens(input) {
		value, ok := strings.CutPrefix(token, param)
		if !ok {
			continue
		}
		return unquoteParameter(value)
	}
	return defaultValue
}

// selectorTokens делит input по пробелам и ';' вне кавычек
func selectorTokens(input string) []string {
	var (
		tokens  []string
		start   int
		quoted  bool
		escaped bool
	)
	for i := 0; i < len(input); i++ {
		c := input[i]
		switch {
		case escaped:
			escaped = false
		case quoted && c == '\\':
			escaped = true
		case c == '"':
			quoted = !quoted
		case !quoted && (c == ' ' || c == ';'):
			if i > start {
				tokens = append(tokens, input[start:i])
			}
			start = i + 1
		}
	}
	if start < len(input) {
		tokens = append(tokens, input[start:])
	}
	return tokens
}

func unquoteParameter(value string) string {
	if !strings.HasPrefix(value, `"`) {
		return value
	}
	if unquoted, err := strconv.Unquote(value); err == nil {
		return unquoted
	}
	// Незакрытая кавычка: значение до конца строки
	return strings.TrimSuffix(value[1:], `"`)
}

package content

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sync"
)

// MmContent описание мультимедийного контента сессии: место хранения,
// MIME тип, размер и имя файла
type MmContent interface {
	// URI место хранения; nil для live контента
	URI() *url.URL
	// Encoding MIME тип, например "image/jpeg" или "video/H264"
	Encoding() string
	// Size размер в байтах, -1 если неизвестен
	Size() int64
	// Name отображаемое имя файла
	Name() string
	Playable() bool
	SetPlayable(playable bool)
	// Data содержимое в памяти (геолокация), может быть nil
	Data() []byte
	SetData(data []byte)

	// OpenWriteStream создает файл по URI для приема данных
	OpenWriteStream() error
	// WriteData дописывает принятые данные
	WriteData(p []byte) error
	// CloseWriteStream закрывает поток записи
	CloseWriteStream() error
	// DeleteFile закрывает поток записи и удаляет файл
	DeleteFile() error
}

// ErrWriteStreamNotOpened запись без OpenWriteStream
var ErrWriteStreamNotOpened = errors.New("поток записи не открыт")

// ErrNoFileLocation у контента нет файлового URI
var ErrNoFileLocation = errors.New("у контента нет файлового URI")

// baseContent общая часть всех вариантов контента
type baseContent struct {
	uri      *url.URL
	encoding string
	size     int64
	name     string

	mu       sync.Mutex
	playable bool
	data     []byte
	stream   io.WriteCloser
}

func newBase(uri *url.URL, encoding string, size int64, name string) baseContent {
	return baseContent{uri: uri, encoding: encoding, size: size, name: name}
}

func (c *baseContent) URI() *url.URL {
	if c.uri == nil {
		return nil
	}
	u := *c.uri
	return &u
}

func (c *baseContent) Encoding() string { return c.encoding }
func (c *baseContent) Size() int64      { return c.size }
func (c *baseContent) Name() string     { return c.name }

func (c *baseContent) Playable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playable
}

func (c *baseContent) SetPlayable(playable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playable = playable
}

func (c *baseContent) Data() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data
}

func (c *baseContent) SetData(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
}

// filePath путь файла из URI со схемой file (или без схемы)
func (c *baseContent) filePath() (string, error) {
	if c.uri == nil || (c.uri.Scheme != "" && c.uri.Scheme != "file") || c.uri.Path == "" {
		return "", ErrNoFileLocation
	}
	return filepath.FromSlash(c.uri.Path), nil
}

func (c *baseContent) OpenWriteStream() error {
	path, err := c.filePath()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("создание каталога для %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("создание файла %s: %w", path, err)
	}
	c.stream = f
	return nil
}

func (c *baseContent) WriteData(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return ErrWriteStreamNotOpened
	}
	if _, err := c.stream.Write(p); err != nil {
		return fmt.Errorf("запись контента %s: %w", c.name, err)
	}
	return nil
}

func (c *baseContent) CloseWriteStream() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeStreamLocked()
}

func (c *baseContent) closeStreamLocked() error {
	if c.stream == nil {
		return nil
	}
	err := c.stream.Close()
	c.stream = nil
	if err != nil {
		return fmt.Errorf("закрытие потока записи %s: %w", c.name, err)
	}
	return nil
}

func (c *baseContent) DeleteFile() error {
	path, err := c.filePath()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	closeErr := c.closeStreamLocked()
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Join(closeErr, fmt.Errorf("удаление файла %s: %w", path, err))
	}
	return closeErr
}

func (c *baseContent) String() string {
	return fmt.Sprintf("%s [name=%q size=%d uri=%v]", c.encoding, c.name, c.size, c.uri)
}

// PhotoContent изображение
type PhotoContent struct{ baseContent }

// NewPhotoContent создает описание изображения
func NewPhotoContent(uri *url.URL, mime string, size int64, name string) *PhotoContent {
	return &PhotoContent{newBase(uri, mime, size, name)}
}

// VideoContent видео файл
type VideoContent struct{ baseContent }

func NewVideoContent(uri *url.URL, mime string, size int64, name string) *VideoContent {
	return &VideoContent{newBase(uri, mime, size, name)}
}

// AudioContent аудио файл
type AudioContent struct{ baseContent }

func NewAudioContent(uri *url.URL, mime string, size int64, name string) *AudioContent {
	return &AudioContent{newBase(uri, mime, size, name)}
}

// VisitCardContent визитная карточка (vCard)
type VisitCardContent struct{ baseContent }

func NewVisitCardContent(uri *url.URL, mime string, size int64, name string) *VisitCardContent {
	return &VisitCardContent{newBase(uri, mime, size, name)}
}

// GeolocContent геолокация; содержимое может передаваться в Data
type GeolocContent struct{ baseContent }

func NewGeolocContent(uri *url.URL, size int64, name string) *GeolocContent {
	return &GeolocContent{newBase(uri, MimeGeoloc, size, name)}
}

// NewGeolocContentFromData создает геолокацию с содержимым в памяти
func NewGeolocContentFromData(name string, data []byte) *GeolocContent {
	c := &GeolocContent{newBase(nil, MimeGeoloc, int64(len(data)), name)}
	c.data = data
	return c
}

// FileContent произвольный файл
type FileContent struct{ baseContent }

func NewFileContent(uri *url.URL, size int64, name string) *FileContent {
	return &FileContent{newBase(uri, MimeOctetStream, size, name)}
}

// PayloadTypeUnset payload type live контента, не полученный из SDP
const PayloadTypeUnset = -1

// LiveAudioContent аудио с устройства захвата: кодек вместо файла
type LiveAudioContent struct {
	baseContent
	codec       string
	payloadType int
}

// NewLiveAudioContent создает live аудио контент с MIME "audio/<codec>"
func NewLiveAudioContent(codec string) *LiveAudioContent {
	return &LiveAudioContent{
		baseContent: newBase(nil, "audio/"+codec, -1, ""),
		codec:       codec,
		payloadType: PayloadTypeUnset,
	}
}

// Codec имя кодека
func (c *LiveAudioContent) Codec() string { return c.codec }

// PayloadType согласованный в SDP payload type или PayloadTypeUnset
func (c *LiveAudioContent) PayloadType() int { return c.payloadType }

// LiveVideoContent видео с камеры: кодек и размер кадра
type LiveVideoContent struct {
	baseContent
	codec       string
	payloadType int
	width       int
	height      int
}

// NewLiveVideoContent создает live видео контент с MIME "video/<codec>"
func NewLiveVideoContent(codec string, width, height int) *LiveVideoContent {
	return &LiveVideoContent{
		baseContent: newBase(nil, "video/"+codec, -1, ""),
		codec:       codec,
		payloadType: PayloadTypeUnset,
		width:       width,
		height:      height,
	}
}

func (c *LiveVideoContent) Codec() string    { return c.codec }
func (c *LiveVideoContent) PayloadType() int { return c.payloadType }
func (c *LiveVideoContent) Width() int       { return c.width }
func (c *LiveVideoContent) Height() int      { return c.height }

func (c *LiveVideoContent) String() string {
	return fmt.Sprintf("%s %dx%d", c.encoding, c.width, c.height)
}

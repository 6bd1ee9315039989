package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/arzzra/rcs_media/pkg/rtp"
)

// CaptureDevice источник кадров исходящего потока (камера, микрофон, файл).
// ReadFrame блокируется до готовности следующего кадра; (nil, nil)
// означает конец данных. Close должен прерывать ожидающий ReadFrame.
type CaptureDevice interface {
	Open() error
	ReadFrame() (*rtp.Buffer, error)
	Close() error
}

// Renderer приемник декодированных кадров входящего потока
type Renderer interface {
	Open() error
	RenderFrame(frame *rtp.Buffer) error
	Close() error
}

// captureStream адаптирует CaptureDevice к rtp.ProcessorInputStream
type captureStream struct {
	device CaptureDevice
	format *rtp.Format
}

func newCaptureStream(device CaptureDevice, format *rtp.Format) *captureStream {
	return &captureStream{device: device, format: format}
}

func (s *captureStream) Open() error { return s.device.Open() }

func (s *captureStream) Read() (*rtp.Buffer, error) {
	frame, err := s.device.ReadFrame()
	if err != nil || frame == nil {
		return nil, err
	}
	if frame.Format == nil {
		frame.Format = s.format
	}
	return frame, nil
}

func (s *captureStream) Close() error { return s.device.Close() }

// rendererStream адаптирует Renderer к rtp.ProcessorOutputStream
type rendererStream struct {
	renderer Renderer
}

func (s *rendererStream) Open() error                 { return s.renderer.Open() }
func (s *rendererStream) Write(buf *rtp.Buffer) error { return s.renderer.RenderFrame(buf) }
func (s *rendererStream) Close() error                { return s.renderer.Close() }

// FileCaptureConfig параметры чтения кадров из файла
type FileCaptureConfig struct {
	Path string

	// FrameSize размер кадра в байтах. Для G.711 на входе кодера это
	// 16-битный PCM: 320 байт = 20 мс при 8 кГц.
	FrameSize int

	// TimestampStep приращение RTP timestamp на кадр
	TimestampStep uint32

	// Interval темп выдачи кадров; 0 - без задержки
	Interval time.Duration

	// Loop начинать файл заново при достижении конца
	Loop bool
}

// FileCaptureDevice устройство захвата, читающее кадры фиксированного
// размера из файла
type FileCaptureDevice struct {
	config FileCaptureConfig

	mu        sync.Mutex
	file      *os.File
	timestamp uint32
	lastFrame time.Time
	closed    bool
	closeCh   chan struct{}
}

// NewFileCaptureDevice создает устройство; файл открывается в Open
func NewFileCaptureDevice(config FileCaptureConfig) *FileCaptureDevice {
	if config.FrameSize <= 0 {
		config.FrameSize = 320
	}
	if config.TimestampStep == 0 {
		config.TimestampStep = 160
	}
	return &FileCaptureDevice{config: config, closeCh: make(chan struct{})}
}

// Open открывает файл источника
func (d *FileCaptureDevice) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return rtp.ErrStreamClosed
	}
	if d.file != nil {
		return nil
	}

	f, err := os.Open(d.config.Path)
	if err != nil {
		return fmt.Errorf("открытие источника %s: %w", d.config.Path, err)
	}
	d.file = f
	return nil
}

// ReadFrame возвращает следующий кадр файла
func (d *FileCaptureDevice) ReadFrame() (*rtp.Buffer, error) {
	if err := d.pace(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, rtp.ErrStreamClosed
	}
	if d.file == nil {
		return nil, rtp.ErrStreamNotOpened
	}

	data := make([]byte, d.config.FrameSize)
	n, err := io.ReadFull(d.file, data)
	if n == 0 && errors.Is(err, io.EOF) && d.config.Loop {
		if _, err := d.file.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		n, err = io.ReadFull(d.file, data)
	}

	switch {
	case n == 0 && errors.Is(err, io.EOF):
		return nil, nil
	case err != nil && !errors.Is(err, io.ErrUnexpectedEOF):
		return nil, err
	}

	frame := &rtp.Buffer{Data: data[:n], Timestamp: d.timestamp}
	d.timestamp += d.config.TimestampStep
	return frame, nil
}

// pace выдерживает интервал между кадрами, прерывается закрытием
func (d *FileCaptureDevice) pace() error {
	if d.config.Interval <= 0 {
		return nil
	}

	d.mu.Lock()
	wait := time.Until(d.lastFrame.Add(d.config.Interval))
	d.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-d.closeCh:
			return rtp.ErrStreamClosed
		}
	}

	d.mu.Lock()
	d.lastFrame = time.Now()
	d.mu.Unlock()
	return nil
}

// Close закрывает файл. Повторный вызов безопасен.
func (d *FileCaptureDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	close(d.closeCh)

	if d.file != nil {
		return d.file.Close()
	}
	return nil
}

// FrameCollector рендерер, накапливающий копии полученных кадров.
// Используется в loopback режиме и тестах.
type FrameCollector struct {
	limit int

	mu      sync.Mutex
	frames  []*rtp.Buffer
	changed chan struct{}
	closed  bool
}

// NewFrameCollector создает коллектор; limit ограничивает число
// хранимых кадров (0 - без ограничения), старые кадры вытесняются
func NewFrameCollector(limit int) *FrameCollector {
	return &FrameCollector{limit: limit, changed: make(chan struct{})}
}

// Open реализует Renderer
func (c *FrameCollector) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return rtp.ErrStreamClosed
	}
	return nil
}

// RenderFrame сохраняет копию кадра
func (c *FrameCollector) RenderFrame(frame *rtp.Buffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return rtp.ErrStreamClosed
	}

	stored := &rtp.Buffer{Data: append([]byte(nil), frame.Data...)}
	stored.CopyHeader(frame)
	c.frames = append(c.frames, stored)
	if c.limit > 0 && len(c.frames) > c.limit {
		c.frames = c.frames[len(c.frames)-c.limit:]
	}

	close(c.changed)
	c.changed = make(chan struct{})
	return nil
}

// Frames возвращает копию списка полученных кадров
func (c *FrameCollector) Frames() []*rtp.Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*rtp.Buffer(nil), c.frames...)
}

// Count число хранимых кадров
func (c *FrameCollector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// WaitFrames ждет, пока накопится не меньше n кадров
func (c *FrameCollector) WaitFrames(ctx context.Context, n int) error {
	for {
		c.mu.Lock()
		count, changed := len(c.frames), c.changed
		c.mu.Unlock()

		if count >= n {
			return nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return fmt.Errorf("получено %d из %d кадров: %w", count, n, ctx.Err())
		}
	}
}

// Close реализует Renderer. Накопленные кадры остаются доступны.
func (c *FrameCollector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// WriterRenderer рендерер, записывающий полезную нагрузку кадров в io.Writer
type WriterRenderer struct {
	mu     sync.Mutex
	w      io.Writer
	closed bool
}

// NewWriterRenderer создает рендерер поверх w. Если w реализует
// io.Closer, он закрывается в Close.
func NewWriterRenderer(w io.Writer) *WriterRenderer {
	return &WriterRenderer{w: w}
}

func (r *WriterRenderer) Open() error { return nil }

func (r *WriterRenderer) RenderFrame(frame *rtp.Buffer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return rtp.ErrStreamClosed
	}
	_, err := r.w.Write(frame.Data)
	return err
}

// Close закрывает writer один раз; повторный вызов ничего не делает
func (r *WriterRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	if c, ok := r.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

package rtp

import (
	"errors"
	"io"
)

// Result результат обработки буфера кодеком
type Result int

const (
	// ResultProcessedOK вход обработан, выходной буфер заполнен
	ResultProcessedOK Result = iota
	// ResultOutputNotFilled вход поглощен, но выход еще не готов
	// (например, депакетизатор собирает фрагментированный кадр)
	ResultOutputNotFilled
	// ResultFailed ошибка обработки, поток должен быть остановлен
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultProcessedOK:
		return "processed_ok"
	case ResultOutputNotFilled:
		return "output_not_filled"
	case ResultFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Codec стадия преобразования буфера (пакетизатор, депакетизатор,
// кодер, декодер). Между вызовами хранит только собственное состояние
// кодека, например буфер сборки фрагментов.
type Codec interface {
	// Name возвращает имя кодека для логов
	Name() string
	// Process преобразует in в out
	Process(in, out *Buffer) Result
}

// CodecFunc адаптер функции к интерфейсу Codec
type CodecFunc struct {
	CodecName string
	Fn        func(in, out *Buffer) Result
}

func (c CodecFunc) Name() string                   { return c.CodecName }
func (c CodecFunc) Process(in, out *Buffer) Result { return c.Fn(in, out) }

// CodecChain упорядоченная последовательность кодеков.
// Пустая цепочка передает буфер без изменений.
type CodecChain struct {
	codecs  []Codec
	buffers []*Buffer
}

// NewCodecChain создает цепочку из переданных кодеков
func NewCodecChain(codecs ...Codec) *CodecChain {
	chain := &CodecChain{
		codecs:  make([]Codec, 0, len(codecs)),
		buffers: make([]*Buffer, 0, len(codecs)),
	}
	for _, c := range codecs {
		if c == nil {
			continue
		}
		chain.codecs = append(chain.codecs, c)
		chain.buffers = append(chain.buffers, &Buffer{})
	}
	return chain
}

// Len количество кодеков в цепочке
func (c *CodecChain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.codecs)
}

// Names возвращает имена кодеков в порядке применения
func (c *CodecChain) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, len(c.codecs))
	for i, codec := range c.codecs {
		names[i] = codec.Name()
	}
	return names
}

// Process пропускает буфер через все кодеки цепочки.
// Возвращает выходной буфер только при ResultProcessedOK. Буфер,
// помеченный Discard, трактуется как ResultOutputNotFilled.
func (c *CodecChain) Process(in *Buffer) (*Buffer, Result) {
	if c == nil || len(c.codecs) == 0 {
		if in.Discard {
			return nil, ResultOutputNotFilled
		}
		return in, ResultProcessedOK
	}

	current := in
	for i, codec := range c.codecs {
		out := c.buffers[i]
		out.Reset()

		result := codec.Process(current, out)
		if result != ResultProcessedOK {
			return nil, result
		}
		if out.Discard {
			return nil, ResultOutputNotFilled
		}
		current = out
	}

	return current, ResultProcessedOK
}

// Close освобождает кодеки, реализующие io.Closer
func (c *CodecChain) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	for _, codec := range c.codecs {
		if closer, ok := codec.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

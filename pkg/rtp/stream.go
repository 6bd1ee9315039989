package rtp

// ProcessorInputStream источник буферов для Processor: RTP сокет,
// устройство захвата или файл.
type ProcessorInputStream interface {
	// Open подготавливает поток к чтению
	Open() error
	// Read блокируется до получения следующего буфера.
	// Возврат (nil, nil) означает конец потока.
	// После Close ожидающий Read должен вернуть управление.
	Read() (*Buffer, error)
	// Close закрывает поток. Повторный вызов безопасен.
	Close() error
}

// ProcessorOutputStream приемник буферов для Processor: RTP сокет
// или рендерер.
type ProcessorOutputStream interface {
	Open() error
	Write(buf *Buffer) error
	Close() error
}

package rtp

import "errors"

// Ошибки RTP конвейера
var (
	// ErrProcessorAlreadyStarted повторный запуск Processor
	ErrProcessorAlreadyStarted = errors.New("процессор уже запущен")
	// ErrProcessorStopped запуск остановленного Processor; нужен новый экземпляр
	ErrProcessorStopped = errors.New("процессор остановлен")
	// ErrCodecFailure цепочка кодеков вернула результат, отличный от OK/OutputNotFilled
	ErrCodecFailure = errors.New("ошибка цепочки кодеков")
	// ErrStreamClosed операция над закрытым потоком
	ErrStreamClosed = errors.New("поток закрыт")
	// ErrStreamNotOpened операция над неоткрытым потоком
	ErrStreamNotOpened = errors.New("поток не открыт")
	// ErrTransportClosed операция над закрытым транспортом
	ErrTransportClosed = errors.New("транспорт не активен")
	// ErrNoRemoteAddr удаленный адрес не установлен
	ErrNoRemoteAddr = errors.New("удаленный адрес не установлен")
)

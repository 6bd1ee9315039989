package rtp

// Buffer единица медиа данных, передаваемая между стадиями конвейера:
// входной поток -> цепочка кодеков -> выходной поток.
//
// Буферы переиспользуются цепочкой кодеков между вызовами, поэтому
// получатель не должен удерживать Data после возврата из Write.
type Buffer struct {
	// Data полезная нагрузка. Для пакетизированного кадра пуста,
	// а фрагменты лежат в Fragments.
	Data []byte

	// Timestamp RTP метка времени в единицах clock rate формата
	Timestamp uint32

	// SequenceNumber номер последовательности RTP (для входящих пакетов)
	SequenceNumber uint16

	// PayloadType RTP payload type
	PayloadType uint8

	// Marker RTP marker бит (конец кадра для видео)
	Marker bool

	// Discard буфер не должен передаваться дальше по цепочке
	Discard bool

	// Fragments набор RTP payload'ов, полученных при пакетизации кадра.
	// Выходной RTP поток отправляет каждый фрагмент отдельным пакетом,
	// marker ставится на последнем.
	Fragments [][]byte

	// Format формат данных в буфере, может быть nil
	Format *Format
}

// Len возвращает размер полезной нагрузки буфера
func (b *Buffer) Len() int {
	if len(b.Fragments) > 0 {
		n := 0
		for _, f := range b.Fragments {
			n += len(f)
		}
		return n
	}
	return len(b.Data)
}

// HasFragments проверяет, содержит ли буфер пакетизированные фрагменты
func (b *Buffer) HasFragments() bool {
	return len(b.Fragments) > 0
}

// Reset очищает буфер для повторного использования, сохраняя емкость Data
func (b *Buffer) Reset() {
	b.Data = b.Data[:0]
	b.Timestamp = 0
	b.SequenceNumber = 0
	b.PayloadType = 0
	b.Marker = false
	b.Discard = false
	b.Fragments = nil
	b.Format = nil
}

// CopyHeader копирует метаданные (без полезной нагрузки) из src
func (b *Buffer) CopyHeader(src *Buffer) {
	b.Timestamp = src.Timestamp
	b.SequenceNumber = src.SequenceNumber
	b.PayloadType = src.PayloadType
	b.Marker = src.Marker
	b.Format = src.Format
}

package media_sdp

import (
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// Имена атрибутов, используемых при согласовании контента
const (
	AttrRtpmap          = "rtpmap"
	AttrFmtp            = "fmtp"
	AttrFramesize       = "framesize"
	AttrFileSelector    = "file-selector"
	AttrFileDisposition = "file-disposition"
)

// Direction направление медиа потока в SDP
type Direction int

const (
	DirectionSendRecv Direction = iota // Отправка и прием
	DirectionSendOnly                  // Только отправка
	DirectionRecvOnly                  // Только прием
	DirectionInactive                  // Неактивно
)

func (d Direction) String() string {
	switch d {
	case DirectionSendRecv:
		return "sendrecv"
	case DirectionSendOnly:
		return "sendonly"
	case DirectionRecvOnly:
		return "recvonly"
	case DirectionInactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// CanSend проверяет, может ли поток отправлять данные
func (d Direction) CanSend() bool {
	return d == DirectionSendRecv || d == DirectionSendOnly
}

// CanReceive проверяет, может ли поток принимать данные
func (d Direction) CanReceive() bool {
	return d == DirectionSendRecv || d == DirectionRecvOnly
}

// directionFromAttribute разбирает атрибут направления
func directionFromAttribute(name string) (Direction, bool) {
	switch name {
	case "sendrecv":
		return DirectionSendRecv, true
	case "sendonly":
		return DirectionSendOnly, true
	case "recvonly":
		return DirectionRecvOnly, true
	case "inactive":
		return DirectionInactive, true
	}
	return DirectionSendRecv, false
}

// MediaAttribute один a= атрибут: имя и значение (пустое для флагов)
type MediaAttribute struct {
	Name  string
	Value string
}

func (a MediaAttribute) String() string {
	if a.Value == "" {
		return a.Name
	}
	return a.Name + ":" + a.Value
}

func attributesFrom(src []sdp.Attribute) []MediaAttribute {
	attrs := make([]MediaAttribute, len(src))
	for i, a := range src {
		attrs[i] = MediaAttribute{Name: a.Key, Value: strings.TrimSpace(a.Value)}
	}
	return attrs
}

// attributeList упорядоченный список атрибутов. Повторяющиеся имена
// допустимы; порядок совпадает с порядком строк в SDP.
type attributeList []MediaAttribute

func (l attributeList) first(name string) (string, bool) {
	for _, a := range l {
		if strings.EqualFold(a.Name, name) {
			return a.Value, true
		}
	}
	return "", false
}

func (l attributeList) values(name string) []string {
	var values []string
	for _, a := range l {
		if strings.EqualFold(a.Name, name) {
			values = append(values, a.Value)
		}
	}
	return values
}

func (l attributeList) direction() (Direction, bool) {
	for _, a := range l {
		if d, ok := directionFromAttribute(strings.ToLower(a.Name)); ok {
			return d, true
		}
	}
	return DirectionSendRecv, false
}

// MediaDescription описание одного m= блока. Не изменяется после
// разбора: методы возвращают копии.
type MediaDescription struct {
	name       string
	port       int
	portCount  int
	protocol   string
	payloads   []string
	connection string
	attributes attributeList
}

// Name тип медиа ("audio", "video", "message", ...)
func (m *MediaDescription) Name() string { return m.name }

// Port транспортный порт
func (m *MediaDescription) Port() int { return m.port }

// PortCount число портов (m=video 5004/2 ...), 1 по умолчанию
func (m *MediaDescription) PortCount() int { return m.portCount }

// Protocol транспортный протокол, например "RTP/AVP"
func (m *MediaDescription) Protocol() string { return m.protocol }

// Payloads список форматов m= строки
func (m *MediaDescription) Payloads() []string {
	return append([]string(nil), m.payloads...)
}

// ConnectionAddress адрес из c= строки блока, пустой если не задан
func (m *MediaDescription) ConnectionAddress() string { return m.connection }

// Attributes копия списка атрибутов в исходном порядке
func (m *MediaDescription) Attributes() []MediaAttribute {
	return append([]MediaAttribute(nil), m.attributes...)
}

// Attribute значение первого атрибута с именем name
func (m *MediaDescription) Attribute(name string) (string, bool) {
	return m.attributes.first(name)
}

// AttributeValues значения всех атрибутов с именем name
func (m *MediaDescription) AttributeValues(name string) []string {
	return m.attributes.values(name)
}

// AttributeForPayload ищет атрибут вида "<pt> <параметры>" (rtpmap,
// fmtp, framesize) для payload type pt и возвращает параметры
func (m *MediaDescription) AttributeForPayload(name, pt string) (string, bool) {
	for _, value := range m.attributes.values(name) {
		fields := strings.SplitN(value, " ", 2)
		if len(fields) == 2 && fields[0] == pt {
			return strings.TrimSpace(fields[1]), true
		}
	}
	return "", false
}

// Direction направление блока; при отсутствии атрибута sendrecv
func (m *MediaDescription) Direction() Direction {
	d, _ := m.attributes.direction()
	return d
}

// Rtpmap разобранное значение атрибута rtpmap
type Rtpmap struct {
	PayloadType string
	Codec       string
	ClockRate   uint32
	Channels    int
}

// ParseRtpmap разбирает "<pt> <codec>/<clock>[/<channels>]".
// Имя кодека возвращается в исходном регистре.
func ParseRtpmap(value string) (Rtpmap, error) {
	fields := strings.Fields(value)
	if len(fields) != 2 {
		return Rtpmap{}, NewSDPError(ErrorCodeInvalidAttribute, "некорректный rtpmap: %q", value)
	}

	parts := strings.Split(fields[1], "/")
	if parts[0] == "" {
		return Rtpmap{}, NewSDPError(ErrorCodeInvalidAttribute, "в rtpmap нет имени кодека: %q", value)
	}

	r := Rtpmap{PayloadType: fields[0], Codec: parts[0], Channels: 1}
	if len(parts) > 1 {
		rate, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			return Rtpmap{}, WrapSDPError(ErrorCodeInvalidAttribute, err, "некорректная частота в rtpmap: %q", value)
		}
		r.ClockRate = uint32(rate)
	}
	if len(parts) > 2 {
		channels, err := strconv.Atoi(parts[2])
		if err != nil {
			return Rtpmap{}, WrapSDPError(ErrorCodeInvalidAttribute, err, "некорректное число каналов в rtpmap: %q", value)
		}
		r.Channels = channels
	}
	return r, nil
}

// ParseFramesize разбирает "<pt> <width>-<height>"
func ParseFramesize(value string) (width, height int, err error) {
	fields := strings.Fields(value)
	if len(fields) != 2 {
		return 0, 0, NewSDPError(ErrorCodeInvalidAttribute, "некорректный framesize: %q", value)
	}

	w, h, found := strings.Cut(fields[1], "-")
	if !found {
		return 0, 0, NewSDPError(ErrorCodeInvalidAttribute, "в framesize нет разделителя '-': %q", value)
	}
	if width, err = strconv.Atoi(w); err != nil {
		return 0, 0, WrapSDPError(ErrorCodeInvalidAttribute, err, "некорректная ширина в framesize: %q", value)
	}
	if height, err = strconv.Atoi(h); err != nil {
		return 0, 0, WrapSDPError(ErrorCodeInvalidAttribute, err, "некорректная высота в framesize: %q", value)
	}
	if width <= 0 || height <= 0 {
		return 0, 0, NewSDPError(ErrorCodeInvalidAttribute, "размер кадра должен быть положительным: %q", value)
	}
	return width, height, nil
}

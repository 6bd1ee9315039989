package media_sdp

import (
	"strings"

	"github.com/pion/sdp/v3"
)

// SessionDescription разобранное тело SDP: один сессионный блок и не
// меньше одного m= блока. Не изменяется после Parse.
type SessionDescription struct {
	origin      string
	sessionName string
	connection  string
	attributes  attributeList
	media       []*MediaDescription
}

// Parse разбирает тело SDP (RFC 4566). Тело без m= строк считается
// ошибкой ErrorCodeNoMedia.
func Parse(body []byte) (*SessionDescription, error) {
	if len(body) == 0 {
		return nil, NewSDPError(ErrorCodeSDPParsing, "пустое тело SDP")
	}

	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal(body); err != nil {
		return nil, WrapSDPError(ErrorCodeSDPParsing, err, "не удалось разобрать SDP")
	}

	return fromPion(&parsed)
}

// FromPion строит неизменяемое описание из pion/sdp структуры,
// например полученной от BuildLiveMediaOffer
func FromPion(parsed *sdp.SessionDescription) (*SessionDescription, error) {
	if parsed == nil {
		return nil, NewSDPError(ErrorCodeInvalidParams, "описание сессии не задано")
	}
	return fromPion(parsed)
}

func fromPion(parsed *sdp.SessionDescription) (*SessionDescription, error) {
	if len(parsed.MediaDescriptions) == 0 {
		return nil, NewSDPError(ErrorCodeNoMedia, "в SDP нет медиа блоков")
	}

	s := &SessionDescription{
		origin:      parsed.Origin.Username,
		sessionName: string(parsed.SessionName),
		connection:  connectionAddress(parsed.ConnectionInformation),
		attributes:  attributesFrom(parsed.Attributes),
		media:       make([]*MediaDescription, 0, len(parsed.MediaDescriptions)),
	}

	for _, md := range parsed.MediaDescriptions {
		portCount := 1
		if md.MediaName.Port.Range != nil {
			portCount = *md.MediaName.Port.Range
		}
		s.media = append(s.media, &MediaDescription{
			name:       md.MediaName.Media,
			port:       md.MediaName.Port.Value,
			portCount:  portCount,
			protocol:   strings.Join(md.MediaName.Protos, "/"),
			payloads:   append([]string(nil), md.MediaName.Formats...),
			connection: connectionAddress(md.ConnectionInformation),
			attributes: attributesFrom(md.Attributes),
		})
	}

	return s, nil
}

func connectionAddress(c *sdp.ConnectionInformation) string {
	if c == nil || c.Address == nil {
		return ""
	}
	return c.Address.Address
}

// Origin имя пользователя из o= строки
func (s *SessionDescription) Origin() string { return s.origin }

// SessionName значение s= строки
func (s *SessionDescription) SessionName() string { return s.sessionName }

// ConnectionAddress адрес из сессионной c= строки
func (s *SessionDescription) ConnectionAddress() string { return s.connection }

// Attributes копия сессионных атрибутов
func (s *SessionDescription) Attributes() []MediaAttribute {
	return append([]MediaAttribute(nil), s.attributes...)
}

// Attribute значение первого сессионного атрибута с именем name
func (s *SessionDescription) Attribute(name string) (string, bool) {
	return s.attributes.first(name)
}

// Media копия списка медиа блоков в порядке m= строк
func (s *SessionDescription) Media() []*MediaDescription {
	return append([]*MediaDescription(nil), s.media...)
}

// MediaCount число медиа блоков
func (s *SessionDescription) MediaCount() int { return len(s.media) }

// FindMedia первый блок с типом name (без учета регистра)
func (s *SessionDescription) FindMedia(name string) (*MediaDescription, bool) {
	for _, m := range s.media {
		if strings.EqualFold(m.name, name) {
			return m, true
		}
	}
	return nil, false
}

// MediaAttribute ищет атрибут сначала в медиа блоке, затем на уровне
// сессии. Так file-selector может стоять в любом из них.
func (s *SessionDescription) MediaAttribute(m *MediaDescription, name string) (string, bool) {
	if m != nil {
		if v, ok := m.Attribute(name); ok {
			return v, true
		}
	}
	return s.Attribute(name)
}

// RemoteAddress адрес для отправки медиа блока m: c= строка блока
// или сессии
func (s *SessionDescription) RemoteAddress(m *MediaDescription) string {
	if m.connection != "" {
		return m.connection
	}
	return s.connection
}

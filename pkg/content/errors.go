package content

import "errors"

var (
	// ErrInvalidArgument некорректные параметры контента: отрицательный
	// размер, пустое имя, неизвестный MIME тип
	ErrInvalidArgument = errors.New("некорректный аргумент")

	// ErrPayload отсутствующее или некорректное тело SDP
	ErrPayload = errors.New("некорректное содержимое SIP сообщения")
)

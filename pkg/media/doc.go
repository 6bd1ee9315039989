// Package media связывает устройства захвата и воспроизведения с RTP
// потоками для live видео и аудио RCS клиента.
//
// # Основные компоненты
//
//   - MediaRegistry - неизменяемая таблица кодеков: формат и цепочки
//     кодеков для каждого поддерживаемого имени кодека
//   - MediaRtpSender - исходящий поток: устройство захвата -> кодер -> RTP
//   - MediaRtpReceiver - входящий поток: RTP -> декодер -> рендерер
//   - Manager и CallSession - выделение портов и управление набором
//     потоков одного звонка
//   - PortPool - пул локальных RTP портов
//
// # Быстрый старт
//
//	registry := media.DefaultMediaRegistry()
//
//	receiver := media.NewMediaRtpReceiver(media.ReceiverConfig{Registry: registry})
//	format, _ := registry.GenerateFormat("PCMU")
//	err := receiver.PrepareSession("0.0.0.0:5004", renderer, format)
//	if err != nil {
//	    // media.HasErrorCode(err, media.ErrorCodeBind) и т.д.
//	}
//	receiver.StartSession()
//	defer receiver.StopSession()
//
//	sender := media.NewMediaRtpSender(media.SenderConfig{Registry: registry})
//	err = sender.PrepareSessionShared(device, receiver.InputStream(), "198.51.100.7:40000", format)
//
// Все ошибки подготовки сессии имеют тип *RtpError с сообщением
// "Can't prepare resources"; категория сбоя передается кодом, исходная
// причина доступна через errors.Unwrap.
package media

package media_sdp

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/pion/sdp/v3"

	"github.com/arzzra/rcs_media/pkg/rtp"
)

// MediaParams параметры одного m= блока live предложения
type MediaParams struct {
	Format    *rtp.Format
	Port      int
	Direction Direction
	// Fmtp параметры формата (a=fmtp), например "profile-level-id=42e00a"
	Fmtp string
}

// OfferParams параметры SDP предложения live аудио/видео
type OfferParams struct {
	SessionID   uint64 // 0 - по текущему времени
	SessionName string
	Username    string
	LocalIP     string
	Audio       *MediaParams
	Video       *MediaParams
}

// BuildLiveMediaOffer строит SDP предложение с аудио и/или видео
// блоками: rtpmap, fmtp, framesize для видео и атрибут направления.
func BuildLiveMediaOffer(params OfferParams) (*sdp.SessionDescription, error) {
	if params.Audio == nil && params.Video == nil {
		return nil, NewSDPError(ErrorCodeInvalidParams, "не задано ни одного медиа блока")
	}

	ip := net.ParseIP(params.LocalIP)
	if ip == nil {
		return nil, NewSDPError(ErrorCodeInvalidParams, "некорректный локальный адрес: %q", params.LocalIP)
	}
	addrType := "IP4"
	if ip.To4() == nil {
		addrType = "IP6"
	}

	sessionID := params.SessionID
	if sessionID == 0 {
		sessionID = uint64(time.Now().Unix())
	}
	username := params.Username
	if username == "" {
		username = "-"
	}
	sessionName := params.SessionName
	if sessionName == "" {
		sessionName = "-"
	}

	offer := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       username,
			SessionID:      sessionID,
			SessionVersion: sessionID,
			NetworkType:    "IN",
			AddressType:    addrType,
			UnicastAddress: params.LocalIP,
		},
		SessionName: sdp.SessionName(sessionName),
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: addrType,
			Address:     &sdp.Address{Address: params.LocalIP},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	for _, mp := range []*MediaParams{params.Audio, params.Video} {
		if mp == nil {
			continue
		}
		md, err := buildMediaDescription(mp)
		if err != nil {
			return nil, err
		}
		offer.MediaDescriptions = append(offer.MediaDescriptions, md)
	}

	return offer, nil
}

func buildMediaDescription(mp *MediaParams) (*sdp.MediaDescription, error) {
	f := mp.Format
	if f == nil || f.Encoding == "" {
		return nil, NewSDPError(ErrorCodeInvalidParams, "формат медиа блока не задан")
	}
	if mp.Port <= 0 || mp.Port > 65535 {
		return nil, NewSDPError(ErrorCodeInvalidParams, "некорректный порт %d для %s", mp.Port, f.Encoding)
	}

	pt := strconv.Itoa(int(f.PayloadType))
	md := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   f.MediaType.String(),
			Port:    sdp.RangedPort{Value: mp.Port},
			Protos:  []string{"RTP", "AVP"},
			Formats: []string{pt},
		},
	}

	rtpmap := fmt.Sprintf("%s %s/%d", pt, f.Encoding, f.ClockRate)
	if f.MediaType == rtp.MediaTypeAudio && f.Channels > 1 {
		rtpmap += "/" + strconv.Itoa(f.Channels)
	}
	md.WithValueAttribute(AttrRtpmap, rtpmap)

	if mp.Fmtp != "" {
		md.WithValueAttribute(AttrFmtp, pt+" "+mp.Fmtp)
	}
	if f.MediaType == rtp.MediaTypeVideo && f.Width > 0 && f.Height > 0 {
		md.WithValueAttribute(AttrFramesize, fmt.Sprintf("%s %d-%d", pt, f.Width, f.Height))
	}
	md.WithPropertyAttribute(mp.Direction.String())

	return md, nil
}

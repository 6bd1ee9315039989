package media_sdp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rcs_media/pkg/rtp"
)

const audioVideoSDP = "v=0\r\n" +
	"o=alice 2890844526 2890844526 IN IP4 198.51.100.1\r\n" +
	"s=-\r\n" +
	"c=IN IP4 198.51.100.1\r\n" +
	"t=0 0\r\n" +
	"a=tool:rcs\r\n" +
	"m=audio 49170 RTP/AVP 0 96\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n" +
	"a=rtpmap:96 AMR/8000\r\n" +
	"a=sendrecv\r\n" +
	"m=video 51372 RTP/AVP 97\r\n" +
	"c=IN IP4 198.51.100.2\r\n" +
	"a=rtpmap:97 H264/90000\r\n" +
	"a=fmtp:97 profile-level-id=42e00a\r\n" +
	"a=framesize:97 352-288\r\n" +
	"a=recvonly\r\n"

func TestParse_AudioVideo(t *testing.T) {
	desc, err := Parse([]byte(audioVideoSDP))
	require.NoError(t, err)

	assert.Equal(t, "alice", desc.Origin())
	assert.Equal(t, "198.51.100.1", desc.ConnectionAddress())
	require.Equal(t, 2, desc.MediaCount())

	audio := desc.Media()[0]
	assert.Equal(t, "audio", audio.Name())
	assert.Equal(t, 49170, audio.Port())
	assert.Equal(t, "RTP/AVP", audio.Protocol())
	assert.Equal(t, []string{"0", "96"}, audio.Payloads())
	assert.Equal(t, []string{"0 PCMU/8000", "96 AMR/8000"}, audio.AttributeValues(AttrRtpmap), "порядок повторяющихся атрибутов сохраняется")
	assert.Equal(t, DirectionSendRecv, audio.Direction())
	assert.Equal(t, "198.51.100.1", desc.RemoteAddress(audio))

	video, ok := desc.FindMedia("VIDEO")
	require.True(t, ok)
	assert.Equal(t, DirectionRecvOnly, video.Direction())
	assert.Equal(t, "198.51.100.2", desc.RemoteAddress(video))

	fmtp, ok := video.AttributeForPayload(AttrFmtp, "97")
	require.True(t, ok)
	assert.Equal(t, "profile-level-id=42e00a", fmtp)

	_, ok = video.AttributeForPayload(AttrFmtp, "98")
	assert.False(t, ok)

	tool, ok := desc.Attribute("tool")
	require.True(t, ok)
	assert.Equal(t, "rcs", tool)
}

func TestParse_ResultIsImmutable(t *testing.T) {
	desc, err := Parse([]byte(audioVideoSDP))
	require.NoError(t, err)

	media := desc.Media()
	media[0] = nil
	assert.NotNil(t, desc.Media()[0])

	attrs := desc.Media()[0].Attributes()
	attrs[0].Value = "изменено"
	assert.Equal(t, "0 PCMU/8000", desc.Media()[0].Attributes()[0].Value)

	payloads := desc.Media()[0].Payloads()
	payloads[0] = "120"
	assert.Equal(t, "0", desc.Media()[0].Payloads()[0])
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse(nil)
	assert.True(t, IsSDPError(err, ErrorCodeSDPParsing))

	_, err = Parse([]byte("это не SDP"))
	assert.True(t, IsSDPError(err, ErrorCodeSDPParsing))

	noMedia := "v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"
	_, err = Parse([]byte(noMedia))
	assert.True(t, IsSDPError(err, ErrorCodeNoMedia))
	assert.ErrorIs(t, err, &SDPError{Code: ErrorCodeNoMedia})
}

func TestParseRtpmap(t *testing.T) {
	tests := []struct {
		value   string
		want    Rtpmap
		wantErr bool
	}{
		{"96 H264/90000", Rtpmap{PayloadType: "96", Codec: "H264", ClockRate: 90000, Channels: 1}, false},
		{"111 opus/48000/2", Rtpmap{PayloadType: "111", Codec: "opus", ClockRate: 48000, Channels: 2}, false},
		{"97 h263-2000", Rtpmap{PayloadType: "97", Codec: "h263-2000", Channels: 1}, false},
		{"96", Rtpmap{}, true},
		{"96 /90000", Rtpmap{}, true},
		{"96 H264/fast", Rtpmap{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := ParseRtpmap(tt.value)
			if tt.wantErr {
				assert.True(t, IsSDPError(err, ErrorCodeInvalidAttribute))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFramesize(t *testing.T) {
	w, h, err := ParseFramesize("97 352-288")
	require.NoError(t, err)
	assert.Equal(t, 352, w)
	assert.Equal(t, 288, h)

	for _, bad := range []string{"97", "97 352x288", "97 a-288", "97 352-b", "97 0-288"} {
		_, _, err := ParseFramesize(bad)
		assert.Error(t, err, bad)
	}
}

func TestDirection(t *testing.T) {
	assert.True(t, DirectionSendRecv.CanSend())
	assert.True(t, DirectionSendRecv.CanReceive())
	assert.False(t, DirectionRecvOnly.CanSend())
	assert.False(t, DirectionSendOnly.CanReceive())
	assert.Equal(t, "inactive", DirectionInactive.String())
}

func TestBuildLiveMediaOffer_RoundTrip(t *testing.T) {
	video := &rtp.Format{Encoding: "H264", MediaType: rtp.MediaTypeVideo, PayloadType: 96, ClockRate: 90000, Width: 176, Height: 144}
	audio := &rtp.Format{Encoding: "OPUS", MediaType: rtp.MediaTypeAudio, PayloadType: 111, ClockRate: 48000, Channels: 2}

	offer, err := BuildLiveMediaOffer(OfferParams{
		SessionID: 42,
		LocalIP:   "192.0.2.10",
		Audio:     &MediaParams{Format: audio, Port: 40000, Direction: DirectionSendRecv},
		Video:     &MediaParams{Format: video, Port: 40002, Direction: DirectionSendOnly, Fmtp: "profile-level-id=42e00a"},
	})
	require.NoError(t, err)

	body, err := offer.Marshal()
	require.NoError(t, err)

	desc, err := Parse(body)
	require.NoError(t, err)
	require.Equal(t, 2, desc.MediaCount())

	a := desc.Media()[0]
	assert.Equal(t, "audio", a.Name())
	assert.Equal(t, 40000, a.Port())
	rtpmap, ok := a.AttributeForPayload(AttrRtpmap, "111")
	require.True(t, ok)
	assert.Equal(t, "OPUS/48000/2", rtpmap)

	v := desc.Media()[1]
	assert.Equal(t, "video", v.Name())
	assert.Equal(t, DirectionSendOnly, v.Direction())
	framesize, ok := v.AttributeForPayload(AttrFramesize, "96")
	require.True(t, ok)
	w, h, err := ParseFramesize("96 " + framesize)
	require.NoError(t, err)
	assert.Equal(t, 176, w)
	assert.Equal(t, 144, h)
	assert.Equal(t, "192.0.2.10", desc.ConnectionAddress())
}

func TestBuildLiveMediaOffer_Validation(t *testing.T) {
	format := &rtp.Format{Encoding: "PCMU", MediaType: rtp.MediaTypeAudio, ClockRate: 8000}

	tests := []struct {
		name   string
		params OfferParams
	}{
		{"no media", OfferParams{LocalIP: "192.0.2.1"}},
		{"bad ip", OfferParams{LocalIP: "host", Audio: &MediaParams{Format: format, Port: 4000}}},
		{"no format", OfferParams{LocalIP: "192.0.2.1", Audio: &MediaParams{Port: 4000}}},
		{"bad port", OfferParams{LocalIP: "192.0.2.1", Audio: &MediaParams{Format: format}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildLiveMediaOffer(tt.params)
			assert.True(t, IsSDPError(err, ErrorCodeInvalidParams))
		})
	}
}

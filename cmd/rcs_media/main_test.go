package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const offerSDP = "v=0\r\n" +
	"o=alice 1 1 IN IP4 198.51.100.1\r\n" +
	"s=-\r\n" +
	"c=IN IP4 198.51.100.1\r\n" +
	"t=0 0\r\n" +
	"m=audio 49170 RTP/AVP 0\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n" +
	"m=video 51372 RTP/AVP 96\r\n" +
	"a=rtpmap:96 H264/90000\r\n" +
	"a=framesize:96 176-144\r\n"

func writeOffer(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "offer.sdp")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRun_ProbeVideo(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run([]string{"probe", "-sdp", writeOffer(t, offerSDP), "-kind", "video"}, &stdout, &stderr)
	require.NoError(t, err)

	assert.Contains(t, stdout.String(), "m=video port=51372")
	assert.Contains(t, stdout.String(), "video: codec=H264 size=176x144")
	assert.Contains(t, stdout.String(), "rtp: H264/90000 pt=96 176x144")
}

func TestRun_ProbeAudio(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run([]string{"probe", "-sdp", writeOffer(t, offerSDP), "-kind", "audio"}, &stdout, &stderr)
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "audio: codec=PCMU")
	assert.Contains(t, stdout.String(), "rtp: PCMU/8000 pt=0")
}

func TestRun_ProbeFile(t *testing.T) {
	root := t.TempDir()
	t.Setenv("RCS_MEDIA_PHOTO_ROOT", filepath.Join(root, "photo"))

	body := "v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n" +
		"m=message 7394 TCP/MSRP *\r\n" +
		"a=file-selector:type:image/jpeg size:2048 name:photo.jpg\r\n" +
		"a=file-disposition:render\r\n"

	var stdout, stderr bytes.Buffer
	err := run([]string{"probe", "-sdp", writeOffer(t, body), "-kind", "file"}, &stdout, &stderr)
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "file: name=photo.jpg encoding=image/jpeg size=2048 playable=true")
	assert.Contains(t, stdout.String(), filepath.ToSlash(filepath.Join(root, "photo", "photo.jpg")))
}

func TestRun_Errors(t *testing.T) {
	var stdout, stderr bytes.Buffer

	assert.Error(t, run(nil, &stdout, &stderr))
	assert.Error(t, run([]string{"unknown"}, &stdout, &stderr))
	assert.Error(t, run([]string{"probe"}, &stdout, &stderr))
	assert.Error(t, run([]string{"probe", "-sdp", writeOffer(t, offerSDP), "-kind", "fax"}, &stdout, &stderr))
	assert.Error(t, run([]string{"loopback", "-codec", "H264"}, &stdout, &stderr))
}

func TestRun_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.NoError(t, run([]string{"-version"}, &stdout, &stderr))
	assert.Equal(t, version+"\n", stdout.String())
}

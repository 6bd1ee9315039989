package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/rcs_media/pkg/content"
	"github.com/arzzra/rcs_media/pkg/media"
	"github.com/arzzra/rcs_media/pkg/media_sdp"
)

// probe печатает описание контента, построенное из SDP файла
func (a *app) probe(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	sdpPath := fs.String("sdp", "", "файл с SDP предложением")
	kind := fs.String("kind", "video", "тип контента: video, audio или file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sdpPath == "" {
		return errors.New("probe: не указан -sdp")
	}

	body, err := os.ReadFile(*sdpPath)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}

	registry := media.DefaultMediaRegistry()
	cm, err := content.NewContentManager(a.cfg.Content.Settings(), content.NewMimeManager(nil), registry, a.logger)
	if err != nil {
		return err
	}

	desc, err := media_sdp.Parse(body)
	if err == nil {
		for _, m := range desc.Media() {
			fmt.Fprintf(a.out, "m=%s port=%d proto=%s payloads=%v direction=%s remote=%s\n",
				m.Name(), m.Port(), m.Protocol(), m.Payloads(), m.Direction(), desc.RemoteAddress(m))
		}
	}

	switch *kind {
	case "video":
		c, err := cm.CreateLiveVideoContentFromSdp(body)
		if err != nil {
			return err
		}
		if c == nil {
			fmt.Fprintln(a.out, "video: нет")
			return nil
		}
		fmt.Fprintf(a.out, "video: codec=%s size=%dx%d encoding=%s\n", c.Codec(), c.Width(), c.Height(), c.Encoding())
		a.printFormat(registry, c)
	case "audio":
		c, err := cm.CreateLiveAudioContentFromSdp(body)
		if err != nil {
			return err
		}
		if c == nil {
			fmt.Fprintln(a.out, "audio: нет")
			return nil
		}
		fmt.Fprintf(a.out, "audio: codec=%s encoding=%s\n", c.Codec(), c.Encoding())
		a.printFormat(registry, c)
	case "file":
		invite := sip.NewRequest(sip.INVITE, sip.Uri{User: "rcs", Host: "localhost"})
		invite.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
		invite.SetBody(body)

		c, err := cm.CreateMmContentFromSdp(invite)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "file: name=%s encoding=%s size=%d playable=%t uri=%s\n",
			c.Name(), c.Encoding(), c.Size(), c.Playable(), c.URI())
	default:
		return fmt.Errorf("probe: неизвестный тип %q", *kind)
	}
	return nil
}

// printFormat печатает формат RTP сессии, который будет построен для
// согласованного потока
func (a *app) printFormat(registry *media.MediaRegistry, desc media.NegotiatedMedia) {
	format, err := registry.FormatForContent(desc)
	if err != nil {
		fmt.Fprintf(a.out, "rtp: %v\n", err)
		return
	}
	fmt.Fprintf(a.out, "rtp: %s\n", format)
}

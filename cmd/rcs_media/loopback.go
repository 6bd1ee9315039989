package main

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/arzzra/rcs_media/pkg/media"
	"github.com/arzzra/rcs_media/pkg/rtp"
)

// Кадр 20 мс PCM 16 бит 8 кГц
const (
	loopbackFrameSize     = 320
	loopbackTimestampStep = 160
)

// loopback гоняет аудио между двумя звонками через 127.0.0.1 и
// сообщает, сколько кадров дошло
func (a *app) loopback(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("loopback", flag.ContinueOnError)
	codecName := fs.String("codec", "PCMU", "аудио кодек (PCMU или PCMA)")
	frames := fs.Int("frames", 50, "число кадров по 20 мс")
	input := fs.String("input", "", "файл PCM 16 бит 8 кГц; по умолчанию синус 440 Гц")
	timeout := fs.Duration("timeout", 10*time.Second, "максимальное время ожидания")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *frames <= 0 {
		return errors.New("loopback: -frames должен быть больше 0")
	}

	registry := media.DefaultMediaRegistry()
	format, err := registry.GenerateFormat(*codecName)
	if err != nil {
		return fmt.Errorf("loopback: %w", err)
	}
	if format.MediaType != rtp.MediaTypeAudio {
		return fmt.Errorf("loopback: кодек %s не аудио", format.Encoding)
	}

	path := *input
	if path == "" {
		dir, err := os.MkdirTemp("", "rcs_media")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		path = filepath.Join(dir, "tone.pcm")
		if err := writeTone(path, *frames); err != nil {
			return err
		}
	}

	managerConfig, err := a.cfg.RTP.ManagerConfig()
	if err != nil {
		return err
	}
	managerConfig.LocalHost = "127.0.0.1"
	manager, err := media.NewManager(managerConfig, registry, a.metrics, a.logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("manager shutdown", slog.String("error", err.Error()))
		}
	}()

	callee, err := manager.CreateCall()
	if err != nil {
		return err
	}
	collector := media.NewFrameCollector(0)
	if _, err := callee.PrepareReceiver(collector, format); err != nil {
		return err
	}
	calleeAddr, _ := callee.LocalAddr(rtp.MediaTypeAudio)

	caller, err := manager.CreateCall()
	if err != nil {
		return err
	}
	device := media.NewFileCaptureDevice(media.FileCaptureConfig{
		Path:          path,
		FrameSize:     loopbackFrameSize,
		TimestampStep: loopbackTimestampStep,
		Interval:      20 * time.Millisecond,
	})
	sender, err := caller.PrepareSender(device, calleeAddr.String(), format)
	if err != nil {
		return err
	}

	if err := callee.Start(); err != nil {
		return err
	}
	if err := caller.Start(); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	started := time.Now()
	waitErr := collector.WaitFrames(waitCtx, *frames)

	receiver, _ := callee.Receiver(rtp.MediaTypeAudio)
	fmt.Fprintf(a.out, "codec=%s sent_ssrc=%08x received_ssrc=%08x frames=%d/%d elapsed=%s\n",
		format.Encoding,
		sender.OutputStream().SSRC(),
		receiver.InputStream().RemoteSSRC(),
		collector.Count(), *frames,
		time.Since(started).Round(time.Millisecond))

	if waitErr != nil {
		return fmt.Errorf("loopback: получено %d из %d кадров: %w", collector.Count(), *frames, waitErr)
	}
	return nil
}

// writeTone пишет синус 440 Гц в формате PCM 16 бит little-endian
func writeTone(path string, frames int) error {
	samples := frames * loopbackFrameSize / 2
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/8000))
		binary.LittleEndian.PutUint16(data[2*i:], uint16(v))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("запись тестового сигнала: %w", err)
	}
	return nil
}

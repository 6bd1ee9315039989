// Package config загружает конфигурацию rcs_media из YAML файла и
// переменных окружения RCS_MEDIA_*.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arzzra/rcs_media/pkg/content"
	"github.com/arzzra/rcs_media/pkg/media"
	"github.com/arzzra/rcs_media/pkg/rtp"
)

// EnvPrefix префикс переменных окружения
const EnvPrefix = "RCS_MEDIA_"

// Config конфигурация приложения
type Config struct {
	Content ContentConfig `yaml:"content"`
	RTP     RTPConfig     `yaml:"rtp"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ContentConfig каталоги для принятого и отправленного контента
type ContentConfig struct {
	PhotoRoot string `yaml:"photo_root"`
	VideoRoot string `yaml:"video_root"`
	FileRoot  string `yaml:"file_root"`
}

// RTPConfig параметры RTP сокетов и диапазона портов
type RTPConfig struct {
	LocalHost          string `yaml:"local_host"`
	MinPort            uint16 `yaml:"min_port"`
	MaxPort            uint16 `yaml:"max_port"`
	PortStep           int    `yaml:"port_step"`
	PortStrategy       string `yaml:"port_strategy"` // sequential или random
	MaxConcurrentCalls int    `yaml:"max_concurrent_calls"`
	ReusePort          bool   `yaml:"reuse_port"`
	BindToDevice       string `yaml:"bind_to_device"`
	DisableQoS         bool   `yaml:"disable_qos"`

	RTCPInterval time.Duration `yaml:"rtcp_interval"` // 0 - без периодических отчетов
	CNAME        string        `yaml:"cname"`

	// DTLS сертификат и ключ в PEM; задаются оба или ни одного
	DTLSCertFile           string        `yaml:"dtls_cert_file"`
	DTLSKeyFile            string        `yaml:"dtls_key_file"`
	DTLSInsecureSkipVerify bool          `yaml:"dtls_insecure_skip_verify"`
	DTLSHandshakeTimeout   time.Duration `yaml:"dtls_handshake_timeout"`
}

// LogConfig уровень и формат логов
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text или json
}

// MetricsConfig адрес HTTP сервера метрик; пустой - метрики не публикуются
type MetricsConfig struct {
	Listen    string `yaml:"listen"`
	Namespace string `yaml:"namespace"`
}

// DefaultConfig конфигурация по умолчанию
func DefaultConfig() Config {
	mc := media.DefaultManagerConfig()
	return Config{
		Content: ContentConfig{
			PhotoRoot: "rcs/photo",
			VideoRoot: "rcs/video",
			FileRoot:  "rcs/file",
		},
		RTP: RTPConfig{
			LocalHost:          mc.LocalHost,
			MinPort:            mc.MinPort,
			MaxPort:            mc.MaxPort,
			PortStep:           mc.PortStep,
			PortStrategy:       mc.PortAllocationStrategy.String(),
			MaxConcurrentCalls: mc.MaxConcurrentCalls,

			RTCPInterval:         mc.RTCPInterval,
			DTLSHandshakeTimeout: mc.DTLSHandshakeTimeout,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Namespace: "rcs_media",
		},
	}
}

// Load читает YAML файл поверх значений по умолчанию, применяет
// переменные окружения и проверяет результат. Пустой path - только
// значения по умолчанию и окружение.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("чтение конфигурации: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("разбор YAML конфигурации: %w", err)
	}
	return nil
}

// ApplyEnv переопределяет поля значениями RCS_MEDIA_* из lookup
// (обычно os.LookupEnv)
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	integer := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	port := func(name string, dst *uint16) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			n, err := strconv.ParseUint(v, 10, 16)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = uint16(n)
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	str("PHOTO_ROOT", &c.Content.PhotoRoot)
	str("VIDEO_ROOT", &c.Content.VideoRoot)
	str("FILE_ROOT", &c.Content.FileRoot)

	str("LOCAL_HOST", &c.RTP.LocalHost)
	port("MIN_PORT", &c.RTP.MinPort)
	port("MAX_PORT", &c.RTP.MaxPort)
	integer("PORT_STEP", &c.RTP.PortStep)
	str("PORT_STRATEGY", &c.RTP.PortStrategy)
	integer("MAX_CALLS", &c.RTP.MaxConcurrentCalls)
	boolean("REUSE_PORT", &c.RTP.ReusePort)
	str("BIND_TO_DEVICE", &c.RTP.BindToDevice)
	boolean("DISABLE_QOS", &c.RTP.DisableQoS)
	duration("RTCP_INTERVAL", &c.RTP.RTCPInterval)
	str("CNAME", &c.RTP.CNAME)
	str("DTLS_CERT", &c.RTP.DTLSCertFile)
	str("DTLS_KEY", &c.RTP.DTLSKeyFile)
	boolean("DTLS_INSECURE", &c.RTP.DTLSInsecureSkipVerify)
	duration("DTLS_HANDSHAKE_TIMEOUT", &c.RTP.DTLSHandshakeTimeout)

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("METRICS_LISTEN", &c.Metrics.Listen)

	return errors.Join(errs...)
}

// Validate проверяет всю конфигурацию
func (c Config) Validate() error {
	if err := c.Content.Settings().Validate(); err != nil {
		return fmt.Errorf("content: %w", err)
	}
	mc, err := c.RTP.ManagerConfig()
	if err != nil {
		return fmt.Errorf("rtp: %w", err)
	}
	if err := mc.Validate(); err != nil {
		return fmt.Errorf("rtp: %w", err)
	}
	if _, err := c.Log.level(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		return fmt.Errorf("log: неизвестный формат %q", c.Log.Format)
	}
	return nil
}

// Settings каталоги в виде настроек менеджера контента
func (c ContentConfig) Settings() content.Settings {
	return content.Settings{
		PhotoRootDirectory: c.PhotoRoot,
		VideoRootDirectory: c.VideoRoot,
		FileRootDirectory:  c.FileRoot,
	}
}

// ManagerConfig конфигурация менеджера звонков
func (c RTPConfig) ManagerConfig() (media.ManagerConfig, error) {
	var strategy media.PortAllocationStrategy
	switch strings.ToLower(c.PortStrategy) {
	case "", "sequential":
		strategy = media.PortAllocationSequential
	case "random":
		strategy = media.PortAllocationRandom
	default:
		return media.ManagerConfig{}, fmt.Errorf("неизвестная стратегия выделения портов %q", c.PortStrategy)
	}

	var identity rtp.IdentityProvider
	switch {
	case c.DTLSCertFile != "" && c.DTLSKeyFile != "":
		identity = rtp.FileIdentity{CertFile: c.DTLSCertFile, KeyFile: c.DTLSKeyFile}
	case c.DTLSCertFile != "" || c.DTLSKeyFile != "":
		return media.ManagerConfig{}, errors.New("dtls_cert_file и dtls_key_file задаются вместе")
	}

	return media.ManagerConfig{
		LocalHost:              c.LocalHost,
		MinPort:                c.MinPort,
		MaxPort:                c.MaxPort,
		PortStep:               c.PortStep,
		PortAllocationStrategy: strategy,
		MaxConcurrentCalls:     c.MaxConcurrentCalls,
		ReusePort:              c.ReusePort,
		BindToDevice:           c.BindToDevice,
		DisableQoS:             c.DisableQoS,
		RTCPInterval:           c.RTCPInterval,
		CNAME:                  c.CNAME,
		Identity:               identity,
		DTLSInsecureSkipVerify: c.DTLSInsecureSkipVerify,
		DTLSHandshakeTimeout:   c.DTLSHandshakeTimeout,
	}, nil
}

func (c LogConfig) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return 0, fmt.Errorf("неизвестный уровень %q: %w", c.Level, err)
	}
	return level, nil
}

// NewLogger создает slog логгер с текстовым или JSON обработчиком
func (c LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := c.level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(c.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("неизвестный формат логов %q", c.Format)
	}
}

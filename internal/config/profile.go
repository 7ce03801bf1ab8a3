package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/matheus3301/roomsync/internal/composer"
	"github.com/matheus3301/roomsync/internal/presence"
	"github.com/matheus3301/roomsync/internal/sync"
	"github.com/matheus3301/roomsync/internal/voice"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ROOMSYNC_"

// Duration is a time.Duration written as "3s" or "1m30s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Profile is the per-profile config.toml.
type Profile struct {
	Server   Server   `toml:"server"`
	Room     Room     `toml:"room"`
	Sync     Sync     `toml:"sync"`
	Presence Presence `toml:"presence"`
	Voice    Voice    `toml:"voice"`
	Composer Composer `toml:"composer"`
	Metrics  Metrics  `toml:"metrics"`
}

type Server struct {
	BaseURL  string `toml:"base_url"`
	PushURL  string `toml:"push_url"`
	Token    string `toml:"token"`
	UserID   int64  `toml:"user_id"`
	UserName string `toml:"user_name"`
}

type Room struct {
	ID int64 `toml:"id"`
}

type Sync struct {
	PollInterval     Duration `toml:"poll_interval"`
	PageSize         int      `toml:"page_size"`
	PushSilenceRearm Duration `toml:"push_silence_rearm"`
}

type Presence struct {
	TypingTTL      Duration `toml:"typing_ttl"`
	RecordingTTL   Duration `toml:"recording_ttl"`
	SweepInterval  Duration `toml:"sweep_interval"`
	TypingThrottle Duration `toml:"typing_throttle"`
}

type Voice struct {
	CancelThreshold float64  `toml:"cancel_threshold"`
	LockThreshold   float64  `toml:"lock_threshold"`
	MaxDuration     Duration `toml:"max_duration"`
	MinDuration     Duration `toml:"min_duration"`
	Codecs          []string `toml:"codecs"`

	// SourceFile is the clip the file-backed microphone plays back.
	SourceFile string `toml:"source_file"`
}

type Composer struct {
	MaxImageBytes    int64    `toml:"max_image_bytes"`
	MaxVideoBytes    int64    `toml:"max_video_bytes"`
	MaxVideoDuration Duration `toml:"max_video_duration"`
}

type Metrics struct {
	// Addr is a TCP address for the status server; empty serves it on the
	// profile socket.
	Addr string `toml:"addr"`
}

// LoadProfile reads <dir>/config.toml and <dir>/.env, applies ROOMSYNC_*
// environment overrides and fills defaults. Both files are optional.
// Precedence: process environment, then .env, then config.toml.
func LoadProfile(dir string) (*Profile, error) {
	var p Profile
	if _, err := toml.DecodeFile(filepath.Join(dir, "config.toml"), &p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read profile config: %w", err)
	}

	dotenv, err := godotenv.Read(filepath.Join(dir, ".env"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}
	if err := p.applyEnv(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}); err != nil {
		return nil, err
	}

	p.fillDefaults()
	return &p, nil
}

// SaveProfile writes p to <dir>/config.toml.
func SaveProfile(dir string, p *Profile) error {
	return writeTOML(filepath.Join(dir, "config.toml"), p)
}

func (p *Profile) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"BASE_URL":     &p.Server.BaseURL,
		"PUSH_URL":     &p.Server.PushURL,
		"TOKEN":        &p.Server.Token,
		"USER_NAME":    &p.Server.UserName,
		"METRICS_ADDR": &p.Metrics.Addr,
		"VOICE_SOURCE": &p.Voice.SourceFile,
	}
	for k, dst := range strs {
		if v, ok := lookup(EnvPrefix + k); ok {
			*dst = v
		}
	}
	ints := map[string]*int64{
		"USER_ID": &p.Server.UserID,
		"ROOM_ID": &p.Room.ID,
	}
	for k, dst := range ints {
		v, ok := lookup(EnvPrefix + k)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, k, err)
		}
		*dst = n
	}
	return nil
}

func (p *Profile) fillDefaults() {
	def := func(d *Duration, v time.Duration) {
		if d.Duration <= 0 {
			d.Duration = v
		}
	}
	def(&p.Sync.PollInterval, sync.DefaultPollInterval)
	if p.Sync.PageSize <= 0 {
		p.Sync.PageSize = sync.DefaultPageSize
	}
	def(&p.Presence.TypingTTL, presence.DefaultTypingTTL)
	def(&p.Presence.RecordingTTL, presence.DefaultRecordingTTL)
	def(&p.Presence.SweepInterval, presence.DefaultSweepInterval)
	def(&p.Presence.TypingThrottle, presence.DefaultTypingThrottle)
	if p.Voice.CancelThreshold <= 0 {
		p.Voice.CancelThreshold = voice.DefaultCancelThreshold
	}
	if p.Voice.LockThreshold <= 0 {
		p.Voice.LockThreshold = voice.DefaultLockThreshold
	}
	def(&p.Voice.MaxDuration, voice.DefaultMaxDuration)
	def(&p.Voice.MinDuration, voice.DefaultMinDuration)
	if len(p.Voice.Codecs) == 0 {
		p.Voice.Codecs = append([]string(nil), voice.DefaultCodecs...)
	}
	if p.Composer.MaxImageBytes <= 0 {
		p.Composer.MaxImageBytes = composer.DefaultMaxImageBytes
	}
	if p.Composer.MaxVideoBytes <= 0 {
		p.Composer.MaxVideoBytes = composer.DefaultMaxVideoBytes
	}
	def(&p.Composer.MaxVideoDuration, composer.DefaultMaxVideoDuration)
}

// Validate reports the settings a room runtime cannot start without.
func (p *Profile) Validate() error {
	if p.Server.BaseURL == "" {
		return errors.New("server.base_url is required")
	}
	if p.Room.ID <= 0 {
		return errors.New("room.id must be positive")
	}
	if p.Voice.MinDuration.Duration > p.Voice.MaxDuration.Duration {
		return fmt.Errorf("voice.min_duration %s exceeds voice.max_duration %s", p.Voice.MinDuration, p.Voice.MaxDuration)
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Node        NodeConfig       `yaml:"node"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Audio       AudioConfig      `yaml:"audio"`
	VAD         VADConfig        `yaml:"vad"`
	HotWindow   HotWindowConfig  `yaml:"hot_window"`
	Interrupt   InterruptConfig  `yaml:"interrupt"`
	Trigger     TriggerConfig    `yaml:"trigger"`
	STT         STTConfig        `yaml:"stt"`
	LLM         LLMConfig        `yaml:"llm"`
	TTS         TTSConfig        `yaml:"tts"`
	Router      RouterConfig     `yaml:"router"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string           `yaml:"id"`
	Role              string           `yaml:"role"`
	HeartbeatInterval int              `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int              `yaml:"heartbeat_timeout_ms"`
	Capabilities      []NodeCapability `yaml:"capabilities"`
}

type NodeCapability struct {
	Name       string            `yaml:"name"`
	Tier       string            `yaml:"tier"`
	Attributes map[string]string `yaml:"attributes"`
}

// EventStoreConfig controls the turn metrics journal. Transcript text is never written.
type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type AudioConfig struct {
	Mode                string `yaml:"mode"` // portaudio, mock
	SampleRate          int    `yaml:"sample_rate"`
	FrameDurationMS     int    `yaml:"frame_duration_ms"`
	CaptureBufferFrames int    `yaml:"capture_buffer_frames"`
	ReopenMaxElapsedMS  int    `yaml:"reopen_max_elapsed_ms"`
}

// FrameDuration returns the capture frame length.
func (a AudioConfig) FrameDuration() time.Duration {
	return time.Duration(a.FrameDurationMS) * time.Millisecond
}

type VADConfig struct {
	Model                string  `yaml:"model"` // energy
	SpeechThreshold      float64 `yaml:"speech_threshold"`
	MinSpeechDurationMS  int     `yaml:"min_speech_duration_ms"`
	MinSilenceDurationMS int     `yaml:"min_silence_duration_ms"`
	SpeechPadMS          int     `yaml:"speech_pad_ms"`
	PreSpeechFrames      int     `yaml:"pre_speech_frames"`
	MaxUtteranceMS       int     `yaml:"max_utterance_ms"`
	EnergyFloor          float64 `yaml:"energy_floor"`
	EnergyCeiling        float64 `yaml:"energy_ceiling"`
}

type HotWindowConfig struct {
	Enabled   bool    `yaml:"enabled"`
	DurationS float64 `yaml:"duration_s"`
}

// Duration returns the hot window length.
func (h HotWindowConfig) Duration() time.Duration {
	return time.Duration(h.DurationS * float64(time.Second))
}

type InterruptConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Words      []string `yaml:"words"`
	WindowMS   int      `yaml:"window_ms"`
	Similarity float64  `yaml:"similarity"`
}

type TriggerConfig struct {
	Mode            string `yaml:"mode"` // keyboard, always, bus
	Key             string `yaml:"key"`
	Subject         string `yaml:"subject"`
	ListenTimeoutMS int    `yaml:"listen_timeout_ms"`
}

type STTConfig struct {
	Mode      string `yaml:"mode"` // mock, exec, openai
	Command   string `yaml:"command"`
	ModelPath string `yaml:"model_path"`
	Language  string `yaml:"language"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type LLMConfig struct {
	Mode          string  `yaml:"mode"` // mock, ollama, exec, openai
	Endpoint      string  `yaml:"endpoint"`
	Command       string  `yaml:"command"`
	APIKey        string  `yaml:"api_key"`
	BaseURL       string  `yaml:"base_url"`
	ModelFast     string  `yaml:"model_fast"`
	ModelBalanced string  `yaml:"model_balanced"`
	ModelDeep     string  `yaml:"model_deep"`
	SystemPrompt  string  `yaml:"system_prompt"`
	MaxTokens     int     `yaml:"max_tokens"`
	Temperature   float64 `yaml:"temperature"`
	TimeoutMS     int     `yaml:"timeout_ms"`
}

type TTSConfig struct {
	Mode            string  `yaml:"mode"` // mock, exec, openai
	Command         string  `yaml:"command"`
	Voice           string  `yaml:"voice"`
	Model           string  `yaml:"model"`
	APIKey          string  `yaml:"api_key"`
	BaseURL         string  `yaml:"base_url"`
	SampleRate      int     `yaml:"sample_rate"`
	Speed           float64 `yaml:"speed"`
	FillerCacheSize int     `yaml:"filler_cache_size"`
}

type RouterConfig struct {
	DefaultTier     string              `yaml:"default_tier"`
	LongQueryWords  int                 `yaml:"long_query_words"`
	LongQueryTier   string              `yaml:"long_query_tier"`
	Rules           []RouterRule        `yaml:"rules"`
	Fillers         map[string][]string `yaml:"fillers"`
	FillersDisabled bool                `yaml:"fillers_disabled"`
}

type RouterRule struct {
	Tier     string   `yaml:"tier"`
	Keywords []string `yaml:"keywords"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-voice",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8085,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "loqa-voice-1",
			Role:              "voice",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
			Capabilities: []NodeCapability{
				{Name: "voice.capture"},
				{Name: "voice.playback"},
			},
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-voice.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxSessions:   1000,
		},
		Audio: AudioConfig{
			Mode:                "portaudio",
			SampleRate:          16000,
			FrameDurationMS:     64,
			CaptureBufferFrames: 64,
			ReopenMaxElapsedMS:  30000,
		},
		VAD: VADConfig{
			Model:                "energy",
			SpeechThreshold:      0.5,
			MinSpeechDurationMS:  250,
			MinSilenceDurationMS: 400,
			SpeechPadMS:          100,
			PreSpeechFrames:      5,
			MaxUtteranceMS:       30000,
			EnergyFloor:          0.005,
			EnergyCeiling:        0.05,
		},
		HotWindow: HotWindowConfig{
			Enabled:   true,
			DurationS: 6.0,
		},
		Interrupt: InterruptConfig{
			Enabled:    true,
			Words:      []string{"stop", "wait", "quiet", "shush", "enough", "okay"},
			WindowMS:   300,
			Similarity: 0.7,
		},
		Trigger: TriggerConfig{
			Mode:            "keyboard",
			Key:             " ",
			Subject:         "voice.trigger",
			ListenTimeoutMS: 10000,
		},
		STT: STTConfig{
			Mode:      "mock",
			Language:  "en",
			Model:     "whisper-1",
			TimeoutMS: 30000,
		},
		LLM: LLMConfig{
			Mode:          "mock",
			Endpoint:      "http://localhost:11434",
			ModelFast:     "llama3.2:latest",
			ModelBalanced: "llama3.2:latest",
			ModelDeep:     "llama3.1:8b",
			SystemPrompt:  "You are a concise voice assistant. Answer in short spoken sentences.",
			MaxTokens:     256,
			Temperature:   0.7,
			TimeoutMS:     60000,
		},
		TTS: TTSConfig{
			Mode:            "mock",
			Voice:           "alloy",
			Model:           "tts-1",
			SampleRate:      22050,
			Speed:           1.0,
			FillerCacheSize: 32,
		},
		Router: RouterConfig{
			DefaultTier:    "fast",
			LongQueryWords: 25,
			LongQueryTier:  "balanced",
			Rules: []RouterRule{
				{Tier: "deep", Keywords: []string{"explain", "analyze", "compare", "plan", "why"}},
				{Tier: "balanced", Keywords: []string{"summarize", "remind", "schedule", "recipe"}},
			},
			Fillers: map[string][]string{
				"balanced": {"One moment.", "Let me check."},
				"deep":     {"Let me think about that.", "Good question, give me a second."},
			},
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "LOQA_NODE_ID")
	overrideString(&cfg.Node.Role, "LOQA_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "LOQA_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "LOQA_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Audio.Mode, "LOQA_AUDIO_MODE")
	overrideInt(&cfg.Audio.SampleRate, "LOQA_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.FrameDurationMS, "LOQA_AUDIO_FRAME_DURATION_MS")
	overrideInt(&cfg.Audio.CaptureBufferFrames, "LOQA_AUDIO_CAPTURE_BUFFER_FRAMES")
	overrideInt(&cfg.Audio.ReopenMaxElapsedMS, "LOQA_AUDIO_REOPEN_MAX_ELAPSED_MS")
	overrideString(&cfg.VAD.Model, "LOQA_VAD_MODEL")
	overrideFloat(&cfg.VAD.SpeechThreshold, "LOQA_VAD_SPEECH_THRESHOLD")
	overrideInt(&cfg.VAD.MinSpeechDurationMS, "LOQA_VAD_MIN_SPEECH_DURATION_MS")
	overrideInt(&cfg.VAD.MinSilenceDurationMS, "LOQA_VAD_MIN_SILENCE_DURATION_MS")
	overrideInt(&cfg.VAD.SpeechPadMS, "LOQA_VAD_SPEECH_PAD_MS")
	overrideInt(&cfg.VAD.PreSpeechFrames, "LOQA_VAD_PRE_SPEECH_FRAMES")
	overrideInt(&cfg.VAD.MaxUtteranceMS, "LOQA_VAD_MAX_UTTERANCE_MS")
	overrideFloat(&cfg.VAD.EnergyFloor, "LOQA_VAD_ENERGY_FLOOR")
	overrideFloat(&cfg.VAD.EnergyCeiling, "LOQA_VAD_ENERGY_CEILING")
	overrideBool(&cfg.HotWindow.Enabled, "LOQA_HOT_WINDOW_ENABLED")
	overrideFloat(&cfg.HotWindow.DurationS, "LOQA_HOT_WINDOW_DURATION_S")
	overrideBool(&cfg.Interrupt.Enabled, "LOQA_INTERRUPT_ENABLED")
	overrideStringSlice(&cfg.Interrupt.Words, "LOQA_INTERRUPT_WORDS")
	overrideInt(&cfg.Interrupt.WindowMS, "LOQA_INTERRUPT_WINDOW_MS")
	overrideFloat(&cfg.Interrupt.Similarity, "LOQA_INTERRUPT_SIMILARITY")
	overrideString(&cfg.Trigger.Mode, "LOQA_TRIGGER_MODE")
	overrideString(&cfg.Trigger.Key, "LOQA_TRIGGER_KEY")
	overrideString(&cfg.Trigger.Subject, "LOQA_TRIGGER_SUBJECT")
	overrideInt(&cfg.Trigger.ListenTimeoutMS, "LOQA_TRIGGER_LISTEN_TIMEOUT_MS")
	overrideString(&cfg.STT.Mode, "LOQA_STT_MODE")
	overrideString(&cfg.STT.Command, "LOQA_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "LOQA_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "LOQA_STT_LANGUAGE")
	overrideString(&cfg.STT.Model, "LOQA_STT_MODEL")
	overrideString(&cfg.STT.APIKey, "LOQA_STT_API_KEY")
	overrideString(&cfg.STT.BaseURL, "LOQA_STT_BASE_URL")
	overrideInt(&cfg.STT.TimeoutMS, "LOQA_STT_TIMEOUT_MS")
	overrideString(&cfg.LLM.Mode, "LOQA_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "LOQA_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "LOQA_LLM_COMMAND")
	overrideString(&cfg.LLM.APIKey, "LOQA_LLM_API_KEY")
	overrideString(&cfg.LLM.BaseURL, "LOQA_LLM_BASE_URL")
	overrideString(&cfg.LLM.ModelFast, "LOQA_LLM_MODEL_FAST")
	overrideString(&cfg.LLM.ModelBalanced, "LOQA_LLM_MODEL_BALANCED")
	overrideString(&cfg.LLM.ModelDeep, "LOQA_LLM_MODEL_DEEP")
	overrideString(&cfg.LLM.SystemPrompt, "LOQA_LLM_SYSTEM_PROMPT")
	overrideInt(&cfg.LLM.MaxTokens, "LOQA_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "LOQA_LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.TimeoutMS, "LOQA_LLM_TIMEOUT_MS")
	overrideString(&cfg.TTS.Mode, "LOQA_TTS_MODE")
	overrideString(&cfg.TTS.Command, "LOQA_TTS_COMMAND")
	overrideString(&cfg.TTS.Voice, "LOQA_TTS_VOICE")
	overrideString(&cfg.TTS.Model, "LOQA_TTS_MODEL")
	overrideString(&cfg.TTS.APIKey, "LOQA_TTS_API_KEY")
	overrideString(&cfg.TTS.BaseURL, "LOQA_TTS_BASE_URL")
	overrideInt(&cfg.TTS.SampleRate, "LOQA_TTS_SAMPLE_RATE")
	overrideFloat(&cfg.TTS.Speed, "LOQA_TTS_SPEED")
	overrideInt(&cfg.TTS.FillerCacheSize, "LOQA_TTS_FILLER_CACHE_SIZE")
	overrideString(&cfg.Router.DefaultTier, "LOQA_ROUTER_DEFAULT_TIER")
	overrideInt(&cfg.Router.LongQueryWords, "LOQA_ROUTER_LONG_QUERY_WORDS")
	overrideString(&cfg.Router.LongQueryTier, "LOQA_ROUTER_LONG_QUERY_TIER")
	overrideBool(&cfg.Router.FillersDisabled, "LOQA_ROUTER_FILLERS_DISABLED")

	// OPENAI_API_KEY is the conventional fallback for every openai backend.
	if key, ok := os.LookupEnv("OPENAI_API_KEY"); ok && strings.TrimSpace(key) != "" {
		for _, target := range []*string{&cfg.STT.APIKey, &cfg.LLM.APIKey, &cfg.TTS.APIKey} {
			if *target == "" {
				*target = key
			}
		}
	}
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Node.ID == "" {
			return errors.New("node.id must not be empty")
		}
		if cfg.Node.HeartbeatInterval <= 0 {
			return errors.New("node.heartbeat_interval_ms must be positive")
		}
		if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
			return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
		}
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionMode != "ephemeral" && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.Audio.Mode {
	case "portaudio", "mock":
	default:
		return errors.New("audio.mode must be one of portaudio|mock")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.FrameDurationMS <= 0 {
		return errors.New("audio.frame_duration_ms must be positive")
	}
	if cfg.Audio.CaptureBufferFrames <= 0 {
		return errors.New("audio.capture_buffer_frames must be positive")
	}
	if cfg.VAD.Model != "energy" {
		return errors.New("vad.model must be energy")
	}
	if cfg.VAD.SpeechThreshold < 0 || cfg.VAD.SpeechThreshold > 1 {
		return errors.New("vad.speech_threshold must be within [0,1]")
	}
	if cfg.VAD.MinSpeechDurationMS < 0 || cfg.VAD.MinSilenceDurationMS <= 0 || cfg.VAD.SpeechPadMS < 0 {
		return errors.New("vad durations must be non-negative and min_silence_duration_ms positive")
	}
	if cfg.VAD.PreSpeechFrames < 0 {
		return errors.New("vad.pre_speech_frames must be >= 0")
	}
	if cfg.VAD.MaxUtteranceMS < 0 {
		return errors.New("vad.max_utterance_ms must be >= 0")
	}
	if cfg.VAD.EnergyCeiling <= cfg.VAD.EnergyFloor {
		return errors.New("vad.energy_ceiling must be greater than vad.energy_floor")
	}
	if cfg.HotWindow.Enabled && cfg.HotWindow.DurationS <= 0 {
		return errors.New("hot_window.duration_s must be positive when enabled")
	}
	if cfg.Interrupt.Enabled {
		if len(cfg.Interrupt.Words) == 0 {
			return errors.New("interrupt.words must not be empty when interrupts are enabled")
		}
		if cfg.Interrupt.WindowMS <= 0 {
			return errors.New("interrupt.window_ms must be positive")
		}
		if cfg.Interrupt.Similarity <= 0 || cfg.Interrupt.Similarity > 1 {
			return errors.New("interrupt.similarity must be within (0,1]")
		}
	}
	switch cfg.Trigger.Mode {
	case "keyboard", "always":
	case "bus":
		if !cfg.Bus.Enabled {
			return errors.New("trigger.mode=bus requires bus.enabled")
		}
		if cfg.Trigger.Subject == "" {
			return errors.New("trigger.subject must be set when mode=bus")
		}
	default:
		return errors.New("trigger.mode must be one of keyboard|always|bus")
	}
	if cfg.Trigger.ListenTimeoutMS <= 0 {
		return errors.New("trigger.listen_timeout_ms must be positive")
	}
	switch cfg.STT.Mode {
	case "mock":
	case "exec":
		if cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
	case "openai":
		if cfg.STT.APIKey == "" {
			return errors.New("stt.api_key must be set when mode=openai")
		}
	default:
		return errors.New("stt.mode must be one of mock|exec|openai")
	}
	switch cfg.LLM.Mode {
	case "mock":
	case "ollama":
		if cfg.LLM.Endpoint == "" {
			return errors.New("llm.endpoint must be set when mode=ollama")
		}
	case "exec":
		if cfg.LLM.Command == "" {
			return errors.New("llm.command must be set when mode=exec")
		}
	case "openai":
		if cfg.LLM.APIKey == "" {
			return errors.New("llm.api_key must be set when mode=openai")
		}
	default:
		return errors.New("llm.mode must be one of mock|ollama|exec|openai")
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}
	switch cfg.TTS.Mode {
	case "mock":
	case "exec":
		if cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
	case "openai":
		if cfg.TTS.APIKey == "" {
			return errors.New("tts.api_key must be set when mode=openai")
		}
	default:
		return errors.New("tts.mode must be one of mock|exec|openai")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.Router.DefaultTier == "" {
		return errors.New("router.default_tier must not be empty")
	}
	for i, rule := range cfg.Router.Rules {
		if rule.Tier == "" || len(rule.Keywords) == 0 {
			return fmt.Errorf("router.rules[%d] needs a tier and at least one keyword", i)
		}
	}
	return nil
}

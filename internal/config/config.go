// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/viper"
)

const (
	AppName       = "morselink"
	ConfigType    = "yaml"
	DefaultConfig = `# morselink configuration

# Timing
unit_ms: 120                # Transmit unit (dot length) in milliseconds
dot_threshold_ms: 0         # Receive dot/dash boundary; 0 = 1.5 x unit_ms
word_gap_multiplier: 3.0    # Word break once silence exceeds this x dot threshold
duration_log_size: 256      # Light and dark durations kept for diagnostics

# Transmit
strict_text: false          # Reject text with unsupported characters instead of dropping them
actuator: "console"         # console, tone, serial or none
tone_frequency: 600         # Sidetone and detection frequency in Hz; 0 = detect when decoding
tone_volume: 0.5            # Sidetone amplitude (0.0-1.0)
serial_port: "/dev/ttyUSB0" # Serial keyer port
serial_baud: 9600           # Serial keyer baud rate

# Audio input
device_index: -1            # -1 for default device
sample_rate: 48000          # Audio sample rate in Hz
channels: 1                 # Capture channels (1=mono, 2=stereo downmixed)
block_size: 512             # Goertzel block size (samples per detection window)
overlap_pct: 50             # Block overlap percentage (0-99)

# Detection
intensity_threshold: 0.4    # Initial on/off boundary (0.0-1.0)
auto_threshold: true        # Follow the rolling min/max midpoint
threshold_window_ms: 2000   # Rolling window for auto threshold
min_spread: 0.1             # Smallest min/max spread trusted as signal
hysteresis: 2               # Consecutive blocks required to confirm a level change
agc_enabled: true           # Normalize input level against a decaying peak
agc_decay: 0.9995           # AGC peak decay per block (0.99-0.99999)
agc_attack: 0.1             # AGC attack rate (0.0-1.0)
agc_warmup_blocks: 10       # Blocks measured before emitting samples

# Publishing
mqtt_broker: ""             # e.g. tcp://localhost:1883; empty disables publishing
mqtt_topic: "morselink/decoded"
mqtt_qos: 0

# Output
debug: false                # Enable debug output
`
)

// Actuators lists the accepted values of the actuator key.
var Actuators = []string{"console", "tone", "serial", "none"}

// Settings holds all application configuration
type Settings struct {
	// Timing
	UnitMs            int     `mapstructure:"unit_ms"`
	DotThresholdMs    int     `mapstructure:"dot_threshold_ms"`
	WordGapMultiplier float64 `mapstructure:"word_gap_multiplier"`
	DurationLogSize   int     `mapstructure:"duration_log_size"`

	// Transmit
	StrictText    bool    `mapstructure:"strict_text"`
	Actuator      string  `mapstructure:"actuator"`
	ToneFrequency float64 `mapstructure:"tone_frequency"`
	ToneVolume    float64 `mapstructure:"tone_volume"`
	SerialPort    string  `mapstructure:"serial_port"`
	SerialBaud    int     `mapstructure:"serial_baud"`

	// Audio input
	DeviceIndex int     `mapstructure:"device_index"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Channels    int     `mapstructure:"channels"`
	BlockSize   int     `mapstructure:"block_size"`
	OverlapPct  int     `mapstructure:"overlap_pct"`

	// Detection
	IntensityThreshold float64 `mapstructure:"intensity_threshold"`
	AutoThreshold      bool    `mapstructure:"auto_threshold"`
	ThresholdWindowMs  int     `mapstructure:"threshold_window_ms"`
	MinSpread          float64 `mapstructure:"min_spread"`
	Hysteresis         int     `mapstructure:"hysteresis"`
	AGCEnabled         bool    `mapstructure:"agc_enabled"`
	AGCDecay           float64 `mapstructure:"agc_decay"`
	AGCAttack          float64 `mapstructure:"agc_attack"`
	AGCWarmupBlocks    int     `mapstructure:"agc_warmup_blocks"`

	// Publishing
	MQTTBroker string `mapstructure:"mqtt_broker"`
	MQTTTopic  string `mapstructure:"mqtt_topic"`
	MQTTQoS    int    `mapstructure:"mqtt_qos"`

	// Output
	Debug bool `mapstructure:"debug"`
}

// Init initializes Viper with defaults and config file.
// Config file search order: current directory, then ~/.config/morselink/
func Init() error {
	viper.SetDefault("unit_ms", 120)
	viper.SetDefault("dot_threshold_ms", 0)
	viper.SetDefault("word_gap_multiplier", 3.0)
	viper.SetDefault("duration_log_size", 256)
	viper.SetDefault("strict_text", false)
	viper.SetDefault("actuator", "console")
	viper.SetDefault("tone_frequency", 600)
	viper.SetDefault("tone_volume", 0.5)
	viper.SetDefault("serial_port", "/dev/ttyUSB0")
	viper.SetDefault("serial_baud", 9600)
	viper.SetDefault("device_index", -1)
	viper.SetDefault("sample_rate", 48000)
	viper.SetDefault("channels", 1)
	viper.SetDefault("block_size", 512)
	viper.SetDefault("overlap_pct", 50)
	viper.SetDefault("intensity_threshold", 0.4)
	viper.SetDefault("auto_threshold", true)
	viper.SetDefault("threshold_window_ms", 2000)
	viper.SetDefault("min_spread", 0.1)
	viper.SetDefault("hysteresis", 2)
	viper.SetDefault("agc_enabled", true)
	viper.SetDefault("agc_decay", 0.9995)
	viper.SetDefault("agc_attack", 0.1)
	viper.SetDefault("agc_warmup_blocks", 10)
	viper.SetDefault("mqtt_broker", "")
	viper.SetDefault("mqtt_topic", "morselink/decoded")
	viper.SetDefault("mqtt_qos", 0)
	viper.SetDefault("debug", false)

	// Support both config.yaml and .config.yaml
	viper.SetConfigType(ConfigType)

	// Priority order: current directory first, then XDG config
	viper.AddConfigPath(".")

	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	viper.AddConfigPath(filepath.Join(configDir, AppName))

	// Try .config.yaml first (hidden file), then config.yaml
	viper.SetConfigName(".config")
	if err = viper.ReadInConfig(); err != nil {
		viper.SetConfigName("config")
		err = viper.ReadInConfig()
	}

	// Read config file - if not found, create default in XDG config dir
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			xdgConfigPath := filepath.Join(configDir, AppName)
			if err = ensureConfigExists(xdgConfigPath); err != nil {
				return err
			}
			if err = viper.ReadInConfig(); err != nil {
				return fmt.Errorf("read config: %w", err)
			}
		} else {
			return fmt.Errorf("read config: %w", err)
		}
	}

	return nil
}

func ensureConfigExists(configPath string) error {
	configFile := filepath.Join(configPath, "config.yaml")

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if err = os.MkdirAll(configPath, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		if err = os.WriteFile(configFile, []byte(DefaultConfig), 0644); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
	}
	return nil
}

// Get returns the current settings
func Get() (*Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &s, nil
}

// Unit returns the transmit unit.
func (s *Settings) Unit() time.Duration {
	return time.Duration(s.UnitMs) * time.Millisecond
}

// DotThreshold returns the receive dot/dash boundary, derived from the unit
// when dot_threshold_ms is zero.
func (s *Settings) DotThreshold() time.Duration {
	if s.DotThresholdMs > 0 {
		return time.Duration(s.DotThresholdMs) * time.Millisecond
	}
	return s.Unit() * 3 / 2
}

// ThresholdWindow returns the auto threshold window.
func (s *Settings) ThresholdWindow() time.Duration {
	return time.Duration(s.ThresholdWindowMs) * time.Millisecond
}

// Validate checks that all settings are within acceptable ranges
func (s *Settings) Validate() error {
	var errs []error

	// Timing
	if s.UnitMs < 10 || s.UnitMs > 2000 {
		errs = append(errs, fmt.Errorf("unit_ms must be between 10 and 2000, got %d", s.UnitMs))
	}
	if s.DotThresholdMs < 0 || s.DotThresholdMs > 6000 {
		errs = append(errs, fmt.Errorf("dot_threshold_ms must be between 0 and 6000, got %d", s.DotThresholdMs))
	}
	if s.WordGapMultiplier <= 1 || s.WordGapMultiplier > 20 {
		errs = append(errs, fmt.Errorf("word_gap_multiplier must be above 1 and at most 20, got %v", s.WordGapMultiplier))
	}
	if s.DurationLogSize < 1 || s.DurationLogSize > 65536 {
		errs = append(errs, fmt.Errorf("duration_log_size must be between 1 and 65536, got %d", s.DurationLogSize))
	}

	// Transmit
	if !slices.Contains(Actuators, s.Actuator) {
		errs = append(errs, fmt.Errorf("actuator must be one of %v, got %q", Actuators, s.Actuator))
	}
	if s.ToneFrequency != 0 && (s.ToneFrequency < 100 || s.ToneFrequency > 3000) {
		errs = append(errs, fmt.Errorf("tone_frequency must be 0 or between 100 and 3000 Hz, got %v", s.ToneFrequency))
	}
	if s.ToneVolume < 0 || s.ToneVolume > 1 {
		errs = append(errs, fmt.Errorf("tone_volume must be between 0.0 and 1.0, got %v", s.ToneVolume))
	}
	if s.Actuator == "serial" && s.SerialPort == "" {
		errs = append(errs, errors.New("serial_port is required for the serial actuator"))
	}
	if s.SerialBaud <= 0 {
		errs = append(errs, fmt.Errorf("serial_baud must be positive, got %d", s.SerialBaud))
	}

	// Audio input
	if s.SampleRate < 8000 || s.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("sample_rate must be between 8000 and 192000 Hz, got %v", s.SampleRate))
	}
	if s.Channels < 1 || s.Channels > 2 {
		errs = append(errs, fmt.Errorf("channels must be 1 or 2, got %d", s.Channels))
	}
	if s.BlockSize < 32 || s.BlockSize > 4096 {
		errs = append(errs, fmt.Errorf("block_size must be between 32 and 4096, got %d", s.BlockSize))
	}
	// Block size should be power of 2 for optimal FFT/Goertzel performance
	if s.BlockSize&(s.BlockSize-1) != 0 {
		errs = append(errs, fmt.Errorf("block_size should be a power of 2, got %d", s.BlockSize))
	}
	if s.OverlapPct < 0 || s.OverlapPct > 99 {
		errs = append(errs, fmt.Errorf("overlap_pct must be between 0 and 99, got %d", s.OverlapPct))
	}

	// Detection
	if s.IntensityThreshold < 0.0 || s.IntensityThreshold > 1.0 {
		errs = append(errs, fmt.Errorf("intensity_threshold must be between 0.0 and 1.0, got %v", s.IntensityThreshold))
	}
	if s.ThresholdWindowMs < 100 || s.ThresholdWindowMs > 60000 {
		errs = append(errs, fmt.Errorf("threshold_window_ms must be between 100 and 60000, got %d", s.ThresholdWindowMs))
	}
	if s.MinSpread < 0.0 || s.MinSpread > 1.0 {
		errs = append(errs, fmt.Errorf("min_spread must be between 0.0 and 1.0, got %v", s.MinSpread))
	}
	if s.Hysteresis < 0 || s.Hysteresis > 50 {
		errs = append(errs, fmt.Errorf("hysteresis must be between 0 and 50, got %d", s.Hysteresis))
	}
	if s.AGCDecay < 0.99 || s.AGCDecay > 0.99999 {
		errs = append(errs, fmt.Errorf("agc_decay must be between 0.99 and 0.99999, got %v", s.AGCDecay))
	}
	if s.AGCAttack < 0.0 || s.AGCAttack > 1.0 {
		errs = append(errs, fmt.Errorf("agc_attack must be between 0.0 and 1.0, got %v", s.AGCAttack))
	}
	if s.AGCWarmupBlocks < 0 || s.AGCWarmupBlocks > 1000 {
		errs = append(errs, fmt.Errorf("agc_warmup_blocks must be between 0 and 1000, got %d", s.AGCWarmupBlocks))
	}

	// Publishing
	if s.MQTTBroker != "" && s.MQTTTopic == "" {
		errs = append(errs, errors.New("mqtt_topic is required when mqtt_broker is set"))
	}
	if s.MQTTQoS < 0 || s.MQTTQoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt_qos must be 0, 1 or 2, got %d", s.MQTTQoS))
	}

	// Nyquist check: tone frequency must be less than half the sample rate
	if s.ToneFrequency >= s.SampleRate/2 {
		errs = append(errs, fmt.Errorf("tone_frequency (%v Hz) must be less than Nyquist frequency (%v Hz)", s.ToneFrequency, s.SampleRate/2))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

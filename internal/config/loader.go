package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"jordanella.com/garden-go/internal/classifier"
	"jordanella.com/garden-go/internal/cv"
	"jordanella.com/garden-go/internal/logging"
	"jordanella.com/garden-go/internal/policy"
	"jordanella.com/garden-go/internal/scheduler"
	"jordanella.com/garden-go/internal/window"
)

// DefaultPath is where the binary looks for its settings
const DefaultPath = "garden.ini"

// InputMethod selects the pointer injector
type InputMethod string

const (
	InputADB       InputMethod = "adb"
	InputSendInput InputMethod = "sendinput"
	InputNone      InputMethod = "none"
)

// Config is the whole garden.ini
type Config struct {
	// [window]
	WindowTitle  string
	Scale        float64
	SourceWidth  int
	SourceHeight int
	DeviceWidth  int
	DeviceHeight int
	OffsetY      int

	// [paths]
	RoiDir     string
	GestureDir string
	ImageDir   string
	ScrcpyDir  string

	// [capture]
	CaptureMethod cv.CaptureMethod
	InputMethod   InputMethod
	ADBPath       string
	Serial        string

	// [detector]
	Threshold     float64
	GeometryCheck bool

	// [scheduler]
	Period      time.Duration
	SettleDelay time.Duration
	Automation  bool

	// [policy]
	Policy     string
	PolicyFile string

	// [log]
	LogLevel logging.LogLevel
	LogColor bool
	LogFile  string

	// [viewer]
	ViewerEnabled  bool
	ViewerTitle    string
	ViewerMaxWidth int

	// [database]
	DatabaseEnabled  bool
	DatabasePath     string
	DatabaseKeepDays int // 0 keeps every session
}

// NewDefaultConfig creates a config with default values
func NewDefaultConfig() *Config {
	return &Config{
		WindowTitle:     "scrcpy",
		Scale:           1.0,
		RoiDir:          "rois",
		GestureDir:      "actions",
		ImageDir:        "images",
		CaptureMethod:   cv.CaptureMethodADB,
		InputMethod:     InputADB,
		Threshold:       classifier.DefaultThreshold,
		Period:          scheduler.DefaultPeriod,
		Policy:          string(policy.KindNone),
		LogLevel:        logging.LogLevelInfo,
		LogColor:        true,
		ViewerEnabled:   true,
		ViewerTitle:     "Captured Frame",
		DatabaseEnabled: true,
		DatabasePath:    "garden.db",
	}
}

// LoadFromINI loads configuration from path. Keys that are absent keep
// their defaults.
func LoadFromINI(path string) (*Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	d := NewDefaultConfig()
	c := &Config{}

	section := file.Section("window")
	c.WindowTitle = section.Key("title").MustString(d.WindowTitle)
	c.Scale = section.Key("scale").MustFloat64(d.Scale)
	c.SourceWidth = section.Key("sourceWidth").MustInt(0)
	c.SourceHeight = section.Key("sourceHeight").MustInt(0)
	c.DeviceWidth = section.Key("deviceWidth").MustInt(0)
	c.DeviceHeight = section.Key("deviceHeight").MustInt(0)
	c.OffsetY = section.Key("offsetY").MustInt(0)

	section = file.Section("paths")
	c.RoiDir = section.Key("rois").MustString(d.RoiDir)
	c.GestureDir = section.Key("actions").MustString(d.GestureDir)
	c.ImageDir = section.Key("images").MustString(d.ImageDir)
	c.ScrcpyDir = section.Key("scrcpy").MustString("")

	section = file.Section("capture")
	method, err := cv.ParseCaptureMethod(strings.ToLower(section.Key("method").MustString(string(d.CaptureMethod))))
	if err != nil {
		return nil, err
	}
	c.CaptureMethod = method
	c.InputMethod, err = parseInputMethod(section.Key("input").MustString(string(d.InputMethod)))
	if err != nil {
		return nil, err
	}
	c.ADBPath = section.Key("adbPath").MustString("")
	c.Serial = section.Key("serial").MustString("")

	section = file.Section("detector")
	c.Threshold = section.Key("threshold").MustFloat64(d.Threshold)
	c.GeometryCheck = section.Key("geometryCheck").MustBool(false)

	section = file.Section("scheduler")
	c.Period = time.Duration(section.Key("periodMs").MustInt(int(d.Period/time.Millisecond))) * time.Millisecond
	c.SettleDelay = time.Duration(section.Key("settleDelayMs").MustInt(0)) * time.Millisecond
	c.Automation = section.Key("automation").MustBool(false)

	section = file.Section("policy")
	c.Policy = section.Key("kind").MustString(d.Policy)
	c.PolicyFile = section.Key("file").MustString("")

	section = file.Section("log")
	c.LogLevel = logging.ParseLevel(section.Key("level").MustString(string(d.LogLevel)))
	c.LogColor = section.Key("color").MustBool(d.LogColor)
	c.LogFile = section.Key("file").MustString("")

	section = file.Section("viewer")
	c.ViewerEnabled = section.Key("enabled").MustBool(d.ViewerEnabled)
	c.ViewerTitle = section.Key("title").MustString(d.ViewerTitle)
	c.ViewerMaxWidth = section.Key("maxWidth").MustInt(0)

	section = file.Section("database")
	c.DatabaseEnabled = section.Key("enabled").MustBool(d.DatabaseEnabled)
	c.DatabasePath = section.Key("path").MustString(d.DatabasePath)
	c.DatabaseKeepDays = section.Key("keepDays").MustInt(0)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads path, falling back to defaults when the file does not exist
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return NewDefaultConfig(), nil
	}
	return LoadFromINI(path)
}

func parseInputMethod(s string) (InputMethod, error) {
	switch m := InputMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case InputADB, InputSendInput, InputNone:
		return m, nil
	default:
		return "", fmt.Errorf("unknown input method %q", s)
	}
}

// Translator builds the window to device coordinate mapping
func (c *Config) Translator() *window.Translator {
	return window.NewTranslator(window.TranslatorConfig{
		SourceWidth:  c.SourceWidth,
		SourceHeight: c.SourceHeight,
		TargetWidth:  c.DeviceWidth,
		TargetHeight: c.DeviceHeight,
		OffsetY:      c.OffsetY,
	})
}

// Validate rejects values the loop cannot run with
func (c *Config) Validate() error {
	if c.Scale <= 0 {
		return fmt.Errorf("invalid scale: %v (must be > 0)", c.Scale)
	}
	if c.Threshold < 0 {
		return fmt.Errorf("invalid threshold: %v (must be >= 0)", c.Threshold)
	}
	if c.Period <= 0 {
		return fmt.Errorf("invalid period: %v (must be > 0)", c.Period)
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("invalid settle delay: %v (must be >= 0)", c.SettleDelay)
	}
	if c.RoiDir == "" || c.GestureDir == "" {
		return fmt.Errorf("rois and actions paths must be set")
	}
	if err := c.Translator().Validate(); err != nil {
		return err
	}
	if c.DatabaseEnabled && c.DatabasePath == "" {
		return fmt.Errorf("database enabled without a path")
	}
	if c.DatabaseKeepDays < 0 {
		return fmt.Errorf("invalid keepDays: %d (must be >= 0)", c.DatabaseKeepDays)
	}
	return nil
}

// SaveToINI writes configuration to an INI file
func SaveToINI(c *Config, path string) error {
	file := ini.Empty()

	section := file.Section("window")
	section.Key("title").SetValue(c.WindowTitle)
	section.Key("scale").SetValue(strconv.FormatFloat(c.Scale, 'g', -1, 64))
	section.Key("sourceWidth").SetValue(strconv.Itoa(c.SourceWidth))
	section.Key("sourceHeight").SetValue(strconv.Itoa(c.SourceHeight))
	section.Key("deviceWidth").SetValue(strconv.Itoa(c.DeviceWidth))
	section.Key("deviceHeight").SetValue(strconv.Itoa(c.DeviceHeight))
	section.Key("offsetY").SetValue(strconv.Itoa(c.OffsetY))

	section = file.Section("paths")
	section.Key("rois").SetValue(c.RoiDir)
	section.Key("actions").SetValue(c.GestureDir)
	section.Key("images").SetValue(c.ImageDir)
	section.Key("scrcpy").SetValue(c.ScrcpyDir)

	section = file.Section("capture")
	section.Key("method").SetValue(string(c.CaptureMethod))
	section.Key("input").SetValue(string(c.InputMethod))
	section.Key("adbPath").SetValue(c.ADBPath)
	section.Key("serial").SetValue(c.Serial)

	section = file.Section("detector")
	section.Key("threshold").SetValue(strconv.FormatFloat(c.Threshold, 'g', -1, 64))
	section.Key("geometryCheck").SetValue(strconv.FormatBool(c.GeometryCheck))

	section = file.Section("scheduler")
	section.Key("periodMs").SetValue(strconv.FormatInt(c.Period.Milliseconds(), 10))
	section.Key("settleDelayMs").SetValue(strconv.FormatInt(c.SettleDelay.Milliseconds(), 10))
	section.Key("automation").SetValue(strconv.FormatBool(c.Automation))

	section = file.Section("policy")
	section.Key("kind").SetValue(c.Policy)
	section.Key("file").SetValue(c.PolicyFile)

	section = file.Section("log")
	section.Key("level").SetValue(string(c.LogLevel))
	section.Key("color").SetValue(strconv.FormatBool(c.LogColor))
	section.Key("file").SetValue(c.LogFile)

	section = file.Section("viewer")
	section.Key("enabled").SetValue(strconv.FormatBool(c.ViewerEnabled))
	section.Key("title").SetValue(c.ViewerTitle)
	section.Key("maxWidth").SetValue(strconv.Itoa(c.ViewerMaxWidth))

	section = file.Section("database")
	section.Key("enabled").SetValue(strconv.FormatBool(c.DatabaseEnabled))
	section.Key("path").SetValue(c.DatabasePath)
	section.Key("keepDays").SetValue(strconv.Itoa(c.DatabaseKeepDays))

	return file.SaveTo(path)
}

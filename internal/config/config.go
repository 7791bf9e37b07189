// Package config loads the daemon configuration from a TOML file, SAWCTL_*
// environment variables and command line flags, in increasing precedence.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/sawctl/internal/codec"
	"codeberg.org/mutker/sawctl/internal/controller"
	"codeberg.org/mutker/sawctl/internal/delay"
	"codeberg.org/mutker/sawctl/internal/errors"
	"codeberg.org/mutker/sawctl/internal/link"
	"codeberg.org/mutker/sawctl/internal/loop"
	"codeberg.org/mutker/sawctl/internal/metrics"
	"codeberg.org/mutker/sawctl/internal/modbus"
	"codeberg.org/mutker/sawctl/internal/snapshot"
	"codeberg.org/mutker/sawctl/internal/telemetry"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultConfigFile  = "/etc/sawctl.toml"
	DefaultEnvPrefix   = "SAWCTL"
	DefaultLogLevel    = "info"
	DefaultPIDDir      = "/run/sawctl"
	DefaultJoinTimeout = 3 * time.Second
)

type Config struct {
	LogLevel    string            `mapstructure:"log_level"`
	PIDDir      string            `mapstructure:"pid_dir"`
	Link        LinkConfig        `mapstructure:"link"`
	Registers   RegistersConfig   `mapstructure:"registers"`
	Codec       CodecConfig       `mapstructure:"codec"`
	Controller  ControllerConfig  `mapstructure:"controller"`
	Limits      LimitsConfig      `mapstructure:"limits"`
	Loop        LoopConfig        `mapstructure:"loop"`
	Delay       DelayConfig       `mapstructure:"delay"`
	State       StateConfig       `mapstructure:"state"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`

	// MaintenanceWrite is the --maintenance-write flag, ADDR=VALUE. Set only
	// from the command line.
	MaintenanceWrite string `mapstructure:"-"`
	// File is the configuration file that was read, empty if none.
	File string `mapstructure:"-"`
}

type LinkConfig struct {
	Transport        string        `mapstructure:"transport"`
	Port             string        `mapstructure:"port"`
	BaudRate         int           `mapstructure:"baud_rate"`
	DataBits         int           `mapstructure:"data_bits"`
	Parity           string        `mapstructure:"parity"`
	StopBits         int           `mapstructure:"stop_bits"`
	Address          string        `mapstructure:"address"`
	DeviceID         int           `mapstructure:"device_id"`
	Timeout          time.Duration `mapstructure:"timeout"`
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
}

type RegistersConfig struct {
	CuttingSpeed   uint16 `mapstructure:"cutting_speed"`
	DescentSpeed   uint16 `mapstructure:"descent_speed"`
	TelemetryStart uint16 `mapstructure:"telemetry_start"`
	TelemetryCount uint16 `mapstructure:"telemetry_count"`
	// Fields overrides the offset of named telemetry fields within the
	// block, e.g. cutting_current = 1.
	Fields map[string]uint16 `mapstructure:"fields"`
}

type CodecConfig struct {
	CuttingStep float64 `mapstructure:"cutting_step"`
	DescentStep float64 `mapstructure:"descent_step"`
}

type ControllerConfig struct {
	Strategy         string        `mapstructure:"strategy"`
	MinWriteInterval time.Duration `mapstructure:"min_write_interval"`
	// Monitor disables every strategy: telemetry is read and published,
	// nothing is written.
	Monitor    bool                      `mapstructure:"monitor"`
	Strategies map[string]StrategyConfig `mapstructure:"strategies"`
}

// StrategyConfig is one [controller.strategies.<name>] table. A strategy
// without enabled set is enabled.
type StrategyConfig struct {
	Enabled *bool              `mapstructure:"enabled"`
	Params  map[string]float64 `mapstructure:"params"`
}

type LimitsConfig struct {
	CuttingMin float64 `mapstructure:"cutting_min"`
	CuttingMax float64 `mapstructure:"cutting_max"`
	DescentMin float64 `mapstructure:"descent_min"`
	DescentMax float64 `mapstructure:"descent_max"`
}

type LoopConfig struct {
	Delay       time.Duration `mapstructure:"delay"`
	JoinTimeout time.Duration `mapstructure:"join_timeout"`
}

type DelayConfig struct {
	TargetDistance float64       `mapstructure:"target_distance_mm"`
	Min            time.Duration `mapstructure:"min"`
	Max            time.Duration `mapstructure:"max"`
	Default        time.Duration `mapstructure:"default"`
	CacheWindow    time.Duration `mapstructure:"cache_window"`
}

type StateConfig struct {
	DescentActiveThreshold float64 `mapstructure:"descent_active_threshold"`
	CutCompleteValue       float64 `mapstructure:"cut_complete_value"`
	AutoStart              bool    `mapstructure:"auto_start"`
}

type TelemetryConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	DBPath       string        `mapstructure:"db_path"`
	Interval     time.Duration `mapstructure:"interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	BackupDir    string        `mapstructure:"backup_dir"`
}

type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
	Path   string `mapstructure:"path"`
}

// MaintenanceConfig describes the unlock and save steps framing a
// maintenance write.
type MaintenanceConfig struct {
	UnlockRegister uint16 `mapstructure:"unlock_register"`
	UnlockCode     uint16 `mapstructure:"unlock_code"`
	SaveRegister   uint16 `mapstructure:"save_register"`
	SaveCode       uint16 `mapstructure:"save_code"`
}

func setDefaults(v *viper.Viper) {
	lc := link.DefaultConfig()
	lp := loop.DefaultConfig()
	dc := delay.DefaultConfig()
	regs := controller.DefaultRegisters()
	lim := controller.DefaultLimits()
	tc := telemetry.DefaultConfig()
	mc := metrics.DefaultConfig()

	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("pid_dir", DefaultPIDDir)

	v.SetDefault("link.transport", lc.Transport)
	v.SetDefault("link.port", lc.Port)
	v.SetDefault("link.baud_rate", lc.BaudRate)
	v.SetDefault("link.data_bits", lc.DataBits)
	v.SetDefault("link.parity", lc.Parity)
	v.SetDefault("link.stop_bits", lc.StopBits)
	v.SetDefault("link.address", "")
	v.SetDefault("link.device_id", int(lc.DeviceID))
	v.SetDefault("link.timeout", lc.Timeout)
	v.SetDefault("link.reconnect_backoff", lc.ReconnectBackoff)
	v.SetDefault("link.failure_threshold", lc.FailureThreshold)

	v.SetDefault("registers.cutting_speed", regs.Cutting)
	v.SetDefault("registers.descent_speed", regs.Descent)
	v.SetDefault("registers.telemetry_start", lp.TelemetryStart)
	v.SetDefault("registers.telemetry_count", lp.TelemetryCount)

	v.SetDefault("codec.cutting_step", codec.DefaultCuttingStep)
	v.SetDefault("codec.descent_step", codec.DefaultDescentStep)

	v.SetDefault("controller.strategy", string(controller.StrategyFuzzy))
	v.SetDefault("controller.min_write_interval", lp.MinWriteInterval)
	v.SetDefault("controller.monitor", false)

	v.SetDefault("limits.cutting_min", lim.CuttingMin)
	v.SetDefault("limits.cutting_max", lim.CuttingMax)
	v.SetDefault("limits.descent_min", lim.DescentMin)
	v.SetDefault("limits.descent_max", lim.DescentMax)

	v.SetDefault("loop.delay", lp.Delay)
	v.SetDefault("loop.join_timeout", DefaultJoinTimeout)

	v.SetDefault("delay.target_distance_mm", dc.TargetDistance)
	v.SetDefault("delay.min", dc.Min)
	v.SetDefault("delay.max", dc.Max)
	v.SetDefault("delay.default", dc.Default)
	v.SetDefault("delay.cache_window", dc.CacheWindow)

	v.SetDefault("state.descent_active_threshold", lp.DescentActiveThreshold)
	v.SetDefault("state.cut_complete_value", lp.CutCompleteValue)
	v.SetDefault("state.auto_start", false)

	v.SetDefault("telemetry.enabled", tc.Enabled)
	v.SetDefault("telemetry.db_path", tc.DBPath)
	v.SetDefault("telemetry.interval", tc.Interval)
	v.SetDefault("telemetry.batch_size", tc.BatchSize)
	v.SetDefault("telemetry.batch_timeout", tc.BatchTimeout)
	v.SetDefault("telemetry.backup_dir", tc.BackupDir)

	v.SetDefault("metrics.listen", mc.Listen)
	v.SetDefault("metrics.path", mc.Path)

	v.SetDefault("maintenance.unlock_register", 0x0FA0)
	v.SetDefault("maintenance.unlock_code", 0x5AA5)
	v.SetDefault("maintenance.save_register", 0x0FA1)
	v.SetDefault("maintenance.save_code", 1)
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("sawctl", pflag.ContinueOnError)
	fs.String("config", "", "Path to the configuration file (default "+DefaultConfigFile+")")
	fs.String("log-level", DefaultLogLevel, "Log level: debug, info, warning, error")
	fs.String("strategy", string(controller.StrategyFuzzy), "Controller strategy: fuzzy, linear, dynamic, learned")
	fs.Bool("monitor", false, "Only read and publish telemetry, never write speeds")
	fs.Bool("auto-start", false, "Start a cut at boot and after every acknowledgment")
	fs.String("transport", link.TransportSerial, "Link transport: serial or tcp")
	fs.String("port", link.DefaultConfig().Port, "Serial port of the PLC")
	fs.String("address", "", "TCP address of the PLC (host:port)")
	fs.String("metrics-listen", "", "Serve Prometheus metrics on this address")
	fs.Bool("telemetry", true, "Record telemetry to the local database")
	fs.String("pid-dir", DefaultPIDDir, "Directory of the PID file")
	fs.String("maintenance-write", "", "Run the maintenance sequence writing ADDR=VALUE and exit")
	return fs
}

var flagKeys = map[string]string{
	"log-level":      "log_level",
	"strategy":       "controller.strategy",
	"monitor":        "controller.monitor",
	"auto-start":     "state.auto_start",
	"transport":      "link.transport",
	"port":           "link.port",
	"address":        "link.address",
	"metrics-listen": "metrics.listen",
	"telemetry":      "telemetry.enabled",
	"pid-dir":        "pid_dir",
}

// Load reads the configuration and validates it once.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(ErrInvalidConfig, err)
		}
	}
	if o.args == nil {
		o.args = os.Args[1:]
	}

	fs := newFlagSet()
	if err := fs.Parse(o.args); err != nil {
		return nil, errFactory.Wrap(ErrParseFlags, err)
	}

	v := viper.New()
	setDefaults(v)

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, errFactory.WithData(ErrBindFlags, name)
		}
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, explicit := configFile(o, fs)
	if err := readConfigFile(v, path, explicit); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(ErrUnmarshal, err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.MaintenanceWrite, _ = fs.GetString("maintenance-write")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// configFile picks the file to read: WithConfigFile, then --config, then
// <PREFIX>_CONFIG, then the default path.
func configFile(o *options, fs *pflag.FlagSet) (string, bool) {
	if o.configPath != "" {
		return o.configPath, true
	}
	if p, _ := fs.GetString("config"); p != "" {
		return p, true
	}
	if p := os.Getenv(o.envPrefix + "_CONFIG"); p != "" {
		return p, true
	}
	return DefaultConfigFile, false
}

func readConfigFile(v *viper.Viper, path string, explicit bool) error {
	errFactory := errors.New()

	if _, err := os.Stat(path); err != nil {
		if !explicit && os.IsNotExist(err) {
			return nil
		}
		return errFactory.WithData(ErrReadConfig, struct {
			Path  string
			Error string
		}{path, err.Error()})
	}

	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return errFactory.WithData(ErrReadConfig, struct {
			Path  string
			Error string
		}{path, err.Error()})
	}
	return nil
}

// Validate checks every section by converting it to the configuration of
// the component that consumes it.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(ErrInvalidLogLevel, c.LogLevel)
	}
	if c.PIDDir == "" {
		return errFactory.WithMessage(ErrInvalidConfig, "pid_dir is required")
	}
	if c.Link.DeviceID < 1 || c.Link.DeviceID > 247 {
		return errFactory.WithData(ErrInvalidConfig, struct {
			DeviceID int
		}{c.Link.DeviceID})
	}
	if c.Loop.JoinTimeout <= 0 {
		return errFactory.WithData(ErrInvalidConfig, struct {
			JoinTimeout time.Duration
		}{c.Loop.JoinTimeout})
	}

	if err := c.LinkConfig().Validate(); err != nil {
		return err
	}
	if _, err := c.NewCodec(); err != nil {
		return err
	}
	if _, err := c.FieldSpecs(); err != nil {
		return err
	}
	if err := c.LoopConfig().Validate(); err != nil {
		return err
	}
	if err := c.DelayConfig().Validate(); err != nil {
		return err
	}
	if err := c.SpeedLimits().Validate(); err != nil {
		return err
	}
	if _, err := c.StrategyConfigs(); err != nil {
		return err
	}
	if err := c.TelemetryConfig().Validate(); err != nil {
		return err
	}
	if err := c.MetricsConfig().Validate(); err != nil {
		return err
	}
	if c.MaintenanceWrite != "" {
		if _, err := c.MaintenanceSequence(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) LinkConfig() link.Config {
	return link.Config{
		Transport:        c.Link.Transport,
		Port:             c.Link.Port,
		BaudRate:         c.Link.BaudRate,
		DataBits:         c.Link.DataBits,
		Parity:           c.Link.Parity,
		StopBits:         c.Link.StopBits,
		Address:          c.Link.Address,
		DeviceID:         byte(c.Link.DeviceID),
		Timeout:          c.Link.Timeout,
		ReconnectBackoff: c.Link.ReconnectBackoff,
		FailureThreshold: c.Link.FailureThreshold,
	}
}

func (c *Config) NewCodec() (*codec.Codec, error) {
	return codec.New(c.Codec.CuttingStep, c.Codec.DescentStep)
}

// FieldSpecs returns the default telemetry layout with the configured
// offset overrides applied.
func (c *Config) FieldSpecs() ([]snapshot.FieldSpec, error) {
	return snapshot.WithOffsets(snapshot.DefaultFields(), c.Registers.Fields)
}

func (c *Config) LoopConfig() loop.Config {
	return loop.Config{
		Delay:                  c.Loop.Delay,
		MinWriteInterval:       c.Controller.MinWriteInterval,
		TelemetryStart:         c.Registers.TelemetryStart,
		TelemetryCount:         c.Registers.TelemetryCount,
		DescentActiveThreshold: c.State.DescentActiveThreshold,
		CutCompleteValue:       c.State.CutCompleteValue,
		AutoStart:              c.State.AutoStart,
	}
}

func (c *Config) DelayConfig() delay.Config {
	return delay.Config{
		TargetDistance: c.Delay.TargetDistance,
		Min:            c.Delay.Min,
		Max:            c.Delay.Max,
		Default:        c.Delay.Default,
		CacheWindow:    c.Delay.CacheWindow,
		Register:       c.Registers.DescentSpeed,
	}
}

func (c *Config) SpeedLimits() controller.Limits {
	return controller.Limits{
		CuttingMin: c.Limits.CuttingMin,
		CuttingMax: c.Limits.CuttingMax,
		DescentMin: c.Limits.DescentMin,
		DescentMax: c.Limits.DescentMax,
	}
}

func (c *Config) CommandRegisters() controller.Registers {
	return controller.Registers{
		Cutting: c.Registers.CuttingSpeed,
		Descent: c.Registers.DescentSpeed,
	}
}

// Strategy returns the configured active strategy.
func (c *Config) Strategy() controller.Strategy {
	return controller.Strategy(c.Controller.Strategy)
}

// StrategyConfigs returns a config for every known strategy. Strategies
// missing from the file are enabled with no parameters.
func (c *Config) StrategyConfigs() (map[controller.Strategy]controller.Config, error) {
	errFactory := errors.New()

	known := make(map[controller.Strategy]bool)
	for _, s := range controller.Strategies() {
		known[s] = true
	}
	if !known[c.Strategy()] {
		return nil, errFactory.WithData(controller.ErrUnknownStrategy, c.Controller.Strategy)
	}

	out := make(map[controller.Strategy]controller.Config, len(known))
	for _, s := range controller.Strategies() {
		out[s] = controller.Config{Params: map[string]float64{}, Enabled: !c.Controller.Monitor}
	}

	for name, sc := range c.Controller.Strategies {
		s := controller.Strategy(strings.ToLower(name))
		if !known[s] {
			return nil, errFactory.WithData(controller.ErrUnknownStrategy, name)
		}

		cfg := out[s]
		for k, v := range sc.Params {
			cfg.Params[strings.ToLower(k)] = v
		}
		if sc.Enabled != nil && !*sc.Enabled {
			cfg.Enabled = false
		}
		out[s] = cfg
	}

	return out, nil
}

func (c *Config) TelemetryConfig() telemetry.Config {
	return telemetry.Config{
		Enabled:      c.Telemetry.Enabled,
		DBPath:       c.Telemetry.DBPath,
		Interval:     c.Telemetry.Interval,
		BatchSize:    c.Telemetry.BatchSize,
		BatchTimeout: c.Telemetry.BatchTimeout,
		BackupDir:    c.Telemetry.BackupDir,
	}
}

func (c *Config) MetricsConfig() metrics.Config {
	return metrics.Config{Listen: c.Metrics.Listen, Path: c.Metrics.Path}
}

// MaintenanceSequence returns the unlock, target write and save steps for
// the --maintenance-write flag.
func (c *Config) MaintenanceSequence() ([]modbus.WriteRequest, error) {
	addr, value, err := ParseMaintenanceWrite(c.MaintenanceWrite)
	if err != nil {
		return nil, err
	}

	m := c.Maintenance
	return []modbus.WriteRequest{
		{Address: m.UnlockRegister, Value: m.UnlockCode},
		{Address: addr, Value: value},
		{Address: m.SaveRegister, Value: m.SaveCode},
	}, nil
}

// ParseMaintenanceWrite parses ADDR=VALUE. Both sides accept decimal, 0x
// hex or 0o octal.
func ParseMaintenanceWrite(s string) (addr, value uint16, err error) {
	errFactory := errors.New()

	left, right, ok := strings.Cut(s, "=")
	if !ok {
		return 0, 0, errFactory.WithData(ErrInvalidWrite, s)
	}

	a, err := strconv.ParseUint(strings.TrimSpace(left), 0, 16)
	if err != nil {
		return 0, 0, errFactory.WithData(ErrInvalidWrite, s)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(right), 0, 16)
	if err != nil {
		return 0, 0, errFactory.WithData(ErrInvalidWrite, s)
	}

	return uint16(a), uint16(v), nil
}

package bootconf

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
)

type InstallationConfig struct {
	Sysroot  string `toml:"sysroot"`
	StateDir string `toml:"state_dir"`
}

type BusConfig struct {
	// Socket is the unix socket the bus listens on. Listen, when set,
	// adds a TCP listener.
	Socket string `toml:"socket"`
	Listen string `toml:"listen"`
}

type LoggingConfig struct {
	Level     string `toml:"level"`
	Journal   bool   `toml:"journal"`
	SentryDSN string `toml:"sentry_dsn"`
	// something like "production" or "testing", added to sentry events
	Environment string `toml:"environment"`
}

type PayloadConfig struct {
	DNFHelper         string        `toml:"dnf_helper"`
	CacheDir          string        `toml:"cache_dir"`
	Retries           int           `toml:"retries"`
	Timeout           time.Duration `toml:"timeout"`
	IgnoredPackages   []string      `toml:"ignored_packages"`
	DownloadLocations []string      `toml:"download_locations"`
	ReposDir          string        `toml:"repos_dir"`
	DNFConfig         string        `toml:"dnf_config"`
	// SystemReposDir holds the repositories of the installation
	// environment, used by the closest mirror source.
	SystemReposDir string   `toml:"system_repos_dir"`
	GPGKeys        []string `toml:"gpg_keys"`
	// ReleaseVer is used when the source does not provide one.
	ReleaseVer string `toml:"releasever"`
}

type TimezoneConfig struct {
	Default             string        `toml:"default"`
	GeolocationProvider string        `toml:"geolocation_provider"`
	GeolocationTimeout  time.Duration `toml:"geolocation_timeout"`
	ZoneinfoDir         string        `toml:"zoneinfo_dir"`
	NTPConfig           string        `toml:"ntp_config"`
}

type OrchestratorConfig struct {
	CancelTimeout    time.Duration `toml:"cancel_timeout"`
	ProgressInterval time.Duration `toml:"progress_interval"`
	// Order lists module names in installation order. Names without a
	// registered module are skipped.
	Order   []string `toml:"order"`
	Workers int      `toml:"workers"`
}

type MetricsConfig struct {
	Listen string `toml:"listen"`
}

type Config struct {
	Installation InstallationConfig `toml:"installation"`
	Bus          BusConfig          `toml:"bus"`
	Logging      LoggingConfig      `toml:"logging"`
	Payload      PayloadConfig      `toml:"payload"`
	Timezone     TimezoneConfig     `toml:"timezone"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Metrics      MetricsConfig      `toml:"metrics"`
}

// DefaultOrder is the installation order of the modules.
var DefaultOrder = []string{
	"storage",
	"network",
	"localization",
	"timezone",
	"security",
	"users",
	"subscription",
	"payloads",
	"runtime",
	"bootloader",
}

func GetDefaultConfig() *Config {
	return &Config{
		Installation: InstallationConfig{
			Sysroot:  "/mnt/sysroot",
			StateDir: "/var/lib/anaconda",
		},
		Bus: BusConfig{
			Socket: "/run/anaconda/bus.socket",
		},
		Logging: LoggingConfig{
			Level:       "info",
			Environment: "production",
		},
		Payload: PayloadConfig{
			DNFHelper:         "/usr/libexec/anaconda/dnf-json",
			CacheDir:          "/var/cache/anaconda/dnf",
			Retries:           10,
			Timeout:           30 * time.Second,
			DownloadLocations: []string{"/var/tmp", "/tmp"},
			ReposDir:          "etc/yum.repos.d",
			DNFConfig:         "etc/dnf/dnf.conf",
			SystemReposDir:    "/etc/yum.repos.d",
			GPGKeys:           []string{"/etc/pki/rpm-gpg/RPM-GPG-KEY-fedora-$releasever-$basearch"},
		},
		Timezone: TimezoneConfig{
			Default:             "America/New_York",
			GeolocationProvider: "https://geoip.fedoraproject.org/city",
			GeolocationTimeout:  5 * time.Second,
			ZoneinfoDir:         "/usr/share/zoneinfo",
			NTPConfig:           "etc/chrony.conf",
		},
		Orchestrator: OrchestratorConfig{
			CancelTimeout:    30 * time.Second,
			ProgressInterval: 50 * time.Millisecond,
			Order:            append([]string(nil), DefaultOrder...),
			Workers:          4,
		},
	}
}

// LoadConfig reads the configuration file on top of the defaults. A
// missing file is not an error.
func LoadConfig(name string) (*Config, error) {
	c := GetDefaultConfig()
	_, err := toml.DecodeFile(name, c)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		logrus.Info("Configuration file not found, using defaults")
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func DumpConfig(c *Config, w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

func (c *Config) validate() error {
	if c.Payload.Retries < 0 {
		return fmt.Errorf("invalid number of payload retries: %d", c.Payload.Retries)
	}
	if c.Payload.Timeout <= 0 {
		return fmt.Errorf("payload timeout must be positive, got %s", c.Payload.Timeout)
	}
	if c.Orchestrator.CancelTimeout <= 0 {
		return fmt.Errorf("orchestrator cancel timeout must be positive, got %s", c.Orchestrator.CancelTimeout)
	}
	if c.Orchestrator.Workers < 1 {
		return fmt.Errorf("orchestrator needs at least one worker, got %d", c.Orchestrator.Workers)
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, name := range c.Orchestrator.Order {
		if seen[name] {
			return fmt.Errorf("module %q appears twice in the installation order", name)
		}
		seen[name] = true
	}
	return nil
}

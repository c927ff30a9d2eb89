// Package config implements spec.md §1/§6's external-collaborator
// boundary: flag parsing, plus the file-based layer and version
// reporting SPEC_FULL.md §1.C adds on top. Layers, lowest to highest
// precedence: built-in defaults, an optional TOML file, command-line
// flags — mirroring the teacher's config-file-driven daemons
// (talek/replica/main.go's common.conf/replica.conf), adapted from JSON
// to TOML because that is the teacher's actual go.mod dependency.
package config

import (
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/carlmjohnson/versioninfo"
)

// HostPort is a resolved master address for --replicaof.
type HostPort struct {
	Host string
	Port int
}

// Config is the fully-resolved process configuration.
type Config struct {
	Host        string
	Port        int
	ReplicaOf   *HostPort
	MetricsAddr string
	MaxConns    int
	LogLevel    string
}

// fileLayer is the shape of an optional TOML config file; only
// non-zero fields override the built-in defaults (flags, in turn,
// override whatever the file set — see Parse).
type fileLayer struct {
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	MetricsAddr string `toml:"metrics_addr"`
	MaxConns    int    `toml:"max_conns"`
	LogLevel    string `toml:"log_level"`
}

func defaults() Config {
	return Config{
		Host:     "127.0.0.1",
		Port:     6379,
		LogLevel: "info",
	}
}

// Parse builds a Config from args (typically os.Args[1:]). It never exits
// the process: for --version it prints the version and returns a sentinel
// error (see IsVersionPrinted), and for -h/-help it returns flag.ErrHelp
// after the flag set prints its usage.
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("kvnode", flag.ContinueOnError)

	host := fs.String("host", "", "bind host (default 127.0.0.1)")
	port := fs.Int("port", 0, "bind port (default 6379)")
	replicaof := fs.String("replicaof", "", `upstream master as "<host> <port>"; when set, this node starts as a replica`)
	cfgFile := fs.String("config", "", "optional TOML config file")
	metricsAddr := fs.String("metrics-addr", "", "address to serve Prometheus /metrics on (empty disables it)")
	maxConns := fs.Int("max-conns", 0, "maximum concurrent client connections (0 = unlimited)")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, error (default info)")
	showVersion := fs.Bool("version", false, "print version information and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *showVersion {
		fmt.Println(versioninfo.Short())
		return nil, errVersionPrinted
	}

	cfg := defaults()

	if *cfgFile != "" {
		var fl fileLayer
		if _, err := toml.DecodeFile(*cfgFile, &fl); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", *cfgFile, err)
		}
		applyFileLayer(&cfg, fl)
	}

	applyFlagOverrides(&cfg, *host, *port, *metricsAddr, *maxConns, *logLevel)

	if *replicaof != "" {
		hp, err := parseHostPort(*replicaof)
		if err != nil {
			return nil, fmt.Errorf("config: --replicaof: %w", err)
		}
		cfg.ReplicaOf = hp
	}

	return &cfg, nil
}

func applyFileLayer(cfg *Config, fl fileLayer) {
	if fl.Host != "" {
		cfg.Host = fl.Host
	}
	if fl.Port != 0 {
		cfg.Port = fl.Port
	}
	if fl.MetricsAddr != "" {
		cfg.MetricsAddr = fl.MetricsAddr
	}
	if fl.MaxConns != 0 {
		cfg.MaxConns = fl.MaxConns
	}
	if fl.LogLevel != "" {
		cfg.LogLevel = fl.LogLevel
	}
}

func applyFlagOverrides(cfg *Config, host string, port int, metricsAddr string, maxConns int, logLevel string) {
	if host != "" {
		cfg.Host = host
	}
	if port != 0 {
		cfg.Port = port
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
	if maxConns != 0 {
		cfg.MaxConns = maxConns
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
}

func parseHostPort(s string) (*HostPort, error) {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return nil, fmt.Errorf(`expected "<host> <port>", got %q`, s)
	}
	p, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("port %q: %w", parts[1], err)
	}
	return &HostPort{Host: parts[0], Port: p}, nil
}

// errVersionPrinted is a sentinel Parse returns after printing
// --version, so main can exit 0 without treating it as a real error.
var errVersionPrinted = fmt.Errorf("config: version printed")

// IsVersionPrinted reports whether err is the --version sentinel.
func IsVersionPrinted(err error) bool {
	return err == errVersionPrinted
}

package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// ErrInvalidArgument marks a configuration problem rooted in what the
// operator typed (a malformed name, a bad port) as opposed to a runtime
// failure (DNS resolution). cli.ParseArgs maps the former to the
// argument-error exit code and the latter to the fatal-OS-error code.
var ErrInvalidArgument = errors.New("invalid argument")

// setDefaults fills in every zero-valued field with its documented
// default, applied after ParseArgs has copied over whatever the command
// line actually specified.
func setDefaults(cfg *Config) {
	if cfg.TalkPort == 0 {
		cfg.TalkPort = DefaultTalkPort
	}
	if cfg.DNSPort == 0 {
		cfg.DNSPort = DefaultDNSPort
	}
	if cfg.SSPort == 0 {
		cfg.SSPort = DefaultSSPort
	}
	if cfg.SSHost == "" {
		cfg.SSHost = DefaultSSHost
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.StructuredFormat == "" {
		cfg.Logging.StructuredFormat = "json"
	}
	if cfg.Logging.ExtraFields == nil {
		cfg.Logging.ExtraFields = map[string]string{}
	}
	if cfg.Admin.Host == "" {
		cfg.Admin.Host = "127.0.0.1"
	}
}

// normalizeConfig validates the fully-defaulted Config: cheap
// structural checks the rest of the program can then assume hold.
func normalizeConfig(cfg *Config) error {
	if cfg.Name == "" || cfg.Surname == "" {
		return fmt.Errorf("%w: name.surname must contain exactly one '.' with non-empty parts", ErrInvalidArgument)
	}
	if !cfg.IP.IsValid() {
		return fmt.Errorf("%w: ip must be a valid dot-decimal address", ErrInvalidArgument)
	}
	if cfg.Admin.Enabled {
		if cfg.Admin.Port <= 0 || cfg.Admin.Port > 65535 {
			return fmt.Errorf("%w: admin.port must be 1..65535", ErrInvalidArgument)
		}
	}
	return nil
}

// Finalize applies defaults, validates the operator-supplied fields, and
// resolves the SS hostname to an address. ParseArgs calls this once
// after populating the fields the command line specified, following a
// load-then-normalize shape. A returned error wrapping ErrInvalidArgument
// reflects bad input; any other error is a resolution/OS failure.
func Finalize(cfg *Config) error {
	setDefaults(cfg)

	if err := normalizeConfig(cfg); err != nil {
		return err
	}

	addr, err := ResolveSSAddr(cfg.SSHost, cfg.SSPort)
	if err != nil {
		return fmt.Errorf("config: resolve SS host %q: %w", cfg.SSHost, err)
	}
	cfg.SSAddr = addr
	return nil
}

// ResolveSSAddr resolves the Surname Server's hostname to an address.
// If host is already a literal IP address, no lookup is performed.
func ResolveSSAddr(host string, port uint16) (netip.AddrPort, error) {
	host = strings.TrimSpace(host)
	if addr, err := netip.ParseAddr(host); err == nil {
		return netip.AddrPortFrom(addr, port), nil
	}
	ips, err := net.LookupHost(host)
	if err != nil {
		return netip.AddrPort{}, err
	}
	for _, ip := range ips {
		if addr, err := netip.ParseAddr(ip); err == nil {
			return netip.AddrPortFrom(addr, port), nil
		}
	}
	return netip.AddrPort{}, fmt.Errorf("no usable address for %q", host)
}

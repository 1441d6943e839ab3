// Package config holds the parsed, defaulted startup configuration for a
// single nsmesh node: its own identity, the Surname Server endpoint, and
// the ambient logging/admin-API options.
//
// nsmesh has exactly one configuration source: the command line the
// process was started with (`prog name.surname IP [-t talkPort]
// [-d dnsPort] [-i saIP] [-p saPort]`). There is no config file, no env
// var layer, and no hot reload; see DESIGN.md for the dependency note
// on why a layered config-loading library was not pulled in for that.
// The struct still keeps yaml-style sub-configs for the ambient
// concerns (LoggingConfig, AdminAPIConfig).
package config

import "net/netip"

// LoggingConfig is handed straight to logging.Configure by cmd/nsmesh.
type LoggingConfig struct {
	Level            string
	Structured       bool
	StructuredFormat string
	IncludePID       bool
	ExtraFields      map[string]string
}

// AdminAPIConfig configures the read-only admin surface. The admin API
// is off unless Enabled is set, which ParseArgs only does when
// `--admin-addr` is passed.
type AdminAPIConfig struct {
	Enabled bool
	Host    string
	Port    int
}

// Config is every piece of startup state a node needs before it can
// construct its engine.Self and start the event loop.
type Config struct {
	Name     string
	Surname  string
	IP       netip.Addr
	TalkPort uint16
	DNSPort  uint16

	// SSHost/SSPort are the unresolved Surname Server endpoint as given
	// on the command line (or defaulted); SSAddr is the resolved form
	// ParseArgs fills in by looking SSHost up, so the engine never has
	// to re-resolve mid-protocol (the engine's ResolveNameServer effect
	// resolves a peer's *name*, never the SS's hostname).
	SSHost string
	SSPort uint16
	SSAddr netip.AddrPort

	Logging LoggingConfig
	Admin   AdminAPIConfig
}

// Defaults: talkPort=dnsPort=30000, saPort=58000, saIP= resolved from
// a configured hostname.
const (
	DefaultTalkPort = uint16(30000)
	DefaultDNSPort  = uint16(30000)
	DefaultSSPort   = uint16(58000)

	// DefaultSSHost is the hostname resolved for the SS's IP when the
	// caller does not pass -i. It has no real-world meaning; operators
	// running more than a toy/test deployment are expected to pass -i
	// explicitly or point this name at their own Surname Server.
	DefaultSSHost = "ss.nsmesh.local"
)

// FullName joins Name and Surname the way wire messages encode an
// identity.
func (c Config) FullName() string { return c.Name + "." + c.Surname }

// Package cli parses the process's command-line invocation and lexes
// the interactive command stream once the node is running.
//
// Argument parsing uses github.com/jessevdk/go-flags, a declarative
// positional-args-plus-short-switches library well suited to this CLI's
// shape: a required positional pair (name.surname, ip) followed by
// optional aliased flags.
package cli

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"

	flags "github.com/jessevdk/go-flags"

	"github.com/jroosing/nsmesh/internal/config"
)

// Exit codes.
const (
	ExitOK       = 0
	ExitArgError = -2
	ExitFatalOS  = -1
)

type rawArgs struct {
	Positional struct {
		Name string `positional-arg-name:"name.surname"`
		IP   string `positional-arg-name:"ip"`
	} `positional-args:"yes"`

	TalkPort  uint16 `short:"t" long:"talk-port" default:"30000" description:"TCP port this node accepts chat calls on"`
	DNSPort   uint16 `short:"d" long:"dns-port" default:"30000" description:"UDP port this node serves directory requests on"`
	SSIP      string `short:"i" long:"ss-ip" description:"Surname Server IP (default: resolved from a configured hostname)"`
	SSPort    uint16 `short:"p" long:"ss-port" default:"58000" description:"Surname Server UDP port"`
	AdminAddr string `long:"admin-addr" description:"host:port to serve the read-only admin API on (disabled unless set)"`
	Verbose   bool   `short:"v" long:"verbose" description:"start with DEBUG-level logging"`
	JSONLogs  bool   `long:"json-logs" description:"emit structured JSON logs instead of text"`
}

// ParseArgs parses os.Args[1:]-shaped input into a finalized
// config.Config, returning the process exit code to use on failure (0
// on success). It never calls os.Exit itself so cmd/nsmesh stays the
// only place that terminates the process.
func ParseArgs(args []string) (config.Config, int) {
	var raw rawArgs
	parser := flags.NewParser(&raw, flags.Default)
	parser.Name = "nsmesh"

	if _, err := parser.ParseArgs(args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return config.Config{}, ExitOK
		}
		fmt.Fprintln(os.Stderr, err)
		return config.Config{}, ExitArgError
	}

	name, surname, ok := strings.Cut(raw.Positional.Name, ".")
	if !ok || name == "" || surname == "" {
		fmt.Fprintf(os.Stderr, "nsmesh: %q must be of the form name.surname\n", raw.Positional.Name)
		return config.Config{}, ExitArgError
	}

	ip, err := netip.ParseAddr(raw.Positional.IP)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nsmesh: invalid ip %q: %v\n", raw.Positional.IP, err)
		return config.Config{}, ExitArgError
	}

	cfg := config.Config{
		Name:     name,
		Surname:  surname,
		IP:       ip,
		TalkPort: raw.TalkPort,
		DNSPort:  raw.DNSPort,
		SSHost:   raw.SSIP,
		SSPort:   raw.SSPort,
		Logging: config.LoggingConfig{
			Level:      verbosityLevel(raw.Verbose),
			Structured: raw.JSONLogs,
		},
	}
	if raw.AdminAddr != "" {
		host, port, err := splitAdminAddr(raw.AdminAddr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "nsmesh: invalid --admin-addr %q: %v\n", raw.AdminAddr, err)
			return config.Config{}, ExitArgError
		}
		cfg.Admin = config.AdminAPIConfig{Enabled: true, Host: host, Port: port}
	}

	if err := config.Finalize(&cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, config.ErrInvalidArgument) {
			return config.Config{}, ExitArgError
		}
		return config.Config{}, ExitFatalOS
	}

	return cfg, ExitOK
}

func verbosityLevel(verbose bool) string {
	if verbose {
		return "DEBUG"
	}
	return "INFO"
}

func splitAdminAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("port must be numeric: %w", err)
	}
	return host, port, nil
}

package config

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinalizeAppliesDefaults(t *testing.T) {
	cfg := Config{Name: "alice", Surname: "stark", IP: netip.MustParseAddr("10.0.0.1"), SSHost: "203.0.113.9"}
	require.NoError(t, Finalize(&cfg))

	assert.Equal(t, DefaultTalkPort, cfg.TalkPort)
	assert.Equal(t, DefaultDNSPort, cfg.DNSPort)
	assert.Equal(t, DefaultSSPort, cfg.SSPort)
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "127.0.0.1", cfg.Admin.Host)
	assert.Equal(t, netip.MustParseAddr("203.0.113.9"), cfg.SSAddr.Addr())
	assert.Equal(t, DefaultSSPort, cfg.SSAddr.Port())
}

func TestFinalizeRejectsMissingSurname(t *testing.T) {
	cfg := Config{Name: "alice", IP: netip.MustParseAddr("10.0.0.1")}
	err := Finalize(&cfg)
	assert.Error(t, err)
}

func TestFinalizeRejectsInvalidIP(t *testing.T) {
	cfg := Config{Name: "alice", Surname: "stark"}
	err := Finalize(&cfg)
	assert.Error(t, err)
}

func TestFinalizeRejectsBadAdminPortWhenEnabled(t *testing.T) {
	cfg := Config{
		Name: "alice", Surname: "stark", IP: netip.MustParseAddr("10.0.0.1"), SSHost: "203.0.113.9",
		Admin: AdminAPIConfig{Enabled: true, Port: 0},
	}
	err := Finalize(&cfg)
	assert.Error(t, err)
}

func TestResolveSSAddrLiteralIP(t *testing.T) {
	addr, err := ResolveSSAddr("203.0.113.9", 58000)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.9:58000", addr.String())
}

func TestResolveSSAddrUnresolvableHost(t *testing.T) {
	_, err := ResolveSSAddr("this-host-does-not-resolve.invalid", 58000)
	assert.Error(t, err)
}

func TestFullName(t *testing.T) {
	cfg := Config{Name: "alice", Surname: "stark"}
	assert.Equal(t, "alice.stark", cfg.FullName())
}

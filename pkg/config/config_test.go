package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *ServerConfig {
	return &ServerConfig{
		AuthMode:       "signature",
		ServiceAddress: "0x00000000000000000000000000000000000000AA",
		ChainID:        31337,
		LedgerType:     LedgerTypeMemory,
		TokenMode:      TokenModeMemory,
		Port:           8080,
	}
}

func TestValidate_FillsDefaults(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultDomainName, cfg.DomainName)
	assert.Equal(t, DefaultDomainVersion, cfg.DomainVersion)
	assert.Equal(t, ChainName_EthereumAnvil, cfg.ChainName)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *ServerConfig)
		wantMsg string
	}{
		{"bad auth mode", func(c *ServerConfig) { c.AuthMode = "hybrid" }, "auth mode"},
		{"missing service address", func(c *ServerConfig) { c.ServiceAddress = "" }, "service address"},
		{"malformed service address", func(c *ServerConfig) { c.ServiceAddress = "not-an-address" }, "service address"},
		{"malformed owner", func(c *ServerConfig) { c.OwnerAddress = "nope" }, "owner address"},
		{"forwarder mode without forwarder", func(c *ServerConfig) { c.AuthMode = "forwarder" }, "trusted forwarder"},
		{"forwarder mode without owner", func(c *ServerConfig) {
			c.AuthMode = "forwarder"
			c.TrustedForwarder = "0x00000000000000000000000000000000000000FF"
		}, "owner address"},
		{"unknown chain", func(c *ServerConfig) { c.ChainID = 999 }, "unsupported chain"},
		{"badger without path", func(c *ServerConfig) { c.LedgerType = LedgerTypeBadger }, "data path"},
		{"redis without address", func(c *ServerConfig) { c.LedgerType = LedgerTypeRedis }, "redis address"},
		{"unknown ledger", func(c *ServerConfig) { c.LedgerType = "etcd" }, "ledger type"},
		{"bound token without config", func(c *ServerConfig) { c.TokenMode = TokenModeBound }, "remote token"},
		{"unknown token mode", func(c *ServerConfig) { c.TokenMode = "paper" }, "token mode"},
		{"bad port", func(c *ServerConfig) { c.Port = 0 }, "port"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tc.wantMsg),
				"error %q should mention %q", err.Error(), tc.wantMsg)
		})
	}
}

func TestRemoteTokenConfig_Validate(t *testing.T) {
	rtc := &RemoteTokenConfig{
		RpcUrl:             "http://localhost:8545",
		TokenAddress:       "0x00000000000000000000000000000000000000BB",
		OperatorPrivateKey: "0x" + strings.Repeat("11", 32),
	}
	require.NoError(t, rtc.Validate())

	bad := &RemoteTokenConfig{}
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpcUrl")
	assert.Contains(t, err.Error(), "tokenAddress")
	assert.Contains(t, err.Error(), "operatorPrivateKey")

	shortKey := &RemoteTokenConfig{
		RpcUrl:             "http://localhost:8545",
		TokenAddress:       "0x00000000000000000000000000000000000000BB",
		OperatorPrivateKey: "0x1234",
	}
	err = shortKey.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "64 hex chars")
}

package testclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReadPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    ReadPolicy
		wantErr bool
	}{
		{in: "drain", want: Drain},
		{in: "", want: Drain},
		{in: "Bounded", want: Bounded},
		{in: " bounded ", want: Bounded},
		{in: "all", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseReadPolicy(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, "drain", Drain.String())
	assert.Equal(t, "bounded", Bounded.String())
	assert.Equal(t, "unknown", ReadPolicy(9).String())
}

func TestNewClient_Validation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{name: "empty host", modify: func(c *Config) { c.Host = " " }},
		{name: "port zero", modify: func(c *Config) { c.Port = 0 }},
		{name: "port too large", modify: func(c *Config) { c.Port = 65536 }},
		{name: "unknown policy", modify: func(c *Config) { c.Policy = ReadPolicy(7) }},
		{name: "bounded without cap", modify: func(c *Config) { c.Policy = Bounded; c.MaxBytes = 0 }},
		{name: "negative timeout", modify: func(c *Config) { c.ConnectTimeout = -1 }},
		{name: "local addr without port", modify: func(c *Config) { c.LocalAddr = "127.0.0.1" }},
		{name: "local addr bad port", modify: func(c *Config) { c.LocalAddr = "127.0.0.1:http" }},
		{name: "local addr port range", modify: func(c *Config) { c.LocalAddr = "127.0.0.1:70000" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("127.0.0.1", 7878)
			tt.modify(&cfg)

			c, err := NewClient(cfg, nil)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Nil(t, c)
		})
	}
}

func TestNewClient_Defaults(t *testing.T) {
	t.Run("label and payload", func(t *testing.T) {
		c, err := NewClient(Config{Host: "127.0.0.1", Port: 7878}, nil)
		require.NoError(t, err)

		cfg := c.Config()
		assert.Equal(t, "auto", cfg.Label)
		assert.Equal(t, []byte(DefaultPayload), cfg.Payload)
		assert.Equal(t, Drain, cfg.Policy)
		assert.Equal(t, "127.0.0.1:7878", cfg.Address())
	})

	t.Run("label from local port", func(t *testing.T) {
		cfg := DefaultConfig("127.0.0.1", 7878)
		cfg.LocalAddr = "127.0.0.1:9999"
		c, err := NewClient(cfg, nil)
		require.NoError(t, err)
		assert.Equal(t, "9999", c.Config().Label)
	})

	t.Run("explicit label kept", func(t *testing.T) {
		cfg := DefaultConfig("127.0.0.1", 7878)
		cfg.LocalAddr = "127.0.0.1:9999"
		cfg.Label = "first"
		c, err := NewClient(cfg, nil)
		require.NoError(t, err)
		assert.Equal(t, "first", c.Config().Label)
	})

	t.Run("ipv6 address", func(t *testing.T) {
		assert.Equal(t, "[::1]:7878", DefaultConfig("::1", 7878).Address())
	})
}

// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package config reads the TOML configuration shared by acctwired and the
// acctwire command line tool.
//
//	[core]
//	identity = "acctwire.key"
//	book = "book"
//	peers-file = "peers.toml"
//
//	[logging]
//	level = "info"
//	report-caller = false
//	format = "text"
//
//	[[listen]]
//	kind = "tcp"
//	address = ":7700"
//
//	[server]
//	handler-timeout = "30s"
//
//	[client]
//	kind = "quic"
//	call-timeout = "10s"
//
//	[transport]
//	max-frame-size = 67108864
//
//	[pool]
//	max-conns-per-peer = 4
//	stream-idle-timeout = "30s"
//
//	[reconnect]
//	base-delay = "100ms"
//	max-delay = "5s"
//	max-attempts = 5
//
//	[admin]
//	listen = "127.0.0.1:7780"
//
//	[[peer]]
//	account = "8bE5...Qy"
//	address = "tcp://198.51.100.7:7700"
//	primary = true
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"

	"github.com/acctwire/acctwire-go/pkg/account"
	"github.com/acctwire/acctwire-go/pkg/book"
	"github.com/acctwire/acctwire-go/pkg/client"
	"github.com/acctwire/acctwire-go/pkg/connection"
	"github.com/acctwire/acctwire-go/pkg/server"
	"github.com/acctwire/acctwire-go/pkg/transport"
	"github.com/acctwire/acctwire-go/pkg/transport/quicl"
	"github.com/acctwire/acctwire-go/pkg/transport/stcp"
	"github.com/acctwire/acctwire-go/pkg/transport/wsock"
)

// Duration is a time.Duration in its textual form, e.g., "1m30s".
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Duration by time.ParseDuration.
func (d *Duration) UnmarshalText(text []byte) (err error) {
	d.Duration, err = time.ParseDuration(string(text))
	return
}

// Config describes the whole TOML configuration.
type Config struct {
	Core      CoreConf
	Logging   LogConf
	Listen    []ListenConf
	Server    ServerConf
	Client    ClientConf
	Transport TransportConf
	Pool      PoolConf
	Reconnect ReconnectConf
	Admin     AdminConf
	Peer      []book.Peer
}

// CoreConf describes the Core-configuration block.
type CoreConf struct {
	Identity  string
	Book      string
	PeersFile string `toml:"peers-file"`
}

// LogConf describes the Logging-configuration block.
type LogConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// ListenConf describes one listening endpoint.
type ListenConf struct {
	Kind    account.Kind
	Address string
}

// ServerConf describes the Server-configuration block.
type ServerConf struct {
	HandlerTimeout Duration `toml:"handler-timeout"`
}

// ClientConf describes the Client-configuration block.
type ClientConf struct {
	Kind        account.Kind
	CallTimeout *Duration `toml:"call-timeout"`
	MaxPayload  uint64    `toml:"max-payload"`
}

// TransportConf describes settings shared by all transport backends.
type TransportConf struct {
	HandshakeTimeout Duration `toml:"handshake-timeout"`
	MaxFrameSize     uint64   `toml:"max-frame-size"`
}

// PoolConf describes the connection pool. Unset values keep their defaults.
type PoolConf struct {
	MaxConnsPerPeer        int       `toml:"max-conns-per-peer"`
	MaxHoldersPerConn      int       `toml:"max-holders-per-conn"`
	StreamIdleTimeout      *Duration `toml:"stream-idle-timeout"`
	MultiplexedIdleTimeout *Duration `toml:"multiplexed-idle-timeout"`
	DialTimeout            Duration  `toml:"dial-timeout"`
}

// ReconnectConf describes the reconnection backoff.
type ReconnectConf struct {
	BaseDelay   Duration `toml:"base-delay"`
	MaxDelay    Duration `toml:"max-delay"`
	MaxAttempts *int     `toml:"max-attempts"`
}

// AdminConf describes the HTTP admin endpoint.
type AdminConf struct {
	Listen string
}

// Load and check a TOML configuration file.
func Load(filename string) (*Config, error) {
	var conf Config
	md, err := toml.DecodeFile(filename, &conf)
	if err != nil {
		return nil, err
	}

	for _, key := range md.Undecoded() {
		log.WithFields(log.Fields{
			"file": filename,
			"key":  key.String(),
		}).Warn("Configuration contains an unknown key")
	}

	if err := conf.check(); err != nil {
		return nil, err
	}
	return &conf, nil
}

// Parse and check a TOML configuration.
func Parse(data string) (*Config, error) {
	var conf Config
	if _, err := toml.Decode(data, &conf); err != nil {
		return nil, err
	}

	if err := conf.check(); err != nil {
		return nil, err
	}
	return &conf, nil
}

func (conf *Config) check() error {
	if conf.Core.Identity == "" {
		return fmt.Errorf("core.identity is empty")
	}

	for i, l := range conf.Listen {
		if l.Kind == "" {
			return fmt.Errorf("listen %d misses its kind", i)
		} else if l.Address == "" {
			return fmt.Errorf("listen %d misses its address", i)
		}
	}

	for i, p := range conf.Peer {
		if p.Account.IsZero() || p.Address.IsZero() {
			return fmt.Errorf("peer %d misses its account or address", i)
		}
	}

	return nil
}

// ApplyLogging configures logrus' standard logger.
func (conf *Config) ApplyLogging() {
	if conf.Logging.Level != "" {
		if lvl, err := log.ParseLevel(conf.Logging.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Logging.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.Logging.ReportCaller)

	switch conf.Logging.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.WithField("format", conf.Logging.Format).Warn("Unknown logging format")
	}
}

// Identity loads the configured Identity, creating it on its first use.
func (conf *Config) Identity() (*account.Identity, error) {
	return account.LoadOrCreateIdentity(conf.Core.Identity)
}

// Registry of all transport backends.
func (conf *Config) Registry() *transport.Registry {
	tcpConf, quicConf, wsConf := stcp.DefaultConfig(), quicl.DefaultConfig(), wsock.DefaultConfig()

	if d := conf.Transport.HandshakeTimeout.Duration; d > 0 {
		tcpConf.HandshakeTimeout, quicConf.HandshakeTimeout, wsConf.HandshakeTimeout = d, d, d
	}
	if n := conf.Transport.MaxFrameSize; n > 0 {
		tcpConf.MaxFrameSize, quicConf.MaxFrameSize, wsConf.MaxFrameSize = n, n, n
	}

	return transport.NewRegistry(stcp.New(tcpConf), quicl.New(quicConf), wsock.New(wsConf))
}

// ConnectionConfig for a connection.Manager, based on its defaults.
func (conf *Config) ConnectionConfig() connection.Config {
	c := connection.DefaultConfig()

	if conf.Pool.MaxConnsPerPeer > 0 {
		c.MaxConnsPerPeer = conf.Pool.MaxConnsPerPeer
	}
	if conf.Pool.MaxHoldersPerConn > 0 {
		c.MaxHoldersPerConn = conf.Pool.MaxHoldersPerConn
	}
	if conf.Pool.StreamIdleTimeout != nil {
		c.StreamIdleTimeout = conf.Pool.StreamIdleTimeout.Duration
	}
	if conf.Pool.MultiplexedIdleTimeout != nil {
		c.MultiplexedIdleTimeout = conf.Pool.MultiplexedIdleTimeout.Duration
	}
	if conf.Pool.DialTimeout.Duration > 0 {
		c.DialTimeout = conf.Pool.DialTimeout.Duration
	}

	if conf.Reconnect.BaseDelay.Duration > 0 {
		c.Backoff.BaseDelay = conf.Reconnect.BaseDelay.Duration
	}
	if conf.Reconnect.MaxDelay.Duration > 0 {
		c.Backoff.MaxDelay = conf.Reconnect.MaxDelay.Duration
	}
	if conf.Reconnect.MaxAttempts != nil {
		c.Backoff.MaxAttempts = *conf.Reconnect.MaxAttempts
	}

	return c
}

// ClientConfig for a client.Client, based on its defaults.
func (conf *Config) ClientConfig() client.Config {
	c := client.DefaultConfig()

	if conf.Client.Kind != "" {
		c.Kind = conf.Client.Kind
	}
	if conf.Client.CallTimeout != nil {
		c.CallTimeout = conf.Client.CallTimeout.Duration
	}
	if conf.Client.MaxPayload > 0 {
		c.MaxPayload = conf.Client.MaxPayload
	}

	return c
}

// ServerConfig for a server.Server. Its Authorizer is left empty.
func (conf *Config) ServerConfig() server.Config {
	return server.Config{HandlerTimeout: conf.Server.HandlerTimeout.Duration}
}

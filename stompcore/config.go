package stompcore

import (
	"time"

	"github.com/mitchellh/mapstructure"
)

// Config carries the collaborator-provided knobs listed in spec §6. Parsing
// a config file is out of scope for this package; the outer host loader
// hands a decoded Config (or a generic map, via NewConfigFromMap) to
// ConnectionHandler.
type Config interface {
	DieDelay() time.Duration
	OutboundHeartbeat() time.Duration
	InboundHeartbeat() time.Duration
	ProducerRouteCacheSize() int
}

type rawConfig struct {
	DieDelayMs          int64 `mapstructure:"die_delay"`
	OutboundHeartbeatMs int64 `mapstructure:"outbound_heartbeat"`
	InboundHeartbeatMs  int64 `mapstructure:"inbound_heartbeat"`
	ProducerRouteCache  int   `mapstructure:"producer_route_cache_size"`
}

type config struct {
	dieDelay               time.Duration
	outboundHeartbeat      time.Duration
	inboundHeartbeat       time.Duration
	producerRouteCacheSize int
}

// NewConfig builds a Config from explicit values, defaulting non-positive
// arguments the way the spec's "default" column does.
func NewConfig(dieDelayMs, outboundHeartbeatMs, inboundHeartbeatMs int64, producerRouteCacheSize int) Config {
	if dieDelayMs <= 0 {
		dieDelayMs = 5000
	}
	if outboundHeartbeatMs <= 0 {
		outboundHeartbeatMs = 100
	}
	if inboundHeartbeatMs <= 0 {
		inboundHeartbeatMs = 10000
	}
	if producerRouteCacheSize <= 0 {
		producerRouteCacheSize = 10
	}
	return &config{
		dieDelay:               time.Duration(dieDelayMs) * time.Millisecond,
		outboundHeartbeat:      time.Duration(outboundHeartbeatMs) * time.Millisecond,
		inboundHeartbeat:       time.Duration(inboundHeartbeatMs) * time.Millisecond,
		producerRouteCacheSize: producerRouteCacheSize,
	}
}

// NewConfigFromMap decodes Config from a loosely-typed map, the shape a
// broker's outer vhost/host loader would hand this package after parsing
// its own on-disk format.
func NewConfigFromMap(m map[string]interface{}) (Config, error) {
	var raw rawConfig
	if err := mapstructure.Decode(m, &raw); err != nil {
		return nil, err
	}
	return NewConfig(raw.DieDelayMs, raw.OutboundHeartbeatMs, raw.InboundHeartbeatMs, raw.ProducerRouteCache), nil
}

func (c *config) DieDelay() time.Duration               { return c.dieDelay }
func (c *config) OutboundHeartbeat() time.Duration      { return c.outboundHeartbeat }
func (c *config) InboundHeartbeat() time.Duration       { return c.inboundHeartbeat }
func (c *config) ProducerRouteCacheSize() int           { return c.producerRouteCacheSize }

package websocket

import (
	"net/http"
	"time"

	"github.com/samber/lo"
)

// Options tune every connection accepted by a Handler.
type Options struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	BufferSize     int
	MaxMessageSize int64
	AllowedOrigins []string
}

func DefaultOptions() Options {
	return Options{
		PingInterval:   30 * time.Second,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		BufferSize:     100,
		MaxMessageSize: 64 * 1024,
		AllowedOrigins: []string{"*"},
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PingInterval <= 0 {
		o.PingInterval = d.PingInterval
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = d.ReadTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.BufferSize <= 0 {
		o.BufferSize = d.BufferSize
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	if len(o.AllowedOrigins) == 0 {
		o.AllowedOrigins = d.AllowedOrigins
	}
	return o
}

// checkOrigin accepts requests without an Origin header (non-browser
// clients) and browsers whose origin is listed.
func (o Options) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || lo.Contains(o.AllowedOrigins, "*") {
		return true
	}
	return lo.Contains(o.AllowedOrigins, origin)
}

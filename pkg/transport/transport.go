// Package transport opens interactive CLI sessions to network devices over
// SSH or Telnet and drives them with a prompt-matching engine.
//
// Every failure leaving the package is a *Error carrying an ErrorKind, so
// callers decide retry and status policy without inspecting error text.
package transport

import (
	"context"
	"fmt"
	"time"
)

// Protocol is a management transport.
type Protocol string

const (
	ProtocolSSH    Protocol = "ssh"
	ProtocolTelnet Protocol = "telnet"
)

// DefaultPort returns the well-known port for the protocol.
func (p Protocol) DefaultPort() int {
	if p == ProtocolTelnet {
		return 23
	}
	return 22
}

// Fallback returns the protocol tried after a retryable failure on p.
func (p Protocol) Fallback() (Protocol, bool) {
	if p == ProtocolSSH {
		return ProtocolTelnet, true
	}
	return "", false
}

// DefaultConnTimeout bounds the TCP connect, banner and login exchange.
const DefaultConnTimeout = 10 * time.Second

// Options describes one dial attempt.
type Options struct {
	Address     string
	Port        int // 0 selects the protocol default
	Platform    string
	Username    string
	Password    string
	Secret      string
	ConnTimeout time.Duration
}

func (o Options) connTimeout() time.Duration {
	if o.ConnTimeout > 0 {
		return o.ConnTimeout
	}
	return DefaultConnTimeout
}

func (o Options) port(p Protocol) int {
	if o.Port > 0 {
		return o.Port
	}
	return p.DefaultPort()
}

// SendOptions controls a single SendCommand exchange.
type SendOptions struct {
	// ExpectString is a regular expression ending the read. Empty means
	// the device prompt.
	ExpectString string
	ReadTimeout  time.Duration
	StripPrompt  bool
	StripCommand bool
}

// DefaultReadTimeout applies when SendOptions.ReadTimeout is zero.
const DefaultReadTimeout = 100 * time.Second

// Session is an established, logged-in CLI session.
type Session interface {
	Protocol() Protocol
	IsAlive() bool
	FindPrompt(ctx context.Context) (string, error)
	CheckEnableMode(ctx context.Context) (bool, error)
	Enable(ctx context.Context, secret string) error
	SendCommand(ctx context.Context, cmd string, opts SendOptions) (string, error)
	SendConfigSet(ctx context.Context, lines []string) (string, error)
	SaveConfig(ctx context.Context) (string, error)
	Close() error
}

// Dialer opens sessions.
type Dialer interface {
	Dial(ctx context.Context, proto Protocol, opts Options) (Session, error)
}

// NetDialer dials real devices over the network.
type NetDialer struct{}

// Dial opens a session over proto. An unknown platform is reported as
// KindUnreachable, the same as a device that cannot be reached at all.
func (NetDialer) Dial(ctx context.Context, proto Protocol, opts Options) (Session, error) {
	platform, ok := LookupPlatform(opts.Platform)
	if !ok {
		return nil, &Error{Kind: KindUnreachable, Protocol: proto, Address: opts.Address,
			Err: fmt.Errorf("unsupported platform %q", opts.Platform)}
	}
	switch proto {
	case ProtocolSSH:
		s, err := dialSSH(ctx, opts, platform)
		if err != nil {
			return nil, err
		}
		return s, nil
	case ProtocolTelnet:
		s, err := dialTelnet(ctx, opts, platform)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, &Error{Kind: KindUnreachable, Protocol: proto, Address: opts.Address,
			Err: fmt.Errorf("unsupported protocol %q", proto)}
	}
}

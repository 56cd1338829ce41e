// Package testutil provides scripted transport fakes for unit tests and
// helpers for integration tests that need a live Redis.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fleetup/fleetup/pkg/transport"
)

// Reply is one scripted answer to a command.
type Reply struct {
	Output string
	Err    error
}

// FakeSession is a scripted transport.Session. Replies are queued per
// command text; the last reply of a queue repeats.
type FakeSession struct {
	mu sync.Mutex

	Proto     transport.Protocol
	Prompt    string
	Enabled   bool
	EnableErr error
	Dead      bool

	replies map[string][]Reply

	Sent       []string
	SentOpts   []transport.SendOptions
	Secrets    []string
	ConfigSets [][]string
	Saves      int
	Closed     bool
}

// NewFakeSession returns a privileged session with the given prompt.
func NewFakeSession(prompt string) *FakeSession {
	return &FakeSession{
		Proto:   transport.ProtocolSSH,
		Prompt:  prompt,
		Enabled: true,
		replies: make(map[string][]Reply),
	}
}

// On queues output as the next reply to cmd.
func (s *FakeSession) On(cmd, output string) *FakeSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[cmd] = append(s.replies[cmd], Reply{Output: output})
	return s
}

// OnErr queues a failing reply to cmd.
func (s *FakeSession) OnErr(cmd string, err error) *FakeSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[cmd] = append(s.replies[cmd], Reply{Err: err})
	return s
}

func (s *FakeSession) next(cmd string) Reply {
	q := s.replies[cmd]
	if len(q) == 0 {
		return Reply{}
	}
	r := q[0]
	if len(q) > 1 {
		s.replies[cmd] = q[1:]
	}
	return r
}

// SentCommands returns a copy of every command text sent so far.
func (s *FakeSession) SentCommands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Sent...)
}

// SentWithPrefix returns the sent commands starting with prefix.
func (s *FakeSession) SentWithPrefix(prefix string) []string {
	var out []string
	for _, c := range s.SentCommands() {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func (s *FakeSession) Protocol() transport.Protocol { return s.Proto }

func (s *FakeSession) IsAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.Dead
}

func (s *FakeSession) FindPrompt(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Prompt, nil
}

func (s *FakeSession) CheckEnableMode(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Enabled, nil
}

func (s *FakeSession) Enable(ctx context.Context, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Secrets = append(s.Secrets, secret)
	if s.EnableErr != nil {
		return s.EnableErr
	}
	s.Enabled = true
	if strings.HasSuffix(s.Prompt, ">") {
		s.Prompt = strings.TrimSuffix(s.Prompt, ">") + "#"
	}
	return nil
}

func (s *FakeSession) SendCommand(ctx context.Context, cmd string, opts transport.SendOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Dead {
		return "", &transport.Error{Kind: transport.KindUnknown, Protocol: s.Proto, Err: errors.New("session closed")}
	}
	s.Sent = append(s.Sent, cmd)
	s.SentOpts = append(s.SentOpts, opts)
	r := s.next(cmd)
	return r.Output, r.Err
}

func (s *FakeSession) SendConfigSet(ctx context.Context, lines []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ConfigSets = append(s.ConfigSets, append([]string(nil), lines...))
	r := s.next(strings.Join(lines, "\n"))
	if r.Output == "" && r.Err == nil {
		r.Output = fmt.Sprintf("%s(config)#%s\n%s#", strings.TrimSuffix(s.Prompt, "#"), strings.Join(lines, "\n"), strings.TrimSuffix(s.Prompt, "#"))
	}
	return r.Output, r.Err
}

func (s *FakeSession) SaveConfig(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Saves++
	return "[OK]", nil
}

func (s *FakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	s.Dead = true
	return nil
}

// DialCall records one Dial invocation.
type DialCall struct {
	Address  string
	Protocol transport.Protocol
}

// FakeDialer hands out FakeSessions by device address. Failures take
// precedence over sessions for the protocol they name.
type FakeDialer struct {
	mu       sync.Mutex
	sessions map[string]*FakeSession
	failures map[string]map[transport.Protocol]error
	Calls    []DialCall
}

// NewFakeDialer returns an empty dialer; unknown addresses are unreachable.
func NewFakeDialer() *FakeDialer {
	return &FakeDialer{
		sessions: make(map[string]*FakeSession),
		failures: make(map[string]map[transport.Protocol]error),
	}
}

// Add registers the session returned for address.
func (d *FakeDialer) Add(address string, s *FakeSession) *FakeDialer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[address] = s
	return d
}

// Fail makes dials of address over proto fail with kind.
func (d *FakeDialer) Fail(address string, proto transport.Protocol, kind transport.ErrorKind) *FakeDialer {
	return d.FailWith(address, proto, &transport.Error{
		Kind: kind, Protocol: proto, Address: address, Err: fmt.Errorf("simulated %s", kind),
	})
}

// FailWith makes dials of address over proto fail with err.
func (d *FakeDialer) FailWith(address string, proto transport.Protocol, err error) *FakeDialer {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failures[address] == nil {
		d.failures[address] = make(map[transport.Protocol]error)
	}
	d.failures[address][proto] = err
	return d
}

// Dial implements transport.Dialer.
func (d *FakeDialer) Dial(ctx context.Context, proto transport.Protocol, opts transport.Options) (transport.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = append(d.Calls, DialCall{Address: opts.Address, Protocol: proto})
	if err := d.failures[opts.Address][proto]; err != nil {
		return nil, err
	}
	s, ok := d.sessions[opts.Address]
	if !ok {
		return nil, &transport.Error{Kind: transport.KindUnreachable, Protocol: proto, Address: opts.Address,
			Err: errors.New("no simulated device")}
	}
	s.mu.Lock()
	s.Proto = proto
	s.Dead = false
	s.Closed = false
	s.mu.Unlock()
	return s, nil
}

// CallsFor returns the dial attempts made for address.
func (d *FakeDialer) CallsFor(address string) []transport.Protocol {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []transport.Protocol
	for _, c := range d.Calls {
		if c.Address == address {
			out = append(out, c.Protocol)
		}
	}
	return out
}

package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fleetup/fleetup/pkg/util"
)

// cliChannel is the prompt engine shared by the SSH and Telnet sessions.
// A pump goroutine copies device output into data; readers accumulate it
// in pending until an expected pattern appears.
type cliChannel struct {
	proto    Protocol
	address  string
	platform Platform
	newline  string

	w      io.Writer
	closer io.Closer
	data   chan []byte
	alive  atomic.Bool

	mu      sync.Mutex
	pending bytes.Buffer
	prompt  string

	closeOnce sync.Once
}

func newCLIChannel(proto Protocol, address string, platform Platform, r io.Reader, w io.Writer, closer io.Closer, newline string) *cliChannel {
	c := &cliChannel{
		proto:    proto,
		address:  address,
		platform: platform,
		newline:  newline,
		w:        w,
		closer:   closer,
		data:     make(chan []byte, 64),
	}
	c.alive.Store(true)
	go c.pump(r)
	return c
}

func (c *cliChannel) pump(r io.Reader) {
	defer close(c.data)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			c.data <- chunk
		}
		if err != nil {
			c.alive.Store(false)
			return
		}
	}
}

func (c *cliChannel) fail(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Protocol: c.proto, Address: c.address, Err: err}
}

func (c *cliChannel) writeLine(line string) error {
	if _, err := io.WriteString(c.w, line+c.newline); err != nil {
		c.alive.Store(false)
		return c.fail(KindUnknown, fmt.Errorf("write %q: %w", line, err))
	}
	return nil
}

// readUntil consumes output up to and including the first match of re.
// On timeout the text read so far is returned with KindPatternNotDetected.
func (c *cliChannel) readUntil(ctx context.Context, re *regexp.Regexp, timeout time.Duration) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if loc := re.FindIndex(c.pending.Bytes()); loc != nil {
			return string(c.pending.Next(loc[1])), nil
		}
		select {
		case chunk, ok := <-c.data:
			if !ok {
				out := c.pending.String()
				c.pending.Reset()
				return out, c.fail(KindUnknown, io.ErrUnexpectedEOF)
			}
			c.pending.Write(chunk)
		case <-timer.C:
			out := c.pending.String()
			c.pending.Reset()
			return out, c.fail(KindPatternNotDetected,
				fmt.Errorf("pattern %q not detected within %s", re.String(), timeout))
		case <-ctx.Done():
			return "", c.fail(KindUnknown, ctx.Err())
		}
	}
}

func (c *cliChannel) isAlive() bool {
	return c.alive.Load()
}

func (c *cliChannel) findPrompt(ctx context.Context) (string, error) {
	if err := c.writeLine(""); err != nil {
		return "", err
	}
	out, err := c.readUntil(ctx, promptPattern, DefaultConnTimeout)
	if err != nil {
		return "", err
	}
	lines := util.SplitLines(out)
	prompt := strings.TrimSpace(lines[len(lines)-1])
	c.prompt = prompt
	return prompt, nil
}

func (c *cliChannel) checkEnableMode(ctx context.Context) (bool, error) {
	prompt, err := c.findPrompt(ctx)
	if err != nil {
		return false, err
	}
	return strings.HasSuffix(prompt, "#"), nil
}

func (c *cliChannel) enable(ctx context.Context, secret string) error {
	if err := c.writeLine(c.platform.EnableCommand); err != nil {
		return err
	}
	out, err := c.readUntil(ctx, passwordPattern, DefaultConnTimeout)
	if err != nil {
		return err
	}
	if strings.Contains(strings.ToLower(out), "password") {
		if err := c.writeLine(secret); err != nil {
			return err
		}
		if _, err := c.readUntil(ctx, promptPattern, DefaultConnTimeout); err != nil {
			return err
		}
	}
	ok, err := c.checkEnableMode(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return c.fail(KindAuthFailed, fmt.Errorf("enable rejected, prompt %q", c.prompt))
	}
	return nil
}

func (c *cliChannel) sendCommand(ctx context.Context, cmd string, opts SendOptions) (string, error) {
	re := promptPattern
	if opts.ExpectString != "" {
		var err error
		if re, err = regexp.Compile(opts.ExpectString); err != nil {
			return "", c.fail(KindUnknown, fmt.Errorf("expect pattern: %w", err))
		}
	}
	timeout := opts.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	if err := c.writeLine(cmd); err != nil {
		return "", err
	}
	out, err := c.readUntil(ctx, re, timeout)
	return cleanOutput(out, cmd, opts), err
}

func (c *cliChannel) sendConfigSet(ctx context.Context, lines []string) (string, error) {
	var b strings.Builder
	all := append([]string{c.platform.ConfigCommand}, lines...)
	all = append(all, c.platform.ExitConfigCommand)
	for _, line := range all {
		if err := c.writeLine(line); err != nil {
			return b.String(), err
		}
		out, err := c.readUntil(ctx, promptPattern, DefaultReadTimeout)
		b.WriteString(out)
		if err != nil {
			return b.String(), err
		}
	}
	return normalizeNewlines(b.String()), nil
}

func (c *cliChannel) saveConfig(ctx context.Context) (string, error) {
	if err := c.writeLine(c.platform.SaveCommand); err != nil {
		return "", err
	}
	out, err := c.readUntil(ctx, savePattern, DefaultReadTimeout)
	if err != nil {
		return out, err
	}
	if strings.Contains(out, "[confirm]") || strings.Contains(out, "Destination filename") {
		if err := c.writeLine(""); err != nil {
			return out, err
		}
		more, err := c.readUntil(ctx, promptPattern, DefaultReadTimeout)
		out += more
		if err != nil {
			return out, err
		}
	}
	return normalizeNewlines(out), nil
}

// disablePaging sends the platform's terminal setup commands. Failures are
// logged only; a device that rejects them is still usable.
func (c *cliChannel) disablePaging(ctx context.Context) {
	for _, cmd := range c.platform.PagingCommands {
		if _, err := c.sendCommand(ctx, cmd, SendOptions{ReadTimeout: DefaultConnTimeout}); err != nil {
			util.WithDevice(c.address).Debugf("%s: %v", cmd, err)
		}
	}
}

func (c *cliChannel) close() error {
	var err error
	c.closeOnce.Do(func() {
		c.alive.Store(false)
		err = c.closer.Close()
	})
	return err
}

func normalizeNewlines(s string) string {
	return strings.Join(util.SplitLines(s), "\n")
}

// cleanOutput removes the echoed command line and the trailing prompt
// line as requested.
func cleanOutput(out, cmd string, opts SendOptions) string {
	lines := util.SplitLines(out)
	if opts.StripCommand && len(lines) > 0 && strings.Contains(lines[0], strings.TrimSpace(cmd)) {
		lines = lines[1:]
	}
	if opts.StripPrompt && opts.ExpectString == "" && len(lines) > 0 &&
		promptPattern.MatchString(lines[len(lines)-1]) {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

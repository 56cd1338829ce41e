package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"refused", fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED), KindRefused},
		{"deadline", fmt.Errorf("dial: %w", context.DeadlineExceeded), KindTCPTimeout},
		{"auth", errors.New("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none password], no supported methods remain"), KindAuthFailed},
		{"kex", errors.New("ssh: handshake failed: ssh: no common algorithm for host key; client offered: [ssh-ed25519], server offered: [ssh-dss]"), KindKeyLength},
		{"eof", fmt.Errorf("ssh: handshake failed: %w", io.EOF), KindUnreachable},
		{"unreachable", fmt.Errorf("connect: %w", syscall.EHOSTUNREACH), KindUnreachable},
		{"other", errors.New("something odd"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(ProtocolSSH, "10.0.0.1", tt.err)
			if got.Kind != tt.want {
				t.Errorf("classify() kind = %v, want %v", got.Kind, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Error("classified error should unwrap to the cause")
			}
		})
	}
}

func TestClassifyKeepsTransportError(t *testing.T) {
	orig := &Error{Kind: KindAuthFailed, Protocol: ProtocolTelnet, Err: errors.New("login rejected")}
	if got := classify(ProtocolSSH, "10.0.0.1", fmt.Errorf("wrap: %w", orig)); got != orig {
		t.Errorf("classify() = %v, want original error", got)
	}
}

func TestKindOf(t *testing.T) {
	err := fmt.Errorf("connect: %w", &Error{Kind: KindRefused, Err: syscall.ECONNREFUSED})
	if KindOf(err) != KindRefused {
		t.Errorf("KindOf() = %v", KindOf(err))
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Error("KindOf(plain) should be unknown")
	}
}

func TestRetryable(t *testing.T) {
	retry := map[ErrorKind]bool{
		KindRefused:            true,
		KindTCPTimeout:         true,
		KindKeyLength:          true,
		KindAuthFailed:         false,
		KindUnreachable:        false,
		KindPatternNotDetected: false,
		KindUnknown:            false,
	}
	for k, want := range retry {
		if k.Retryable() != want {
			t.Errorf("%v.Retryable() = %v, want %v", k, k.Retryable(), want)
		}
	}
}

func TestProtocolFallback(t *testing.T) {
	if p, ok := ProtocolSSH.Fallback(); !ok || p != ProtocolTelnet {
		t.Errorf("ssh fallback = %q, %v", p, ok)
	}
	if _, ok := ProtocolTelnet.Fallback(); ok {
		t.Error("telnet should have no fallback")
	}
	if ProtocolSSH.DefaultPort() != 22 || ProtocolTelnet.DefaultPort() != 23 {
		t.Error("unexpected default ports")
	}
}

func TestLookupPlatform(t *testing.T) {
	for _, name := range []string{"cisco_ios", "cisco_xe", "cisco_nxos", "arista_eos"} {
		p, ok := LookupPlatform(name)
		if !ok || p.Name != name || p.SaveCommand == "" {
			t.Errorf("LookupPlatform(%q) = %+v, %v", name, p, ok)
		}
	}
	if _, ok := LookupPlatform("juniper_junos"); ok {
		t.Error("juniper_junos should not be supported")
	}
}

func TestNetDialerUnsupportedPlatform(t *testing.T) {
	_, err := NetDialer{}.Dial(context.Background(), ProtocolSSH, Options{Address: "10.0.0.1", Platform: "hp_procurve"})
	if KindOf(err) != KindUnreachable {
		t.Errorf("Dial() kind = %v, want unreachable", KindOf(err))
	}
}

func TestCleanOutput(t *testing.T) {
	out := "show clock\r\n*10:00:01.123 UTC Mon Oct 19 2026\r\nsw1#"
	got := cleanOutput(out, "show clock", SendOptions{StripPrompt: true, StripCommand: true})
	if got != "*10:00:01.123 UTC Mon Oct 19 2026" {
		t.Errorf("cleanOutput() = %q", got)
	}
	kept := cleanOutput(out, "show clock", SendOptions{})
	if !strings.HasPrefix(kept, "show clock\n") || !strings.HasSuffix(kept, "sw1#") {
		t.Errorf("cleanOutput() without stripping = %q", kept)
	}
}

// fakeDevice answers each received line from a script. Lines without a
// scripted reply get no answer at all.
func fakeDevice(t *testing.T, conn net.Conn, script map[string]string) {
	t.Helper()
	go func() {
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")
			if reply, ok := script[line]; ok {
				if _, err := io.WriteString(conn, reply); err != nil {
					return
				}
			}
		}
	}()
}

func newTestChannel(t *testing.T, script map[string]string) *cliChannel {
	t.Helper()
	client, device := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		device.Close()
	})
	fakeDevice(t, device, script)
	p, _ := LookupPlatform("cisco_ios")
	return newCLIChannel(ProtocolSSH, "10.0.0.1", p, client, client, client, "\n")
}

func TestFindPrompt(t *testing.T) {
	c := newTestChannel(t, map[string]string{"": "\r\nsw-core-01#"})
	prompt, err := c.findPrompt(context.Background())
	if err != nil {
		t.Fatalf("findPrompt() error: %v", err)
	}
	if prompt != "sw-core-01#" {
		t.Errorf("findPrompt() = %q", prompt)
	}
}

func TestSendCommand(t *testing.T) {
	c := newTestChannel(t, map[string]string{
		"show version": "show version\r\nCisco IOS Software, Version 15.2(4)E10\r\nsw1#",
	})
	out, err := c.sendCommand(context.Background(), "show version",
		SendOptions{StripPrompt: true, StripCommand: true, ReadTimeout: time.Second})
	if err != nil {
		t.Fatalf("sendCommand() error: %v", err)
	}
	if out != "Cisco IOS Software, Version 15.2(4)E10" {
		t.Errorf("sendCommand() = %q", out)
	}
}

func TestSendCommandExpectString(t *testing.T) {
	c := newTestChannel(t, map[string]string{
		"copy ftp://10.0.0.5/a.bin flash:a.bin": "Destination filename [a.bin]? ",
	})
	out, err := c.sendCommand(context.Background(), "copy ftp://10.0.0.5/a.bin flash:a.bin",
		SendOptions{ExpectString: `Destination filename`, ReadTimeout: time.Second})
	if err != nil {
		t.Fatalf("sendCommand() error: %v", err)
	}
	if !strings.Contains(out, "Destination filename") {
		t.Errorf("sendCommand() = %q", out)
	}
}

func TestSendCommandPatternNotDetected(t *testing.T) {
	c := newTestChannel(t, map[string]string{"show flash:": "partial output without prompt"})
	_, err := c.sendCommand(context.Background(), "show flash:", SendOptions{ReadTimeout: 50 * time.Millisecond})
	if KindOf(err) != KindPatternNotDetected {
		t.Errorf("sendCommand() kind = %v, want pattern not detected", KindOf(err))
	}
}

func TestSendCommandCancelled(t *testing.T) {
	c := newTestChannel(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.sendCommand(ctx, "show clock", SendOptions{ReadTimeout: time.Second})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("sendCommand() error = %v, want context.Canceled", err)
	}
}

func TestEnable(t *testing.T) {
	c := newTestChannel(t, map[string]string{
		"enable": "enable\r\nPassword: ",
		"s3cret": "\r\nsw1#",
		"":       "\r\nsw1#",
	})
	if err := c.enable(context.Background(), "s3cret"); err != nil {
		t.Fatalf("enable() error: %v", err)
	}
	if c.prompt != "sw1#" {
		t.Errorf("prompt after enable = %q", c.prompt)
	}
}

func TestEnableRejected(t *testing.T) {
	c := newTestChannel(t, map[string]string{
		"enable": "enable\r\nPassword: ",
		"wrong":  "\r\n% Access denied\r\nsw1>",
		"":       "\r\nsw1>",
	})
	err := c.enable(context.Background(), "wrong")
	if KindOf(err) != KindAuthFailed {
		t.Errorf("enable() kind = %v, want auth failed", KindOf(err))
	}
}

func TestSendConfigSet(t *testing.T) {
	c := newTestChannel(t, map[string]string{
		"configure terminal": "configure terminal\r\nsw1(config)#",
		"interface Gi1/0/1":  "interface Gi1/0/1\r\nsw1(config-if)#",
		"description uplink": "description uplink\r\nsw1(config-if)#",
		"end":                "end\r\nsw1#",
	})
	out, err := c.sendConfigSet(context.Background(), []string{"interface Gi1/0/1", "description uplink"})
	if err != nil {
		t.Fatalf("sendConfigSet() error: %v", err)
	}
	if !strings.Contains(out, "description uplink") || !strings.HasSuffix(out, "sw1#") {
		t.Errorf("sendConfigSet() = %q", out)
	}
}

func TestSaveConfigConfirm(t *testing.T) {
	c := newTestChannel(t, map[string]string{
		"copy running-config startup-config": "Destination filename [startup-config]? ",
		"":                                   "Building configuration...\r\n[OK]\r\nsw1#",
	})
	out, err := c.saveConfig(context.Background())
	if err != nil {
		t.Fatalf("saveConfig() error: %v", err)
	}
	if !strings.Contains(out, "[OK]") {
		t.Errorf("saveConfig() = %q", out)
	}
}

func TestChannelClosedByDevice(t *testing.T) {
	client, device := net.Pipe()
	p, _ := LookupPlatform("cisco_ios")
	c := newCLIChannel(ProtocolTelnet, "10.0.0.1", p, client, client, client, "\r\n")
	device.Close()

	_, err := c.readUntil(context.Background(), promptPattern, time.Second)
	if err == nil {
		t.Fatal("expected error after device closed the connection")
	}
	if c.isAlive() {
		t.Error("channel should not be alive after EOF")
	}
	client.Close()
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Kind: KindRefused, Protocol: ProtocolSSH, Address: "10.0.0.1", Err: syscall.ECONNREFUSED}
	if !strings.Contains(err.Error(), "connection refused") || !strings.Contains(err.Error(), "10.0.0.1") {
		t.Errorf("Error() = %q", err.Error())
	}
}

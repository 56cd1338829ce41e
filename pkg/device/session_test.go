package device

import (
	"errors"
	"testing"

	"github.com/fleetup/fleetup/internal/testutil"
	"github.com/fleetup/fleetup/pkg/catalog"
	"github.com/fleetup/fleetup/pkg/transport"
	"github.com/fleetup/fleetup/pkg/util"
)

func newTestDevice() *Device {
	return New("cisco_ios", "10.0.0.1", catalog.Credentials{Username: "a", Password: "b", Secret: "c"})
}

func TestConnect(t *testing.T) {
	dialer := testutil.NewFakeDialer().Add("10.0.0.1", testutil.NewFakeSession("sw-core-01#"))
	dev := newTestDevice()

	if err := dev.Connect(testutil.Context(t), dialer, ""); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if dev.Status != StatusConnected {
		t.Errorf("Status = %q, want Connected", dev.Status)
	}
	if dev.Hostname != "sw-core-01" {
		t.Errorf("Hostname = %q, want sw-core-01", dev.Hostname)
	}
	if len(dev.Attempts) != 1 || dev.Attempts[0] != transport.ProtocolSSH {
		t.Errorf("Attempts = %v, want [ssh]", dev.Attempts)
	}
	if dev.Session() == nil || dev.Protocol() != transport.ProtocolSSH {
		t.Error("session should be established over ssh")
	}
}

func TestConnectEnablesWithSecret(t *testing.T) {
	sess := testutil.NewFakeSession("access1>")
	sess.Enabled = false
	dialer := testutil.NewFakeDialer().Add("10.0.0.1", sess)
	dev := newTestDevice()

	if err := dev.Connect(testutil.Context(t), dialer, ""); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if len(sess.Secrets) != 1 || sess.Secrets[0] != "c" {
		t.Errorf("enable secrets = %v, want [c]", sess.Secrets)
	}
	if dev.Hostname != "access1" {
		t.Errorf("Hostname = %q, want access1", dev.Hostname)
	}
}

func TestConnectEnableRejected(t *testing.T) {
	sess := testutil.NewFakeSession("access1>")
	sess.Enabled = false
	sess.EnableErr = &transport.Error{Kind: transport.KindAuthFailed, Err: errors.New("bad secret")}
	dialer := testutil.NewFakeDialer().Add("10.0.0.1", sess)
	dev := newTestDevice()

	if err := dev.Connect(testutil.Context(t), dialer, ""); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if dev.Status != StatusAuthFailed {
		t.Errorf("Status = %q, want %q", dev.Status, StatusAuthFailed)
	}
	if dev.Session() != nil || !sess.Closed {
		t.Error("session should be closed after enable failure")
	}
}

func TestConnectFallbackOnRefused(t *testing.T) {
	dialer := testutil.NewFakeDialer().
		Add("10.0.0.1", testutil.NewFakeSession("sw1#")).
		Fail("10.0.0.1", transport.ProtocolSSH, transport.KindRefused)
	dev := newTestDevice()

	if err := dev.Connect(testutil.Context(t), dialer, ""); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if dev.Status != StatusConnected {
		t.Errorf("Status = %q, want Connected", dev.Status)
	}
	if dev.Protocol() != transport.ProtocolTelnet {
		t.Errorf("Protocol() = %q, want telnet", dev.Protocol())
	}
	if len(dev.Attempts) != 2 || len(dialer.CallsFor("10.0.0.1")) != 2 {
		t.Errorf("Attempts = %v, want exactly two", dev.Attempts)
	}
}

func TestConnectFailureCascade(t *testing.T) {
	const none = transport.ErrorKind(-1)
	tests := []struct {
		name      string
		ssh       transport.ErrorKind
		telnet    transport.ErrorKind
		preferred transport.Protocol
		want      Status
		attempts  int
	}{
		{"refused twice", transport.KindRefused, transport.KindRefused, "", StatusRefused, 2},
		{"timeout twice", transport.KindTCPTimeout, transport.KindTCPTimeout, "", StatusTCPFailed, 2},
		{"key length then refused", transport.KindKeyLength, transport.KindRefused, "", StatusRefused, 2},
		{"key length twice", transport.KindKeyLength, transport.KindKeyLength, "", StatusSSHKeys, 2},
		{"refused then auth", transport.KindRefused, transport.KindAuthFailed, "", StatusAuthFailed, 2},
		{"auth never retried", transport.KindAuthFailed, none, "", StatusAuthFailed, 1},
		{"unreachable", transport.KindUnreachable, none, "", StatusUnreachable, 1},
		{"telnet preferred has no fallback", none, transport.KindRefused, transport.ProtocolTelnet, StatusRefused, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialer := testutil.NewFakeDialer().Add("10.0.0.1", testutil.NewFakeSession("sw1#"))
			if tt.ssh != none {
				dialer.Fail("10.0.0.1", transport.ProtocolSSH, tt.ssh)
			}
			if tt.telnet != none {
				dialer.Fail("10.0.0.1", transport.ProtocolTelnet, tt.telnet)
			}
			dev := newTestDevice()

			if err := dev.Connect(testutil.Context(t), dialer, tt.preferred); err != nil {
				t.Fatalf("Connect() error: %v", err)
			}
			if dev.Status != tt.want {
				t.Errorf("Status = %q, want %q", dev.Status, tt.want)
			}
			if !dev.Status.Terminal() {
				t.Errorf("Status %q should be terminal", dev.Status)
			}
			if len(dev.Attempts) != tt.attempts {
				t.Errorf("Attempts = %v, want %d", dev.Attempts, tt.attempts)
			}
			if dev.Session() != nil {
				t.Error("failed device should hold no session")
			}
		})
	}
}

func TestConnectUnknownFailureIsFatal(t *testing.T) {
	dialer := testutil.NewFakeDialer().FailWith("10.0.0.1", transport.ProtocolSSH, errors.New("kernel panic"))
	dev := newTestDevice()

	err := dev.Connect(testutil.Context(t), dialer, "")
	var de *util.DeviceError
	if !errors.As(err, &de) {
		t.Fatalf("Connect() error = %v, want *util.DeviceError", err)
	}
	if de.Address != "10.0.0.1" || de.Op != "connect" {
		t.Errorf("DeviceError = %+v", de)
	}
	if dev.Status != StatusNone {
		t.Errorf("Status = %q, want empty", dev.Status)
	}
}

func TestEnsureSessionReconnects(t *testing.T) {
	sess := testutil.NewFakeSession("sw1#")
	dialer := testutil.NewFakeDialer().
		Add("10.0.0.1", sess).
		Fail("10.0.0.1", transport.ProtocolSSH, transport.KindRefused)
	dev := newTestDevice()
	ctx := testutil.Context(t)

	if err := dev.Connect(ctx, dialer, ""); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	sess.Dead = true

	got, err := dev.EnsureSession(ctx, dialer)
	if err != nil {
		t.Fatalf("EnsureSession() error: %v", err)
	}
	if got == nil || !got.IsAlive() {
		t.Fatal("EnsureSession() should return a live session")
	}
	calls := dialer.CallsFor("10.0.0.1")
	if len(calls) != 3 || calls[2] != transport.ProtocolTelnet {
		t.Errorf("dial calls = %v, want reconnect over telnet", calls)
	}
}

func TestEnsureSessionNeverConnected(t *testing.T) {
	dev := newTestDevice()
	dialer := testutil.NewFakeDialer()
	sess, err := dev.EnsureSession(testutil.Context(t), dialer)
	if sess != nil || err != nil {
		t.Errorf("EnsureSession() = %v, %v; want nil, nil", sess, err)
	}
	if len(dialer.Calls) != 0 {
		t.Error("EnsureSession() must not dial a device that was never connected")
	}
}

func TestDisconnect(t *testing.T) {
	sess := testutil.NewFakeSession("sw1#")
	dialer := testutil.NewFakeDialer().Add("10.0.0.1", sess)
	dev := newTestDevice()

	dev.Disconnect()

	if err := dev.Connect(testutil.Context(t), dialer, ""); err != nil {
		t.Fatal(err)
	}
	dev.Disconnect()
	if !sess.Closed || dev.Session() != nil {
		t.Error("Disconnect() should close and drop the session")
	}
	dev.Disconnect()
}

func TestStatusValues(t *testing.T) {
	for _, s := range []Status{StatusNone, StatusConnected, StatusRefused, StatusTCPFailed,
		StatusAuthFailed, StatusSSHKeys, StatusUnreachable, StatusNotInScope} {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if Status("Rebooting").Valid() {
		t.Error("unknown status should be invalid")
	}
	if StatusConnected.Terminal() || StatusNotInScope.Terminal() || StatusNone.Terminal() {
		t.Error("Connected, not-in-scope and empty statuses are not terminal")
	}
}

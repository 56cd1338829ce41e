package device

import (
	"context"

	"github.com/fleetup/fleetup/pkg/transport"
	"github.com/fleetup/fleetup/pkg/util"
)

func (d *Device) dialOptions() transport.Options {
	return transport.Options{
		Address:  d.Address,
		Platform: d.Platform,
		Username: d.Credentials.Username,
		Password: d.Credentials.Password,
		Secret:   d.Credentials.Secret,
	}
}

// Connect establishes a session, starting with preferred (SSH when empty).
//
// A refused connection, TCP timeout or key negotiation failure on the
// preferred protocol is retried once over its fallback. Authentication
// failures are never retried. Every classified failure ends in a terminal
// Status and a nil error; an unclassified failure is returned as a
// *util.DeviceError.
func (d *Device) Connect(ctx context.Context, dialer transport.Dialer, preferred transport.Protocol) error {
	if preferred == "" {
		preferred = transport.ProtocolSSH
	}
	log := util.WithDevice(d.Address)

	proto := preferred
	for {
		d.Attempts = append(d.Attempts, proto)
		sess, err := dialer.Dial(ctx, proto, d.dialOptions())
		if err == nil {
			return d.establish(ctx, sess)
		}

		kind := transport.KindOf(err)
		if kind.Retryable() && proto == preferred {
			if next, ok := proto.Fallback(); ok {
				log.Debugf("%s failed (%s), falling back to %s", proto, kind, next)
				proto = next
				continue
			}
		}
		status, ok := statusFor(kind)
		if !ok {
			return util.NewDeviceError("connect", d.Address, err)
		}
		log.Warnf("%s: %v", status, err)
		d.Status = status
		return nil
	}
}

// establish elevates to privileged mode and records the hostname.
func (d *Device) establish(ctx context.Context, sess transport.Session) error {
	log := util.WithDevice(d.Address)
	d.session = sess
	d.protocol = sess.Protocol()

	enabled, err := sess.CheckEnableMode(ctx)
	if err == nil && !enabled {
		err = sess.Enable(ctx, d.Credentials.Secret)
	}
	if err != nil {
		d.dropSession()
		if transport.KindOf(err) == transport.KindAuthFailed {
			log.Warnf("%s: enable: %v", StatusAuthFailed, err)
			d.Status = StatusAuthFailed
			return nil
		}
		return util.NewDeviceError("enable", d.Address, err)
	}

	prompt, err := sess.FindPrompt(ctx)
	if err != nil {
		d.dropSession()
		return util.NewDeviceError("find prompt", d.Address, err)
	}
	d.Hostname = util.TrimPromptDelimiter(prompt)
	d.Status = StatusConnected
	log.Infof("Connected to %s over %s", d.Hostname, d.protocol)
	return nil
}

// EnsureSession returns a usable session. A session that has died is
// re-established over the last successful protocol. It returns nil without
// error when the device was never connected or has reached a terminal
// status, in which case callers skip the operation.
func (d *Device) EnsureSession(ctx context.Context, dialer transport.Dialer) (transport.Session, error) {
	if d.session == nil || d.Status.Terminal() {
		return nil, nil
	}
	if d.session.IsAlive() {
		return d.session, nil
	}
	util.WithDevice(d.Address).Infof("Session to %s lost, reconnecting over %s", d.Hostname, d.protocol)
	d.dropSession()
	if err := d.Connect(ctx, dialer, d.protocol); err != nil {
		return nil, err
	}
	return d.session, nil
}

// Disconnect closes the session. It is a no-op when none exists.
func (d *Device) Disconnect() {
	if d.session == nil {
		return
	}
	if err := d.session.Close(); err != nil {
		util.WithDevice(d.Address).Debugf("close: %v", err)
	}
	d.session = nil
	util.WithDevice(d.Address).Infof("Disconnected from %s", d.Hostname)
}

func (d *Device) dropSession() {
	if d.session != nil {
		d.session.Close()
		d.session = nil
	}
}

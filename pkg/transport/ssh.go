package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/fleetup/fleetup/pkg/util"
)

type sshSession struct {
	*cliChannel
	client  *ssh.Client
	session *ssh.Session
}

func dialSSH(ctx context.Context, opts Options, platform Platform) (*sshSession, error) {
	addr := util.JoinHostPort(opts.Address, opts.port(ProtocolSSH))
	timeout := opts.connTimeout()

	config := &ssh.ClientConfig{
		User: opts.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(opts.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = opts.Password
				}
				return answers, nil
			}),
		},
		// Network gear rotates host keys on reload; fleet runs do not pin them.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classify(ProtocolSSH, opts.Address, err)
	}

	conn.SetDeadline(time.Now().Add(timeout))
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, classify(ProtocolSSH, opts.Address, err)
	}
	conn.SetDeadline(time.Time{})
	client := ssh.NewClient(c, chans, reqs)

	s, err := openShell(ctx, client, opts, platform)
	if err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

func openShell(ctx context.Context, client *ssh.Client, opts Options, platform Platform) (*sshSession, error) {
	fail := func(op string, err error) error {
		return &Error{Kind: KindUnknown, Protocol: ProtocolSSH, Address: opts.Address,
			Err: fmt.Errorf("%s: %w", op, err)}
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, fail("create ssh session", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("vt100", 0, 511, modes); err != nil {
		session.Close()
		return nil, fail("request pty", err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fail("stdin pipe", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fail("stdout pipe", err)
	}
	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fail("start shell", err)
	}

	s := &sshSession{client: client, session: session}
	s.cliChannel = newCLIChannel(ProtocolSSH, opts.Address, platform, stdout, stdin, session, "\n")

	if _, err := s.readUntil(ctx, promptPattern, opts.connTimeout()); err != nil {
		s.Close()
		return nil, err
	}
	s.disablePaging(ctx)
	return s, nil
}

func (s *sshSession) Protocol() Protocol { return ProtocolSSH }

func (s *sshSession) IsAlive() bool { return s.isAlive() }

func (s *sshSession) FindPrompt(ctx context.Context) (string, error) {
	return s.findPrompt(ctx)
}

func (s *sshSession) CheckEnableMode(ctx context.Context) (bool, error) {
	return s.checkEnableMode(ctx)
}

func (s *sshSession) Enable(ctx context.Context, secret string) error {
	return s.enable(ctx, secret)
}

func (s *sshSession) SendCommand(ctx context.Context, cmd string, opts SendOptions) (string, error) {
	return s.sendCommand(ctx, cmd, opts)
}

func (s *sshSession) SendConfigSet(ctx context.Context, lines []string) (string, error) {
	return s.sendConfigSet(ctx, lines)
}

func (s *sshSession) SaveConfig(ctx context.Context) (string, error) {
	return s.saveConfig(ctx)
}

// Close ends the shell and the SSH connection.
func (s *sshSession) Close() error {
	err := s.close()
	if cerr := s.client.Close(); err == nil {
		err = cerr
	}
	return err
}

package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"regexp"
	"strings"

	"github.com/ziutek/telnet"

	"github.com/fleetup/fleetup/pkg/util"
)

var (
	loginPattern       = regexp.MustCompile(`(?i)(username|login)\s*:\s*$|(?i)password:\s*$|[\w.\-@()/:]+[>#]\s*$`)
	loginFailedPattern = regexp.MustCompile(`(?i)(login invalid|authentication failed|% bad|access denied)`)
)

type telnetSession struct {
	*cliChannel
}

func dialTelnet(ctx context.Context, opts Options, platform Platform) (*telnetSession, error) {
	addr := util.JoinHostPort(opts.Address, opts.port(ProtocolTelnet))
	timeout := opts.connTimeout()

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classify(ProtocolTelnet, opts.Address, err)
	}

	// telnet.Conn answers option negotiation and strips it from the stream.
	tc, err := telnet.NewConn(conn)
	if err != nil {
		conn.Close()
		return nil, classify(ProtocolTelnet, opts.Address, err)
	}

	s := &telnetSession{}
	s.cliChannel = newCLIChannel(ProtocolTelnet, opts.Address, platform, tc, tc, tc, "\r\n")

	if err := s.login(ctx, opts); err != nil {
		s.close()
		return nil, err
	}
	s.disablePaging(ctx)
	return s, nil
}

// login walks the username/password prompts until a CLI prompt appears.
func (s *telnetSession) login(ctx context.Context, opts Options) error {
	timeout := opts.connTimeout()
	sentUser, sentPass := false, false
	for {
		out, err := s.readUntil(ctx, loginPattern, timeout)
		if err != nil {
			var te *Error
			if errors.As(err, &te) && te.Kind == KindPatternNotDetected {
				te.Kind = KindTCPTimeout
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return &Error{Kind: KindUnreachable, Protocol: ProtocolTelnet, Address: opts.Address, Err: err}
			}
			return err
		}
		lower := strings.ToLower(out)
		switch {
		case loginFailedPattern.MatchString(out):
			return &Error{Kind: KindAuthFailed, Protocol: ProtocolTelnet, Address: opts.Address,
				Err: errors.New("login rejected")}
		case strings.HasSuffix(strings.TrimSpace(lower), "password:"):
			if sentPass {
				return &Error{Kind: KindAuthFailed, Protocol: ProtocolTelnet, Address: opts.Address,
					Err: errors.New("password rejected")}
			}
			sentPass = true
			if err := s.writeLine(opts.Password); err != nil {
				return err
			}
		case strings.HasSuffix(strings.TrimSpace(lower), ":"):
			if sentUser {
				return &Error{Kind: KindAuthFailed, Protocol: ProtocolTelnet, Address: opts.Address,
					Err: errors.New("username rejected")}
			}
			sentUser = true
			if err := s.writeLine(opts.Username); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (s *telnetSession) Protocol() Protocol { return ProtocolTelnet }

func (s *telnetSession) IsAlive() bool { return s.isAlive() }

func (s *telnetSession) FindPrompt(ctx context.Context) (string, error) {
	return s.findPrompt(ctx)
}

func (s *telnetSession) CheckEnableMode(ctx context.Context) (bool, error) {
	return s.checkEnableMode(ctx)
}

func (s *telnetSession) Enable(ctx context.Context, secret string) error {
	return s.enable(ctx, secret)
}

func (s *telnetSession) SendCommand(ctx context.Context, cmd string, opts SendOptions) (string, error) {
	return s.sendCommand(ctx, cmd, opts)
}

func (s *telnetSession) SendConfigSet(ctx context.Context, lines []string) (string, error) {
	return s.sendConfigSet(ctx, lines)
}

func (s *telnetSession) SaveConfig(ctx context.Context) (string, error) {
	return s.saveConfig(ctx)
}

func (s *telnetSession) Close() error {
	return s.close()
}

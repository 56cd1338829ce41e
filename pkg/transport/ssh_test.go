package transport

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

// listenSSH runs an SSH server whose shell answers every line with prompt.
func listenSSH(t *testing.T, config *ssh.ServerConfig, prompt string) int {
	t.Helper()
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		t.Fatal(err)
	}
	config.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSSH(conn, config, prompt)
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func serveSSH(conn net.Conn, config *ssh.ServerConfig, prompt string) {
	sc, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		conn.Close()
		return
	}
	defer sc.Close()
	go ssh.DiscardRequests(reqs)

	for nc := range chans {
		if nc.ChannelType() != "session" {
			nc.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, requests, err := nc.Accept()
		if err != nil {
			return
		}
		go func() {
			for req := range requests {
				switch req.Type {
				case "pty-req":
					req.Reply(true, nil)
				case "shell":
					req.Reply(true, nil)
					go func() {
						defer ch.Close()
						io.WriteString(ch, "\r\n"+prompt)
						r := bufio.NewReader(ch)
						for {
							if _, err := r.ReadString('\n'); err != nil {
								return
							}
							if _, err := io.WriteString(ch, "\r\n"+prompt); err != nil {
								return
							}
						}
					}()
				default:
					req.Reply(false, nil)
				}
			}
		}()
	}
}

func passwordServer(user, password string) *ssh.ServerConfig {
	return &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == user && string(pass) == password {
				return nil, nil
			}
			return nil, errors.New("access denied")
		},
	}
}

func sshOptions(port int, password string) Options {
	return Options{
		Address:     "127.0.0.1",
		Port:        port,
		Platform:    "cisco_ios",
		Username:    "admin",
		Password:    password,
		ConnTimeout: 2 * time.Second,
	}
}

func TestSSHPasswordLogin(t *testing.T) {
	port := listenSSH(t, passwordServer("admin", "s3cret"), "sw1#")

	s, err := NetDialer{}.Dial(context.Background(), ProtocolSSH, sshOptions(port, "s3cret"))
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer s.Close()

	if s.Protocol() != ProtocolSSH || !s.IsAlive() {
		t.Errorf("Protocol() = %q, IsAlive() = %v", s.Protocol(), s.IsAlive())
	}
	enabled, err := s.CheckEnableMode(context.Background())
	if err != nil || !enabled {
		t.Errorf("CheckEnableMode() = %v, %v", enabled, err)
	}
	out, err := s.SendCommand(context.Background(), "show clock", SendOptions{ReadTimeout: time.Second})
	if err != nil {
		t.Errorf("SendCommand() error: %v", err)
	}
	if out == "" {
		t.Error("SendCommand() returned no output")
	}
}

func TestSSHKeyboardInteractiveLogin(t *testing.T) {
	config := &ssh.ServerConfig{
		KeyboardInteractiveCallback: func(c ssh.ConnMetadata, client ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
			answers, err := client("", "", []string{"Password: "}, []bool{false})
			if err != nil {
				return nil, err
			}
			if len(answers) == 1 && answers[0] == "s3cret" {
				return nil, nil
			}
			return nil, errors.New("access denied")
		},
	}
	port := listenSSH(t, config, "sw2>")

	s, err := NetDialer{}.Dial(context.Background(), ProtocolSSH, sshOptions(port, "s3cret"))
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer s.Close()

	prompt, err := s.FindPrompt(context.Background())
	if err != nil || prompt != "sw2>" {
		t.Errorf("FindPrompt() = %q, %v", prompt, err)
	}
}

func TestSSHWrongPassword(t *testing.T) {
	port := listenSSH(t, passwordServer("admin", "s3cret"), "sw1#")

	_, err := NetDialer{}.Dial(context.Background(), ProtocolSSH, sshOptions(port, "wrong"))
	if KindOf(err) != KindAuthFailed {
		t.Errorf("KindOf() = %v, want %v (%v)", KindOf(err), KindAuthFailed, err)
	}
	if KindOf(err).Retryable() {
		t.Error("authentication failure must not fall back to Telnet")
	}
}

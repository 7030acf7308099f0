// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"

	"github.com/Thermoquad/tdmalink/pkg/radio/rylr"
)

// EnvPassword holds the WebSocket password
const EnvPassword = "TDMALINK_PASSWORD"

// HostLink is the byte stream between a node and its host
type HostLink interface {
	io.Reader
	io.Writer
	io.Closer
}

// SerialLink wraps a serial port
type SerialLink struct {
	port serial.Port
}

func (s *SerialLink) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialLink) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialLink) Close() error {
	return s.port.Close()
}

// ErrLinkClosed is returned when reading from a closed WebSocket link
var ErrLinkClosed = errors.New("websocket link closed")

// WebSocketLink carries the host stream in binary WebSocket messages. Reads
// return message bytes in order across message boundaries.
type WebSocketLink struct {
	conn    *websocket.Conn
	buf     []byte
	off     int
	closed  bool
	writeMu sync.Mutex
}

func (w *WebSocketLink) Read(p []byte) (int, error) {
	if w.closed {
		return 0, ErrLinkClosed
	}
	if w.off < len(w.buf) {
		n := copy(p, w.buf[w.off:])
		w.off += n
		return n, nil
	}

	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.closed = true
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return 0, io.EOF
			}
			return 0, err
		}
		// Text frames are bridge chatter, not host data.
		if messageType != websocket.BinaryMessage {
			continue
		}
		w.buf = data
		n := copy(p, w.buf)
		w.off = n
		return n, nil
	}
}

// Write sends p as one binary message. It is safe to call from the drain
// goroutine while another goroutine reads.
func (w *WebSocketLink) Write(p []byte) (int, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketLink) Close() error {
	w.writeMu.Lock()
	_ = w.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	w.writeMu.Unlock()
	return w.conn.Close()
}

// stdioLink joins stdin and stdout
type stdioLink struct{}

func (stdioLink) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdioLink) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdioLink) Close() error                { return nil }

// OpenSerialLink opens a host serial port
func OpenSerialLink(portName string, baudRate int) (HostLink, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	return &SerialLink{port: port}, nil
}

// OpenWebSocketLink dials a WebSocket bridge with HTTP Basic auth
func OpenWebSocketLink(wsURL, username, password string, skipSSLVerify bool) (HostLink, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return &WebSocketLink{conn: conn}, nil
}

// GetPassword retrieves the password from the environment or prompts for it
func GetPassword() (string, error) {
	if pw := os.Getenv(EnvPassword); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal: read a plain line
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// OpenHostLink opens the host link selected by the flags. With allowStdio and
// neither --port nor --url, stdin and stdout are the host.
func OpenHostLink(allowStdio bool) (HostLink, string, error) {
	if wsURL != "" {
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		link, err := OpenWebSocketLink(wsURL, wsUsername, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return link, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	if portName != "" {
		link, err := OpenSerialLink(portName, baudRate)
		if err != nil {
			return nil, "", err
		}
		return link, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	}

	if allowStdio {
		return stdioLink{}, "stdio", nil
	}
	return nil, "", fmt.Errorf("either --port or --url must be specified")
}

// OpenRadio opens the radio module named in the configuration
func OpenRadio() (*rylr.Module, error) {
	if cfg.Link.RadioPort == "" {
		return nil, fmt.Errorf("no radio port: set link.radio_port or --radio-port")
	}
	m, err := rylr.Open(cfg.Link.RadioPort, cfg.Link.RadioBaud, rylr.WithLogger(logger.With().Str("radio", cfg.Link.RadioPort).Logger()))
	if err != nil {
		return nil, err
	}
	if err := m.SetFrequency(cfg.Link.BaseFrequency); err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("radio setup failed: %w", err)
	}
	return m, nil
}

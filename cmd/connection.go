// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Spoolworks Robotics

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"

	"github.com/spoolworks/arachne/internal/config"
	"github.com/spoolworks/arachne/pkg/bus"
)

// Connection is the byte transport for the host link, serial or WebSocket.
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
}

// SerialConnection adapts a UART port to the Connection interface. The
// deployed coordinator talks to its host controller over one of these.
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// ErrConnectionClosed reports a read on a WebSocket link that has already
// seen a transport error and been marked dead.
var ErrConnectionClosed = fmt.Errorf("websocket connection closed")

// WebSocketConnection wraps a WebSocket connection for byte-level reading.
// Used for bench sessions where the host controller sits behind a gateway
// instead of on a local UART.
type WebSocketConnection struct {
	conn      *websocket.Conn
	buf       []byte
	bufOffset int
	closed    bool
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	if w.closed {
		return 0, ErrConnectionClosed
	}

	// Hand out the rest of the previous frame before pulling a new one.
	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		return n, nil
	}

	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.closed = true
			return 0, err
		}

		// The host protocol is ASCII lines carried in binary frames; skip
		// anything else.
		if messageType != websocket.BinaryMessage {
			continue
		}

		w.buf = data
		w.bufOffset = 0
		n := copy(p, w.buf)
		w.bufOffset = n
		return n, nil
	}
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	err := w.conn.WriteMessage(websocket.BinaryMessage, p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketConnection) Close() error {
	return w.conn.Close()
}

// OpenSerialConnection opens portName as an 8N1 link at the given baud rate.
func OpenSerialConnection(portName string, baudRate int) (Connection, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %v", portName, err)
	}

	return &SerialConnection{port: port}, nil
}

// OpenWebSocketConnection dials the host gateway, authenticating with HTTP
// Basic when credentials are given.
func OpenWebSocketConnection(wsURL, username, password string, skipSSLVerify bool) (Connection, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
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
			return nil, fmt.Errorf("websocket dial failed (HTTP %d): %v", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %v", err)
	}

	return &WebSocketConnection{conn: conn}, nil
}

// GetPassword resolves the gateway password: ARACHNE_PASSWORD when set,
// otherwise a no-echo prompt on stderr.
func GetPassword() (string, error) {
	if pw := os.Getenv("ARACHNE_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// No controlling terminal (running under a supervisor, say); take a
		// plain line instead.
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("read password: %v", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// OpenHostConnection opens the upstream host link. Command-line flags win
// over the config file; a serial port wins over a WebSocket URL.
func OpenHostConnection(cfg config.HostConfig) (Connection, string, error) {
	port := cfg.Port
	if portName != "" {
		port = portName
	}
	baud := cfg.Baud
	if baudRate > 0 {
		baud = baudRate
	}
	wsAddr := cfg.URL
	if wsURL != "" {
		wsAddr = wsURL
	}
	user := cfg.Username
	if wsUsername != "" {
		user = wsUsername
	}

	if port != "" {
		conn, err := OpenSerialConnection(port, baud)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("Serial: %s @ %d baud", port, baud), nil
	}

	if wsAddr != "" {
		password := ""
		if user != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		conn, err := OpenWebSocketConnection(wsAddr, user, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", wsAddr), nil
	}

	return nil, "", fmt.Errorf("no host link: set host.port or host.url in the config, or pass --port/--url")
}

// serialMux routes one subordinate uplink at a time to the bus reader. The
// hardware allows a single active receive line; selecting a channel simply
// moves which port the next read drains.
type serialMux struct {
	ports  []serial.Port
	active int
}

func (m *serialMux) Select(channel int) error {
	if channel < 0 || channel >= len(m.ports) {
		return fmt.Errorf("no uplink port for channel %d", channel)
	}
	m.active = channel
	return nil
}

func (m *serialMux) Read(p []byte) (int, error) {
	return m.ports[m.active].Read(p)
}

func (m *serialMux) Close() error {
	var first error
	for _, p := range m.ports {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// busCloser bundles the downlink port and the uplink mux for teardown.
type busCloser struct {
	down io.Closer
	mux  *serialMux
}

func (c *busCloser) Close() error {
	err := c.down.Close()
	if muxErr := c.mux.Close(); err == nil {
		err = muxErr
	}
	return err
}

// OpenBus opens the downlink port and every per-channel uplink port, with
// each uplink read bounded by the configured timeout so the poll budget in
// the bus is wall-clock bounded.
func OpenBus(cfg config.BusConfig, channels int) (*bus.Bus, io.Closer, error) {
	if cfg.DownlinkPort == "" {
		return nil, nil, fmt.Errorf("no bus downlink: set bus.downlink_port in the config")
	}
	if len(cfg.UplinkPorts) != channels {
		return nil, nil, fmt.Errorf("bus has %d uplink ports for %d channels", len(cfg.UplinkPorts), channels)
	}

	mode := &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	down, err := serial.Open(cfg.DownlinkPort, mode)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open bus downlink %s: %v", cfg.DownlinkPort, err)
	}

	mux := &serialMux{}
	for _, name := range cfg.UplinkPorts {
		port, err := serial.Open(name, mode)
		if err != nil {
			down.Close()
			mux.Close()
			return nil, nil, fmt.Errorf("failed to open uplink %s: %v", name, err)
		}
		if err := port.SetReadTimeout(cfg.ReadTimeout()); err != nil {
			port.Close()
			down.Close()
			mux.Close()
			return nil, nil, fmt.Errorf("failed to set read timeout on %s: %v", name, err)
		}
		mux.ports = append(mux.ports, port)
	}

	b := bus.New(down, mux, bus.Config{Retries: cfg.Retries})
	return b, &busCloser{down: down, mux: mux}, nil
}

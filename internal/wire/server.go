// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"net"
	"time"

	"github.com/Simon-Reif/cluster-utils/pkg/errors"
	"github.com/Simon-Reif/cluster-utils/pkg/logging"
)

// Update is one decoded datagram, timestamped at arrival.
type Update struct {
	Envelope
	ReceivedAt time.Time
}

// Server listens for worker datagrams on an OS-assigned ephemeral UDP port
// and republishes them as a channel of Updates. A datagram that does not
// decode as a valid Envelope is logged and dropped rather than killing the
// listener, matching the "unrecognized message" handling of the control
// channel it replaces.
type Server struct {
	conn    *net.UDPConn
	logger  logging.Logger
	updates chan Update
}

// NewServer binds a UDP socket on ip (own outward-facing address if ip is
// empty) and an OS-chosen port, ready for Run to start draining it.
func NewServer(ip string, logger logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if ip == "" {
		ip = ownIP()
	}
	addr := &net.UDPAddr{IP: net.ParseIP(ip), Port: 0}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, errors.NewWithCause(errors.ErrorCodePortBindFailed, "failed to bind control-channel socket", err)
	}
	return &Server{
		conn:    conn,
		logger:  logger,
		updates: make(chan Update, 256),
	}, nil
}

// ownIP mirrors the "connect to an unroutable address, read back the local
// endpoint" trick for discovering the outward-facing interface address
// without needing the destination to actually be reachable.
func ownIP() string {
	conn, err := net.Dial("udp", "10.255.255.255:1")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	local, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1"
	}
	return local.IP.String()
}

// ConnectionInfo returns the address workers should be told to report to.
func (s *Server) ConnectionInfo() (ip string, port int) {
	local := s.conn.LocalAddr().(*net.UDPAddr)
	ip = local.IP.String()
	if ip == "0.0.0.0" || ip == "::" {
		ip = ownIP()
	}
	return ip, local.Port
}

// Updates returns the channel of decoded worker messages. Run must be
// running for it to ever produce anything.
func (s *Server) Updates() <-chan Update {
	return s.updates
}

// Run reads datagrams until ctx is done or the socket errors, decoding each
// one and pushing it onto the updates channel. It is meant to run in its own
// goroutine; the control loop consumes Updates() separately.
func (s *Server) Run(ctx context.Context) error {
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err
		}

		var env Envelope
		dec := gob.NewDecoder(bytes.NewReader(buf[:n]))
		if err := dec.Decode(&env); err != nil {
			s.logger.Warn("dropping malformed control-channel datagram", "error", err.Error(), "bytes", n)
			continue
		}
		if env.Tag > JobConcluded {
			s.logger.Warn("dropping control-channel datagram with unrecognized tag", "tag", env.Tag)
			continue
		}

		select {
		case s.updates <- Update{Envelope: env, ReceivedAt: time.Now()}:
		case <-ctx.Done():
			return nil
		}
	}
}

// Close releases the listening socket.
func (s *Server) Close() error {
	close(s.updates)
	return s.conn.Close()
}

// Encode is exposed for tests and for the worker-side client to share the
// exact wire format the server decodes.
func Encode(env Envelope) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return buf.Bytes(), nil
}

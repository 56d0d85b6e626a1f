// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"fmt"
	"net"
)

// Client is the worker side of the control channel: a thin UDP sender that
// fires Envelopes at the orchestrator's listening address and does not wait
// for an acknowledgement (datagram delivery is best-effort, same as the
// channel it replaces).
type Client struct {
	conn *net.UDPConn
}

// Dial opens a UDP socket aimed at the orchestrator's reported address.
func Dial(ip string, port int) (*Client, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial control channel %s:%d: %w", ip, port, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) send(env Envelope) error {
	data, err := Encode(env)
	if err != nil {
		return err
	}
	_, err = c.conn.Write(data)
	return err
}

// JobStarted reports that the worker process is up and running.
func (c *Client) JobStarted(jobID int) error {
	return c.send(Envelope{Tag: JobStarted, JobID: jobID})
}

// ErrorEncountered reports a worker-side failure.
func (c *Client) ErrorEncountered(jobID int, message string) error {
	return c.send(Envelope{Tag: ErrorEncountered, JobID: jobID, ErrorMessage: message})
}

// JobSentResults reports a metrics snapshot: an intermediate value while the
// job is still running, read by the laggard killer, or the final set just
// before exit, confirmed independently by the orchestrator's own read of
// the metrics CSV rather than trusted directly off this datagram.
func (c *Client) JobSentResults(jobID int, metrics map[string]float64) error {
	return c.send(Envelope{Tag: JobSentResults, JobID: jobID, Metrics: metrics})
}

// JobConcluded reports that the worker process is exiting. It carries no
// result payload; the metrics CSV on disk is what the orchestrator trusts.
func (c *Client) JobConcluded(jobID int) error {
	return c.send(Envelope{Tag: JobConcluded, JobID: jobID})
}

// Close releases the socket.
func (c *Client) Close() error {
	return c.conn.Close()
}

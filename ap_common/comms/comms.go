/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */


// Package comms is the request/reply control channel between ap.linkd and its
// clients.  It wraps a mangos req/rep socket pair with reconnect-on-failure
// and per-operation deadlines, so a momentarily absent peer costs a timeout
// rather than a wedged caller.
package comms

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"nanomsg.org/go/mangos/v2"
	"nanomsg.org/go/mangos/v2/protocol/rep"
	"nanomsg.org/go/mangos/v2/protocol/req"

	// Transports the control URLs may name.
	_ "nanomsg.org/go/mangos/v2/transport/ipc"
	_ "nanomsg.org/go/mangos/v2/transport/tcp"
)

// APComm is one endpoint of the control channel, either the client or the
// server side.
type APComm struct {
	name   string
	url    string
	client bool
	isOpen bool

	active bool
	socket mangos.Socket
	slog   *zap.SugaredLogger

	sendTimeout time.Duration
	recvTimeout time.Duration
	openTimeout time.Duration

	sync.Mutex
}

func newAPComm(name, url string, client bool) (*APComm, error) {
	var err error
	var sock mangos.Socket

	c := &APComm{
		name:        name,
		url:         url,
		client:      client,
		active:      true,
		sendTimeout: 2 * time.Second,
		recvTimeout: 5 * time.Second,
		openTimeout: time.Second,
	}

	if client {
		sock, err = req.NewSocket()
	} else {
		sock, err = rep.NewSocket()
	}
	if err != nil {
		return nil, errors.Wrap(err, "creating socket")
	}

	sock.SetOption(mangos.OptionWriteQLen, 0)
	c.socket = sock
	if err := c.open(); err != nil {
		return nil, err
	}

	return c, nil
}

// NewAPClient connects to a server, returning the handle used for subsequent
// transactions with it.
func NewAPClient(name, url string) (*APComm, error) {
	return newAPComm(name, url, true)
}

// NewAPServer opens a server port, returning the handle Serve runs on.
func NewAPServer(name, url string) (*APComm, error) {
	return newAPComm(name, url, false)
}

// SetLogger attaches a logger for per-transaction debug output.
func (c *APComm) SetLogger(slog *zap.SugaredLogger) {
	c.slog = slog
}

// SetRecvTimeout limits how long a transaction waits for the reply.
func (c *APComm) SetRecvTimeout(d time.Duration) {
	c.recvTimeout = d
}

// SetSendTimeout limits how long a transaction blocks sending.
func (c *APComm) SetSendTimeout(d time.Duration) {
	c.sendTimeout = d
}

// SetOpenTimeout limits how long an open or reconnect may retry.
func (c *APComm) SetOpenTimeout(d time.Duration) {
	c.openTimeout = d
}

func (c *APComm) debugf(format string, v ...interface{}) {
	if c.slog != nil {
		c.slog.Debugf(c.name+": "+format, v...)
	}
}

func (c *APComm) close() {
	if c.isOpen {
		c.socket.Close()
		c.isOpen = false
	}
}

// tryOpen makes a single attempt at opening the server port or connecting to
// the server.
func (c *APComm) tryOpen() error {
	if c.isOpen {
		return nil
	}

	var err error
	if c.client {
		if err = c.socket.Dial(c.url); err != nil {
			err = errors.Wrapf(err, "dialing %s", c.url)
		}
	} else {
		if err = c.socket.Listen(c.url); err != nil {
			err = errors.Wrapf(err, "listening on %s", c.url)
		}
	}
	c.isOpen = (err == nil)
	return err
}

// open retries tryOpen with exponential backoff until it succeeds or the
// openTimeout deadline expires.  A zero openTimeout retries forever.
func (c *APComm) open() error {
	var err error

	deadline := time.Now().Add(c.openTimeout)
	backoff := time.Millisecond

	for c.active {
		if err = c.tryOpen(); err == nil {
			break
		}
		c.debugf("open failed: %v", err)

		if c.openTimeout != 0 && time.Now().After(deadline) {
			err = errors.Errorf("opening %s timed out", c.url)
			break
		}

		time.Sleep(backoff)
		if backoff *= 2; backoff > time.Second {
			backoff = time.Second
		}
	}
	return err
}

// ReqRepl sends one message to the server and blocks until the reply arrives,
// a deadline passes, or the endpoint is closed.  A failed exchange drops the
// connection; the next transaction redials.
func (c *APComm) ReqRepl(msg []byte) ([]byte, error) {
	var reply []byte
	var err error

	c.Lock()
	defer c.Unlock()

	if !c.client {
		return nil, errors.New("servers can't ReqRepl()")
	}

	timeout := c.sendTimeout
	if c.recvTimeout < timeout {
		timeout = c.recvTimeout
	}
	deadline := time.Now().Add(timeout)

	for c.active {
		if time.Now().After(deadline) {
			err = errors.New("transaction timed out")
			break
		}

		if err = c.tryOpen(); err != nil {
			continue
		}

		phase := "sending"
		c.socket.SetOption(mangos.OptionSendDeadline,
			time.Until(deadline))
		if err = c.socket.Send(msg); err == nil {
			phase = "receiving reply"
			c.socket.SetOption(mangos.OptionRecvDeadline,
				time.Until(deadline))
			reply, err = c.socket.Recv()
		}
		if err == nil {
			break
		}

		err = errors.Wrap(err, phase)
		c.debugf("transaction failed: %v", err)
		c.close()
	}

	if err == nil {
		c.debugf("sent %d bytes, got %d back", len(msg), len(reply))
	}
	return reply, err
}

// Serve receives messages until the endpoint is closed, invoking the callback
// on each and sending its return value back as the reply.
func (c *APComm) Serve(cb func([]byte) []byte) error {
	c.Lock()
	defer c.Unlock()

	if c.client {
		return errors.New("called Serve() on a client endpoint")
	}

	for c.active {
		if !c.isOpen {
			c.open()
			continue
		}

		c.Unlock()
		msg, err := c.socket.Recv()
		c.Lock()
		if err != nil {
			c.close()
		} else if len(msg) > 0 {
			resp := cb(msg)
			if c.isOpen {
				c.socket.Send(resp)
			}
		}
	}
	return nil
}

// Close shuts the endpoint down, unblocking any Serve loop.
func (c *APComm) Close() {
	c.Lock()
	defer c.Unlock()

	c.active = false
	c.close()
}

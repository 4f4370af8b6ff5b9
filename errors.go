package rdnsloop

import "errors"

// ErrInvalidName is returned by MakeRequest for a question name that
// fails to normalize to anything (the root name ".", or "").
var ErrInvalidName = errors.New("rdnsloop: invalid name")

// ErrNoServers is returned by MakeRequest when the resolver has no
// servers configured to select from.
var ErrNoServers = errors.New("rdnsloop: no servers configured")

// ErrNotInitialized is returned by MakeRequest before Init has run.
var ErrNotInitialized = errors.New("rdnsloop: resolver not initialized")

// ErrSendExhausted is returned by MakeRequest when a transaction ID
// could not be assigned after the permitted number of attempts. A
// permanent failure of the initial send is returned as the underlying
// socket error instead.
var ErrSendExhausted = errors.New("rdnsloop: send attempts exhausted")

// ErrPeriodicUnsupported is returned by an EventLoop's AddPeriodic
// when it offers no recurring timer; the resolver treats this as
// "periodic housekeeping disabled" rather than a fatal error.
var ErrPeriodicUnsupported = errors.New("rdnsloop: event loop does not support periodic timers")

// errShortWrite is returned when a socket write accepts fewer bytes
// than were handed to it, which for UDP datagrams indicates a
// malformed send rather than something retriable.
var errShortWrite = errors.New("rdnsloop: short write")

// errShortFrame is returned when a TCP length prefix is smaller than
// a DNS header, which is always a channel-reset condition (§4.2),
// never a partial parse.
var errShortFrame = errors.New("rdnsloop: tcp frame length shorter than dns header")

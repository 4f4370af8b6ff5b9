// Package rdnsloop implements the request-lifecycle engine of an
// asynchronous, recursive-client DNS resolver: a caller hands it a
// query, it picks a channel to an upstream server, sends the query,
// tracks it in a pending table keyed by transaction ID, drives
// retransmits and TCP upgrades on truncation, demultiplexes replies,
// and invokes a completion callback exactly once.
//
// The engine owns no event loop of its own. It is driven entirely by
// an EventLoop implementation the caller supplies (ioloop.Loop is a
// ready-to-use default), and runs single-threaded and cooperatively:
// every exported method that touches resolver state must be called
// from the same goroutine that drives the event loop.
package rdnsloop

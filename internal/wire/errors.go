package wire

import "errors"

// ErrWire is the sentinel wrapped by every wire-format violation.
// Callers should use errors.Is(err, ErrWire) rather than string matching.
var ErrWire = errors.New("dns wire error")

// ErrInvalidName is returned by splitLabels for a name whose
// leading/trailing dot trimming yields an empty name. EncodeName and
// the compressing name writer accept the root name (encoded as a
// single zero byte), so they do not return it for ".".
var ErrInvalidName = errors.New("invalid dns name")

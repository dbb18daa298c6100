package p2p

import "convex.dev/node/pkg/wire"

// Envelope helpers thin enough not to need their own file once everything
// else in this package moved off gob: every message this peer sends or
// receives is a wire.Message, the canonical cell-encoded envelope.
func encodeMessage(m wire.Message) []byte { return wire.Encode(m) }

func decodeMessage(b []byte) (wire.Message, error) { return wire.Decode(b) }

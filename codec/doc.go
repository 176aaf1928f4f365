// Package codec translates logical instrument operations into the Oxford
// Instruments ASCII command grammar and decodes the replies.
//
// Every model is described by a Grammar: a lookup table from Opcode to the
// command letter, parameter ranges and reply shape, together with the layout
// of the model's status word. Encoding is pure and validates every parameter
// before anything reaches the wire:
//
//	g := codec.IPS120()
//	wire, err := g.Encode(codec.SetField(1.5)) // "J+1.5000\r"
//
// Decoding strips the terminator, the optional ISOBUS address and the echoed
// command letter, and returns a Value carrying exactly one of Numeric, Enum,
// Status or ErrorReply:
//
// WithExtendedResolution switches to the five decimal formats of firmware
// that supports them, and WithAddress adds the "@n" ISOBUS prefix.
//
//	v, err := g.Decode(codec.Query(7), []byte("R+1.50000"))
//	n, _ := v.Numeric() // {1.5 T}
//
// New models are added with Register without touching the engine.
package codec

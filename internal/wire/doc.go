// Package wire implements the EXSI controller wire format.
//
// Outbound commands are rendered as "Name key=value ..." text, prefixed with a
// ">tag:1:counter>" routing header and wrapped in a fixed 16-byte big-endian
// frame header. Inbound frames carry "Name=status key=value ..." text which
// ParseEvent classifies into a closed set of event kinds.
//
// Example:
//
//	cmd := wire.NewCommand("LoadProtocol", "protocol", "BPT_EXSI")
//	frame := wire.EncodeFrame(wire.DefaultTag, 7, cmd.Encode())
//
//	ev, err := wire.ParseEvent("<LoadProtocol=ok taskKeys=103,104,105")
//	// ev.Kind == wire.EventProtocolLoaded, ev.TaskKeys == [103 104 105]
package wire

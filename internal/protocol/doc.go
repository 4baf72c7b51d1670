// Package protocol owns the wire contracts spoken over the serial link.
//
// Ownership boundary:
// - frame: ++<id>+<value>:<type>...++ command frames
// - handshake: line tokens around a reliable file transfer
package protocol

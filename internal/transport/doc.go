// Package transport provides the TCP transport to the EXSI controller.
//
// TCPTransport implements config.Transport. It frames and deframes messages
// with the wire package and reads with a short deadline so that shutdown is
// observed within one poll interval.
package transport

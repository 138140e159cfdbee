// Package stream provides the frame hand-off queue and the stream health
// tracker bridging the network receive loop and the display consumer. The
// queue holds at most one frame and evicts the old one on overrun; the
// tracker derives fps over discrete one-second windows and reports staleness.
package stream

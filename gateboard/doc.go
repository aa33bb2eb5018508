// Package gateboard speaks the Gateboard Serial Protocol (GBSP) to
// attached controller boards.
//
// A GBSP frame is the ASCII prefix "GBSP v1:", a little-endian uint16
// message id, a little-endian uint16 payload length, a tag-length-value
// payload, a little-endian CRC-16/CCITT of everything before it, and a
// "\r\n" trailer. The Reader tolerates line noise by scanning forward
// to the next prefix, and rejects frames with bad checksums without
// losing sync.
//
// The Link owns one serial device: it pings the board until a Hello
// arrives, refuses boards below the required firmware version, and
// translates board messages into core events sent through a gatenet
// client.
package gateboard

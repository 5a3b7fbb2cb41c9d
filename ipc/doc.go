// Package ipc provides the framed message transport between the host and
// its plugins.
//
// A Channel turns an unstructured byte stream into discrete Messages: each
// message is encoded by a Codec and followed by a single zero byte. The JSON
// codec is the default; the CBOR codec byte-stuffs its output so binary
// frames can use the same terminator.
package ipc

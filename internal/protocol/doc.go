// Package protocol implements the binary framing used by remote capture
// shims to feed audio into the service: a fixed header followed by a hello
// payload announcing the source format, audio payloads carrying sequenced
// PCM-16 data, or a bye marker requesting finalization.
package protocol

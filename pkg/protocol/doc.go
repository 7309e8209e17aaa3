// Package protocol implements the zentalk-chat wire formats.
//
// # Direct Mode Framing
//
// A direct connection carries a sequence of frames:
//
//	[length: 4 bytes, big-endian][nonce: 12 bytes][ciphertext]
//
// The length covers nonce and ciphertext. Readers check it against a maximum
// frame size (MaxFrameSize, 64 KiB by default) before allocating, so a hostile
// peer cannot force a large allocation. Decrypting the ciphertext with the
// session key yields one UTF-8 text line including its trailing newline. An
// empty plaintext is a keep-alive and is never displayed.
//
// # Broadcast Mode Envelopes
//
// Broadcast peers exchange envelopes encoded in the protobuf wire format:
//
//	field 1: token    (bytes, 16)
//	field 2: Announce (message: 1 sender bytes(32), 2 name string)
//	field 3: Text     (message: 1 sender bytes(32), 2 content string)
//
// Exactly one of Announce or Text must be present. Unknown fields are skipped
// so that later versions may extend the envelope; anything that does not
// decode to a known body is rejected with ErrMalformedEnvelope.
//
// # Identifiers
//
// A PeerID is the BLAKE2b-256 hash of a peer's public key. A Token is 128
// random bits attached to every envelope; two envelopes with the same body
// but different tokens are different messages.
//
// # Usage Example
//
//	env := protocol.NewText(selfID, "hello")
//	data, err := env.Encode()
//	if err != nil {
//	    return err
//	}
//	// publish data on the room topic...
//
//	got, err := protocol.DecodeEnvelope(data)
//	if errors.Is(err, protocol.ErrMalformedEnvelope) {
//	    // drop and keep receiving
//	}
package protocol

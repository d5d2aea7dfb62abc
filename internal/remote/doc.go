// Package remote implements the remote matcher side of the bridge protocol.
//
// Server accepts bridge sessions on a WebSocket endpoint, announces its
// cluster on connect, and answers every bid update with a price. It backs the
// remotestub binary and the bridge integration tests.
package remote

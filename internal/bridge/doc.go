// Package bridge connects the local matching logic to a remote matcher.
//
// Aggregated bids produced locally are numbered, recorded, and sent over the
// supervised WebSocket session. Prices coming back are matched to the recorded
// bid by sequence number and published locally. The bridge registers itself as
// a usable matching endpoint only while a session is live and the remote has
// announced its cluster; any session loss unregisters it.
package bridge

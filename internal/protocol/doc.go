// Package protocol implements the JSON wire codec spoken between the bridge and a remote matcher.
//
// Every frame is a UTF-8 text message holding one envelope:
//
//	{"payloadType": "PRICE_UPDATE", "payload": {"sequenceNumber": 7, "price": 0.42}}
//
// Payload kinds:
//   - BID_UPDATE    (bridge -> remote): sequence number + demand curve with its market basis
//   - PRICE_UPDATE  (remote -> bridge): sequence number of the priced bid + price value
//   - CLUSTER_INFO  (remote -> bridge): cluster ID + market basis
//
// Prices and market basis bounds travel as JSON numbers and are decoded straight into
// decimal.Decimal, so the bounds the bridge configures locally are exactly the remote's.
package protocol

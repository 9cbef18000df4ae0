package router

import "github.com/mpcwallet/orchestrator/types"

// InboundMessage is what a session's inbox delivers to the adapter task reading it: the sending
// participant's PartyIndex (already translated from the wire NodeId) and the raw engine payload.
type InboundMessage struct {
	From    types.PartyIndex
	Payload []byte
}

// OutboundMessage is what a session's outbox accepts from the adapter task writing to it. To is
// nil for a broadcast (§4.2: "broadcast messages carry recipient=None semantically"); otherwise
// it names the signer position ("party") the message is addressed to.
type OutboundMessage struct {
	To      *types.PartyIndex
	Payload []byte
}

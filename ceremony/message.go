package ceremony

import "github.com/mpcwallet/orchestrator/types"

// EngineMessage is the typed message shape a crypto engine consumes and produces, translated
// from/to the router's InboundMessage/OutboundMessage by the adapter tasks (§4.3.1 step 6).
type EngineMessage struct {
	From    types.PartyIndex // meaningful only on messages received from Inbound
	To      *types.PartyIndex
	Payload []byte
}

// Session is what an Engine.Run call receives: the session id and a pair of channels already
// wired through the adapter tasks to the router's per-session Route pair.
type Session struct {
	ID       types.SessionId
	Inbound  <-chan EngineMessage
	Outbound chan<- EngineMessage
}

package ceremony

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/mpcwallet/orchestrator/router"
)

// adapterPollInterval bounds how long the inbound adapter blocks on a single Dequeue call before
// re-checking for cancellation, since Route has no select-friendly channel exposed directly.
const adapterPollInterval = 200 * time.Millisecond

// adapterChanCapacity sizes the engine-facing channels; generous enough that a stub or real
// engine's round burst never blocks on the adapter, bounded so a stuck engine still backpressures.
const adapterChanCapacity = 64

// startAdapters bridges a session's router.Route pair to the channel shape Engine.Run expects
// (§4.3.1 step 6). The inbound adapter polls inbox.DequeueWithTimeout in a loop so it notices
// ctx cancellation without needing a raw channel out of Route; the outbound adapter simply
// selects on the engine's outbound channel and the cancellation context.
func startAdapters(ctx context.Context, inbox, outbox *router.Route) (inboundCh chan EngineMessage, outboundCh chan EngineMessage, stop func()) {
	adapterCtx, cancel := context.WithCancel(ctx)
	inboundCh = make(chan EngineMessage, adapterChanCapacity)
	outboundCh = make(chan EngineMessage, adapterChanCapacity)

	var wg sync.WaitGroup
	wg.Add(2)
	spawn(func() {
		defer wg.Done()
		pumpInboundAdapter(adapterCtx, inbox, inboundCh)
	})
	spawn(func() {
		defer wg.Done()
		pumpOutboundAdapter(adapterCtx, outboundCh, outbox)
	})

	stop = func() {
		cancel()
		wg.Wait()
	}
	return inboundCh, outboundCh, stop
}

func pumpInboundAdapter(ctx context.Context, inbox *router.Route, out chan<- EngineMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		raw, err := inbox.DequeueWithTimeout(adapterPollInterval)
		if err != nil {
			if stderrors.Is(err, router.ErrTimeout) {
				continue
			}
			return // route closed
		}

		msg, ok := raw.(router.InboundMessage)
		if !ok {
			continue
		}

		select {
		case out <- EngineMessage{From: msg.From, Payload: msg.Payload}:
		case <-ctx.Done():
			return
		}
	}
}

func pumpOutboundAdapter(ctx context.Context, in <-chan EngineMessage, outbox *router.Route) {
	for {
		select {
		case msg, ok := <-in:
			if !ok {
				return
			}
			_ = outbox.Enqueue(router.OutboundMessage{To: msg.To, Payload: msg.Payload})
		case <-ctx.Done():
			return
		}
	}
}

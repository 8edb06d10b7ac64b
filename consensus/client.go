package consensus

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/xraph/accord/breaker"
	"github.com/xraph/accord/id"
	"github.com/xraph/accord/transport"
)

// Per-peer RPC rate limit. Leaves ample headroom over the steady-state
// heartbeat rate while capping retry storms against a struggling peer.
const (
	peerRPCRate  rate.Limit = 200
	peerRPCBurst            = 50
)

// peerClient wraps outbound RPCs to one peer with a circuit breaker and a
// rate limiter. Breakers keep a dead peer from consuming the whole
// election time budget; the limiter caps bursts against a slow one.
type peerClient struct {
	peer    id.NodeID
	tr      transport.Transport
	br      *breaker.Breaker
	limiter *rate.Limiter
}

func (n *Node) newPeerClient(peer id.NodeID) (*peerClient, error) {
	br, err := breaker.New("peer:"+peer.String(), n.cfg.Breaker,
		breaker.WithLogger(n.logger),
		breaker.WithStateChange(n.onBreakerChange),
	)
	if err != nil {
		return nil, err
	}
	return &peerClient{
		peer:    peer,
		tr:      n.transport,
		br:      br,
		limiter: rate.NewLimiter(peerRPCRate, peerRPCBurst),
	}, nil
}

// client returns the cached peer client, creating it on first use.
func (n *Node) client(peer id.NodeID) (*peerClient, error) {
	key := peer.String()

	n.clientsMu.Lock()
	defer n.clientsMu.Unlock()

	if c, ok := n.clients[key]; ok {
		return c, nil
	}
	c, err := n.newPeerClient(peer)
	if err != nil {
		return nil, err
	}
	n.clients[key] = c
	return c, nil
}

// onBreakerChange forwards breaker transitions to the hook registry. It
// runs while the breaker's lock is held, so the emit happens off-thread.
func (n *Node) onBreakerChange(name string, from, to breaker.State) {
	go n.hooks.EmitCircuitStateChanged(context.Background(), name, from.String(), to.String())
}

// call performs one request/response RPC through the limiter and breaker,
// decoding the response payload into out. Every error path — timeout,
// unreachable peer, error frame — counts as a breaker failure. The caller
// bounds ctx with its RPC timeout.
func (c *peerClient) call(ctx context.Context, from id.NodeID, method transport.Method, payload, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("consensus: rate limit wait: %w", err)
	}

	return c.br.Do(ctx, func(ctx context.Context) error {
		req, err := transport.NewRequest(from, method, payload)
		if err != nil {
			return fmt.Errorf("consensus: build %s request: %w", method, err)
		}

		resp, err := c.tr.Send(ctx, c.peer, req)
		if err != nil {
			return err
		}
		if resp.Error != nil {
			return fmt.Errorf("consensus: %s: peer error %d: %s", method, resp.Error.Code, resp.Error.Message)
		}
		return resp.Unmarshal(out)
	})
}

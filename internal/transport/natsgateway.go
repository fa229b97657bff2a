package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pairtalk/pairtalk/internal/messaging"
)

// DeliverTimeout bounds how long a delivery waits for the gateway's result
// reply before the recipient is considered unreachable.
const DeliverTimeout = 5 * time.Second

// DeliveryResult is the gateway's reply to a delivery request.
type DeliveryResult struct {
	Status string `json:"status"` // "ok" | "unreachable"
}

type mediaFetchRequest struct {
	InboundRef string `json:"inbound_ref"`
}

type mediaFetchReply struct {
	Handle string `json:"handle"`
	Error  string `json:"error,omitempty"`
}

// NATSGateway implements Gateway over the NATS delivery subjects. The real
// message transport subscribes per recipient and replies with a
// DeliveryResult.
type NATSGateway struct {
	nats *messaging.NATSClient
}

// NewNATSGateway creates a Gateway publishing deliveries through nats.
func NewNATSGateway(nats *messaging.NATSClient) *NATSGateway {
	return &NATSGateway{nats: nats}
}

// Deliver publishes the delivery instruction and waits for the gateway's
// result. A missing or negative reply maps to ErrUnreachable; the caller
// decides whether that ends the affected session. Deliveries are never
// retried here.
func (g *NATSGateway) Deliver(_ context.Context, d Delivery) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("transport: marshal delivery: %w", err)
	}

	reply, err := g.nats.RequestDelivery(d.RecipientID, data, DeliverTimeout)
	if err != nil {
		return fmt.Errorf("%w: participant %d: %v", ErrUnreachable, d.RecipientID, err)
	}

	var result DeliveryResult
	if err := json.Unmarshal(reply, &result); err != nil {
		return fmt.Errorf("transport: decode delivery result: %w", err)
	}
	if result.Status != "ok" {
		return fmt.Errorf("%w: participant %d", ErrUnreachable, d.RecipientID)
	}
	return nil
}

// FetchMediaHandle asks the gateway to resolve an inbound media reference to
// an opaque, re-sendable handle.
func (g *NATSGateway) FetchMediaHandle(_ context.Context, inboundRef string) (string, error) {
	data, err := json.Marshal(mediaFetchRequest{InboundRef: inboundRef})
	if err != nil {
		return "", fmt.Errorf("transport: marshal media fetch: %w", err)
	}

	replyData, err := g.nats.RequestMediaHandle(data, DeliverTimeout)
	if err != nil {
		return "", fmt.Errorf("transport: media fetch: %w", err)
	}

	var reply mediaFetchReply
	if err := json.Unmarshal(replyData, &reply); err != nil {
		return "", fmt.Errorf("transport: decode media fetch reply: %w", err)
	}
	if reply.Error != "" {
		return "", fmt.Errorf("transport: media fetch: %s", reply.Error)
	}
	return reply.Handle, nil
}

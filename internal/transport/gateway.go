// Package transport defines the contract with the external messaging
// gateway: the closed set of payload kinds, the delivery instruction shape,
// and the Gateway collaborator that executes deliveries. The core never
// decodes payloads; media travel as opaque handles issued by the gateway.
package transport

import (
	"context"
	"errors"
)

// Kind is the payload kind of a relayed item.
type Kind string

const (
	KindText      Kind = "text"
	KindPhoto     Kind = "photo"
	KindVideo     Kind = "video"
	KindAnimation Kind = "animation"
)

// ParseKind validates a wire kind string.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindText, KindPhoto, KindVideo, KindAnimation:
		return Kind(s), true
	}
	return "", false
}

// ErrUnreachable is returned by Deliver when the gateway reports the
// recipient cannot be reached. It triggers teardown of the affected session;
// the core never retries delivery itself.
var ErrUnreachable = errors.New("transport: recipient unreachable")

// Delivery is a forwarding instruction for the gateway: send payload of the
// given kind to the recipient. Payload is text for KindText and an opaque
// media handle otherwise.
type Delivery struct {
	RecipientID int64  `json:"recipient_id"`
	Kind        Kind   `json:"kind"`
	Payload     string `json:"payload"`
}

// Gateway is the external messaging transport.
type Gateway interface {
	// Deliver executes a delivery. Returns ErrUnreachable when the gateway
	// reports the recipient unreachable.
	Deliver(ctx context.Context, d Delivery) error

	// FetchMediaHandle resolves an inbound media reference to an opaque
	// handle that can later be passed back in a Delivery.
	FetchMediaHandle(ctx context.Context, inboundRef string) (string, error)
}

// Text builds a text delivery.
func Text(recipient int64, msg string) Delivery {
	return Delivery{RecipientID: recipient, Kind: KindText, Payload: msg}
}

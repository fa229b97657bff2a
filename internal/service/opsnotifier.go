package service

import (
	"encoding/json"
	"fmt"

	"github.com/pairtalk/pairtalk/internal/messaging"
	"github.com/pairtalk/pairtalk/internal/protocol"
)

// NATSOpsNotifier publishes case notices to the operator channel subject.
type NATSOpsNotifier struct {
	nats *messaging.NATSClient
}

// NewNATSOpsNotifier creates an OpsNotifier publishing through nats.
func NewNATSOpsNotifier(nats *messaging.NATSClient) *NATSOpsNotifier {
	return &NATSOpsNotifier{nats: nats}
}

func (n *NATSOpsNotifier) NotifyOps(notice protocol.OpsNotice) error {
	data, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("service: marshal ops notice: %w", err)
	}
	return n.nats.PublishOpsNotice(data)
}

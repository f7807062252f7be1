// Package notify builds medication push messages and delivers them through a
// push gateway.
package notify

import (
	"context"
	"errors"
)

// ErrNoTokens occurs when a message is sent without any push tokens
var ErrNoTokens = errors.New("no push tokens")

// Priority of a push message
type Priority string

// Push priorities
const (
	PriorityDefault Priority = "default"
	PriorityNormal  Priority = "normal"
	PriorityHigh    Priority = "high"
)

// ChannelMedication is the device channel medication pushes are posted to
const ChannelMedication = "medication"

// Message to push to a patient's devices
type Message struct {
	Tokens    []string
	Title     string
	Body      string
	Data      map[string]string
	ChannelID string
	Priority  Priority
}

// Result of a delivery attempt that did not fail outright
type Result struct {
	Success   bool
	Delivered int
	Error     string
}

// Gateway delivers push messages. A non-nil error means the transport failed
// and the send may be retried.
type Gateway interface {
	Send(ctx context.Context, msg Message) (Result, error)
}

// ErrGatewayDisabled occurs when sending through a gateway that is not configured
var ErrGatewayDisabled = errors.New("push gateway is not configured")

// Disabled is the Gateway of processes that never push
type Disabled struct{}

// Send always fails with ErrGatewayDisabled
func (Disabled) Send(context.Context, Message) (Result, error) {
	return Result{}, ErrGatewayDisabled
}

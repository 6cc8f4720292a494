// Package gateway is the boundary to the third-party crypto payment gateway:
// its status vocabulary, webhook payload and signature, and the HTTP client
// used to create invoices and poll them.
package gateway

import (
	"errors"
	"fmt"
	"strings"

	"earnsystem/internal/model"
)

var (
	ErrUnknownStatus    = errors.New("gateway: unknown status")
	ErrInvalidSignature = errors.New("gateway: invalid signature")
)

// Gateway statuses as sent in webhooks and status responses.
const (
	StatusNew       = "new"
	StatusPending   = "pending"
	StatusExpired   = "expired"
	StatusCompleted = "completed"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// statusTable maps every gateway status to an internal payment status.
// A status missing here is rejected rather than defaulted.
var statusTable = map[string]string{
	StatusNew:       model.PaymentStatusPending,
	StatusPending:   model.PaymentStatusPending,
	StatusExpired:   model.PaymentStatusExpired,
	StatusCompleted: model.PaymentStatusCompleted,
	StatusError:     model.PaymentStatusFailed,
	StatusCancelled: model.PaymentStatusCancelled,
}

// MapStatus translates a gateway status, case-insensitively.
func MapStatus(external string) (string, error) {
	internal, ok := statusTable[strings.ToLower(strings.TrimSpace(external))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, external)
	}
	return internal, nil
}

// KnownStatuses lists the gateway statuses MapStatus accepts.
func KnownStatuses() []string {
	out := make([]string, 0, len(statusTable))
	for k := range statusTable {
		out = append(out, k)
	}
	return out
}

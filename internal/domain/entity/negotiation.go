package entity

import (
	"fmt"
	"time"

	"agromarket/pkg/errors"
)

type NegotiationStatus string

const (
	NegotiationStatusPending  NegotiationStatus = "pending"
	NegotiationStatusAccepted NegotiationStatus = "accepted"
	NegotiationStatusRejected NegotiationStatus = "rejected"
	NegotiationStatusCounter  NegotiationStatus = "counter"
)

// Negotiation is a structured price offer embedded in a message. Product
// name and prices are copied at offer time; later catalog changes do not
// retroactively alter an offer. Status moves from pending to exactly one of
// accepted, rejected or counter, and never moves again: a counter offer is
// answered by opening a fresh negotiation message, not by mutating this one.
type Negotiation struct {
	ProductID     string            `json:"product_id" firestore:"productId"`
	ProductName   string            `json:"product_name" firestore:"productName"`
	OriginalPrice float64           `json:"original_price" firestore:"originalPrice"`
	ProposedPrice float64           `json:"proposed_price" firestore:"proposedPrice"`
	Quantity      int               `json:"quantity" firestore:"quantity"`
	Status        NegotiationStatus `json:"status" firestore:"status"`
	CounterPrice  float64           `json:"counter_price,omitempty" firestore:"counterPrice,omitempty"`
	RespondedBy   string            `json:"responded_by,omitempty" firestore:"respondedBy,omitempty"`
	RespondedAt   *time.Time        `json:"responded_at,omitempty" firestore:"respondedAt,omitempty"`
}

func NewNegotiation(product *Product, proposedPrice float64, quantity int) (*Negotiation, error) {
	if proposedPrice <= 0 {
		return nil, errors.Validation("Proposed price must be greater than zero", nil)
	}
	if quantity <= 0 {
		return nil, errors.Validation("Quantity must be greater than zero", nil)
	}

	return &Negotiation{
		ProductID:     product.ID,
		ProductName:   product.Name,
		OriginalPrice: product.Price,
		ProposedPrice: proposedPrice,
		Quantity:      quantity,
		Status:        NegotiationStatusPending,
	}, nil
}

// Respond applies a single status transition. Only pending offers accept a
// response; the pending check precedes input validation, so a retried
// response against a resolved offer always reports the transition conflict.
// Counter responses require a positive counter price.
func (n *Negotiation) Respond(responderID string, status NegotiationStatus, counterPrice float64) error {
	if n.Status != NegotiationStatusPending {
		return errors.InvalidTransition(fmt.Sprintf("Offer has already been %s", n.Status))
	}

	switch status {
	case NegotiationStatusAccepted, NegotiationStatusRejected, NegotiationStatusCounter:
	default:
		return errors.Validation(fmt.Sprintf("Invalid negotiation response %q", status), nil)
	}

	if status == NegotiationStatusCounter && counterPrice <= 0 {
		return errors.Validation("Counter offers require a counter price", nil)
	}

	now := time.Now()
	n.Status = status
	n.RespondedBy = responderID
	n.RespondedAt = &now
	if status == NegotiationStatusCounter {
		n.CounterPrice = counterPrice
	}

	return nil
}

// OfferSummary renders the display text for the original offer message.
func (n *Negotiation) OfferSummary() string {
	return fmt.Sprintf("Offered %d x %s at %.2f (listed at %.2f)",
		n.Quantity, n.ProductName, n.ProposedPrice, n.OriginalPrice)
}

// ResponseSummary renders the display text for the confirmation message a
// response appends.
func (n *Negotiation) ResponseSummary() string {
	switch n.Status {
	case NegotiationStatusAccepted:
		return fmt.Sprintf("Accepted offer for %s at %.2f", n.ProductName, n.ProposedPrice)
	case NegotiationStatusRejected:
		return fmt.Sprintf("Rejected offer for %s at %.2f", n.ProductName, n.ProposedPrice)
	case NegotiationStatusCounter:
		return fmt.Sprintf("Counter offer for %s at %.2f", n.ProductName, n.CounterPrice)
	default:
		return fmt.Sprintf("Offer for %s is pending", n.ProductName)
	}
}

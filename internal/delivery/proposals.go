package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// ProposalStore keeps proposals in Redis until they expire.
type ProposalStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewProposalStore constructs a ProposalStore.
func NewProposalStore(client *redis.Client, ttl time.Duration) *ProposalStore {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &ProposalStore{client: client, ttl: ttl}
}

// Save writes the proposal with the store TTL.
func (s *ProposalStore) Save(ctx context.Context, p Proposal) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, shared.ProposalKey(p.InvoiceID, p.ID), payload, s.ttl).Err()
}

// Load reads a proposal back.
func (s *ProposalStore) Load(ctx context.Context, invoiceID int64, proposalID string) (Proposal, error) {
	payload, err := s.client.Get(ctx, shared.ProposalKey(invoiceID, proposalID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Proposal{}, ErrProposalNotFound
		}
		return Proposal{}, fmt.Errorf("delivery: load proposal: %w", err)
	}
	var p Proposal
	if err := json.Unmarshal(payload, &p); err != nil {
		return Proposal{}, fmt.Errorf("delivery: decode proposal: %w", err)
	}
	return p, nil
}

// Delete drops a proposal once it has been submitted.
func (s *ProposalStore) Delete(ctx context.Context, invoiceID int64, proposalID string) error {
	return s.client.Del(ctx, shared.ProposalKey(invoiceID, proposalID)).Err()
}

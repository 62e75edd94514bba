package api

import (
	"context"
	"fmt"
)

// GetInsuranceProof fetches the current proof of insurance.
// A null body decodes to a response with both fields missing.
func (c *Client) GetInsuranceProof(ctx context.Context) (*InsuranceProofResponse, error) {
	var resp InsuranceProofResponse
	if err := c.get(ctx, "/", nil, &resp); err != nil {
		return nil, fmt.Errorf("get insurance proof: %w", err)
	}
	return &resp, nil
}

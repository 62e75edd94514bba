package api

import "encoding/json"

// InsuranceProofResponse from GET /. Fields are pointers so a missing
// field can be told apart from a zero value.
type InsuranceProofResponse struct {
	DaysRemaining *json.Number `json:"daysRemaining"`
	Hash          *string      `json:"hash"`
}

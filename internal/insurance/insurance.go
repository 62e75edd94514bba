package insurance

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rickgao/pricefeed/internal/api"
	"github.com/rickgao/pricefeed/internal/model"
)

var twoPow191 = new(big.Int).Lsh(big.NewInt(1), 191)

// HashToAUM returns SHA-256(s) read as a big-endian integer, mod 2^191,
// in decimal.
func HashToAUM(s string) string {
	sum := sha256.Sum256([]byte(s))
	n := new(big.Int).SetBytes(sum[:])
	return n.Mod(n, twoPow191).String()
}

// ProofFetcher fetches the raw proof from the provider.
type ProofFetcher interface {
	GetInsuranceProof(ctx context.Context) (*api.InsuranceProofResponse, error)
}

// ProofData is the data section of a successful response.
type ProofData struct {
	NavDate json.Number `json:"navDate"`
	AUM     string      `json:"aum"`
}

// DefaultFetchTimeout bounds one shared upstream fetch.
const DefaultFetchTimeout = 30 * time.Second

// Transport serves proof-of-insurance requests. Concurrent calls share one
// upstream fetch, which runs detached from any single caller.
type Transport struct {
	fetcher ProofFetcher
	timeout time.Duration
	group   singleflight.Group
	logger  *slog.Logger
}

// NewTransport creates a Transport. timeout bounds each upstream fetch,
// retries included; zero means DefaultFetchTimeout.
func NewTransport(fetcher ProofFetcher, timeout time.Duration, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Transport{
		fetcher: fetcher,
		timeout: timeout,
		logger:  logger.With("component", "insurance"),
	}
}

// Fetch returns the adapter response for the current proof. Provider
// failures and incomplete responses are reported with status 502. A caller
// whose ctx ends first gets 504 while the shared fetch continues for others.
func (t *Transport) Fetch(ctx context.Context) model.AdapterResponse {
	ch := t.group.DoChan("proof", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
		defer cancel()
		return t.fetcher.GetInsuranceProof(fetchCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			t.logger.Warn("insurance proof fetch failed", "error", res.Err)
			return model.ErrorResponse(http.StatusBadGateway, res.Err.Error())
		}
		if res.Shared {
			t.logger.Debug("insurance proof fetch shared")
		}
		return Parse(res.Val.(*api.InsuranceProofResponse))
	case <-ctx.Done():
		return model.ErrorResponse(http.StatusGatewayTimeout, ctx.Err().Error())
	}
}

// Parse validates a provider response and builds the adapter response.
func Parse(resp *api.InsuranceProofResponse) model.AdapterResponse {
	if resp == nil || resp.DaysRemaining == nil {
		return missingField("daysRemaining")
	}
	if resp.Hash == nil {
		return missingField("hash")
	}
	return model.AdapterResponse{
		Result: nil,
		Data: ProofData{
			NavDate: *resp.DaysRemaining,
			AUM:     HashToAUM(*resp.Hash),
		},
		StatusCode: http.StatusOK,
	}
}

func missingField(name string) model.AdapterResponse {
	return model.ErrorResponse(http.StatusBadGateway, "Response missing required field: "+name)
}

package insurance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/pricefeed/internal/api"
	"github.com/rickgao/pricefeed/internal/model"
)

var decimal = regexp.MustCompile(`^\d+$`)

func TestHashToAUM(t *testing.T) {
	limit := new(big.Int).Lsh(big.NewInt(1), 191)

	inputs := []string{
		"0xabc123def456",
		"test-hash",
		"",
		"0x0",
		"abcdef1234567890abcdef1234567890abcdef1234567890abcdef1234567890",
	}
	for _, in := range inputs {
		got := HashToAUM(in)
		if !decimal.MatchString(got) {
			t.Errorf("HashToAUM(%q) = %q, want decimal digits", in, got)
			continue
		}

		// Same computation through hex, as a cross-check.
		sum := sha256.Sum256([]byte(in))
		want, _ := new(big.Int).SetString(hex.EncodeToString(sum[:]), 16)
		want.Mod(want, limit)
		if got != want.String() {
			t.Errorf("HashToAUM(%q) = %s, want %s", in, got, want)
		}

		n, _ := new(big.Int).SetString(got, 10)
		if n.Sign() < 0 || n.Cmp(limit) >= 0 {
			t.Errorf("HashToAUM(%q) = %s, out of [0, 2^191)", in, got)
		}
	}

	if HashToAUM("consistent-hash-value") != HashToAUM("consistent-hash-value") {
		t.Error("HashToAUM not deterministic")
	}
	if HashToAUM("input-one") == HashToAUM("input-two") {
		t.Error("HashToAUM collided on different inputs")
	}
}

func num(s string) *json.Number { n := json.Number(s); return &n }
func str(s string) *string      { return &s }

func TestParse(t *testing.T) {
	tests := []struct {
		name       string
		resp       *api.InsuranceProofResponse
		wantStatus int
		wantErr    string
		wantNav    string
	}{
		{"complete", &api.InsuranceProofResponse{DaysRemaining: num("42"), Hash: str("0xabc123def456")}, 200, "", "42"},
		{"zero days", &api.InsuranceProofResponse{DaysRemaining: num("0"), Hash: str("0x0")}, 200, "", "0"},
		{"negative days", &api.InsuranceProofResponse{DaysRemaining: num("-5"), Hash: str("0xabc")}, 200, "", "-5"},
		{"empty hash", &api.InsuranceProofResponse{DaysRemaining: num("42"), Hash: str("")}, 200, "", "42"},
		{"missing days", &api.InsuranceProofResponse{Hash: str("0xabc")}, 502, "Response missing required field: daysRemaining", ""},
		{"missing hash", &api.InsuranceProofResponse{DaysRemaining: num("42")}, 502, "Response missing required field: hash", ""},
		{"empty object", &api.InsuranceProofResponse{}, 502, "Response missing required field: daysRemaining", ""},
		{"nil", nil, 502, "Response missing required field: daysRemaining", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.resp)
			if got.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", got.StatusCode, tt.wantStatus)
			}
			if got.ErrorMessage != tt.wantErr {
				t.Errorf("ErrorMessage = %q, want %q", got.ErrorMessage, tt.wantErr)
			}
			if tt.wantNav == "" {
				return
			}
			if got.Result != nil {
				t.Errorf("Result = %v, want nil", got.Result)
			}
			data, ok := got.Data.(ProofData)
			if !ok {
				t.Fatalf("Data = %T, want ProofData", got.Data)
			}
			if data.NavDate.String() != tt.wantNav {
				t.Errorf("NavDate = %s, want %s", data.NavDate, tt.wantNav)
			}
			if data.AUM != HashToAUM(*tt.resp.Hash) {
				t.Errorf("AUM = %s, want %s", data.AUM, HashToAUM(*tt.resp.Hash))
			}
		})
	}
}

func TestParse_JSONShape(t *testing.T) {
	got := Parse(&api.InsuranceProofResponse{DaysRemaining: num("42"), Hash: str("0xabc123def456")})
	b, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if v, ok := decoded["result"]; !ok || v != nil {
		t.Errorf("result = %v (present %v), want null", v, ok)
	}
	data := decoded["data"].(map[string]any)
	if data["navDate"] != float64(42) {
		t.Errorf("navDate = %v, want 42", data["navDate"])
	}
	if _, ok := data["aum"].(string); !ok {
		t.Errorf("aum = %T, want string", data["aum"])
	}
}

type stubFetcher struct {
	calls atomic.Int32
	delay time.Duration
	gate  chan struct{} // blocks the fetch until closed or its ctx ends
	resp  *api.InsuranceProofResponse
	err   error
}

func (s *stubFetcher) GetInsuranceProof(ctx context.Context) (*api.InsuranceProofResponse, error) {
	s.calls.Add(1)
	time.Sleep(s.delay)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.resp, s.err
}

func TestTransport_Fetch(t *testing.T) {
	f := &stubFetcher{resp: &api.InsuranceProofResponse{DaysRemaining: num("365"), Hash: str("abc")}}
	tr := NewTransport(f, 0, nil)

	got := tr.Fetch(context.Background())
	if got.StatusCode != http.StatusOK {
		t.Fatalf("StatusCode = %d, want 200", got.StatusCode)
	}
	if got.Data.(ProofData).AUM != HashToAUM("abc") {
		t.Errorf("AUM = %v, want %s", got.Data, HashToAUM("abc"))
	}
}

func TestTransport_FetchProviderError(t *testing.T) {
	f := &stubFetcher{err: &api.APIError{StatusCode: 500, Message: "Internal Server Error"}}
	tr := NewTransport(f, 0, nil)

	got := tr.Fetch(context.Background())
	if got.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want 502", got.StatusCode)
	}
	if got.ErrorMessage != "api error 500: Internal Server Error" {
		t.Errorf("ErrorMessage = %q", got.ErrorMessage)
	}

	f.err = errors.New("dial tcp: connection refused")
	if got := tr.Fetch(context.Background()); got.ErrorMessage != "dial tcp: connection refused" {
		t.Errorf("ErrorMessage = %q", got.ErrorMessage)
	}
}

func TestTransport_ConcurrentFetchShared(t *testing.T) {
	f := &stubFetcher{
		delay: 50 * time.Millisecond,
		resp:  &api.InsuranceProofResponse{DaysRemaining: num("42"), Hash: str("0xabc")},
	}
	tr := NewTransport(f, 0, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := tr.Fetch(context.Background()); got.StatusCode != http.StatusOK {
				t.Errorf("StatusCode = %d, want 200", got.StatusCode)
			}
		}()
	}
	wg.Wait()

	if got := f.calls.Load(); got >= 10 {
		t.Errorf("upstream calls = %d, want fewer than 10", got)
	}
}

func TestTransport_CallerCancelDoesNotFailOthers(t *testing.T) {
	f := &stubFetcher{
		gate: make(chan struct{}),
		resp: &api.InsuranceProofResponse{DaysRemaining: num("42"), Hash: str("0xabc")},
	}
	tr := NewTransport(f, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan model.AdapterResponse, 1)
	go func() { first <- tr.Fetch(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for f.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("fetch never started")
		}
		time.Sleep(time.Millisecond)
	}

	second := make(chan model.AdapterResponse, 1)
	go func() { second <- tr.Fetch(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if got := <-first; got.StatusCode != http.StatusGatewayTimeout {
		t.Errorf("cancelled caller StatusCode = %d, want 504", got.StatusCode)
	}

	close(f.gate)
	if got := <-second; got.StatusCode != http.StatusOK {
		t.Errorf("waiting caller StatusCode = %d (%s), want 200", got.StatusCode, got.ErrorMessage)
	}
	if got := f.calls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
}

func TestTransport_FetchTimeout(t *testing.T) {
	f := &stubFetcher{gate: make(chan struct{})}
	tr := NewTransport(f, 20*time.Millisecond, nil)

	got := tr.Fetch(context.Background())
	if got.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want 502", got.StatusCode)
	}
	if !strings.Contains(got.ErrorMessage, "deadline exceeded") {
		t.Errorf("ErrorMessage = %q, want deadline exceeded", got.ErrorMessage)
	}
}

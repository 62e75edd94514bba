package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rickgao/pricefeed/internal/lvp"
	"github.com/rickgao/pricefeed/internal/model"
	"github.com/rickgao/pricefeed/internal/version"
)

// PriceRequest is the body of POST /price. Base and quote are three-letter
// currency or metal codes.
type PriceRequest struct {
	Data struct {
		Base  string `json:"base" binding:"required,len=3,alpha"`
		Quote string `json:"quote" binding:"required,len=3,alpha"`
	} `json:"data" binding:"required"`
}

// PriceData is the data section of a price response.
type PriceData struct {
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Mid    float64 `json:"mid"`
	Result float64 `json:"result"`
	Stale  bool    `json:"stale,omitempty"`
	AgeMs  int64   `json:"ageMs"`
}

func (s *Server) handlePrice(c *gin.Context) {
	var req PriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse(http.StatusBadRequest, err.Error()))
		return
	}

	key := model.InstrumentKey(req.Data.Base, req.Data.Quote)
	s.onDemand.touch(key, s.now())

	lookup, err := s.prices.GetLatest(key)
	if errors.Is(err, lvp.ErrNotFound) {
		if err := s.subscribeOnDemand(c.Request.Context(), key); errors.Is(err, ErrOnDemandLimit) {
			msg := fmt.Sprintf("no value for %s: %v", key, err)
			c.JSON(http.StatusServiceUnavailable, model.ErrorResponse(http.StatusServiceUnavailable, msg))
			return
		}
		msg := fmt.Sprintf("no value yet for %s; subscribed, retry shortly", key)
		c.JSON(http.StatusGatewayTimeout, model.ErrorResponse(http.StatusGatewayTimeout, msg))
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse(http.StatusInternalServerError, err.Error()))
		return
	}

	q := lookup.Quote
	data := PriceData{
		Bid:    q.Bid,
		Ask:    q.Ask,
		Mid:    q.Mid,
		Result: q.Mid,
		Stale:  lookup.Stale,
		AgeMs:  lookup.Age.Milliseconds(),
	}
	timestamps := &model.ResponseTimestamps{ProviderIndicatedTimeUnixMs: q.Timestamp.UnixMilli()}

	if lookup.Stale {
		resp := model.ErrorResponse(http.StatusGatewayTimeout,
			fmt.Sprintf("value for %s is stale (age %s)", key, lookup.Age.Round(time.Millisecond)))
		resp.Data = data
		resp.Timestamps = timestamps
		c.JSON(http.StatusGatewayTimeout, resp)
		return
	}

	c.JSON(http.StatusOK, model.AdapterResponse{
		Result:     q.Mid,
		Data:       data,
		Timestamps: timestamps,
		StatusCode: http.StatusOK,
	})
}

func (s *Server) handleInsuranceProof(c *gin.Context) {
	if s.proof == nil {
		c.JSON(http.StatusServiceUnavailable,
			model.ErrorResponse(http.StatusServiceUnavailable, "insurance proof not configured"))
		return
	}
	resp := s.proof.Fetch(c.Request.Context())
	c.JSON(resp.StatusCode, resp)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Connection string            `json:"connection"`
	Version    version.Info      `json:"version"`
	Stats      any               `json:"stats"`
	Checks     map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := HealthResponse{
		Status:     "ok",
		Connection: s.prices.State().String(),
		Version:    version.Get(),
		Stats:      s.prices.Stats(),
	}
	status := http.StatusOK

	s.checksMu.RLock()
	defer s.checksMu.RUnlock()
	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
	}
	for name, chk := range s.checks {
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.CheckTimeout)
		err := chk.Ping(ctx)
		cancel()
		if err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	c.JSON(status, resp)
}

// InstrumentInfo describes one store entry on /debug/instruments.
type InstrumentInfo struct {
	Instrument string    `json:"instrument"`
	Mid        float64   `json:"mid"`
	Timestamp  time.Time `json:"timestamp"`
	AgeMs      int64     `json:"ageMs"`
	Stale      bool      `json:"stale"`
}

func (s *Server) handleInstruments(c *gin.Context) {
	keys := s.prices.Store().Keys()
	out := make([]InstrumentInfo, 0, len(keys))
	for _, k := range keys {
		l, err := s.prices.GetLatest(k)
		if err != nil {
			continue
		}
		out = append(out, InstrumentInfo{
			Instrument: k,
			Mid:        l.Quote.Mid,
			Timestamp:  l.Quote.Timestamp,
			AgeMs:      l.Age.Milliseconds(),
			Stale:      l.Stale,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"instruments": out,
		"subscribed":  s.prices.Instruments(),
	})
}

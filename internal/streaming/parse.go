package streaming

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rickgao/pricefeed/internal/connection"
	"github.com/rickgao/pricefeed/internal/model"
)

// millisThreshold separates second and millisecond epoch timestamps.
const millisThreshold = 1e12

// ParseTick converts a raw tick into a Quote. Bid, ask and timestamp are
// required; mid defaults to the bid/ask midpoint.
func ParseTick(t *connection.Tick) (model.Quote, error) {
	if t == nil {
		return model.Quote{}, &ParseError{Field: "tick", Reason: "nil"}
	}

	key := strings.TrimSpace(t.Instrument)
	if key == "" {
		return model.Quote{}, &ParseError{Field: "instrument", Reason: "missing"}
	}

	bid, err := priceField(t, key, connection.FieldBid, "bid")
	if err != nil {
		return model.Quote{}, err
	}
	ask, err := priceField(t, key, connection.FieldAsk, "ask")
	if err != nil {
		return model.Quote{}, err
	}

	mid := (bid + ask) / 2
	if _, ok := t.Fields[connection.FieldMid]; ok {
		mid, err = priceField(t, key, connection.FieldMid, "mid")
		if err != nil {
			return model.Quote{}, err
		}
	}

	raw, ok := t.Fields[connection.FieldTimestamp]
	if !ok {
		return model.Quote{}, &ParseError{Instrument: key, Field: "timestamp", Reason: "missing"}
	}
	ts, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || ts <= 0 || math.IsInf(ts, 0) {
		return model.Quote{}, &ParseError{Instrument: key, Field: "timestamp", Reason: "invalid value " + strconv.Quote(raw)}
	}

	var timestamp time.Time
	if ts > millisThreshold {
		timestamp = time.UnixMilli(int64(ts)).UTC()
	} else {
		sec, frac := math.Modf(ts)
		timestamp = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}

	var tz int
	if raw, ok := t.Fields[connection.FieldTimezone]; ok && strings.TrimSpace(raw) != "" {
		tz, err = strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return model.Quote{}, &ParseError{Instrument: key, Field: "timezone", Reason: "invalid value " + strconv.Quote(raw)}
		}
	}

	return model.Quote{
		InstrumentKey:  key,
		Bid:            bid,
		Ask:            ask,
		Mid:            mid,
		Timestamp:      timestamp,
		TimezoneOffset: tz,
	}, nil
}

func priceField(t *connection.Tick, key string, id int, name string) (float64, error) {
	raw, ok := t.Fields[id]
	if !ok {
		return 0, &ParseError{Instrument: key, Field: name, Reason: "missing"}
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &ParseError{Instrument: key, Field: name, Reason: "invalid value " + strconv.Quote(raw)}
	}
	return v, nil
}

// Package conflict chooses between a server and a local version of a record.
//
// The resolver is a utility for callers that fetch server state; the drain
// path does not detect or resolve conflicts.
package conflict

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kimhsiao/kiosksync/internal/clock"
	"github.com/kimhsiao/kiosksync/internal/logging"
)

// Strategy names a resolution rule.
type Strategy string

const (
	StrategyServerWins Strategy = "server_wins"
	StrategyLocalWins  Strategy = "local_wins"
	StrategyMerge      Strategy = "merge"
	StrategyNewerWins  Strategy = "newer_wins"
)

// Keys added to merged records.
const (
	MergedKey   = "_merged"
	MergedAtKey = "_mergedAt"
)

// TimestampKey is the field compared by newer_wins.
const TimestampKey = "timestamp"

// Record is a loosely typed JSON object.
type Record map[string]interface{}

// ParseStrategy returns the strategy for s. Unknown names map to server_wins
// and ok reports false.
func ParseStrategy(s string) (Strategy, bool) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyServerWins:
		return StrategyServerWins, true
	case StrategyLocalWins:
		return StrategyLocalWins, true
	case StrategyMerge:
		return StrategyMerge, true
	case StrategyNewerWins:
		return StrategyNewerWins, true
	}
	return StrategyServerWins, false
}

// Resolver applies strategies using an injected clock for merge timestamps.
type Resolver struct {
	clock clock.Clock
}

// NewResolver creates a Resolver. A nil clock uses wall time.
func NewResolver(clk clock.Clock) *Resolver {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Resolver{clock: clk}
}

// Resolve returns the record chosen by strategy. Unrecognised strategies
// fall back to server_wins.
func Resolve(server, local Record, strategy Strategy) Record {
	return NewResolver(nil).Resolve(server, local, strategy)
}

// Resolve returns the record chosen by strategy.
func (r *Resolver) Resolve(server, local Record, strategy Strategy) Record {
	switch strategy {
	case StrategyServerWins:
		return server
	case StrategyLocalWins:
		return local
	case StrategyMerge:
		return r.merge(server, local)
	case StrategyNewerWins:
		return r.newerWins(server, local)
	default:
		logging.Warn("unknown conflict strategy, using server_wins", map[string]interface{}{
			"strategy": string(strategy),
		})
		return server
	}
}

// merge overlays local fields on server fields and tags the result.
func (r *Resolver) merge(server, local Record) Record {
	merged := make(Record, len(server)+len(local)+2)
	for k, v := range server {
		merged[k] = v
	}
	for k, v := range local {
		merged[k] = v
	}
	merged[MergedKey] = true
	merged[MergedAtKey] = r.clock.Now().UTC().Format(time.RFC3339Nano)
	return merged
}

// newerWins compares the records' own timestamps. Missing or unparsable
// timestamps count as the epoch; a tie keeps the local record.
func (r *Resolver) newerWins(server, local Record) Record {
	serverTS := timestampOf(server)
	localTS := timestampOf(local)

	logging.Debug("resolving by timestamp", map[string]interface{}{
		"server_timestamp": serverTS,
		"local_timestamp":  localTS,
	})

	if serverTS > localTS {
		return server
	}
	return local
}

// timestampOf returns the record timestamp in Unix milliseconds.
func timestampOf(rec Record) int64 {
	if rec == nil {
		return 0
	}
	switch v := rec[TimestampKey].(type) {
	case string:
		return parseTimestamp(v)
	case time.Time:
		return v.UnixMilli()
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return 0
			}
			return int64(f)
		}
		return n
	}
	return 0
}

func parseTimestamp(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z07:00", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli()
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return 0
}

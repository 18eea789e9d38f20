// Package votes encodes per-user vote maps for storage and derives an
// entry's rating from them. Everything here is pure.
package votes

import (
	"encoding/json"
	"fmt"
	"maps"

	"github.com/dmitrijs2005/metta/internal/common"
)

// Min and Max bound a single vote. They are enforced where votes enter the
// system (request validation), not by the codec.
const (
	Min = 1
	Max = 5
)

// Encode returns the JSON object text form of votes, or "null" for a nil map.
func Encode(votes map[string]int) (string, error) {
	b, err := json.Marshal(votes)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses text produced by Encode. Empty text and "null" decode to an
// empty map. Anything that is not a JSON object of integers fails with an
// error wrapping common.ErrDecode.
func Decode(text string) (map[string]int, error) {
	votes := map[string]int{}
	if text == "" || text == "null" {
		return votes, nil
	}
	if err := json.Unmarshal([]byte(text), &votes); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecode, err)
	}
	if votes == nil {
		votes = map[string]int{}
	}
	return votes, nil
}

// Aggregate returns the unrounded arithmetic mean of the votes, or 0 when
// there are none.
func Aggregate(votes map[string]int) float64 {
	if len(votes) == 0 {
		return 0
	}
	sum := 0
	for _, v := range votes {
		sum += v
	}
	return float64(sum) / float64(len(votes))
}

// Upsert returns a copy of votes with user's vote set to value.
// An existing vote by the same user is replaced.
func Upsert(votes map[string]int, user string, value int) map[string]int {
	out := make(map[string]int, len(votes)+1)
	maps.Copy(out, votes)
	out[user] = value
	return out
}

// Retract returns a copy of votes without user's vote.
func Retract(votes map[string]int, user string) map[string]int {
	out := make(map[string]int, len(votes))
	maps.Copy(out, votes)
	delete(out, user)
	return out
}

// Valid reports whether value is an acceptable vote.
func Valid(value int) bool {
	return value >= Min && value <= Max
}

package server

import (
	"fmt"

	"github.com/tidwall/gjson"

	"claimpricer/internal/core"
)

// DecodeClaim turns a JSON object into a claim. Strings are kept as-is,
// numbers and booleans keep their literal text, and nulls are treated as
// absent. Nested objects and arrays are rejected.
func DecodeClaim(body []byte) (core.Claim, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("request body is not valid JSON")
	}
	return claimFrom(gjson.ParseBytes(body))
}

// DecodeClaims reads the "claims" array of a batch request.
func DecodeClaims(body []byte) ([]core.Claim, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("request body is not valid JSON")
	}
	list := gjson.GetBytes(body, "claims")
	if !list.IsArray() {
		return nil, fmt.Errorf(`"claims" must be an array`)
	}

	items := list.Array()
	claims := make([]core.Claim, 0, len(items))
	for i, item := range items {
		claim, err := claimFrom(item)
		if err != nil {
			return nil, fmt.Errorf("claims[%d]: %w", i, err)
		}
		claims = append(claims, claim)
	}
	return claims, nil
}

func claimFrom(v gjson.Result) (core.Claim, error) {
	if !v.IsObject() {
		return nil, fmt.Errorf("claim must be a JSON object")
	}

	claim := core.Claim{}
	var err error
	v.ForEach(func(key, value gjson.Result) bool {
		switch value.Type {
		case gjson.String:
			claim[key.String()] = value.Str
		case gjson.Number, gjson.True, gjson.False:
			claim[key.String()] = value.Raw
		case gjson.Null:
		default:
			err = fmt.Errorf("attribute %q must be a string, number or boolean", key.String())
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return claim, nil
}

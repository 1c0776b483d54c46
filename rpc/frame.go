package rpc

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// frame is one line on the wire. A request carries ID+Method, a response
// carries ID plus Result or Error, and a notification carries Method alone.
// ID stays raw so responses to inbound requests echo the original id bytes,
// preserving the id's JSON type (numeric or string).
type frame struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// idKey canonicalizes a raw id for correlation-table lookup. Numeric and
// string ids get distinct key spaces so 7 and "7" never collide.
func idKey(raw json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("invalid id %q: %w", string(raw), err)
	}
	switch id := v.(type) {
	case float64:
		return "n:" + strconv.FormatFloat(id, 'g', -1, 64), nil
	case string:
		return "s:" + id, nil
	default:
		return "", fmt.Errorf("unsupported id type %T", v)
	}
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return data, nil
}

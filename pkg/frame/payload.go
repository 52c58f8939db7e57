package frame

import "encoding/json"

// Action is an RPC call carried inside an encrypted request body.
type Action struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// SecureRequest is the plaintext of an encrypted request envelope.
type SecureRequest struct {
	Action  Action `json:"action"`
	ChainID uint64 `json:"chainId"`
}

// Result is the outcome of an RPC call: value or error, never both.
type Result struct {
	Value json.RawMessage `json:"value,omitempty"`
	Error *ErrorValue     `json:"error,omitempty"`
}

// Currency describes a chain's native currency.
type Currency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// ChainData is bootstrap data the wallet may attach to a reply:
// known chains (id → RPC endpoint) and their native currencies.
type ChainData struct {
	Chains           map[string]string   `json:"chains,omitempty"`
	NativeCurrencies map[string]Currency `json:"nativeCurrencies,omitempty"`
}

// SecureResponse is the plaintext of an encrypted response envelope.
type SecureResponse struct {
	Result Result     `json:"result"`
	Data   *ChainData `json:"data,omitempty"`
}

// ErrorValue is a protocol- or application-level error carried on the
// wire. It is propagated to callers verbatim.
type ErrorValue struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ErrorValue) Error() string {
	return e.Message
}

// Notification is an uncorrelated event from the wallet surface, such as
// the readiness announcement or an unload signal.
type Notification struct {
	Event string `json:"event"`
}

// DecodeNotification parses data as a Notification. The second return
// value reports whether the payload carries a non-empty event name.
func DecodeNotification(data []byte) (Notification, bool) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return Notification{}, false
	}
	return n, n.Event != ""
}

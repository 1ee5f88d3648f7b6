// Package oracle defines the randomness oracle domain model.
package oracle

// Fixed protocol constants for randomness requests.
const (
	// DefaultConfirmations is the number of confirmations the oracle waits
	// for before producing a value.
	DefaultConfirmations = 3
	// DefaultNumValues is the number of random values requested per round.
	DefaultNumValues = 1
)

// RandomnessRequest describes a request for verifiable randomness.
type RandomnessRequest struct {
	// KeyID identifies the oracle key material used to produce the value.
	KeyID string `json:"key_id"`
	// SubscriptionID identifies the account billed for the request.
	SubscriptionID string `json:"subscription_id"`
	// Confirmations is the confirmation count the oracle must observe.
	Confirmations uint16 `json:"confirmations"`
	// CallbackGasLimit is the resource budget granted to the delivery callback.
	CallbackGasLimit uint32 `json:"callback_gas_limit"`
	// NumValues is the count of random values wanted.
	NumValues uint32 `json:"num_values"`
}

// Delivery is an asynchronous randomness delivery from the oracle.
type Delivery struct {
	// RequestID correlates the delivery to the originating request.
	RequestID string `json:"request_id"`
	// Values holds the produced random values; length matches NumValues.
	Values []uint64 `json:"values"`
}

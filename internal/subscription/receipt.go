package subscription

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// DecodeReceipt extracts the stable original transaction id from a client
// receipt. The receipt is a base64-encoded JSON envelope; only the
// original_transaction_id field is consumed, everything else in the envelope
// is opaque to this system.
//
// Any decode failure, and an envelope without a transaction id, yields
// ErrMalformedReceipt. This is a client error and is reported separately from
// a verification failure at the store.
func DecodeReceipt(receipt string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(receipt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedReceipt, err)
	}

	var envelope struct {
		OriginalTransactionID string `json:"original_transaction_id"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedReceipt, err)
	}
	if envelope.OriginalTransactionID == "" {
		return "", fmt.Errorf("%w: original_transaction_id not found", ErrMalformedReceipt)
	}
	return envelope.OriginalTransactionID, nil
}

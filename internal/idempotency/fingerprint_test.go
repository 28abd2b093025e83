package idempotency_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/idempotency"
)

type payload struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func TestFingerprint_DeterministicForIdenticalInput(t *testing.T) {
	a, err := idempotency.Fingerprint("client-1", "PAYMENT", payload{Amount: "10.00", Currency: "USD"}, 42)
	require.NoError(t, err)

	b, err := idempotency.Fingerprint("client-1", "PAYMENT", payload{Amount: "10.00", Currency: "USD"}, 42)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestFingerprint_DiffersOnAnyField(t *testing.T) {
	base, err := idempotency.Fingerprint("client-1", "PAYMENT", payload{Amount: "10.00", Currency: "USD"}, 42)
	require.NoError(t, err)

	cases := []struct {
		name string
		f    func() (string, error)
	}{
		{"client", func() (string, error) {
			return idempotency.Fingerprint("client-2", "PAYMENT", payload{Amount: "10.00", Currency: "USD"}, 42)
		}},
		{"operation", func() (string, error) {
			return idempotency.Fingerprint("client-1", "REFUND", payload{Amount: "10.00", Currency: "USD"}, 42)
		}},
		{"body", func() (string, error) {
			return idempotency.Fingerprint("client-1", "PAYMENT", payload{Amount: "10.01", Currency: "USD"}, 42)
		}},
		{"window", func() (string, error) {
			return idempotency.Fingerprint("client-1", "PAYMENT", payload{Amount: "10.00", Currency: "USD"}, 43)
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			other, err := tc.f()
			require.NoError(t, err)
			assert.NotEqual(t, base, other)
		})
	}
}

func TestFingerprint_MapKeyOrderDoesNotMatter(t *testing.T) {
	a, err := idempotency.Fingerprint("c", "OP", map[string]any{"a": 1, "b": 2}, 1)
	require.NoError(t, err)
	b, err := idempotency.Fingerprint("c", "OP", map[string]any{"b": 2, "a": 1}, 1)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestFingerprint_RejectsUnmarshalableBody(t *testing.T) {
	_, err := idempotency.Fingerprint("c", "OP", make(chan int), 1)
	assert.Error(t, err)
}

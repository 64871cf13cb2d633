package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrderWebhook(t *testing.T) {
	cases := []struct {
		name  string
		value string
		want  string
	}{
		{"explicit id", `{"orderId":"1001","topic":"order.updated"}`, "1001"},
		{"numeric woo id", `{"id":1002,"status":"processing"}`, "1002"},
		{"string woo id", `{"id":"1003"}`, "1003"},
		{"bare id", "1004", "1004"},
		{"quoted id", `"1005"`, "1005"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hook, err := ParseOrderWebhook([]byte(tc.value))
			require.NoError(t, err)
			assert.Equal(t, tc.want, hook.OrderID)
		})
	}
}

func TestParseOrderWebhook_Rejects(t *testing.T) {
	for _, value := range []string{"", "   ", `{"status":"processing"}`, `{"id":`} {
		_, err := ParseOrderWebhook([]byte(value))
		assert.Error(t, err, value)
	}
}

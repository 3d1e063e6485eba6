package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishWithoutClientFails(t *testing.T) {
	t.Parallel()

	pub := New(nil)
	_, err := pub.Publish(context.Background(), "harvest-records", map[string]string{"k": "v"})
	require.ErrorContains(t, err, "not configured")
}

func TestAttributeCarrierRoundTrip(t *testing.T) {
	t.Parallel()

	c := attributeCarrier{"event_type": "harvest-records"}
	c.Set("traceparent", "00-abc-def-01")

	require.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	require.ElementsMatch(t, []string{"event_type", "traceparent"}, c.Keys())
}

package application

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionRegistry_Add(t *testing.T) {
	r := NewSubscriptionRegistry()

	require.NoError(t, r.Add("rust/mqtt", AtMostOnce))
	require.NoError(t, r.Add("rust/test", AtLeastOnce))
	require.NoError(t, r.Add("sensors/+/temp", ExactlyOnce))

	// overwrite keeps the original position
	require.NoError(t, r.Add("rust/mqtt", ExactlyOnce))

	assert.Equal(t, []Subscription{
		{"rust/mqtt", ExactlyOnce},
		{"rust/test", AtLeastOnce},
		{"sensors/+/temp", ExactlyOnce},
	}, r.Snapshot())
	assert.Equal(t, 3, r.Len())
}

func TestSubscriptionRegistry_Add_Invalid(t *testing.T) {
	r := NewSubscriptionRegistry()

	err := r.Add("", AtMostOnce)
	require.ErrorIs(t, err, ErrConfig)
	require.ErrorIs(t, err, ErrInvalidTopic)

	err = r.Add("a", QoS(3))
	require.ErrorIs(t, err, ErrInvalidQoS)

	assert.Equal(t, 0, r.Len())
}

func TestSubscriptionRegistry_AddMany(t *testing.T) {
	r := NewSubscriptionRegistry()

	require.NoError(t, r.AddMany([]string{"a", "b"}, []QoS{0, 1}))
	assert.Equal(t, []Subscription{{"a", 0}, {"b", 1}}, r.Snapshot())

	err := r.AddMany([]string{"c", "d"}, []QoS{1})
	require.ErrorIs(t, err, ErrConfig)
	require.ErrorIs(t, err, ErrMismatchedLengths)

	// all or nothing
	err = r.AddMany([]string{"c", ""}, []QoS{1, 1})
	require.ErrorIs(t, err, ErrInvalidTopic)

	assert.Equal(t, []Subscription{{"a", 0}, {"b", 1}}, r.Snapshot())
}

func TestSubscriptionRegistry_Remove(t *testing.T) {
	r := NewSubscriptionRegistry()
	require.NoError(t, r.AddMany([]string{"a", "b", "c"}, []QoS{0, 1, 2}))

	assert.True(t, r.Remove("b"))
	assert.False(t, r.Remove("b"))
	assert.Equal(t, []Subscription{{"a", 0}, {"c", 2}}, r.Snapshot())

	// index must follow the shifted entries
	require.NoError(t, r.Add("c", 0))
	require.NoError(t, r.Add("b", 1))
	assert.Equal(t, []Subscription{{"a", 0}, {"c", 0}, {"b", 1}}, r.Snapshot())
}

func TestSubscriptionRegistry_SnapshotIsCopy(t *testing.T) {
	r := NewSubscriptionRegistry()
	require.NoError(t, r.Add("a", 1))

	snap := r.Snapshot()
	snap[0].QoS = 2

	assert.Equal(t, QoS(1), r.Snapshot()[0].QoS)
}

func TestSplit(t *testing.T) {
	topics, qos := Split([]Subscription{{"a", 0}, {"b", 2}})
	assert.Equal(t, []string{"a", "b"}, topics)
	assert.Equal(t, []QoS{0, 2}, qos)
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agesignal/internal/model"
)

func TestStoreEvictsOldest(t *testing.T) {
	s := NewStore(2)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Update([]model.Snapshot{
		{Subject: "cam1", UpdatedAt: base},
		{Subject: "cam2", UpdatedAt: base.Add(time.Second)},
	})
	s.Update([]model.Snapshot{{Subject: "cam3", UpdatedAt: base.Add(2 * time.Second)}})

	_, ok := s.Get("cam1")
	assert.False(t, ok, "oldest subject should be evicted")
	all := s.GetAll()
	require.Len(t, all, 2)
	assert.Equal(t, "cam2", all[0].Subject)
	assert.Equal(t, "cam3", all[1].Subject)
}

func TestStoreDeleteAndClear(t *testing.T) {
	s := NewStore(0)
	s.Update([]model.Snapshot{{Subject: "a"}, {Subject: "b"}, {Subject: ""}})
	assert.Equal(t, 2, s.Len())
	s.Delete("a")
	assert.Equal(t, 1, s.Len())
	s.Clear()
	assert.Equal(t, 0, s.Len())
}

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()
	c.Accepted()
	c.Accepted()
	c.Dropped("low_confidence")
	c.Observe(model.Snapshot{Subject: "cam1", State: 2, Mean: 41.5, Count: 9, Sufficient: true})
	c.Transition(model.Transition{Subject: "cam1", To: "alert"})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.accepted))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.dropped.WithLabelValues("low_confidence")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.state.WithLabelValues("cam1")))
	assert.Equal(t, 41.5, testutil.ToFloat64(c.mean.WithLabelValues("cam1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sufficient.WithLabelValues("cam1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitions.WithLabelValues("cam1", "alert")))

	c.Forget("cam1")
	assert.Equal(t, 0, testutil.CollectAndCount(c.state))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.Accepted()
	c.Dropped("invalid")
	c.Observe(model.Snapshot{Subject: "x"})
	c.Transition(model.Transition{})
	c.Forget("x")
	assert.Nil(t, c.Registry())
}

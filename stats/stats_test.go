package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounters_RecordAndSnapshot(t *testing.T) {
	c := New()

	c.Exec.Record(true)
	c.Exec.Record(true)
	c.Exec.Record(false)

	snap := c.Snapshot()
	assert.EqualValues(t, 3, snap["exec_total"])
	assert.EqualValues(t, 2, snap["exec_ok"])
	assert.EqualValues(t, 1, snap["exec_err"])
	assert.EqualValues(t, 0, snap["query_total"])
}

package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReporter struct {
	joinStatus string
	findStatus string
	nsName     string
	nsKnown    bool
	rosterLen  int
}

func (f fakeReporter) JoinStatusLabel() string       { return f.joinStatus }
func (f fakeReporter) FindStatusLabel() string       { return f.findStatus }
func (f fakeReporter) NameServer() (string, bool) { return f.nsName, f.nsKnown }
func (f fakeReporter) RosterLen() int                { return f.rosterLen }

func TestCountersSnapshot(t *testing.T) {
	var c Counters
	c.RecordJoinAttempted()
	c.RecordJoinAttempted()
	c.RecordJoinSucceeded()
	c.RecordLeave()
	c.RecordFind()
	c.RecordSequenceTimeout()
	c.RecordRegServed()
	c.RecordUnrServed()
	c.RecordQryServed()

	snap := c.snapshot()
	assert.EqualValues(t, 2, snap.JoinsAttempted)
	assert.EqualValues(t, 1, snap.JoinsSucceeded)
	assert.EqualValues(t, 1, snap.Leaves)
	assert.EqualValues(t, 1, snap.Finds)
	assert.EqualValues(t, 1, snap.SequenceTimeouts)
	assert.EqualValues(t, 1, snap.RegsServed)
	assert.EqualValues(t, 1, snap.UnrsServed)
	assert.EqualValues(t, 1, snap.QrysServed)
}

func TestTakeCombinesCountersAndReporter(t *testing.T) {
	var c Counters
	c.RecordJoinSucceeded()
	r := fakeReporter{joinStatus: "Joined", findStatus: "NotFinding", nsName: "alice.stark", nsKnown: true, rosterLen: 3}

	snap := Take(time.Now().Add(-time.Minute), &c, r)
	require.Equal(t, "Joined", snap.JoinStatus)
	assert.Equal(t, "alice.stark", snap.NameServer)
	assert.Equal(t, 3, snap.RosterSize)
	assert.GreaterOrEqual(t, snap.UptimeSeconds, int64(59))
	assert.EqualValues(t, 1, snap.Counters.JoinsSucceeded)
}

func TestTakeOmitsNameServerWhenUnknown(t *testing.T) {
	var c Counters
	r := fakeReporter{joinStatus: "NotJoined", findStatus: "NotFinding"}

	snap := Take(time.Now(), &c, r)
	assert.Empty(t, snap.NameServer)
}

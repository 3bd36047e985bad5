package judgewire

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionTableLifecycle(t *testing.T) {
	st := NewSessionTable()
	s := newTestSession(t, nil)

	require.NoError(t, st.Insert(s))
	require.Error(t, st.Insert(s), "duplicate node id")
	assert.Equal(t, 1, st.Count())
	assert.Equal(t, uint64(1), st.Created())

	got, ok := st.Lookup(s.NodeID)
	require.True(t, ok)
	assert.Same(t, s, got)

	_, ok = st.Lookup(uuid.New())
	assert.False(t, ok)

	assert.True(t, st.Remove(s.NodeID))
	assert.False(t, st.Remove(s.NodeID))
	assert.Zero(t, st.Count())
}

func TestSessionTableDumpHasNoKeys(t *testing.T) {
	st := NewSessionTable()
	s := newTestSession(t, st)

	dump := st.Dump()
	require.Len(t, dump, 1)
	assert.Equal(t, s.NodeID.String(), dump[0].NodeID)
	assert.Len(t, dump[0].Established, 24)
	assert.NotZero(t, dump[0].LastActive)
}

func TestSessionTableConcurrent(t *testing.T) {
	st := NewSessionTable()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s := &Session{NodeID: uuid.New()}
				if err := st.Insert(s); err != nil {
					t.Error(err)
					return
				}
				if _, ok := st.Lookup(s.NodeID); !ok {
					t.Error("inserted session not found")
				}
				st.Dump()
				st.Remove(s.NodeID)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, st.Count())
	assert.Equal(t, uint64(16*50), st.Created())
}

func TestSessionTableClose(t *testing.T) {
	st := NewSessionTable()
	newTestSession(t, st)
	newTestSession(t, st)

	require.NoError(t, st.Close())
	assert.Zero(t, st.Count())
}

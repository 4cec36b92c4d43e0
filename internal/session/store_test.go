package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"access-verifier/internal/model"
)

func newTestStore() *Store {
	return NewStore(zap.NewNop())
}

func TestStore_RFIDThenImage(t *testing.T) {
	s := newTestStore()

	emp := &model.EmployeeRecord{ID: "emp-1", Name: "Dana"}
	require.True(t, s.ApplyRFIDEvidence("att-1", "door-1", "TAG001", emp))
	require.Nil(t, s.PopReady(), "one modality must not make the attempt ready")

	require.True(t, s.ApplyImageEvidence("att-1", "door-1", []float32{1, 2}, "s3://b/k"))

	attempt := s.PopReady()
	require.NotNil(t, attempt)
	require.Equal(t, "att-1", attempt.AttemptID)
	require.Equal(t, "TAG001", attempt.RFIDTag)
	require.Equal(t, emp, attempt.EmployeeMatch)
	require.True(t, attempt.HasAllEvidence())
}

func TestStore_ImageThenRFID_OrderIndependent(t *testing.T) {
	s := newTestStore()

	require.True(t, s.ApplyImageEvidence("att-1", "door-1", []float32{1, 2}, ""))
	require.Nil(t, s.PopReady())

	require.True(t, s.ApplyRFIDEvidence("att-1", "door-1", "TAG001", nil))

	attempt := s.PopReady()
	require.NotNil(t, attempt)
	require.True(t, attempt.RFIDArrived)
	require.True(t, attempt.Image.Arrived)
}

func TestStore_PopReady_RemovesAttempt(t *testing.T) {
	s := newTestStore()
	s.ApplyRFIDEvidence("att-1", "door-1", "TAG001", nil)
	s.ApplyImageEvidence("att-1", "door-1", nil, "")

	require.NotNil(t, s.PopReady())
	require.Nil(t, s.PopReady(), "an attempt must be popped at most once")
	require.Equal(t, 0, s.Len())
}

func TestStore_DuplicateEvidence_KeepsFirst(t *testing.T) {
	s := newTestStore()

	require.True(t, s.ApplyRFIDEvidence("att-1", "door-1", "TAG001", nil))
	require.False(t, s.ApplyRFIDEvidence("att-1", "door-1", "TAG999", nil))

	attempt, ok := s.Get("att-1")
	require.True(t, ok)
	require.Equal(t, "TAG001", attempt.RFIDTag)

	require.True(t, s.ApplyImageEvidence("att-1", "door-1", []float32{1}, "ref-a"))
	require.False(t, s.ApplyImageEvidence("att-1", "door-1", []float32{2}, "ref-b"))
}

func TestStore_NoFaceImageStillCompletesModality(t *testing.T) {
	s := newTestStore()

	s.ApplyRFIDEvidence("att-1", "door-1", "TAG001", nil)
	s.ApplyImageEvidence("att-1", "door-1", nil, "s3://b/k")

	attempt := s.PopReady()
	require.NotNil(t, attempt)
	require.True(t, attempt.Image.Arrived)
	require.Nil(t, attempt.Image.Embedding)
}

func TestStore_ExpireStale(t *testing.T) {
	s := newTestStore()
	now := time.Now()
	s.now = func() time.Time { return now }

	s.ApplyRFIDEvidence("old", "door-1", "TAG001", nil)

	s.now = func() time.Time { return now.Add(30 * time.Second) }
	s.ApplyRFIDEvidence("fresh", "door-1", "TAG002", nil)

	expired := s.ExpireStale(20 * time.Second)
	require.Len(t, expired, 1)
	require.Equal(t, "old", expired[0].AttemptID)
	require.Equal(t, model.StateExpired, expired[0].State)

	_, ok := s.Get("old")
	require.False(t, ok)
	_, ok = s.Get("fresh")
	require.True(t, ok)
}

func TestStore_ExpireStale_SkipsReadyAttempts(t *testing.T) {
	s := newTestStore()
	now := time.Now()
	s.now = func() time.Time { return now }

	s.ApplyRFIDEvidence("att-1", "door-1", "TAG001", nil)
	s.ApplyImageEvidence("att-1", "door-1", []float32{1}, "")

	s.now = func() time.Time { return now.Add(time.Minute) }
	require.Empty(t, s.ExpireStale(20*time.Second),
		"ready attempts belong to the decision path, not expiry")
	require.NotNil(t, s.PopReady())
}

func TestStore_EvidenceAfterExpiry_Dropped(t *testing.T) {
	s := newTestStore()
	now := time.Now()
	s.now = func() time.Time { return now }

	s.ApplyRFIDEvidence("att-1", "door-1", "TAG001", nil)
	s.now = func() time.Time { return now.Add(time.Minute) }
	expired := s.ExpireStale(20 * time.Second)
	require.Len(t, expired, 1)

	// Expiry removed the attempt, so late evidence starts a fresh one
	// rather than mutating the terminal record.
	require.True(t, s.ApplyImageEvidence("att-1", "door-1", []float32{1}, ""))
	require.Equal(t, model.StateExpired, expired[0].State)
	require.False(t, expired[0].Image.Arrived)
}

func TestStore_ConcurrentPop_SingleWinnerPerAttempt(t *testing.T) {
	s := newTestStore()
	const n = 50
	for i := 0; i < n; i++ {
		id := string(rune('a'+i%26)) + string(rune('0'+i/26))
		s.ApplyRFIDEvidence(id, "door-1", "TAG", nil)
		s.ApplyImageEvidence(id, "door-1", []float32{1}, "")
	}

	var (
		mu     sync.Mutex
		popped = make(map[string]int)
		wg     sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				attempt := s.PopReady()
				if attempt == nil {
					return
				}
				mu.Lock()
				popped[attempt.AttemptID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, popped, n)
	for id, count := range popped {
		require.Equal(t, 1, count, "attempt %s popped more than once", id)
	}
}

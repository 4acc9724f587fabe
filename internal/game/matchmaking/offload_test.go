package matchmaking

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOffloader_RunsPartition(t *testing.T) {
	o := newOffloader()
	defer o.close()
	time.Sleep(10 * time.Millisecond)

	base := time.Now()
	var reqs []Request
	for i := 0; i < 4; i++ {
		reqs = append(reqs, makeRequest(i, "deathmatch", "us-east", 4, base))
	}

	resultCh, err := o.submit(reqs, 4)
	require.NoError(t, err)

	select {
	case res := <-resultCh:
		require.NoError(t, res.err)
		require.Len(t, res.groups, 1)
		assert.Len(t, res.groups[0].Requests, 4)
	case <-time.After(2 * time.Second):
		t.Fatal("worker never answered")
	}
}

func TestOffloader_SubmitAfterCloseFails(t *testing.T) {
	o := newOffloader()
	o.close()
	o.close() // idempotent

	require.Eventually(t, func() bool { return !o.alive() }, time.Second, time.Millisecond)
	_, err := o.submit(nil, 4)
	assert.ErrorIs(t, err, ErrWorkerDead)
}

func TestOffloader_SubmitRacingCloseNeverPanics(t *testing.T) {
	// A shutdown between the liveness check and the job send must land in
	// the non-blocking default, not on a closed channel.
	for i := 0; i < 200; i++ {
		o := newOffloader()
		start := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			o.close()
		}()
		go func() {
			defer wg.Done()
			<-start
			if resultCh, err := o.submit(nil, 4); err == nil {
				// The worker may win the race and take one last job.
				<-resultCh
			}
		}()
		close(start)
		wg.Wait()
	}
}

func TestGuardedPartition_RecoversPanic(t *testing.T) {
	// A nil-map dereference style panic inside the matcher must surface as
	// an error, not kill the caller.
	_, err := func() (g []Group, err error) {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("panic escaped guardedPartition: %v", r)
			}
		}()
		return guardedPartition([]Request{{Prefs: Preferences{GameMode: "dm", MaxPlayers: 4}}}, 1)
	}()
	// minPlayers=1 is degenerate but must not panic either way.
	assert.NoError(t, err)
}

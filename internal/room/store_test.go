package room

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRoom(code string) Room {
	now := time.Now().UTC()
	return Room{
		ID:         "room-" + code,
		JoinCode:   code,
		GameKind:   KindTrivia,
		Phase:      PhaseWaiting,
		RoundOrder: []string{"q1", "q2"},
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Hour),
		HostToken:  "tok-" + code,
	}
}

func TestPlayerUniquePerDevice(t *testing.T) {
	s := NewStore()
	s.InsertRoom(testRoom("1111"))

	p1, err := s.InsertPlayer(Player{ID: "p1", RoomID: "room-1111", DeviceID: "dev-a", DisplayName: "Ana", JoinedAt: time.Now()})
	require.NoError(t, err)

	// same device joins again: the existing record comes back
	p2, err := s.InsertPlayer(Player{ID: "p2", RoomID: "room-1111", DeviceID: "dev-a", DisplayName: "Ana again", JoinedAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, p1.ID, p2.ID)
	assert.Len(t, s.Players("room-1111"), 1)

	_, err = s.InsertPlayer(Player{ID: "p3", RoomID: "room-1111", DeviceID: "dev-b", JoinedAt: time.Now()})
	require.NoError(t, err)
	assert.Len(t, s.Players("room-1111"), 2)
}

func TestPlayerCapacityBound(t *testing.T) {
	s := NewStore()
	rm := testRoom("1010")
	s.InsertRoom(rm)

	for i := 0; i < rm.GameKind.Capacity(); i++ {
		_, err := s.InsertPlayer(Player{ID: fmt.Sprintf("p%d", i), RoomID: rm.ID, DeviceID: fmt.Sprintf("dev-%d", i), JoinedAt: time.Now()})
		require.NoError(t, err)
	}

	_, err := s.InsertPlayer(Player{ID: "overflow", RoomID: rm.ID, DeviceID: "dev-overflow", JoinedAt: time.Now()})
	assert.ErrorIs(t, err, ErrRoomFull)

	// a known device reconnecting into a full room is not a new seat
	back, err := s.InsertPlayer(Player{ID: "p0-again", RoomID: rm.ID, DeviceID: "dev-0", JoinedAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, "p0", back.ID)
	assert.Len(t, s.Players(rm.ID), rm.GameKind.Capacity())
}

func TestPlayerCapacityUnderContention(t *testing.T) {
	s := NewStore()
	rm := testRoom("1313")
	s.InsertRoom(rm)

	// one seat left, four devices racing for it
	for i := 0; i < rm.GameKind.Capacity()-1; i++ {
		_, err := s.InsertPlayer(Player{ID: fmt.Sprintf("p%d", i), RoomID: rm.ID, DeviceID: fmt.Sprintf("dev-%d", i), JoinedAt: time.Now()})
		require.NoError(t, err)
	}

	start := make(chan struct{})
	var wg sync.WaitGroup
	var admitted int32
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := s.InsertPlayer(Player{ID: fmt.Sprintf("racer%d", i), RoomID: rm.ID, DeviceID: fmt.Sprintf("racer-dev-%d", i), JoinedAt: time.Now()})
			if err == nil {
				atomic.AddInt32(&admitted, 1)
			} else {
				assert.ErrorIs(t, err, ErrRoomFull)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, admitted)
	assert.Len(t, s.Players(rm.ID), rm.GameKind.Capacity())
}

func TestResponseUniquePerRound(t *testing.T) {
	s := NewStore()
	s.InsertRoom(testRoom("2222"))

	first := Response{ID: "r1", RoomID: "room-2222", RoundIndex: 0, PlayerID: "p1", Choice: "A"}
	require.NoError(t, s.InsertResponse(first))

	err := s.InsertResponse(Response{ID: "r2", RoomID: "room-2222", RoundIndex: 0, PlayerID: "p1", Choice: "B"})
	assert.ErrorIs(t, err, ErrDuplicateResponse)

	// the stored first response wins
	got := s.Responses("room-2222", 0)
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].Choice)

	// same player, next round is fine
	require.NoError(t, s.InsertResponse(Response{ID: "r3", RoomID: "room-2222", RoundIndex: 1, PlayerID: "p1", Choice: "B"}))
}

func TestPhaseEdges(t *testing.T) {
	s := NewStore()
	s.InsertRoom(testRoom("3333"))

	_, err := s.CompareAndSwapPhase("room-3333", PhaseWaiting, PhaseResponseWindow)
	require.NoError(t, err)

	// losing side of a race: expected phase has moved on
	_, err = s.CompareAndSwapPhase("room-3333", PhaseWaiting, PhasePrompt)
	assert.ErrorIs(t, err, ErrStaleWrite)

	// no skipping edges
	_, err = s.UpdateRoom("room-3333", func(r *Room) error {
		r.Phase = PhaseGameOver
		return nil
	})
	assert.ErrorIs(t, err, ErrStaleWrite)

	// no going backward on the round index
	_, err = s.UpdateRoom("room-3333", func(r *Room) error {
		r.RoundIndex = -1
		return nil
	})
	assert.ErrorIs(t, err, ErrStaleWrite)
}

func TestValidTransitionTable(t *testing.T) {
	cases := []struct {
		from, to Phase
		ok       bool
	}{
		{PhaseWaiting, PhasePrompt, true},
		{PhaseWaiting, PhaseResponseWindow, true},
		{PhasePrompt, PhaseResponseWindow, true},
		{PhaseResponseWindow, PhaseResolution, true},
		{PhaseResolution, PhaseSpotlight, true},
		{PhaseResolution, PhaseRoundSummary, true},
		{PhaseSpotlight, PhaseJuryVote, true},
		{PhaseJuryVote, PhaseRoundSummary, true},
		{PhaseRoundSummary, PhaseGameOver, true},
		{PhaseRoundSummary, PhaseResponseWindow, true},
		{PhaseWaiting, PhaseResolution, false},
		{PhaseResponseWindow, PhaseRoundSummary, false},
		{PhaseGameOver, PhaseWaiting, false},
		{PhaseResolution, PhaseResponseWindow, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, ValidTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestJoinCodeExclusivity(t *testing.T) {
	s := NewStore()
	rm := testRoom("4444")
	s.InsertRoom(rm)

	assert.True(t, s.CodeInUse("4444"))

	// an expired room no longer binds its code
	_, err := s.UpdateRoom(rm.ID, func(r *Room) error {
		r.ExpiresAt = time.Now().Add(-time.Minute)
		return nil
	})
	require.NoError(t, err)
	assert.False(t, s.CodeInUse("4444"))
	_, err = s.GetRoomByCode("4444")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	// a released code is immediately reusable by a new room
	s2 := NewStore()
	first := testRoom("5555")
	s2.InsertRoom(first)
	s2.ReleaseCode(first.ID)
	assert.False(t, s2.CodeInUse("5555"))
	second := testRoom("5555")
	second.ID = "room-5555-b"
	s2.InsertRoom(second)
	got, err := s2.GetRoomByCode("5555")
	require.NoError(t, err)
	assert.Equal(t, "room-5555-b", got.ID)
}

func TestApplyDeltasIsOneUnit(t *testing.T) {
	s := NewStore()
	s.InsertRoom(testRoom("6666"))
	_, err := s.InsertPlayer(Player{ID: "p1", RoomID: "room-6666", DeviceID: "a", Streak: 2, JoinedAt: time.Now()})
	require.NoError(t, err)
	_, err = s.InsertPlayer(Player{ID: "p2", RoomID: "room-6666", DeviceID: "b", JoinedAt: time.Now()})
	require.NoError(t, err)

	err = s.ApplyDeltas("room-6666", []Delta{
		{PlayerID: "p1", Points: 180, Streak: 3, SetStreak: true, Reason: "correct"},
		{PlayerID: "p2", Penalty: 1, Streak: 0, SetStreak: true, Reason: "incorrect"},
		{PlayerID: "p2", Penalty: 1, Reason: "lone_loser"},
		{PlayerID: "gone", Points: 999},
	})
	require.NoError(t, err)

	p1, err := s.GetPlayer("room-6666", "p1")
	require.NoError(t, err)
	assert.Equal(t, 180, p1.Score)
	assert.Equal(t, 3, p1.Streak)
	assert.Equal(t, 0, p1.PenaltyCount)

	p2, err := s.GetPlayer("room-6666", "p2")
	require.NoError(t, err)
	assert.Equal(t, 2, p2.PenaltyCount)
	assert.Equal(t, 0, p2.Streak)
}

func TestPlayersOrderedByJoin(t *testing.T) {
	s := NewStore()
	s.InsertRoom(testRoom("7777"))
	base := time.Now().UTC()
	for i, id := range []string{"late", "early", "middle"} {
		offset := []time.Duration{2 * time.Second, 0, time.Second}[i]
		_, err := s.InsertPlayer(Player{ID: id, RoomID: "room-7777", DeviceID: id, JoinedAt: base.Add(offset)})
		require.NoError(t, err)
	}
	got := s.Players("room-7777")
	require.Len(t, got, 3)
	assert.Equal(t, "early", got[0].ID)
	assert.Equal(t, "middle", got[1].ID)
	assert.Equal(t, "late", got[2].ID)
}

func TestFeedDeliversMutations(t *testing.T) {
	s := NewStore()
	s.InsertRoom(testRoom("8888"))

	events, cancel := s.Feed().Subscribe("room-8888")
	defer cancel()

	require.NoError(t, s.InsertResponse(Response{ID: "r1", RoomID: "room-8888", RoundIndex: 0, PlayerID: "p1", Choice: "A"}))

	select {
	case ev := <-events:
		assert.Equal(t, EntityResponse, ev.Entity)
		assert.Equal(t, OpInsert, ev.Op)
		assert.Equal(t, "room-8888", ev.RoomID)
	case <-time.After(time.Second):
		t.Fatal("expected a feed event")
	}

	// events for other rooms never arrive
	s.InsertRoom(testRoom("9999"))
	select {
	case ev := <-events:
		t.Fatalf("unexpected event for %s", ev.RoomID)
	case <-time.After(50 * time.Millisecond):
	}

	// cancel closes the channel
	cancel()
	_, open := <-events
	assert.False(t, open)
}

func TestFeedDropsWhenSubscriberLags(t *testing.T) {
	s := NewStore()
	s.InsertRoom(testRoom("1212"))
	_, cancel := s.Feed().Subscribe("room-1212")
	defer cancel()

	// publisher must never block, even with a full subscriber buffer
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			s.Feed().Publish(Event{Entity: EntityPlayer, Op: OpUpdate, RoomID: "room-1212"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a lagging subscriber")
	}
}

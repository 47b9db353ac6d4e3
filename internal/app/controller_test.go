package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trivia-session-service/internal/app"
	"trivia-session-service/internal/domain"
	"trivia-session-service/internal/infra/memory"
)

func TestScoringScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	code := h.create("A", "Alice")
	require.Equal(t, "ABCXYZ", code)
	_, err := h.ctrl.JoinSession(ctx, code, "B", "Bob")
	require.NoError(t, err)
	require.NoError(t, h.ctrl.StartSession(ctx, code, "A"))

	h.clock.Advance(5 * time.Second)
	ack, err := h.ctrl.SubmitAnswer(ctx, code, "A", "q1", domain.TextAnswer("paris"))
	require.NoError(t, err)
	assert.True(t, ack.IsCorrect)
	assert.Equal(t, 150, ack.Awarded)
	assert.Equal(t, 150, ack.TotalScore)

	require.NoError(t, h.ctrl.AdvanceQuestion(ctx, code, "A"))

	session, ok := h.store.Get(code)
	require.True(t, ok)
	assert.Equal(t, 1, session.CurrentIndex())

	answers := session.Answers(0)
	require.Len(t, answers, 2)
	assert.Equal(t, "A", answers[0].PlayerID)
	assert.Equal(t, "B", answers[1].PlayerID)
	assert.True(t, answers[1].Expired)
	assert.True(t, answers[1].Value.IsNull())
	assert.Equal(t, 0, answers[1].Points)

	snap, err := h.ctrl.Snapshot(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, 150, snap.Players[0].Score)
	assert.Equal(t, 0, snap.Players[1].Score)
}

func TestSubmitAnswerEmitsPrivateAckAndProgress(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.startedSession("A", "B")

	_, err := h.ctrl.SubmitAnswer(ctx, code, "B", "q1", domain.TextAnswer("Rome"))
	require.NoError(t, err)

	direct := h.gateway.directTo("B")
	require.Len(t, direct, 1)
	assert.Equal(t, domain.EventAnswerResult, direct[0].Name)
	ack := direct[0].Payload.(domain.AnswerResultEvent)
	assert.False(t, ack.IsCorrect)
	assert.Equal(t, 0, ack.Awarded)

	last := h.gateway.lastBroadcast()
	assert.Equal(t, domain.EventProgress, last.Name)
	assert.Equal(t, domain.ProgressEvent{QuestionID: "q1", Answered: 1, Total: 2}, last.Payload)
	assert.Equal(t, direct[0].Seq, last.Seq)
}

func TestDuplicateAnswerRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.startedSession("A", "B")

	_, err := h.ctrl.SubmitAnswer(ctx, code, "A", "q1", domain.TextAnswer("Paris"))
	require.NoError(t, err)
	_, err = h.ctrl.SubmitAnswer(ctx, code, "A", "q1", domain.TextAnswer("Rome"))
	require.ErrorIs(t, err, domain.ErrDuplicateAnswer)

	session, _ := h.store.Get(code)
	require.Len(t, session.Answers(0), 1)
	assert.True(t, session.Answers(0)[0].IsCorrect)
}

func TestSkippedAnswerCountsAsAnswered(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.startedSession("A", "B")

	ack, err := h.ctrl.SubmitAnswer(ctx, code, "B", "q1", domain.AnswerValue{})
	require.NoError(t, err)
	assert.False(t, ack.IsCorrect)

	_, err = h.ctrl.SubmitAnswer(ctx, code, "B", "q1", domain.TextAnswer("Paris"))
	require.ErrorIs(t, err, domain.ErrDuplicateAnswer)
}

func TestStaleAnswers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.startedSession("A", "B")

	_, err := h.ctrl.SubmitAnswer(ctx, code, "A", "q2", domain.BoolAnswer(true))
	require.ErrorIs(t, err, domain.ErrStaleQuestion, "future question")

	h.clock.Advance(31 * time.Second)
	_, err = h.ctrl.SubmitAnswer(ctx, code, "A", "q1", domain.TextAnswer("Paris"))
	require.ErrorIs(t, err, domain.ErrStaleQuestion, "past the time limit")

	require.NoError(t, h.ctrl.AdvanceQuestion(ctx, code, "A"))
	_, err = h.ctrl.SubmitAnswer(ctx, code, "B", "q1", domain.TextAnswer("Paris"))
	require.ErrorIs(t, err, domain.ErrStaleQuestion, "previous question")

	require.NoError(t, h.ctrl.EndSession(ctx, code, "A"))
	_, err = h.ctrl.SubmitAnswer(ctx, code, "B", "q2", domain.BoolAnswer(true))
	require.ErrorIs(t, err, domain.ErrStaleQuestion, "finished session")
}

func TestInvalidAnswerValues(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.startedSession("A", "B")

	_, err := h.ctrl.SubmitAnswer(ctx, code, "A", "q1", domain.BoolAnswer(true))
	require.ErrorIs(t, err, domain.ErrInvalidAnswerValue)
	_, err = h.ctrl.SubmitAnswer(ctx, code, "A", "q1", domain.TextAnswer("Berlin"))
	require.ErrorIs(t, err, domain.ErrInvalidAnswerValue)
	_, err = h.ctrl.SubmitAnswer(ctx, code, "A", "q1", domain.TextAnswer("  "))
	require.ErrorIs(t, err, domain.ErrInvalidAnswerValue)

	// a rejected value leaves the player free to answer
	_, err = h.ctrl.SubmitAnswer(ctx, code, "A", "q1", domain.TextAnswer(" PARIS "))
	require.NoError(t, err)

	require.NoError(t, h.ctrl.AdvanceQuestion(ctx, code, "A"))
	_, err = h.ctrl.SubmitAnswer(ctx, code, "B", "q2", domain.TextAnswer("true"))
	require.ErrorIs(t, err, domain.ErrInvalidAnswerValue)
}

func TestNonMemberAnswerRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.startedSession("A", "B")

	_, err := h.ctrl.SubmitAnswer(ctx, code, "Z", "q1", domain.TextAnswer("Paris"))
	require.ErrorIs(t, err, domain.ErrPlayerNotInSession)

	_, err = h.ctrl.SubmitAnswer(ctx, "NOPE22", "A", "q1", domain.TextAnswer("Paris"))
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestJoinRules(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(cfg *app.ControllerConfig) { cfg.Settings.MaxPlayers = 2 })
	code := h.create("A", "Alice")

	_, err := h.ctrl.JoinSession(ctx, code, "A", "Alice again")
	require.ErrorIs(t, err, domain.ErrAlreadyJoined)

	_, err = h.ctrl.JoinSession(ctx, code, "B", "   ")
	require.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = h.ctrl.JoinSession(ctx, "abcxyz", "B", "Bob")
	require.NoError(t, err, "codes are case-insensitive")

	_, err = h.ctrl.JoinSession(ctx, code, "C", "Cara")
	require.ErrorIs(t, err, domain.ErrSessionFull)

	snap, err := h.ctrl.Snapshot(ctx, code)
	require.NoError(t, err)
	assert.Len(t, snap.Players, 2)

	last := h.gateway.lastBroadcast()
	assert.Equal(t, domain.EventMembershipChanged, last.Name)

	require.NoError(t, h.ctrl.StartSession(ctx, code, "A"))
	_, err = h.ctrl.JoinSession(ctx, code, "D", "Dan")
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestStartRequiresHostAndPlayers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.create("A", "Alice")

	require.ErrorIs(t, h.ctrl.StartSession(ctx, code, "A"), domain.ErrNotEnoughPlayers)

	_, err := h.ctrl.JoinSession(ctx, code, "B", "Bob")
	require.NoError(t, err)
	require.ErrorIs(t, h.ctrl.StartSession(ctx, code, "B"), domain.ErrNotHost)
	require.ErrorIs(t, h.ctrl.StartSession(ctx, code, "Z"), domain.ErrNotHost)

	require.NoError(t, h.ctrl.StartSession(ctx, code, "A"))
	require.ErrorIs(t, h.ctrl.StartSession(ctx, code, "A"), domain.ErrInvalidState)

	last := h.gateway.lastBroadcast()
	assert.Equal(t, domain.EventQuestion, last.Name)
	view := last.Payload.(domain.QuestionView)
	assert.Equal(t, "q1", view.QuestionID)
	assert.Equal(t, 1, view.Number)
	assert.Equal(t, 3, view.Total)
	assert.Equal(t, 30, view.TimeLimit)
}

func TestNonHostAdvanceLeavesIndex(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.startedSession("A", "B")
	before := h.gateway.count()

	require.ErrorIs(t, h.ctrl.AdvanceQuestion(ctx, code, "B"), domain.ErrNotHost)

	session, _ := h.store.Get(code)
	assert.Equal(t, 0, session.CurrentIndex())
	assert.Equal(t, before, h.gateway.count(), "rejected operations emit nothing")
}

func TestAdvancePastLastQuestionFinishes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.startedSession("A", "B", "C")

	// q1: B correct fast, C correct slow, A wrong
	h.clock.Advance(2 * time.Second)
	_, err := h.ctrl.SubmitAnswer(ctx, code, "B", "q1", domain.TextAnswer("Paris"))
	require.NoError(t, err)
	h.clock.Advance(10 * time.Second)
	_, err = h.ctrl.SubmitAnswer(ctx, code, "C", "q1", domain.TextAnswer("Paris"))
	require.NoError(t, err)
	_, err = h.ctrl.SubmitAnswer(ctx, code, "A", "q1", domain.TextAnswer("Rome"))
	require.NoError(t, err)

	require.NoError(t, h.ctrl.AdvanceQuestion(ctx, code, "A"))
	require.NoError(t, h.ctrl.AdvanceQuestion(ctx, code, "A"))
	require.NoError(t, h.ctrl.AdvanceQuestion(ctx, code, "A"))

	session, _ := h.store.Get(code)
	assert.Equal(t, domain.StatusFinished, session.Status())
	assert.Equal(t, 3, session.CurrentIndex())

	results, err := h.ctrl.Results(ctx, code)
	require.NoError(t, err)
	require.Len(t, results.RankedPlayers, 3)
	assert.Equal(t, "B", results.RankedPlayers[0].PlayerID)
	assert.Equal(t, 156, results.RankedPlayers[0].Score)
	assert.Equal(t, "C", results.RankedPlayers[1].PlayerID)
	assert.Equal(t, 136, results.RankedPlayers[1].Score)
	assert.Equal(t, "A", results.RankedPlayers[2].PlayerID)
	assert.Equal(t, 3, results.RankedPlayers[2].Rank)
	require.Len(t, results.PerQuestionBreakdown, 3)
	assert.Len(t, results.PerQuestionBreakdown[2].Answers, 3)

	last := h.gateway.lastBroadcast()
	assert.Equal(t, domain.EventResults, last.Name)

	recorded, ok := h.results.Get(code)
	require.True(t, ok, "results persisted")
	assert.Equal(t, results.RankedPlayers, recorded.RankedPlayers)

	require.ErrorIs(t, h.ctrl.AdvanceQuestion(ctx, code, "A"), domain.ErrInvalidState)
}

func TestRankingTiesKeepJoinOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.startedSession("A", "B", "C")

	_, err := h.ctrl.SubmitAnswer(ctx, code, "C", "q1", domain.TextAnswer("Paris"))
	require.NoError(t, err)
	require.NoError(t, h.ctrl.EndSession(ctx, code, "A"))

	results, err := h.ctrl.Results(ctx, code)
	require.NoError(t, err)
	ids := []string{}
	for _, p := range results.RankedPlayers {
		ids = append(ids, p.PlayerID)
	}
	assert.Equal(t, []string{"C", "A", "B"}, ids)
	assert.Equal(t, []int{1, 2, 3}, []int{results.RankedPlayers[0].Rank, results.RankedPlayers[1].Rank, results.RankedPlayers[2].Rank})

	again, err := h.ctrl.Results(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, results, again)
}

func TestEndSessionKeepsIndex(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.startedSession("A", "B")

	require.NoError(t, h.ctrl.AdvanceQuestion(ctx, code, "A"))
	require.ErrorIs(t, h.ctrl.EndSession(ctx, code, "B"), domain.ErrNotHost)
	require.NoError(t, h.ctrl.EndSession(ctx, code, "A"))

	session, _ := h.store.Get(code)
	assert.Equal(t, domain.StatusFinished, session.Status())
	assert.Equal(t, 1, session.CurrentIndex())
	assert.Len(t, session.Answers(1), 2, "open question closed with null records")

	require.ErrorIs(t, h.ctrl.EndSession(ctx, code, "A"), domain.ErrInvalidState)
}

func TestResultsBeforeFinish(t *testing.T) {
	h := newHarness(t)
	code := h.startedSession("A", "B")

	_, err := h.ctrl.Results(context.Background(), code)
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestExpireQuestionClosesWindow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.startedSession("A", "B")

	_, err := h.ctrl.SubmitAnswer(ctx, code, "A", "q1", domain.TextAnswer("Paris"))
	require.NoError(t, err)

	require.NoError(t, h.ctrl.ExpireQuestion(ctx, code, 0))
	names := h.gateway.broadcastNames()
	assert.Equal(t, []string{domain.EventTimeUp, domain.EventProgress}, names[len(names)-2:])

	_, err = h.ctrl.SubmitAnswer(ctx, code, "B", "q1", domain.TextAnswer("Paris"))
	require.ErrorIs(t, err, domain.ErrStaleQuestion)

	session, _ := h.store.Get(code)
	answers := session.Answers(0)
	require.Len(t, answers, 2)
	assert.True(t, answers[1].Expired)

	// a second expiry and an expiry of another index are no-ops
	before := h.gateway.count()
	require.NoError(t, h.ctrl.ExpireQuestion(ctx, code, 0))
	require.NoError(t, h.ctrl.ExpireQuestion(ctx, code, 2))
	assert.Equal(t, before, h.gateway.count())

	require.NoError(t, h.ctrl.AdvanceQuestion(ctx, code, "A"))
	assert.Len(t, session.Answers(0), 2, "advance does not re-close an expired window")
}

func TestLateAnswerAfterExpiryIsStale(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.startedSession("A", "B", "C")

	_, err := h.ctrl.SubmitAnswer(ctx, code, "A", "q1", domain.TextAnswer("Paris"))
	require.NoError(t, err)
	require.NoError(t, h.ctrl.ExpireQuestion(ctx, code, 0))

	for _, id := range []string{"A", "B", "C"} {
		_, err := h.ctrl.SubmitAnswer(ctx, code, id, "q1", domain.TextAnswer("Paris"))
		require.ErrorIs(t, err, domain.ErrStaleQuestion, id)
		assert.Equal(t, domain.KindStaleQuestion, domain.KindOf(err), id)
	}

	session, _ := h.store.Get(code)
	assert.Len(t, session.Answers(0), 3)
}

func TestQuestionTimerFires(t *testing.T) {
	ctx := context.Background()
	gateway := &recordingGateway{}
	store := memory.NewSessionStore()
	settings := domain.DefaultSettings()
	settings.QuestionTimeLimit = 50 * time.Millisecond
	ctrl := app.NewController(store, memory.NewQuestionRepository(memory.NewStaticQuestionLoader(testQuestions()), time.Minute), gateway, nil, app.ControllerConfig{Settings: settings})
	t.Cleanup(ctrl.Close)

	snap, err := ctrl.CreateSession(ctx, app.CreateSessionRequest{HostID: "A", DisplayName: "Alice"})
	require.NoError(t, err)
	_, err = ctrl.JoinSession(ctx, snap.Code, "B", "Bob")
	require.NoError(t, err)
	require.NoError(t, ctrl.StartSession(ctx, snap.Code, "A"))

	require.Eventually(t, func() bool {
		for _, name := range gateway.broadcastNames() {
			if name == domain.EventTimeUp {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	_, err = ctrl.SubmitAnswer(ctx, snap.Code, "B", "q1", domain.TextAnswer("Paris"))
	require.ErrorIs(t, err, domain.ErrStaleQuestion)
}

func TestHostPromotedBetweenQuestions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.startedSession("A", "B", "C")

	require.NoError(t, h.ctrl.LeaveSession(ctx, code, "A"))
	snap, _ := h.ctrl.Snapshot(ctx, code)
	assert.Equal(t, "A", snap.HostID, "host is kept while the question is open")
	assert.False(t, snap.Players[0].Connected)

	require.NoError(t, h.ctrl.ExpireQuestion(ctx, code, 0))
	snap, _ = h.ctrl.Snapshot(ctx, code)
	assert.Equal(t, "B", snap.HostID)
	assert.True(t, snap.Players[1].IsHost)
	assert.False(t, snap.Players[0].IsHost)

	last := h.gateway.lastBroadcast()
	assert.Equal(t, domain.EventMembershipChanged, last.Name)

	require.NoError(t, h.ctrl.AdvanceQuestion(ctx, code, "B"))
	require.ErrorIs(t, h.ctrl.AdvanceQuestion(ctx, code, "A"), domain.ErrNotHost)
}

func TestLeaveInLobby(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.create("A", "Alice")
	_, err := h.ctrl.JoinSession(ctx, code, "B", "Bob")
	require.NoError(t, err)

	require.NoError(t, h.ctrl.LeaveSession(ctx, code, "A"))
	snap, err := h.ctrl.Snapshot(ctx, code)
	require.NoError(t, err)
	require.Len(t, snap.Players, 1)
	assert.Equal(t, "B", snap.HostID)
	assert.True(t, snap.Players[0].IsHost)

	require.NoError(t, h.ctrl.LeaveSession(ctx, code, "B"))
	_, err = h.ctrl.Snapshot(ctx, code)
	require.ErrorIs(t, err, domain.ErrSessionNotFound, "empty lobby is evicted")

	require.ErrorIs(t, h.ctrl.LeaveSession(ctx, code, "B"), domain.ErrSessionNotFound)
}

func TestResyncReconnectsPlayer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.startedSession("A", "B")

	_, err := h.ctrl.SubmitAnswer(ctx, code, "B", "q1", domain.TextAnswer("Paris"))
	require.NoError(t, err)
	require.NoError(t, h.ctrl.LeaveSession(ctx, code, "B"))

	state, err := h.ctrl.Resync(ctx, code, "B")
	require.NoError(t, err)
	assert.True(t, state.Answered)
	assert.Equal(t, 160, state.Score)
	require.NotNil(t, state.Question)
	assert.Equal(t, "q1", state.Question.QuestionID)
	assert.True(t, state.Players[1].Connected)

	direct := h.gateway.directTo("B")
	assert.Equal(t, domain.EventSync, direct[len(direct)-1].Name)
	assert.Equal(t, domain.EventMembershipChanged, h.gateway.lastBroadcast().Name)

	_, err = h.ctrl.Resync(ctx, code, "Z")
	require.ErrorIs(t, err, domain.ErrPlayerNotInSession)
}

func TestSnapshotHidesCorrectAnswer(t *testing.T) {
	h := newHarness(t)
	code := h.startedSession("A", "B")

	snap, err := h.ctrl.Snapshot(context.Background(), code)
	require.NoError(t, err)
	require.NotNil(t, snap.Question)
	assert.Equal(t, []string{"Paris", "Rome"}, snap.Question.Choices)
	assert.Equal(t, domain.StatusInProgress, snap.Status)
}

func TestSeqIncreasesPerChange(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.startedSession("A", "B")
	_, err := h.ctrl.SubmitAnswer(ctx, code, "A", "q1", domain.TextAnswer("Paris"))
	require.NoError(t, err)
	require.NoError(t, h.ctrl.AdvanceQuestion(ctx, code, "A"))

	var last uint64
	for _, e := range h.gateway.broadcasts() {
		require.GreaterOrEqual(t, e.Seq, last)
		last = e.Seq
	}
	snap, _ := h.ctrl.Snapshot(ctx, code)
	assert.Equal(t, last, snap.Seq)
}

func TestCreateSessionValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.ctrl.CreateSession(ctx, app.CreateSessionRequest{HostID: "A"})
	require.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = h.ctrl.CreateSession(ctx, app.CreateSessionRequest{HostID: "A", DisplayName: "Alice", Filter: domain.QuestionFilter{Category: "none"}})
	require.ErrorIs(t, err, domain.ErrQuestionsUnavailable)

	snap, err := h.ctrl.CreateSession(ctx, app.CreateSessionRequest{HostID: "A", DisplayName: "Alice", Filter: domain.QuestionFilter{Limit: 2}})
	require.NoError(t, err)
	assert.Equal(t, 2, snap.TotalQuestions)
	assert.Equal(t, domain.StatusWaiting, snap.Status)
	assert.Equal(t, "A", snap.HostID)
}

func TestConcurrentSubmitsRecordOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.startedSession("A", "B")

	const workers = 32
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.ctrl.SubmitAnswer(ctx, code, "B", "q1", domain.TextAnswer("Paris"))
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, err := range errs {
		if err == nil {
			accepted++
			continue
		}
		require.ErrorIs(t, err, domain.ErrDuplicateAnswer)
	}
	assert.Equal(t, 1, accepted)

	session, _ := h.store.Get(code)
	require.Len(t, session.Answers(0), 1)
	snap, err := h.ctrl.Snapshot(ctx, code)
	require.NoError(t, err)
	for _, p := range snap.Players {
		if p.ID == "B" {
			assert.Equal(t, 160, p.Score, "scored once")
		}
	}
}

func TestLeaveDuringAdvanceKeepsOneHost(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		h := newHarness(t)
		code := h.startedSession("A", "B", "C")

		var wg sync.WaitGroup
		var advanceErr, leaveErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			advanceErr = h.ctrl.AdvanceQuestion(ctx, code, "A")
		}()
		go func() {
			defer wg.Done()
			leaveErr = h.ctrl.LeaveSession(ctx, code, "A")
		}()
		wg.Wait()
		require.NoError(t, leaveErr)
		// a disconnected host keeps host status until the window closes, so advance always lands
		require.NoError(t, advanceErr)

		snap, err := h.ctrl.Snapshot(ctx, code)
		require.NoError(t, err)
		require.Len(t, snap.Players, 3)
		hosts := 0
		for _, p := range snap.Players {
			if p.IsHost {
				hosts++
				assert.Equal(t, snap.HostID, p.ID)
			}
		}
		assert.Equal(t, 1, hosts)

		assert.Equal(t, 1, snap.CurrentIndex)
		session, _ := h.store.Get(code)
		require.Len(t, session.Answers(0), 3, "every player closed out once")
		for _, p := range snap.Players {
			assert.Equal(t, p.ID != "A", p.Connected, p.ID)
		}
	}
}

func TestJoinRacingLastLeave(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		h := newHarness(t)
		code := h.create("A", "Alice")

		var wg sync.WaitGroup
		var joinErr, leaveErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, joinErr = h.ctrl.JoinSession(ctx, code, "B", "Bob")
		}()
		go func() {
			defer wg.Done()
			leaveErr = h.ctrl.LeaveSession(ctx, code, "A")
		}()
		wg.Wait()
		require.NoError(t, leaveErr)

		session, ok := h.store.Get(code)
		if joinErr != nil {
			require.ErrorIs(t, joinErr, domain.ErrSessionNotFound)
			assert.False(t, ok, "emptied session must be gone")
			continue
		}
		require.True(t, ok, "joined session must survive")
		snap := session.Snapshot()
		require.Len(t, snap.Players, 1)
		assert.Equal(t, "B", snap.HostID)
		assert.True(t, snap.Players[0].IsHost)
	}
}

func TestEmptiedSessionRefusesJoin(t *testing.T) {
	h := newHarness(t)
	code := h.create("A", "Alice")
	session, ok := h.store.Get(code)
	require.True(t, ok)

	res, err := session.Leave("A")
	require.NoError(t, err)
	require.True(t, res.Empty)

	_, err = session.Join("B", "Bob")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = session.Resync("A")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.True(t, session.IsEmpty())
	assert.True(t, h.store.RemoveIfEmpty(code))
}

func TestReapedSessionRefusesJoin(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.create("A", "Alice")
	session, _ := h.store.Get(code)

	h.clock.Advance(11 * time.Minute)
	require.Equal(t, []string{code}, h.ctrl.Reap())

	_, err := session.Join("B", "Bob")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = h.ctrl.JoinSession(ctx, code, "B", "Bob")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestNonMemberCannotUseHostActions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.startedSession("A", "B")

	require.ErrorIs(t, h.ctrl.AdvanceQuestion(ctx, code, "Z"), domain.ErrNotHost)
	require.ErrorIs(t, h.ctrl.EndSession(ctx, code, "Z"), domain.ErrNotHost)
	session, _ := h.store.Get(code)
	assert.Equal(t, 0, session.CurrentIndex())
}

func TestCreateSessionUsesDefaultFilter(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(cfg *app.ControllerConfig) {
		cfg.DefaultFilter = domain.QuestionFilter{Category: "technology"}
	})

	code := h.create("A", "Alice")
	_, err := h.ctrl.JoinSession(ctx, code, "B", "Bob")
	require.NoError(t, err)
	require.NoError(t, h.ctrl.StartSession(ctx, code, "A"))

	snap, err := h.ctrl.Snapshot(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.TotalQuestions)
	require.NotNil(t, snap.Question)
	assert.Equal(t, "q2", snap.Question.QuestionID)

	h.store.Remove(code)
	snap, err = h.ctrl.CreateSession(ctx, app.CreateSessionRequest{
		HostID:      "A",
		DisplayName: "Alice",
		Filter:      domain.QuestionFilter{Category: "math"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, snap.TotalQuestions, "request category wins over the default")
}

func TestReapEvictsFinishedSessions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.startedSession("A", "B")
	require.NoError(t, h.ctrl.EndSession(ctx, code, "A"))

	assert.Empty(t, h.ctrl.Reap())
	h.clock.Advance(11 * time.Minute)
	assert.Equal(t, []string{code}, h.ctrl.Reap())

	_, err := h.ctrl.Snapshot(ctx, code)
	require.ErrorIs(t, err, domain.ErrSessionNotFound)

	results, err := h.ctrl.Results(ctx, code)
	require.NoError(t, err, "evicted results are read back from the recorder")
	assert.Equal(t, code, results.Code)

	_, err = h.ctrl.Results(ctx, "NOPE22")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

type harness struct {
	t       *testing.T
	ctrl    *app.Controller
	store   *memory.SessionStore
	gateway *recordingGateway
	results *memory.ResultsStore
	clock   *fakeClock
}

func newHarness(t *testing.T, opts ...func(*app.ControllerConfig)) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.NewSessionStoreWithGenerator(func() (string, error) { return "ABCXYZ", nil }, clock.Now)
	gateway := &recordingGateway{}
	results := memory.NewResultsStore()
	cfg := app.ControllerConfig{
		Settings:      domain.DefaultSettings(),
		DisableTimers: true,
		Now:           clock.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	questions := memory.NewQuestionRepository(memory.NewStaticQuestionLoader(testQuestions()), time.Minute)
	ctrl := app.NewController(store, questions, gateway, results, cfg)
	t.Cleanup(ctrl.Close)
	return &harness{t: t, ctrl: ctrl, store: store, gateway: gateway, results: results, clock: clock}
}

func (h *harness) create(hostID, name string) string {
	h.t.Helper()
	snap, err := h.ctrl.CreateSession(context.Background(), app.CreateSessionRequest{HostID: hostID, DisplayName: name})
	require.NoError(h.t, err)
	return snap.Code
}

// startedSession creates a session hosted by the first id, joins the rest and starts it.
func (h *harness) startedSession(ids ...string) string {
	h.t.Helper()
	code := h.create(ids[0], "Player "+ids[0])
	for _, id := range ids[1:] {
		_, err := h.ctrl.JoinSession(context.Background(), code, id, "Player "+id)
		require.NoError(h.t, err)
	}
	require.NoError(h.t, h.ctrl.StartSession(context.Background(), code, ids[0]))
	return code
}

func testQuestions() []domain.Question {
	return []domain.Question{
		{
			ID:            "q1",
			Type:          domain.QuestionMultipleChoice,
			Prompt:        "Capital of France?",
			Choices:       []string{"Paris", "Rome"},
			CorrectAnswer: domain.TextAnswer("Paris"),
			Category:      "geography",
		},
		{
			ID:            "q2",
			Type:          domain.QuestionTrueFalse,
			Prompt:        "Go has goroutines.",
			CorrectAnswer: domain.BoolAnswer(true),
			Category:      "technology",
		},
		{
			ID:            "q3",
			Type:          domain.QuestionMultipleChoice,
			Prompt:        "2 + 2?",
			Choices:       []string{"3", "4", "5"},
			CorrectAnswer: domain.TextAnswer("4"),
			Category:      "math",
		},
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type delivery struct {
	code     string
	playerID string
	event    app.Event
}

type recordingGateway struct {
	mu     sync.Mutex
	events []delivery
}

func (g *recordingGateway) BroadcastToSession(code string, event app.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, delivery{code: code, event: event})
}

func (g *recordingGateway) SendToPlayer(code, playerID string, event app.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, delivery{code: code, playerID: playerID, event: event})
}

func (g *recordingGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.events)
}

func (g *recordingGateway) broadcasts() []app.Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []app.Event
	for _, d := range g.events {
		if d.playerID == "" {
			out = append(out, d.event)
		}
	}
	return out
}

func (g *recordingGateway) broadcastNames() []string {
	var names []string
	for _, e := range g.broadcasts() {
		names = append(names, e.Name)
	}
	return names
}

func (g *recordingGateway) lastBroadcast() app.Event {
	all := g.broadcasts()
	if len(all) == 0 {
		return app.Event{}
	}
	return all[len(all)-1]
}

func (g *recordingGateway) directTo(playerID string) []app.Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []app.Event
	for _, d := range g.events {
		if d.playerID == playerID {
			out = append(out, d.event)
		}
	}
	return out
}

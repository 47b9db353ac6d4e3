package app

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"trivia-session-service/internal/domain"
)

const maxDisplayNameLength = 32

// Session is one quiz run. All state lives behind mu; every exported method is one
// serialized step of the state machine and mutates only after its guards pass.
type Session struct {
	code      string
	settings  domain.Settings
	questions []domain.Question
	now       func() time.Time
	createdAt time.Time

	mu                sync.Mutex
	status            domain.Status
	players           map[string]*domain.Player
	order             []string // join order, the ranking tie-break
	hostID            string
	currentIndex      int
	questionStartedAt time.Time
	windowClosed      bool
	ledger            [][]domain.AnswerRecord // per question index, arrival order
	answered          map[answerKey]struct{}
	seq               uint64
	startedAt         time.Time
	finishedAt        time.Time
	lastActive        time.Time
	results           *domain.Results
	closed            bool // emptied or evicted; no one may join or reconnect
}

type answerKey struct {
	playerID   string
	questionID string
}

// NewSession is exported for registries that build sessions.
func NewSession(code string, questions []domain.Question, host domain.Player, settings domain.Settings) *Session {
	return NewSessionWithClock(code, questions, host, settings, time.Now)
}

// NewSessionWithClock allows deterministic timestamps in tests.
func NewSessionWithClock(code string, questions []domain.Question, host domain.Player, settings domain.Settings, now func() time.Time) *Session {
	if now == nil {
		now = time.Now
	}
	created := now()
	seqCopy := make([]domain.Question, len(questions))
	copy(seqCopy, questions)

	s := &Session{
		code:       code,
		settings:   settings,
		questions:  seqCopy,
		now:        now,
		createdAt:  created,
		status:     domain.StatusWaiting,
		players:    make(map[string]*domain.Player),
		ledger:     make([][]domain.AnswerRecord, len(seqCopy)),
		answered:   make(map[answerKey]struct{}),
		lastActive: created,
	}
	s.addPlayerLocked(host.ID, host.DisplayName, created)
	s.hostID = host.ID
	s.players[host.ID].IsHost = true
	return s
}

// Code returns the session code.
func (s *Session) Code() string {
	return s.code
}

// Status returns the current lifecycle state.
func (s *Session) Status() domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// IsEmpty reports whether the session has no players.
func (s *Session) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.players) == 0
}

// CurrentIndex returns the question cursor.
func (s *Session) CurrentIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentIndex
}

// JoinResult is the outcome of a successful join.
type JoinResult struct {
	Seq        uint64
	Membership domain.MembershipEvent
}

// Join adds a non-host player to the lobby.
func (s *Session) Join(playerID, displayName string) (JoinResult, error) {
	name, err := normalizeDisplayName(displayName)
	if err != nil {
		return JoinResult{}, err
	}
	if playerID == "" {
		return JoinResult{}, domain.NewError(domain.KindInvalidRequest, "player id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return JoinResult{}, domain.ErrSessionNotFound
	}
	if s.status != domain.StatusWaiting {
		return JoinResult{}, domain.NewError(domain.KindInvalidState, "session has already started")
	}
	if _, ok := s.players[playerID]; ok {
		return JoinResult{}, domain.ErrAlreadyJoined
	}
	if s.settings.MaxPlayers > 0 && len(s.players) >= s.settings.MaxPlayers {
		return JoinResult{}, domain.ErrSessionFull
	}

	s.addPlayerLocked(playerID, name, s.now())
	if s.hostID == "" {
		s.hostID = playerID
		s.players[playerID].IsHost = true
	}
	return JoinResult{Seq: s.commitLocked(), Membership: s.membershipLocked()}, nil
}

// LeaveResult is the outcome of a leave or disconnect.
type LeaveResult struct {
	Seq        uint64
	Membership domain.MembershipEvent
	Removed    bool // removed outright rather than marked disconnected
	Empty      bool // no players remain; the session should be evicted
}

// Leave removes the player from a lobby, or marks them disconnected once the game has started.
func (s *Session) Leave(playerID string) (LeaveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	player, ok := s.players[playerID]
	if !ok {
		return LeaveResult{}, domain.ErrPlayerNotInSession
	}

	if s.status != domain.StatusWaiting {
		player.Connected = false
		return LeaveResult{Seq: s.commitLocked(), Membership: s.membershipLocked()}, nil
	}

	delete(s.players, playerID)
	for i, id := range s.order {
		if id == playerID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.hostID == playerID {
		s.hostID = ""
		if len(s.order) > 0 {
			s.hostID = s.order[0]
			s.players[s.hostID].IsHost = true
		}
	}

	if len(s.players) == 0 {
		s.closed = true
	}
	return LeaveResult{
		Seq:        s.commitLocked(),
		Membership: s.membershipLocked(),
		Removed:    true,
		Empty:      s.closed,
	}, nil
}

// QuestionResult announces the question that just became current.
type QuestionResult struct {
	Seq       uint64
	Index     int
	Question  domain.QuestionView
	TimeLimit time.Duration
}

// Start moves the lobby into play on the first question.
func (s *Session) Start(requesterID string) (QuestionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireHostLocked(requesterID); err != nil {
		return QuestionResult{}, err
	}
	if s.status != domain.StatusWaiting {
		return QuestionResult{}, domain.NewError(domain.KindInvalidState, "session has already started")
	}
	if len(s.players) < s.settings.MinPlayers {
		return QuestionResult{}, domain.ErrNotEnoughPlayers
	}
	if len(s.questions) == 0 {
		return QuestionResult{}, domain.ErrQuestionsUnavailable
	}

	now := s.now()
	s.status = domain.StatusInProgress
	s.startedAt = now
	s.openQuestionLocked(0, now)

	return s.questionResultLocked(s.commitLocked()), nil
}

// SubmitResult is the outcome of an accepted answer.
type SubmitResult struct {
	Seq      uint64
	Record   domain.AnswerRecord
	Ack      domain.AnswerResultEvent
	Progress domain.ProgressEvent
}

// SubmitAnswer records the player's answer to the current question and scores it.
func (s *Session) SubmitAnswer(playerID, questionID string, value domain.AnswerValue, now time.Time) (SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != domain.StatusInProgress {
		return SubmitResult{}, domain.ErrStaleQuestion
	}
	player, ok := s.players[playerID]
	if !ok {
		return SubmitResult{}, domain.ErrPlayerNotInSession
	}

	q := s.questions[s.currentIndex]
	if questionID != q.ID {
		return SubmitResult{}, domain.ErrStaleQuestion
	}
	limit := questionTimeLimit(q, s.settings)
	if s.windowClosed || now.Sub(s.questionStartedAt) > limit {
		return SubmitResult{}, domain.ErrStaleQuestion
	}
	key := answerKey{playerID: playerID, questionID: questionID}
	if _, dup := s.answered[key]; dup {
		return SubmitResult{}, domain.ErrDuplicateAnswer
	}

	correct, err := checkAnswer(q, value)
	if err != nil {
		return SubmitResult{}, err
	}

	spent := timeSpentSeconds(s.questionStartedAt, now, limit)
	points := AwardPoints(s.settings, limit, spent, correct)
	record := domain.AnswerRecord{
		PlayerID:         playerID,
		QuestionID:       questionID,
		Value:            value,
		IsCorrect:        correct,
		TimeSpentSeconds: spent,
		Points:           points,
		SubmittedAt:      now,
	}
	s.appendRecordLocked(record)
	player.Score += points

	return SubmitResult{
		Seq:    s.commitLocked(),
		Record: record,
		Ack: domain.AnswerResultEvent{
			QuestionID:    q.ID,
			IsCorrect:     correct,
			CorrectAnswer: q.CorrectAnswer,
			Explanation:   q.Explanation,
			Awarded:       points,
			TotalScore:    player.Score,
		},
		Progress: s.progressLocked(),
	}, nil
}

// TransitionResult is the outcome of advance, end, or question expiry.
type TransitionResult struct {
	Seq      uint64
	Finished bool
	Next     *QuestionResult // set when a new question became current
	Results  *domain.Results // set when the session just finished
	// Membership is set when host status moved to another player.
	Membership *domain.MembershipEvent
}

// Advance closes the current question and moves to the next one, or finishes the session.
func (s *Session) Advance(requesterID string) (TransitionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireHostLocked(requesterID); err != nil {
		return TransitionResult{}, err
	}
	if s.status != domain.StatusInProgress {
		return TransitionResult{}, domain.NewError(domain.KindInvalidState, "session is not in progress")
	}

	now := s.now()
	promoted := s.closeWindowLocked(now)

	var res TransitionResult
	if s.currentIndex+1 == len(s.questions) {
		s.currentIndex++
		res.Results = s.finishLocked(now)
		res.Finished = true
	} else {
		s.openQuestionLocked(s.currentIndex+1, now)
	}

	res.Seq = s.commitLocked()
	if !res.Finished {
		next := s.questionResultLocked(res.Seq)
		res.Next = &next
	}
	if promoted {
		m := s.membershipLocked()
		res.Membership = &m
	}
	return res, nil
}

// End finishes the session early on the host's request.
func (s *Session) End(requesterID string) (TransitionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireHostLocked(requesterID); err != nil {
		return TransitionResult{}, err
	}
	if s.status == domain.StatusFinished {
		return TransitionResult{}, domain.NewError(domain.KindInvalidState, "session already finished")
	}

	now := s.now()
	if s.status == domain.StatusInProgress {
		s.closeWindowLocked(now)
	}
	results := s.finishLocked(now)
	return TransitionResult{Seq: s.commitLocked(), Finished: true, Results: results}, nil
}

// ExpireResult is the outcome of a question timer firing.
type ExpireResult struct {
	Seq        uint64
	Closed     bool // false when the question was no longer open
	TimeUp     domain.TimeUpEvent
	Progress   domain.ProgressEvent
	Membership *domain.MembershipEvent
}

// ExpireQuestion closes the answer window of question index if it is still the open one.
// Players without an answer get a null, non-scoring record.
func (s *Session) ExpireQuestion(index int) (ExpireResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != domain.StatusInProgress || s.currentIndex != index || s.windowClosed {
		return ExpireResult{}, nil
	}

	promoted := s.closeWindowLocked(s.now())
	res := ExpireResult{
		Seq:      s.commitLocked(),
		Closed:   true,
		TimeUp:   domain.TimeUpEvent{QuestionID: s.questions[index].ID},
		Progress: s.progressLocked(),
	}
	if promoted {
		m := s.membershipLocked()
		res.Membership = &m
	}
	return res, nil
}

// ResyncResult is the private state sent back to a reconnecting player.
type ResyncResult struct {
	Seq  uint64
	Sync domain.SyncEvent
	// Membership is set when the player was marked connected again.
	Membership *domain.MembershipEvent
}

// Resync marks the player connected and returns their view of the session.
func (s *Session) Resync(playerID string) (ResyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ResyncResult{}, domain.ErrSessionNotFound
	}
	player, ok := s.players[playerID]
	if !ok {
		return ResyncResult{}, domain.ErrPlayerNotInSession
	}

	var res ResyncResult
	if !player.Connected {
		player.Connected = true
		s.commitLocked()
		m := s.membershipLocked()
		res.Membership = &m
	}
	res.Seq = s.seq

	answered := false
	if s.status == domain.StatusInProgress {
		_, answered = s.answered[answerKey{playerID: playerID, questionID: s.questions[s.currentIndex].ID}]
	}
	res.Sync = domain.SyncEvent{
		SessionSnapshot: s.snapshotLocked(),
		Score:           player.Score,
		Answered:        answered,
	}
	return res, nil
}

// Snapshot returns a sanitized view of the session.
func (s *Session) Snapshot() domain.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Results returns the final results once the session has finished.
func (s *Session) Results() (domain.Results, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.results == nil {
		return domain.Results{}, domain.NewError(domain.KindInvalidState, "session has not finished")
	}
	return *s.results, nil
}

// Answers returns a copy of the answer records for question index.
func (s *Session) Answers(index int) []domain.AnswerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.ledger) {
		return nil
	}
	out := make([]domain.AnswerRecord, len(s.ledger[index]))
	copy(out, s.ledger[index])
	return out
}

// Retire closes the session if the registry may drop it and reports whether it did. Once
// closed, Join and Resync fail with SessionNotFound.
func (s *Session) Retire(now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.evictableLocked(now, ttl) {
		s.closed = true
		return true
	}
	return false
}

// evictableLocked: empty, finished more than ttl ago, a lobby idle for ttl, or a running game
// whose players have all been disconnected with no activity for ttl.
func (s *Session) evictableLocked(now time.Time, ttl time.Duration) bool {
	if len(s.players) == 0 {
		return true
	}
	idle := now.Sub(s.lastActive) > ttl
	switch s.status {
	case domain.StatusFinished:
		return now.Sub(s.finishedAt) > ttl
	case domain.StatusWaiting:
		return idle
	}
	for _, p := range s.players {
		if p.Connected {
			return false
		}
	}
	return idle
}

func (s *Session) addPlayerLocked(id, name string, now time.Time) {
	s.players[id] = &domain.Player{
		ID:          id,
		DisplayName: name,
		Connected:   true,
		JoinedAt:    now,
	}
	s.order = append(s.order, id)
}

func (s *Session) requireHostLocked(requesterID string) error {
	if requesterID == "" || requesterID != s.hostID {
		return domain.ErrNotHost
	}
	return nil
}

func (s *Session) openQuestionLocked(index int, now time.Time) {
	s.currentIndex = index
	s.questionStartedAt = now
	s.windowClosed = false
}

// closeWindowLocked records null answers for players who did not answer the current question,
// then hands host status on if the host is gone. It reports whether the host changed.
func (s *Session) closeWindowLocked(now time.Time) bool {
	if s.windowClosed || s.currentIndex >= len(s.questions) {
		return false
	}
	q := s.questions[s.currentIndex]
	limit := questionTimeLimit(q, s.settings)
	for _, id := range s.order {
		if _, ok := s.answered[answerKey{playerID: id, questionID: q.ID}]; ok {
			continue
		}
		s.appendRecordLocked(domain.AnswerRecord{
			PlayerID:         id,
			QuestionID:       q.ID,
			TimeSpentSeconds: timeSpentSeconds(s.questionStartedAt, now, limit),
			Expired:          true,
			SubmittedAt:      now,
		})
	}
	s.windowClosed = true
	return s.promoteHostLocked()
}

// promoteHostLocked passes host status to the earliest-joined connected player when the
// host has disconnected. Only called between questions, never while a window is open.
func (s *Session) promoteHostLocked() bool {
	host, ok := s.players[s.hostID]
	if ok && host.Connected {
		return false
	}
	for _, id := range s.order {
		p := s.players[id]
		if id == s.hostID || !p.Connected {
			continue
		}
		if ok {
			host.IsHost = false
		}
		p.IsHost = true
		s.hostID = id
		return true
	}
	return false
}

func (s *Session) appendRecordLocked(record domain.AnswerRecord) {
	s.ledger[s.currentIndex] = append(s.ledger[s.currentIndex], record)
	s.answered[answerKey{playerID: record.PlayerID, questionID: record.QuestionID}] = struct{}{}
}

func (s *Session) finishLocked(now time.Time) *domain.Results {
	s.status = domain.StatusFinished
	s.finishedAt = now
	s.windowClosed = true
	s.results = s.buildResultsLocked()
	results := *s.results
	return &results
}

func (s *Session) commitLocked() uint64 {
	s.seq++
	s.lastActive = s.now()
	return s.seq
}

func (s *Session) questionResultLocked(seq uint64) QuestionResult {
	q := s.questions[s.currentIndex]
	return QuestionResult{
		Seq:       seq,
		Index:     s.currentIndex,
		Question:  s.questionViewLocked(),
		TimeLimit: questionTimeLimit(q, s.settings),
	}
}

func (s *Session) questionViewLocked() domain.QuestionView {
	q := s.questions[s.currentIndex]
	view := domain.QuestionView{
		QuestionID: q.ID,
		Type:       q.Type,
		Prompt:     q.Prompt,
		Number:     s.currentIndex + 1,
		Total:      len(s.questions),
		TimeLimit:  int(questionTimeLimit(q, s.settings).Seconds()),
	}
	if q.Type == domain.QuestionMultipleChoice {
		view.Choices = append([]string(nil), q.Choices...)
	}
	return view
}

func (s *Session) progressLocked() domain.ProgressEvent {
	q := s.questions[s.currentIndex]
	answered := 0
	for _, r := range s.ledger[s.currentIndex] {
		if !r.Expired {
			answered++
		}
	}
	return domain.ProgressEvent{QuestionID: q.ID, Answered: answered, Total: len(s.players)}
}

func (s *Session) playersLocked() []domain.Player {
	out := make([]domain.Player, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.players[id])
	}
	return out
}

func (s *Session) membershipLocked() domain.MembershipEvent {
	return domain.MembershipEvent{HostID: s.hostID, Players: s.playersLocked()}
}

func (s *Session) snapshotLocked() domain.SessionSnapshot {
	snap := domain.SessionSnapshot{
		Code:           s.code,
		Status:         s.status,
		HostID:         s.hostID,
		Players:        s.playersLocked(),
		CurrentIndex:   s.currentIndex,
		TotalQuestions: len(s.questions),
		Settings:       s.settings,
		Seq:            s.seq,
		CreatedAt:      s.createdAt,
	}
	if s.status == domain.StatusInProgress {
		view := s.questionViewLocked()
		snap.Question = &view
	}
	return snap
}

// buildResultsLocked ranks by score descending; ties keep join order.
func (s *Session) buildResultsLocked() *domain.Results {
	correct := make(map[string]int, len(s.players))
	breakdown := make([]domain.QuestionBreakdown, len(s.questions))
	for i, q := range s.questions {
		answers := make([]domain.AnswerRecord, len(s.ledger[i]))
		copy(answers, s.ledger[i])
		for _, r := range answers {
			if r.IsCorrect {
				correct[r.PlayerID]++
			}
		}
		breakdown[i] = domain.QuestionBreakdown{
			QuestionID:    q.ID,
			Prompt:        q.Prompt,
			CorrectAnswer: q.CorrectAnswer,
			Explanation:   q.Explanation,
			Answers:       answers,
		}
	}

	ranked := make([]domain.RankedPlayer, 0, len(s.order))
	for _, id := range s.order {
		p := s.players[id]
		ranked = append(ranked, domain.RankedPlayer{
			PlayerID:     p.ID,
			DisplayName:  p.DisplayName,
			Score:        p.Score,
			CorrectCount: correct[p.ID],
			Connected:    p.Connected,
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}

	return &domain.Results{
		Code:                 s.code,
		RankedPlayers:        ranked,
		PerQuestionBreakdown: breakdown,
		StartedAt:            s.startedAt,
		FinishedAt:           s.finishedAt,
	}
}

func normalizeDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", domain.NewError(domain.KindInvalidRequest, "display name is required")
	}
	if utf8.RuneCountInString(name) > maxDisplayNameLength {
		return "", domain.NewError(domain.KindInvalidRequest, fmt.Sprintf("display name longer than %d characters", maxDisplayNameLength))
	}
	return name, nil
}

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"trivia-session-service/internal/domain"
)

// ControllerConfig tunes a Controller.
type ControllerConfig struct {
	Settings      domain.Settings
	DefaultFilter domain.QuestionFilter // fills difficulty and category left empty by a request
	QuestionCount int                   // default sequence length when a request does not set one
	FinishedTTL   time.Duration         // idle period before a finished or abandoned session is evicted
	DisableTimers bool                  // tests drive expiry through ExpireQuestion
	Now           func() time.Time
	Logger        *slog.Logger
}

// Controller contains the session use cases. It applies each operation to the session
// first and only then hands the resulting events to the broadcaster.
type Controller struct {
	registry  SessionRegistry
	questions QuestionSource
	gateway   Broadcaster
	recorder  ResultRecorder
	cfg       ControllerConfig
	log       *slog.Logger

	timersMu sync.Mutex
	timers   map[string]*time.Timer
}

// NewController wires the collaborators. recorder may be nil.
func NewController(registry SessionRegistry, questions QuestionSource, gateway Broadcaster, recorder ResultRecorder, cfg ControllerConfig) *Controller {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.QuestionCount <= 0 {
		cfg.QuestionCount = 10
	}
	if cfg.FinishedTTL <= 0 {
		cfg.FinishedTTL = 10 * time.Minute
	}
	return &Controller{
		registry:  registry,
		questions: questions,
		gateway:   gateway,
		recorder:  recorder,
		cfg:       cfg,
		log:       cfg.Logger,
		timers:    make(map[string]*time.Timer),
	}
}

// CreateSessionRequest asks for a new lobby hosted by HostID.
type CreateSessionRequest struct {
	HostID      string                `json:"hostId"`
	DisplayName string                `json:"displayName"`
	Filter      domain.QuestionFilter `json:"filter"`
}

// CreateSession loads a question sequence and registers a new WAITING session.
func (c *Controller) CreateSession(ctx context.Context, req CreateSessionRequest) (domain.SessionSnapshot, error) {
	if req.HostID == "" {
		return domain.SessionSnapshot{}, domain.NewError(domain.KindInvalidRequest, "host id is required")
	}
	name, err := normalizeDisplayName(req.DisplayName)
	if err != nil {
		return domain.SessionSnapshot{}, err
	}

	filter := req.Filter
	if filter.Difficulty == "" {
		filter.Difficulty = c.cfg.DefaultFilter.Difficulty
	}
	if filter.Category == "" {
		filter.Category = c.cfg.DefaultFilter.Category
	}
	if filter.Limit <= 0 {
		filter.Limit = c.cfg.QuestionCount
	}
	questions, err := c.questions.Questions(ctx, filter)
	if err != nil {
		if domain.KindOf(err) == domain.KindInternal {
			c.log.Error("load questions", "difficulty", filter.Difficulty, "category", filter.Category, "err", err)
			return domain.SessionSnapshot{}, fmt.Errorf("%w: %v", domain.ErrQuestionsUnavailable, err)
		}
		return domain.SessionSnapshot{}, err
	}
	if len(questions) > filter.Limit {
		questions = questions[:filter.Limit]
	}
	if err := ValidateQuestions(questions); err != nil {
		return domain.SessionSnapshot{}, err
	}

	session, err := c.registry.Create(ctx, questions, domain.Player{ID: req.HostID, DisplayName: name}, c.cfg.Settings)
	if err != nil {
		return domain.SessionSnapshot{}, err
	}
	c.log.Info("session created", "code", session.Code(), "host", req.HostID, "questions", len(questions))
	return session.Snapshot(), nil
}

// JoinSession adds a player to a waiting lobby and announces the new roster.
func (c *Controller) JoinSession(_ context.Context, code, playerID, displayName string) (domain.SessionSnapshot, error) {
	session, err := c.lookup(code)
	if err != nil {
		return domain.SessionSnapshot{}, err
	}
	res, err := session.Join(playerID, displayName)
	if err != nil {
		return domain.SessionSnapshot{}, err
	}
	c.log.Debug("player joined", "code", session.Code(), "player", playerID)
	c.broadcast(session.Code(), domain.EventMembershipChanged, res.Seq, res.Membership)
	return session.Snapshot(), nil
}

// LeaveSession removes or disconnects a player. An emptied session is evicted.
func (c *Controller) LeaveSession(_ context.Context, code, playerID string) error {
	session, err := c.lookup(code)
	if err != nil {
		return err
	}
	res, err := session.Leave(playerID)
	if err != nil {
		return err
	}
	if res.Empty {
		if c.registry.RemoveIfEmpty(session.Code()) {
			c.stopTimer(session.Code())
			c.log.Info("session evicted", "code", session.Code(), "reason", "empty")
		}
		return nil
	}
	c.log.Debug("player left", "code", session.Code(), "player", playerID, "removed", res.Removed)
	c.broadcast(session.Code(), domain.EventMembershipChanged, res.Seq, res.Membership)
	return nil
}

// StartSession moves the lobby into play and broadcasts the first question.
func (c *Controller) StartSession(_ context.Context, code, requesterID string) error {
	session, err := c.lookup(code)
	if err != nil {
		return err
	}
	res, err := session.Start(requesterID)
	if err != nil {
		return err
	}
	c.log.Info("session started", "code", session.Code())
	c.publishQuestion(session.Code(), res)
	return nil
}

// SubmitAnswer records an answer, acknowledges it privately and broadcasts progress.
func (c *Controller) SubmitAnswer(_ context.Context, code, playerID, questionID string, value domain.AnswerValue) (domain.AnswerResultEvent, error) {
	session, err := c.lookup(code)
	if err != nil {
		return domain.AnswerResultEvent{}, err
	}
	res, err := session.SubmitAnswer(playerID, questionID, value, c.cfg.Now())
	if err != nil {
		return domain.AnswerResultEvent{}, err
	}
	c.log.Debug("answer recorded", "code", session.Code(), "player", playerID, "question", questionID, "correct", res.Record.IsCorrect, "points", res.Record.Points)
	c.gateway.SendToPlayer(session.Code(), playerID, Event{Name: domain.EventAnswerResult, Seq: res.Seq, Payload: res.Ack})
	c.broadcast(session.Code(), domain.EventProgress, res.Seq, res.Progress)
	return res.Ack, nil
}

// AdvanceQuestion moves to the next question, or publishes results after the last one.
func (c *Controller) AdvanceQuestion(ctx context.Context, code, requesterID string) error {
	session, err := c.lookup(code)
	if err != nil {
		return err
	}
	res, err := session.Advance(requesterID)
	if err != nil {
		return err
	}
	c.stopTimer(session.Code())
	c.publishTransition(ctx, session.Code(), res)
	return nil
}

// EndSession finishes the session early on the host's request.
func (c *Controller) EndSession(ctx context.Context, code, requesterID string) error {
	session, err := c.lookup(code)
	if err != nil {
		return err
	}
	res, err := session.End(requesterID)
	if err != nil {
		return err
	}
	c.stopTimer(session.Code())
	c.publishTransition(ctx, session.Code(), res)
	return nil
}

// ExpireQuestion closes question index when its time limit has passed. It is what the
// question timer invokes; it is a no-op when the question is no longer open.
func (c *Controller) ExpireQuestion(_ context.Context, code string, index int) error {
	session, err := c.lookup(code)
	if err != nil {
		return err
	}
	res, err := session.ExpireQuestion(index)
	if err != nil || !res.Closed {
		return err
	}
	c.log.Debug("question expired", "code", session.Code(), "index", index)
	c.broadcast(session.Code(), domain.EventTimeUp, res.Seq, res.TimeUp)
	c.broadcast(session.Code(), domain.EventProgress, res.Seq, res.Progress)
	if res.Membership != nil {
		c.log.Info("host reassigned", "code", session.Code(), "host", res.Membership.HostID)
		c.broadcast(session.Code(), domain.EventMembershipChanged, res.Seq, *res.Membership)
	}
	return nil
}

// Resync answers an explicit state-resync request from a (re)connecting player.
func (c *Controller) Resync(_ context.Context, code, playerID string) (domain.SyncEvent, error) {
	session, err := c.lookup(code)
	if err != nil {
		return domain.SyncEvent{}, err
	}
	res, err := session.Resync(playerID)
	if err != nil {
		return domain.SyncEvent{}, err
	}
	c.gateway.SendToPlayer(session.Code(), playerID, Event{Name: domain.EventSync, Seq: res.Seq, Payload: res.Sync})
	if res.Membership != nil {
		c.broadcast(session.Code(), domain.EventMembershipChanged, res.Seq, *res.Membership)
	}
	return res.Sync, nil
}

// Snapshot returns the sanitized session state.
func (c *Controller) Snapshot(_ context.Context, code string) (domain.SessionSnapshot, error) {
	session, err := c.lookup(code)
	if err != nil {
		return domain.SessionSnapshot{}, err
	}
	return session.Snapshot(), nil
}

// Results returns the final results of a finished session. Evicted sessions are served
// from the recorder when it can read them back.
func (c *Controller) Results(ctx context.Context, code string) (domain.Results, error) {
	session, err := c.lookup(code)
	if err != nil {
		if reader, ok := c.recorder.(ResultReader); ok && errors.Is(err, domain.ErrSessionNotFound) {
			return reader.LatestResults(ctx, NormalizeCode(code))
		}
		return domain.Results{}, err
	}
	return session.Results()
}

// Reap evicts every session that is empty or idle past the finished TTL.
func (c *Controller) Reap() []string {
	now := c.cfg.Now()
	codes := c.registry.Sweep(func(s *Session) bool {
		return s.Retire(now, c.cfg.FinishedTTL)
	})
	for _, code := range codes {
		c.stopTimer(code)
		c.log.Info("session evicted", "code", code, "reason", "idle")
	}
	return codes
}

// RunReaper calls Reap every interval until ctx is done.
func (c *Controller) RunReaper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Reap()
		}
	}
}

// Close stops all pending question timers.
func (c *Controller) Close() {
	c.timersMu.Lock()
	defer c.timersMu.Unlock()
	for code, t := range c.timers {
		t.Stop()
		delete(c.timers, code)
	}
}

func (c *Controller) lookup(code string) (*Session, error) {
	session, ok := c.registry.Get(NormalizeCode(code))
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

func (c *Controller) broadcast(code, name string, seq uint64, payload any) {
	c.gateway.BroadcastToSession(code, Event{Name: name, Seq: seq, Payload: payload})
}

func (c *Controller) publishQuestion(code string, q QuestionResult) {
	c.broadcast(code, domain.EventQuestion, q.Seq, q.Question)
	c.scheduleTimer(code, q.Index, q.TimeLimit)
}

func (c *Controller) publishTransition(ctx context.Context, code string, res TransitionResult) {
	if res.Membership != nil {
		c.log.Info("host reassigned", "code", code, "host", res.Membership.HostID)
		c.broadcast(code, domain.EventMembershipChanged, res.Seq, *res.Membership)
	}
	if res.Next != nil {
		c.publishQuestion(code, *res.Next)
	}
	if res.Finished && res.Results != nil {
		c.log.Info("session finished", "code", code, "players", len(res.Results.RankedPlayers))
		c.broadcast(code, domain.EventResults, res.Seq, *res.Results)
		c.recordResults(ctx, *res.Results)
	}
}

// recordResults persists outside the session lock; a failure is logged, never surfaced,
// since the session itself already finished.
func (c *Controller) recordResults(ctx context.Context, results domain.Results) {
	if c.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.recorder.RecordResults(ctx, results); err != nil {
		c.log.Error("record results", "code", results.Code, "err", err)
	}
}

func (c *Controller) scheduleTimer(code string, index int, limit time.Duration) {
	if c.cfg.DisableTimers || limit <= 0 {
		return
	}
	c.timersMu.Lock()
	defer c.timersMu.Unlock()
	if t, ok := c.timers[code]; ok {
		t.Stop()
	}
	c.timers[code] = time.AfterFunc(limit, func() {
		err := c.ExpireQuestion(context.Background(), code, index)
		if err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
			c.log.Error("expire question", "code", code, "index", index, "err", err)
		}
	})
}

func (c *Controller) stopTimer(code string) {
	c.timersMu.Lock()
	defer c.timersMu.Unlock()
	if t, ok := c.timers[code]; ok {
		t.Stop()
		delete(c.timers, code)
	}
}

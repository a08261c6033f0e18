package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"game-session-engine/internal/model"
	"game-session-engine/internal/repository"
	"game-session-engine/internal/rng"
)

// fakeClock is a settable clock for deadline tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
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

// scriptedSource returns queued Intn values so draws land on known numbers.
type scriptedSource struct {
	mu   sync.Mutex
	vals []int
	i    int
}

func (s *scriptedSource) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.i >= len(s.vals) {
		return 0
	}
	v := s.vals[s.i]
	s.i++
	return v % n
}

func (s *scriptedSource) Shuffle(n int, swap func(i, j int)) {}

// scriptedSeeds hands the same scripted source to every draw.
type scriptedSeeds struct {
	src rng.Source
}

func (p scriptedSeeds) Next() rng.Source { return p.src }

// memSessions is an in-memory SessionStore with CAS semantics.
type memSessions struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	nextID   int
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: make(map[string]*model.Session)}
}

func (s *memSessions) Create(_ context.Context, session *model.Session) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	stored := *session
	stored.ID = fmt.Sprintf("session-%d", s.nextID)
	stored.Phase = model.PhaseLobby
	stored.CreatedAt = time.Now()
	s.sessions[stored.ID] = &stored
	copy := stored
	return &copy, nil
}

func (s *memSessions) GetByID(_ context.Context, id string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	copy := *stored
	return &copy, nil
}

func (s *memSessions) UpdatePhase(_ context.Context, id string, from, to model.SessionPhase, deadline *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[id]
	if !ok {
		return false, nil
	}
	if stored.Phase != from {
		return false, nil
	}
	stored.Phase = to
	stored.PhaseDeadline = deadline
	return true, nil
}

func (s *memSessions) SetResolved(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	stored.ResolvedAt = &at
	return nil
}

func (s *memSessions) IncrementParticipantCount(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[id]
	if !ok {
		return false, nil
	}
	if stored.ParticipantCount >= stored.MaxCapacity {
		return false, nil
	}
	stored.ParticipantCount++
	return true, nil
}

func (s *memSessions) DecrementParticipantCount(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[id]
	if !ok {
		return repository.ErrSessionNotFound
	}
	if stored.ParticipantCount > 0 {
		stored.ParticipantCount--
	}
	return nil
}

func (s *memSessions) ListOpenByScope(_ context.Context, scope string) ([]*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Session
	for _, stored := range s.sessions {
		if stored.Scope != scope || stored.Phase.IsTerminal() {
			continue
		}
		copy := *stored
		out = append(out, &copy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memSessions) ListExpired(_ context.Context, now time.Time) ([]*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Session
	for _, stored := range s.sessions {
		if stored.Phase.IsTerminal() || stored.PhaseDeadline == nil {
			continue
		}
		if !stored.PhaseDeadline.After(now) {
			copy := *stored
			out = append(out, &copy)
		}
	}
	return out, nil
}

// memParticipants is an in-memory ParticipantStore.
type memParticipants struct {
	mu     sync.Mutex
	byExt  map[string]*model.Participant
	byID   map[string]*model.Participant
	nextID int
}

func newMemParticipants() *memParticipants {
	return &memParticipants{
		byExt: make(map[string]*model.Participant),
		byID:  make(map[string]*model.Participant),
	}
}

func (s *memParticipants) GetOrCreate(_ context.Context, externalID, displayName string) (*model.Participant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.byExt[externalID]; ok {
		copy := *p
		return &copy, false, nil
	}
	s.nextID++
	p := &model.Participant{
		ID:          fmt.Sprintf("participant-%d", s.nextID),
		ExternalID:  externalID,
		DisplayName: displayName,
		CreatedAt:   time.Now(),
	}
	s.byExt[externalID] = p
	s.byID[p.ID] = p
	copy := *p
	return &copy, true, nil
}

func (s *memParticipants) GetByID(_ context.Context, id string) (*model.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	copy := *p
	return &copy, nil
}

func (s *memParticipants) IncrementPlayed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.byID[id]; ok {
		p.SessionsPlayed++
	}
	return nil
}

func (s *memParticipants) IncrementWon(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.byID[id]; ok {
		p.SessionsWon++
	}
	return nil
}

func (s *memParticipants) won(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.byID[id]; ok {
		return p.SessionsWon
	}
	return 0
}

// memEnrollments is an in-memory EnrollmentStore.
type memEnrollments struct {
	mu   sync.Mutex
	rows map[string]*model.Enrollment // sessionID+"/"+participantID
}

func newMemEnrollments() *memEnrollments {
	return &memEnrollments{rows: make(map[string]*model.Enrollment)}
}

func enrollKey(sessionID, participantID string) string {
	return sessionID + "/" + participantID
}

func (s *memEnrollments) Create(_ context.Context, sessionID, participantID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := enrollKey(sessionID, participantID)
	if _, ok := s.rows[key]; ok {
		return false, nil
	}
	s.rows[key] = &model.Enrollment{
		SessionID:     sessionID,
		ParticipantID: participantID,
		JoinedAt:      time.Now(),
	}
	return true, nil
}

func (s *memEnrollments) Get(_ context.Context, sessionID, participantID string) (*model.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[enrollKey(sessionID, participantID)]
	if !ok {
		return nil, ErrNotEnrolled
	}
	copy := *row
	return &copy, nil
}

func (s *memEnrollments) ListBySession(_ context.Context, sessionID string) ([]*model.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Enrollment
	for _, row := range s.rows {
		if row.SessionID == sessionID {
			copy := *row
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (s *memEnrollments) SetClaim(_ context.Context, sessionID, participantID string, number int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[enrollKey(sessionID, participantID)]
	if !ok {
		return ErrNotEnrolled
	}
	row.Claim = &number
	return nil
}

func (s *memEnrollments) AddScore(_ context.Context, sessionID, participantID string, points int, answeredAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[enrollKey(sessionID, participantID)]
	if !ok {
		return ErrNotEnrolled
	}
	row.Score += points
	row.LastAnswerAt = &answeredAt
	return nil
}

func (s *memEnrollments) MarkWinner(_ context.Context, sessionID, participantID string, prizeShare float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[enrollKey(sessionID, participantID)]
	if !ok {
		return ErrNotEnrolled
	}
	row.IsWinner = true
	row.PrizeShare = &prizeShare
	return nil
}

// memClaims backs both the allocation registry and the resolution read path.
type memClaims struct {
	mu     sync.Mutex
	claims map[string]map[int]*model.Claim
	clk    *fakeClock
}

func newMemClaims(clk *fakeClock) *memClaims {
	return &memClaims{claims: make(map[string]map[int]*model.Claim), clk: clk}
}

func (s *memClaims) Reserve(_ context.Context, sessionID string, number int, participantID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claims[sessionID] == nil {
		s.claims[sessionID] = make(map[int]*model.Claim)
	}
	if _, taken := s.claims[sessionID][number]; taken {
		return false, nil
	}
	s.claims[sessionID][number] = &model.Claim{
		SessionID:     sessionID,
		Number:        number,
		ParticipantID: participantID,
		ClaimedAt:     s.clk.Now(),
	}
	// Distinct claim times keep tie-breaks deterministic.
	s.clk.Advance(time.Millisecond)
	return true, nil
}

func (s *memClaims) Release(_ context.Context, sessionID string, number int, participantID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.claims[sessionID][number]
	if !ok || c.ParticipantID != participantID {
		return false, nil
	}
	delete(s.claims[sessionID], number)
	return true, nil
}

func (s *memClaims) Numbers(_ context.Context, sessionID string) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var numbers []int
	for n := range s.claims[sessionID] {
		numbers = append(numbers, n)
	}
	return numbers, nil
}

func (s *memClaims) CountByParticipant(_ context.Context, sessionID, participantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, c := range s.claims[sessionID] {
		if c.ParticipantID == participantID {
			count++
		}
	}
	return count, nil
}

func (s *memClaims) ListBySession(_ context.Context, sessionID string) ([]*model.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Claim
	for _, c := range s.claims[sessionID] {
		copy := *c
		out = append(out, &copy)
	}
	return out, nil
}

// memQuiz is an in-memory QuizStore.
type memQuiz struct {
	mu        sync.Mutex
	questions map[string][]model.Question
	answers   map[string]*model.QuizAnswer
}

func newMemQuiz() *memQuiz {
	return &memQuiz{
		questions: make(map[string][]model.Question),
		answers:   make(map[string]*model.QuizAnswer),
	}
}

func (s *memQuiz) SaveQuestions(_ context.Context, sessionID string, questions []model.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions[sessionID] = questions
	return nil
}

func (s *memQuiz) GetQuestion(_ context.Context, sessionID string, index int) (*model.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	qs := s.questions[sessionID]
	if index < 0 || index >= len(qs) {
		return nil, ErrInvalidQuestion
	}
	q := qs[index]
	return &q, nil
}

func (s *memQuiz) ListQuestions(_ context.Context, sessionID string) ([]model.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.questions[sessionID], nil
}

func (s *memQuiz) RecordAnswer(_ context.Context, answer *model.QuizAnswer) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("%s/%s/%d", answer.SessionID, answer.ParticipantID, answer.QuestionIndex)
	if _, ok := s.answers[key]; ok {
		return false, nil
	}
	copy := *answer
	s.answers[key] = &copy
	return true, nil
}

func (s *memQuiz) CountAnswers(_ context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, a := range s.answers {
		if a.SessionID == sessionID {
			count++
		}
	}
	return count, nil
}

// memEvents is an in-memory EventStore.
type memEvents struct {
	mu     sync.Mutex
	events map[string][]*model.OutcomeEvent
	nextID int
}

func newMemEvents() *memEvents {
	return &memEvents{events: make(map[string][]*model.OutcomeEvent)}
}

func (s *memEvents) Append(_ context.Context, sessionID, eventType string, payload json.RawMessage) (*model.OutcomeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	event := &model.OutcomeEvent{
		ID:        fmt.Sprintf("event-%d", s.nextID),
		SessionID: sessionID,
		EventType: eventType,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	s.events[sessionID] = append(s.events[sessionID], event)
	return event, nil
}

func (s *memEvents) ListBySession(_ context.Context, sessionID string) ([]*model.OutcomeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.OutcomeEvent(nil), s.events[sessionID]...), nil
}

func (s *memEvents) types(sessionID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events[sessionID] {
		out = append(out, e.EventType)
	}
	return out
}

// captureNotifier records emitted notifications.
type captureNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *captureNotifier) Emit(_ context.Context, eventID, eventType string, data json.RawMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, eventType)
}

func (n *captureNotifier) emitted() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

// staticEligibility admits only listed participants.
type staticEligibility struct {
	allowed map[string]bool
}

func (e *staticEligibility) IsEligible(_ context.Context, participant *model.Participant) (bool, error) {
	return e.allowed[participant.ExternalID], nil
}

// staticTickets hands out fixed ticket counts by participant ID.
type staticTickets struct {
	counts map[string]int
}

func (t *staticTickets) Tickets(_ context.Context, sessionID, participantID string) (int, error) {
	if n, ok := t.counts[participantID]; ok {
		return n, nil
	}
	return 1, nil
}

// errTickets fails every ticket lookup.
type errTickets struct {
	err error
}

func (t *errTickets) Tickets(_ context.Context, _, _ string) (int, error) {
	return 0, t.err
}

// flakySessions delegates to memSessions until an outage is injected.
type flakySessions struct {
	*memSessions
	mu     sync.Mutex
	outage error
}

func (s *flakySessions) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outage = err
}

func (s *flakySessions) GetByID(ctx context.Context, id string) (*model.Session, error) {
	s.mu.Lock()
	outage := s.outage
	s.mu.Unlock()
	if outage != nil {
		return nil, outage
	}
	return s.memSessions.GetByID(ctx, id)
}

package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/acme/callcenter-router/internal/domain"
	"github.com/acme/callcenter-router/internal/repository"
)

// In-process repository implementations sharing one mutex-guarded state.
// They back tests and local single-node runs; semantics mirror the
// PostgreSQL implementations, including the one-open-leg rule and the
// single-active-conference-per-name rule.

// Store holds all in-memory collections.
type Store struct {
	mu           sync.Mutex
	agents       map[string]domain.Agent
	calls        map[int64]*domain.Call
	legs         map[int64][]*domain.CallLeg
	conferences  map[int64]*domain.Conference
	participants map[int64][]*domain.ConferenceParticipant
	events       map[string][]domain.CallEvent

	callSeq        int64
	legSeq         int64
	conferenceSeq  int64
	participantSeq int64
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{
		agents:       make(map[string]domain.Agent),
		calls:        make(map[int64]*domain.Call),
		legs:         make(map[int64][]*domain.CallLeg),
		conferences:  make(map[int64]*domain.Conference),
		participants: make(map[int64][]*domain.ConferenceParticipant),
		events:       make(map[string][]domain.CallEvent),
	}
}

// Agents returns the agent repository view of the store.
func (s *Store) Agents() repository.AgentRepository { return (*agentRepo)(s) }

// Calls returns the call repository view of the store.
func (s *Store) Calls() repository.CallRepository { return (*callRepo)(s) }

// Legs returns the call leg repository view of the store.
func (s *Store) Legs() repository.CallLegRepository { return (*legRepo)(s) }

// Conferences returns the conference repository view of the store.
func (s *Store) Conferences() repository.ConferenceRepository { return (*conferenceRepo)(s) }

// Participants returns the participant repository view of the store.
func (s *Store) Participants() repository.ParticipantRepository { return (*participantRepo)(s) }

// Events returns the event store view of the store.
func (s *Store) Events() repository.EventStore { return (*eventRepo)(s) }

type agentRepo Store

func (r *agentRepo) Create(_ context.Context, agent *domain.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[agent.ID]; exists {
		return fmt.Errorf("%w: agent %s exists", repository.ErrConflict, agent.ID)
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now().UTC()
	}
	r.agents[agent.ID] = *agent
	return nil
}

func (r *agentRepo) GetByID(_ context.Context, agentID string) (domain.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	agent, ok := r.agents[agentID]
	if !ok {
		return domain.Agent{}, repository.ErrNotFound
	}
	return agent, nil
}

func (r *agentRepo) List(_ context.Context, limit int) ([]domain.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	agents := make([]domain.Agent, 0, len(r.agents))
	for _, agent := range r.agents {
		agents = append(agents, agent)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	if limit > 0 && len(agents) > limit {
		agents = agents[:limit]
	}
	return agents, nil
}

type callRepo Store

func (r *callRepo) Create(_ context.Context, call *domain.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.calls {
		if existing.ExternalRef == call.ExternalRef {
			return fmt.Errorf("%w: call %s exists", repository.ErrConflict, call.ExternalRef)
		}
	}
	r.callSeq++
	call.ID = r.callSeq
	if call.CreatedAt.IsZero() {
		call.CreatedAt = time.Now().UTC()
	}
	clone := *call
	r.calls[call.ID] = &clone
	return nil
}

func (r *callRepo) Get(_ context.Context, id int64) (*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	call, ok := r.calls[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *call
	return &clone, nil
}

func (r *callRepo) GetByRef(_ context.Context, externalRef string) (*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, call := range r.calls {
		if call.ExternalRef == externalRef {
			clone := *call
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *callRepo) Update(_ context.Context, call *domain.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[call.ID]; !ok {
		return repository.ErrNotFound
	}
	clone := *call
	r.calls[call.ID] = &clone
	return nil
}

func (r *callRepo) ListByStatus(_ context.Context, status domain.CallStatus, limit int) ([]*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var calls []*domain.Call
	for _, call := range r.calls {
		if call.Status == status {
			clone := *call
			calls = append(calls, &clone)
		}
	}
	sort.Slice(calls, func(i, j int) bool { return calls[i].CreatedAt.After(calls[j].CreatedAt) })
	if limit > 0 && len(calls) > limit {
		calls = calls[:limit]
	}
	return calls, nil
}

func (r *callRepo) ListAssignedBefore(_ context.Context, cutoff time.Time, limit int) ([]*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var calls []*domain.Call
	for _, call := range r.calls {
		if call.Status == domain.CallStatusAssigned && call.AssignedAt != nil && call.AssignedAt.Before(cutoff) {
			clone := *call
			calls = append(calls, &clone)
		}
	}
	sort.Slice(calls, func(i, j int) bool { return calls[i].AssignedAt.Before(*calls[j].AssignedAt) })
	if limit > 0 && len(calls) > limit {
		calls = calls[:limit]
	}
	return calls, nil
}

type legRepo Store

func (r *legRepo) openLegLocked(callID int64) *domain.CallLeg {
	for _, leg := range r.legs[callID] {
		if leg.Status == domain.LegStatusConnecting || leg.Status == domain.LegStatusActive {
			return leg
		}
	}
	return nil
}

func (r *legRepo) closeLegLocked(leg *domain.CallLeg, reason domain.TransitionReason, at time.Time) {
	leg.Status = domain.LegStatusCompleted
	leg.TransitionReason = &reason
	endedAt := at
	leg.EndedAt = &endedAt
	duration := int(at.Sub(leg.StartedAt).Seconds())
	if duration < 0 {
		duration = 0
	}
	leg.DurationSeconds = &duration
}

func (r *legRepo) insertLegLocked(leg *domain.CallLeg) {
	r.legSeq++
	leg.ID = r.legSeq
	if leg.StartedAt.IsZero() {
		leg.StartedAt = time.Now().UTC()
	}
	if leg.Status == "" {
		leg.Status = domain.LegStatusConnecting
	}
	clone := *leg
	r.legs[leg.CallID] = append(r.legs[leg.CallID], &clone)
}

func (r *legRepo) CreateInitial(_ context.Context, leg *domain.CallLeg) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.legs[leg.CallID]) > 0 {
		return fmt.Errorf("%w: call %d already has legs", repository.ErrConflict, leg.CallID)
	}
	leg.LegNumber = 1
	r.insertLegLocked(leg)
	return nil
}

func (r *legRepo) CreateNext(_ context.Context, leg *domain.CallLeg, priorReason domain.TransitionReason) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if open := r.openLegLocked(leg.CallID); open != nil {
		r.closeLegLocked(open, priorReason, now)
	}
	maxLeg := 0
	for _, existing := range r.legs[leg.CallID] {
		if existing.LegNumber > maxLeg {
			maxLeg = existing.LegNumber
		}
	}
	leg.LegNumber = maxLeg + 1
	r.insertLegLocked(leg)
	return nil
}

func (r *legRepo) OpenLeg(_ context.Context, callID int64) (*domain.CallLeg, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if open := r.openLegLocked(callID); open != nil {
		clone := *open
		return &clone, nil
	}
	return nil, repository.ErrNotFound
}

func (r *legRepo) MarkActive(_ context.Context, legID int64, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, legs := range r.legs {
		for _, leg := range legs {
			if leg.ID == legID {
				if leg.Status != domain.LegStatusConnecting {
					return fmt.Errorf("leg %d is not connecting", legID)
				}
				leg.Status = domain.LegStatusActive
				return nil
			}
		}
	}
	return repository.ErrNotFound
}

func (r *legRepo) Close(_ context.Context, legID int64, reason domain.TransitionReason, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, legs := range r.legs {
		for _, leg := range legs {
			if leg.ID == legID {
				if leg.Status == domain.LegStatusCompleted {
					return fmt.Errorf("leg %d already closed", legID)
				}
				r.closeLegLocked(leg, reason, at)
				return nil
			}
		}
	}
	return repository.ErrNotFound
}

func (r *legRepo) ListByCall(_ context.Context, callID int64) ([]domain.CallLeg, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	legs := make([]domain.CallLeg, 0, len(r.legs[callID]))
	for _, leg := range r.legs[callID] {
		legs = append(legs, *leg)
	}
	sort.Slice(legs, func(i, j int) bool { return legs[i].LegNumber < legs[j].LegNumber })
	return legs, nil
}

type conferenceRepo Store

func (r *conferenceRepo) GetOrCreate(_ context.Context, conf *domain.Conference) (*domain.Conference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.conferences {
		if existing.Name == conf.Name && existing.Status == domain.ConferenceStatusActive {
			clone := *existing
			return &clone, nil
		}
	}
	r.conferenceSeq++
	conf.ID = r.conferenceSeq
	if conf.CreatedAt.IsZero() {
		conf.CreatedAt = time.Now().UTC()
	}
	if conf.Status == "" {
		conf.Status = domain.ConferenceStatusActive
	}
	clone := *conf
	r.conferences[conf.ID] = &clone
	result := clone
	return &result, nil
}

func (r *conferenceRepo) GetActiveByName(_ context.Context, name string) (*domain.Conference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conf := range r.conferences {
		if conf.Name == name && conf.Status == domain.ConferenceStatusActive {
			clone := *conf
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *conferenceRepo) End(_ context.Context, name string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conf := range r.conferences {
		if conf.Name == name && conf.Status == domain.ConferenceStatusActive {
			conf.Status = domain.ConferenceStatusEnded
			endedAt := at
			conf.EndedAt = &endedAt
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *conferenceRepo) ListActive(_ context.Context, limit int) ([]*domain.Conference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var confs []*domain.Conference
	for _, conf := range r.conferences {
		if conf.Status == domain.ConferenceStatusActive {
			clone := *conf
			confs = append(confs, &clone)
		}
	}
	sort.Slice(confs, func(i, j int) bool { return confs[i].CreatedAt.After(confs[j].CreatedAt) })
	if limit > 0 && len(confs) > limit {
		confs = confs[:limit]
	}
	return confs, nil
}

type participantRepo Store

func isLiveParticipant(status domain.ParticipantStatus) bool {
	switch status {
	case domain.ParticipantStatusJoining, domain.ParticipantStatusActive, domain.ParticipantStatusMuted:
		return true
	}
	return false
}

func (r *participantRepo) Add(_ context.Context, participant *domain.ConferenceParticipant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participantSeq++
	participant.ID = r.participantSeq
	if participant.Status == "" {
		participant.Status = domain.ParticipantStatusActive
	}
	clone := *participant
	r.participants[participant.ConferenceID] = append(r.participants[participant.ConferenceID], &clone)
	return nil
}

func (r *participantRepo) FindActive(_ context.Context, conferenceID int64, externalRef string) (*domain.ConferenceParticipant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := r.participants[conferenceID]
	for i := len(members) - 1; i >= 0; i-- {
		if members[i].ExternalRef == externalRef && isLiveParticipant(members[i].Status) {
			clone := *members[i]
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *participantRepo) ListActive(_ context.Context, conferenceID int64) ([]domain.ConferenceParticipant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var members []domain.ConferenceParticipant
	for _, participant := range r.participants[conferenceID] {
		if isLiveParticipant(participant.Status) {
			members = append(members, *participant)
		}
	}
	return members, nil
}

func markLeftLocked(participant *domain.ConferenceParticipant, at time.Time) {
	participant.Status = domain.ParticipantStatusLeft
	leftAt := at
	participant.LeftAt = &leftAt
	if participant.JoinedAt != nil {
		duration := int(at.Sub(*participant.JoinedAt).Seconds())
		if duration < 0 {
			duration = 0
		}
		participant.DurationSeconds = &duration
	}
}

func (r *participantRepo) MarkLeft(_ context.Context, participantID int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, members := range r.participants {
		for _, participant := range members {
			if participant.ID == participantID {
				if !isLiveParticipant(participant.Status) {
					return repository.ErrNotFound
				}
				markLeftLocked(participant, at)
				return nil
			}
		}
	}
	return repository.ErrNotFound
}

func (r *participantRepo) MarkAllLeft(_ context.Context, conferenceID int64, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	closed := 0
	for _, participant := range r.participants[conferenceID] {
		if isLiveParticipant(participant.Status) {
			markLeftLocked(participant, at)
			closed++
		}
	}
	return closed, nil
}

type eventRepo Store

func (r *eventRepo) Append(_ context.Context, event domain.CallEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}
	r.events[event.CallRef] = append(r.events[event.CallRef], event)
	return nil
}

func (r *eventRepo) ListByCallRef(_ context.Context, callRef string, limit int) ([]domain.CallEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	events := append([]domain.CallEvent(nil), r.events[callRef]...)
	sort.Slice(events, func(i, j int) bool { return events[i].ReceivedAt.After(events[j].ReceivedAt) })
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// Package memstore — хранилище в памяти с теми же операциями, что и
// repo.Store. Используется для локального запуска (FANFLOW_STORE=memory)
// и в тестах пакетов выше.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/fanflow/internal/domain"
	"github.com/shaiso/fanflow/internal/repo"
)

// Store — потокобезопасное хранилище в памяти.
//
// Все операции выполняются под одним мьютексом, поэтому захват узлов
// атомарен так же, как UPDATE ... SKIP LOCKED в PostgreSQL.
type Store struct {
	mu sync.Mutex

	flows    map[uuid.UUID]*domain.Flow
	runs     map[uuid.UUID]*domain.Run
	nodes    map[uuid.UUID]*domain.RunNode
	runNodes map[uuid.UUID][]uuid.UUID
	tags     map[tagKey]struct{}
}

type tagKey struct {
	workspaceID uuid.UUID
	fanID       string
	tag         string
}

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{
		flows:    make(map[uuid.UUID]*domain.Flow),
		runs:     make(map[uuid.UUID]*domain.Run),
		nodes:    make(map[uuid.UUID]*domain.RunNode),
		runNodes: make(map[uuid.UUID][]uuid.UUID),
		tags:     make(map[tagKey]struct{}),
	}
}

// --- Flows ---

func (s *Store) CreateFlow(_ context.Context, flow *domain.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.flows[flow.ID]; exists {
		return repo.ErrAlreadyExists
	}
	cp, err := cloneFlow(flow)
	if err != nil {
		return err
	}
	s.flows[flow.ID] = cp
	return nil
}

func (s *Store) GetFlow(_ context.Context, id uuid.UUID) (*domain.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.flows[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return cloneFlow(f)
}

func (s *Store) ListFlows(_ context.Context, workspaceID *uuid.UUID) ([]domain.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flows := make([]domain.Flow, 0, len(s.flows))
	for _, f := range s.flows {
		if workspaceID != nil && *workspaceID != uuid.Nil && f.WorkspaceID != *workspaceID {
			continue
		}
		cp := *f
		cp.Graph = domain.Graph{}
		flows = append(flows, cp)
	}
	sort.Slice(flows, func(i, j int) bool {
		return flows[i].CreatedAt.After(flows[j].CreatedAt)
	})
	return flows, nil
}

func (s *Store) UpdateFlow(_ context.Context, flow *domain.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.flows[flow.ID]
	if !ok {
		return repo.ErrNotFound
	}

	flow.Version = existing.Version + 1
	flow.UpdatedAt = time.Now().UTC()
	flow.WorkspaceID = existing.WorkspaceID
	flow.CreatedAt = existing.CreatedAt
	flow.Enabled = existing.Enabled

	cp, err := cloneFlow(flow)
	if err != nil {
		return err
	}
	s.flows[flow.ID] = cp
	return nil
}

func (s *Store) SetFlowEnabled(_ context.Context, id uuid.UUID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.flows[id]
	if !ok {
		return repo.ErrNotFound
	}
	f.Enabled = enabled
	f.UpdatedAt = time.Now().UTC()
	return nil
}

// --- Runs ---

func (s *Store) CreateRun(_ context.Context, run *domain.Run, nodes []domain.RunNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.Status == domain.RunStatusActive {
		for _, existing := range s.runs {
			if existing.Status == domain.RunStatusActive && existing.DedupeKey == run.DedupeKey {
				return &domain.DuplicateRunError{DedupeKey: run.DedupeKey, ExistingRunID: existing.ID}
			}
		}
	}
	if _, exists := s.runs[run.ID]; exists {
		return repo.ErrAlreadyExists
	}

	cp, err := cloneRun(run)
	if err != nil {
		return err
	}
	s.runs[run.ID] = cp

	for i := range nodes {
		s.insertNode(&nodes[i])
	}
	return nil
}

func (s *Store) GetRun(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return cloneRun(r)
}

func (s *Store) ListRuns(_ context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs := make([]domain.Run, 0)
	for _, r := range s.runs {
		if filter.FlowID != nil && *filter.FlowID != uuid.Nil && r.FlowID != *filter.FlowID {
			continue
		}
		if filter.WorkspaceID != nil && *filter.WorkspaceID != uuid.Nil && r.WorkspaceID != *filter.WorkspaceID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		runs = append(runs, *r)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})

	if filter.Offset >= len(runs) {
		return []domain.Run{}, nil
	}
	runs = runs[filter.Offset:]

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *Store) ListRunNodes(_ context.Context, runID uuid.UUID) ([]domain.RunNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.listNodes(runID), nil
}

func (s *Store) CancelRun(_ context.Context, id uuid.UUID, now time.Time) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	if r.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: run is %s", repo.ErrInvalidState, r.Status)
	}

	for _, nid := range s.runNodes[id] {
		n := s.nodes[nid]
		if n.Status.IsTerminal() {
			continue
		}
		n.Status = domain.RunNodeStatusSkipped
		n.FinishedAt = timePtr(now)
	}

	r.MarkFinished(domain.RunStatusCanceled, r.Error, now)
	return cloneRun(r)
}

// --- RunNodes ---

func (s *Store) ClaimBatch(_ context.Context, req repo.ClaimRequest) ([]domain.RunNode, error) {
	if req.Limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]*domain.RunNode, 0)
	for _, n := range s.nodes {
		switch {
		case n.Status == domain.RunNodeStatusPending && !n.ScheduledAt.After(req.Now):
			due = append(due, n)
		case n.Status == domain.RunNodeStatusClaimed && !req.LeaseCutoff.IsZero() &&
			n.ClaimedAt != nil && n.ClaimedAt.Before(req.LeaseCutoff):
			due = append(due, n)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].ScheduledAt.Equal(due[j].ScheduledAt) {
			return due[i].CreatedAt.Before(due[j].CreatedAt)
		}
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})
	if len(due) > req.Limit {
		due = due[:req.Limit]
	}

	claimed := make([]domain.RunNode, 0, len(due))
	for _, n := range due {
		if n.Status == domain.RunNodeStatusClaimed {
			n.Attempt++
		}
		token := req.Token
		n.Status = domain.RunNodeStatusClaimed
		n.ClaimedBy = &token
		n.ClaimedAt = timePtr(req.Now)
		claimed = append(claimed, cloneNode(n))
	}
	return claimed, nil
}

func (s *Store) ReleaseClaim(_ context.Context, runNodeID, token uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[runNodeID]
	if !ok || n.Status != domain.RunNodeStatusClaimed || n.ClaimedBy == nil || *n.ClaimedBy != token {
		return false, nil
	}
	n.Status = domain.RunNodeStatusPending
	n.ClaimedBy = nil
	n.ClaimedAt = nil
	return true, nil
}

func (s *Store) ApplyTransition(_ context.Context, t repo.Transition) (repo.TransitionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res repo.TransitionResult

	run, ok := s.runs[t.RunID]
	if !ok {
		return res, repo.ErrNotFound
	}
	res.RunStatus = run.Status
	if run.Status != domain.RunStatusActive {
		return res, nil
	}

	n, ok := s.nodes[t.RunNodeID]
	if !ok || !n.IsClaimedBy(t.Token) {
		return res, nil
	}

	switch t.Status {
	case domain.RunNodeStatusPending:
		n.Status = domain.RunNodeStatusPending
		n.Attempt = t.Attempt
		n.ScheduledAt = t.ScheduledAt
		n.LastError = t.Error
		n.ErrorKind = t.ErrorKind
		n.ClaimedBy = nil
		n.ClaimedAt = nil

	case domain.RunNodeStatusSucceeded, domain.RunNodeStatusFailed:
		n.Status = t.Status
		n.Outcome = cloneOutcome(t.Outcome)
		n.BranchEnd = t.BranchEnd
		if t.Error != "" {
			n.LastError = t.Error
		}
		if t.ErrorKind != "" {
			n.ErrorKind = t.ErrorKind
		}
		n.FinishedAt = timePtr(t.Now)

	default:
		return res, fmt.Errorf("%w: transition to %s", repo.ErrInvalidState, t.Status)
	}
	res.Applied = true

	if t.Status == domain.RunNodeStatusSucceeded {
		for i := range t.Next {
			if s.insertNode(&t.Next[i]) {
				res.Inserted++
			} else {
				res.Conflicts++
			}
		}
	}

	if t.Status.IsTerminal() {
		nodes := s.listNodes(t.RunID)
		if status, finished := domain.RollupRunStatus(nodes); finished {
			run.MarkFinished(status, domain.FailureSummary(nodes), t.Now)
			res.RunStatus = status
			res.RunFinished = true
		}
	}

	return res, nil
}

// --- Tags ---

func (s *Store) AddTag(_ context.Context, workspaceID uuid.UUID, fanID, tag string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := tagKey{workspaceID: workspaceID, fanID: fanID, tag: tag}
	if _, exists := s.tags[k]; exists {
		return false, nil
	}
	s.tags[k] = struct{}{}
	return true, nil
}

func (s *Store) ListTags(_ context.Context, workspaceID uuid.UUID, fanID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tags := make([]string, 0)
	for k := range s.tags {
		if k.workspaceID == workspaceID && k.fanID == fanID {
			tags = append(tags, k.tag)
		}
	}
	sort.Strings(tags)
	return tags, nil
}

// --- Helpers ---

// insertNode вставляет узел, если в run нет открытого узла с тем же
// node_id. Вызывается под мьютексом.
func (s *Store) insertNode(n *domain.RunNode) bool {
	if !n.Status.IsTerminal() {
		for _, id := range s.runNodes[n.RunID] {
			existing := s.nodes[id]
			if existing.NodeID == n.NodeID && !existing.Status.IsTerminal() {
				return false
			}
		}
	}

	cp := cloneNode(n)
	s.nodes[cp.ID] = &cp
	s.runNodes[n.RunID] = append(s.runNodes[n.RunID], cp.ID)
	return true
}

func (s *Store) listNodes(runID uuid.UUID) []domain.RunNode {
	ids := s.runNodes[runID]
	nodes := make([]domain.RunNode, 0, len(ids))
	for _, id := range ids {
		nodes = append(nodes, cloneNode(s.nodes[id]))
	}
	return nodes
}

func cloneFlow(f *domain.Flow) (*domain.Flow, error) {
	var cp domain.Flow
	if err := deepCopy(f, &cp); err != nil {
		return nil, fmt.Errorf("copy flow: %w", err)
	}
	return &cp, nil
}

func cloneRun(r *domain.Run) (*domain.Run, error) {
	var cp domain.Run
	if err := deepCopy(r, &cp); err != nil {
		return nil, fmt.Errorf("copy run: %w", err)
	}
	return &cp, nil
}

func cloneNode(n *domain.RunNode) domain.RunNode {
	cp := *n
	if n.ClaimedBy != nil {
		token := *n.ClaimedBy
		cp.ClaimedBy = &token
	}
	if n.ClaimedAt != nil {
		cp.ClaimedAt = timePtr(*n.ClaimedAt)
	}
	if n.FinishedAt != nil {
		cp.FinishedAt = timePtr(*n.FinishedAt)
	}
	cp.Outcome = cloneOutcome(n.Outcome)
	return cp
}

func cloneOutcome(o *domain.Outcome) *domain.Outcome {
	if o == nil {
		return nil
	}
	var cp domain.Outcome
	if err := deepCopy(o, &cp); err != nil {
		cp = *o
	}
	return &cp
}

// deepCopy копирует значение через JSON — так же, как данные проходят
// через JSONB в PostgreSQL (числа становятся float64).
func deepCopy(src, dst any) error {
	b, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

func timePtr(t time.Time) *time.Time {
	return &t
}

// Package memory provides in-memory store implementations for
// development and testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/recruitgrid/leadharvest/internal/leads"
)

// RunStore keeps campaign runs in a map.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]leads.CampaignRun
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]leads.CampaignRun)}
}

// Create stores a new run.
func (s *RunStore) Create(_ context.Context, run leads.CampaignRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

// HasActiveRun reports whether the campaign has a queued or running run.
func (s *RunStore) HasActiveRun(_ context.Context, campaignID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, run := range s.runs {
		if run.CampaignID != campaignID {
			continue
		}
		if run.Status == leads.RunStatusQueued || run.Status == leads.RunStatusRunning {
			return true, nil
		}
	}
	return false, nil
}

// MarkRunning transitions a run to running.
func (s *RunStore) MarkRunning(_ context.Context, runID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return leads.ErrRunNotFound
	}
	run.Status = leads.RunStatusRunning
	run.StartedAt = ptrTime(at)
	s.runs[runID] = run
	return nil
}

// Complete terminates a run successfully.
func (s *RunStore) Complete(_ context.Context, runID string, leadsFound int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return leads.ErrRunNotFound
	}
	run.Status = leads.RunStatusCompleted
	run.LeadsFound = leadsFound
	run.FinishedAt = ptrTime(at)
	s.runs[runID] = run
	return nil
}

// Fail terminates a run with an error.
func (s *RunStore) Fail(_ context.Context, runID, errText string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return leads.ErrRunNotFound
	}
	run.Status = leads.RunStatusFailed
	run.ErrorText = errText
	run.FinishedAt = ptrTime(at)
	s.runs[runID] = run
	return nil
}

// Get fetches one run by ID.
func (s *RunStore) Get(_ context.Context, runID string) (leads.CampaignRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return leads.CampaignRun{}, leads.ErrRunNotFound
	}
	return run, nil
}

// ListByCampaign returns the campaign's runs, newest first.
func (s *RunStore) ListByCampaign(_ context.Context, campaignID string) ([]leads.CampaignRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []leads.CampaignRun
	for _, run := range s.runs {
		if run.CampaignID == campaignID {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].StartedAt, out[j].StartedAt
		switch {
		case ti == nil:
			return false
		case tj == nil:
			return true
		default:
			return ti.After(*tj)
		}
	})
	return out, nil
}

func ptrTime(t time.Time) *time.Time { return &t }

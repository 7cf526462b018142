package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/woedy/god-bless-super-sub006/internal/domain/model"
)

// stubNumberRepo is an in-memory NumberRepository for engine tests.
type stubNumberRepo struct {
	mu         sync.Mutex
	rows       []*model.PhoneNumber
	updates    []model.ValidationResult
	listLimits []int

	insertErr error
	listErr   error
	updateErr error
	existsErr error
}

func (s *stubNumberRepo) BulkInsert(_ context.Context, projectID string, numbers []*model.PhoneNumber) ([]*model.PhoneNumber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return nil, s.insertErr
	}

	existing := make(map[string]struct{}, len(s.rows))
	for _, r := range s.rows {
		if r.ProjectID == projectID {
			existing[r.Number] = struct{}{}
		}
	}

	var inserted []*model.PhoneNumber
	for _, n := range numbers {
		if _, dup := existing[n.Number]; dup {
			continue
		}
		existing[n.Number] = struct{}{}
		row := *n
		row.ID = fmt.Sprintf("num-%d", len(s.rows)+1)
		s.rows = append(s.rows, &row)
		inserted = append(inserted, &row)
	}
	return inserted, nil
}

func (s *stubNumberRepo) ExistsAny(_ context.Context, projectID string, numbers []string) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.existsErr != nil {
		return nil, s.existsErr
	}

	stored := make(map[string]struct{}, len(s.rows))
	for _, r := range s.rows {
		if r.ProjectID == projectID {
			stored[r.Number] = struct{}{}
		}
	}

	existing := make(map[string]struct{})
	for _, n := range numbers {
		if _, ok := stored[n]; ok {
			existing[n] = struct{}{}
		}
	}
	return existing, nil
}

func (s *stubNumberRepo) BulkUpdateValidation(_ context.Context, results []model.ValidationResult) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return 0, s.updateErr
	}
	s.updates = append(s.updates, results...)
	for _, res := range results {
		for _, r := range s.rows {
			if r.ID == res.NumberID {
				r.Validation = res.Validation
				r.Carrier = res.Carrier
				r.LineType = res.LineType
				r.Country = res.Country
			}
		}
	}
	return int64(len(results)), nil
}

func (s *stubNumberRepo) ListByProject(_ context.Context, opts model.NumberListOptions) ([]*model.PhoneNumber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listLimits = append(s.listLimits, opts.Limit)
	if s.listErr != nil {
		return nil, s.listErr
	}

	var matched []*model.PhoneNumber
	for _, r := range s.rows {
		if r.ProjectID == opts.ProjectID && matchesFilter(r, opts.Filter) {
			matched = append(matched, r)
		}
	}
	if opts.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[opts.Offset:]
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

func (s *stubNumberRepo) ListByIDs(_ context.Context, ids []string) ([]*model.PhoneNumber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.PhoneNumber
	for _, id := range ids {
		for _, r := range s.rows {
			if r.ID == id {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func (s *stubNumberRepo) CountByProject(_ context.Context, projectID string, filter *model.NumberFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, r := range s.rows {
		if r.ProjectID == projectID && matchesFilter(r, filter) {
			count++
		}
	}
	return count, nil
}

func matchesFilter(r *model.PhoneNumber, f *model.NumberFilter) bool {
	if f == nil {
		return true
	}
	if f.Validation != "" && r.Validation != f.Validation {
		return false
	}
	if f.Carrier != "" && r.Carrier != f.Carrier {
		return false
	}
	if f.LineType != "" && r.LineType != f.LineType {
		return false
	}
	if f.Country != "" && r.Country != f.Country {
		return false
	}
	if f.AreaCode != "" && (len(r.Number) < len(f.AreaCode) || r.Number[:len(f.AreaCode)] != f.AreaCode) {
		return false
	}
	return true
}

// stubAttemptRepo is an in-memory AttemptRepository.
type stubAttemptRepo struct {
	mu        sync.Mutex
	attempts  map[string]*model.DeliveryAttempt
	upsertErr error
}

func newStubAttemptRepo() *stubAttemptRepo {
	return &stubAttemptRepo{attempts: make(map[string]*model.DeliveryAttempt)}
}

func (s *stubAttemptRepo) Upsert(_ context.Context, attempt *model.DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	copied := *attempt
	s.attempts[attempt.CampaignID+"/"+attempt.Recipient] = &copied
	return nil
}

func (s *stubAttemptRepo) AttemptedRecipients(_ context.Context, campaignID string) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{})
	for _, a := range s.attempts {
		if a.CampaignID != campaignID {
			continue
		}
		switch a.Status {
		case model.AttemptStatusSent, model.AttemptStatusDelivered, model.AttemptStatusFailed:
			out[a.Recipient] = struct{}{}
		}
	}
	return out, nil
}

func (s *stubAttemptRepo) CountsByCampaign(_ context.Context, campaignID string) (*model.CampaignAnalytics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	analytics := &model.CampaignAnalytics{CampaignID: campaignID}
	for _, a := range s.attempts {
		if a.CampaignID != campaignID {
			continue
		}
		analytics.Total++
		switch a.Status {
		case model.AttemptStatusSent:
			analytics.Sent++
		case model.AttemptStatusDelivered:
			analytics.Delivered++
		case model.AttemptStatusFailed:
			analytics.Failed++
		case model.AttemptStatusSkipped:
			analytics.Skipped++
		}
	}
	analytics.ComputeSuccessRate()
	return analytics, nil
}

// stubCampaignRepo tracks campaign status transitions.
type stubCampaignRepo struct {
	mu       sync.Mutex
	statuses []model.CampaignStatus
}

func (s *stubCampaignRepo) Create(_ context.Context, _ *model.CreateCampaignRequest) (*model.Campaign, error) {
	return nil, fmt.Errorf("not implemented")
}

func (s *stubCampaignRepo) GetByID(_ context.Context, _ string) (*model.Campaign, error) {
	return nil, fmt.Errorf("not implemented")
}

func (s *stubCampaignRepo) List(_ context.Context, _ string, _, _ int) ([]*model.Campaign, error) {
	return nil, fmt.Errorf("not implemented")
}

func (s *stubCampaignRepo) AttachJob(_ context.Context, _, _ string) (bool, error) {
	return false, fmt.Errorf("not implemented")
}

func (s *stubCampaignRepo) UpdateStatus(_ context.Context, _ string, status model.CampaignStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	return true, nil
}

func (s *stubCampaignRepo) lastStatus() model.CampaignStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) == 0 {
		return ""
	}
	return s.statuses[len(s.statuses)-1]
}

// stubSender records sends, fails on configured recipients, and confirms
// delivery for recipients marked via confirmDelivery.
type stubSender struct {
	mu        sync.Mutex
	sent      []string
	failing   map[string]struct{}
	confirmed map[string]struct{}
}

func newStubSender(failing ...string) *stubSender {
	f := make(map[string]struct{}, len(failing))
	for _, r := range failing {
		f[r] = struct{}{}
	}
	return &stubSender{failing: f, confirmed: make(map[string]struct{})}
}

func (s *stubSender) confirmDelivery(recipients ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recipients {
		s.confirmed[r] = struct{}{}
	}
}

func (s *stubSender) Send(_ context.Context, _, _, recipient, _ string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, fail := s.failing[recipient]; fail {
		return false, fmt.Errorf("relay rejected %s", recipient)
	}
	s.sent = append(s.sent, recipient)
	_, delivered := s.confirmed[recipient]
	return delivered, nil
}

// stubStore is an in-memory ArtifactStore.
type stubStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	putErr   error
	lastType string
}

func newStubStore() *stubStore {
	return &stubStore{objects: make(map[string][]byte)}
}

func (s *stubStore) Put(_ context.Context, name, contentType string, body []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return "", s.putErr
	}
	s.objects[name] = body
	s.lastType = contentType
	return name, nil
}

func (s *stubStore) Get(_ context.Context, ref string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.objects[ref]
	if !ok {
		return nil, fmt.Errorf("artifact %s not found", ref)
	}
	return body, nil
}

// progressRecorder captures progress updates in order.
type progressRecorder struct {
	mu      sync.Mutex
	updates []model.ProgressUpdate
}

func (p *progressRecorder) report(_ context.Context, update model.ProgressUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, update)
	return nil
}

func (p *progressRecorder) last() model.ProgressUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.updates) == 0 {
		return model.ProgressUpdate{}
	}
	return p.updates[len(p.updates)-1]
}

func neverCancelled(context.Context) (bool, error) {
	return false, nil
}

func alwaysCancelled(context.Context) (bool, error) {
	return true, nil
}

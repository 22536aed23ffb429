package cloud

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/livinlog/internal/model"
)

// Memory is an in-process Backend. It keeps shares and household snapshots in
// maps and never deduplicates share creation, so callers are responsible for
// not creating two shares for one household.
type Memory struct {
	mu          sync.Mutex
	containerID string
	status      AccountStatus
	latency     time.Duration
	createErr   error
	acceptErr   error
	nilShare    bool

	shares    map[string]*model.ShareRecord // household id -> current share
	snapshots map[string]Snapshot           // household id -> replicated data
	tokens    map[string]string             // token -> household id

	createCalls int
	saveCalls   int
	acceptCalls int
	onChange    func(scope model.Scope)
}

func NewMemory(containerID string) *Memory {
	return &Memory{
		containerID: containerID,
		status:      StatusAvailable,
		shares:      make(map[string]*model.ShareRecord),
		snapshots:   make(map[string]Snapshot),
		tokens:      make(map[string]string),
	}
}

func (m *Memory) ContainerID() string { return m.containerID }

func (m *Memory) SetAccountStatus(s AccountStatus) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

// SetLatency delays every remote call by d.
func (m *Memory) SetLatency(d time.Duration) {
	m.mu.Lock()
	m.latency = d
	m.mu.Unlock()
}

// FailCreate makes CreateShare return err until cleared with nil.
func (m *Memory) FailCreate(err error) {
	m.mu.Lock()
	m.createErr = err
	m.mu.Unlock()
}

// FailAccept makes AcceptInvitation return err until cleared with nil.
func (m *Memory) FailAccept(err error) {
	m.mu.Lock()
	m.acceptErr = err
	m.mu.Unlock()
}

// ReturnNilShare makes CreateShare succeed without a share object.
func (m *Memory) ReturnNilShare(v bool) {
	m.mu.Lock()
	m.nilShare = v
	m.mu.Unlock()
}

// OnChange registers fn to be called whenever the backend replicates data.
func (m *Memory) OnChange(fn func(scope model.Scope)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

func (m *Memory) CreateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCalls
}

func (m *Memory) SaveCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCalls
}

func (m *Memory) AcceptCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acceptCalls
}

// TokenFor returns the invitation token of the household's current share.
func (m *Memory) TokenFor(householdID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for token, hid := range m.tokens {
		if hid == householdID {
			return token, true
		}
	}
	return "", false
}

// Replicate replaces the backend copy of a household's data, as the owner's
// sync engine would after local edits.
func (m *Memory) Replicate(snap Snapshot) {
	m.mu.Lock()
	existing, ok := m.snapshots[snap.Household.ID]
	if ok {
		snap.Share = existing.Share
	}
	m.snapshots[snap.Household.ID] = snap
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn(model.ScopeRecipient)
	}
}

func (m *Memory) wait() {
	m.mu.Lock()
	d := m.latency
	m.mu.Unlock()
	if d > 0 {
		time.Sleep(d)
	}
}

func (m *Memory) AccountStatus(ctx context.Context) (AccountStatus, error) {
	m.wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, nil
}

func (m *Memory) FetchShare(ctx context.Context, householdID string) (*model.ShareRecord, error) {
	m.wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.shares[householdID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *Memory) CreateShare(ctx context.Context, req CreateShareRequest) (*model.ShareRecord, error) {
	m.wait()
	m.mu.Lock()
	defer m.mu.Unlock()

	m.createCalls++
	if m.createErr != nil {
		return nil, m.createErr
	}
	if m.nilShare {
		return nil, nil
	}
	if req.Household.ID == "" {
		return nil, fmt.Errorf("create share: household has no id")
	}

	now := time.Now().UTC()
	token := uuid.NewString()
	rec := &model.ShareRecord{
		ID:          uuid.NewString(),
		HouseholdID: req.Household.ID,
		Title:       req.Title,
		Thumbnail:   req.Thumbnail,
		URL:         fmt.Sprintf("memory://%s/share/%s", m.containerID, token),
		Permission:  req.Permission,
		Owner:       req.Scope,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for t, hid := range m.tokens {
		if hid == req.Household.ID {
			delete(m.tokens, t)
		}
	}
	m.shares[req.Household.ID] = rec
	m.tokens[token] = req.Household.ID
	m.snapshots[req.Household.ID] = Snapshot{
		Share:     *rec,
		Household: req.Household,
		Members:   append([]model.Member(nil), req.Members...),
	}

	cp := *rec
	return &cp, nil
}

func (m *Memory) SaveShare(ctx context.Context, rec model.ShareRecord) (*model.ShareRecord, error) {
	m.wait()
	m.mu.Lock()
	defer m.mu.Unlock()

	m.saveCalls++
	current, ok := m.shares[rec.HouseholdID]
	if !ok || current.ID != rec.ID {
		return nil, fmt.Errorf("save share %s: not found", rec.ID)
	}
	current.Title = rec.Title
	current.Thumbnail = rec.Thumbnail
	current.Permission = rec.Permission
	current.UpdatedAt = time.Now().UTC()

	if snap, ok := m.snapshots[rec.HouseholdID]; ok {
		snap.Share = *current
		snap.Household.Name = rec.Title
		m.snapshots[rec.HouseholdID] = snap
	}

	cp := *current
	return &cp, nil
}

func (m *Memory) DeleteShare(ctx context.Context, shareID string) error {
	m.wait()
	m.mu.Lock()
	defer m.mu.Unlock()

	for hid, rec := range m.shares {
		if rec.ID != shareID {
			continue
		}
		delete(m.shares, hid)
		for t, thid := range m.tokens {
			if thid == hid {
				delete(m.tokens, t)
			}
		}
		return nil
	}
	return fmt.Errorf("delete share %s: not found", shareID)
}

func (m *Memory) AcceptInvitation(ctx context.Context, token string, into Sink) error {
	m.wait()
	m.mu.Lock()
	m.acceptCalls++
	if m.acceptErr != nil {
		err := m.acceptErr
		m.mu.Unlock()
		return err
	}
	hid, ok := m.tokens[token]
	if !ok {
		m.mu.Unlock()
		return ErrInvitationNotFound
	}
	snap := m.snapshots[hid]
	snap.Members = append([]model.Member(nil), snap.Members...)
	m.mu.Unlock()

	return into.ApplySnapshot(ctx, snap)
}

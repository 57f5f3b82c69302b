// Package users is an in-memory trustguard.UserProvider for trustguardd and the load
// test. Applications embedding the engine supply their own provider.
package users

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/campuskit/trustguard"
)

// School describes one campus. Limited schools are subject to the daily quota.
type School struct {
	ID      string
	Abbr    string
	Limited bool
}

type record struct {
	identity trustguard.Identity
	hash     string
}

// Memory keeps accounts in maps. Identifiers are matched case-insensitively.
type Memory struct {
	mu      sync.RWMutex
	byLogin map[string]string
	byID    map[string]*record
	schools map[string]School
	now     func() time.Time
}

// NewMemory returns an empty provider that knows schools.
func NewMemory(schools ...School) *Memory {
	m := &Memory{
		byLogin: map[string]string{},
		byID:    map[string]*record{},
		schools: map[string]School{},
		now:     time.Now,
	}
	for _, s := range schools {
		m.schools[s.ID] = s
	}
	return m
}

func normalize(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// FindAccountByIdentifier implements trustguard.UserProvider.
func (m *Memory) FindAccountByIdentifier(_ context.Context, identifier string) (trustguard.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byLogin[normalize(identifier)]
	if !ok {
		return trustguard.Account{}, trustguard.ErrUserNotFound
	}
	return trustguard.Account{ID: id, PasswordHash: m.byID[id].hash}, nil
}

// FindUserBySubject implements trustguard.UserProvider.
func (m *Memory) FindUserBySubject(_ context.Context, accountID string) (trustguard.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.byID[accountID]
	if !ok {
		return trustguard.Identity{}, trustguard.ErrUserNotFound
	}
	return rec.identity, nil
}

// CreateAccount implements trustguard.UserProvider. Each account gets its own user.
func (m *Memory) CreateAccount(_ context.Context, req trustguard.RegisterRequest, passwordHash string) (string, error) {
	key := normalize(req.Identifier)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byLogin[key]; ok {
		return "", trustguard.ErrAccountExists
	}

	accountID := uuid.NewString()
	id := trustguard.Identity{
		UserID:    uuid.NewString(),
		AccountID: accountID,
		Name:      req.Name,
		Provider:  "password",
		JoinedAt:  m.now().UTC(),
	}
	if s, ok := m.schools[req.SchoolID]; ok {
		id.SchoolID = s.ID
		id.SchoolAbbr = s.Abbr
		id.SchoolLimited = s.Limited
	}
	m.byLogin[key] = accountID
	m.byID[accountID] = &record{identity: id, hash: passwordHash}
	return accountID, nil
}

// Link adds a second login identifier for an existing user, giving that user a
// further account.
func (m *Memory) Link(userID, identifier, passwordHash string) (string, error) {
	key := normalize(identifier)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byLogin[key]; ok {
		return "", trustguard.ErrAccountExists
	}
	var base *record
	for _, rec := range m.byID {
		if rec.identity.UserID == userID {
			base = rec
			break
		}
	}
	if base == nil {
		return "", trustguard.ErrUserNotFound
	}
	accountID := uuid.NewString()
	id := base.identity
	id.AccountID = accountID
	m.byLogin[key] = accountID
	m.byID[accountID] = &record{identity: id, hash: passwordHash}
	return accountID, nil
}

var _ trustguard.UserProvider = (*Memory)(nil)

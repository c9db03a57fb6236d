package gatekeeper

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/error2913/QQ-add-group-verification/internal/onebot"
)

var errFake = errors.New("fake failure")

type memPolicy struct {
	threshold *int
	timeout   *int
}

// memStore is an in-process PolicyStore with the store package's semantics.
type memStore struct {
	mu               sync.Mutex
	groups           map[int64]memPolicy
	defaultThreshold int
	defaultTimeout   int
	err              error
}

func newMemStore(groups ...int64) *memStore {
	s := &memStore{groups: make(map[int64]memPolicy), defaultThreshold: 5, defaultTimeout: 60}
	for _, g := range groups {
		s.groups[g] = memPolicy{}
	}
	return s
}

func (s *memStore) ListMonitoredGroups(context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]int64, 0, len(s.groups))
	for g := range s.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *memStore) IsMonitored(_ context.Context, groupID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	_, ok := s.groups[groupID]
	return ok, nil
}

func (s *memStore) Threshold(_ context.Context, groupID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.groups[groupID]; ok && p.threshold != nil {
		return *p.threshold, nil
	}
	return s.defaultThreshold, s.err
}

func (s *memStore) TimeoutSeconds(_ context.Context, groupID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.groups[groupID]; ok && p.timeout != nil {
		return *p.timeout, nil
	}
	return s.defaultTimeout, s.err
}

func (s *memStore) AddGroup(_ context.Context, groupID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if _, ok := s.groups[groupID]; ok {
		return false, nil
	}
	s.groups[groupID] = memPolicy{}
	return true, nil
}

func (s *memStore) RemoveGroup(_ context.Context, groupID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if _, ok := s.groups[groupID]; !ok {
		return false, nil
	}
	delete(s.groups, groupID)
	return true, nil
}

func (s *memStore) SetThreshold(_ context.Context, groupID int64, threshold int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.groups[groupID]
	if !ok || threshold < 0 {
		return false, s.err
	}
	p.threshold = &threshold
	s.groups[groupID] = p
	return true, nil
}

func (s *memStore) SetTimeout(_ context.Context, groupID int64, seconds int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.groups[groupID]
	if !ok || seconds <= 0 {
		return false, s.err
	}
	p.timeout = &seconds
	s.groups[groupID] = p
	return true, nil
}

type sentMessage struct {
	GroupID int64
	Text    string
}

type kickCall struct {
	GroupID int64
	UserID  int64
}

// fakeGateway records every RPC the verifier issues.
type fakeGateway struct {
	mu       sync.Mutex
	levels   map[int64]int
	infoErr  error
	kickErr  error
	lookups  []int64
	kicks    []kickCall
	messages []sentMessage
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{levels: make(map[int64]int)}
}

func (g *fakeGateway) GetStrangerInfo(_ context.Context, userID int64) (onebot.StrangerInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lookups = append(g.lookups, userID)
	if g.infoErr != nil {
		return onebot.StrangerInfo{}, g.infoErr
	}
	level := g.levels[userID]
	return onebot.StrangerInfo{UserID: userID, QQLevel: &level}, nil
}

func (g *fakeGateway) SetGroupKick(_ context.Context, groupID, userID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.kicks = append(g.kicks, kickCall{GroupID: groupID, UserID: userID})
	return g.kickErr
}

func (g *fakeGateway) SendGroupMsg(_ context.Context, groupID int64, message string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.messages = append(g.messages, sentMessage{GroupID: groupID, Text: message})
	return nil
}

func (g *fakeGateway) kickCalls() []kickCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]kickCall(nil), g.kicks...)
}

func (g *fakeGateway) sent() []sentMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sentMessage(nil), g.messages...)
}

func (g *fakeGateway) lookupCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.lookups)
}

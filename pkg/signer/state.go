package signer

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/crosswin/walletbridge/pkg/frame"
	"github.com/crosswin/walletbridge/pkg/store"
)

// stateStoragePrefix namespaces session records within a backing store.
const stateStoragePrefix = "walletbridge/session/"

// Chain is one chain known to the session, learned from wallet
// bootstrap data.
type Chain struct {
	ID             uint64          `json:"id"`
	RPCURL         string          `json:"rpcUrl,omitempty"`
	NativeCurrency *frame.Currency `json:"nativeCurrency,omitempty"`
}

// sessionData is the persisted connection-derived state.
type sessionData struct {
	Accounts []string `json:"accounts,omitempty"`
	ChainID  uint64   `json:"chainId,omitempty"`
	Chains   []Chain  `json:"chains,omitempty"`
}

// SessionState is the explicitly scoped session-state handle injected
// into a signer at construction. The persistent signer receives one
// backed by the durable store; each ephemeral flow receives a distinct,
// freshly constructed handle, never the process-wide one.
type SessionState struct {
	store      store.Store
	storageKey string

	mu     sync.Mutex
	loaded bool
	data   sessionData
}

// NewSessionState creates a session-state handle bound to a storage
// namespace.
func NewSessionState(s store.Store, namespace string) *SessionState {
	return &SessionState{
		store:      s,
		storageKey: stateStoragePrefix + namespace,
	}
}

// Accounts returns the connected accounts.
func (s *SessionState) Accounts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	out := make([]string, len(s.data.Accounts))
	copy(out, s.data.Accounts)
	return out
}

// SetAccounts replaces the connected accounts.
func (s *SessionState) SetAccounts(accounts []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	s.data.Accounts = append([]string(nil), accounts...)
	return s.persistLocked()
}

// ChainID returns the selected chain, or 0 if none is selected.
func (s *SessionState) ChainID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	return s.data.ChainID
}

// SetChainID selects a chain.
func (s *SessionState) SetChainID(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	s.data.ChainID = id
	return s.persistLocked()
}

// Chains returns the chains known to the session.
func (s *SessionState) Chains() []Chain {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	out := make([]Chain, len(s.data.Chains))
	copy(out, s.data.Chains)
	return out
}

// AbsorbChainData merges wallet bootstrap data into the session. The
// first absorbed chain becomes the selection when none is set yet.
func (s *SessionState) AbsorbChainData(data *frame.ChainData) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()

	byID := make(map[uint64]Chain, len(s.data.Chains))
	for _, c := range s.data.Chains {
		byID[c.ID] = c
	}
	for idStr, rpcURL := range data.Chains {
		id, err := strconv.ParseUint(idStr, 10, 64)
		if err != nil {
			continue
		}
		c := byID[id]
		c.ID = id
		c.RPCURL = rpcURL
		byID[id] = c
	}
	for idStr, currency := range data.NativeCurrencies {
		id, err := strconv.ParseUint(idStr, 10, 64)
		if err != nil {
			continue
		}
		c, ok := byID[id]
		if !ok {
			c = Chain{ID: id}
		}
		cur := currency
		c.NativeCurrency = &cur
		byID[id] = c
	}

	chains := make([]Chain, 0, len(byID))
	for _, c := range byID {
		chains = append(chains, c)
	}
	sort.Slice(chains, func(i, j int) bool { return chains[i].ID < chains[j].ID })
	s.data.Chains = chains

	if s.data.ChainID == 0 && len(chains) > 0 {
		s.data.ChainID = chains[0].ID
	}
	return s.persistLocked()
}

// Clear discards all connection-derived state. Configuration held
// elsewhere is untouched.
func (s *SessionState) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = sessionData{}
	s.loaded = true
	return s.store.Delete(s.storageKey)
}

// loadLocked restores state on first access. Caller holds mu.
// A missing or unreadable record simply yields empty state.
func (s *SessionState) loadLocked() {
	if s.loaded {
		return
	}
	s.loaded = true

	raw, err := s.store.Get(s.storageKey)
	if err != nil {
		return
	}
	var data sessionData
	if err := json.Unmarshal(raw, &data); err != nil {
		return
	}
	s.data = data
}

// persistLocked writes the current state. Caller holds mu.
func (s *SessionState) persistLocked() error {
	raw, err := json.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("signer: marshaling session state: %w", err)
	}
	return s.store.Set(s.storageKey, raw)
}

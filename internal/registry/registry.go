// Package registry holds the in-memory state of the single active call,
// keyed by call-id with secondary indexes by carrier call-id and channel
// identity. All access is serialized by one mutex, since there is at most
// one active call at a time.
package registry

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentplexus/callorchestrator/internal/callerror"
)

// TranscriptEntry is one turn in a call's transcript log.
type TranscriptEntry struct {
	Speaker string // "agent" or "user"
	Text    string
}

// CallRecord is the mutable state of one active call.
type CallRecord struct {
	CallID         string
	CarrierCallID  string
	UserNumber     string
	StartTime      time.Time
	Transcript     []TranscriptEntry
	HungUp         bool
	StreamSid      string
	StreamingReady bool
	ChannelToken   string
}

// Registry is the call-state registry (C6). Zero value is not usable; use
// New.
type Registry struct {
	mu          sync.Mutex
	byCallID    map[string]*CallRecord
	byCarrierID map[string]string // carrierCallID -> callID
	byChannel   map[string]string // channel token -> callID
	nextID      atomic.Int64
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		byCallID:    make(map[string]*CallRecord),
		byCarrierID: make(map[string]string),
		byChannel:   make(map[string]string),
	}
}

// NewCallID mints the next call-id in the registry's monotonic sequence.
func (r *Registry) NewCallID() string {
	n := r.nextID.Add(1)
	return callIDFor(n, time.Now())
}

func callIDFor(n int64, now time.Time) string {
	return "call-" + strconv.FormatInt(n, 10) + "-" + strconv.FormatInt(now.Unix(), 10)
}

// Create registers a new CallRecord. Returns ProviderError if another call
// is already active (single-active-call invariant).
func (r *Registry) Create(rec *CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.byCallID {
		if !existing.HungUp {
			return &callerror.ProviderError{Detail: "one active call at a time"}
		}
	}

	r.byCallID[rec.CallID] = rec
	if rec.CarrierCallID != "" {
		r.byCarrierID[rec.CarrierCallID] = rec.CallID
	}
	if rec.ChannelToken != "" {
		r.byChannel[rec.ChannelToken] = rec.CallID
	}
	return nil
}

// Get looks up a CallRecord by call-id.
func (r *Registry) Get(callID string) (*CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byCallID[callID]
	if !ok {
		return nil, &callerror.CallNotFound{ID: callID}
	}
	return rec, nil
}

// GetByCarrierID looks up a CallRecord by the carrier's own call id.
func (r *Registry) GetByCarrierID(carrierCallID string) (*CallRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	callID, ok := r.byCarrierID[carrierCallID]
	if !ok {
		return nil, false
	}
	rec := r.byCallID[callID]
	return rec, rec != nil
}

// GetByChannel looks up a CallRecord by its bound media-stream channel
// token.
func (r *Registry) GetByChannel(token string) (*CallRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	callID, ok := r.byChannel[token]
	if !ok {
		return nil, false
	}
	rec := r.byCallID[callID]
	return rec, rec != nil
}

// BindCarrierID records the carrier-assigned call id for an existing
// CallRecord, after which it is reachable via GetByCarrierID.
func (r *Registry) BindCarrierID(callID, carrierCallID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byCarrierID[carrierCallID] = callID
	if rec, ok := r.byCallID[callID]; ok {
		rec.CarrierCallID = carrierCallID
	}
}

// Mutate runs fn with exclusive access to the named CallRecord. Returns
// CallNotFound if callID is unknown.
func (r *Registry) Mutate(callID string, fn func(*CallRecord)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byCallID[callID]
	if !ok {
		return &callerror.CallNotFound{ID: callID}
	}
	fn(rec)
	return nil
}

// MutateByCarrierID runs fn with exclusive access to the CallRecord bound
// to carrierCallID, if any. Returns false if no record is bound.
func (r *Registry) MutateByCarrierID(carrierCallID string, fn func(*CallRecord)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	callID, ok := r.byCarrierID[carrierCallID]
	if !ok {
		return false
	}
	rec, ok := r.byCallID[callID]
	if !ok {
		return false
	}
	fn(rec)
	return true
}

// Remove deletes a CallRecord and its secondary-index entries.
func (r *Registry) Remove(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byCallID[callID]
	if !ok {
		return
	}
	delete(r.byCallID, callID)
	if rec.CarrierCallID != "" {
		delete(r.byCarrierID, rec.CarrierCallID)
	}
	if rec.ChannelToken != "" {
		delete(r.byChannel, rec.ChannelToken)
	}
}

// ActiveCount returns the number of CallRecords with HungUp == false.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, rec := range r.byCallID {
		if !rec.HungUp {
			n++
		}
	}
	return n
}

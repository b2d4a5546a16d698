package registry

import (
	"testing"
	"time"

	"github.com/agentplexus/callorchestrator/internal/callerror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCallIDIsMonotonicAndUnique(t *testing.T) {
	r := New()
	a := r.NewCallID()
	b := r.NewCallID()
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^call-1-\d+$`, a)
	assert.Regexp(t, `^call-2-\d+$`, b)
}

func TestCreateRejectsSecondActiveCall(t *testing.T) {
	r := New()
	require.NoError(t, r.Create(&CallRecord{CallID: "call-1", StartTime: time.Now()}))

	err := r.Create(&CallRecord{CallID: "call-2", StartTime: time.Now()})
	require.Error(t, err)
	var provErr *callerror.ProviderError
	assert.ErrorAs(t, err, &provErr)
}

func TestCreateAllowsNewCallAfterPriorHangup(t *testing.T) {
	r := New()
	require.NoError(t, r.Create(&CallRecord{CallID: "call-1", StartTime: time.Now(), HungUp: true}))
	assert.NoError(t, r.Create(&CallRecord{CallID: "call-2", StartTime: time.Now()}))
}

func TestGetUnknownCallIDReturnsCallNotFound(t *testing.T) {
	r := New()
	_, err := r.Get("nope")
	var notFound *callerror.CallNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestGetByCarrierIDAndChannel(t *testing.T) {
	r := New()
	rec := &CallRecord{CallID: "call-1", CarrierCallID: "CA1", ChannelToken: "tok-1", StartTime: time.Now()}
	require.NoError(t, r.Create(rec))

	byCarrier, ok := r.GetByCarrierID("CA1")
	require.True(t, ok)
	assert.Equal(t, "call-1", byCarrier.CallID)

	byChannel, ok := r.GetByChannel("tok-1")
	require.True(t, ok)
	assert.Equal(t, "call-1", byChannel.CallID)

	_, ok = r.GetByCarrierID("unknown")
	assert.False(t, ok)
}

func TestBindCarrierIDMakesRecordReachable(t *testing.T) {
	r := New()
	require.NoError(t, r.Create(&CallRecord{CallID: "call-1", StartTime: time.Now()}))

	r.BindCarrierID("call-1", "CA-late")

	rec, ok := r.GetByCarrierID("CA-late")
	require.True(t, ok)
	assert.Equal(t, "CA-late", rec.CarrierCallID)
}

func TestMutateAppliesUnderLock(t *testing.T) {
	r := New()
	require.NoError(t, r.Create(&CallRecord{CallID: "call-1", StartTime: time.Now()}))

	err := r.Mutate("call-1", func(rec *CallRecord) {
		rec.HungUp = true
	})
	require.NoError(t, err)

	rec, err := r.Get("call-1")
	require.NoError(t, err)
	assert.True(t, rec.HungUp)
}

func TestMutateUnknownCallIDReturnsCallNotFound(t *testing.T) {
	r := New()
	err := r.Mutate("nope", func(rec *CallRecord) {})
	var notFound *callerror.CallNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestMutateByCarrierID(t *testing.T) {
	r := New()
	require.NoError(t, r.Create(&CallRecord{CallID: "call-1", CarrierCallID: "CA1", StartTime: time.Now()}))

	ok := r.MutateByCarrierID("CA1", func(rec *CallRecord) {
		rec.StreamingReady = true
	})
	assert.True(t, ok)

	rec, err := r.Get("call-1")
	require.NoError(t, err)
	assert.True(t, rec.StreamingReady)

	assert.False(t, r.MutateByCarrierID("unknown", func(rec *CallRecord) {}))
}

func TestRemoveClearsSecondaryIndexes(t *testing.T) {
	r := New()
	require.NoError(t, r.Create(&CallRecord{
		CallID:        "call-1",
		CarrierCallID: "CA1",
		ChannelToken:  "tok-1",
		StartTime:     time.Now(),
	}))

	r.Remove("call-1")

	_, err := r.Get("call-1")
	assert.Error(t, err)
	_, ok := r.GetByCarrierID("CA1")
	assert.False(t, ok)
	_, ok = r.GetByChannel("tok-1")
	assert.False(t, ok)
}

func TestActiveCountIgnoresHungUpCalls(t *testing.T) {
	r := New()
	require.NoError(t, r.Create(&CallRecord{CallID: "call-1", StartTime: time.Now()}))
	assert.Equal(t, 1, r.ActiveCount())

	require.NoError(t, r.Mutate("call-1", func(rec *CallRecord) { rec.HungUp = true }))
	assert.Equal(t, 0, r.ActiveCount())
}

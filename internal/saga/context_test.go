package saga

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContext_RoundTrip(t *testing.T) {
	id := uuid.New()
	at := time.Date(2026, 3, 1, 12, 30, 0, 123456789, time.UTC)

	sc := NewContext("TRANSFER")
	sc.SagaInstanceID = uuid.New()
	sc.RetryCount = 2
	Put(sc, "amount", decimal.RequireFromString("100.10"))
	Put(sc, "accountId", id)
	Put(sc, "description", "rent")
	Put(sc, "attempt", int64(7))
	Put(sc, "urgent", true)
	Put(sc, "requestedAt", at)
	PutMeta(sc, "source", "api")

	data, err := sc.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalContext(data)
	require.NoError(t, err)

	assert.Equal(t, sc.SagaInstanceID, got.SagaInstanceID)
	assert.Equal(t, "TRANSFER", got.SagaType)
	assert.Equal(t, 2, got.RetryCount)

	amount, ok := Get[decimal.Decimal](got, "amount")
	require.True(t, ok)
	assert.Equal(t, "100.1", amount.String())
	assert.True(t, amount.Equal(decimal.RequireFromString("100.10")))

	gotID, ok := Get[uuid.UUID](got, "accountId")
	require.True(t, ok)
	assert.Equal(t, id, gotID)

	desc, _ := Get[string](got, "description")
	assert.Equal(t, "rent", desc)

	n, _ := Get[int64](got, "attempt")
	assert.Equal(t, int64(7), n)

	urgent, _ := Get[bool](got, "urgent")
	assert.True(t, urgent)

	gotAt, ok := Get[time.Time](got, "requestedAt")
	require.True(t, ok)
	assert.True(t, at.Equal(gotAt))

	src, ok := GetMeta[string](got, "source")
	require.True(t, ok)
	assert.Equal(t, "api", src)
}

func TestContext_TimeNormalizedToUTC(t *testing.T) {
	zone := time.FixedZone("MSK", 3*60*60)
	local := time.Date(2026, 3, 1, 15, 30, 0, 42, zone)

	sc := NewContext("TRANSFER")
	Put(sc, "requestedAt", local)
	PutMeta(sc, "receivedAt", time.Now())

	before, ok := Get[time.Time](sc, "requestedAt")
	require.True(t, ok)
	assert.Equal(t, time.UTC, before.Location())
	assert.True(t, local.Equal(before))

	data, err := sc.Marshal()
	require.NoError(t, err)
	got, err := UnmarshalContext(data)
	require.NoError(t, err)

	after, ok := Get[time.Time](got, "requestedAt")
	require.True(t, ok)
	assert.True(t, before == after, "time must survive a round trip unchanged")

	metaBefore, _ := GetMeta[time.Time](sc, "receivedAt")
	metaAfter, _ := GetMeta[time.Time](got, "receivedAt")
	assert.True(t, metaBefore == metaAfter)
}

func TestContext_DecimalPrecision(t *testing.T) {
	sc := NewContext("TRANSFER")
	Put(sc, "amount", decimal.RequireFromString("0.1").Add(decimal.RequireFromString("0.2")))

	data, err := sc.Marshal()
	require.NoError(t, err)
	got, err := UnmarshalContext(data)
	require.NoError(t, err)

	amount, _ := Get[decimal.Decimal](got, "amount")
	assert.True(t, amount.Equal(decimal.RequireFromString("0.3")))
}

func TestContext_GetWrongType(t *testing.T) {
	sc := NewContext("TRANSFER")
	Put(sc, "amount", decimal.NewFromInt(5))

	_, ok := Get[string](sc, "amount")
	assert.False(t, ok)

	_, ok = Get[string](sc, "missing")
	assert.False(t, ok)
}

func TestContext_CopyIsIndependent(t *testing.T) {
	sc := NewContext("TRANSFER")
	Put(sc, "a", "1")

	cp := sc.Copy()
	Put(cp, "b", "2")
	cp.Delete("a")

	assert.True(t, sc.Has("a"))
	assert.False(t, sc.Has("b"))
	assert.Equal(t, []string{"b"}, cp.Keys())
}

func TestContext_ZeroValuePut(t *testing.T) {
	var sc Context
	Put(&sc, "k", "v")
	PutMeta(&sc, "m", int64(1))

	v, ok := Get[string](&sc, "k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestUnmarshalContext_Invalid(t *testing.T) {
	_, err := UnmarshalContext([]byte(`{"data":{"x":{"t":"decimal","v":"abc"}}}`))
	assert.Error(t, err)

	_, err = UnmarshalContext([]byte(`{"data":{"x":{"t":"blob","v":"1"}}}`))
	assert.Error(t, err)

	_, err = UnmarshalContext([]byte(`not json`))
	assert.Error(t, err)
}

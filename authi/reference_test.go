package authi_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salulink/authi/authi"
	"salulink/authi/authi/mock"
)

var conditionRows = []authi.ConditionRow{
	{Condition: "Hypertension", ICDCode: "I10", ICDDescription: "Essential (primary) hypertension"},
	{Condition: "Placeholder", ICDCode: "Z00", ICDDescription: "of the"},
	{Condition: "Asthma", ICDCode: "J45.9", ICDDescription: "Asthma, unspecified"},
}

func meanOf(words ...string) []float32 {
	vecs := make([][]float32, len(words))
	for i, w := range words {
		vecs[i] = mock.DeterministicVector(w, 4)
	}
	return authi.MeanVector(vecs)
}

func TestLoadReferenceTable(t *testing.T) {
	table, err := authi.LoadReferenceTable(context.Background(), mock.NewEncoder(4), conditionRows, authi.WithLoadWorkers(2))

	require.NoError(t, err)
	require.Equal(t, 3, table.Len())
	assert.Equal(t, 2, table.Scorable())

	hyp := table.Record(0)
	assert.Equal(t, "Hypertension", hyp.Condition)
	assert.Equal(t, "I10", hyp.ICDCode)
	assert.InDeltaSlice(t, meanOf("essential", "primary", "hypertension"), hyp.Vector, 1e-6)

	assert.False(t, table.Record(1).HasVector(), "stopword-only description has no vector")
	assert.InDeltaSlice(t, meanOf("asthma", "unspecified"), table.Record(2).Vector, 1e-6)
}

func TestLoadReferenceTableKeepsFailedRowsWithoutVector(t *testing.T) {
	base := mock.NewEncoder(4)
	enc := mock.NewEncoder(4)
	enc.EncodeTokensFunc = func(ctx context.Context, text string) ([]authi.Token, error) {
		if text == "Asthma, unspecified" {
			return nil, errors.New("inference failed")
		}
		return base.EncodeTokens(ctx, text)
	}

	table, err := authi.LoadReferenceTable(context.Background(), enc, conditionRows)

	require.NoError(t, err)
	assert.Equal(t, 3, table.Len())
	assert.Equal(t, 1, table.Scorable())
	assert.False(t, table.Record(2).HasVector())
	assert.Equal(t, "Asthma", table.Record(2).Condition)
}

func TestLoadReferenceTableCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := authi.LoadReferenceTable(ctx, mock.NewEncoder(4), conditionRows)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadReferenceTableRequiresEncoder(t *testing.T) {
	_, err := authi.LoadReferenceTable(context.Background(), nil, conditionRows)
	assert.ErrorIs(t, err, authi.ErrEncoderRequired)
}

func TestLoadReferenceTableUsesVectorCache(t *testing.T) {
	cache, err := authi.OpenVectorCache("", true, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	ctx := context.Background()

	first, err := authi.LoadReferenceTable(ctx, mock.NewEncoder(4), conditionRows, authi.WithVectorCache(cache))
	require.NoError(t, err)

	failing := mock.NewEncoder(4)
	failing.EncodeTokensFunc = func(context.Context, string) ([]authi.Token, error) {
		return nil, errors.New("model offline")
	}
	second, err := authi.LoadReferenceTable(ctx, failing, conditionRows, authi.WithVectorCache(cache))
	require.NoError(t, err)

	assert.Equal(t, 0, failing.TokenCalls())
	assert.Equal(t, first.Records(), second.Records())
}

func TestLoadReferenceTableCacheFollowsStopwords(t *testing.T) {
	cache, err := authi.OpenVectorCache("", true, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	ctx := context.Background()
	rows := []authi.ConditionRow{{Condition: "Hypertension", ICDCode: "I10", ICDDescription: "Essential hypertension"}}
	custom := authi.NewStopwords([]string{"essential", "hypertension"})

	warm, err := authi.LoadReferenceTable(ctx, mock.NewEncoder(4), rows, authi.WithVectorCache(cache))
	require.NoError(t, err)
	require.True(t, warm.Record(0).HasVector())

	fresh, err := authi.LoadReferenceTable(ctx, mock.NewEncoder(4), rows, authi.WithLoadStopwords(custom))
	require.NoError(t, err)
	cached, err := authi.LoadReferenceTable(ctx, mock.NewEncoder(4), rows,
		authi.WithLoadStopwords(custom), authi.WithVectorCache(cache))
	require.NoError(t, err)

	assert.False(t, fresh.Record(0).HasVector())
	assert.Equal(t, fresh.Records(), cached.Records())
}

type renamedEncoder struct {
	*mock.Encoder
	id string
}

func (r renamedEncoder) ModelID() string { return r.id }

func TestLoadReferenceTableCacheIsPerModel(t *testing.T) {
	cache, err := authi.OpenVectorCache("", true, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	ctx := context.Background()

	_, err = authi.LoadReferenceTable(ctx, renamedEncoder{mock.NewEncoder(4), "model-a"}, conditionRows,
		authi.WithVectorCache(cache))
	require.NoError(t, err)

	other := mock.NewEncoder(8)
	table, err := authi.LoadReferenceTable(ctx, renamedEncoder{other, "model-b"}, conditionRows,
		authi.WithVectorCache(cache))
	require.NoError(t, err)

	assert.Equal(t, len(conditionRows), other.TokenCalls())
	assert.Len(t, table.Record(0).Vector, 8)
}

func TestReferenceTableIsImmutable(t *testing.T) {
	vec := []float32{1, 2}
	table := authi.NewReferenceTable([]authi.ConditionRecord{{Condition: "Gout", Vector: vec}})

	vec[0] = 9
	records := table.Records()
	records[0].Condition = "changed"

	assert.Equal(t, "Gout", table.Record(0).Condition)
	assert.Equal(t, []float32{1, 2}, table.Record(0).Vector)
}

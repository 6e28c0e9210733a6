package records

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerRecordWireShape(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 123456789, time.UTC)
	rec := ServerRecord{Spc: &SpcRecord{
		Space: "fraud", Name: "model", Version: "1.0.0",
		Feature: "x", Value: 0.5, CreatedAt: now,
	}}

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	// Exactly one variant key on the wire.
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw, 1)
	_, ok := raw["Spc"]
	assert.True(t, ok)

	var back ServerRecord
	require.NoError(t, json.Unmarshal(data, &back))
	require.NotNil(t, back.Spc)
	assert.True(t, now.Equal(back.Spc.CreatedAt))
}

func TestServerRecordKind(t *testing.T) {
	assert.Equal(t, RecordSpc, ServerRecord{Spc: &SpcRecord{}}.Kind())
	assert.Equal(t, RecordPsi, ServerRecord{Psi: &PsiRecord{}}.Kind())
	assert.Equal(t, RecordCustom, ServerRecord{Custom: &CustomRecord{}}.Kind())
}

func TestMessageRecordRoundTrip(t *testing.T) {
	msg := MessageRecord{Tag: &TagServerRecord{
		EntityID: 7, Key: "team", Value: "risk", CreatedAt: time.Now().UTC(),
	}}
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var back MessageRecord
	require.NoError(t, json.Unmarshal(data, &back))
	require.NotNil(t, back.Tag)
	assert.Equal(t, int64(7), back.Tag.EntityID)
	assert.Nil(t, back.ServerRecords)
	assert.Nil(t, back.Trace)
}

package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseOkMarshalsAsByteArray(t *testing.T) {
	resp := Ok([]byte{0, 0, 0, 1})
	out, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Ok":[0,0,0,1]}`, string(out))
}

func TestResponseErrMarshalsAsString(t *testing.T) {
	resp := Err("object not found")
	out, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Err":"object not found"}`, string(out))
}

func TestResponseRoundTripsThroughByteArrayWire(t *testing.T) {
	var resp Response
	require.NoError(t, json.Unmarshal([]byte(`{"Ok":[1,2,3]}`), &resp))
	assert.False(t, resp.IsErr)
	assert.Equal(t, ByteSlice{1, 2, 3}, resp.Ok)
}

func TestSkStgMapUpdateOpValMarshalsAsByteArray(t *testing.T) {
	op := Operation{Flow: &FlowEnvelope{
		FlowID: 7,
		Op:     SkStgMapUpdateOp{MapName: "sk_stg_map", Val: ByteSlice{9, 9}, Flag: 0},
	}}
	out, err := json.Marshal(op)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"val":[9,9]`)
}

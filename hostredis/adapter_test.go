package hostredis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlmodule/sqlmodule/router"
)

func TestEncodeDecodeCommand_RoundTrip(t *testing.T) {
	encoded := encodeCommand("req-1", []string{"EXEC", "mydb", "QUERY", "SELECT 1;"})

	id, fields, err := decodeCommand(encoded)
	require.NoError(t, err)
	assert.Equal(t, "req-1", id)
	assert.Equal(t, []string{"EXEC", "mydb", "QUERY", "SELECT 1;"}, fields)
}

func TestDecodeCommand_NoFields(t *testing.T) {
	id, fields, err := decodeCommand("req-1")
	require.NoError(t, err)
	assert.Equal(t, "req-1", id)
	assert.Empty(t, fields)
}

func TestDecodeCommand_Malformed(t *testing.T) {
	_, _, err := decodeCommand("")
	assert.Error(t, err)
}

func TestAdapter_RequestClient_Reply(t *testing.T) {
	a := NewAdapter(nil, nil)

	client, replies := a.RequestClient("req-1")
	client.Reply(router.SimpleString("OK"))

	reply := <-replies
	assert.Equal(t, router.SimpleString("OK"), reply.Value)
	assert.NoError(t, reply.Err)
}

func TestAdapter_RequestClient_Error(t *testing.T) {
	a := NewAdapter(nil, nil)

	client, replies := a.RequestClient("req-2")
	client.Error(assert.AnError)

	reply := <-replies
	assert.Equal(t, assert.AnError, reply.Err)
}

func TestAdapter_Deliver_UnknownIDIsNoop(t *testing.T) {
	a := NewAdapter(nil, nil)
	a.deliver("missing", Reply{Value: router.SimpleString("OK")})
}

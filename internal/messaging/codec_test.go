package messaging_test

import (
	"encoding/json"
	"kakigoori-worker/internal/messaging"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskRequestRoundTrip(t *testing.T) {
	for _, req := range []messaging.TaskRequest{
		{OriginalFile: []byte{0x00, 0xff, 0x10, 0x80, '"', '\\'}, VariantId: "abc123"},
		{OriginalFile: []byte("plain text"), VariantId: "ünïcødé-id"},
		{OriginalFile: []byte{}, VariantId: ""},
	} {
		body, err := messaging.EncodeTaskRequest(req)
		require.NoError(t, err)

		decoded, err := messaging.DecodeTaskRequest(body)
		require.NoError(t, err)
		assert.Equal(t, req, decoded)
	}
}

func TestTaskResponseRoundTrip(t *testing.T) {
	resp := messaging.TaskResponse{VariantFile: []byte{1, 2, 3, 4, 5, 250}, VariantId: "variant-7"}

	body, err := messaging.EncodeTaskResponse(resp)
	require.NoError(t, err)

	decoded, err := messaging.DecodeTaskResponse(body)
	require.NoError(t, err)
	assert.Equal(t, resp, decoded)
}

func TestTaskResponseWireFormat(t *testing.T) {
	body, err := messaging.EncodeTaskResponse(messaging.TaskResponse{VariantFile: []byte("hi!"), VariantId: "abc123"})
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(body, &fields))
	assert.Equal(t, map[string]any{"variant_file": "aGkh", "variant_id": "abc123"}, fields)
}

func TestDecodeTaskRequestWireFormat(t *testing.T) {
	req, err := messaging.DecodeTaskRequest([]byte(`{"original_file": "aGkh", "variant_id": "abc123", "extra": 1}`))
	require.NoError(t, err)
	assert.Equal(t, messaging.TaskRequest{OriginalFile: []byte("hi!"), VariantId: "abc123"}, req)
}

func TestDecodeMalformedTaskRequest(t *testing.T) {
	for name, body := range map[string]string{
		"invalid json":          `{"original_file": "aGkh", "variant_id": `,
		"not an object":         `["aGkh", "abc123"]`,
		"missing original_file": `{"variant_id": "abc123"}`,
		"missing variant_id":    `{"original_file": "aGkh"}`,
		"null original_file":    `{"original_file": null, "variant_id": "abc123"}`,
		"null variant_id":       `{"original_file": "aGkh", "variant_id": null}`,
		"invalid base64":        `{"original_file": "not base64!", "variant_id": "abc123"}`,
		"numeric variant_id":    `{"original_file": "aGkh", "variant_id": 12}`,
		"empty body":            ``,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := messaging.DecodeTaskRequest([]byte(body))
			assert.ErrorIs(t, err, messaging.ErrMalformedMessage)
		})
	}
}

func TestDecodeMalformedTaskResponse(t *testing.T) {
	_, err := messaging.DecodeTaskResponse([]byte(`{"variant_id": "abc123"}`))
	assert.ErrorIs(t, err, messaging.ErrMalformedMessage)

	_, err = messaging.DecodeTaskResponse([]byte(`{"variant_file": "%%%", "variant_id": "abc123"}`))
	assert.ErrorIs(t, err, messaging.ErrMalformedMessage)
}

func TestEncodeRejectsInvalidUTF8Identifier(t *testing.T) {
	_, err := messaging.EncodeTaskResponse(messaging.TaskResponse{VariantFile: []byte("x"), VariantId: "bad\xff"})
	assert.ErrorIs(t, err, messaging.ErrUnencodable)

	_, err = messaging.EncodeTaskRequest(messaging.TaskRequest{OriginalFile: []byte("x"), VariantId: "bad\xc3"})
	assert.ErrorIs(t, err, messaging.ErrUnencodable)
}

func TestFormatQueue(t *testing.T) {
	assert.Equal(t, "kakigoori_avif", messaging.FormatQueue(messaging.DefaultQueuePrefix, "avif"))
}

func TestConsumerTag(t *testing.T) {
	a, b := messaging.ConsumerTag(3), messaging.ConsumerTag(3)
	assert.Regexp(t, `^ctag3\.[0-9a-f-]{36}$`, a)
	assert.NotEqual(t, a, b)
}

package wire

import (
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeEnvelope(t *testing.T, meta FrameMeta, jpeg []byte) []byte {
	t.Helper()
	metaBytes, err := json.Marshal(meta)
	require.NoError(t, err)

	buf := make([]byte, 4+len(metaBytes)+len(jpeg))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(metaBytes)))
	copy(buf[4:], metaBytes)
	copy(buf[4+len(metaBytes):], jpeg)
	return buf
}

func validMeta(imageBytes int) FrameMeta {
	return FrameMeta{
		Type:       "frame_binary",
		V:          1,
		FrameID:    "f1",
		TsMs:       1000,
		Mime:       "image/jpeg",
		Width:      640,
		Height:     480,
		ImageBytes: imageBytes,
	}
}

func TestDecodeEnvelopeValid(t *testing.T) {
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xD9}
	payload := encodeEnvelope(t, validMeta(len(jpeg)), jpeg)

	f, err := DecodeEnvelope(payload)
	require.NoError(t, err)
	assert.Equal(t, "f1", f.FrameID)
	assert.Equal(t, int64(1000), f.TsMs)
	assert.Equal(t, 640, f.Width)
	assert.Equal(t, jpeg, f.ImageBytes)
}

func TestDecodeEnvelopeShortPayload(t *testing.T) {
	_, err := DecodeEnvelope([]byte{0x00, 0x00})
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrInvalidFrameBinary)
}

func TestDecodeEnvelopeZeroLength(t *testing.T) {
	payload := make([]byte, 8)
	_, err := DecodeEnvelope(payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrInvalidFrameBinary)
}

func TestDecodeEnvelopeLengthExceedsPayload(t *testing.T) {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint32(payload[:4], 10)
	_, err := DecodeEnvelope(payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrInvalidFrameBinary)
}

func TestDecodeEnvelopeImageBytesMismatch(t *testing.T) {
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xD9}
	payload := encodeEnvelope(t, validMeta(len(jpeg)+1), jpeg)
	_, err := DecodeEnvelope(payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrInvalidFrameBinary)
}

func TestDecodeEnvelopeMetadataNotJSON(t *testing.T) {
	payload := make([]byte, 4+3)
	binary.BigEndian.PutUint32(payload[:4], 3)
	copy(payload[4:], []byte("{{{"))
	_, err := DecodeEnvelope(payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrInvalidFrameBinary)
}

func TestDecodeTextCommand(t *testing.T) {
	cmd, err := DecodeText([]byte(`{"type":"command","name":"insight_test"}`))
	require.NoError(t, err)
	assert.Equal(t, "insight_test", cmd.Name)
}

func TestDecodeTextUnsupportedCommand(t *testing.T) {
	_, err := DecodeText([]byte(`{"type":"command","name":"reboot"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrUnsupportedCommand)
}

func TestDecodeTextInvalidCommand(t *testing.T) {
	_, err := DecodeText([]byte(`{"type":"frame_binary"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrInvalidCommand)
}

func TestDecodeTextInvalidJSON(t *testing.T) {
	_, err := DecodeText([]byte(`not json`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrInvalidJSON)
}

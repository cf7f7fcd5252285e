package journal

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/deflagg/eva/internal/logger"
)

func testLogger() logger.Module {
	l := logger.New(logger.SILENT, io.Discard, false)
	return l.WithModule("journal")
}

func TestEncodeRoundTripsFieldOrder(t *testing.T) {
	rec := Encode(Record{ConnectionID: "conn-1", Seq: 3, TsMs: 1000, Kind: KindEvent, Payload: []byte(`{"a":1}`)})
	assert.NotEmpty(t, rec)

	var nums []protowire.Number
	for b := rec; len(b) > 0; {
		num, typ, n := protowire.ConsumeTag(b)
		require.Greater(t, n, 0)
		b = b[n:]
		m := protowire.ConsumeFieldValue(num, typ, b)
		require.Greater(t, m, 0)
		b = b[m:]
		nums = append(nums, num)
	}
	assert.Equal(t, []protowire.Number{fieldConnectionID, fieldSeq, fieldTsMs, fieldKind, fieldPayload}, nums)
}

func TestWriteAppendsLengthPrefixedRecords(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "conn-1", testLogger(), nil)
	require.NoError(t, err)

	w.Write("conn-1", 100, KindEvent, []byte(`{"name":"roi_enter"}`))
	w.Write("conn-1", 200, KindInsight, []byte(`{"clip_id":"abc"}`))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(filepath.Join(dir, "conn-1", "journal.pb"))
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestWriteFailureInvokesOnFailureWithoutPanicking(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "conn-2", testLogger(), nil)
	require.NoError(t, err)
	require.NoError(t, w.Close()) // closed file: subsequent writes fail

	failures := 0
	w.onFailure = func() { failures++ }

	assert.NotPanics(t, func() {
		w.Write("conn-2", 0, KindError, []byte(`{}`))
	})
	assert.Equal(t, 1, failures)
}

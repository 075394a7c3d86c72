package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/crdtsync/internal/core/crdt"
	"github.com/zeusync/crdtsync/internal/core/crdt/codec"
)

func writeBatch(t *testing.T, msgs ...crdt.Message) string {
	t.Helper()
	data, err := codec.EncodeBatch(msgs)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "batch.bin")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestDecodeText(t *testing.T) {
	path := writeBatch(t,
		crdt.NewPut(666, 1, 1, []byte{0xca, 0xfe}),
		crdt.NewDeleteEntity(7),
	)

	out, err := execute(t, "decode", path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "PUT_COMPONENT{e=666 c=1 t=1 len=2}"))
	assert.True(t, strings.HasSuffix(lines[0], "cafe"))
	assert.Equal(t, "DELETE_ENTITY{e=7}", lines[1])
	assert.Equal(t, "2 message(s), 38 of 38 bytes consumed", lines[2])
}

func TestDecodeJSONWithTrailingBytes(t *testing.T) {
	data, err := codec.EncodeBatch([]crdt.Message{crdt.NewAppend(1, 2, 3, []byte("x"))})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "batch.bin")
	require.NoError(t, os.WriteFile(path, append(data, 0x01, 0x02), 0o600))

	out, err := execute(t, "--format", "json", "decode", path)
	require.NoError(t, err)

	var result DecodeResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Len(t, result.Messages, 1)
	assert.Equal(t, "APPEND_COMPONENT", result.Messages[0].Type)
	assert.Equal(t, []byte("x"), result.Messages[0].Data)
	assert.Equal(t, 2, result.Trailing)
	assert.False(t, result.Corrupted)
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "xml", "decode", "missing.bin")
	assert.ErrorContains(t, err, "invalid format")
}

func TestStateDigestConverges(t *testing.T) {
	a := writeBatch(t, crdt.NewPut(1, 1, 1, []byte("a")), crdt.NewPut(1, 1, 2, []byte("b")))
	b := writeBatch(t, crdt.NewPut(1, 1, 2, []byte("b")), crdt.NewPut(1, 1, 1, []byte("a")))

	outA, err := execute(t, "--format", "json", "state-digest", a)
	require.NoError(t, err)
	outB, err := execute(t, "--format", "json", "state-digest", b)
	require.NoError(t, err)

	var ra, rb DigestResult
	require.NoError(t, json.Unmarshal([]byte(outA), &ra))
	require.NoError(t, json.Unmarshal([]byte(outB), &rb))

	assert.Equal(t, ra.Digest, rb.Digest)
	assert.Equal(t, 1, ra.Messages)
	assert.Equal(t, 2, ra.Applied)
	assert.Equal(t, 1, rb.Dropped)
}

func TestStateDigestMissingFile(t *testing.T) {
	_, err := execute(t, "state-digest", filepath.Join(t.TempDir(), "nope.bin"))
	assert.ErrorContains(t, err, "read batch")
}

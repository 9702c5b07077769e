package transfer

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		line    string
		want    int64
		wantErr bool
	}{
		{"0", 0, false},
		{"12", 12, false},
		{" 4096 ", 4096, false},
		{"-1", 0, true},
		{"twelve", 0, true},
		{"", 0, true},
		{"1.5", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseSize(tt.line)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadPreamble)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 12, 32*1024 + 7, 1 << 20}

	for _, size := range sizes {
		t.Run(strconv.Itoa(size), func(t *testing.T) {
			srcDir, dstDir := t.TempDir(), t.TempDir()
			content := make([]byte, size)
			_, err := rand.Read(content)
			require.NoError(t, err)
			src := filepath.Join(srcDir, "payload.bin")
			require.NoError(t, os.WriteFile(src, content, 0o644))

			// the trailing command must survive untouched after the payload
			var wire bytes.Buffer
			sent, err := Send(&wire, src)
			require.NoError(t, err)
			wire.WriteString("/dir\n")

			r := bufio.NewReader(&wire)
			line, err := r.ReadString('\n')
			require.NoError(t, err)
			declared, err := ParseSize(line)
			require.NoError(t, err)
			assert.Equal(t, int64(size), declared)

			dest := filepath.Join(dstDir, "payload.bin")
			got, err := Receive(FromReader(r), declared, dest)
			require.NoError(t, err)

			stored, err := os.ReadFile(dest)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(content, stored))
			assert.Equal(t, xxhash.Sum64(content), got.Digest)
			assert.Equal(t, sent.Digest, got.Digest)
			assert.Equal(t, int64(size), got.Size)

			rest, err := r.ReadString('\n')
			require.NoError(t, err)
			assert.Equal(t, "/dir\n", rest)

			assertNoPartials(t, dstDir)
		})
	}
}

func TestReceiveTruncated(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "report.txt")

	_, err := Receive(FromReader(strings.NewReader("only five")), 12, dest)
	assert.ErrorIs(t, err, ErrTruncatedTransfer)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
	assertNoPartials(t, dir)
}

func TestReceiveTruncatedKeepsPreviousVersion(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "report.txt")
	require.NoError(t, os.WriteFile(dest, []byte("old contents"), 0o644))

	_, err := Receive(FromReader(strings.NewReader("new")), 100, dest)
	assert.ErrorIs(t, err, ErrTruncatedTransfer)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "old contents", string(data))
}

func TestReceiveOverwrites(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "report.txt")
	require.NoError(t, os.WriteFile(dest, []byte("a much longer old file"), 0o644))

	_, err := Receive(FromReader(strings.NewReader("new")), 3, dest)
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestReceiveMissingDirectoryDrainsPayload(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "gone", "report.txt")
	r := strings.NewReader("abcNEXT")

	_, err := Receive(FromReader(r), 3, dest)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTruncatedTransfer)

	rest, _ := io.ReadAll(r)
	assert.Equal(t, "NEXT", string(rest))
}

func TestSendMissingFile(t *testing.T) {
	var wire bytes.Buffer
	_, err := Send(&wire, filepath.Join(t.TempDir(), "nope.txt"))
	assert.ErrorIs(t, err, ErrFileNotFound)
	assert.Zero(t, wire.Len(), "nothing may be written for a missing file")
}

func TestSendDirectory(t *testing.T) {
	var wire bytes.Buffer
	_, err := Send(&wire, t.TempDir())
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestDiscard(t *testing.T) {
	r := strings.NewReader("0123456789tail")
	require.NoError(t, Discard(FromReader(r), 10))
	rest, _ := io.ReadAll(r)
	assert.Equal(t, "tail", string(rest))

	assert.NoError(t, Discard(FromReader(strings.NewReader("")), 0))
	assert.ErrorIs(t, Discard(FromReader(strings.NewReader("ab")), 5), ErrTruncatedTransfer)
}

func TestResultString(t *testing.T) {
	r := Result{Name: "a.txt", Size: 3, Digest: 0xff}
	assert.Equal(t, "a.txt (3 bytes, xxh64 00000000000000ff)", r.String())
}

func assertNoPartials(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), "."), "leftover partial %s", e.Name())
	}
}

func TestOpenSurvivesDeletion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world!"), 0o644))

	out, err := Open(path)
	require.NoError(t, err)
	defer out.Close()
	assert.Equal(t, "report.txt", out.Name)
	assert.Equal(t, int64(12), out.Size)

	require.NoError(t, os.Remove(path))

	var wire bytes.Buffer
	res, err := out.Send(&wire)
	require.NoError(t, err)
	assert.Equal(t, "12\nhello world!", wire.String())
	assert.Equal(t, xxhash.Sum64String("hello world!"), res.Digest)

	_, err = Open(path)
	assert.ErrorIs(t, err, ErrFileNotFound)
}

package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/ordscan-backend/internal/inscription/chain"
	"github.com/goodnatureofminers/ordscan-backend/internal/inscription/model"
)

func testInscription(id string, index uint32, contentType string, payload []byte) model.Inscription {
	return model.Inscription{
		ID:          model.InscriptionID{TxID: id, Index: index},
		ContentType: []byte(contentType),
		Payload:     payload,
		BlockHeight: 800_000,
		TxIndex:     3,
	}
}

func TestTextSink_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inscriptions.jsonl")

	s, err := NewTextSink(zap.NewNop(), path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Emit(ctx, testInscription("aa", 0, "text/plain;charset=utf-8", []byte("hello"))))
	require.NoError(t, s.Emit(ctx, testInscription("bb", 1, "text/plain", []byte("world"))))
	require.NoError(t, s.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []textRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec textRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		lines = append(lines, rec)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, lines, 2)
	assert.Equal(t, "aai0", lines[0].ID)
	assert.Equal(t, "hello", lines[0].Text)
	assert.Equal(t, uint64(800_000), lines[0].BlockHeight)
	assert.Equal(t, "bbi1", lines[1].ID)
}

func TestImageSink_WritesByContentType(t *testing.T) {
	dir := t.TempDir()

	s, err := NewImageSink(zap.NewNop(), dir)
	require.NoError(t, err)

	payload := []byte{0x89, 'P', 'N', 'G'}
	require.NoError(t, s.Emit(context.Background(), testInscription("cc", 0, "image/png", payload)))

	got, err := os.ReadFile(filepath.Join(dir, "cci0.png"))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestImageSink_UnknownSubtypeGetsBinExtension(t *testing.T) {
	dir := t.TempDir()

	s, err := NewImageSink(zap.NewNop(), dir)
	require.NoError(t, err)

	require.NoError(t, s.Emit(context.Background(), testInscription("dd", 2, "image/x-exotic", []byte{1})))

	_, err = os.Stat(filepath.Join(dir, "ddi2.bin"))
	assert.NoError(t, err)
}

func TestImageSink_DoesNotRewriteExistingFile(t *testing.T) {
	dir := t.TempDir()

	s, err := NewImageSink(zap.NewNop(), dir)
	require.NoError(t, err)

	ins := testInscription("ee", 0, "image/png", []byte("first"))
	require.NoError(t, s.Emit(context.Background(), ins))

	ins.Payload = []byte("second")
	require.NoError(t, s.Emit(context.Background(), ins))

	got, err := os.ReadFile(filepath.Join(dir, "eei0.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got)
}

type recordingSink struct {
	got []model.Inscription
}

func (r *recordingSink) Emit(_ context.Context, ins model.Inscription) error {
	r.got = append(r.got, ins)
	return nil
}

func TestFanout_RoutesByKind(t *testing.T) {
	text := &recordingSink{}
	image := &recordingSink{}
	f := NewFanout(text, image)

	ctx := context.Background()
	require.NoError(t, f.Emit(ctx, testInscription("aa", 0, "text/plain", []byte("hi"))))
	require.NoError(t, f.Emit(ctx, testInscription("bb", 0, "image/png", []byte{1})))

	require.Len(t, text.got, 1)
	require.Len(t, image.got, 1)
	assert.Equal(t, "aai0", text.got[0].ID.String())
	assert.Equal(t, "bbi0", image.got[0].ID.String())
}

func TestFanout_RejectsUnsupportedKind(t *testing.T) {
	f := NewFanout(&recordingSink{}, &recordingSink{})

	err := f.Emit(context.Background(), testInscription("cc", 0, "application/json", []byte("{}")))
	assert.ErrorIs(t, err, chain.ErrRejected)
}

func TestFanout_RejectsWhenDestinationMissing(t *testing.T) {
	f := NewFanout(nil, nil)

	err := f.Emit(context.Background(), testInscription("dd", 0, "text/plain", []byte("hi")))
	assert.ErrorIs(t, err, chain.ErrRejected)
}

package session

import (
	"os"
	"path/filepath"
	"testing"

	"finsight/pkg/api"
	"finsight/pkg/tools"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sessions")
	s, err := NewStore(dir)
	require.NoError(t, err)
	require.True(t, s.Enabled())

	msgs, err := s.Load("web_abc")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	want := []api.Message{
		{ID: "1", Role: api.RoleUser, Text: "TSLA?", Timestamp: 1},
		{ID: "2", Role: api.RoleTool, Text: "Fetched market data for TSLA.", Payload: []tools.StockData{{Symbol: "TSLA", CurrentPrice: 242.5, ChangePercent: -1.3}}, Timestamp: 2},
		{ID: "3", Role: api.RoleModel, Text: "down 1.3%", Progressive: true, Timestamp: 3},
	}
	require.NoError(t, s.Save("web_abc", want))

	got, err := s.Load("web_abc")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, s.Delete("web_abc"))
	got, err = s.Load("web_abc")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, s.Delete("web_abc"))
}

func TestStoreSanitizesKeys(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Save("telegram_../../etc", []api.Message{{ID: "1", Role: api.RoleUser, Text: "hi"}}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "history_telegram_______etc.json", entries[0].Name())
}

func TestStoreCorruptFile(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "history_web_x.json"), []byte("{not json"), 0o644))

	_, err = s.Load("web_x")
	assert.Error(t, err)
}

func TestStoreDisabled(t *testing.T) {
	s, err := NewStore("")
	require.NoError(t, err)
	assert.False(t, s.Enabled())
	require.NoError(t, s.Save("k", []api.Message{{Text: "x"}}))
	msgs, err := s.Load("k")
	require.NoError(t, err)
	assert.Nil(t, msgs)
}

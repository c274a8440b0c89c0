package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/ReZill392/Thesit-sub000/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_ReturnsSameInstance(t *testing.T) {
	require.NoError(t, Init(config.LoggingConfig{Level: "debug", Format: "json", Output: "stdout"}))

	a := Get(Scheduler)
	b := Get(Scheduler)
	assert.Same(t, a, b)
	assert.NotSame(t, a, Get(Ingestor))
}

func TestGet_TagsComponent(t *testing.T) {
	require.NoError(t, Init(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}))

	l := Get(Classifier)
	var buf bytes.Buffer
	l.SetOutput(&buf)

	l.WithField("page_id", "p1").Info("cycle done")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "classifier", entry["component"])
	assert.Equal(t, "p1", entry["page_id"])
	assert.Equal(t, "cycle done", entry["message"])
}

func TestInit_FileOutputCreatesDir(t *testing.T) {
	dir := t.TempDir() + "/nested"
	require.NoError(t, Init(config.LoggingConfig{Level: "info", Format: "text", Output: "file", Dir: dir, MaxSize: 1}))

	Get(App).Info("hello")
	assert.DirExists(t, dir)
	assert.FileExists(t, dir+"/app.log")
}

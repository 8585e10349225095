package logger

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_JSONInProduction(t *testing.T) {
	var buf bytes.Buffer
	Init(false, &buf)

	WithFields(logrus.Fields{"source": "otx"}).Info("run finished")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "run finished", entry["msg"])
	assert.Equal(t, "otx", entry["source"])
}

func TestInit_DebugEnablesDebugLevel(t *testing.T) {
	var buf bytes.Buffer
	Init(true, &buf)

	Log().Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestConfigure_LevelOverride(t *testing.T) {
	var buf bytes.Buffer
	Configure(Options{Level: "warn", Out: &buf})

	Log().Info("hidden")
	Log().Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestConfigure_RotatedFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "collector.log")
	Configure(Options{File: path, Out: &buf})

	Log().Info("to both")
	assert.Contains(t, buf.String(), "to both")
	assert.FileExists(t, path)

	Init(false, nil)
}

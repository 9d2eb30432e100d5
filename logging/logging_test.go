package logging

import (
	"bytes"
	"os"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/gotestyourself/gotestyourself/assert"
)

func TestSetupLevels(t *testing.T) {
	Setup(0)
	assert.Equal(t, Log.GetLevel(), logrus.WarnLevel)
	Setup(1)
	assert.Equal(t, Log.GetLevel(), logrus.InfoLevel)
	Setup(2)
	assert.Equal(t, Log.GetLevel(), logrus.DebugLevel)
	Setup(5)
	assert.Equal(t, Log.GetLevel(), logrus.DebugLevel)
}

func TestWithTaskFields(t *testing.T) {
	entry := WithTask("compile", "main.c")
	assert.Equal(t, entry.Data["kind"], "compile")
	assert.Equal(t, entry.Data["name"], "main.c")
}

func TestEchoCommandRespectsFlags(t *testing.T) {
	defer func() {
		PrintAllCommands = false
		PrintBuildCommands = false
	}()

	captured := captureStdout(t, func() {
		PrintAllCommands, PrintBuildCommands = false, false
		EchoCommand([]string{"cc", "-c", "a.c"})
	})
	assert.Equal(t, captured, "")

	captured = captureStdout(t, func() {
		PrintBuildCommands = true
		EchoCommand([]string{"cc", "-c", "a.c"})
	})
	assert.Equal(t, captured, "cc -c a.c\n")
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	assert.NilError(t, err)
	os.Stdout = w
	fn()
	assert.NilError(t, w.Close())
	os.Stdout = old

	var buf bytes.Buffer
	_, err = buf.ReadFrom(r)
	assert.NilError(t, err)
	return buf.String()
}

package common

import (
	"bytes"
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeLogrus(buf *bytes.Buffer) *logrus.Logger {
	return &logrus.Logger{
		Out:       buf,
		Formatter: &logrus.JSONFormatter{DisableTimestamp: true},
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.DebugLevel,
	}
}

func TestBuildHook(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := makeLogrus(buf)
	logger.AddHook(&BuildHook{})

	logger.Info("test message")
	assert.Contains(t, buf.String(), `"build_commit":"`+BuildCommit+`"`)
	assert.Contains(t, buf.String(), `"build_time":"`)
}

func TestCtxHookOperationID(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := makeLogrus(buf)
	logger.AddHook(&ctxHook{})

	ctx := WithOperationID(context.Background(), "2Dv1Vy6Dfqfb9fg3R1aXlEqhRzq")
	logger.WithContext(ctx).Warn("slow request")
	assert.Contains(t, buf.String(), `"operationID":"2Dv1Vy6Dfqfb9fg3R1aXlEqhRzq"`)
	assert.Equal(t, "2Dv1Vy6Dfqfb9fg3R1aXlEqhRzq", OperationID(ctx))
	assert.Equal(t, "", OperationID(context.Background()))
}

func TestStringifyKey(t *testing.T) {
	assert.Equal(t, "OPERATIONID", stringifyKey("operationID"))
	assert.Equal(t, "BUILD_COMMIT", stringifyKey("build_commit"))
	assert.Equal(t, "TASK_NAME", stringifyKey("_task.name"))
}

func TestConfigureLoggingBadLevel(t *testing.T) {
	require.Error(t, ConfigureLogging("chatty", false, "anaconda"))
}

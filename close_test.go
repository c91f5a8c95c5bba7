package protomodel

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCloser struct {
	closeErr   error
	closeCalls int
}

func (m *mockCloser) Close() error {
	m.closeCalls++
	return m.closeErr
}

func TestCloseWithLog(t *testing.T) {
	tests := []struct {
		name     string
		closeErr error
		wantLogs []string
	}{
		{
			name: "successful close logs nothing",
		},
		{
			name:     "close error is logged as warning",
			closeErr: errors.New("database is locked"),
			wantLogs: []string{"failed to close resource", "rows", "database is locked", "level=WARN"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logBuf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&logBuf, nil))
			closer := &mockCloser{closeErr: tt.closeErr}

			CloseWithLog(closer, logger, "rows")

			assert.Equal(t, 1, closer.closeCalls, "should call Close once")
			if len(tt.wantLogs) == 0 {
				assert.Empty(t, logBuf.String())
				return
			}
			for _, want := range tt.wantLogs {
				assert.Contains(t, logBuf.String(), want)
			}
		})
	}
}

func TestCloseWithLog_NilCloser(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))

	CloseWithLog(nil, logger, "rows")

	assert.Empty(t, logBuf.String(), "should not log for nil closer")
}

func TestCloseWithLog_NilLogger(t *testing.T) {
	closer := &mockCloser{closeErr: errors.New("test error")}

	require.NotPanics(t, func() {
		CloseWithLog(closer, nil, "rows")
	})
	assert.Equal(t, 1, closer.closeCalls)
}

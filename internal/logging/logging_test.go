package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/op/go-logging.v1"
)

type bufCloser struct{ bytes.Buffer }

func (*bufCloser) Close() error { return nil }

func TestParseLevel(t *testing.T) {
	cases := map[string]logging.Level{
		"debug":   logging.DEBUG,
		"INFO":    logging.INFO,
		"":        logging.INFO,
		"warn":    logging.WARNING,
		"Warning": logging.WARNING,
		"notice":  logging.NOTICE,
		"error":   logging.ERROR,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestBackend_FiltersByLevelAndTagsModule(t *testing.T) {
	buf := &bufCloser{}
	b := NewWithWriter(buf, logging.NOTICE)
	log := b.GetLogger("gateway")

	log.Debug("hidden")
	log.Noticef("connection %s verified", "c-1")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "gateway: connection c-1 verified")
	require.Contains(t, out, "NOTI")
	require.NoError(t, b.Close())
}

func TestNew_RejectsBadLevel(t *testing.T) {
	_, err := New("", "chatty", false)
	require.Error(t, err)

	b, err := New("", "info", true)
	require.NoError(t, err)
	b.GetLogger("x").Error("discarded")
	require.NoError(t, b.Close())
}

package monitoring_test

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"

	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ijonas/omikuji/internal/logger"
	"github.com/ijonas/omikuji/internal/monitoring"
	"github.com/ijonas/omikuji/internal/services"
)

func freePort(t *testing.T) uint16 {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return uint16(l.Addr().(*net.TCPAddr).Port)
}

func TestServer_ServesMetricsAndHealth(t *testing.T) {
	RegisterTestingT(t)

	port := freePort(t)
	checker := services.NewChecker()
	require.NoError(t, checker.Start())
	defer checker.Close()

	srv := monitoring.NewServer(port, checker, logger.CreateTestLogger())
	require.NoError(t, srv.Start())
	defer func() { assert.NoError(t, srv.Close()) }()

	monitoring.SetFeedValue("eth_usd", "base-sepolia", 3021.55)

	Eventually(func() int {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/metrics", port))
		if err != nil {
			return 0
		}
		defer resp.Body.Close()
		return resp.StatusCode
	}, "2s", "50ms").Should(Equal(http.StatusOK))

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/metrics", port))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "omikuji_feed_value")

	health, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestServer_DoubleStartErrors(t *testing.T) {
	port := freePort(t)
	srv := monitoring.NewServer(port, services.NewChecker(), logger.CreateTestLogger())
	require.NoError(t, srv.Start())
	defer srv.Close()

	require.Error(t, srv.Start())
}

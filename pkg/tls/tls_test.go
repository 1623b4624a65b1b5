package tls

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelfSignedServerAndClient(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "tls", "server.crt")
	keyFile := filepath.Join(dir, "tls", "server.key")

	serverCfg, err := ServerConfig(certFile, keyFile, true, "127.0.0.1")
	require.NoError(t, err)
	assert.FileExists(t, certFile)
	assert.FileExists(t, keyFile)

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	srv.TLS = serverCfg
	srv.StartTLS()
	defer srv.Close()

	clientCfg, err := ClientConfig(certFile)
	require.NoError(t, err)
	hc := &http.Client{Transport: &http.Transport{TLSClientConfig: clientCfg}}

	resp, err := hc.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServerConfigWithoutFiles(t *testing.T) {
	dir := t.TempDir()
	_, err := ServerConfig(filepath.Join(dir, "a.crt"), filepath.Join(dir, "a.key"), false)
	assert.Error(t, err)

	_, err = ServerConfig("", "", true)
	assert.Error(t, err)
}

func TestClientConfigEmptyUsesSystemRoots(t *testing.T) {
	cfg, err := ClientConfig("")
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

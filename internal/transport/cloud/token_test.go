package cloud

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeToken(t *testing.T, claims string) string {
	t.Helper()
	enc := base64.RawURLEncoding.EncodeToString
	return enc([]byte(`{"alg":"HS256","typ":"JWT"}`)) + "." +
		enc([]byte(claims)) + "." +
		enc([]byte("signature"))
}

func TestServerFromToken(t *testing.T) {
	server, err := ServerFromToken(fakeToken(t,
		`{"user_api_url":"https://shelly-56-eu.shelly.cloud"}`))
	require.NoError(t, err)
	assert.Equal(t, "shelly-56-eu.shelly.cloud", server)

	// bare host claim, no scheme
	server, err = ServerFromToken(fakeToken(t,
		`{"user_api_url":"shelly-3-eu.shelly.cloud"}`))
	require.NoError(t, err)
	assert.Equal(t, "shelly-3-eu.shelly.cloud", server)
}

func TestServerFromTokenErrors(t *testing.T) {
	_, err := ServerFromToken("not-a-jwt")
	assert.Error(t, err)

	_, err = ServerFromToken(fakeToken(t, `{"sub":"someone"}`))
	assert.Error(t, err)
}

func TestDeviceIDString(t *testing.T) {
	assert.Equal(t, "shellyplus1pm-a8032ab12345", deviceIDString("shellyplus1pm-a8032ab12345"))
	assert.Equal(t, "69c0d1", deviceIDString(float64(0x69c0d1)))
	assert.Equal(t, "", deviceIDString(nil))
}

package coiot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildReport assembles a NON 2.05 datagram with the two vendor options and
// a JSON payload, the way devices emit /cit/s reports.
func buildReport(deviceID string, serial uint16, payload string) []byte {
	d := []byte{0x50, 0x45, 0x00, 0x01}

	// option 3332: delta 3332 needs the two-byte extended form
	ext := 3332 - 269
	d = append(d, 0xe0|byte(13)) // delta nibble 14, length nibble 13
	d = append(d, byte(ext>>8), byte(ext&0xff))
	d = append(d, byte(len(deviceID)-13))
	d = append(d, deviceID...)

	// option 3412: delta 80 fits the one-byte extended form
	d = append(d, 0xd0|0x02, byte(80-13))
	d = append(d, byte(serial>>8), byte(serial&0xff))

	d = append(d, 0xff)
	d = append(d, payload...)
	return d
}

func TestRawOptions(t *testing.T) {
	datagram := buildReport("SHSW-25#69C0D1#2", 4242, `{"G":[]}`)

	opts, err := rawOptions(datagram)
	require.NoError(t, err)
	assert.Equal(t, "SHSW-25#69C0D1#2", string(opts[optGlobalDeviceID]))
	assert.Equal(t, 4242, beInt(opts[optStatusSerial]))
}

func TestDecodePayloadPropertyChannels(t *testing.T) {
	byChannel, err := decodePayload([]byte(
		`{"G":[[0,1101,1],[0,1201,0],[0,4101,20.5],[0,4103,300],[0,3104,41.2],[0,9999,1]]}`))
	require.NoError(t, err)

	require.Len(t, byChannel, 2)
	assert.Equal(t, float64(1), byChannel[0]["output"])
	assert.Equal(t, float64(0), byChannel[1]["output"])
	assert.Equal(t, 20.5, byChannel[0]["power"])
	assert.Equal(t, float64(300), byChannel[0]["energy"])
	assert.Equal(t, 41.2, byChannel[0]["deviceTemp"])
}

func TestDecodePayloadStringValues(t *testing.T) {
	byChannel, err := decodePayload([]byte(`{"G":[[0,2102,"S"],[0,2103,1]]}`))
	require.NoError(t, err)
	assert.Equal(t, "S", byChannel[0]["inputEvent"])
}

func TestDecodePayloadRejectsUnknown(t *testing.T) {
	_, err := decodePayload([]byte(`{"G":[[0,42,1]]}`))
	assert.Error(t, err)

	_, err = decodePayload([]byte(`not json`))
	assert.Error(t, err)
}

func TestSplitDeviceID(t *testing.T) {
	model, id := splitDeviceID("SHSW-25#69C0D1#2")
	assert.Equal(t, "SHSW-25", model)
	assert.Equal(t, "69c0d1", id)

	model, id = splitDeviceID("shellydw2-AABBCC")
	assert.Empty(t, model)
	assert.Equal(t, "shellydw2-aabbcc", id)
}

func TestDecodeProp(t *testing.T) {
	field, ch, ok := decodeProp(1101)
	require.True(t, ok)
	assert.Equal(t, "output", field)
	assert.Equal(t, 0, ch)

	field, ch, ok = decodeProp(1301)
	require.True(t, ok)
	assert.Equal(t, "output", field)
	assert.Equal(t, 2, ch)

	_, _, ok = decodeProp(7777)
	assert.False(t, ok)
}

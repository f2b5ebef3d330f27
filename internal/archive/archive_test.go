package archive

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildEntry assembles one local file header + payload by hand.
func buildEntry(t *testing.T, name string, data []byte, method uint16, flags uint16) []byte {
	t.Helper()

	payload := data
	if method == methodDeflate {
		var buf bytes.Buffer
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
		require.NoError(t, w.Close())
		payload = buf.Bytes()
	}

	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[0:], headerSignature)
	binary.LittleEndian.PutUint16(header[4:], 20) // version needed
	binary.LittleEndian.PutUint16(header[6:], flags)
	binary.LittleEndian.PutUint16(header[8:], method)
	binary.LittleEndian.PutUint32(header[18:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[22:], uint32(len(data)))
	binary.LittleEndian.PutUint16(header[26:], uint16(len(name)))
	binary.LittleEndian.PutUint16(header[28:], 0)

	out := append(header, []byte(name)...)
	return append(out, payload...)
}

func TestExtract_RoundTrip(t *testing.T) {
	storedDoc := []byte("<factura><claveAcceso>111</claveAcceso></factura>")
	deflatedDoc := []byte("<factura><claveAcceso>222</claveAcceso></factura>")

	var zipData []byte
	zipData = append(zipData, buildEntry(t, "stored.xml", storedDoc, methodStored, 0)...)
	zipData = append(zipData, buildEntry(t, "deflated.xml", deflatedDoc, methodDeflate, 0)...)

	entries, err := Extract(zipData, nil)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "stored.xml", entries[0].Name)
	assert.Equal(t, storedDoc, entries[0].Data)
	assert.Equal(t, "deflated.xml", entries[1].Name)
	assert.Equal(t, deflatedDoc, entries[1].Data)
}

func TestExtract_IgnoresNonDocumentEntries(t *testing.T) {
	var zipData []byte
	zipData = append(zipData, buildEntry(t, "logo.png", []byte{0x89, 'P', 'N', 'G'}, methodStored, 0)...)
	zipData = append(zipData, buildEntry(t, "factura.xml", []byte("<factura/>"), methodStored, 0)...)

	entries, err := Extract(zipData, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "factura.xml", entries[0].Name)
}

func TestExtract_SkipsCorruptEntry(t *testing.T) {
	good := buildEntry(t, "good.xml", []byte("<factura/>"), methodStored, 0)

	// Corrupt entry claims a payload far beyond the buffer.
	corrupt := buildEntry(t, "bad.xml", []byte("<factura/>"), methodStored, 0)
	binary.LittleEndian.PutUint32(corrupt[18:], 1<<20)

	zipData := append(corrupt, good...)

	var skipped []error
	entries, err := Extract(zipData, func(name string, reason error) {
		skipped = append(skipped, reason)
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "good.xml", entries[0].Name)
	assert.Len(t, skipped, 1)
}

func TestExtract_SkipsUnsupportedMethod(t *testing.T) {
	const methodBzip2 = 12
	zipData := buildEntry(t, "exotic.xml", []byte("<factura/>"), methodBzip2, 0)
	zipData = append(zipData, buildEntry(t, "plain.xml", []byte("<factura/>"), methodStored, 0)...)

	var skipped int
	entries, err := Extract(zipData, func(string, error) { skipped++ })
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "plain.xml", entries[0].Name)
	assert.Equal(t, 1, skipped)
}

func TestExtract_SkipsDataDescriptorEntry(t *testing.T) {
	// Streamed writers leave sizes zero and set flag bit 3; the payload
	// cannot be sliced without the central directory.
	streamed := buildEntry(t, "streamed.xml", nil, methodDeflate, flagDataDescriptor)
	binary.LittleEndian.PutUint32(streamed[18:], 0)

	zipData := append(streamed, buildEntry(t, "ok.xml", []byte("<factura/>"), methodStored, 0)...)

	var skipped int
	entries, err := Extract(zipData, func(string, error) { skipped++ })
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ok.xml", entries[0].Name)
	assert.Equal(t, 1, skipped)
}

func TestExtract_CorruptDeflateStream(t *testing.T) {
	broken := buildEntry(t, "broken.xml", []byte("<factura/>"), methodStored, 0)
	// Claim deflate but keep the stored payload, which is not a valid stream.
	binary.LittleEndian.PutUint16(broken[8:], methodDeflate)

	var skipped int
	entries, err := Extract(broken, func(string, error) { skipped++ })
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, 1, skipped)
}

func TestExtract_NotAnArchive(t *testing.T) {
	_, err := Extract([]byte("<factura/>"), nil)
	require.Error(t, err)
}

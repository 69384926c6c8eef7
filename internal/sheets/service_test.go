package sheets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractSpreadsheetID(t *testing.T) {
	id, err := extractSpreadsheetID("https://docs.google.com/spreadsheets/d/1AbC-dEf_GhIjKlMnOpQrStUvWxYz/edit#gid=0")
	require.NoError(t, err)
	assert.Equal(t, "1AbC-dEf_GhIjKlMnOpQrStUvWxYz", id)

	id, err = extractSpreadsheetID("1AbC-dEf_GhIjKlMnOpQrStUvWxYz")
	require.NoError(t, err)
	assert.Equal(t, "1AbC-dEf_GhIjKlMnOpQrStUvWxYz", id)

	_, err = extractSpreadsheetID("https://example.com/sheet")
	assert.Error(t, err)
}

func TestNewSheetsService_MissingCredentials(t *testing.T) {
	_, err := NewSheetsService(context.Background(), Config{
		Spreadsheet: "https://docs.google.com/spreadsheets/d/1AbC-dEf_GhIjKlMnOpQrStUvWxYz/edit",
	})
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

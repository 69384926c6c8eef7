package sheets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"ledgersync/internal/logger"
)

const (
	// RenderFormatted returns values as displayed in the sheet.
	RenderFormatted = "FORMATTED_VALUE"
	// RenderUnformatted returns numbers as numbers, independent of locale.
	RenderUnformatted = "UNFORMATTED_VALUE"
)

// ErrMissingCredentials is returned when no service account key is configured.
var ErrMissingCredentials = errors.New("missing Google service account credentials")

// Config selects the spreadsheet and the service account used to reach it.
type Config struct {
	Spreadsheet     string // Spreadsheet URL or bare ID
	CredentialsFile string // Path to a service account JSON key
	CredentialsJSON string // Inline service account JSON key, used when CredentialsFile is empty
}

// Service handles Google Sheets operations
type Service struct {
	sheetsService *sheets.Service
	spreadsheetID string
	log           zerolog.Logger
}

// RangeValues is one A1 range and the values to write into it.
type RangeValues struct {
	Range  string
	Values [][]interface{}
}

// NewSheetsService creates a new Google Sheets service
func NewSheetsService(ctx context.Context, cfg Config) (*Service, error) {
	const op = "NewSheetsService"

	log := logger.WithComponent("sheets")

	spreadsheetID, err := extractSpreadsheetID(cfg.Spreadsheet)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to extract spreadsheet ID: %w", op, err)
	}

	log.Debug().Str("spreadsheet_id", spreadsheetID).Msg("Extracted spreadsheet ID")

	var creds []byte
	switch {
	case cfg.CredentialsFile != "":
		creds, err = os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to read credentials file: %w", op, err)
		}
	case cfg.CredentialsJSON != "":
		creds = []byte(cfg.CredentialsJSON)
	default:
		return nil, fmt.Errorf("%s: %w", op, ErrMissingCredentials)
	}

	config, err := google.JWTConfigFromJSON(creds, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse credentials: %w", op, err)
	}

	client := config.Client(ctx)
	sheetsService, err := sheets.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create sheets service: %w", op, err)
	}

	return &Service{
		sheetsService: sheetsService,
		spreadsheetID: spreadsheetID,
		log:           log,
	}, nil
}

var (
	spreadsheetURLPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9-_]+)`)
	spreadsheetIDPattern  = regexp.MustCompile(`^[a-zA-Z0-9-_]{20,}$`)
)

// extractSpreadsheetID accepts a Google Sheets URL or a bare spreadsheet ID.
func extractSpreadsheetID(ref string) (string, error) {
	if matches := spreadsheetURLPattern.FindStringSubmatch(ref); len(matches) == 2 {
		return matches[1], nil
	}
	if spreadsheetIDPattern.MatchString(ref) {
		return ref, nil
	}
	return "", fmt.Errorf("invalid Google Sheets URL format")
}

// SpreadsheetID returns the ID of the spreadsheet the service writes to.
func (s *Service) SpreadsheetID() string {
	return s.spreadsheetID
}

// ReadRange reads values from a specified range in the spreadsheet, as displayed.
func (s *Service) ReadRange(ctx context.Context, rangeSpec string) ([][]interface{}, error) {
	return s.readRange(ctx, "ReadRange", rangeSpec, RenderFormatted)
}

// ReadRangeRaw reads the underlying cell values of a range. Numeric cells
// come back as float64 regardless of the sheet's number format or locale.
func (s *Service) ReadRangeRaw(ctx context.Context, rangeSpec string) ([][]interface{}, error) {
	return s.readRange(ctx, "ReadRangeRaw", rangeSpec, RenderUnformatted)
}

func (s *Service) readRange(ctx context.Context, op, rangeSpec, render string) ([][]interface{}, error) {
	s.log.Debug().
		Str("range", rangeSpec).
		Str("render", render).
		Msg("Reading range from spreadsheet")

	resp, err := s.sheetsService.Spreadsheets.Values.Get(s.spreadsheetID, rangeSpec).
		ValueRenderOption(render).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read range %s: %w", op, rangeSpec, err)
	}

	s.log.Debug().
		Int("rows", len(resp.Values)).
		Str("range", rangeSpec).
		Msg("Successfully read range from spreadsheet")

	return resp.Values, nil
}

// BatchWrite writes every range in a single API call. Values are stored as
// given, without being parsed as user input.
func (s *Service) BatchWrite(ctx context.Context, updates []RangeValues) error {
	const op = "BatchWrite"

	if len(updates) == 0 {
		return nil
	}

	data := make([]*sheets.ValueRange, 0, len(updates))
	for _, u := range updates {
		data = append(data, &sheets.ValueRange{Range: u.Range, Values: u.Values})
	}

	req := &sheets.BatchUpdateValuesRequest{
		ValueInputOption: "RAW",
		Data:             data,
	}

	resp, err := s.sheetsService.Spreadsheets.Values.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to write %d ranges: %w", op, len(updates), err)
	}

	s.log.Info().
		Int("ranges", len(updates)).
		Int64("cells_updated", resp.TotalUpdatedCells).
		Msg("Successfully wrote ranges to spreadsheet")

	return nil
}

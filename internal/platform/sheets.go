package platform

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetRow is one schedule line read from the spreadsheet. RowIndex is the
// 1-based sheet row, used to write the outcome back next to the input.
type SheetRow struct {
	RowIndex      int64
	Message       string
	ChannelIDs    []int64
	ScheduledTime time.Time
	Status        string
	MediaURLs     []string
	Campaign      string
}

// SheetSource is the spreadsheet as the sync engine sees it: a list of rows
// plus per-row outcome write-back.
type SheetSource interface {
	Rows(ctx context.Context) ([]*SheetRow, error)
	MarkSynced(ctx context.Context, rowIndex, postID int64) error
	MarkFailed(ctx context.Context, rowIndex int64, reason string) error
}

// SheetsClient reads the schedule sheet through the Google Sheets API with a
// service account. Times on the sheet are wall-clock in the configured
// timezone and come back as UTC.
type SheetsClient struct {
	svc       *sheets.Service
	sheetID   string
	sheetName string
	loc       *time.Location
}

func NewSheetsClient(ctx context.Context, credentialsFile, sheetID, sheetName, timezone string) (*SheetsClient, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid sheet timezone %q: %w", timezone, err)
	}

	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("reading google credentials: %w", err)
	}
	conf, err := google.JWTConfigFromJSON(data, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parsing google credentials: %w", err)
	}

	svc, err := sheets.NewService(ctx, option.WithHTTPClient(conf.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}

	return &SheetsClient{
		svc:       svc,
		sheetID:   sheetID,
		sheetName: sheetName,
		loc:       loc,
	}, nil
}

// Rows reads every data row (the first row is headers). Malformed cells do
// not abort the read: a bad scheduled time leaves the zero time on the row
// and the sync engine rejects it there, where the rejection can be written
// back to the sheet.
func (c *SheetsClient) Rows(ctx context.Context) ([]*SheetRow, error) {
	readRange := fmt.Sprintf("'%s'!A2:J", c.sheetName)
	resp, err := c.svc.Spreadsheets.Values.Get(c.sheetID, readRange).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("reading sheet %s: %w", c.sheetID, err)
	}

	var rows []*SheetRow
	for i, raw := range resp.Values {
		row := &SheetRow{
			RowIndex: int64(i + 2),
			Message:  cell(raw, 0),
			Status:   strings.ToLower(cell(raw, 3)),
			Campaign: cell(raw, 5),
		}

		for _, part := range strings.Split(cell(raw, 1), ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if id, convErr := strconv.ParseInt(part, 10, 64); convErr == nil {
				row.ChannelIDs = append(row.ChannelIDs, id)
			}
		}

		if ts := cell(raw, 2); ts != "" {
			if t, parseErr := time.ParseInLocation("2006-01-02 15:04", ts, c.loc); parseErr == nil {
				row.ScheduledTime = t.UTC()
			}
		}

		for _, u := range strings.Split(cell(raw, 4), ",") {
			if u = strings.TrimSpace(u); u != "" {
				row.MediaURLs = append(row.MediaURLs, u)
			}
		}

		rows = append(rows, row)
	}
	return rows, nil
}

// MarkSynced writes the synced status and the created post id back onto the
// row so sheet editors see what happened to their line.
func (c *SheetsClient) MarkSynced(ctx context.Context, rowIndex, postID int64) error {
	if err := c.writeCell(ctx, "D", rowIndex, "synced"); err != nil {
		return err
	}
	return c.writeCell(ctx, "I", rowIndex, strconv.FormatInt(postID, 10))
}

// MarkFailed records a truncated rejection reason in the status column.
func (c *SheetsClient) MarkFailed(ctx context.Context, rowIndex int64, reason string) error {
	if len(reason) > 50 {
		reason = reason[:50]
	}
	return c.writeCell(ctx, "D", rowIndex, "error: "+reason)
}

func (c *SheetsClient) writeCell(ctx context.Context, column string, rowIndex int64, value string) error {
	target := fmt.Sprintf("'%s'!%s%d", c.sheetName, column, rowIndex)
	body := &sheets.ValueRange{Values: [][]interface{}{{value}}}
	_, err := c.svc.Spreadsheets.Values.Update(c.sheetID, target, body).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("updating sheet cell %s: %w", target, err)
	}
	return nil
}

func cell(row []interface{}, i int) string {
	if i >= len(row) {
		return ""
	}
	s, _ := row[i].(string)
	return strings.TrimSpace(s)
}

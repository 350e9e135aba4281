// Package exports renders reservation history as downloadable files.
package exports

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/parkez/parkez-backend/internal/reservations"
	pkgerrors "github.com/parkez/parkez-backend/pkg/errors"
)

// Columns is the CSV header row.
var Columns = []string{
	"reservation_id",
	"lot_id",
	"lot_name",
	"spot_id",
	"spot_number",
	"start_time",
	"end_time",
	"duration_seconds",
	"cost",
	"notes",
}

type lister interface {
	List(ctx context.Context, f reservations.Filter) ([]reservations.Detail, error)
}

type Service struct {
	repo lister
}

func NewService(repo lister) *Service {
	return &Service{repo: repo}
}

// FileName is the suggested attachment name for a user's export.
func FileName(userID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("reservations_%s_%s.csv", userID.String(), at.UTC().Format("20060102T150405Z"))
}

// WriteUserCSV writes every reservation of userID, newest first.
func (s *Service) WriteUserCSV(ctx context.Context, w io.Writer, userID uuid.UUID) (int, error) {
	rows, err := s.repo.List(ctx, reservations.Filter{UserID: &userID})
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list reservations")
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return 0, err
	}
	for _, row := range rows {
		if err := cw.Write(record(reservations.EntryFromDetail(row))); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	return len(rows), cw.Error()
}

func record(e reservations.Entry) []string {
	rec := []string{
		strconv.FormatInt(e.ID, 10),
		strconv.FormatInt(e.LotID, 10),
		e.LotName,
		strconv.FormatInt(e.SpotID, 10),
		e.SpotNumber,
		e.StartTime.UTC().Format(time.RFC3339),
		"",
		"",
		"",
		"",
	}
	if e.EndTime != nil {
		rec[6] = e.EndTime.UTC().Format(time.RFC3339)
	}
	if e.DurationSeconds != nil {
		rec[7] = strconv.FormatInt(*e.DurationSeconds, 10)
	}
	if e.Cost != nil {
		rec[8] = e.Cost.StringFixed(2)
	}
	if e.Notes != nil {
		rec[9] = *e.Notes
	}
	return rec
}

package controllers

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/parkez/parkez-backend/api/responses"
	"github.com/parkez/parkez-backend/api/validators"
	"github.com/parkez/parkez-backend/internal/booking"
	"github.com/parkez/parkez-backend/internal/exports"
	"github.com/parkez/parkez-backend/internal/reservations"
	pkgerrors "github.com/parkez/parkez-backend/pkg/errors"
	"github.com/parkez/parkez-backend/pkg/logger"
)

const maxNotesLength = 500

type reserveRequest struct {
	LotID int64   `json:"lot_id" validate:"required,gt=0"`
	Notes *string `json:"notes" validate:"omitempty,max=500"`
}

type releaseRequest struct {
	Notes       *string `json:"notes" validate:"omitempty,max=500"`
	Recalculate bool    `json:"recalculate"`
}

// Reserve claims a spot in the requested lot for the caller.
func Reserve(svc BookingService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := requesterFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body reserveRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Reserve(r.Context(), req, booking.ReserveInput{
			LotID: body.LotID,
			Notes: validators.SanitizeOptional(body.Notes, maxNotesLength),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// Release ends a reservation. recalculate is ignored for non-admins.
func Release(svc BookingService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := requesterFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reservationID, err := validators.ParseIDParam(r, "reservationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body releaseRequest
		if err := validators.DecodeOptionalJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Release(r.Context(), req, reservationID, booking.ReleaseInput{
			Notes:       validators.SanitizeOptional(body.Notes, maxNotesLength),
			Recalculate: body.Recalculate && req.IsAdmin(),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// MyReservations lists the caller's history, newest first.
func MyReservations(svc HistoryService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := requesterFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeHistory(w, r, svc, logg, req.UserID)
	}
}

// UserReservations lists another user's history; only that user or an admin may read it.
func UserReservations(svc HistoryService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := requesterFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		target, err := validators.ParseUUIDParam(r, "userId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if target != req.UserID && !req.IsAdmin() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "cannot read another user's reservations"))
			return
		}
		writeHistory(w, r, svc, logg, target)
	}
}

func writeHistory(w http.ResponseWriter, r *http.Request, svc HistoryService, logg *logger.Logger, userID uuid.UUID) {
	q, err := historyQuery(r)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	entries, err := svc.ForUser(r.Context(), userID, q)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	responses.WriteSuccess(w, entries)
}

func historyQuery(r *http.Request) (reservations.HistoryQuery, error) {
	var q reservations.HistoryQuery
	var err error
	if q.From, err = validators.ParseQueryTime(r, "from"); err != nil {
		return q, err
	}
	if q.To, err = validators.ParseQueryTime(r, "to"); err != nil {
		return q, err
	}
	q.Limit, err = validators.ParseQueryInt(r, "limit", 0, 1, 1000)
	return q, err
}

// ExportMyReservations streams the caller's full history as a CSV attachment.
func ExportMyReservations(svc ExportService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := requesterFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var buf bytes.Buffer
		count, err := svc.WriteUserCSV(r.Context(), &buf, req.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, exports.FileName(req.UserID, time.Now())))
		w.Header().Set("X-Row-Count", strconv.Itoa(count))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
	}
}

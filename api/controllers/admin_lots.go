package controllers

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/parkez/parkez-backend/api/responses"
	"github.com/parkez/parkez-backend/api/validators"
	"github.com/parkez/parkez-backend/internal/lots"
	"github.com/parkez/parkez-backend/pkg/logger"
)

type createLotRequest struct {
	Name         string          `json:"name" validate:"required,max=255"`
	Address      string          `json:"address" validate:"max=500"`
	PricePerHour decimal.Decimal `json:"price_per_hour"`
	Capacity     int             `json:"capacity" validate:"gte=0,lte=10000"`
}

type updateLotRequest struct {
	Name         *string          `json:"name" validate:"omitempty,max=255"`
	Address      *string          `json:"address" validate:"omitempty,max=500"`
	PricePerHour *decimal.Decimal `json:"price_per_hour"`
	Capacity     *int             `json:"capacity" validate:"omitempty,gte=0,lte=10000"`
}

type renameSpotRequest struct {
	Number string `json:"number" validate:"required,max=32"`
}

func AdminCreateLot(svc AdminLotService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body createLotRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		lot, err := svc.Create(r.Context(), lots.CreateInput{
			Name:         body.Name,
			Address:      body.Address,
			PricePerHour: body.PricePerHour,
			Capacity:     body.Capacity,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, lot)
	}
}

// AdminListLots returns every lot with live occupancy counts.
func AdminListLots(svc AdminLotService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summaries, err := svc.Summaries(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summaries)
	}
}

func AdminGetLot(svc AdminLotService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lotID, err := validators.ParseIDParam(r, "lotId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		lot, err := svc.Get(r.Context(), lotID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, lot)
	}
}

func AdminUpdateLot(svc AdminLotService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lotID, err := validators.ParseIDParam(r, "lotId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body updateLotRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Update(r.Context(), lotID, lots.UpdateInput{
			Name:         body.Name,
			Address:      body.Address,
			PricePerHour: body.PricePerHour,
			Capacity:     body.Capacity,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func AdminDeleteLot(svc AdminLotService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lotID, err := validators.ParseIDParam(r, "lotId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Delete(r.Context(), lotID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"deleted": lotID})
	}
}

// AdminLotSpots lists a lot's spots with open reservations and cost estimates.
func AdminLotSpots(svc AdminLotService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lotID, err := validators.ParseIDParam(r, "lotId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out, err := svc.Spots(r.Context(), lotID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, out)
	}
}

func AdminRenameSpot(svc AdminLotService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lotID, err := validators.ParseIDParam(r, "lotId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		spotID, err := validators.ParseIDParam(r, "spotId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body renameSpotRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.RenameSpot(r.Context(), lotID, spotID, body.Number); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"lot_id": lotID, "spot_id": spotID, "number": body.Number})
	}
}

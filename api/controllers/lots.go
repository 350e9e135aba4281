package controllers

import (
	"net/http"

	"github.com/parkez/parkez-backend/api/responses"
	"github.com/parkez/parkez-backend/api/validators"
	"github.com/parkez/parkez-backend/pkg/logger"
)

func PublicLotSummaries(svc PublicLotService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summaries, err := svc.Summaries(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summaries)
	}
}

func PublicLotSpots(svc PublicLotService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lotID, err := validators.ParseIDParam(r, "lotId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		spots, err := svc.PublicSpots(r.Context(), lotID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, spots)
	}
}

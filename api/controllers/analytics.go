package controllers

import (
	"net/http"

	"github.com/parkez/parkez-backend/api/responses"
	"github.com/parkez/parkez-backend/pkg/logger"
)

func AdminAnalyticsSummary(svc AnalyticsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := svc.Summary(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

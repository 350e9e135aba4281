package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/parkez/parkez-backend/api/middleware"
	"github.com/parkez/parkez-backend/internal/booking"
	"github.com/parkez/parkez-backend/pkg/enums"
	pkgerrors "github.com/parkez/parkez-backend/pkg/errors"
)

func requesterFrom(r *http.Request) (booking.Requester, error) {
	userID, err := uuid.Parse(middleware.UserIDFromContext(r.Context()))
	if err != nil {
		return booking.Requester{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid user context")
	}
	return booking.Requester{
		UserID: userID,
		Role:   enums.UserRole(middleware.RoleFromContext(r.Context())),
	}, nil
}

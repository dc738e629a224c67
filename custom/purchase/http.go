package purchase

import (
	"errors"
	"net/http"

	"preorder_hub/constants"
	"preorder_hub/custom/auth"
	"preorder_hub/custom/util"
)

type HandlerContext struct {
	service        *Service
	publishableKey string
}

type ConfigResponse struct {
	PublishableKey string `json:"publishableKey"`
}

func (ctx *HandlerContext) InitialHandlerContext(service *Service, publishableKey string) {
	ctx.service = service
	ctx.publishableKey = publishableKey
}

// CreatePaymentIntent starts a one-time payment or a subscription for the session user.
func (ctx *HandlerContext) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	if !util.IsAllowHttpMethod([]string{http.MethodPost}, w, r) {
		return
	}
	principal := auth.PrincipalFrom(r.Context())
	if principal == nil {
		util.WriteError(w, http.StatusUnauthorized, constants.UNAUTHORIZED)
		return
	}

	req := Request{}
	if err := util.FetchReqObject(r, &req); err != nil {
		util.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := ctx.service.InitiatePurchase(r.Context(), principal, req)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnauthorized):
			util.WriteError(w, http.StatusUnauthorized, err.Error())
		case errors.Is(err, ErrValidation):
			util.WriteError(w, http.StatusBadRequest, err.Error())
		default:
			util.WriteError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	util.WriteJSON(w, http.StatusCreated, result)
}

func (ctx *HandlerContext) PaymentConfig(w http.ResponseWriter, r *http.Request) {
	if !util.IsAllowHttpMethod([]string{http.MethodGet}, w, r) {
		return
	}
	util.WriteJSON(w, http.StatusOK, ConfigResponse{PublishableKey: ctx.publishableKey})
}

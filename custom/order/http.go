package order

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/romana/rlog"
	"github.com/spf13/cast"
	"preorder_hub/constants"
	"preorder_hub/custom/auth"
	"preorder_hub/custom/store"
	"preorder_hub/custom/util"
)

type HandlerContext struct {
	service *Service
}

type UpdateStatusRequest struct {
	OrderNumber string `json:"orderNumber"`
	Status      string `json:"status"`
}

type AdminOrdersResponse struct {
	Orders []AdminOrderView `json:"orders"`
}

type SubscriptionsResponse struct {
	Subscriptions []SubscriptionView `json:"subscriptions"`
	Message       string             `json:"message,omitempty"`
}

func (ctx *HandlerContext) InitialHandlerContext(service *Service) {
	ctx.service = service
}

func listFilterFrom(r *http.Request) ListFilter {
	query := r.URL.Query()
	return ListFilter{
		Type:   strings.ToLower(query.Get("type")),
		Search: query.Get("search"),
		Page:   cast.ToInt(query.Get("page")),
		Limit:  cast.ToInt(query.Get("limit")),
	}
}

// ListOrders serves one page of orders with pagination and stats.
func (ctx *HandlerContext) ListOrders(w http.ResponseWriter, r *http.Request) {
	if !util.IsAllowHttpMethod([]string{http.MethodGet}, w, r) {
		return
	}
	result, err := ctx.service.ListOrders(r.Context(), listFilterFrom(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, result)
}

func (ctx *HandlerContext) AdminOrders(w http.ResponseWriter, r *http.Request) {
	if !util.IsAllowHttpMethod([]string{http.MethodGet}, w, r) {
		return
	}
	orders, err := ctx.service.AdminOrders(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, AdminOrdersResponse{Orders: orders})
}

func (ctx *HandlerContext) ExportOrders(w http.ResponseWriter, r *http.Request) {
	if !util.IsAllowHttpMethod([]string{http.MethodGet}, w, r) {
		return
	}
	buf := bytes.Buffer{}
	count, err := ctx.service.ExportOrders(r.Context(), listFilterFrom(r), &buf)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	rlog.Infof("Exported %d orders", count)
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "orders.xlsx"))
	w.WriteHeader(http.StatusOK)
	if _, err = buf.WriteTo(w); err != nil {
		rlog.Error("Write export failed:", err.Error())
	}
}

// UpdateStatus lets an admin move a pending order to a terminal status.
func (ctx *HandlerContext) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	if !util.IsAllowHttpMethod([]string{http.MethodPost}, w, r) {
		return
	}
	req := UpdateStatusRequest{}
	if err := util.FetchReqObject(r, &req); err != nil {
		util.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.OrderNumber == "" {
		util.WriteError(w, http.StatusBadRequest, "orderNumber is required")
		return
	}
	if !IsKnownStatus(req.Status) {
		util.WriteError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", req.Status))
		return
	}

	o, err := ctx.service.UpdateStatus(r.Context(), req.OrderNumber, req.Status)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, toOrderView(o))
}

func (ctx *HandlerContext) Subscriptions(w http.ResponseWriter, r *http.Request) {
	if !util.IsAllowHttpMethod([]string{http.MethodGet}, w, r) {
		return
	}
	subscriptions, err := ctx.service.ListSubscriptionsForUser(r.Context(), auth.PrincipalFrom(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := SubscriptionsResponse{Subscriptions: subscriptions}
	if len(subscriptions) == 0 {
		resp.Message = constants.NO_SUBSCRIPTIONS
	}
	util.WriteJSON(w, http.StatusOK, resp)
}

func (ctx *HandlerContext) Dashboard(w http.ResponseWriter, r *http.Request) {
	if !util.IsAllowHttpMethod([]string{http.MethodGet}, w, r) {
		return
	}
	dashboard, err := ctx.service.Dashboard(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, dashboard)
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		util.WriteError(w, http.StatusUnauthorized, constants.UNAUTHORIZED)
	case errors.Is(err, ErrInvalidFilter):
		util.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		util.WriteError(w, http.StatusNotFound, constants.ORDER_NOT_FOUND)
	case errors.Is(err, ErrIllegalTransition), errors.Is(err, store.ErrStatusChanged):
		util.WriteError(w, http.StatusConflict, err.Error())
	default:
		util.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}

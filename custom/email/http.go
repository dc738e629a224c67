package email

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/romana/rlog"
	"preorder_hub/constants"
	"preorder_hub/custom/store"
	"preorder_hub/custom/util"
	"preorder_hub/model"
)

type HandlerContext struct {
	store *store.Store
	now   func() time.Time
}

type EmailRequest struct {
	Email string `json:"email"`
}

type SubscribersResponse struct {
	Subscribers []model.EmailSubscriber `json:"subscribers"`
	Total       int                     `json:"total"`
}

func (ctx *HandlerContext) InitialHandlerContext(store *store.Store) {
	ctx.store = store
	ctx.now = time.Now
}

// Subscribe adds an address or reactivates an existing one; an address never gets a second row.
func (ctx *HandlerContext) Subscribe(w http.ResponseWriter, r *http.Request) {
	address, ok := ctx.fetchEmail(w, r)
	if !ok {
		return
	}

	now := ctx.now().UTC()
	subscriber := model.EmailSubscriber{
		Email:        address,
		Status:       constants.EMAIL_STATUS_ACTIVE,
		SubscribedAt: now,
	}
	err := ctx.store.InsertSubscriber(r.Context(), &subscriber)
	if err == nil {
		rlog.Infof("Email %s subscribed", address)
		util.WriteJSON(w, http.StatusCreated, subscriber)
		return
	}
	if !errors.Is(err, store.ErrConflict) {
		rlog.Error("Create subscriber failed:", err.Error())
		util.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	existing, err := ctx.store.FindSubscriber(r.Context(), address)
	if err != nil {
		rlog.Error("Query subscriber failed:", err.Error())
		util.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	existing.Status = constants.EMAIL_STATUS_ACTIVE
	existing.SubscribedAt = now
	existing.UnsubscribedAt = nil
	if err = ctx.store.SaveSubscriberStatus(r.Context(), existing); err != nil {
		rlog.Error("Reactivate subscriber failed:", err.Error())
		util.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rlog.Infof("Email %s resubscribed", address)
	util.WriteJSON(w, http.StatusOK, existing)
}

func (ctx *HandlerContext) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	address, ok := ctx.fetchEmail(w, r)
	if !ok {
		return
	}

	existing, err := ctx.store.FindSubscriber(r.Context(), address)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			util.WriteError(w, http.StatusNotFound, constants.EMAIL_NOT_FOUND)
			return
		}
		rlog.Error("Query subscriber failed:", err.Error())
		util.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	now := ctx.now().UTC()
	existing.Status = constants.EMAIL_STATUS_UNSUBSCRIBED
	existing.UnsubscribedAt = &now
	if err = ctx.store.SaveSubscriberStatus(r.Context(), existing); err != nil {
		rlog.Error("Unsubscribe failed:", err.Error())
		util.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rlog.Infof("Email %s unsubscribed", address)
	util.WriteJSON(w, http.StatusOK, existing)
}

func (ctx *HandlerContext) List(w http.ResponseWriter, r *http.Request) {
	if !util.IsAllowHttpMethod([]string{http.MethodGet}, w, r) {
		return
	}
	status := r.URL.Query().Get("status")
	if status != "" && status != constants.EMAIL_STATUS_ACTIVE && status != constants.EMAIL_STATUS_UNSUBSCRIBED {
		util.WriteError(w, http.StatusBadRequest, "invalid status filter: "+status)
		return
	}
	subscribers, err := ctx.store.ListSubscribers(r.Context(), status)
	if err != nil {
		rlog.Error("List subscribers failed:", err.Error())
		util.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	util.WriteJSON(w, http.StatusOK, SubscribersResponse{Subscribers: subscribers, Total: len(subscribers)})
}

func (ctx *HandlerContext) fetchEmail(w http.ResponseWriter, r *http.Request) (string, bool) {
	if !util.IsAllowHttpMethod([]string{http.MethodPost}, w, r) {
		return "", false
	}
	req := EmailRequest{}
	if err := util.FetchReqObject(r, &req); err != nil {
		util.WriteError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	address := strings.ToLower(strings.TrimSpace(req.Email))
	parsed, err := mail.ParseAddress(address)
	if err != nil || parsed.Address != address {
		util.WriteError(w, http.StatusBadRequest, constants.INVALID_EMAIL)
		return "", false
	}
	return address, true
}

package preorder

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/romana/rlog"
	"preorder_hub/constants"
	"preorder_hub/custom/store"
	"preorder_hub/custom/util"
	"preorder_hub/model"
)

const DATE_LAYOUT = "2006-01-02"

var (
	errDateRequired = errors.New(constants.DATE_REQUIRED)
	errInvalidDate  = errors.New(constants.INVALID_DATE_FORMAT)
)

type HandlerContext struct {
	store           *store.Store
	defaultLeadDays int
	now             func() time.Time
}

type CreatePreorderRequest struct {
	Notes        *string `json:"notes,omitempty"`
	SelectedDate *string `json:"selectedDate,omitempty"`
	ReleaseDate  *string `json:"releaseDate,omitempty"`
}

type PreordersResponse struct {
	Preorders []model.Preorder `json:"preorders"`
}

func (ctx *HandlerContext) InitialHandlerContext(store *store.Store, cfg util.PreorderConfig) {
	ctx.store = store
	ctx.defaultLeadDays = cfg.DefaultLeadDays
	ctx.now = time.Now
}

// Create records an admin-scheduled preorder. At least one of the two dates is required.
func (ctx *HandlerContext) Create(w http.ResponseWriter, r *http.Request) {
	if !util.IsAllowHttpMethod([]string{http.MethodPost}, w, r) {
		return
	}
	req := CreatePreorderRequest{}
	if err := util.FetchReqObject(r, &req); err != nil {
		util.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if blank(req.SelectedDate) && blank(req.ReleaseDate) {
		util.WriteError(w, http.StatusBadRequest, constants.DATE_REQUIRED)
		return
	}
	preorder, err := buildPreorder(req)
	if err != nil {
		util.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx.save(w, r, preorder)
}

// Generate is the public entry point; without a date the release falls on today plus the lead days.
func (ctx *HandlerContext) Generate(w http.ResponseWriter, r *http.Request) {
	if !util.IsAllowHttpMethod([]string{http.MethodPost}, w, r) {
		return
	}
	req := CreatePreorderRequest{}
	if err := util.FetchReqObject(r, &req); err != nil {
		util.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if blank(req.SelectedDate) {
		today := ctx.now().UTC().Truncate(24 * time.Hour)
		generated := today.AddDate(0, 0, ctx.defaultLeadDays).Format(DATE_LAYOUT)
		req.SelectedDate = &generated
	}
	req.ReleaseDate = nil
	preorder, err := buildPreorder(req)
	if err != nil {
		util.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx.save(w, r, preorder)
}

func (ctx *HandlerContext) List(w http.ResponseWriter, r *http.Request) {
	if !util.IsAllowHttpMethod([]string{http.MethodGet}, w, r) {
		return
	}
	preorders, err := ctx.store.ListPreorders(r.Context())
	if err != nil {
		rlog.Error("List preorders failed:", err.Error())
		util.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	util.WriteJSON(w, http.StatusOK, PreordersResponse{Preorders: preorders})
}

// Latest serves the countdown target.
func (ctx *HandlerContext) Latest(w http.ResponseWriter, r *http.Request) {
	if !util.IsAllowHttpMethod([]string{http.MethodGet}, w, r) {
		return
	}
	preorder, err := ctx.store.LatestPreorder(r.Context())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			util.WriteError(w, http.StatusNotFound, constants.NO_PREORDER)
			return
		}
		rlog.Error("Query latest preorder failed:", err.Error())
		util.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	util.WriteJSON(w, http.StatusOK, preorder)
}

func (ctx *HandlerContext) save(w http.ResponseWriter, r *http.Request, preorder *model.Preorder) {
	if err := ctx.store.InsertPreorder(r.Context(), preorder); err != nil {
		rlog.Error("Create preorder failed:", err.Error())
		util.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rlog.Infof("Preorder %d created, release %s", preorder.ID, preorder.ReleaseDate.Format(time.RFC3339))
	util.WriteJSON(w, http.StatusCreated, preorder)
}

func buildPreorder(req CreatePreorderRequest) (*model.Preorder, error) {
	preorder := &model.Preorder{Notes: req.Notes}
	if !blank(req.SelectedDate) {
		selected, err := time.Parse(DATE_LAYOUT, strings.TrimSpace(*req.SelectedDate))
		if err != nil {
			return nil, errInvalidDate
		}
		preorder.SelectedDate = &selected
		release := selected
		preorder.ReleaseDate = &release
	}
	if !blank(req.ReleaseDate) {
		release, err := time.Parse(time.RFC3339, strings.TrimSpace(*req.ReleaseDate))
		if err != nil {
			return nil, errInvalidDate
		}
		release = release.UTC()
		preorder.ReleaseDate = &release
	}
	if preorder.ReleaseDate == nil {
		return nil, errDateRequired
	}
	return preorder, nil
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

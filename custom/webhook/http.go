package webhook

import (
	"errors"
	"io"
	"net/http"

	"github.com/romana/rlog"
	"preorder_hub/custom/message_queue"
	"preorder_hub/custom/processor"
	"preorder_hub/custom/util"
)

const MAX_BODY_BYTES = int64(65536)
const SIGNATURE_HEADER = "Stripe-Signature"

type HandlerContext struct {
	parseEvent processor.EventParser
	queue      message_queue.Queue
}

type ReceiveResponse struct {
	Received bool `json:"received"`
	Ignored  bool `json:"ignored,omitempty"`
}

func (ctx *HandlerContext) InitialHandlerContext(parseEvent processor.EventParser, queue message_queue.Queue) {
	ctx.parseEvent = parseEvent
	ctx.queue = queue
}

// Receive verifies a processor delivery and hands it to the confirmation consumer.
func (ctx *HandlerContext) Receive(w http.ResponseWriter, r *http.Request) {
	if !util.IsAllowHttpMethod([]string{http.MethodPost}, w, r) {
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MAX_BODY_BYTES))
	if err != nil {
		util.WriteError(w, http.StatusBadRequest, "Read request body failed: "+err.Error())
		return
	}

	event, err := ctx.parseEvent(payload, r.Header.Get(SIGNATURE_HEADER))
	if errors.Is(err, processor.ErrUnsupportedEvent) {
		util.WriteJSON(w, http.StatusOK, ReceiveResponse{Received: true, Ignored: true})
		return
	}
	if err != nil {
		rlog.Error("Reject webhook:", err.Error())
		util.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err = ctx.queue.Enqueue(r.Context(), event); err != nil {
		rlog.Errorf("Enqueue event %s failed: %s", event.EventID, err.Error())
		util.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rlog.Infof("Accepted event %s (%s)", event.EventID, event.Type)
	util.WriteJSON(w, http.StatusOK, ReceiveResponse{Received: true})
}

package ingest

import (
	"fmt"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/eventpipe/internal/common/httputil"
	"github.com/edgecomet/eventpipe/internal/common/requestid"
	"github.com/edgecomet/eventpipe/internal/events"
	"github.com/edgecomet/eventpipe/internal/processor"
)

// EventSink is the processor surface used by the API
type EventSink interface {
	AddEvent(event *events.Event) bool
	Flush()
	IsAlive() bool
	QueueDepth() int
	QueueCapacity() int
	WorkerState() processor.WorkerState
}

// AcceptedResponse is returned by POST /events. Dropped counts events
// rejected because the queue was full.
type AcceptedResponse struct {
	Accepted int `json:"accepted"`
	Dropped  int `json:"dropped"`
}

// StatusResponse is returned by GET /status
type StatusResponse struct {
	Alive         bool   `json:"alive"`
	WorkerState   string `json:"worker_state"`
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
}

// API routes ingest requests to an EventSink
type API struct {
	sink   EventSink
	logger *zap.Logger
}

func NewAPI(sink EventSink, logger *zap.Logger) *API {
	return &API{sink: sink, logger: logger}
}

// ServeHTTP is the request handler for the ingest API
func (a *API) ServeHTTP(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	method := string(ctx.Method())

	reqID := requestid.Resolve(string(ctx.Request.Header.Peek(requestid.Header)))
	ctx.Response.Header.Set(requestid.Header, reqID)
	ctx.SetUserValue(requestid.Header, reqID)

	switch {
	case method == fasthttp.MethodPost && path == "/events":
		a.handleEvents(ctx)
	case method == fasthttp.MethodPost && path == "/flush":
		a.handleFlush(ctx)
	case method == fasthttp.MethodGet && path == "/status":
		a.handleStatus(ctx)
	default:
		httputil.JSONError(ctx, "not found", fasthttp.StatusNotFound)
	}
}

// handleEvents handles POST /events with a single event object or an array
func (a *API) handleEvents(ctx *fasthttp.RequestCtx) {
	if !a.sink.IsAlive() {
		httputil.JSONError(ctx, "event processor is stopped", fasthttp.StatusServiceUnavailable)
		return
	}

	batch, err := events.ParseEvents(ctx.Request.Body())
	if err != nil {
		a.logger.Debug("Rejected ingest request",
			zap.String("request_id", requestID(ctx)),
			zap.Error(err))
		httputil.JSONError(ctx, fmt.Sprintf("invalid json: %s", err.Error()), fasthttp.StatusBadRequest)
		return
	}

	var resp AcceptedResponse
	for _, ev := range batch {
		if a.sink.AddEvent(ev) {
			resp.Accepted++
		} else {
			resp.Dropped++
		}
	}

	a.logger.Debug("Accepted events from ingest API",
		zap.String("request_id", requestID(ctx)),
		zap.Int("accepted", resp.Accepted),
		zap.Int("dropped", resp.Dropped),
		zap.String("remote_addr", ctx.RemoteAddr().String()))

	httputil.JSONData(ctx, resp, fasthttp.StatusAccepted)
}

// handleFlush handles POST /flush
func (a *API) handleFlush(ctx *fasthttp.RequestCtx) {
	if !a.sink.IsAlive() {
		httputil.JSONError(ctx, "event processor is stopped", fasthttp.StatusServiceUnavailable)
		return
	}

	a.sink.Flush()
	httputil.JSONResponse(ctx, httputil.APIResponse{Success: true, Message: "flush requested"}, fasthttp.StatusAccepted)
}

// handleStatus handles GET /status
func (a *API) handleStatus(ctx *fasthttp.RequestCtx) {
	httputil.JSONData(ctx, StatusResponse{
		Alive:         a.sink.IsAlive(),
		WorkerState:   a.sink.WorkerState().String(),
		QueueDepth:    a.sink.QueueDepth(),
		QueueCapacity: a.sink.QueueCapacity(),
	}, fasthttp.StatusOK)
}

func requestID(ctx *fasthttp.RequestCtx) string {
	id, _ := ctx.UserValue(requestid.Header).(string)
	return id
}

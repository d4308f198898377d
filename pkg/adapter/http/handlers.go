package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/marmos91/afs/internal/logger"
	"github.com/marmos91/afs/pkg/afs"
	"github.com/marmos91/afs/pkg/api"
	"github.com/marmos91/afs/pkg/entity"
	"github.com/marmos91/afs/pkg/pathinfo"
)

// verbs maps each API method to the HTTP method it must arrive with.
// GET methods carry their parameters on the query string, the others in
// a JSON body.
var verbs = map[api.Method]string{
	api.MethodList:           nethttp.MethodGet,
	api.MethodRead:           nethttp.MethodGet,
	api.MethodFree:           nethttp.MethodGet,
	api.MethodIsSessionValid: nethttp.MethodGet,
	api.MethodWrite:          nethttp.MethodPost,
	api.MethodCreate:         nethttp.MethodPost,
	api.MethodCopy:           nethttp.MethodPost,
	api.MethodMove:           nethttp.MethodPost,
	api.MethodBegin:          nethttp.MethodPost,
	api.MethodPrepare:        nethttp.MethodPost,
	api.MethodCommit:         nethttp.MethodPost,
	api.MethodRollback:       nethttp.MethodPost,
	api.MethodRecover:        nethttp.MethodPost,
	api.MethodDelete:         nethttp.MethodDelete,
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type response struct {
	Result any        `json:"result,omitempty"`
	Error  *errorBody `json:"error,omitempty"`
}

// statusOf maps an error to its HTTP status and error code.
func statusOf(err error) (int, string) {
	code, ok := afs.CodeOf(err)
	if !ok {
		return nethttp.StatusInternalServerError, "InternalError"
	}
	switch code {
	case afs.ErrInvalidPath:
		return nethttp.StatusBadRequest, code.String()
	case afs.ErrPermissionDenied:
		return nethttp.StatusForbidden, code.String()
	case afs.ErrNotFound:
		return nethttp.StatusNotFound, code.String()
	case afs.ErrSessionExpired:
		return nethttp.StatusUnauthorized, code.String()
	case afs.ErrTransactionConflict, afs.ErrAlreadyExists, afs.ErrInvalidState:
		return nethttp.StatusConflict, code.String()
	default:
		return nethttp.StatusInternalServerError, code.String()
	}
}

func writeJSON(w nethttp.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Debug("Failed to write HTTP response: %v", err)
	}
}

func writeError(w nethttp.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, response{Error: &errorBody{Code: code, Message: message}})
}

func writeFailure(w nethttp.ResponseWriter, err error) {
	status, code := statusOf(err)
	if status == nethttp.StatusInternalServerError {
		logger.Error("Request failed: %v", err)
	}
	writeError(w, status, code, err.Error())
}

// allow applies the per-session rate limit.
func (a *HTTPAdapter) allow(w nethttp.ResponseWriter, r *nethttp.Request, token string) bool {
	if a.limiter == nil {
		return true
	}
	key := token
	if key == "" {
		key = r.RemoteAddr
	}
	if a.limiter.Allow(key) {
		return true
	}
	writeError(w, nethttp.StatusTooManyRequests, "TooManyRequests", "rate limit exceeded")
	return false
}

func (a *HTTPAdapter) handleAPI(w nethttp.ResponseWriter, r *nethttp.Request) {
	req, err := a.decodeRequest(w, r)
	if err != nil {
		writeFailure(w, err)
		return
	}

	verb, ok := verbs[req.Method]
	if !ok {
		writeFailure(w, afs.NewInvalidPathError(string(req.Method), "unknown method"))
		return
	}
	if verb != r.Method {
		writeError(w, nethttp.StatusMethodNotAllowed, "MethodNotAllowed",
			fmt.Sprintf("%s must be sent with %s", req.Method, verb))
		return
	}
	if !a.allow(w, r, req.SessionToken) {
		return
	}

	result, err := a.backend.API.Process(r.Context(), req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, nethttp.StatusOK, response{Result: result})
}

// decodeRequest reads the JSON body of POST and DELETE requests and fills
// the remaining fields from the query string.
func (a *HTTPAdapter) decodeRequest(w nethttp.ResponseWriter, r *nethttp.Request) (*api.Request, error) {
	req := &api.Request{}
	q := r.URL.Query()

	if r.Method != nethttp.MethodGet {
		body := nethttp.MaxBytesReader(w, r.Body, a.config.MaxRequestBytes)
		if err := json.NewDecoder(body).Decode(req); err != nil && !errors.Is(err, io.EOF) {
			return nil, afs.Wrap(afs.ErrInvalidPath, err, "malformed request body", "")
		}
	} else {
		params, err := paramsFromQuery(q)
		if err != nil {
			return nil, err
		}
		req.Params = params
	}

	if req.Method == "" {
		req.Method = api.Method(q.Get("method"))
	}
	if req.SessionToken == "" {
		req.SessionToken = q.Get("sessionToken")
	}
	if req.InteractiveSessionKey == "" {
		req.InteractiveSessionKey = q.Get("interactiveSessionKey")
	}
	if req.TransactionManagerKey == "" {
		req.TransactionManagerKey = q.Get("transactionManagerKey")
	}
	return req, nil
}

func paramsFromQuery(q url.Values) (api.Params, error) {
	p := api.Params{
		Owner:       q.Get("owner"),
		Source:      q.Get("source"),
		SourceOwner: q.Get("sourceOwner"),
		Target:      q.Get("target"),
		TargetOwner: q.Get("targetOwner"),
	}

	var err error
	if v := q.Get("offset"); v != "" {
		if p.Offset, err = strconv.ParseInt(v, 10, 64); err != nil {
			return p, afs.NewInvalidPathError(v, "offset must be an integer")
		}
	}
	if v := q.Get("limit"); v != "" {
		if p.Limit, err = strconv.Atoi(v); err != nil {
			return p, afs.NewInvalidPathError(v, "limit must be an integer")
		}
	}
	if v := q.Get("directory"); v != "" {
		if p.Directory, err = strconv.ParseBool(v); err != nil {
			return p, afs.NewInvalidPathError(v, "directory must be a boolean")
		}
	}
	if v := q.Get("recursively"); v != "" {
		if p.Recursively, err = strconv.ParseBool(v); err != nil {
			return p, afs.NewInvalidPathError(v, "recursively must be a boolean")
		}
	}
	if v := q.Get("transactionId"); v != "" {
		if p.TransactionID, err = uuid.Parse(v); err != nil {
			return p, afs.NewInvalidPathError(v, "transactionId must be a UUID")
		}
	}
	return p, nil
}

// handlePathInfo lists a data set's indexed files below path.
func (a *HTTPAdapter) handlePathInfo(w nethttp.ResponseWriter, r *nethttp.Request) {
	if a.backend.Index == nil || a.backend.Guard == nil {
		writeError(w, nethttp.StatusNotFound, afs.ErrNotFound.String(), "path index is disabled")
		return
	}

	ctx := r.Context()
	q := r.URL.Query()
	dataset := mux.Vars(r)["dataset"]
	token := q.Get("sessionToken")

	if !a.allow(w, r, token) {
		return
	}
	if err := a.backend.Guard.Authenticate(ctx, token); err != nil {
		writeFailure(w, err)
		return
	}
	if _, err := a.backend.Guard.Authorize(ctx, token, dataset, entity.PermissionRead); err != nil {
		writeFailure(w, err)
		return
	}

	recursive := false
	if v := q.Get("recursive"); v != "" {
		var err error
		if recursive, err = strconv.ParseBool(v); err != nil {
			writeFailure(w, afs.NewInvalidPathError(v, "recursive must be a boolean"))
			return
		}
	}
	rel, err := afs.NormalizePath(q.Get("path"))
	if err != nil {
		writeFailure(w, err)
		return
	}

	id, ok, err := a.backend.Index.TryGetDataSetID(ctx, dataset)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if !ok {
		writeFailure(w, afs.NewNotFoundError(dataset, "data set"))
		return
	}

	records, found, err := pathinfo.ListFiles(ctx, a.backend.Index, id, strings.TrimPrefix(rel, "/"), recursive)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if !found {
		writeFailure(w, afs.NewNotFoundError(rel, "path"))
		return
	}
	if records == nil {
		records = []pathinfo.DataSetFileRecord{}
	}
	writeJSON(w, nethttp.StatusOK, response{Result: records})
}

func (a *HTTPAdapter) handleHealth(w nethttp.ResponseWriter, r *nethttp.Request) {
	writeJSON(w, nethttp.StatusOK, response{Result: map[string]string{"status": "ok"}})
}

package server

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/JonPisek/PyBEP/internal/errors"
)

// JSON-RPC 2.0 error codes.
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcServerError    = -32000
	rpcNotFound       = -32001
)

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      interface{}       `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params,omitempty"`
}

type idParams struct {
	DecompositionID string `json:"decomposition_id"`
}

// handleJSONRPC handles JSON-RPC 2.0 requests
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondWithError(w, rpcParseError, "Parse error", nil)
		return
	}

	// Validate JSON-RPC 2.0 request
	if request.JSONRPC != "2.0" || request.Method == "" {
		s.respondWithError(w, rpcInvalidRequest, "Invalid Request", request.ID)
		return
	}

	// Route to appropriate handler
	var result interface{}
	var err error

	switch request.Method {
	case "decomposition.start":
		result, err = s.rpcStart(request.Params)
	case "decomposition.status":
		result, err = s.rpcStatus(request.Params)
	case "decomposition.result":
		result, err = s.rpcResult(request.Params)
	case "decomposition.cancel":
		result, err = s.rpcCancel(request.Params)
	default:
		s.respondWithError(w, rpcMethodNotFound, "Method not found", request.ID)
		return
	}

	if err != nil {
		s.respondWithError(w, rpcErrorCode(err), err.Error(), request.ID)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	})
}

func rpcErrorCode(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.KindInvalidInput, apperrors.KindDegenerateCurve, apperrors.KindEmptyCandidateSet:
		return rpcInvalidParams
	case apperrors.KindNotFound:
		return rpcNotFound
	default:
		return rpcServerError
	}
}

// decodeParams unmarshals the first positional parameter into v.
func decodeParams(params []json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return invalidRequest("missing required parameters")
	}
	if err := json.Unmarshal(params[0], v); err != nil {
		return invalidRequest("invalid parameter format: %v", err)
	}
	return nil
}

func decodeID(params []json.RawMessage) (string, error) {
	var p idParams
	if err := decodeParams(params, &p); err != nil {
		return "", err
	}
	if p.DecompositionID == "" {
		return "", invalidRequest("decomposition_id is required")
	}
	return p.DecompositionID, nil
}

// rpcStart handles decomposition.start. Params: [DecomposeRequest].
func (s *Server) rpcStart(params []json.RawMessage) (interface{}, error) {
	var req DecomposeRequest
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	in, err := s.prepare(req)
	if err != nil {
		return nil, err
	}
	job := s.startJob(in)
	return map[string]interface{}{
		"decomposition_id": job.ID,
		"status":           StatusPending,
	}, nil
}

// rpcStatus handles decomposition.status. Params: [{"decomposition_id": ...}].
func (s *Server) rpcStatus(params []json.RawMessage) (interface{}, error) {
	id, err := decodeID(params)
	if err != nil {
		return nil, err
	}
	job, err := s.job(id)
	if err != nil {
		return nil, err
	}
	return statusView(job), nil
}

// rpcResult handles decomposition.result.
func (s *Server) rpcResult(params []json.RawMessage) (interface{}, error) {
	id, err := decodeID(params)
	if err != nil {
		return nil, err
	}
	return s.result(id)
}

// rpcCancel handles decomposition.cancel.
func (s *Server) rpcCancel(params []json.RawMessage) (interface{}, error) {
	id, err := decodeID(params)
	if err != nil {
		return nil, err
	}
	if err := s.cancelJob(id); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"decomposition_id": id,
		"status":           StatusCancelled,
	}, nil
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.logger.Error("Request error", map[string]interface{}{
		"status":  code,
		"message": message,
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"id": id,
	})
}

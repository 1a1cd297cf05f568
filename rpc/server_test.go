package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/NomicFoundation/edr-sub001/provider"
)

// echoHandler answers "echo" with its first parameter and fails everything
// else.
type echoHandler struct{}

func (echoHandler) Handle(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
	switch method {
	case "echo":
		var args []string
		if err := json.Unmarshal(params, &args); err != nil || len(args) == 0 {
			return nil, fmt.Errorf("rpc: bad params")
		}
		return args[0], nil
	case "revert":
		return nil, &provider.RevertError{Reason: "nope", Data: []byte{0xde, 0xad}}
	}
	return nil, &provider.ErrMethodNotFound{Method: method}
}

func newTestServer() *Server {
	return NewServer(echoHandler{}, DefaultServerConfig(), nil)
}

func post(t *testing.T, srv *Server, body string) *Response {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	srv.Handler().ServeHTTP(rec, req)

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return &resp
}

func TestSingleRequest(t *testing.T) {
	resp := post(t, newTestServer(), `{"jsonrpc":"2.0","method":"echo","params":["hi"],"id":1}`)
	if resp.Error != nil {
		t.Fatalf("error = %v", resp.Error)
	}
	if resp.Result != "hi" {
		t.Fatalf("result = %v", resp.Result)
	}
	if string(resp.ID) != "1" {
		t.Fatalf("id = %s", resp.ID)
	}
}

func TestMethodNotFoundCode(t *testing.T) {
	resp := post(t, newTestServer(), `{"jsonrpc":"2.0","method":"nope","id":2}`)
	if resp.Error == nil || resp.Error.Code != ErrCodeMethodNotFound {
		t.Fatalf("error = %v, want code %d", resp.Error, ErrCodeMethodNotFound)
	}
}

func TestRevertErrorCarriesData(t *testing.T) {
	resp := post(t, newTestServer(), `{"jsonrpc":"2.0","method":"revert","id":3}`)
	if resp.Error == nil || resp.Error.Code != ErrCodeExecution {
		t.Fatalf("error = %v", resp.Error)
	}
	if resp.Error.Data != "0xdead" {
		t.Fatalf("data = %v", resp.Error.Data)
	}
}

func TestInvalidJSON(t *testing.T) {
	resp := post(t, newTestServer(), `{not json`)
	if resp.Error == nil || resp.Error.Code != ErrCodeParse {
		t.Fatalf("error = %v, want parse error", resp.Error)
	}
}

func TestBatchRequest(t *testing.T) {
	srv := newTestServer()
	rec := httptest.NewRecorder()
	body := `[{"jsonrpc":"2.0","method":"echo","params":["a"],"id":1},
	          {"jsonrpc":"2.0","method":"nope","id":2}]`
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))

	var responses []*Response
	if err := json.Unmarshal(rec.Body.Bytes(), &responses); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	if len(responses) != 2 {
		t.Fatalf("got %d responses", len(responses))
	}
	if responses[0].Result != "a" {
		t.Fatalf("first result = %v", responses[0].Result)
	}
	if responses[1].Error == nil || responses[1].Error.Code != ErrCodeMethodNotFound {
		t.Fatalf("second error = %v", responses[1].Error)
	}
}

func TestEmptyBatchRejected(t *testing.T) {
	resp := post(t, newTestServer(), `[]`)
	if resp.Error == nil || resp.Error.Code != ErrCodeInvalidRequest {
		t.Fatalf("error = %v", resp.Error)
	}
}

func TestGetRejected(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCORSHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	newTestServer().Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatalf("allow-origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

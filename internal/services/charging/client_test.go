package charging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOCS(t *testing.T, handler func(op string, req rpcRequest) (int, interface{})) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		status, body := handler(r.URL.Path[1:], req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestClientReserve(t *testing.T) {
	srv, _ := newOCS(t, func(op string, req rpcRequest) (int, interface{}) {
		assert.Equal(t, "reserve", op)
		assert.Equal(t, "201000000001", req.Account)
		assert.Equal(t, "evt-1", req.EventID)
		assert.Equal(t, "5.25", req.Amount)
		assert.NotEmpty(t, req.CorrelationID)
		return http.StatusOK, Result{Code: CodeSuccess, ReservationID: "res-9"}
	})
	c := NewClient(ClientConfig{BaseURL: srv.URL + "/", Timeout: time.Second})

	res, err := c.Reserve(context.Background(), "201000000001", "evt-1", decimal.RequireFromString("5.250"))
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, "res-9", res.ReservationID)
}

func TestClientRejectionIsNotAnError(t *testing.T) {
	srv, _ := newOCS(t, func(string, rpcRequest) (int, interface{}) {
		return http.StatusOK, Result{Code: CodeInsufficientBalance, Message: "low balance"}
	})
	c := NewClient(ClientConfig{BaseURL: srv.URL})

	res, err := c.ChargeReserved(context.Background(), "201000000001", "res-1")
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Equal(t, CodeInsufficientBalance, res.Code)
}

func TestClientServerErrorIsTransport(t *testing.T) {
	srv, _ := newOCS(t, func(string, rpcRequest) (int, interface{}) {
		return http.StatusBadGateway, map[string]string{"error": "down"}
	})
	c := NewClient(ClientConfig{BaseURL: srv.URL})

	_, err := c.CancelReservation(context.Background(), "201000000001", "res-1")
	assert.ErrorIs(t, err, ErrTransport)
	assert.False(t, IsTimeout(err))
}

func TestClientUnconfirmedAnswersAreTransportFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   interface{}
	}{
		{"unauthorized", http.StatusUnauthorized, map[string]string{"error": "bad credentials"}},
		{"not found", http.StatusNotFound, map[string]string{"error": "no such operation"}},
		{"unauthorized with code", http.StatusUnauthorized, map[string]int{"code": 0}},
		{"redirect", http.StatusMultipleChoices, map[string]int{"code": 0}},
		{"ok without code", http.StatusOK, map[string]string{"reservation_id": "res-1"}},
		{"ok with null code", http.StatusOK, map[string]interface{}{"code": nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newOCS(t, func(string, rpcRequest) (int, interface{}) {
				return tt.status, tt.body
			})
			c := NewClient(ClientConfig{BaseURL: srv.URL})

			res, err := c.ChargeReserved(context.Background(), "201000000001", "res-1")
			assert.ErrorIs(t, err, ErrTransport)
			assert.False(t, IsTimeout(err))
			assert.Empty(t, res.ReservationID)
		})
	}
}

func TestClientExplicitZeroCodeIsSuccess(t *testing.T) {
	srv, _ := newOCS(t, func(string, rpcRequest) (int, interface{}) {
		return http.StatusOK, map[string]interface{}{"code": 0, "reference": "ref-1"}
	})
	c := NewClient(ClientConfig{BaseURL: srv.URL})

	res, err := c.AdjustBalance(context.Background(), "201000000002", decimal.NewFromInt(5), "ref-1")
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, "ref-1", res.Reference)
}

func TestClientTimeout(t *testing.T) {
	srv, _ := newOCS(t, func(string, rpcRequest) (int, interface{}) {
		time.Sleep(300 * time.Millisecond)
		return http.StatusOK, Result{}
	})
	c := NewClient(ClientConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})

	_, err := c.ExtendExpiry(context.Background(), "201000000002", 30)
	assert.ErrorIs(t, err, ErrTransport)
	assert.True(t, IsTimeout(err))
}

func TestClientCancelledContextIsNotSent(t *testing.T) {
	srv, hits := newOCS(t, func(string, rpcRequest) (int, interface{}) {
		return http.StatusOK, Result{}
	})
	c := NewClient(ClientConfig{BaseURL: srv.URL})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GetAccountValue(ctx, "201000000001", ItemBalance)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, int32(0), atomic.LoadInt32(hits))
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (o *recordingObserver) ObserveGatewayCall(op, result string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, op+":"+result)
}

func TestInstrumentReportsResults(t *testing.T) {
	srv, _ := newOCS(t, func(op string, _ rpcRequest) (int, interface{}) {
		if op == "sendSms" {
			return http.StatusOK, Result{Code: CodeSystemBusy}
		}
		return http.StatusOK, Result{Code: CodeSuccess, Value: "12.500"}
	})
	obs := &recordingObserver{}
	gw := Instrument(NewClient(ClientConfig{BaseURL: srv.URL}), obs)

	res, err := gw.GetAccountValue(context.Background(), "201000000001", ItemBalance)
	require.NoError(t, err)
	assert.Equal(t, "12.500", res.Value)
	_, err = gw.SendSMS(context.Background(), "201000000001", "201000000002", "hi", false)
	require.NoError(t, err)

	assert.Equal(t, []string{"get_account_value:ok", "send_sms:rejected"}, obs.calls)
}

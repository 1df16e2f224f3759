package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/pickupdrop/checkout/internal/config"
	"github.com/pickupdrop/checkout/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(config.BackendConfig{
		BaseURL:          srv.URL,
		TimeoutMS:        2000,
		RetryMaxAttempts: 3,
		RetryStepMS:      1,
	}, srv.Client())
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	return client
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(config.BackendConfig{}, nil); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected config invalid, got %v", err)
	}
}

func TestRefreshTokenSuccess(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/auth/token/refresh/" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["refresh"] != "r-1" {
			t.Errorf("unexpected refresh body: %v", body)
		}
		_, _ = w.Write([]byte(`{"access":"a-2","refresh":"r-2"}`))
	})

	pair, err := client.RefreshToken(context.Background(), "r-1")
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if pair.AccessToken != "a-2" || pair.RefreshToken != "r-2" {
		t.Fatalf("unexpected pair: %+v", pair)
	}
}

func TestRefreshTokenKeepsOldRefreshWhenNotRotated(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access":"a-2"}`))
	})
	pair, err := client.RefreshToken(context.Background(), "r-1")
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if pair.RefreshToken != "r-1" {
		t.Fatalf("expected old refresh token kept, got %s", pair.RefreshToken)
	}
}

func TestRefreshTokenUnauthorized(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	if _, err := client.RefreshToken(context.Background(), "r-1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestCreateOrderSendsIdempotencyKeyAndNullDiscounts(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if got := r.Header.Get("Idempotency-Key"); got != "T-1" {
			t.Errorf("unexpected idempotency key: %s", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer a-1" {
			t.Errorf("unexpected authorization: %s", got)
		}
		raw, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		_ = json.Unmarshal(raw, &body)
		if v, ok := body["discounts"]; !ok || v != nil {
			t.Errorf("expected discounts null, got %v", v)
		}
		if body["total"] != "130.00" {
			t.Errorf("unexpected total: %v", body["total"])
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"order_reference":"ORD-1","authorization_url":"https://pay.example.com/x","reference":"GW-1"}`))
	})

	result, err := client.CreateOrder(context.Background(), "a-1", CreateOrderRequest{
		TransactionReference: "T-1",
		Total:                models.NewMoneyFromFloat(130),
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if result.StatusCode != http.StatusCreated || result.OrderReference != "ORD-1" || result.GatewayReference != "GW-1" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.AuthorizationURL != "https://pay.example.com/x" {
		t.Fatalf("unexpected authorization url: %s", result.AuthorizationURL)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected single call, got %d", calls)
	}
}

func TestCreateOrderIsNotRetried(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := client.CreateOrder(context.Background(), "a-1", CreateOrderRequest{TransactionReference: "T-1"})
	if !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("expected request failed, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("create order should not retry, calls=%d", calls)
	}
}

func TestCreateOrderRejectedCarriesMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"phone invalid"}`))
	})
	_, err := client.CreateOrder(context.Background(), "a-1", CreateOrderRequest{})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected rejected, got %v", err)
	}
	if !strings.Contains(err.Error(), "phone invalid") {
		t.Fatalf("expected message in error, got %v", err)
	}
}

func TestCreateOrderUnparseableBodyStillReturnsStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`not-json`))
	})
	result, err := client.CreateOrder(context.Background(), "a-1", CreateOrderRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.StatusCode != http.StatusOK || result.OrderReference != "" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestGetOrderRetriesTransientFailures(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orders/ORD-1/" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"reference":"ORD-1","status":"processing","total":"130.00"}`))
	})

	order, err := client.GetOrder(context.Background(), "a-1", "ORD-1")
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if order.Status != "PROCESSING" || !order.IsSettled() {
		t.Fatalf("unexpected order: %+v", order)
	}
	if order.Total.String() != "130.00" {
		t.Fatalf("unexpected total: %s", order.Total.String())
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestGetOrderGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	if _, err := client.GetOrder(context.Background(), "a-1", "ORD-1"); !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("expected request failed, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestGetOrderNotFoundIsPermanent(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	})
	if _, err := client.GetOrder(context.Background(), "a-1", "ORD-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("not found should not retry, calls=%d", calls)
	}
}

func TestVerifyPaymentResults(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch body["reference"] {
		case "GW-OK":
			_, _ = w.Write([]byte(`{"status":true,"message":"ok","order_reference":"ORD-1"}`))
		case "GW-BAD":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"status":false,"message":"declined","order_reference":"ORD-2"}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	})

	ok, err := client.VerifyPayment(context.Background(), "a-1", "GW-OK")
	if err != nil || !ok.Success || ok.OrderReference != "ORD-1" {
		t.Fatalf("unexpected verify ok: %+v err=%v", ok, err)
	}
	bad, err := client.VerifyPayment(context.Background(), "a-1", "GW-BAD")
	if err != nil || bad.Success || bad.OrderReference != "ORD-2" || bad.Message != "declined" {
		t.Fatalf("unexpected verify bad: %+v err=%v", bad, err)
	}
	if _, err := client.VerifyPayment(context.Background(), "a-1", "GW-X"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestVerifyPaymentPrefersNestedPaymentStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch body["reference"] {
		case "GW-ENVELOPE-FAILED":
			_, _ = w.Write([]byte(`{"status":true,"message":"verification fetched","data":{"status":"failed","order_reference":"ORD-3"}}`))
		case "GW-ENVELOPE-OK":
			_, _ = w.Write([]byte(`{"status":true,"data":{"status":"success","order_reference":"ORD-4"}}`))
		case "GW-STRING":
			_, _ = w.Write([]byte(`{"status":"success","order_reference":"ORD-5"}`))
		default:
			_, _ = w.Write([]byte(`{"success":false,"status":true}`))
		}
	})

	cases := []struct {
		reference string
		success   bool
		order     string
	}{
		{reference: "GW-ENVELOPE-FAILED", success: false, order: "ORD-3"},
		{reference: "GW-ENVELOPE-OK", success: true, order: "ORD-4"},
		{reference: "GW-STRING", success: true, order: "ORD-5"},
		{reference: "GW-EXPLICIT", success: false},
	}
	for _, tc := range cases {
		result, err := client.VerifyPayment(context.Background(), "a-1", tc.reference)
		if err != nil {
			t.Fatalf("%s: verify failed: %v", tc.reference, err)
		}
		if result.Success != tc.success || result.OrderReference != tc.order {
			t.Fatalf("%s: unexpected result %+v", tc.reference, result)
		}
	}
}

func TestMarkDiscountRedeemedUsesPatch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/discounts/D-9/" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	})
	if err := client.MarkDiscountRedeemed(context.Background(), "a-1", "D-9"); err != nil {
		t.Fatalf("mark redeemed failed: %v", err)
	}
}

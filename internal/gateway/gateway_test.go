package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type capture struct {
	endpoint string
	body     map[string]any
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(Options{
		BaseURL:      srv.URL,
		ExchangeType: "P",
		DataType:     20002,
		Timeout:      5 * time.Second,
		Credential:   "enc-secret",
	}, zap.NewNop())
	return c, srv
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return m
}

func TestQuoteRequestAndDecode(t *testing.T) {
	var got capture
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got.endpoint = r.URL.Path
		got.body = decodeBody(t, r)
		w.Write([]byte(`{"ok":true,"data":{"basicQot":[{"code":"TQQQ","lastPrice":83.45,"volume":9000000}]}}`))
	})
	q, err := c.Quote(context.Background(), "TQQQ")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if got.endpoint != "/hq/BasicQot" {
		t.Fatalf("unexpected endpoint %q", got.endpoint)
	}
	params, ok := got.body["params"].(map[string]any)
	if !ok {
		t.Fatalf("missing params envelope: %v", got.body)
	}
	if params["mktTmType"] != float64(1) {
		t.Fatalf("expected regular-session quotes, got %v", params["mktTmType"])
	}
	if !q.LastPrice.Equal(decimal.RequireFromString("83.45")) || q.Volume != 9000000 {
		t.Fatalf("unexpected quote: %+v", q)
	}
}

func TestQuoteEmptyListIsRejection(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true,"data":{"basicQot":[]}}`))
	})
	_, err := c.Quote(context.Background(), "TQQQ")
	var rej *RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected RejectionError, got %v", err)
	}
}

func TestEnvelopeRejectionSurfacesMessage(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"err":"insufficient buying power"}`))
	})
	_, err := c.PlaceOrder(context.Background(), OrderRequest{
		Symbol: "TQQQ", Qty: 8, Price: decimal.RequireFromString("82.99"), Side: SideBuy,
	})
	var rej *RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected RejectionError, got %v", err)
	}
	if !strings.Contains(rej.Message, "buying power") {
		t.Fatalf("expected gateway message preserved, got %q", rej.Message)
	}
}

func TestTransportFailureIsTransient(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()
	err := c.Login(context.Background())
	var tr *TransientError
	if !errors.As(err, &tr) {
		t.Fatalf("expected TransientError, got %v", err)
	}
}

func TestNon200IsTransient(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := c.Quote(context.Background(), "TQQQ")
	var tr *TransientError
	if !errors.As(err, &tr) {
		t.Fatalf("expected TransientError for HTTP 502, got %v", err)
	}
}

func TestPlaceOrderWireFormat(t *testing.T) {
	var got capture
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got.endpoint = r.URL.Path
		got.body = decodeBody(t, r)
		w.Write([]byte(`{"ok":true,"data":{"entrustId":"42"}}`))
	})
	res, err := c.PlaceOrder(context.Background(), OrderRequest{
		Symbol:        "TQQQ",
		Qty:           8,
		Price:         decimal.RequireFromString("82.99"),
		Side:          SideSell,
		ClientOrderID: "TQQQ-20260302",
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if got.endpoint != "/trade/TradeEntrust" {
		t.Fatalf("unexpected endpoint %q", got.endpoint)
	}
	params := got.body["params"].(map[string]any)
	if params["entrustBs"] != "2" {
		t.Fatalf("sell must map to entrustBs 2, got %v", params["entrustBs"])
	}
	if params["entrustType"] != "3" {
		t.Fatalf("expected limit order type 3, got %v", params["entrustType"])
	}
	if params["entrustPrice"] != "82.99" {
		t.Fatalf("price must travel as a string, got %v", params["entrustPrice"])
	}
	if params["clientOrderId"] != "TQQQ-20260302" {
		t.Fatalf("missing idempotency key, got %v", params["clientOrderId"])
	}
	if !strings.Contains(res.Raw, "entrustId") {
		t.Fatalf("raw result must carry the gateway payload, got %q", res.Raw)
	}
}

func TestLoginSendsCredential(t *testing.T) {
	var got capture
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got.body = decodeBody(t, r)
		w.Write([]byte(`{"ok":true}`))
	})
	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}
	params := got.body["params"].(map[string]any)
	if params["password"] != "enc-secret" {
		t.Fatalf("credential must be forwarded verbatim, got %v", params["password"])
	}
}

func TestPositionQtyLookup(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true,"data":{"positionList":[
			{"stockCode":"SOXL","canSellAmount":10},
			{"stockCode":"TQQQ","canSellAmount":50}
		]}}`))
	})
	qty, err := c.PositionQty(context.Background(), "TQQQ")
	if err != nil {
		t.Fatalf("position qty: %v", err)
	}
	if qty != 50 {
		t.Fatalf("expected 50 shares, got %d", qty)
	}
	qty, err = c.PositionQty(context.Background(), "UPRO")
	if err != nil {
		t.Fatalf("position qty: %v", err)
	}
	if qty != 0 {
		t.Fatalf("absent symbol must report zero, got %d", qty)
	}
}

func TestTotalAssets(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true,"data":{"totalAsset":10000.55}}`))
	})
	assets, err := c.TotalAssets(context.Background())
	if err != nil {
		t.Fatalf("total assets: %v", err)
	}
	if !assets.Equal(decimal.RequireFromString("10000.55")) {
		t.Fatalf("unexpected assets %s", assets)
	}
}

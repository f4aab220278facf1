package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSnapMirrorsCounters(t *testing.T) {
	before := Snap()
	IncEncoded("DAS_control")
	IncTx(BackendSocketCAN)
	IncError(ErrEncode)
	IncRejected(RejectRate)
	SetIntentClients(3)
	after := Snap()
	if after.Encoded != before.Encoded+1 || after.Tx != before.Tx+1 || after.Errors != before.Errors+1 || after.Rejected != before.Rejected+1 {
		t.Fatalf("snapshot not updated: before=%+v after=%+v", before, after)
	}
	if after.Clients != 3 {
		t.Fatalf("clients gauge mirror %d", after.Clients)
	}
}

func TestReadiness(t *testing.T) {
	defer SetReadinessFunc(nil)
	SetReadinessFunc(nil)
	if !IsReady() {
		t.Fatalf("unwired readiness must report ready")
	}
	SetReadinessFunc(func() bool { return false })
	if IsReady() {
		t.Fatalf("expected not ready")
	}
}

func TestReadyHandler(t *testing.T) {
	defer SetReadinessFunc(nil)
	SetReadinessFunc(func() bool { return false })
	srv := StartHTTP("127.0.0.1:0")
	defer srv.Close()

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready code %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics code %d", rec.Code)
	}
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/archon-research/stl-liquidator/internal/adapters/outbound/memory"
	"github.com/archon-research/stl-liquidator/internal/domain/entity"
)

// mockController is a test implementation of inbound.Controller.
type mockController struct {
	mu       sync.Mutex
	running  bool
	gasLimit uint64
	startErr error
	startCtx context.Context
	starts   int
	stops    int
}

func (m *mockController) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	m.startCtx = ctx
	if m.startErr != nil {
		return m.startErr
	}
	m.running = true
	return nil
}

func (m *mockController) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	m.running = false
	return nil
}

func (m *mockController) SetGasLimit(limit uint64) error {
	if limit == 0 {
		return errors.New("gas limit must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gasLimit = limit
	return nil
}

func (m *mockController) Snapshot() entity.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := entity.StatusStopped
	if m.running {
		status = entity.StatusScanning
	}
	return entity.Snapshot{
		Status:    status,
		LastBlock: 1000,
		GasLimit:  m.gasLimit,
		ActiveTargets: []entity.TargetSummary{{
			Account:        "0x1111111111111111111111111111111111111111",
			SolvencyMargin: decimal.RequireFromString("0.97"),
			DebtValue:      decimal.RequireFromString("1500"),
		}},
	}
}

func newTestMux(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux
}

func do(mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestHandler_Status(t *testing.T) {
	ctrl := &mockController{gasLimit: 600000}
	mux := newTestMux(NewHandler(context.Background(), ctrl, nil, nil))

	w := do(mux, http.MethodGet, "/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var snap entity.Snapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	if snap.Status != entity.StatusStopped {
		t.Errorf("status = %s, want STOPPED", snap.Status)
	}
	if snap.GasLimit != 600000 || snap.LastBlock != 1000 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if len(snap.ActiveTargets) != 1 || !snap.ActiveTargets[0].DebtValue.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("unexpected targets %+v", snap.ActiveTargets)
	}
}

func TestHandler_StartStop(t *testing.T) {
	type ctxKey struct{}
	base := context.WithValue(context.Background(), ctxKey{}, "root")
	ctrl := &mockController{}
	mux := newTestMux(NewHandler(base, ctrl, nil, nil))

	w := do(mux, http.MethodPost, "/control/start", "")
	if w.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"SCANNING"`) {
		t.Errorf("start body = %s", w.Body.String())
	}
	if ctrl.startCtx.Value(ctxKey{}) != "root" {
		t.Error("engine should be started with the base context, not the request context")
	}

	w = do(mux, http.MethodPost, "/control/stop", "")
	if w.Code != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"STOPPED"`) {
		t.Errorf("stop body = %s", w.Body.String())
	}
	if ctrl.starts != 1 || ctrl.stops != 1 {
		t.Errorf("starts=%d stops=%d", ctrl.starts, ctrl.stops)
	}

	if w := do(mux, http.MethodGet, "/control/start", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET start: expected 405, got %d", w.Code)
	}
}

func TestHandler_StartFailure(t *testing.T) {
	ctrl := &mockController{startErr: fmt.Errorf("%w: node unreachable", entity.ErrCriticalStartup)}
	mux := newTestMux(NewHandler(context.Background(), ctrl, nil, nil))

	w := do(mux, http.MethodPost, "/control/start", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "node unreachable") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestHandler_SetGasLimit(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantGas  uint64
	}{
		{"valid", `{"gasLimit": 750000}`, http.StatusOK, 750000},
		{"zero rejected", `{"gasLimit": 0}`, http.StatusBadRequest, 600000},
		{"malformed", `{"gasLimit":`, http.StatusBadRequest, 600000},
		{"unknown field", `{"gas": 1}`, http.StatusBadRequest, 600000},
		{"negative", `{"gasLimit": -5}`, http.StatusBadRequest, 600000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &mockController{gasLimit: 600000}
			mux := newTestMux(NewHandler(context.Background(), ctrl, nil, nil))

			w := do(mux, http.MethodPost, "/control/gas", tt.body)
			if w.Code != tt.wantCode {
				t.Errorf("expected %d, got %d (%s)", tt.wantCode, w.Code, w.Body.String())
			}
			if ctrl.gasLimit != tt.wantGas {
				t.Errorf("gasLimit = %d, want %d", ctrl.gasLimit, tt.wantGas)
			}
		})
	}
}

func TestHandler_Attempts(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewAttemptRepository()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		a := &entity.LiquidationAttempt{
			ID:             uuid.New(),
			Target:         common.HexToAddress(fmt.Sprintf("0x%040d", i+1)),
			SolvencyMargin: decimal.RequireFromString("0.9"),
			DebtValue:      decimal.NewFromInt(int64(1000 * (i + 1))),
			Amount:         big.NewInt(int64(500 * (i + 1))),
			GasLimit:       600000,
			TriggerBlock:   uint64(100 + i),
			Outcome:        entity.OutcomeSettled,
			StartedAt:      base.Add(time.Duration(i) * time.Second),
		}
		if i == 2 {
			a.TxHash = common.HexToHash("0x01")
		}
		if err := repo.SaveAttempt(ctx, a); err != nil {
			t.Fatalf("SaveAttempt: %v", err)
		}
	}
	mux := newTestMux(NewHandler(ctx, &mockController{}, repo, nil))

	w := do(mux, http.MethodGet, "/attempts?limit=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got []attemptView
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(got))
	}
	if got[0].TriggerBlock != 102 || got[0].TxHash == "" {
		t.Errorf("newest attempt first expected, got %+v", got[0])
	}
	if got[1].TxHash != "" {
		t.Errorf("attempt without tx should omit txHash, got %q", got[1].TxHash)
	}

	for _, bad := range []string{"0", "-1", "abc"} {
		if w := do(mux, http.MethodGet, "/attempts?limit="+bad, ""); w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: expected 400, got %d", bad, w.Code)
		}
	}
}

func TestHandler_AttemptsDisabled(t *testing.T) {
	mux := newTestMux(NewHandler(context.Background(), &mockController{}, nil, nil))
	if w := do(mux, http.MethodGet, "/attempts", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestHealthServer_MountsHandlerRoutes(t *testing.T) {
	h := NewHandler(context.Background(), &mockController{gasLimit: 1}, nil, nil)
	hs := NewHealthServer(HealthServerConfig{Handler: h}, &mockHealthChecker{ready: true, healthy: true}, nil)

	if w := serve(t, hs, http.MethodGet, "/status"); w.Code != http.StatusOK {
		t.Errorf("/status via health server: expected 200, got %d", w.Code)
	}
}

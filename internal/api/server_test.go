package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noa-infusion-supervisor/internal/domain"
	"github.com/noa-infusion-supervisor/internal/telemetry"
	"github.com/noa-infusion-supervisor/internal/vitals"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func testClinicalParams() *domain.ClinicalParameters {
	return &domain.ClinicalParameters{
		Hemodynamics: domain.HemodynamicThresholds{
			HRCriticalLow:   48,
			MAPCriticalLow:  60,
			VasoactiveDrugs: []string{"Dexmedetomidine", "Lidocaine"},
		},
		Drugs: map[string]*domain.DrugParameters{
			"Dexmedetomidine": {
				Name: "Dexmedetomidine",
				Dosing: domain.DrugDosing{
					StandardDose:          0.5,
					Unit:                  "mcg/kg/h",
					GeriatricAgeThreshold: 65,
					GeriatricDose:         0.25,
				},
				PK: &domain.DrugPK{
					CentralVolumePerKg:      0.8,
					EliminationRateK10:      0.04,
					EffectSiteTransferK1e:   0.1,
					InterventionThresholdCe: 0.1,
				},
				Contraindications: domain.DrugContraindications{
					CardiacConditions: []string{"Heart Block"},
					HardLockRationale: "heart block risk",
				},
			},
			"Ketamine": {
				Name:   "Ketamine",
				Dosing: domain.DrugDosing{StandardDose: 0.2, Unit: "mg/kg/h"},
			},
			"Lidocaine": {
				Name:   "Lidocaine",
				Dosing: domain.DrugDosing{StandardDose: 1.5, Unit: "mg/kg/h"},
			},
			"Ketorolac": {
				Name: "Ketorolac",
				Dosing: domain.DrugDosing{
					BolusOnly:         true,
					AvailabilityLabel: "Available (30mg IV)",
				},
				Contraindications: domain.DrugContraindications{
					RenalClearanceMinimum: 30,
					AllergyTriggers:       []string{"NSAID"},
					HardLockRationale:     "severe renal impairment or known allergy",
				},
			},
		},
	}
}

// newTestServer wires a server over a registry whose cases read a long
// deterministic stream of stable vitals.
func newTestServer(t *testing.T) (*Server, *Registry) {
	t.Helper()
	logger := testLogger()

	caseCfg := domain.CaseConfig{
		TickPeriod:            5 * time.Millisecond,
		VitalsFailureTripAt:   3,
		VitalsRecoveryTimeout: time.Second,
	}

	promReg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(promReg)

	registry := NewRegistry(logger, testClinicalParams(), caseCfg, metrics)
	registry.newSource = func(caseID string) domain.VitalsSource {
		samples := make([]domain.VitalsSample, 0, 1000)
		for i := 0; i < 1000; i++ {
			samples = append(samples, domain.VitalsSample{
				HeartRate:            70,
				MeanArterialPressure: 80,
				ObservedAt:           time.Now().UTC(),
			})
		}
		return vitals.NewReplay(samples...)
	}
	t.Cleanup(registry.Close)

	cfg := &domain.ServerConfig{
		Host:      "127.0.0.1",
		Port:      0,
		RateLimit: 1000,
		RateBurst: 1000,
	}
	return NewServer(logger, cfg, registry, promReg), registry
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	decoded := map[string]any{}
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	}
	return rec, decoded
}

func admitPatient(t *testing.T, handler http.Handler, profile domain.PatientProfile) string {
	t.Helper()
	rec, body := doJSON(t, handler, http.MethodPost, "/api/v1/cases", profile)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id, _ := body["case_id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestHandleHealth(t *testing.T) {
	server, _ := newTestServer(t)

	rec, body := doJSON(t, server.Router(), http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
}

func TestHandleAdmitCase_HealthyAdult(t *testing.T) {
	server, _ := newTestServer(t)

	rec, body := doJSON(t, server.Router(), http.MethodPost, "/api/v1/cases", domain.PatientProfile{
		Age: 30, WeightKg: 85, ASAClass: 2, EGFR: 95,
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, body["case_id"])
	assert.Empty(t, body["lockouts"])
	// The loop may or may not have ticked between admission and snapshot.
	assert.Contains(t, []any{string(domain.INITIALIZING), string(domain.GREEN)}, body["status"])

	rates, ok := body["rates"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 0.5, rates["Dexmedetomidine"])

	availability, ok := body["availability"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Available (30mg IV)", availability["Ketorolac"])
}

func TestHandleAdmitCase_LockoutsApplied(t *testing.T) {
	server, _ := newTestServer(t)

	rec, body := doJSON(t, server.Router(), http.MethodPost, "/api/v1/cases", domain.PatientProfile{
		Age: 78, WeightKg: 72, ASAClass: 3, EGFR: 24,
		Comorbidities: []string{"Heart Block"},
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, []any{"Dexmedetomidine", "Ketorolac"}, body["lockouts"])

	rates := body["rates"].(map[string]any)
	assert.Equal(t, 0.0, rates["Dexmedetomidine"])

	availability := body["availability"].(map[string]any)
	assert.Equal(t, "LOCKED OUT (contraindicated)", availability["Ketorolac"])
}

func TestHandleAdmitCase_InvalidProfile(t *testing.T) {
	server, _ := newTestServer(t)

	rec, body := doJSON(t, server.Router(), http.MethodPost, "/api/v1/cases", domain.PatientProfile{
		Age: 0, WeightKg: 85, ASAClass: 2, EGFR: 95,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "age")
}

func TestHandleGetCase(t *testing.T) {
	server, _ := newTestServer(t)
	id := admitPatient(t, server.Router(), domain.PatientProfile{Age: 30, WeightKg: 85, ASAClass: 2, EGFR: 95})

	rec, body := doJSON(t, server.Router(), http.MethodGet, "/api/v1/cases/"+id, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, body["case_id"])
	assert.Contains(t, body, "concentrations")
	assert.Contains(t, body, "rates")
	assert.Contains(t, body, "tick")
}

func TestHandleGetRatesAndAvailability(t *testing.T) {
	server, _ := newTestServer(t)
	id := admitPatient(t, server.Router(), domain.PatientProfile{Age: 30, WeightKg: 85, ASAClass: 2, EGFR: 95})

	rec, body := doJSON(t, server.Router(), http.MethodGet, "/api/v1/cases/"+id+"/rates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rates := body["rates"].(map[string]any)
	assert.Len(t, rates, 3)

	rec, body = doJSON(t, server.Router(), http.MethodGet, "/api/v1/cases/"+id+"/availability", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	availability := body["availability"].(map[string]any)
	assert.Contains(t, availability, "Ketorolac")
}

func TestHandleGetLockouts(t *testing.T) {
	server, _ := newTestServer(t)
	id := admitPatient(t, server.Router(), domain.PatientProfile{
		Age: 40, WeightKg: 70, ASAClass: 2, EGFR: 20,
	})

	rec, body := doJSON(t, server.Router(), http.MethodGet, "/api/v1/cases/"+id+"/lockouts", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"Ketorolac"}, body["lockouts"])
}

func TestHandleCheckDrug(t *testing.T) {
	server, _ := newTestServer(t)
	id := admitPatient(t, server.Router(), domain.PatientProfile{
		Age: 40, WeightKg: 70, ASAClass: 2, EGFR: 20,
	})

	rec, body := doJSON(t, server.Router(), http.MethodGet, "/api/v1/cases/"+id+"/check/Ketorolac", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["allowed"])
	assert.Contains(t, body["message"], "HARD LOCK")

	rec, _ = doJSON(t, server.Router(), http.MethodGet, "/api/v1/cases/"+id+"/check/Propofol", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleCase_NotFound(t *testing.T) {
	server, _ := newTestServer(t)

	for _, path := range []string{
		"/api/v1/cases/missing",
		"/api/v1/cases/missing/rates",
		"/api/v1/cases/missing/lockouts",
		"/api/v1/cases/missing/check/Ketamine",
	} {
		rec, _ := doJSON(t, server.Router(), http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestHandleDischargeCase(t *testing.T) {
	server, registry := newTestServer(t)
	id := admitPatient(t, server.Router(), domain.PatientProfile{Age: 30, WeightKg: 85, ASAClass: 2, EGFR: 95})

	rec, body := doJSON(t, server.Router(), http.MethodDelete, "/api/v1/cases/"+id, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, body["case_id"])
	assert.Contains(t, body, "final_tick")
	assert.Contains(t, body, "final_rates")

	_, err := registry.Get(id)
	assert.ErrorIs(t, err, domain.ErrCaseNotFound)

	rec, _ = doJSON(t, server.Router(), http.MethodDelete, "/api/v1/cases/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	id := admitPatient(t, server.Router(), domain.PatientProfile{Age: 30, WeightKg: 85, ASAClass: 2, EGFR: 95})

	// Give the loop a few ticks so the per-case series exist.
	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)
		return rec.Code == http.StatusOK &&
			bytes.Contains(rec.Body.Bytes(), []byte("noa_supervisor_ticks_total")) &&
			bytes.Contains(rec.Body.Bytes(), []byte(id))
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRegistry_CaseLoopRuns(t *testing.T) {
	_, registry := newTestServer(t)

	c, err := registry.Admit(domain.PatientProfile{Age: 30, WeightKg: 85, ASAClass: 2, EGFR: 95})
	require.NoError(t, err)

	snapshots, unsubscribe := c.Subscribe()
	defer unsubscribe()

	select {
	case snap := <-snapshots:
		assert.Equal(t, domain.GREEN, snap.Status)
		assert.Greater(t, snap.Tick, int64(0))
	case <-time.After(2 * time.Second):
		t.Fatal("no tick observed from case loop")
	}

	discharged, err := registry.Discharge(c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, discharged.ID)
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("case loop did not stop after discharge")
	}
}

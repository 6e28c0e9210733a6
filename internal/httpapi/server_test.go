package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/scouter/internal/authcontract"
	"github.com/sawpanic/scouter/internal/ingest"
	"github.com/sawpanic/scouter/internal/metrics"
	"github.com/sawpanic/scouter/internal/persistence"
	"github.com/sawpanic/scouter/internal/profile"
	"github.com/sawpanic/scouter/internal/readapi"
	"github.com/sawpanic/scouter/internal/records"
	"github.com/sawpanic/scouter/internal/scouterrors"
)

type stubProfiles struct {
	upserted *profile.Profile
}

func (s *stubProfiles) Upsert(_ context.Context, p profile.Profile) (persistence.Entity, error) {
	s.upserted = &p
	return persistence.Entity{EntityID: 1, UID: "uid-1", Space: "s", Name: "m", Version: "1"}, nil
}
func (s *stubProfiles) Get(context.Context, string, string, string, profile.DriftType) (profile.Profile, error) {
	return profile.Profile{}, scouterrors.New(scouterrors.KindNotFound, "test", scouterrors.ErrProfileNotFound)
}
func (s *stubProfiles) GetByEntityID(context.Context, int64) (profile.Profile, error) {
	return profile.Profile{}, nil
}
func (s *stubProfiles) SetActive(context.Context, string, string, string, profile.DriftType, bool) error {
	return nil
}
func (s *stubProfiles) ResolveEntity(context.Context, string, string, string, profile.DriftType) (persistence.Entity, error) {
	return persistence.Entity{EntityID: 1}, nil
}
func (s *stubProfiles) ResolveUID(context.Context, string) (persistence.Entity, error) {
	return persistence.Entity{EntityID: 1}, nil
}

type stubAlerts struct {
	alerts []persistence.Alert
}

func (s *stubAlerts) Insert(context.Context, persistence.Alert) (int64, error) { return 1, nil }
func (s *stubAlerts) List(context.Context, int64, bool, int, *time.Time) ([]persistence.Alert, error) {
	return s.alerts, nil
}
func (s *stubAlerts) SetActive(context.Context, int64, bool) error { return nil }

type stubObs struct{}

func (stubObs) InsertSpc(context.Context, []persistence.SpcRow) error       { return nil }
func (stubObs) InsertPsi(context.Context, []persistence.PsiRow) error       { return nil }
func (stubObs) InsertCustom(context.Context, []persistence.CustomRow) error { return nil }
func (stubObs) InsertTag(context.Context, int64, string, string, time.Time) error {
	return nil
}
func (stubObs) InsertTraceBaggage(context.Context, int64, string, string, map[string]string, time.Time) error {
	return nil
}
func (stubObs) RecentSpc(context.Context, int64, string, persistence.TimeRange, int) ([]persistence.SpcRow, error) {
	return nil, nil
}
func (stubObs) PsiBinCounts(context.Context, int64, string, persistence.TimeRange) (map[uint64]uint64, error) {
	return nil, nil
}
func (stubObs) RecentCustom(context.Context, int64, string, persistence.TimeRange) ([]persistence.CustomRow, error) {
	return nil, nil
}
func (stubObs) BinnedSpc(context.Context, int64, persistence.TimeRange, int) ([]persistence.BinnedSpcFeature, error) {
	return []persistence.BinnedSpcFeature{{Feature: "f1"}}, nil
}
func (stubObs) BinnedPsi(context.Context, int64, persistence.TimeRange, int) ([]persistence.BinnedPsiFeature, error) {
	return nil, nil
}
func (stubObs) BinnedCustom(context.Context, int64, persistence.TimeRange, int) ([]persistence.BinnedSpcFeature, error) {
	return nil, nil
}

type stubResolver struct{}

func (stubResolver) ResolveEntity(context.Context, string, string, string, profile.DriftType) (persistence.Entity, error) {
	return persistence.Entity{EntityID: 1}, nil
}

// writeOnlyAuth grants write:test only.
type writeOnlyAuth struct{}

func (writeOnlyAuth) Authenticate(context.Context, *http.Request) (authcontract.Claims, error) {
	return authcontract.Claims{
		Subject:     "svc",
		Permissions: []authcontract.Permission{authcontract.PermWrite("test")},
	}, nil
}

func newTestServer(t *testing.T, auth authcontract.Authenticator) (*Server, *stubProfiles) {
	t.Helper()
	reg := metrics.NewRegistry()
	pool := ingest.NewPool(ingest.PoolConfig{Workers: 1, ChannelCapacity: 8},
		stubObs{}, stubResolver{}, reg, zerolog.Nop())
	profiles := &stubProfiles{}
	deps := Deps{
		Pool:     pool,
		Profiles: profiles,
		Alerts:   &stubAlerts{},
		Read:     readapi.NewService(profiles, stubObs{}, nil, 30, zerolog.Nop()),
		Auth:     auth,
		Registry: reg,
		Log:      zerolog.Nop(),
	}
	return NewServer(DefaultServerConfig(0), deps), profiles
}

func TestHealthcheck(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/scouter/healthcheck", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Alive", body["status"])
}

func TestPostMessageEnqueues(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	msg := records.MessageRecord{ServerRecords: &records.ServerRecords{Records: []records.ServerRecord{
		{Spc: &records.SpcRecord{Space: "test", Name: "m", Version: "1", Feature: "f", Value: 1, CreatedAt: time.Now().UTC()}},
	}}}
	payload, _ := json.Marshal(msg)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/scouter/message", bytes.NewReader(payload)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPostMessageForbiddenOutsideSpace(t *testing.T) {
	srv, _ := newTestServer(t, writeOnlyAuth{})
	msg := records.MessageRecord{ServerRecords: &records.ServerRecords{Records: []records.ServerRecord{
		{Spc: &records.SpcRecord{Space: "other", Name: "m", Version: "1", Feature: "f", Value: 1, CreatedAt: time.Now().UTC()}},
	}}}
	payload, _ := json.Marshal(msg)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/scouter/message", bytes.NewReader(payload)))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPostProfileUpserts(t *testing.T) {
	srv, profiles := newTestServer(t, nil)
	p := profile.Profile{
		DriftType: profile.DriftSpc,
		Spc: &profile.SpcProfile{
			Config: profile.Config{
				Space: "test", Name: "m", Version: "1",
				SampleSize: 25, Schedule: "0 * * * *",
				AlertConfig: profile.DefaultAlertConfig(),
			},
			Features: map[string]profile.SigmaBand{"f1": {Center: 0, OneSigma: 1}},
		},
	}
	body, _ := json.Marshal(profileRequest{Space: "test", DriftType: profile.DriftSpc, Profile: p})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/scouter/profile", bytes.NewReader(body)))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, profiles.upserted)
	assert.Equal(t, profile.DriftSpc, profiles.upserted.DriftType)
}

func TestGetProfileNotFoundIs404(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/scouter/profile?space=s&name=m&version=1&drift_type=spc", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetBinnedDrift(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/scouter/drift/spc?space=s&name=m&version=1&time_interval=1hour&max_data_points=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out readapi.BinnedFeatureMetrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Spc, 1)
	assert.Equal(t, "f1", out.Spc[0].Feature)
}

func TestGetAlertsRequiresEntityID(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/scouter/alerts", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpointExposed(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

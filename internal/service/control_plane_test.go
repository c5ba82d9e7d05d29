package service

import (
	"encoding/json"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Resinat/Relayd/internal/availability"
	"github.com/Resinat/Relayd/internal/config"
	"github.com/Resinat/Relayd/internal/profile"
	"github.com/Resinat/Relayd/internal/relay"
	"github.com/Resinat/Relayd/internal/relaylist"
	"github.com/Resinat/Relayd/internal/selector"
)

const relayListDoc = `{
  "etag": "\"v1\"",
  "countries": [
    {"name": "Sweden", "code": "se", "cities": [
      {"name": "Gothenburg", "code": "got", "latitude": 57.7, "longitude": 11.97, "relays": [
        {"hostname": "se-got-wg-001", "ipv4_addr_in": "185.213.154.68",
         "include_in_country": true, "active": true, "owned": true, "provider": "31173", "weight": 1,
         "endpoint_data": {"wireguard": {"public_key": "pk1"}}},
        {"hostname": "se-got-wg-002", "ipv4_addr_in": "185.213.154.69",
         "include_in_country": true, "active": false, "owned": true, "provider": "31173", "weight": 1,
         "endpoint_data": {"wireguard": {"public_key": "pk2"}}},
        {"hostname": "se-got-br-001", "ipv4_addr_in": "185.213.154.70",
         "include_in_country": true, "active": true, "owned": true, "provider": "31173", "weight": 1,
         "endpoint_data": "bridge"}
      ]}
    ]},
    {"name": "Germany", "code": "de", "cities": [
      {"name": "Berlin", "code": "ber", "latitude": 52.52, "longitude": 13.4, "relays": [
        {"hostname": "de-ber-wg-001", "ipv4_addr_in": "193.32.248.65",
         "include_in_country": true, "active": true, "owned": false, "provider": "M247", "weight": 10,
         "endpoint_data": {"wireguard": {"public_key": "pk3"}}},
        {"hostname": "de-ber-ovpn-001", "ipv4_addr_in": "193.32.248.66",
         "include_in_country": true, "active": true, "owned": false, "provider": "M247", "weight": 50,
         "endpoint_data": "openvpn"}
      ]}
    ]}
  ],
  "wireguard": {"port_ranges": [[53, 53], [4000, 33433]], "ipv4_gateway": "10.64.0.1"},
  "openvpn": {"ports": [{"port": 1194, "protocol": "udp"}, {"port": 443, "protocol": "tcp"}]},
  "bridge": {"shadowsocks": [{"port": 443, "cipher": "aes-256-gcm", "password": "secret", "protocol": "tcp"}]}
}`

type fakeUpdater struct{ calls int }

func (f *fakeUpdater) Update() { f.calls++ }

type testEnv struct {
	cp      *ControlPlaneService
	clock   *clock.Mock
	updater *fakeUpdater
}

func newTestEnv(t *testing.T, doc string) *testEnv {
	t.Helper()
	var list *relay.RelayList
	if doc != "" {
		var err error
		list, err = relay.ParseRelayList([]byte(doc))
		require.NoError(t, err)
	}

	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	logger := zaptest.NewLogger(t)
	store := relaylist.NewStore(relaylist.StoreConfig{Clock: clk, Logger: logger}, list, nil, clk.Now())
	up := &fakeUpdater{}
	cp := &ControlPlaneService{
		Store:    store,
		Selector: selector.New(selector.Config{Source: store, CandidateCacheSize: 16, Logger: logger}),
		Profiles: profile.NewManager(),
		Gate:     availability.NewGate(availability.State{}, logger),
		Updater:  up,
		EnvCfg:   &config.EnvConfig{RelayListUpdateInterval: time.Hour},
		Info:     SystemInfo{Version: "test"},
		Logger:   logger,
	}
	return &testEnv{cp: cp, clock: clk, updater: up}
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var svcErr *ServiceError
	require.True(t, errors.As(err, &svcErr), "expected *ServiceError, got %T", err)
	assert.Equal(t, code, svcErr.Code, svcErr.Message)
}

func hostnames(rs []RelaySummary) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Hostname)
	}
	return out
}

func TestRelayListStatus(t *testing.T) {
	env := newTestEnv(t, relayListDoc)

	st := env.cp.GetRelayListStatus()
	assert.Equal(t, `"v1"`, st.ETag)
	assert.Equal(t, 5, st.Relays)
	assert.Equal(t, 4, st.ActiveRelays)
	assert.Equal(t, 3, st.WireGuard)
	assert.Equal(t, 1, st.OpenVPN)
	assert.Equal(t, 1, st.Bridges)
	assert.False(t, st.Stale)
	assert.Equal(t, time.Hour, st.UpdateInterval.Std())

	env.clock.Add(time.Hour)
	assert.True(t, env.cp.GetRelayListStatus().Stale)
}

func TestTriggerUpdate(t *testing.T) {
	env := newTestEnv(t, relayListDoc)
	require.NoError(t, env.cp.TriggerUpdate())
	require.NoError(t, env.cp.TriggerUpdate())
	assert.Equal(t, 2, env.updater.calls)

	env.cp.Updater = nil
	requireCode(t, env.cp.TriggerUpdate(), "INTERNAL")
}

func TestListRelays_Filters(t *testing.T) {
	env := newTestEnv(t, relayListDoc)

	all, err := env.cp.ListRelays(RelayFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 5)

	se, err := env.cp.ListRelays(RelayFilter{Country: "SE"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"se-got-wg-001", "se-got-wg-002", "se-got-br-001"}, hostnames(se))

	inactive := false
	got, err := env.cp.ListRelays(RelayFilter{Active: &inactive})
	require.NoError(t, err)
	assert.Equal(t, []string{"se-got-wg-002"}, hostnames(got))

	ovpn, err := env.cp.ListRelays(RelayFilter{Country: "de", City: "ber", Kind: "openvpn"})
	require.NoError(t, err)
	assert.Equal(t, []string{"de-ber-ovpn-001"}, hostnames(ovpn))

	_, err = env.cp.ListRelays(RelayFilter{City: "got"})
	requireCode(t, err, "INVALID_ARGUMENT")
	_, err = env.cp.ListRelays(RelayFilter{Kind: "ipsec"})
	requireCode(t, err, "INVALID_ARGUMENT")
}

func TestGetRelay(t *testing.T) {
	env := newTestEnv(t, relayListDoc)

	r, err := env.cp.GetRelay("se-got-wg-001")
	require.NoError(t, err)
	assert.Equal(t, "wireguard", r.Kind)
	assert.Equal(t, "Gothenburg", r.City)
	assert.Equal(t, "pk1", r.PublicKey)
	assert.False(t, r.Overridden)

	_, err = env.cp.GetRelay("xx-nope-001")
	requireCode(t, err, "NOT_FOUND")
}

func TestSetOverrides(t *testing.T) {
	env := newTestEnv(t, relayListDoc)
	before := env.cp.Store.Snapshot()

	out, err := env.cp.SetOverrides([]relay.Override{
		{Hostname: " se-got-wg-001 ", IPv4AddrIn: netip.MustParseAddr("10.9.9.9")},
		{Hostname: "future-relay", IPv6AddrIn: netip.MustParseAddr("2001:db8::9")},
	})
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Len(t, env.cp.GetOverrides(), 2)

	r, err := env.cp.GetRelay("se-got-wg-001")
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("10.9.9.9"), r.IPv4AddrIn)
	assert.True(t, r.Overridden)
	// The original list is untouched.
	orig, _ := before.Lookup("se-got-wg-001")
	assert.Equal(t, netip.MustParseAddr("185.213.154.68"), orig.IPv4AddrIn)

	out, err = env.cp.SetOverrides(nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	r, err = env.cp.GetRelay("se-got-wg-001")
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("185.213.154.68"), r.IPv4AddrIn)
}

func TestSetOverrides_Invalid(t *testing.T) {
	env := newTestEnv(t, relayListDoc)

	_, err := env.cp.SetOverrides([]relay.Override{{Hostname: "se-got-wg-001"}})
	requireCode(t, err, "INVALID_ARGUMENT")

	_, err = env.cp.SetOverrides([]relay.Override{
		{Hostname: "se-got-wg-001", IPv4AddrIn: netip.MustParseAddr("10.0.0.1")},
		{Hostname: "se-got-wg-001", IPv4AddrIn: netip.MustParseAddr("10.0.0.2")},
	})
	requireCode(t, err, "INVALID_ARGUMENT")
	assert.Empty(t, env.cp.GetOverrides())
}

func TestPreviewFilter(t *testing.T) {
	env := newTestEnv(t, relayListDoc)

	resp, err := env.cp.PreviewFilter(PreviewFilterRequest{ProfileSpec: &profile.Spec{
		Location: &profile.LocationSpec{Country: "se"},
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"se-got-wg-001"}, hostnames(resp.Exits))
	assert.Nil(t, resp.Entries)

	multihop := true
	resp, err = env.cp.PreviewFilter(PreviewFilterRequest{ProfileSpec: &profile.Spec{
		Location: &profile.LocationSpec{Country: "se"},
		WireGuard: profile.WireGuardSpec{
			Multihop:      &multihop,
			EntryLocation: &profile.LocationSpec{Country: "de"},
		},
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"se-got-wg-001"}, hostnames(resp.Exits))
	assert.Equal(t, []string{"de-ber-wg-001"}, hostnames(resp.Entries))

	id := profile.DefaultID
	resp, err = env.cp.PreviewFilter(PreviewFilterRequest{ProfileID: &id})
	require.NoError(t, err)
	assert.Len(t, resp.Exits, 3)
}

func TestPreviewFilter_Invalid(t *testing.T) {
	env := newTestEnv(t, relayListDoc)

	_, err := env.cp.PreviewFilter(PreviewFilterRequest{})
	requireCode(t, err, "INVALID_ARGUMENT")

	id := profile.DefaultID
	_, err = env.cp.PreviewFilter(PreviewFilterRequest{ProfileID: &id, ProfileSpec: &profile.Spec{}})
	requireCode(t, err, "INVALID_ARGUMENT")

	missing := "7c9e6679-7425-40de-944b-e07fc1f90ae7"
	_, err = env.cp.PreviewFilter(PreviewFilterRequest{ProfileID: &missing})
	requireCode(t, err, "NOT_FOUND")

	_, err = env.cp.PreviewFilter(PreviewFilterRequest{ProfileSpec: &profile.Spec{Ownership: "leased"}})
	requireCode(t, err, "INVALID_ARGUMENT")
}

func TestProfileCRUD(t *testing.T) {
	env := newTestEnv(t, relayListDoc)

	created, err := env.cp.CreateProfile(profile.Spec{Name: "sweden", Location: &profile.LocationSpec{Country: "se"}})
	require.NoError(t, err)
	assert.NotEqual(t, profile.DefaultID, created.ID)
	assert.NotEmpty(t, created.UpdatedAt)

	list := env.cp.ListProfiles()
	require.Len(t, list, 2)
	assert.Equal(t, profile.DefaultID, list[0].ID)
	assert.Equal(t, "sweden", list[1].Spec.Name)

	_, err = env.cp.CreateProfile(profile.Spec{Name: "sweden"})
	requireCode(t, err, "CONFLICT")
	_, err = env.cp.CreateProfile(profile.Spec{Name: "bad", Ownership: "leased"})
	requireCode(t, err, "INVALID_ARGUMENT")
	_, err = env.cp.CreateProfile(profile.Spec{})
	requireCode(t, err, "INVALID_ARGUMENT")

	updated, err := env.cp.UpdateProfile(created.ID, profile.Spec{Name: "germany", Location: &profile.LocationSpec{Country: "de"}})
	require.NoError(t, err)
	assert.Equal(t, "germany", updated.Spec.Name)

	got, err := env.cp.GetProfile(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "germany", got.Spec.Name)

	_, err = env.cp.UpdateProfile(profile.DefaultID, profile.Spec{Name: "renamed"})
	requireCode(t, err, "CONFLICT")
	_, err = env.cp.UpdateProfile("7c9e6679-7425-40de-944b-e07fc1f90ae7", profile.Spec{Name: "x"})
	requireCode(t, err, "NOT_FOUND")

	requireCode(t, env.cp.DeleteProfile(profile.DefaultID), "CONFLICT")
	require.NoError(t, env.cp.DeleteProfile(created.ID))
	requireCode(t, env.cp.DeleteProfile(created.ID), "NOT_FOUND")
	_, err = env.cp.GetProfile(created.ID)
	requireCode(t, err, "NOT_FOUND")
}

func TestSelectRelay(t *testing.T) {
	env := newTestEnv(t, relayListDoc)

	p, err := env.cp.CreateProfile(profile.Spec{Name: "sweden", Location: &profile.LocationSpec{Country: "se"}})
	require.NoError(t, err)

	sel, err := env.cp.SelectRelay(p.ID, SelectRelayRequest{})
	require.NoError(t, err)
	assert.Equal(t, "se-got-wg-001", sel.Exit.Hostname)
	assert.Equal(t, relay.TunnelTypeWireGuard, sel.Endpoint.Tunnel)

	out, err := json.Marshal(sel)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"exit"`)

	nowhere, err := env.cp.CreateProfile(profile.Spec{Name: "france", Location: &profile.LocationSpec{Country: "fr"}})
	require.NoError(t, err)
	_, err = env.cp.SelectRelay(nowhere.ID, SelectRelayRequest{RetryAttempt: 3})
	requireCode(t, err, "NO_RELAYS_MATCH")
	assert.ErrorIs(t, err, selector.ErrNoRelaysMatch)

	_, err = env.cp.SelectRelay("7c9e6679-7425-40de-944b-e07fc1f90ae7", SelectRelayRequest{})
	requireCode(t, err, "NOT_FOUND")
}

func TestSelectRelay_EmptyList(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.cp.SelectRelay(profile.DefaultID, SelectRelayRequest{})
	requireCode(t, err, "EMPTY_RELAY_LIST")
}

func TestPatchAvailability(t *testing.T) {
	env := newTestEnv(t, relayListDoc)
	assert.True(t, env.cp.GetAvailability().BackgroundAllowed)

	resp, err := env.cp.PatchAvailability(json.RawMessage(`{"offline": true}`))
	require.NoError(t, err)
	assert.True(t, resp.Offline)
	assert.False(t, resp.BackgroundAllowed)

	resp, err = env.cp.PatchAvailability(json.RawMessage(`{"suspended": true, "offline": false}`))
	require.NoError(t, err)
	assert.True(t, resp.Suspended)
	assert.False(t, resp.Offline)
	assert.False(t, resp.BackgroundAllowed)

	resp, err = env.cp.PatchAvailability(json.RawMessage(`{"suspended": false}`))
	require.NoError(t, err)
	assert.True(t, resp.BackgroundAllowed)
	assert.Equal(t, availability.State{}, env.cp.Gate.State())
}

func TestPatchAvailability_Invalid(t *testing.T) {
	env := newTestEnv(t, relayListDoc)

	for _, body := range []string{
		`{}`,
		`[]`,
		`{"offline": null}`,
		`{"offline": "yes"}`,
		`{"background_allowed": true}`,
		`not json`,
	} {
		_, err := env.cp.PatchAvailability(json.RawMessage(body))
		requireCode(t, err, "INVALID_ARGUMENT")
	}
	assert.Equal(t, availability.State{}, env.cp.Gate.State())
}

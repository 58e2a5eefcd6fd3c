package capability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleetglass/fleetglass/internal/shared"
)

func echoHandler(_ context.Context, req Request) (any, error) {
	return req.Params, nil
}

func defFor(name string, required ...string) Definition {
	return Definition{
		Name:                name,
		Category:            "inventory",
		RiskLevel:           RiskLow,
		RequiredPermissions: required,
		Handler:             echoHandler,
	}
}

func TestRegisterValidatesName(t *testing.T) {
	reg := NewRegistry()

	require.NoError(t, reg.Register("puppet", defFor("inventory.list"), DefaultPriority))
	require.NoError(t, reg.Register("puppet", defFor("a.b.c9"), DefaultPriority))

	for _, bad := range []string{"", "inventory", "inventory.", ".list", "a..b", "a b.c"} {
		def := defFor(bad)
		require.Error(t, reg.Register("puppet", def, DefaultPriority), "name=%q", bad)
	}

	def := defFor("nodes.view")
	def.Handler = nil
	require.Error(t, reg.Register("puppet", def, DefaultPriority))
	require.Error(t, reg.Register("", defFor("nodes.view"), DefaultPriority))
}

func TestHighestPriorityProviderExecutes(t *testing.T) {
	reg := NewRegistry()

	lowDef := defFor("inventory.list")
	lowDef.Handler = func(context.Context, Request) (any, error) { return "low", nil }
	highDef := defFor("inventory.list")
	highDef.Handler = func(context.Context, Request) (any, error) { return "high", nil }

	require.NoError(t, reg.Register("ansible", lowDef, 5))
	require.NoError(t, reg.Register("puppet", highDef, 20))

	res := reg.Execute(context.Background(), shared.User{ID: "u"}, "inventory.list", nil, nil)
	require.True(t, res.Success)
	require.Equal(t, "high", res.Data)
	require.Equal(t, "puppet", res.HandledBy)
	require.Equal(t, []string{"puppet", "ansible"}, reg.ProvidersFor("inventory.list"))
}

func TestPriorityTiesKeepRegistrationOrder(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("first", defFor("nodes.view"), DefaultPriority))
	require.NoError(t, reg.Register("second", defFor("nodes.view"), DefaultPriority))

	require.Equal(t, []string{"first", "second"}, reg.ProvidersFor("nodes.view"))
}

func TestExecuteUnknownCapability(t *testing.T) {
	reg := NewRegistry()

	res := reg.Execute(context.Background(), shared.User{ID: "u"}, "no.such", nil, nil)
	require.False(t, res.Success)
	require.NotNil(t, res.Error)
	require.Equal(t, shared.CodeCapabilityNotFound, res.Error.Code)
}

func TestExecutePermissionDenied(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("puppet", defFor("nodes.restart", "operator"), DefaultPriority))

	res := reg.Execute(context.Background(), shared.User{ID: "u", Roles: []string{"viewer"}}, "nodes.restart", nil, nil)
	require.False(t, res.Success)
	require.Equal(t, shared.CodePermissionDenied, res.Error.Code)
	require.Equal(t, []string{"operator"}, res.Error.Details["required"])
	require.Equal(t, []string{"viewer"}, res.Error.Details["roles"])
}

func TestExecuteHandlerFailures(t *testing.T) {
	reg := NewRegistry()

	failing := defFor("nodes.restart")
	failing.Handler = func(context.Context, Request) (any, error) {
		return nil, errors.New("agent unreachable")
	}
	panicking := defFor("nodes.reboot")
	panicking.Handler = func(context.Context, Request) (any, error) {
		panic("boom")
	}
	require.NoError(t, reg.Register("puppet", failing, DefaultPriority))
	require.NoError(t, reg.Register("puppet", panicking, DefaultPriority))

	res := reg.Execute(context.Background(), shared.User{ID: "u"}, "nodes.restart", nil, nil)
	require.False(t, res.Success)
	require.Equal(t, shared.CodeExecutionError, res.Error.Code)
	require.Equal(t, "puppet", res.HandledBy)

	// A panic is contained and reported the same way.
	res = reg.Execute(context.Background(), shared.User{ID: "u"}, "nodes.reboot", nil, nil)
	require.False(t, res.Success)
	require.Equal(t, shared.CodeExecutionError, res.Error.Code)
	require.Contains(t, res.Error.Message, "boom")
}

func TestBasicChecker(t *testing.T) {
	checker := BasicChecker{}
	ctx := context.Background()

	// Empty requirements mean public.
	require.True(t, checker.Authorized(ctx, shared.User{}, "x.y", nil))

	admin := shared.User{ID: "a", Roles: []string{shared.RoleAdmin}}
	require.True(t, checker.Authorized(ctx, admin, "x.y", []string{"operator"}))

	operator := shared.User{ID: "o", Roles: []string{"operator"}}
	require.True(t, checker.Authorized(ctx, operator, "x.y", []string{"operator"}))

	granted := shared.User{ID: "g", Permissions: []string{"nodes.restart"}}
	require.True(t, checker.Authorized(ctx, granted, "x.y", []string{"nodes.restart"}))

	require.False(t, checker.Authorized(ctx, shared.User{ID: "v", Roles: []string{"viewer"}}, "x.y", []string{"operator"}))
}

func TestUnregisterProviderCascades(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("puppet", defFor("inventory.list"), DefaultPriority))
	require.NoError(t, reg.Register("puppet", defFor("nodes.view"), DefaultPriority))
	require.NoError(t, reg.Register("ansible", defFor("inventory.list"), 5))
	require.NoError(t, reg.RegisterWidget("puppet", Widget{
		ID: "node-status", RequiredCapabilities: []string{"nodes.view"},
	}))
	require.NoError(t, reg.RegisterWidget("ansible", Widget{
		ID: "job-log", RequiredCapabilities: []string{"inventory.list"},
	}))

	require.Equal(t, 2, reg.UnregisterProvider("puppet"))

	require.False(t, reg.HasCapability("nodes.view"))
	require.True(t, reg.HasCapability("inventory.list"))
	require.Equal(t, []string{"ansible"}, reg.ProvidersFor("inventory.list"))
	require.Empty(t, reg.WidgetsRequiring("nodes.view"))
	require.Equal(t, []string{"job-log"}, reg.WidgetsRequiring("inventory.list"))

	require.Equal(t, 0, reg.UnregisterProvider("puppet"))
}

func TestWidgetIndex(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterWidget("puppet", Widget{
		ID: "certs", RequiredCapabilities: []string{"ca.list", "ca.status"},
	}))
	require.Error(t, reg.RegisterWidget("puppet", Widget{ID: "certs"}))
	require.Error(t, reg.RegisterWidget("puppet", Widget{}))

	require.Equal(t, []string{"certs"}, reg.WidgetsRequiring("ca.list"))
	require.True(t, reg.UnregisterWidget("certs"))
	require.Empty(t, reg.WidgetsRequiring("ca.list"))
	require.False(t, reg.UnregisterWidget("certs"))
}

func TestCapabilityListingFiltersAndAnnotates(t *testing.T) {
	reg := NewRegistry()
	caDef := defFor("ca.sign", "operator")
	caDef.Category = "ca"
	caDef.RiskLevel = RiskHigh
	require.NoError(t, reg.Register("puppetca", caDef, DefaultPriority))
	require.NoError(t, reg.Register("puppet", defFor("inventory.list"), DefaultPriority))

	all := reg.Capabilities(context.Background(), Filter{}, nil)
	require.Len(t, all, 2)
	for _, entry := range all {
		require.Nil(t, entry.Authorized)
	}

	onlyCA := reg.Capabilities(context.Background(), Filter{Category: "ca"}, nil)
	require.Len(t, onlyCA, 1)
	require.Equal(t, "ca.sign", onlyCA[0].Name)

	highRisk := reg.Capabilities(context.Background(), Filter{RiskLevel: RiskHigh}, nil)
	require.Len(t, highRisk, 1)

	viewer := shared.User{ID: "v", Roles: []string{"viewer"}}
	annotated := reg.Capabilities(context.Background(), Filter{}, &viewer)
	byName := map[string]*bool{}
	for _, entry := range annotated {
		byName[entry.Name] = entry.Authorized
	}
	require.True(t, *byName["inventory.list"])
	require.False(t, *byName["ca.sign"])
}

func TestWidgetListingSortedAndGated(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("puppet", defFor("inventory.list"), DefaultPriority))
	require.NoError(t, reg.Register("puppetca", defFor("ca.sign", "operator"), DefaultPriority))

	require.NoError(t, reg.RegisterWidget("puppet", Widget{
		ID: "inventory", RequiredCapabilities: []string{"inventory.list"}, Priority: 1,
	}))
	require.NoError(t, reg.RegisterWidget("puppetca", Widget{
		ID: "cert-actions", RequiredCapabilities: []string{"inventory.list", "ca.sign"}, Priority: 9,
	}))

	viewer := shared.User{ID: "v", Roles: []string{"viewer"}}
	widgets := reg.Widgets(context.Background(), &viewer)
	require.Len(t, widgets, 2)
	require.Equal(t, "cert-actions", widgets[0].ID)

	// All required capabilities must be authorized.
	require.False(t, *widgets[0].Authorized)
	require.True(t, *widgets[1].Authorized)
}

type recordingAudit struct {
	entries []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.entries = append(a.entries, log)
	return nil
}

func TestExecuteWritesAudit(t *testing.T) {
	audit := &recordingAudit{}
	reg := NewRegistry(WithAudit(audit))
	require.NoError(t, reg.Register("puppet", defFor("inventory.list"), DefaultPriority))

	reg.Execute(context.Background(), shared.User{ID: "alice"}, "inventory.list", nil, nil)
	reg.Execute(context.Background(), shared.User{ID: "alice"}, "no.such", nil, nil)

	require.Len(t, audit.entries, 2)
	require.Equal(t, "alice", audit.entries[0].ActorID)
	require.Equal(t, "success", audit.entries[0].Outcome)
	require.Equal(t, "puppet", audit.entries[0].Provider)
	require.Equal(t, shared.CodeCapabilityNotFound, audit.entries[1].Outcome)
}

type denyAllChecker struct{}

func (denyAllChecker) Authorized(context.Context, shared.User, string, []string) bool { return false }

func TestInjectedCheckerGatesExecution(t *testing.T) {
	reg := NewRegistry(WithChecker(denyAllChecker{}))
	require.NoError(t, reg.Register("puppet", defFor("inventory.list"), DefaultPriority))

	res := reg.Execute(context.Background(), shared.User{ID: "a", Roles: []string{shared.RoleAdmin}}, "inventory.list", nil, nil)
	require.False(t, res.Success)
	require.Equal(t, shared.CodePermissionDenied, res.Error.Code)
}

type executionCounter struct {
	samples map[string]int
}

func (c *executionCounter) RecordCapabilityExecution(capability, outcome string) {
	if c.samples == nil {
		c.samples = make(map[string]int)
	}
	c.samples[capability+"/"+outcome]++
}

func TestExecutionMetricsRecorded(t *testing.T) {
	counter := &executionCounter{}
	reg := NewRegistry(WithMetrics(counter))
	require.NoError(t, reg.Register("puppet", defFor("inventory.list"), DefaultPriority))
	require.NoError(t, reg.Register("puppet", defFor("nodes.restart", "operator"), DefaultPriority))

	reg.Execute(context.Background(), shared.User{ID: "u"}, "inventory.list", nil, nil)
	reg.Execute(context.Background(), shared.User{ID: "u"}, "nodes.restart", nil, nil)
	reg.Execute(context.Background(), shared.User{ID: "u"}, "no.such", nil, nil)

	require.Len(t, counter.samples, 3)
	require.Equal(t, 1, counter.samples["inventory.list/success"])
	require.Equal(t, 1, counter.samples["nodes.restart/"+shared.CodePermissionDenied])
	require.Equal(t, 1, counter.samples["no.such/"+shared.CodeCapabilityNotFound])
}

package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/toolguard/pkg/fault"
	"github.com/harun/toolguard/pkg/sandbox"
	"github.com/harun/toolguard/pkg/schema"
	"github.com/harun/toolguard/pkg/security"
)

func allowAllPolicy() *security.Policy {
	return security.NewPolicy(security.Context{
		Principal: security.Principal{ID: "agent-1", Roles: []string{"operator"}},
		Checker:   security.AllowAll,
	}, security.WithAudit(false))
}

func echoFunction(name string) FunctionDefinition {
	return FunctionDefinition{
		Name:        name,
		Description: "Echo the input",
		Parameters:  schema.Object(schema.Required("text", schema.String("input"))),
		Handler: func(ctx context.Context, args []interface{}) (interface{}, error) {
			return args[0], nil
		},
	}
}

func echoTool(name string) ToolDefinition {
	return ToolDefinition{
		Name:        name,
		Description: "Echo the input",
		Parameters:  schema.Object(schema.Required("text", schema.String("input"))),
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return params["text"], nil
		},
	}
}

func TestRegistry_RegisterFunction(t *testing.T) {
	reg := NewRegistry(DefaultRegistryConfig(), allowAllPolicy())

	err := reg.RegisterFunction(context.Background(), echoFunction("echo"))
	require.NoError(t, err)

	def, err := reg.GetFunction("echo")
	require.NoError(t, err)
	assert.Equal(t, "echo", def.Name)
	assert.Equal(t, 1, reg.FunctionCount())
}

func TestRegistry_RegisterFunction_Duplicate(t *testing.T) {
	reg := NewRegistry(DefaultRegistryConfig(), allowAllPolicy())
	ctx := context.Background()

	require.NoError(t, reg.RegisterFunction(ctx, echoFunction("echo")))

	err := reg.RegisterFunction(ctx, echoFunction("echo"))
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindValidation))
	assert.Contains(t, err.Error(), "already registered")
	assert.Equal(t, 1, reg.FunctionCount())
}

func TestRegistry_RegisterFunction_LimitReached(t *testing.T) {
	reg := NewRegistry(RegistryConfig{MaxFunctions: 1}, allowAllPolicy())
	ctx := context.Background()

	require.NoError(t, reg.RegisterFunction(ctx, echoFunction("first")))

	err := reg.RegisterFunction(ctx, echoFunction("second"))
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindValidation))
	assert.Contains(t, err.Error(), "limit reached")

	_, err = reg.GetFunction("second")
	assert.Error(t, err)
	assert.Equal(t, []string{"first"}, reg.ListFunctions())
}

func TestRegistry_RegisterFunction_InvalidDefinition(t *testing.T) {
	handler := func(ctx context.Context, args []interface{}) (interface{}, error) { return nil, nil }

	tests := []struct {
		name string
		def  FunctionDefinition
	}{
		{
			name: "empty name",
			def:  FunctionDefinition{Description: "Test", Handler: handler},
		},
		{
			name: "empty description",
			def:  FunctionDefinition{Name: "test", Handler: handler},
		},
		{
			name: "nil handler",
			def:  FunctionDefinition{Name: "test", Description: "Test"},
		},
		{
			name: "malformed parameters",
			def: FunctionDefinition{
				Name: "test", Description: "Test", Handler: handler,
				Parameters: &schema.Schema{Type: "tuple"},
			},
		},
		{
			name: "malformed returns",
			def: FunctionDefinition{
				Name: "test", Description: "Test", Handler: handler,
				Returns: &schema.Schema{Type: schema.TypeString, Items: schema.String("x")},
			},
		},
		{
			name: "bad permissions",
			def: FunctionDefinition{
				Name: "test", Description: "Test", Handler: handler,
				Permissions: &sandbox.PermissionSet{Network: sandbox.NetworkPermissions{Hosts: []string{""}}},
			},
		},
		{
			name: "negative limits",
			def: FunctionDefinition{
				Name: "test", Description: "Test", Handler: handler,
				Limits: &sandbox.Limits{Memory: -1},
			},
		},
		{
			name: "zero rate limit",
			def: FunctionDefinition{
				Name: "test", Description: "Test", Handler: handler,
				RateLimit: &RateLimit{Limit: 0},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry(DefaultRegistryConfig(), allowAllPolicy())
			err := reg.RegisterFunction(context.Background(), tt.def)
			require.Error(t, err)
			assert.True(t, fault.IsKind(err, fault.KindValidation))
			assert.Equal(t, 0, reg.FunctionCount())
		})
	}
}

func TestRegistry_RegisterRequiresPermission(t *testing.T) {
	var actions []string
	policy := security.NewPolicy(security.Context{
		Principal: security.Principal{ID: "agent-1"},
		Checker: security.PermissionCheckerFunc(func(_ context.Context, action string, attrs map[string]interface{}) (bool, error) {
			actions = append(actions, action+":"+attrs["resource"].(string))
			return attrs["resource"] != "forbidden", nil
		}),
	}, security.WithAudit(false))
	reg := NewRegistry(DefaultRegistryConfig(), policy)
	ctx := context.Background()

	require.NoError(t, reg.RegisterTool(ctx, echoTool("allowed")))

	err := reg.RegisterTool(ctx, echoTool("forbidden"))
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindSecurity))
	assert.Equal(t, []string{"allowed"}, reg.ListTools())
	assert.Equal(t, []string{"register_tool:allowed", "register_tool:forbidden"}, actions)
}

func TestRegistry_CheckerMayReadRegistry(t *testing.T) {
	var reg *Registry
	policy := security.NewPolicy(security.Context{
		Principal: security.Principal{ID: "agent-1"},
		Checker: security.PermissionCheckerFunc(func(_ context.Context, _ string, attrs map[string]interface{}) (bool, error) {
			_, err := reg.GetFunction(attrs["resource"].(string))
			return err != nil, nil
		}),
	}, security.WithAudit(false))
	reg = NewRegistry(DefaultRegistryConfig(), policy)

	done := make(chan error, 1)
	go func() { done <- reg.RegisterFunction(context.Background(), echoFunction("lookup")) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("registration blocked while the checker read the registry")
	}
	assert.Equal(t, 1, reg.FunctionCount())
}

func TestRegistry_ConcurrentDuplicateRegistration(t *testing.T) {
	policy := security.NewPolicy(security.Context{
		Principal: security.Principal{ID: "agent-1"},
		Checker: security.PermissionCheckerFunc(func(context.Context, string, map[string]interface{}) (bool, error) {
			time.Sleep(20 * time.Millisecond)
			return true, nil
		}),
	}, security.WithAudit(false))
	reg := NewRegistry(DefaultRegistryConfig(), policy)

	const callers = 5
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- reg.RegisterTool(context.Background(), echoTool("same"))
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, fault.IsKind(err, fault.KindValidation))
		assert.Contains(t, err.Error(), "already registered")
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, reg.ToolCount())
}

func TestRegistry_NoPrincipalRejectsRegistration(t *testing.T) {
	reg := NewRegistry(DefaultRegistryConfig(), security.NewPolicy(security.Context{}, security.WithAudit(false)))

	err := reg.RegisterFunction(context.Background(), echoFunction("echo"))
	assert.True(t, fault.IsKind(err, fault.KindSecurity))
	assert.Equal(t, 0, reg.FunctionCount())
}

func TestRegistry_StoresCopies(t *testing.T) {
	reg := NewRegistry(DefaultRegistryConfig(), allowAllPolicy())

	def := echoFunction("echo")
	def.Permissions = &sandbox.PermissionSet{Environment: []string{"HOME"}}
	require.NoError(t, reg.RegisterFunction(context.Background(), def))

	def.Permissions.Environment[0] = "SECRET"
	def.Description = "changed"

	stored, err := reg.GetFunction("echo")
	require.NoError(t, err)
	assert.Equal(t, "Echo the input", stored.Description)
	assert.Equal(t, []string{"HOME"}, stored.Permissions.Environment)

	stored.Permissions.Environment[0] = "OTHER"
	again, _ := reg.GetFunction("echo")
	assert.Equal(t, []string{"HOME"}, again.Permissions.Environment)
}

func TestRegistry_GetNotFound(t *testing.T) {
	reg := NewRegistry(DefaultRegistryConfig(), nil)

	_, err := reg.GetFunction("missing")
	assert.True(t, fault.IsKind(err, fault.KindValidation))
	assert.Contains(t, err.Error(), "not found")

	_, err = reg.GetTool("missing")
	assert.True(t, errors.Is(err, fault.ErrValidation))
}

func TestRegistry_UnregisterAndList(t *testing.T) {
	reg := NewRegistry(DefaultRegistryConfig(), nil)
	ctx := context.Background()

	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, reg.RegisterTool(ctx, echoTool(name)))
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, reg.ListTools())

	assert.True(t, reg.UnregisterTool("mid"))
	assert.False(t, reg.UnregisterTool("mid"))
	assert.Equal(t, 2, reg.ToolCount())

	require.NoError(t, reg.RegisterFunction(ctx, echoFunction("fn")))
	assert.True(t, reg.UnregisterFunction("fn"))
	assert.Equal(t, 0, reg.FunctionCount())
}

func TestRegistry_FunctionsAndToolsAreSeparate(t *testing.T) {
	reg := NewRegistry(DefaultRegistryConfig(), nil)
	ctx := context.Background()

	require.NoError(t, reg.RegisterFunction(ctx, echoFunction("echo")))
	require.NoError(t, reg.RegisterTool(ctx, echoTool("echo")))

	assert.Equal(t, 1, reg.FunctionCount())
	assert.Equal(t, 1, reg.ToolCount())
}

func TestRegistry_ConcurrentRegistrationRespectsCapacity(t *testing.T) {
	reg := NewRegistry(RegistryConfig{MaxFunctions: 10}, allowAllPolicy())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = reg.RegisterFunction(context.Background(), echoFunction(fmt.Sprintf("fn-%d", i)))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, reg.FunctionCount())
}

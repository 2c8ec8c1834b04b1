package sandbox

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/harun/toolguard/pkg/fault"
)

// Capability is a class of access a handler may be granted
type Capability string

const (
	CapNetwork       Capability = "network"
	CapFilesystem    Capability = "filesystem"
	CapEnvironment   Capability = "environment"
	CapProcess       Capability = "process"
	CapForeignCall   Capability = "foreign_call"
	CapHighResTimers Capability = "high_res_timers"
)

// ExecutionContext carries the grants and usage accounting of one sandboxed call.
// Every capability starts denied and is enabled only by the call's PermissionSet.
type ExecutionContext struct {
	id     string
	grants map[Capability]bool
	perms  PermissionSet
	limits Limits
	mon    *monitor
}

type execContextKey struct{}

func newExecutionContext(id string, perms *PermissionSet, limits Limits, mon *monitor) *ExecutionContext {
	ec := &ExecutionContext{
		id: id,
		grants: map[Capability]bool{
			CapNetwork:       false,
			CapFilesystem:    false,
			CapEnvironment:   false,
			CapProcess:       false,
			CapForeignCall:   false,
			CapHighResTimers: false,
		},
		limits: limits,
		mon:    mon,
	}
	if perms == nil {
		return ec
	}

	ec.perms = *perms.Clone()
	ec.grants[CapNetwork] = len(perms.Network.Hosts) > 0
	ec.grants[CapFilesystem] = len(perms.Filesystem.Paths) > 0
	ec.grants[CapEnvironment] = len(perms.Environment) > 0
	ec.grants[CapProcess] = len(perms.Executables) > 0
	ec.grants[CapForeignCall] = perms.ForeignCalls
	ec.grants[CapHighResTimers] = perms.HighResTimers
	return ec
}

// ContextWithExecutionContext attaches ec to ctx
func ContextWithExecutionContext(ctx context.Context, ec *ExecutionContext) context.Context {
	return context.WithValue(ctx, execContextKey{}, ec)
}

// FromContext returns the execution context of the running sandboxed call, or nil
func FromContext(ctx context.Context) *ExecutionContext {
	if ctx == nil {
		return nil
	}
	ec, _ := ctx.Value(execContextKey{}).(*ExecutionContext)
	return ec
}

// ID returns the execution id
func (ec *ExecutionContext) ID() string {
	return ec.id
}

// Limits returns the ceilings of this call
func (ec *ExecutionContext) Limits() Limits {
	return ec.limits
}

// Permissions returns a copy of the granted permission set
func (ec *ExecutionContext) Permissions() PermissionSet {
	return *ec.perms.Clone()
}

// Has reports whether a capability class is granted
func (ec *ExecutionContext) Has(c Capability) bool {
	return ec.grants[c]
}

// Require fails unless a capability class is granted
func (ec *ExecutionContext) Require(c Capability) error {
	if !ec.Has(c) {
		return &fault.Error{Kind: fault.KindSecurity, Op: "require", Msg: string(c), Err: ErrCapabilityDenied}
	}
	return nil
}

// CheckHost fails unless host (optionally host:port) is allow-listed
func (ec *ExecutionContext) CheckHost(host string) error {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))

	if ec.Has(CapNetwork) {
		for _, allowed := range ec.perms.Network.Hosts {
			if matchHost(strings.ToLower(allowed), host) {
				return nil
			}
		}
	}
	return &fault.Error{Kind: fault.KindSecurity, Op: "check host", Msg: host, Err: ErrNetworkAccessDenied}
}

func matchHost(pattern, host string) bool {
	if pattern == "*" || pattern == host {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		return strings.HasSuffix(host, pattern[1:])
	}
	return false
}

// CheckPath fails unless a rule matching path grants op
func (ec *ExecutionContext) CheckPath(path, op string) error {
	clean, err := filepath.Abs(path)
	if err != nil {
		return &fault.Error{Kind: fault.KindSecurity, Op: "check path", Msg: path, Err: ErrFilesystemAccessDenied}
	}
	clean = filepath.ToSlash(clean)

	if ec.Has(CapFilesystem) {
		for _, rule := range ec.perms.Filesystem.Paths {
			if !grantsOp(rule.Ops, op) {
				continue
			}
			if ok, _ := doublestar.Match(filepath.ToSlash(rule.Pattern), clean); ok {
				return nil
			}
		}
	}
	return &fault.Error{Kind: fault.KindSecurity, Op: "check path", Msg: op + " " + clean, Err: ErrFilesystemAccessDenied}
}

func grantsOp(ops []string, op string) bool {
	if len(ops) == 0 {
		return true
	}
	for _, o := range ops {
		if o == op || o == "*" {
			return true
		}
	}
	return false
}

// CheckEnv fails unless the variable name is allow-listed
func (ec *ExecutionContext) CheckEnv(name string) error {
	if ec.Has(CapEnvironment) {
		for _, pattern := range ec.perms.Environment {
			if ok, _ := doublestar.Match(pattern, name); ok {
				return nil
			}
		}
	}
	return &fault.Error{Kind: fault.KindSecurity, Op: "check env", Msg: name, Err: ErrEnvironmentAccessDenied}
}

// Getenv reads an allow-listed environment variable
func (ec *ExecutionContext) Getenv(name string) (string, error) {
	if err := ec.CheckEnv(name); err != nil {
		return "", err
	}
	return os.Getenv(name), nil
}

// CheckExec fails unless the executable is allow-listed. A bare entry such as
// "echo" admits only the bare name, which Exec resolves on the sandbox PATH;
// an entry with a separator admits exactly that path.
func (ec *ExecutionContext) CheckExec(name string) error {
	if ec.Has(CapProcess) {
		for _, allowed := range ec.perms.Executables {
			if execMatches(allowed, name) {
				return nil
			}
		}
	}
	return &fault.Error{Kind: fault.KindSecurity, Op: "check exec", Msg: name, Err: ErrProcessAccessDenied}
}

func execMatches(allowed, name string) bool {
	if strings.ContainsRune(allowed, filepath.Separator) {
		return strings.ContainsRune(name, filepath.Separator) &&
			filepath.Clean(allowed) == filepath.Clean(name)
	}
	return allowed == name
}

// Allocate reports n bytes acquired by the running handler. Outside a sandboxed
// call it is a no-op. Crossing the memory ceiling fails the call.
func Allocate(ctx context.Context, n int64) error {
	ec := FromContext(ctx)
	if ec == nil || ec.mon == nil {
		return nil
	}
	return ec.mon.allocate(n)
}

// Free reports n bytes released by the running handler
func Free(ctx context.Context, n int64) {
	ec := FromContext(ctx)
	if ec == nil || ec.mon == nil {
		return
	}
	ec.mon.free(n)
}

// Transfer reports n bytes moved over the network by the running handler.
// Crossing the bandwidth ceiling fails the call.
func Transfer(ctx context.Context, n int64) error {
	ec := FromContext(ctx)
	if ec == nil || ec.mon == nil {
		return nil
	}
	return ec.mon.transfer(n)
}

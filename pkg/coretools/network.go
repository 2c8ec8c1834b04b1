package coretools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/harun/toolguard/pkg/sandbox"
	"github.com/harun/toolguard/pkg/schema"
	"github.com/harun/toolguard/pkg/toolexecutor"
)

const httpHeadTimeout = 10 * time.Second

func envLookupTool(opts Options) toolexecutor.ToolDefinition {
	var perms *sandbox.PermissionSet
	if len(opts.AllowedEnv) > 0 {
		perms = &sandbox.PermissionSet{Environment: append([]string(nil), opts.AllowedEnv...)}
	}

	return toolexecutor.ToolDefinition{
		Name:        "env_lookup",
		Description: "Read an allow-listed environment variable.",
		Parameters:  schema.Object(schema.Required("name", schema.String("Variable name"))),
		Permissions: perms,
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			ec, err := executionContext(ctx)
			if err != nil {
				return nil, err
			}
			name, _ := params["name"].(string)
			if err := ec.CheckEnv(name); err != nil {
				return nil, err
			}
			value, set := os.LookupEnv(name)

			return map[string]interface{}{
				"name":  name,
				"value": value,
				"set":   set,
			}, nil
		},
	}
}

func httpHeadTool(opts Options) toolexecutor.ToolDefinition {
	var perms *sandbox.PermissionSet
	if len(opts.AllowedHosts) > 0 {
		perms = &sandbox.PermissionSet{
			Network: sandbox.NetworkPermissions{Hosts: append([]string(nil), opts.AllowedHosts...)},
		}
	}

	return toolexecutor.ToolDefinition{
		Name:        "http_head",
		Description: "Issue an HTTP HEAD request to an allow-listed host.",
		Parameters:  schema.Object(schema.Required("url", schema.String("Absolute http or https URL"))),
		Permissions: perms,
		Timeout:     httpHeadTimeout,
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			ec, err := executionContext(ctx)
			if err != nil {
				return nil, err
			}
			raw, _ := params["url"].(string)
			u, err := url.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid url: %w", err)
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
			}
			if err := ec.CheckHost(u.Host); err != nil {
				return nil, err
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodHead, u.String(), nil)
			if err != nil {
				return nil, err
			}
			client := &http.Client{
				Timeout: httpHeadTimeout,
				CheckRedirect: func(next *http.Request, _ []*http.Request) error {
					return ec.CheckHost(next.URL.Host)
				},
			}
			resp, err := client.Do(req)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()

			headers := make(map[string]interface{}, len(resp.Header))
			var size int64
			for k := range resp.Header {
				v := resp.Header.Get(k)
				headers[k] = v
				size += int64(len(k) + len(v))
			}
			if err := sandbox.Transfer(ctx, size); err != nil {
				return nil, err
			}

			return map[string]interface{}{
				"url":     u.String(),
				"status":  resp.StatusCode,
				"headers": headers,
			}, nil
		},
	}
}

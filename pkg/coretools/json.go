package coretools

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/harun/toolguard/pkg/sandbox"
	"github.com/harun/toolguard/pkg/schema"
	"github.com/harun/toolguard/pkg/toolexecutor"
)

func jsonGetFunction() toolexecutor.FunctionDefinition {
	return toolexecutor.FunctionDefinition{
		Name:        "json_get",
		Description: "Extract a value from a JSON document by gjson path.",
		Parameters: schema.Object(
			schema.Required("document", schema.String("JSON document")),
			schema.Required("path", schema.String("gjson path, e.g. items.0.name")),
		),
		Handler: func(ctx context.Context, args []interface{}) (interface{}, error) {
			doc, _ := args[0].(string)
			path, _ := args[1].(string)

			if err := sandbox.Allocate(ctx, int64(len(doc))); err != nil {
				return nil, err
			}
			defer sandbox.Free(ctx, int64(len(doc)))

			if !gjson.Valid(doc) {
				return nil, fmt.Errorf("document is not valid JSON")
			}
			result := gjson.Get(doc, path)
			if !result.Exists() {
				return nil, fmt.Errorf("path %q not found", path)
			}
			return result.Value(), nil
		},
	}
}

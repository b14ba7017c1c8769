package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xiaot623/gogo/dbchat/internal/domain"
)

// CurrentTimeToolName reports the server clock, so the model can resolve
// relative dates such as "last week" before querying.
const CurrentTimeToolName = "current_time"

// RegisterBuiltins adds the tools that need no external resources.
func RegisterBuiltins(r *Registry, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}

	return r.Register(domain.ToolDescriptor{
		Name:        CurrentTimeToolName,
		Description: "Return the current date and time, optionally in an IANA time zone such as Europe/Berlin.",
		Parameters: domain.ParameterSchema{
			Type: "object",
			Properties: map[string]domain.Property{
				"timezone": {Type: "string", Description: "IANA time zone name. Defaults to UTC."},
			},
		},
	}, func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var in struct {
			Timezone string `json:"timezone"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, fmt.Errorf("decode arguments: %w", err)
		}
		if in.Timezone == "" {
			in.Timezone = "UTC"
		}
		loc, err := time.LoadLocation(in.Timezone)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q", in.Timezone)
		}
		t := now().In(loc)
		return json.Marshal(map[string]string{
			"now":      t.Format(time.RFC3339),
			"timezone": in.Timezone,
			"weekday":  t.Weekday().String(),
		})
	})
}

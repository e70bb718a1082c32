// Package hcl implements config.Loader for HCL configuration files.
// Attribute expressions are evaluated eagerly (there is no evaluation
// context; values must be literals) and converted through cty into the
// agnostic model.
package hcl

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/vk/reflow/internal/config"
	"github.com/vk/reflow/internal/ctxlog"
)

// Loader parses HCL files into the config model.
type Loader struct {
	parser *hclparse.Parser
}

// NewLoader creates a Loader.
func NewLoader() *Loader {
	return &Loader{parser: hclparse.NewParser()}
}

var rootSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "runtime"},
		{Type: "pulse", LabelNames: []string{"name"}},
		{Type: "watch"},
	},
}

// Load implements config.Loader. Every setting is optional; omitted ones
// keep their defaults.
func (l *Loader) Load(ctx context.Context, path string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	model := config.Default()
	if path == "" {
		logger.Debug("no configuration file, using defaults")
		return model, nil
	}

	file, diags := l.parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("config: parsing %s: %w", path, diags)
	}
	content, diags := file.Body.Content(rootSchema)
	if diags.HasErrors() {
		return nil, fmt.Errorf("config: reading %s: %w", path, diags)
	}

	for _, block := range content.Blocks {
		var err error
		switch block.Type {
		case "runtime":
			err = decodeRuntime(block.Body, model)
		case "pulse":
			err = decodePulse(block.Body, block.Labels[0], model)
		case "watch":
			err = decodeWatch(block.Body, model)
		}
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	if err := validate(model); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	logger.Debug("configuration loaded", "path", path,
		"workers", model.Workers, "pulses", len(model.Pulses), "watch_dirs", len(model.Watch.Dirs))
	return model, nil
}

func decodeRuntime(body hcl.Body, model *config.Model) error {
	attrs, diags := body.JustAttributes()
	if diags.HasErrors() {
		return diags
	}

	for name, dst := range map[string]*time.Duration{
		"heartbeat_interval": &model.Tuning.Heartbeat,
		"restart_threshold":  &model.Tuning.Restart,
		"grace_delay":        &model.Tuning.Grace,
		"finalize_delay":     &model.Tuning.Finalize,
	} {
		if err := attrDuration(attrs, name, dst); err != nil {
			return err
		}
	}
	return attrInt(attrs, "worker_capacity", &model.Workers)
}

func decodePulse(body hcl.Body, name string, model *config.Model) error {
	attrs, diags := body.JustAttributes()
	if diags.HasErrors() {
		return diags
	}

	sink := config.PulseSink{Name: name, Namespace: "/"}
	if err := attrString(attrs, "url", &sink.URL); err != nil {
		return err
	}
	if err := attrString(attrs, "namespace", &sink.Namespace); err != nil {
		return err
	}
	if sink.URL == "" {
		return fmt.Errorf("pulse %q: url is required", name)
	}
	model.Pulses = append(model.Pulses, sink)
	return nil
}

func decodeWatch(body hcl.Body, model *config.Model) error {
	attrs, diags := body.JustAttributes()
	if diags.HasErrors() {
		return diags
	}
	if err := attrBool(attrs, "poll", &model.Watch.Poll); err != nil {
		return err
	}
	return attrStrings(attrs, "dirs", &model.Watch.Dirs)
}

func validate(model *config.Model) error {
	for name, d := range map[string]time.Duration{
		"heartbeat_interval": model.Tuning.Heartbeat,
		"restart_threshold":  model.Tuning.Restart,
		"grace_delay":        model.Tuning.Grace,
		"finalize_delay":     model.Tuning.Finalize,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if model.Workers <= 0 {
		return fmt.Errorf("worker_capacity must be positive")
	}
	return nil
}

// eval resolves an attribute to a cty value of the wanted type. Returns a
// null value when the attribute is absent.
func eval(attrs hcl.Attributes, name string, want cty.Type) (cty.Value, error) {
	attr, ok := attrs[name]
	if !ok {
		return cty.NullVal(want), nil
	}
	val, diags := attr.Expr.Value(nil)
	if diags.HasErrors() {
		return cty.NilVal, diags
	}
	val, err := convert.Convert(val, want)
	if err != nil {
		return cty.NilVal, fmt.Errorf("attribute %q: %w", name, err)
	}
	return val, nil
}

func attrString(attrs hcl.Attributes, name string, dst *string) error {
	val, err := eval(attrs, name, cty.String)
	if err != nil || val.IsNull() {
		return err
	}
	*dst = val.AsString()
	return nil
}

func attrBool(attrs hcl.Attributes, name string, dst *bool) error {
	val, err := eval(attrs, name, cty.Bool)
	if err != nil || val.IsNull() {
		return err
	}
	*dst = val.True()
	return nil
}

func attrInt(attrs hcl.Attributes, name string, dst *int) error {
	val, err := eval(attrs, name, cty.Number)
	if err != nil || val.IsNull() {
		return err
	}
	if err := gocty.FromCtyValue(val, dst); err != nil {
		return fmt.Errorf("attribute %q: %w", name, err)
	}
	return nil
}

func attrDuration(attrs hcl.Attributes, name string, dst *time.Duration) error {
	var raw string
	if err := attrString(attrs, name, &raw); err != nil {
		return err
	}
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("attribute %q: %w", name, err)
	}
	*dst = d
	return nil
}

func attrStrings(attrs hcl.Attributes, name string, dst *[]string) error {
	val, err := eval(attrs, name, cty.List(cty.String))
	if err != nil || val.IsNull() {
		return err
	}
	var out []string
	for it := val.ElementIterator(); it.Next(); {
		_, elem := it.Element()
		out = append(out, elem.AsString())
	}
	*dst = out
	return nil
}

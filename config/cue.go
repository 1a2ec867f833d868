package config

import (
	"encoding/json"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// schemaSource constrains CUE configuration documents before they are
// decoded. It mirrors the YAML layout of Config.
const schemaSource = `
#Loki: {
	enabled?: bool
	url?:     string
	labels?: [string]: string
}

#Module: string | {
	path:         string & !=""
	name?:        string
	description?: string
}

#Connection: {
	id:            string & =~"^[A-Za-z_-][A-Za-z0-9_-]*$"
	address:       string & !=""
	username?:     string
	password?:     string
	password_env?: string
	disable?:      bool
	options?: {...}
}

#Config: {
	name?:        string
	description?: string
	logging?: {
		level?:  string
		format?: "json" | "text" | "console"
		loki?:   #Loki
	}
	telemetry?: {
		enabled?:  bool
		provider?: string
		listen?:   string
	}
	modules?: [...#Module]
	hot_reload?:      bool
	reload_interval?: string
	warmup?:          bool
	warmup_workers?:  int & >=1
	connections?: [...#Connection]
}
`

// decodeCUE evaluates a CUE document against the configuration schema and
// decodes the concrete result.
func decodeCUE(path string, raw []byte) (*Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("connreg-schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}

	value := ctx.CompileBytes(raw, cue.Filename(path))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("compile config %s: %w", path, err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}

	data, err := unified.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("export config %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return &cfg, nil
}

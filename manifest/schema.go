package manifest

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// ErrInvalidManifest is wrapped by every schema violation.
var ErrInvalidManifest = errors.New("invalid manifest")

// schemaSource is the closed shape of ivm.toml. Unknown tables or keys are
// rejected.
const schemaSource = `
#Identifier: =~"^[A-Za-z_][A-Za-z0-9_]*$"

#Manifest: {
	project?: {
		name?:    string & !=""
		version?: string
	}
	source?: {
		main?:  string & !=""
		entry?: #Identifier
		tests?: [...(string & !="")]
	}
	run?: {
		args?:        [...int]
		"max-steps"?: int & >=0
		trace?:       bool
	}
	cache?: {
		enabled?: bool
		path?:    string & !=""
	}
	server?: {
		addr?: string & =~"^[^:]*:[0-9]+$"
	}
	log?: {
		verbosity?: int & >=0 & <=5
		file?:      string
	}
}
`

var (
	schemaOnce sync.Once
	schemaCtx  *cue.Context
	schemaDef  cue.Value
	schemaErr  error

	// cue values are not safe for concurrent evaluation
	validateMu sync.Mutex
)

func loadSchema() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		v := schemaCtx.CompileString(schemaSource)
		if err := v.Err(); err != nil {
			schemaErr = fmt.Errorf("manifest schema: %w", err)
			return
		}
		schemaDef = v.LookupPath(cue.ParsePath("#Manifest"))
		schemaErr = schemaDef.Err()
	})
	return schemaCtx, schemaDef, schemaErr
}

// Validate checks a decoded ivm.toml document against the schema.
func Validate(raw map[string]any) error {
	ctx, def, err := loadSchema()
	if err != nil {
		return err
	}
	if raw == nil {
		raw = map[string]any{}
	}

	validateMu.Lock()
	defer validateMu.Unlock()

	v := def.Unify(ctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		detail := strings.TrimSpace(cueerrors.Details(err, nil))
		return fmt.Errorf("%w: %s", ErrInvalidManifest, detail)
	}
	return nil
}

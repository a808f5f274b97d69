package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"escrow-backend/security"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SpecVersion is written into every job specification document.
const SpecVersion = "1.0"

// JobSpec is the document a job's metadata hash points to.
type JobSpec struct {
	Title             string    `json:"title"`
	Description       string    `json:"description"`
	Requirements      []string  `json:"requirements"`
	Deliverables      []string  `json:"deliverables"`
	Price             string    `json:"price"`
	ClientAddress     string    `json:"clientAddress"`
	FreelancerAddress string    `json:"freelancerAddress"`
	CreatedAt         time.Time `json:"createdAt"`
	Version           string    `json:"version"`
}

// File is one deliverable in a work submission.
type File struct {
	Name string
	Data []byte
}

// WorkManifest is the document a work hash points to.
type WorkManifest struct {
	Files       []WorkFile `json:"files"`
	SubmittedBy string     `json:"submittedBy,omitempty"`
	Note        string     `json:"note,omitempty"`
	Version     string     `json:"version"`
}

// WorkFile references one uploaded deliverable by its own hash.
type WorkFile struct {
	Name string `json:"name"`
	Hash string `json:"hash"`
	Size int    `json:"size"`
}

var jobSpecSchema = map[string]any{
	"type":     "object",
	"required": []any{"title", "description", "price", "clientAddress", "freelancerAddress", "requirements", "deliverables", "version"},
	"properties": map[string]any{
		"title":             map[string]any{"type": "string", "minLength": 1},
		"description":       map[string]any{"type": "string", "minLength": 1},
		"price":             map[string]any{"type": "string", "pattern": `^[0-9]+(\.[0-9]+)?$`},
		"clientAddress":     map[string]any{"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
		"freelancerAddress": map[string]any{"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
		"requirements": map[string]any{
			"type": "array", "minItems": 1,
			"items": map[string]any{"type": "string", "minLength": 1},
		},
		"deliverables": map[string]any{
			"type": "array", "minItems": 1,
			"items": map[string]any{"type": "string", "minLength": 1},
		},
		"version": map[string]any{"type": "string"},
	},
}

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func specSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		b, err := json.Marshal(jobSpecSchema)
		if err != nil {
			compileErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("jobspec.json", bytes.NewReader(b)); err != nil {
			compileErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiled, compileErr = compiler.Compile("jobspec.json")
	})
	return compiled, compileErr
}

// ValidateJobSpec checks a serialized specification document.
func ValidateJobSpec(data []byte) error {
	schema, err := specSchema()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal job spec: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("job spec does not match schema: %w", err)
	}
	return nil
}

// Documents writes and reads the typed documents on top of a Store.
type Documents struct {
	store Store
}

func NewDocuments(store Store) *Documents {
	return &Documents{store: store}
}

// Store exposes the underlying blob store.
func (d *Documents) Store() Store {
	return d.store
}

// PutJobSpec validates and uploads spec. The document is encoded
// deterministically so the same spec always maps to the same hash.
func (d *Documents) PutJobSpec(ctx context.Context, spec JobSpec) (string, error) {
	if spec.Version == "" {
		spec.Version = SpecVersion
	}
	if spec.CreatedAt.IsZero() {
		spec.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	b, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return "", err
	}
	if err := ValidateJobSpec(b); err != nil {
		return "", err
	}
	return d.store.Put(ctx, b)
}

// GetJobSpec fetches and decodes a specification. It does not check that the
// document belongs to any particular job; callers compare hashes themselves.
func (d *Documents) GetJobSpec(ctx context.Context, hash string) (JobSpec, error) {
	var spec JobSpec
	b, err := d.store.Get(ctx, hash)
	if err != nil {
		return spec, err
	}
	if err := json.Unmarshal(b, &spec); err != nil {
		return spec, fmt.Errorf("decode job spec %s: %w", hash, err)
	}
	return spec, nil
}

// PutWork uploads every file, then a manifest listing them. File names are
// reduced to base names. The manifest hash
// is what goes on-chain. If any upload fails no manifest is written.
func (d *Documents) PutWork(ctx context.Context, submittedBy, note string, files []File) (string, error) {
	if len(files) == 0 {
		return "", fmt.Errorf("work submission has no files")
	}
	manifest := WorkManifest{SubmittedBy: submittedBy, Note: note, Version: SpecVersion}
	for _, f := range files {
		h, err := d.store.Put(ctx, f.Data)
		if err != nil {
			return "", err
		}
		manifest.Files = append(manifest.Files, WorkFile{Name: security.DeliverableName(f.Name), Hash: h, Size: len(f.Data)})
	}
	b, err := json.Marshal(manifest)
	if err != nil {
		return "", err
	}
	return d.store.Put(ctx, b)
}

// GetWork fetches a work manifest.
func (d *Documents) GetWork(ctx context.Context, hash string) (WorkManifest, error) {
	var m WorkManifest
	b, err := d.store.Get(ctx, hash)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("decode work manifest %s: %w", hash, err)
	}
	return m, nil
}

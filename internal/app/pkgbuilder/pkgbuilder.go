// Package pkgbuilder implements §4.M: on-demand generation of a zipped
// deployment bundle for a new secondary, containing a deployment manifest,
// an .env with the primary URL and a generated node API key, and
// resolver/forward-zone templates. No archive/zip usage exists anywhere in
// the retrieval pack, so the ZIP writer below is built directly against the
// stdlib archive/zip API rather than generalized from an in-pack example.
package pkgbuilder

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"text/template"
	"time"

	"github.com/Zerostate-IO/powerblockade/internal/app/domain"
	"github.com/Zerostate-IO/powerblockade/internal/app/pberrors"
	"github.com/Zerostate-IO/powerblockade/internal/app/storage"
)

// Builder assembles secondary deployment bundles.
type Builder struct {
	store      storage.Store
	primaryURL string
}

// New returns a Builder that points generated bundles at primaryURL.
func New(store storage.Store, primaryURL string) *Builder {
	return &Builder{store: store, primaryURL: primaryURL}
}

// Bundle is the built package: the node it was issued for and the zipped
// bundle bytes.
type Bundle struct {
	Node domain.Node
	Zip  []byte
}

// generateAPIKey returns a URL-safe 64-char opaque token: 32 cryptographically
// random bytes, hex-encoded, grounded on the service_layer gateway's own
// API key generator (crypto/rand.Read into a byte buffer, hex-encoded).
func generateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%w: generate node api key: %v", pberrors.ErrTransient, err)
	}
	return hex.EncodeToString(buf), nil
}

// BuildPackage returns a deployment bundle for a secondary named name.
// Creation is idempotent on name: if a node with that name already exists,
// its existing API key is reused rather than rotated.
func (b *Builder) BuildPackage(ctx context.Context, name string) (Bundle, error) {
	if name == "" || name == domain.PrimaryNodeName {
		return Bundle{}, fmt.Errorf("%w: invalid secondary name %q", pberrors.ErrValidation, name)
	}

	node, err := b.store.GetNodeByName(ctx, name)
	switch {
	case err == nil:
		// already registered; reuse its key.
	case errors.Is(err, sql.ErrNoRows):
		apiKey, genErr := generateAPIKey()
		if genErr != nil {
			return Bundle{}, genErr
		}
		node, err = b.store.CreateNode(ctx, domain.Node{
			Name:   name,
			APIKey: apiKey,
			Status: domain.NodeStatusPending,
		})
		if err != nil {
			return Bundle{}, fmt.Errorf("%w: create node %q: %v", pberrors.ErrTransient, name, err)
		}
	default:
		return Bundle{}, fmt.Errorf("%w: look up node %q: %v", pberrors.ErrTransient, name, err)
	}

	zones, err := b.store.ListForwardZonesForNode(ctx, node.ID)
	if err != nil {
		return Bundle{}, fmt.Errorf("%w: list forward zones for %q: %v", pberrors.ErrTransient, name, err)
	}

	zipBytes, err := b.render(node, zones)
	if err != nil {
		return Bundle{}, err
	}
	return Bundle{Node: node, Zip: zipBytes}, nil
}

const manifestTemplate = `node: {{.Node.Name}}
role: secondary
primary_url: {{.PrimaryURL}}
generated_at: {{.GeneratedAt}}
files:
  - .env
  - resolver.conf
  - forward-zones.conf
`

const envTemplate = `POWERBLOCKADE_PRIMARY_URL={{.PrimaryURL}}
POWERBLOCKADE_NODE_NAME={{.Node.Name}}
POWERBLOCKADE_NODE_API_KEY={{.Node.APIKey}}
`

const resolverTemplate = `# generated for node {{.Node.Name}}; do not edit by hand
local-address=0.0.0.0
local-port=53
api-key={{.Node.APIKey}}
webserver=yes
`

const forwardZonesTemplate = `{{range .Zones}}{{.Domain}}={{range $i, $s := .Servers}}{{if $i}};{{end}}{{$s}}{{end}}
{{end}}`

type templateData struct {
	Node        domain.Node
	Zones       []domain.ForwardZone
	PrimaryURL  string
	GeneratedAt string
}

func (b *Builder) render(node domain.Node, zones []domain.ForwardZone) ([]byte, error) {
	data := templateData{
		Node:        node,
		Zones:       zones,
		PrimaryURL:  b.primaryURL,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}

	files := []struct {
		name string
		tmpl string
	}{
		{"manifest.yaml", manifestTemplate},
		{".env", envTemplate},
		{"resolver.conf", resolverTemplate},
		{"forward-zones.conf", forwardZonesTemplate},
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		tmpl, err := template.New(f.name).Parse(f.tmpl)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", f.name, err)
		}
		w, err := zw.Create(f.name)
		if err != nil {
			return nil, fmt.Errorf("create zip entry %s: %w", f.name, err)
		}
		if err := tmpl.Execute(w, data); err != nil {
			return nil, fmt.Errorf("render template %s: %w", f.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip writer: %w", err)
	}
	return buf.Bytes(), nil
}

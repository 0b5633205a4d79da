package tenant

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileTenant mirrors one entry of a tenants provisioning file.
type fileTenant struct {
	ID                   string            `yaml:"id"`
	Name                 string            `yaml:"name"`
	Issuer               string            `yaml:"issuer"`
	Audience             string            `yaml:"audience"`
	Algorithm            string            `yaml:"alg"`
	SharedSecret         string            `yaml:"hs_secret"`
	KeySetURL            string            `yaml:"jwks_url"`
	DefaultApplicationID string            `yaml:"default_app"`
	Applications         []fileApplication `yaml:"apps"`
}

type fileApplication struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type provisioningFile struct {
	Tenants []fileTenant `yaml:"tenants"`
}

// LoadFile reads a YAML provisioning file into a new in-memory directory.
func LoadFile(path string) (*InMemoryDirectory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tenants file: %w", err)
	}
	return Parse(raw)
}

// Parse builds an in-memory directory from YAML provisioning data.
//
//	tenants:
//	  - id: tnt_acme
//	    issuer: https://auth.acme.test
//	    alg: HS256
//	    hs_secret: s3cret
//	    apps:
//	      - id: app_acme_music
//	        name: Acme Music
func Parse(raw []byte) (*InMemoryDirectory, error) {
	var file provisioningFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decoding tenants file: %w", err)
	}

	dir := NewInMemoryDirectory()
	now := time.Now()
	seenIssuers := make(map[string]bool, len(file.Tenants))

	for i, ft := range file.Tenants {
		if ft.ID == "" || ft.Issuer == "" {
			return nil, fmt.Errorf("tenant %d: id and issuer are required", i)
		}
		if seenIssuers[ft.Issuer] {
			return nil, fmt.Errorf("tenant %s: duplicate issuer %q", ft.ID, ft.Issuer)
		}
		seenIssuers[ft.Issuer] = true

		alg := Algorithm(ft.Algorithm)
		if alg == "" {
			alg = AlgorithmHS256
		}
		if !alg.Valid() {
			return nil, fmt.Errorf("tenant %s: unsupported alg %q", ft.ID, ft.Algorithm)
		}

		t := &Tenant{
			ID:                   ft.ID,
			Name:                 ft.Name,
			Issuer:               ft.Issuer,
			Audience:             ft.Audience,
			Algorithm:            alg,
			SharedSecret:         optional(ft.SharedSecret),
			KeySetURL:            optional(ft.KeySetURL),
			DefaultApplicationID: optional(ft.DefaultApplicationID),
			CreatedAt:            now,
		}
		dir.AddTenant(t)

		for _, fa := range ft.Applications {
			if fa.ID == "" {
				return nil, fmt.Errorf("tenant %s: application id is required", ft.ID)
			}
			dir.AddApplication(&Application{
				ID:        fa.ID,
				TenantID:  ft.ID,
				Name:      fa.Name,
				CreatedAt: now,
			})
		}
	}

	return dir, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

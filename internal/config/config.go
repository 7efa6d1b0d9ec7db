// Package config loads and validates the pipeline configuration file.
//
// The file is plain JSON. Databases are addressed by logical role
// ("controls", "staging", "dw"); each role can point at a different server
// or share one. Validation reports severity-tagged issues so commands can
// print warnings without dying on them.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"productelt/internal/filestore"
	"productelt/internal/notifier"
	"productelt/internal/store"
)

// Logical database roles every deployment must name.
const (
	RoleControls = "controls"
	RoleStaging  = "staging"
	RoleDW       = "dw"
)

// Pipeline is the root of the config file.
type Pipeline struct {
	Job       string        `json:"job"`
	Databases map[string]DB `json:"databases"`
	Files     ObjectStore   `json:"files"`
	Notifier  *Mail         `json:"notifier,omitempty"`
	Scraper   Scraper       `json:"scraper"`
	Tables    Tables        `json:"tables"`
}

// DB locates one database. Either DSN is set verbatim, or the parts are
// set and ResolveDSN assembles one for the kind.
type DB struct {
	Kind     string `json:"kind"` // postgres | mssql | sqlite
	DSN      string `json:"dsn,omitempty"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Database string `json:"database,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
}

// ObjectStore configures where extract and export files live.
type ObjectStore struct {
	Type string `json:"type"` // local | b2 | s3

	// local
	Dir string `json:"dir,omitempty"`

	// b2
	KeyID          string `json:"key_id,omitempty"`
	ApplicationKey string `json:"application_key,omitempty"`
	BucketID       string `json:"bucket_id,omitempty"`

	// b2 + s3
	Bucket string `json:"bucket,omitempty"`
	Folder string `json:"folder,omitempty"`

	// s3
	Endpoint  string `json:"endpoint,omitempty"`
	Region    string `json:"region,omitempty"`
	AccessKey string `json:"access_key,omitempty"`
	SecretKey string `json:"secret_key,omitempty"`
}

// Mail configures the SMTP notifier.
type Mail struct {
	Host     string   `json:"host"`
	Port     int      `json:"port,omitempty"`
	From     string   `json:"from"`
	Password string   `json:"password,omitempty"`
	To       []string `json:"to"`
}

// Scraper tunes the extract stage.
type Scraper struct {
	// Pages is how many listing pages to walk. Defaults to 1.
	Pages int `json:"pages,omitempty"`
}

// Tables overrides the default physical table names.
type Tables struct {
	Staging string `json:"staging,omitempty"` // default "staging_products"
}

// Load reads and decodes a config file. Decode errors are fatal here;
// semantic problems are Validate's job.
func Load(path string) (Pipeline, error) {
	var p Pipeline

	f, err := os.Open(path)
	if err != nil {
		return p, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return p, fmt.Errorf("decode config %s: %w", path, err)
	}
	return p, nil
}

// Database resolves a logical role to a store.Config.
func (p Pipeline) Database(role string) (store.Config, error) {
	db, ok := p.Databases[role]
	if !ok {
		return store.Config{}, fmt.Errorf("config: no database for role %q", role)
	}
	dsn, err := db.ResolveDSN()
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{Kind: db.Kind, DSN: dsn}, nil
}

// ObjectStoreConfig maps the files section onto the filestore package.
func (p Pipeline) ObjectStoreConfig() filestore.Config {
	return filestore.Config{
		Type:           p.Files.Type,
		Dir:            p.Files.Dir,
		KeyID:          p.Files.KeyID,
		ApplicationKey: p.Files.ApplicationKey,
		BucketID:       p.Files.BucketID,
		Bucket:         p.Files.Bucket,
		Folder:         p.Files.Folder,
		Endpoint:       p.Files.Endpoint,
		Region:         p.Files.Region,
		AccessKey:      p.Files.AccessKey,
		SecretKey:      p.Files.SecretKey,
	}
}

// NotifierConfig maps the notifier section onto the notifier package.
// Returns ok=false when no notifier is configured.
func (p Pipeline) NotifierConfig() (notifier.Config, bool) {
	if p.Notifier == nil {
		return notifier.Config{}, false
	}
	return notifier.Config{
		Host:     p.Notifier.Host,
		Port:     p.Notifier.Port,
		From:     p.Notifier.From,
		Password: p.Notifier.Password,
		To:       p.Notifier.To,
	}, true
}

// StagingTable returns the physical staging table name.
func (p Pipeline) StagingTable() string {
	if p.Tables.Staging != "" {
		return p.Tables.Staging
	}
	return "staging_products"
}

// ResolveDSN returns the DSN to hand the store factory, assembling one
// from the parts when the dsn field is empty.
func (d DB) ResolveDSN() (string, error) {
	if d.DSN != "" {
		return d.DSN, nil
	}
	switch d.Kind {
	case "postgres":
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(d.User, d.Password),
			Host:   fmt.Sprintf("%s:%d", d.Host, portOr(d.Port, 5432)),
			Path:   "/" + d.Database,
		}
		return u.String(), nil
	case "mssql":
		u := url.URL{
			Scheme:   "sqlserver",
			User:     url.UserPassword(d.User, d.Password),
			Host:     fmt.Sprintf("%s:%d", d.Host, portOr(d.Port, 1433)),
			RawQuery: url.Values{"database": []string{d.Database}}.Encode(),
		}
		return u.String(), nil
	case "sqlite":
		// Database is the file path for sqlite.
		return d.Database, nil
	default:
		return "", fmt.Errorf("config: unknown database kind %q", d.Kind)
	}
}

func portOr(p, def int) int {
	if p > 0 {
		return p
	}
	return def
}

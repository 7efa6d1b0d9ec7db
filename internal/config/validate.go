package config

import (
	"fmt"
	"strings"
)

// Severity grades a validation issue.
type Severity string

const (
	SeverityError Severity = "error"
	SeverityWarn  Severity = "warn"
)

// Issue is one validation finding. Path is a dotted locator into the
// config file, e.g. "databases.controls.kind".
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

var knownKinds = map[string]bool{
	"postgres": true,
	"mssql":    true,
	"sqlite":   true,
}

// ValidatePipeline checks a loaded config for semantic problems. Errors
// mean the pipeline cannot run; warnings mean it can but probably not the
// way the operator intended.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	add := func(sev Severity, path, format string, a ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	if strings.TrimSpace(p.Job) == "" {
		add(SeverityWarn, "job", "empty job name, metrics will tag job:productelt")
	}

	for _, role := range []string{RoleControls, RoleStaging, RoleDW} {
		db, ok := p.Databases[role]
		if !ok {
			add(SeverityError, "databases."+role, "missing database for required role")
			continue
		}
		path := "databases." + role
		if !knownKinds[db.Kind] {
			add(SeverityError, path+".kind", "unknown kind %q (want postgres, mssql or sqlite)", db.Kind)
			continue
		}
		if db.DSN != "" {
			continue
		}
		switch db.Kind {
		case "sqlite":
			if db.Database == "" {
				add(SeverityError, path+".database", "sqlite needs a file path in database")
			}
		default:
			if db.Host == "" {
				add(SeverityError, path+".host", "host required when dsn is not set")
			}
			if db.Database == "" {
				add(SeverityError, path+".database", "database required when dsn is not set")
			}
			if db.User == "" {
				add(SeverityWarn, path+".user", "no user set, driver defaults apply")
			}
		}
	}

	switch p.Files.Type {
	case "local":
		if p.Files.Dir == "" {
			add(SeverityError, "files.dir", "local store needs a dir")
		}
	case "b2":
		if p.Files.KeyID == "" || p.Files.ApplicationKey == "" {
			add(SeverityError, "files", "b2 store needs key_id and application_key")
		}
		if p.Files.Bucket == "" || p.Files.BucketID == "" {
			add(SeverityError, "files", "b2 store needs bucket and bucket_id")
		}
	case "s3":
		if p.Files.Bucket == "" {
			add(SeverityError, "files.bucket", "s3 store needs a bucket")
		}
		if p.Files.Region == "" && p.Files.Endpoint == "" {
			add(SeverityWarn, "files.region", "no region or endpoint, SDK defaults apply")
		}
	case "":
		add(SeverityError, "files.type", "missing object store type")
	default:
		add(SeverityError, "files.type", "unknown type %q (want local, b2 or s3)", p.Files.Type)
	}

	if p.Notifier != nil {
		if p.Notifier.Host == "" || p.Notifier.From == "" || len(p.Notifier.To) == 0 {
			add(SeverityError, "notifier", "host, from and to are required when notifier is set")
		}
	} else {
		add(SeverityWarn, "notifier", "no notifier configured, skipped runs will only be logged")
	}

	if p.Scraper.Pages < 0 {
		add(SeverityError, "scraper.pages", "pages must not be negative")
	}

	return issues
}

// HasError reports whether any issue is fatal.
func HasError(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

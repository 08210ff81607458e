package config

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Env-var placeholders written into synthesized replica blocks. The
// litestream binary expands these at load time, so generated files never
// embed credentials.
const (
	placeholderBucket    = "$LITESTREAM_REPLICA_BUCKET"
	placeholderAccessKey = "$LITESTREAM_ACCESS_KEY_ID"
	placeholderSecretKey = "$LITESTREAM_SECRET_ACCESS_KEY"
)

// litestreamFile is the document shape of a generated litestream.yml.
// Field order here is the order keys appear in the output.
type litestreamFile struct {
	Addr            string            `yaml:"addr,omitempty"`
	Logging         map[string]string `yaml:"logging,omitempty"`
	AccessKeyID     string            `yaml:"access-key-id,omitempty"`
	SecretAccessKey string            `yaml:"secret-access-key,omitempty"`
	DBs             []litestreamDB    `yaml:"dbs"`
}

type litestreamDB struct {
	Path    string         `yaml:"path"`
	Replica map[string]any `yaml:"replica,omitempty"`
}

// LitestreamConfig renders the litestream.yml document for this
// configuration.
//
// Each configured database entry becomes one dbs stanza. Entries naming a
// configured alias resolve to that database's path. An entry without an
// explicit replica block gets a default S3 block with env-var
// placeholders, and top-level credential placeholders are added alongside
// it. Explicit replica blocks pass through verbatim.
//
// Returns an error if no database entry remains after resolution.
func (c *Config) LitestreamConfig() ([]byte, error) {
	entries := c.Litestream.DBs
	if len(entries) == 0 {
		entries = []DBEntry{{Path: c.Primary.Path}}
	}

	doc := litestreamFile{
		Addr:    c.Litestream.Addr,
		Logging: c.Litestream.Logging,
	}

	for _, entry := range entries {
		path := c.resolveDBPath(entry.Path)
		if path == "" {
			continue
		}
		db := litestreamDB{Path: path, Replica: entry.Replica}
		if db.Replica == nil {
			// Synthesized replicas need credentials; add the top-level
			// placeholders once so the binary can expand them.
			if doc.AccessKeyID == "" {
				doc.AccessKeyID = placeholderAccessKey
			}
			if doc.SecretAccessKey == "" {
				doc.SecretAccessKey = placeholderSecretKey
			}
			db.Replica = map[string]any{
				"type":   "s3",
				"bucket": placeholderBucket,
				"path":   c.backupPath(path),
			}
		}
		doc.DBs = append(doc.DBs, db)
	}

	if len(doc.DBs) == 0 {
		return nil, fmt.Errorf("config: no databases eligible for litestream replication")
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("marshal litestream config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("marshal litestream config: %w", err)
	}
	return buf.Bytes(), nil
}

// resolveDBPath maps a configured alias to its database path. Anything
// that isn't a known alias is treated as a literal path.
func (c *Config) resolveDBPath(pathOrAlias string) string {
	if pathOrAlias == c.Primary.Alias {
		return c.Primary.Path
	}
	return pathOrAlias
}

// backupPath is the object key a database is backed up under, honoring
// the configured path prefix.
func (c *Config) backupPath(dbPath string) string {
	name := filepath.Base(dbPath)
	prefix := strings.TrimRight(c.Litestream.PathPrefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

package store

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/klpod221/kerminal-sub000/internal/model"
)

// Merge upserts tunnel definitions and credential profiles into the store
// file at path, creating it if needed. Existing entries are matched by tunnel
// id and profile name; everything else is preserved as-is.
//
// The file is replaced atomically via rename, so a concurrent reader never
// sees a partial document and the watcher picks the change up as one event.
func Merge(path string, tunnels []model.TunnelConfig, creds []model.Credential) error {
	doc, err := readDocument(path)
	if err != nil {
		return err
	}

	for _, t := range tunnels {
		replaced := false
		for i := range doc.Tunnels {
			if doc.Tunnels[i].ID == t.ID {
				doc.Tunnels[i] = t
				replaced = true
				break
			}
		}
		if !replaced {
			doc.Tunnels = append(doc.Tunnels, t)
		}
	}

	for _, c := range creds {
		replaced := false
		for i := range doc.Credentials {
			if doc.Credentials[i].Profile == c.Profile {
				// Imports carry no secret; keep the one already configured.
				if c.Secret == "" {
					c.Secret = doc.Credentials[i].Secret
				}
				doc.Credentials[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			doc.Credentials = append(doc.Credentials, c)
		}
	}

	return writeDocument(path, doc)
}

func readDocument(path string) (document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return document{}, nil
		}
		return document{}, err
	}
	var doc document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return document{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

func writeDocument(path string, doc document) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	b, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

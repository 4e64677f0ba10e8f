// Package sshconf imports tunnel definitions from OpenSSH client
// configuration. LocalForward, RemoteForward and DynamicForward directives
// become tunnel definitions; the Host block they live in becomes a credential
// profile. Secrets are never read from ssh_config, so imported profiles need
// their secret filled in before the tunnels can start.
package sshconf

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klpod221/kerminal-sub000/internal/model"
)

// ImportResult carries the definitions extracted from an OpenSSH config tree.
type ImportResult struct {
	Tunnels     []model.TunnelConfig
	Credentials []model.Credential
	Warnings    []string
}

type rawBlock struct {
	patterns []string
	values   map[string][]string
	source   string
}

// ImportDefault imports from ~/.ssh/config.
func ImportDefault() (ImportResult, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return ImportResult{}, fmt.Errorf("resolve home dir: %w", err)
	}
	return ImportFile(filepath.Join(home, ".ssh", "config"))
}

// ImportFile imports from a single root config, expanding Include directives.
func ImportFile(path string) (ImportResult, error) {
	seen := map[string]bool{}
	blocks, warnings, err := parseRecursive(path, seen, 0)
	if err != nil {
		return ImportResult{}, err
	}
	res := compile(blocks)
	res.Warnings = append(warnings, res.Warnings...)
	return res, nil
}

func parseRecursive(path string, seen map[string]bool, depth int) ([]rawBlock, []string, error) {
	if depth > 16 {
		return nil, nil, fmt.Errorf("include depth exceeded at %s", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, nil, err
	}
	if seen[abs] {
		return nil, []string{fmt.Sprintf("include cycle skipped: %s", abs)}, nil
	}
	seen[abs] = true

	f, err := os.Open(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, []string{fmt.Sprintf("config file not found: %s", abs)}, nil
		}
		return nil, nil, fmt.Errorf("open %s: %w", abs, err)
	}
	defer f.Close()

	var (
		blocks      []rawBlock
		warnings    []string
		current     = rawBlock{patterns: []string{"*"}, values: map[string][]string{}, source: abs}
		hasHostDecl bool
	)

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = stripInlineComment(line)
		if line == "" {
			continue
		}

		key, value, ok := splitDirective(line)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("%s:%d invalid directive", abs, lineNo))
			continue
		}
		lowerKey := strings.ToLower(key)

		switch lowerKey {
		case "include":
			for _, pattern := range strings.Fields(value) {
				incPattern := expandHome(pattern)
				if !filepath.IsAbs(incPattern) {
					incPattern = filepath.Join(filepath.Dir(abs), incPattern)
				}
				matches, globErr := filepath.Glob(incPattern)
				if globErr != nil {
					warnings = append(warnings, fmt.Sprintf("%s:%d bad include pattern %q", abs, lineNo, pattern))
					continue
				}
				if len(matches) == 0 {
					warnings = append(warnings, fmt.Sprintf("%s:%d include matched nothing: %q", abs, lineNo, pattern))
				}
				sort.Strings(matches)
				for _, m := range matches {
					childBlocks, childWarnings, childErr := parseRecursive(m, seen, depth+1)
					warnings = append(warnings, childWarnings...)
					if childErr != nil {
						warnings = append(warnings, fmt.Sprintf("include %s failed: %v", m, childErr))
						continue
					}
					blocks = append(blocks, childBlocks...)
				}
			}
		case "host":
			if hasHostDecl || len(current.values) > 0 {
				blocks = append(blocks, current)
			}
			patterns := strings.Fields(value)
			if len(patterns) == 0 {
				warnings = append(warnings, fmt.Sprintf("%s:%d Host missing patterns", abs, lineNo))
				patterns = []string{"*"}
			}
			current = rawBlock{patterns: patterns, values: map[string][]string{}, source: abs}
			hasHostDecl = true
		default:
			current.values[lowerKey] = append(current.values[lowerKey], value)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, warnings, fmt.Errorf("scan %s: %w", abs, err)
	}

	if hasHostDecl || len(current.values) > 0 {
		blocks = append(blocks, current)
	}
	return blocks, warnings, nil
}

// compile resolves each concrete Host alias against all matching blocks and
// turns its forward directives into tunnel definitions. Aliases without any
// forward directive contribute nothing.
func compile(blocks []rawBlock) ImportResult {
	aliasSet := map[string]struct{}{}
	for _, b := range blocks {
		for _, p := range b.patterns {
			if isConcreteAlias(p) {
				aliasSet[p] = struct{}{}
			}
		}
	}

	aliases := make([]string, 0, len(aliasSet))
	for a := range aliasSet {
		aliases = append(aliases, a)
	}
	sort.Strings(aliases)

	var res ImportResult
	for _, alias := range aliases {
		cred := model.Credential{Profile: alias, Host: alias, Port: 22, AuthMethod: model.AuthPassword}
		var locals, remotes, dynamics []string
		for _, b := range blocks {
			if !matchesAny(alias, b.patterns) {
				continue
			}
			if vals := b.values["hostname"]; len(vals) > 0 {
				cred.Host = vals[len(vals)-1]
			}
			if vals := b.values["user"]; len(vals) > 0 {
				cred.Username = vals[len(vals)-1]
			}
			if vals := b.values["port"]; len(vals) > 0 {
				if p, err := strconv.Atoi(vals[len(vals)-1]); err == nil {
					cred.Port = p
				}
			}
			// Key-based hosts import as key profiles; the doctor flags them
			// since tunneling only drives password profiles.
			if vals := b.values["identityfile"]; len(vals) > 0 {
				cred.AuthMethod = model.AuthKey
			}
			locals = append(locals, b.values["localforward"]...)
			remotes = append(remotes, b.values["remoteforward"]...)
			dynamics = append(dynamics, b.values["dynamicforward"]...)
		}

		var tunnels []model.TunnelConfig
		for _, v := range locals {
			t, ok := parseLocalForward(alias, v)
			if !ok {
				res.Warnings = append(res.Warnings, fmt.Sprintf("host %s: unparsable LocalForward %q", alias, v))
				continue
			}
			tunnels = append(tunnels, t)
		}
		for _, v := range remotes {
			t, ok := parseRemoteForward(alias, v)
			if !ok {
				res.Warnings = append(res.Warnings, fmt.Sprintf("host %s: unparsable RemoteForward %q", alias, v))
				continue
			}
			tunnels = append(tunnels, t)
		}
		for _, v := range dynamics {
			t, ok := parseDynamicForward(alias, v)
			if !ok {
				res.Warnings = append(res.Warnings, fmt.Sprintf("host %s: unparsable DynamicForward %q", alias, v))
				continue
			}
			tunnels = append(tunnels, t)
		}
		if len(tunnels) == 0 {
			continue
		}
		res.Tunnels = append(res.Tunnels, tunnels...)
		res.Credentials = append(res.Credentials, cred)
		res.Warnings = append(res.Warnings, fmt.Sprintf("profile %s imported without a secret; set one before starting its tunnels", alias))
	}
	return res
}

// parseLocalForward handles "[bind:]port host:hostport".
func parseLocalForward(alias, v string) (model.TunnelConfig, bool) {
	parts := strings.Fields(v)
	if len(parts) != 2 {
		return model.TunnelConfig{}, false
	}
	bindHost, bindPort, ok := parseEndpoint(parts[0], "")
	if !ok {
		return model.TunnelConfig{}, false
	}
	destHost, destPort, ok := parseEndpoint(parts[1], "localhost")
	if !ok || destHost == "" || destPort == 0 {
		return model.TunnelConfig{}, false
	}
	id := fmt.Sprintf("%s-local-%d", alias, bindPort)
	return model.TunnelConfig{
		ID: id, Name: id, Profile: alias, Type: model.TunnelLocal,
		LocalHost: bindHost, LocalPort: bindPort,
		RemoteHost: destHost, RemotePort: destPort,
	}, true
}

// parseRemoteForward handles "[bind:]port host:hostport". The first endpoint
// is the listener requested on the server; the second is the local target.
func parseRemoteForward(alias, v string) (model.TunnelConfig, bool) {
	parts := strings.Fields(v)
	if len(parts) != 2 {
		return model.TunnelConfig{}, false
	}
	bindHost, bindPort, ok := parseEndpoint(parts[0], "localhost")
	if !ok {
		return model.TunnelConfig{}, false
	}
	targetHost, targetPort, ok := parseEndpoint(parts[1], "")
	if !ok || targetPort == 0 {
		return model.TunnelConfig{}, false
	}
	id := fmt.Sprintf("%s-remote-%d", alias, bindPort)
	return model.TunnelConfig{
		ID: id, Name: id, Profile: alias, Type: model.TunnelRemote,
		LocalHost: targetHost, LocalPort: targetPort,
		RemoteHost: bindHost, RemotePort: bindPort,
	}, true
}

// parseDynamicForward handles "[bind:]port".
func parseDynamicForward(alias, v string) (model.TunnelConfig, bool) {
	parts := strings.Fields(v)
	if len(parts) != 1 {
		return model.TunnelConfig{}, false
	}
	bindHost, bindPort, ok := parseEndpoint(parts[0], "")
	if !ok || bindPort == 0 {
		return model.TunnelConfig{}, false
	}
	id := fmt.Sprintf("%s-dynamic-%d", alias, bindPort)
	return model.TunnelConfig{
		ID: id, Name: id, Profile: alias, Type: model.TunnelDynamic,
		LocalHost: bindHost, LocalPort: bindPort,
	}, true
}

// parseEndpoint splits "addr:port" or a bare "port". fallback fills in the
// address when none is given; an empty fallback leaves the address empty for
// the model's own defaulting.
func parseEndpoint(s, fallback string) (string, int, bool) {
	if !strings.Contains(s, ":") {
		p, err := strconv.Atoi(s)
		if err != nil {
			return "", 0, false
		}
		return fallback, p, true
	}
	idx := strings.LastIndex(s, ":")
	addr := strings.Trim(s[:idx], "[]")
	p, err := strconv.Atoi(s[idx+1:])
	if err != nil {
		return "", 0, false
	}
	if addr == "" {
		addr = fallback
	}
	return addr, p, true
}

func matchesAny(alias string, patterns []string) bool {
	matched := false
	for _, p := range patterns {
		negated := strings.HasPrefix(p, "!")
		pat := strings.TrimPrefix(p, "!")
		if !globMatch(alias, pat) {
			continue
		}
		if negated {
			return false
		}
		matched = true
	}
	return matched
}

func globMatch(alias, pattern string) bool {
	if pattern == "" {
		return false
	}
	ok, err := filepath.Match(pattern, alias)
	if err != nil {
		return false
	}
	return ok
}

func isConcreteAlias(pattern string) bool {
	if strings.HasPrefix(pattern, "!") {
		return false
	}
	if strings.ContainsAny(pattern, "*?") {
		return false
	}
	return pattern != ""
}

func splitDirective(line string) (key, value string, ok bool) {
	if i := strings.IndexAny(line, " \t"); i > 0 {
		key = strings.TrimSpace(line[:i])
		value = strings.TrimSpace(line[i+1:])
		return key, value, key != "" && value != ""
	}
	if i := strings.Index(line, "="); i > 0 {
		key = strings.TrimSpace(line[:i])
		value = strings.TrimSpace(line[i+1:])
		return key, value, key != "" && value != ""
	}
	return "", "", false
}

func stripInlineComment(line string) string {
	inQuote := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			inQuote = !inQuote
		case '#':
			if !inQuote {
				return strings.TrimSpace(line[:i])
			}
		}
	}
	return strings.TrimSpace(line)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

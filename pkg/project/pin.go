package project

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/tidwall/gjson"

	"github.com/stacklok/volta/pkg/errors"
	"github.com/stacklok/volta/pkg/fileutils"
	"github.com/stacklok/volta/pkg/logger"
	"github.com/stacklok/volta/pkg/tool"
)

// manifestKeyFor maps a pinnable tool to its volta key.
func manifestKeyFor(t tool.Tool) (string, error) {
	switch t.Kind {
	case tool.KindNode:
		return "node", nil
	case tool.KindNpm:
		return "npm", nil
	case tool.KindPnpm:
		return "pnpm", nil
	case tool.KindYarn:
		return "yarn", nil
	default:
		return "", errors.NewInputError(fmt.Sprintf("%s cannot be pinned in a project", t), nil)
	}
}

// Pin records the tool version in the project manifest's volta key. Every
// byte outside the volta subtree is preserved exactly, and the write is
// atomic. A nil version removes the pin. Callers hold the exclusive lock.
func (p *Project) Pin(t tool.Tool, v *semver.Version) error {
	key, err := manifestKeyFor(t)
	if err != nil {
		return err
	}

	if t.Kind != tool.KindNode && v != nil {
		current, err := parseManifest(p.ManifestPath)
		if err != nil {
			return err
		}
		// The node pin may live in this manifest or anywhere up the
		// extends chain (captured in the project platform at load time).
		localNode := current.platform != nil && current.platform.Node != nil
		chainNode := p.Platform != nil && p.Platform.Node != nil
		if !localNode && !chainNode {
			return errors.NewNotConfiguredError(
				fmt.Sprintf("cannot pin %s in a project that does not pin node; run `volta pin node` first", key), nil)
		}
	}

	data, err := readManifestBytes(p.ManifestPath)
	if err != nil {
		return err
	}

	updated, err := spliceVoltaKey(data, key, v)
	if err != nil {
		return err
	}

	if err := fileutils.WriteFileAtomic(p.ManifestPath, updated, 0o644); err != nil {
		return errors.NewFileSystemError(fmt.Sprintf("could not write %s", p.ManifestPath), err)
	}
	logger.Debugf("pinned %s in %s", key, p.ManifestPath)
	return nil
}

func readManifestBytes(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewFileSystemError(fmt.Sprintf("could not read %s", path), err)
	}
	if !gjson.ValidBytes(data) {
		return nil, errors.NewInputError(fmt.Sprintf("%s is not valid JSON", path), nil)
	}
	return data, nil
}

// indentPattern finds the indentation of the first indented line.
var indentPattern = regexp.MustCompile(`(?m)^([ \t]+)\S`)

// detectIndent returns the manifest's indentation unit, defaulting to two
// spaces.
func detectIndent(data []byte) string {
	if m := indentPattern.FindSubmatch(data); m != nil {
		return string(m[1])
	}
	return "  "
}

// spliceVoltaKey rewrites only the volta subtree of the manifest, updating
// (or removing, when v is nil) one pin while keeping the remaining pins in
// their original order.
func spliceVoltaKey(data []byte, key string, v *semver.Version) ([]byte, error) {
	indent := detectIndent(data)

	// Collect the existing pins in document order.
	type pair struct{ key, raw string }
	var pairs []pair
	volta := gjson.GetBytes(data, "volta")
	if volta.Exists() {
		if !volta.IsObject() {
			return nil, errors.NewInputError("the volta key must be an object", nil)
		}
		volta.ForEach(func(k, val gjson.Result) bool {
			pairs = append(pairs, pair{key: k.String(), raw: val.Raw})
			return true
		})
	}

	replaced := false
	for idx := range pairs {
		if pairs[idx].key != key {
			continue
		}
		replaced = true
		if v == nil {
			pairs = append(pairs[:idx], pairs[idx+1:]...)
		} else {
			pairs[idx].raw = fmt.Sprintf("%q", v.String())
		}
		break
	}
	if !replaced && v != nil {
		pairs = append(pairs, pair{key: key, raw: fmt.Sprintf("%q", v.String())})
	}

	// Render the new volta object at nesting depth one.
	var rendered string
	if len(pairs) == 0 {
		rendered = "{}"
	} else {
		var b strings.Builder
		b.WriteString("{\n")
		for idx, entry := range pairs {
			fmt.Fprintf(&b, "%s%s%q: %s", indent, indent, entry.key, entry.raw)
			if idx < len(pairs)-1 {
				b.WriteString(",")
			}
			b.WriteString("\n")
		}
		b.WriteString(indent + "}")
		rendered = b.String()
	}

	if volta.Exists() {
		start := volta.Index
		end := start + len(volta.Raw)
		out := make([]byte, 0, len(data)+len(rendered))
		out = append(out, data[:start]...)
		out = append(out, rendered...)
		out = append(out, data[end:]...)
		return out, nil
	}

	// No volta key yet: insert one as a new final top-level member, leaving
	// every existing byte in place.
	closing := bytes.LastIndexByte(data, '}')
	if closing < 0 {
		return nil, errors.NewInputError("manifest is not a JSON object", nil)
	}

	// Find the last non-whitespace byte before the closing brace to decide
	// whether a separating comma is needed.
	last := closing - 1
	for last >= 0 {
		switch data[last] {
		case ' ', '\t', '\n', '\r':
			last--
			continue
		}
		break
	}
	if last < 0 {
		return nil, errors.NewInputError("manifest is not a JSON object", nil)
	}

	var insertion strings.Builder
	if data[last] != '{' {
		insertion.WriteString(",")
	}
	fmt.Fprintf(&insertion, "\n%s%q: %s\n", indent, "volta", rendered)

	out := make([]byte, 0, len(data)+insertion.Len())
	out = append(out, data[:last+1]...)
	out = append(out, insertion.String()...)
	out = append(out, data[closing:]...)
	return out, nil
}
